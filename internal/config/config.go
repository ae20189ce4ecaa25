package config

import "time"

// KeeperConfig is the root configuration for a wskeeper instance.
type KeeperConfig struct {
	Instance   InstanceConfig   `yaml:"instance"`
	Connection ConnectionConfig `yaml:"connection"`
	Archive    ArchiveConfig    `yaml:"archive"`
	Relay      RelayConfig      `yaml:"relay"`
	Health     HealthConfig     `yaml:"health"`
}

// InstanceConfig identifies this keeper.
type InstanceConfig struct {
	ID string `yaml:"id"`
}

// ConnectionConfig holds the managed channel and its transport settings.
type ConnectionConfig struct {
	Endpoint             string            `yaml:"endpoint"`
	HeartbeatInterval    time.Duration     `yaml:"heartbeat_interval"`
	PongDeadline         time.Duration     `yaml:"pong_deadline"`
	ReconnectBackoff     time.Duration     `yaml:"reconnect_backoff"`
	HeartbeatPayload     string            `yaml:"heartbeat_payload"`
	MaxReconnectAttempts int               `yaml:"max_reconnect_attempts"` // 0 = unlimited
	HandshakeTimeout     time.Duration     `yaml:"handshake_timeout"`
	WriteTimeout         time.Duration     `yaml:"write_timeout"`
	ReadLimit            int64             `yaml:"read_limit"`
	Binary               bool              `yaml:"binary"`
	Headers              map[string]string `yaml:"headers"` // Extra handshake headers
}

// ArchiveConfig holds the PostgreSQL journal archive settings.
type ArchiveConfig struct {
	Enabled       bool          `yaml:"enabled"`
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	BufferSize    int           `yaml:"buffer_size"`
	Database      DBConfig      `yaml:"database"`
}

// DBConfig holds a single database connection.
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}

// RelayConfig holds Redis pub/sub relay settings.
type RelayConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Addr       string `yaml:"addr"`
	Password   string `yaml:"password"`
	DB         int    `yaml:"db"`
	Channel    string `yaml:"channel"`
	MaxRetries int    `yaml:"max_retries"`
	BufferSize int    `yaml:"buffer_size"`
}

// HealthConfig holds the health endpoint settings.
type HealthConfig struct {
	Port int `yaml:"port"`
}
