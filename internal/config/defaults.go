package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultInstanceID        = "wskeeper"
	DefaultHeartbeatInterval = 15 * time.Second
	DefaultPongDeadline      = 10 * time.Second
	DefaultReconnectBackoff  = 2 * time.Second
	DefaultHeartbeatPayload  = "ping"
	DefaultHandshakeTimeout  = 10 * time.Second
	DefaultWriteTimeout      = 5 * time.Second
	DefaultDBPort            = 5432
	DefaultDBSSLMode         = "prefer"
	DefaultMaxConns          = 10
	DefaultMinConns          = 2
	DefaultBatchSize         = 500
	DefaultFlushInterval     = 1 * time.Second
	DefaultBufferSize        = 10000
	DefaultRelayAddr         = "localhost:6379"
	DefaultRelayChannel      = "wskeeper"
	DefaultRelayMaxRetries   = 3
	DefaultHealthPort        = 8080
)

// ApplyDefaults fills zero-valued optional fields.
func (c *KeeperConfig) ApplyDefaults() {
	if c.Instance.ID == "" {
		c.Instance.ID = DefaultInstanceID
	}

	// Connection defaults
	if c.Connection.HeartbeatInterval == 0 {
		c.Connection.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if c.Connection.PongDeadline == 0 {
		c.Connection.PongDeadline = DefaultPongDeadline
	}
	if c.Connection.ReconnectBackoff == 0 {
		c.Connection.ReconnectBackoff = DefaultReconnectBackoff
	}
	if c.Connection.HeartbeatPayload == "" {
		c.Connection.HeartbeatPayload = DefaultHeartbeatPayload
	}
	if c.Connection.HandshakeTimeout == 0 {
		c.Connection.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if c.Connection.WriteTimeout == 0 {
		c.Connection.WriteTimeout = DefaultWriteTimeout
	}

	// Archive defaults
	if c.Archive.BatchSize == 0 {
		c.Archive.BatchSize = DefaultBatchSize
	}
	if c.Archive.FlushInterval == 0 {
		c.Archive.FlushInterval = DefaultFlushInterval
	}
	if c.Archive.BufferSize == 0 {
		c.Archive.BufferSize = DefaultBufferSize
	}
	applyDBDefaults(&c.Archive.Database)

	// Relay defaults
	if c.Relay.Addr == "" {
		c.Relay.Addr = DefaultRelayAddr
	}
	if c.Relay.Channel == "" {
		c.Relay.Channel = DefaultRelayChannel
	}
	if c.Relay.MaxRetries == 0 {
		c.Relay.MaxRetries = DefaultRelayMaxRetries
	}
	if c.Relay.BufferSize == 0 {
		c.Relay.BufferSize = DefaultBufferSize
	}

	if c.Health.Port == 0 {
		c.Health.Port = DefaultHealthPort
	}
}

func applyDBDefaults(db *DBConfig) {
	if db.Port == 0 {
		db.Port = DefaultDBPort
	}
	if db.SSLMode == "" {
		db.SSLMode = DefaultDBSSLMode
	}
	if db.MaxConns == 0 {
		db.MaxConns = DefaultMaxConns
	}
	if db.MinConns == 0 {
		db.MinConns = DefaultMinConns
	}
}
