package config

import (
	"net/http"

	"github.com/rickgao/wskeeper/internal/connection"
)

// ManagerConfig converts the connection section into a manager config.
func (cc ConnectionConfig) ManagerConfig() connection.Config {
	cfg := connection.Config{
		Endpoint:             cc.Endpoint,
		HeartbeatInterval:    cc.HeartbeatInterval,
		PongDeadline:         cc.PongDeadline,
		ReconnectBackoff:     cc.ReconnectBackoff,
		MaxReconnectAttempts: cc.MaxReconnectAttempts,
	}
	if cc.HeartbeatPayload != "" {
		cfg.HeartbeatPayload = []byte(cc.HeartbeatPayload)
	}
	return cfg
}

// WebsocketConfig converts the transport settings of the connection section.
func (cc ConnectionConfig) WebsocketConfig() connection.WebsocketConfig {
	ws := connection.DefaultWebsocketConfig()
	if cc.HandshakeTimeout > 0 {
		ws.HandshakeTimeout = cc.HandshakeTimeout
	}
	if cc.WriteTimeout > 0 {
		ws.WriteTimeout = cc.WriteTimeout
	}
	ws.ReadLimit = cc.ReadLimit
	ws.Binary = cc.Binary
	if len(cc.Headers) > 0 {
		ws.Header = make(http.Header, len(cc.Headers))
		for k, v := range cc.Headers {
			ws.Header.Set(k, v)
		}
	}
	return ws
}
