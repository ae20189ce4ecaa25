package main

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rickgao/wskeeper/internal/connection"
	"github.com/rickgao/wskeeper/internal/journal"
	"github.com/rickgao/wskeeper/internal/relay"
	"github.com/rickgao/wskeeper/internal/writer"
)

type statsSource interface {
	Stats() connection.Stats
}

// createHealthHandler creates the HTTP handler for health checks.
// pool, publisher and archive may be nil when their component is disabled.
func createHealthHandler(
	mgr statsSource,
	pool *pgxpool.Pool,
	publisher *relay.Publisher,
	archive *writer.JournalWriter,
	recorder *journal.Recorder,
) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		health := struct {
			Status     string                 `json:"status"`
			Components map[string]interface{} `json:"components"`
		}{
			Status:     "healthy",
			Components: make(map[string]interface{}),
		}

		stats := mgr.Stats()
		conn := map[string]interface{}{
			"state":             stats.State,
			"attempts":          stats.Attempts,
			"transport_id":      stats.TransportID,
			"opens":             stats.Opens,
			"reconnects":        stats.Reconnects,
			"pings_sent":        stats.PingsSent,
			"deadlines_expired": stats.DeadlinesExpired,
		}
		if !stats.LastMessageAt.IsZero() {
			conn["last_message_at"] = stats.LastMessageAt.UTC().Format(time.RFC3339Nano)
		}
		health.Components["connection"] = conn

		switch stats.State {
		case connection.StateOpen:
		case connection.StateConnecting, connection.StateReconnecting:
			health.Status = "degraded"
		default:
			health.Status = "unhealthy"
		}

		if pool != nil {
			if err := pool.Ping(ctx); err != nil {
				health.Status = "unhealthy"
				health.Components["archive"] = map[string]string{
					"status": "disconnected",
					"error":  err.Error(),
				}
			} else {
				health.Components["archive"] = map[string]interface{}{
					"status": "connected",
					"writer": archive.Stats(),
				}
			}
		}

		if publisher != nil {
			relayHealth := map[string]interface{}{"stats": publisher.Stats()}
			if err := publisher.Ping(); err != nil {
				if health.Status == "healthy" {
					health.Status = "degraded"
				}
				relayHealth["status"] = "disconnected"
				relayHealth["error"] = err.Error()
			} else {
				relayHealth["status"] = "connected"
			}
			health.Components["relay"] = relayHealth
		}

		health.Components["journal"] = recorder.Stats()

		w.Header().Set("Content-Type", "application/json")
		if health.Status == "unhealthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(health)
	})

	return mux
}
