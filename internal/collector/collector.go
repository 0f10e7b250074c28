// Package collector is a development-time event collector implementing
// the SDK wire contract: batch intake plus an analytics read endpoint.
// Production deployments run a real collector; this one exists so the
// SDK can be exercised end to end.
package collector

import (
	"log/slog"
	"net/http"
	"time"
)

// Version is reported in response metadata.
const Version = "1.0.0"

// Config is the collector's environment-driven configuration.
type Config struct {
	Addr         string `env:"ADDR" envDefault:":8080"`
	APIKey       string `env:"API_KEY" envDefault:"dev"`
	MaxBodyBytes int64  `env:"MAX_BODY_BYTES" envDefault:"1048576"`
	// PostgresDSN switches the sink from in-memory to Postgres.
	PostgresDSN string `env:"POSTGRES_DSN"`
}

// Server holds the collector's dependencies.
type Server struct {
	Cfg  Config
	Sink Sink
	Log  *slog.Logger
	Now  func() time.Time
}

// Router wires the endpoints with the middleware chain.
func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealthz)

	var intake http.Handler = http.HandlerFunc(s.handleBatch)
	intake = bodyLimit(s.Cfg.MaxBodyBytes)(intake)
	intake = requireJSON(intake)
	intake = s.apiKeyAuth(intake)
	mux.Handle("POST /api/{apiKey}/events/batch", intake)

	var analytics http.Handler = http.HandlerFunc(s.handleAnalytics)
	analytics = s.apiKeyAuth(analytics)
	mux.Handle("GET /api/{apiKey}/analytics", analytics)

	return mux
}
