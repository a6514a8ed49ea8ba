package snowfake

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/mkoering/snowfake/connector"
	"github.com/mkoering/snowfake/internal/app"
	"github.com/mkoering/snowfake/internal/config"
	"github.com/mkoering/snowfake/internal/engine"
	"github.com/mkoering/snowfake/internal/lifecycle"
)

// ErrStartupFailed reports a managed server that died or timed out before
// signaling readiness.
var ErrStartupFailed = lifecycle.ErrStartupFailed

type ServerOptions struct {
	// Port to serve on. Zero picks an unused loopback port.
	Port int
	// SessionParameters are merged over the default entry disabling
	// out-of-band telemetry; caller values win per key.
	SessionParameters map[string]any
	// ReadyTimeout bounds the wait for server readiness. Zero means 30s.
	ReadyTimeout time.Duration
	// DBPath keeps the server's database files on disk instead of in
	// memory.
	DBPath string
	Logger zerolog.Logger
}

// ConnectionParams are the parameters a client needs to reach a managed
// server. Valid only while the server is open.
type ConnectionParams struct {
	User              string
	Password          string
	Account           string
	Host              string
	Port              int
	Protocol          string
	SessionParameters map[string]any
	NetworkTimeout    time.Duration
}

// ClientConfig shapes the parameters into a connector configuration for
// the given database and schema.
func (p ConnectionParams) ClientConfig(database, schema string) connector.Config {
	return connector.Config{
		User:              p.User,
		Password:          p.Password,
		Account:           p.Account,
		Host:              p.Host,
		Port:              p.Port,
		Protocol:          p.Protocol,
		Database:          database,
		Schema:            schema,
		SessionParameters: p.SessionParameters,
		NetworkTimeout:    p.NetworkTimeout,
	}
}

// Server is one running fake server and the engine behind it.
type Server struct {
	handle *lifecycle.Handle
	engine *engine.Engine
	params ConnectionParams
}

// StartServer runs the fake server on a background goroutine and blocks
// until it accepts connections. On failure no server is returned and the
// background goroutine has already joined.
func StartServer(opts ServerOptions) (*Server, error) {
	defaults := config.Default()

	eng, err := engine.New(engine.Options{
		CreateDatabaseOnConnect: true,
		CreateSchemaOnConnect:   true,
		DBPath:                  opts.DBPath,
	})
	if err != nil {
		return nil, err
	}

	handle, err := lifecycle.Start(lifecycle.Options{
		Port:         opts.Port,
		Handler:      app.New(eng, opts.Logger),
		ReadyTimeout: opts.ReadyTimeout,
		Logger:       opts.Logger,
	})
	if err != nil {
		_ = eng.Close()
		return nil, err
	}

	params := map[string]any{config.TelemetryParam: false}
	for k, v := range opts.SessionParameters {
		params[k] = v
	}

	return &Server{
		handle: handle,
		engine: eng,
		params: ConnectionParams{
			User:              defaults.User,
			Password:          defaults.Password,
			Account:           defaults.Account,
			Host:              defaults.Host,
			Port:              handle.Port(),
			Protocol:          defaults.Protocol,
			SessionParameters: params,
			NetworkTimeout:    defaults.NetworkTimeout,
		},
	}, nil
}

func (s *Server) ConnectionParams() ConnectionParams { return s.params }

func (s *Server) Port() int { return s.handle.Port() }

// Close signals the server to stop, waits for its goroutine to join, and
// then releases the engine. Safe to call more than once.
func (s *Server) Close() error {
	err := s.handle.Stop()
	if cerr := s.engine.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}
