package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/rs/zerolog"

	"github.com/mkoering/snowfake"
)

type envConfig struct {
	Port     int    `env:"SNOWFAKED_PORT" envDefault:"8070"`
	DBPath   string `env:"SNOWFAKED_DB_PATH"`
	LogLevel string `env:"SNOWFAKED_LOG_LEVEL" envDefault:"info"`
}

func main() {
	var cfg envConfig
	if err := env.Parse(&cfg); err != nil {
		fatal(err)
	}
	flag.IntVar(&cfg.Port, "port", cfg.Port, "TCP port to serve on (0 picks an unused port)")
	flag.StringVar(&cfg.DBPath, "db", cfg.DBPath, "directory for database files (empty keeps data in memory)")
	flag.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level (trace|debug|info|warn|error)")
	flag.Parse()

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		fatal(fmt.Errorf("parse log level: %w", err))
	}
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly}).
		Level(level).With().Timestamp().Logger()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	srv, err := snowfake.StartServer(snowfake.ServerOptions{
		Port:   cfg.Port,
		DBPath: cfg.DBPath,
		Logger: logger,
	})
	if err != nil {
		fatal(err)
	}
	params := srv.ConnectionParams()
	logger.Info().Str("host", params.Host).Int("port", params.Port).Msg("snowfaked listening")

	<-ctx.Done()
	logger.Info().Msg("shutting down")
	if err := srv.Close(); err != nil {
		fatal(err)
	}
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "snowfaked: %v\n", err)
	os.Exit(1)
}
