package config

import "time"

// TelemetryParam is the session parameter that disables out-of-band
// client telemetry; every managed server sets it to false by default.
const TelemetryParam = "CLIENT_OUT_OF_BAND_TELEMETRY_ENABLED"

type Config struct {
	Host     string
	Port     int
	Protocol string

	User     string
	Password string
	Account  string

	// NetworkTimeout is deliberately short so clients fail fast instead of
	// mounting retry storms against a fake endpoint.
	NetworkTimeout time.Duration
	ReadyTimeout   time.Duration
	ShutdownGrace  time.Duration
}

func Default() Config {
	return Config{
		Host:           "localhost",
		Port:           8070,
		Protocol:       "http",
		User:           "fake",
		Password:       "snow",
		Account:        "snowfake",
		NetworkTimeout: 1 * time.Second,
		ReadyTimeout:   30 * time.Second,
		ShutdownGrace:  5 * time.Second,
	}
}
