package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config captures environment driven configuration values for the
// consultation messaging service.
type Config struct {
	HTTPPort       int
	SQLiteDSN      string
	RedisAddr      string
	SweepInterval  time.Duration
	StorageTimeout time.Duration
}

// Load parses configuration values from the current process environment.
//
// Every variable is optional: the loader applies defaults and reports
// all invalid values in one error instead of failing on the first.
// Leaving CONSULT_REDIS_ADDR empty runs the service without the
// cross-instance realtime bridge.
func Load() (Config, error) {
	cfg := Config{
		HTTPPort:       8080,
		SQLiteDSN:      "file:consult.db?_foreign_keys=on",
		SweepInterval:  time.Minute,
		StorageTimeout: 5 * time.Second,
	}

	invalid := make([]string, 0, 2)

	if portValue := strings.TrimSpace(os.Getenv("CONSULT_HTTP_PORT")); portValue != "" {
		port, err := strconv.Atoi(portValue)
		if err != nil || port <= 0 {
			invalid = append(invalid, "CONSULT_HTTP_PORT")
		} else {
			cfg.HTTPPort = port
		}
	}

	if dsn := strings.TrimSpace(os.Getenv("CONSULT_SQLITE_DSN")); dsn != "" {
		cfg.SQLiteDSN = dsn
	}

	cfg.RedisAddr = strings.TrimSpace(os.Getenv("CONSULT_REDIS_ADDR"))

	if intervalValue := strings.TrimSpace(os.Getenv("CONSULT_SWEEP_INTERVAL")); intervalValue != "" {
		interval, err := time.ParseDuration(intervalValue)
		if err != nil || interval <= 0 {
			invalid = append(invalid, "CONSULT_SWEEP_INTERVAL")
		} else {
			cfg.SweepInterval = interval
		}
	}

	if timeoutValue := strings.TrimSpace(os.Getenv("CONSULT_STORAGE_TIMEOUT")); timeoutValue != "" {
		timeout, err := time.ParseDuration(timeoutValue)
		if err != nil || timeout <= 0 {
			invalid = append(invalid, "CONSULT_STORAGE_TIMEOUT")
		} else {
			cfg.StorageTimeout = timeout
		}
	}

	if len(invalid) > 0 {
		return Config{}, fmt.Errorf("invalid environment variable values: %s", strings.Join(invalid, ", "))
	}

	return cfg, nil
}
