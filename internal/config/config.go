// Package config reads process configuration from the environment,
// matching control_plane/main.go's os.Getenv/fmt.Sscanf style — no viper,
// no struct tags, no config file, §1.3.
package config

import (
	"fmt"
	"os"
	"time"
)

// Config is the complete set of environment-derived knobs for cmd/taskctl.
type Config struct {
	DatabaseURL string
	RedisAddr   string
	HTTPAddr    string

	DispatchTick          time.Duration
	DispatchErrorBackoff  time.Duration
	DefaultTimeoutSeconds int
	DefaultMaxRetries     int
	StaleGuardMin         time.Duration

	SlackToken   string
	SlackChannel string

	JWTSecret string

	CORSAllowedOrigins []string
}

// Load populates a Config from the environment, applying the §6.6 defaults
// for anything unset.
func Load() Config {
	cfg := Config{
		DatabaseURL:           getenv("DATABASE_URL", "postgres://localhost:5432/taskctl"),
		RedisAddr:             os.Getenv("REDIS_ADDR"),
		HTTPAddr:              getenv("HTTP_ADDR", ":8080"),
		DispatchTick:          time.Second,
		DispatchErrorBackoff:  5 * time.Second,
		DefaultTimeoutSeconds: 300,
		DefaultMaxRetries:     3,
		StaleGuardMin:         time.Hour,
		SlackToken:            os.Getenv("SLACK_TOKEN"),
		SlackChannel:          getenv("SLACK_CHANNEL", "#ops"),
		JWTSecret:             os.Getenv("JWT_SECRET"),
	}

	if v := os.Getenv("DISPATCH_TICK_SECONDS"); v != "" {
		var n int
		fmt.Sscanf(v, "%d", &n)
		if n > 0 {
			cfg.DispatchTick = time.Duration(n) * time.Second
		}
	}
	if v := os.Getenv("DEFAULT_TIMEOUT_SECONDS"); v != "" {
		var n int
		fmt.Sscanf(v, "%d", &n)
		if n > 0 {
			cfg.DefaultTimeoutSeconds = n
		}
	}
	if v := os.Getenv("DEFAULT_MAX_RETRIES"); v != "" {
		var n int
		fmt.Sscanf(v, "%d", &n)
		if n >= 0 {
			cfg.DefaultMaxRetries = n
		}
	}
	if v := os.Getenv("STALE_GUARD_MIN_MINUTES"); v != "" {
		var n int
		fmt.Sscanf(v, "%d", &n)
		if n > 0 {
			cfg.StaleGuardMin = time.Duration(n) * time.Minute
		}
	}
	if v := os.Getenv("CORS_ALLOWED_ORIGINS"); v != "" {
		cfg.CORSAllowedOrigins = splitComma(v)
	} else {
		cfg.CORSAllowedOrigins = []string{"*"}
	}

	return cfg
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func splitComma(s string) []string {
	var out []string
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ',' {
			if i > start {
				out = append(out, s[start:i])
			}
			start = i + 1
		}
	}
	return out
}
