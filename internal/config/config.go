// Package config loads runtime configuration in a defaults-then-file-
// then-env layering: scheduler settings, idle GC
// cadence, the diag HTTP/WebSocket server, the bridge's Redis address,
// and diag auth.
package config

import (
	"time"

	"github.com/spf13/viper"
)

// Config is the top-level configuration tree, unmarshalled from
// defaults, then an optional config file, then TASKQUEUE_*-style
// (here COPROCRT_*) environment overrides, in that precedence order.
type Config struct {
	Scheduler SchedulerConfig
	Diag      DiagConfig
	Bridge    BridgeConfig
	Auth      AuthConfig
	LogLevel  string
}

// SchedulerConfig holds the scheduler settings. All three fields are
// loaded, but cmd/api-server starts a single scheduler and reads only
// IdleGCPeriod: Threads is not read, and the non-blocking poll cadence
// is a constant inside internal/scheduler, so NonBlockingPollEvery is
// not read either.
type SchedulerConfig struct {
	Threads             int
	IdleGCPeriod         time.Duration
	NonBlockingPollEvery int
}

// DiagConfig configures internal/diag's HTTP+WebSocket introspection
// server.
type DiagConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	RateLimitRPS int
}

// BridgeConfig configures internal/bridge's Redis-backed cross-process
// relay.
type BridgeConfig struct {
	Enabled      bool
	Addr         string
	Password     string
	DB           int
	PoolSize     int
	StreamPrefix string
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// AuthConfig gates internal/diag/admin/* — the destructive (stop/cancel/
// interrupt-a-task-remotely) routes — behind a JWT or static API key.
type AuthConfig struct {
	Enabled   bool
	JWTSecret string
	APIKeys   []string
}

// Load reads config.yaml from the working directory, ./config, or
// /etc/coprocrt (first one found wins), applies COPROCRT_*-prefixed
// environment overrides on top, and unmarshals into a Config. A missing
// config file is not an error — defaults plus environment are enough to
// run.
func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AddConfigPath("/etc/coprocrt")

	setDefaults()

	viper.SetEnvPrefix("COPROCRT")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults() {
	viper.SetDefault("scheduler.threads", 1)
	viper.SetDefault("scheduler.idlegcperiod", 30*time.Second)
	viper.SetDefault("scheduler.nonblockingpollevery", 64)

	viper.SetDefault("diag.host", "0.0.0.0")
	viper.SetDefault("diag.port", 8181)
	viper.SetDefault("diag.readtimeout", 10*time.Second)
	viper.SetDefault("diag.writetimeout", 10*time.Second)
	viper.SetDefault("diag.idletimeout", 60*time.Second)
	viper.SetDefault("diag.ratelimitrps", 100)

	viper.SetDefault("bridge.enabled", false)
	viper.SetDefault("bridge.addr", "localhost:6379")
	viper.SetDefault("bridge.password", "")
	viper.SetDefault("bridge.db", 0)
	viper.SetDefault("bridge.poolsize", 20)
	viper.SetDefault("bridge.streamprefix", "coprocrt")
	viper.SetDefault("bridge.dialtimeout", 5*time.Second)
	viper.SetDefault("bridge.readtimeout", 3*time.Second)
	viper.SetDefault("bridge.writetimeout", 3*time.Second)

	viper.SetDefault("auth.enabled", false)
	viper.SetDefault("auth.jwtsecret", "")
	viper.SetDefault("auth.apikeys", []string{})

	viper.SetDefault("loglevel", "info")
}
