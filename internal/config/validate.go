package config

import (
	"fmt"
	"net"
	"strings"

	"github.com/robfig/cron/v3"
)

// Validate rejects configs the app cannot run with. It is used both at startup
// and before committing a hot reload.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}
	if strings.TrimSpace(cfg.IRC.Server) == "" {
		return fmt.Errorf("irc.server is required")
	}
	if _, err := ParseDurationField("irc.dial_timeout", cfg.IRC.DialTimeout); err != nil {
		return err
	}
	if cfg.IRC.RatePerSec < 0 {
		return fmt.Errorf("irc.rate_per_sec must be >= 0")
	}
	if cfg.IRC.Burst < 0 {
		return fmt.Errorf("irc.burst must be >= 0")
	}
	for _, ch := range cfg.IRC.Channels {
		if strings.TrimSpace(strings.TrimPrefix(ch, "#")) == "" {
			return fmt.Errorf("irc.channels: empty channel name")
		}
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)) {
	case "", "memory":
	case "sqlite", "sqlite3", "pebble":
		if strings.TrimSpace(cfg.Storage.Path) == "" {
			return fmt.Errorf("storage.path is required for driver %q", cfg.Storage.Driver)
		}
	default:
		return fmt.Errorf("storage.driver: unknown driver %q", cfg.Storage.Driver)
	}
	if _, err := ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout); err != nil {
		return err
	}

	if te := cfg.TaskEngine; te != nil {
		if te.Workers < 0 {
			return fmt.Errorf("task_engine.workers must be >= 0")
		}
		if te.QueueSize < 0 {
			return fmt.Errorf("task_engine.queue_size must be >= 0")
		}
		if te.HistorySize < 0 {
			return fmt.Errorf("task_engine.history_size must be >= 0")
		}
		if _, err := ParseDurationField("task_engine.default_timeout", te.DefaultTimeout); err != nil {
			return err
		}
		if _, err := ParseDurationField("task_engine.max_queue_delay", te.MaxQueueDelay); err != nil {
			return err
		}
	}

	if cfg.Dispatch.Workers < 0 {
		return fmt.Errorf("dispatch.workers must be >= 0")
	}
	if cfg.Dispatch.QueueSize < 0 {
		return fmt.Errorf("dispatch.queue_size must be >= 0")
	}
	if p := cfg.Dispatch.Prefix; p != "" && strings.TrimSpace(p) != p {
		return fmt.Errorf("dispatch.prefix must not contain whitespace")
	}

	if cfg.Broadcast.Buffer < 0 {
		return fmt.Errorf("broadcast.buffer must be >= 0")
	}
	if _, err := ParseDurationField("broadcast.write_timeout", cfg.Broadcast.WriteTimeout); err != nil {
		return err
	}

	if spec := strings.TrimSpace(cfg.Cache.Resync); spec != "" {
		if _, err := cron.ParseStandard(spec); err != nil {
			return fmt.Errorf("cache.resync: invalid spec %q: %w", spec, err)
		}
	}
	if p := cfg.Pprof; p.Enabled && p.Addr != "" {
		if _, _, err := net.SplitHostPort(p.Addr); err != nil {
			return fmt.Errorf("pprof.addr: %w", err)
		}
	}
	return nil
}
