package app

import (
	"strings"
	"time"

	"replybot/internal/broadcast"
	"replybot/internal/command"
	"replybot/internal/config"
	"replybot/internal/irc"
	"replybot/internal/observability/pprof"
	"replybot/internal/storage"
	"replybot/internal/task/engine"
	"replybot/internal/web"
	logx "replybot/pkg/logx"
)

// Mappers translate committed config sections into component options.

func mapLoggingConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	sc := cfg.Storage
	busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
	if err != nil {
		return storage.Config{}, err
	}
	return storage.Config{
		Driver:      strings.ToLower(strings.TrimSpace(sc.Driver)),
		Path:        strings.TrimSpace(sc.Path),
		BusyTimeout: busy,
	}, nil
}

func mapTaskEngineConfig(cfg *config.Config) (engine.Config, error) {
	te := cfg.TaskEngine
	if te == nil {
		return engine.Config{}, nil
	}
	defTimeout, err := config.ParseDurationField("task_engine.default_timeout", te.DefaultTimeout)
	if err != nil {
		return engine.Config{}, err
	}
	maxQueueDelay, err := config.ParseDurationField("task_engine.max_queue_delay", te.MaxQueueDelay)
	if err != nil {
		return engine.Config{}, err
	}
	return engine.Config{
		Workers:        te.Workers,
		QueueSize:      te.QueueSize,
		DefaultTimeout: defTimeout,
		MaxQueueDelay:  maxQueueDelay,
		HistorySize:    te.HistorySize,
	}, nil
}

func mapIRCConfig(cfg *config.Config) (irc.Config, error) {
	dial, err := config.ParseDurationOrDefault("irc.dial_timeout", cfg.IRC.DialTimeout, 10*time.Second)
	if err != nil {
		return irc.Config{}, err
	}
	pass := strings.TrimSpace(cfg.IRC.Token)
	if pass != "" && !strings.HasPrefix(pass, "oauth:") {
		pass = "oauth:" + pass
	}
	return irc.Config{
		Server:      strings.TrimSpace(cfg.IRC.Server),
		Nick:        strings.ToLower(strings.TrimSpace(cfg.IRC.Nick)),
		Pass:        pass,
		DialTimeout: dial,
		RatePerSec:  cfg.IRC.RatePerSec,
		Burst:       cfg.IRC.Burst,
	}, nil
}

// mapDispatchOptions defaults the worker count to the store worker count.
func mapDispatchOptions(cfg *config.Config, storeWorkers int) command.Options {
	workers := cfg.Dispatch.Workers
	if workers <= 0 {
		workers = storeWorkers
	}
	autoReply := true
	if cfg.Dispatch.AutoReply != nil {
		autoReply = *cfg.Dispatch.AutoReply
	}
	return command.Options{
		Prefix:    cfg.Dispatch.Prefix,
		AutoReply: autoReply,
		Workers:   workers,
		QueueSize: cfg.Dispatch.QueueSize,
	}
}

func mapBroadcastOptions(cfg *config.Config) (broadcast.Options, error) {
	wt, err := config.ParseDurationField("broadcast.write_timeout", cfg.Broadcast.WriteTimeout)
	if err != nil {
		return broadcast.Options{}, err
	}
	return broadcast.Options{Buffer: cfg.Broadcast.Buffer, WriteTimeout: wt}, nil
}

func mapWebOptions(cfg *config.Config, bo broadcast.Options) web.Options {
	return web.Options{
		Addr:         strings.TrimSpace(cfg.HTTP.Addr),
		StaticDir:    strings.TrimSpace(cfg.HTTP.StaticDir),
		WriteTimeout: bo.WriteTimeout,
	}
}

// channelNames strips the leading '#' and drops duplicates.
func channelNames(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, ch := range in {
		name := strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ch), "#"))
		if name == "" {
			continue
		}
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}
	return out
}

func mapPprofConfig(cfg *config.Config) pprof.Config {
	return pprof.Config{
		Addr:          strings.TrimSpace(cfg.Pprof.Addr),
		Prefix:        cfg.Pprof.Prefix,
		Token:         cfg.Pprof.Token,
		AllowInsecure: cfg.Pprof.AllowInsecure,
	}
}
