package config

import (
	"reflect"
	"sort"
	"strings"

	logx "replybot/pkg/logx"
)

// SummarizeConfigChange returns a compact list of changed sections and
// safe structured attrs for logging (never includes the IRC token).
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 8)
	attrs := make([]logx.Field, 0, 16)

	// IRC (never log token)
	if strings.TrimSpace(oldCfg.IRC.Server) != strings.TrimSpace(newCfg.IRC.Server) ||
		strings.TrimSpace(oldCfg.IRC.Nick) != strings.TrimSpace(newCfg.IRC.Nick) ||
		!reflect.DeepEqual(oldCfg.IRC.Channels, newCfg.IRC.Channels) ||
		oldCfg.IRC.RatePerSec != newCfg.IRC.RatePerSec ||
		oldCfg.IRC.Burst != newCfg.IRC.Burst ||
		(oldCfg.IRC.Token != "") != (newCfg.IRC.Token != "") {
		changed = append(changed, "irc")
		attrs = append(attrs,
			logx.String("irc.server", strings.TrimSpace(newCfg.IRC.Server)),
			logx.Int("irc.channel_count", len(newCfg.IRC.Channels)),
			logx.Bool("irc.token_set", newCfg.IRC.Token != ""),
		)
	}

	if oldCfg.HTTP != newCfg.HTTP {
		changed = append(changed, "http")
		attrs = append(attrs, logx.String("http.addr", newCfg.HTTP.Addr))
	}

	if strings.TrimSpace(oldCfg.Storage.Driver) != strings.TrimSpace(newCfg.Storage.Driver) ||
		strings.TrimSpace(oldCfg.Storage.Path) != strings.TrimSpace(newCfg.Storage.Path) ||
		strings.TrimSpace(oldCfg.Storage.BusyTimeout) != strings.TrimSpace(newCfg.Storage.BusyTimeout) {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", strings.TrimSpace(newCfg.Storage.Driver)),
			logx.Bool("storage.path_set", strings.TrimSpace(newCfg.Storage.Path) != ""),
		)
	}

	oTE := derefTaskEngine(oldCfg.TaskEngine)
	nTE := derefTaskEngine(newCfg.TaskEngine)
	if !reflect.DeepEqual(oTE, nTE) {
		changed = append(changed, "task_engine")
		attrs = append(attrs,
			logx.Int("task_engine.workers", nTE.Workers),
			logx.Int("task_engine.queue_size", nTE.QueueSize),
			logx.String("task_engine.default_timeout", strings.TrimSpace(nTE.DefaultTimeout)),
		)
	}

	if !reflect.DeepEqual(oldCfg.Dispatch, newCfg.Dispatch) {
		changed = append(changed, "dispatch")
		attrs = append(attrs,
			logx.Int("dispatch.workers", newCfg.Dispatch.Workers),
			logx.String("dispatch.prefix", newCfg.Dispatch.Prefix),
		)
	}

	if oldCfg.Broadcast != newCfg.Broadcast {
		changed = append(changed, "broadcast")
		attrs = append(attrs, logx.Int("broadcast.buffer", newCfg.Broadcast.Buffer))
	}

	if oldCfg.Cache != newCfg.Cache {
		changed = append(changed, "cache")
		attrs = append(attrs, logx.String("cache.resync", newCfg.Cache.Resync))
	}

	if oldCfg.Pprof != newCfg.Pprof {
		changed = append(changed, "pprof")
		attrs = append(attrs,
			logx.Bool("pprof.enabled", newCfg.Pprof.Enabled),
			logx.String("pprof.addr", newCfg.Pprof.Addr),
			logx.Bool("pprof.token_set", newCfg.Pprof.Token != ""),
		)
	}

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logx.level", newCfg.Logging.Level),
			logx.Bool("logx.console", newCfg.Logging.Console),
			logx.Bool("logx.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	sort.Strings(changed)
	return changed, attrs
}

func derefTaskEngine(c *TaskEngineConfig) TaskEngineConfig {
	if c == nil {
		return TaskEngineConfig{}
	}
	return *c
}
