package config

// Config is the on-disk configuration (JSON or YAML).
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
type Config struct {
	IRC        IRCConfig         `json:"irc"`
	HTTP       HTTPConfig        `json:"http"`
	Storage    StorageConfig     `json:"storage"`
	TaskEngine *TaskEngineConfig `json:"task_engine,omitempty"`
	Dispatch   DispatchConfig    `json:"dispatch"`
	Broadcast  BroadcastConfig   `json:"broadcast"`
	Cache      CacheConfig       `json:"cache"`
	Pprof      PprofConfig       `json:"pprof"`
	Logging    LoggingConfig     `json:"logging"`
}

// IRCConfig describes the chat connection.
//
// Token is a secret: never log it. It can also come from REPLYBOT_IRC_TOKEN.
type IRCConfig struct {
	Server   string   `json:"server"` // host:port
	Nick     string   `json:"nick"`
	Token    string   `json:"token"`
	Channels []string `json:"channels"`

	// DialTimeout bounds the TCP connect. Default "10s".
	DialTimeout string `json:"dial_timeout,omitempty"`

	// Outbound flood control. Defaults: 20 lines per 30s with burst 5.
	RatePerSec float64 `json:"rate_per_sec,omitempty"`
	Burst      int     `json:"burst,omitempty"`
}

// HTTPConfig controls the dashboard server (static files, listing API, push channel, metrics).
// An empty Addr disables the server.
type HTTPConfig struct {
	Addr      string `json:"addr"`
	StaticDir string `json:"static_dir,omitempty"` // overrides the embedded dashboard
}

// StorageConfig controls the rule store.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./data/rules.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite only
}

// TaskEngineConfig controls the storage worker pool.
//
// Defaults (when fields are omitted/zero):
//   - workers: 3
//   - queue_size: 256
//   - default_timeout: "0s" (disabled)
//   - max_queue_delay: "0s" (disabled)
//   - history_size: 200
type TaskEngineConfig struct {
	Workers        int    `json:"workers,omitempty"`
	QueueSize      int    `json:"queue_size,omitempty"`
	DefaultTimeout string `json:"default_timeout,omitempty"`
	MaxQueueDelay  string `json:"max_queue_delay,omitempty"`
	HistorySize    int    `json:"history_size,omitempty"`
}

// DispatchConfig controls the admin command dispatcher.
type DispatchConfig struct {
	// Workers defaults to task_engine.workers.
	Workers   int    `json:"workers,omitempty"`
	QueueSize int    `json:"queue_size,omitempty"`
	Prefix    string `json:"prefix,omitempty"` // default "#"
	// AutoReply enables answering rule triggers in chat. Default true.
	AutoReply *bool `json:"auto_reply,omitempty"`
}

// BroadcastConfig controls the push fan-out to dashboard subscribers.
type BroadcastConfig struct {
	Buffer       int    `json:"buffer,omitempty"`        // per-subscriber mailbox, default 64
	WriteTimeout string `json:"write_timeout,omitempty"` // per-frame write deadline, default "10s"
}

// CacheConfig controls the rule cache.
type CacheConfig struct {
	// Resync is a cron spec for a periodic full refresh from storage, e.g. "@every 5m".
	// Empty disables it.
	Resync string `json:"resync,omitempty"`
}

// PprofConfig controls the optional profiling server. It refuses a
// non-loopback Addr unless Token is set or AllowInsecure is true.
type PprofConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`   // default "127.0.0.1:6060"
	Prefix        string `json:"prefix,omitempty"` // default "/debug/pprof/"
	Token         string `json:"token,omitempty"`
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}
