package config

// Config is the on-disk configuration (JSON or YAML). Durations are Go
// duration strings ("500ms", "10s", "1m").
type Config struct {
	Telegram TelegramConfig `json:"telegram"`
	Logging  LoggingConfig  `json:"logging"`
	Dispatch DispatchConfig `json:"dispatch"`
	Storage  StorageConfig  `json:"storage"`
	HTTP     HTTPConfig     `json:"http"`
	Report   ReportConfig   `json:"report"`
}

type TelegramConfig struct {
	// Token falls back to $BOT_TOKEN when empty.
	Token string `json:"token"`
	// OperatorChatID falls back to $ADMIN_CHAT_ID when zero.
	OperatorChatID int64  `json:"operator_chat_id"`
	APIURL         string `json:"api_url,omitempty"`
	// PollCommands enables long polling for /start, /help and /test_order.
	PollCommands bool   `json:"poll_commands"`
	PollTimeout  string `json:"poll_timeout,omitempty"`
	// MediaRoot resolves relative image paths.
	MediaRoot string `json:"media_root,omitempty"`
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

// DispatchConfig controls the notification queue and retry policy.
//
// Defaults (when omitted/zero):
//   - queue_size: 256
//   - overflow: "reject_new" ("drop_oldest" evicts the oldest waiting job)
//   - rate_per_sec: 0 (unlimited), burst: 1
//   - max_attempts: 4 (clamped to 1..10)
//   - retry_base: "500ms", retry_max_delay: "10s"
//   - send_timeout: "10s", drain_timeout: "5s"
//   - dedup_window: "0s" (disabled)
type DispatchConfig struct {
	QueueSize       int     `json:"queue_size,omitempty"`
	Overflow        string  `json:"overflow,omitempty"`
	RatePerSec      float64 `json:"rate_per_sec,omitempty"`
	Burst           int     `json:"burst,omitempty"`
	MaxAttempts     int     `json:"max_attempts,omitempty"`
	RetryBase       string  `json:"retry_base,omitempty"`
	RetryMaxDelay   string  `json:"retry_max_delay,omitempty"`
	SendTimeout     string  `json:"send_timeout,omitempty"`
	DrainTimeout    string  `json:"drain_timeout,omitempty"`
	DedupWindow     string  `json:"dedup_window,omitempty"`
	DedupMaxEntries int     `json:"dedup_max_entries,omitempty"`
	PersistDedup    bool    `json:"persist_dedup,omitempty"`
}

// StorageConfig controls the delivery journal and persisted dedup.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./data/orderbot.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

// HTTPConfig controls the ops/intake server.
//
// Prefer a loopback address. A non-loopback address requires a token unless
// allow_insecure is set. The token falls back to $ORDERBOT_HTTP_TOKEN.
type HTTPConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`
	Token         string `json:"token,omitempty"`
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
	Pprof         bool   `json:"pprof,omitempty"`

	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`
}

// ReportConfig schedules the periodic dispatcher digest (cron syntax).
type ReportConfig struct {
	Enabled  bool   `json:"enabled"`
	Schedule string `json:"schedule,omitempty"`
	Timezone string `json:"timezone,omitempty"`
	// SendToChat also posts the digest to the operator chat.
	SendToChat bool `json:"send_to_chat,omitempty"`
}
