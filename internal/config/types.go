package config

// Config is the root of ctawatch's config file (YAML or JSON).
//
// Duration knobs are strings ("10s", "1m30s") parsed with ParseDurationField
// so the file stays editable by hand.
type Config struct {
	Logging  LoggingConfig  `json:"logging"`
	Telegram TelegramConfig `json:"telegram"`
	Feed     FeedConfig     `json:"feed"`
	Watcher  WatcherConfig  `json:"watcher"`
	Storage  StorageConfig  `json:"storage"`
	Metrics  MetricsConfig  `json:"metrics"`
}

type LoggingConfig struct {
	Level   string            `json:"level"`
	Console bool              `json:"console"`
	File    LoggingFileConfig `json:"file"`
}

type LoggingFileConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type TelegramConfig struct {
	Token       string `json:"token"`
	SendTimeout string `json:"send_timeout"`
}

// FeedConfig configures the upstream customer-alerts fetch.
// RouteIDs and the three flags are operator-level filter parameters, passed
// straight through to the feed query.
type FeedConfig struct {
	BaseURL       string   `json:"base_url"`
	Timeout       string   `json:"timeout"`
	RouteIDs      []string `json:"route_ids"`
	ActiveOnly    bool     `json:"active_only"`
	Accessibility bool     `json:"accessibility"`
	Planned       bool     `json:"planned"`
}

type WatcherConfig struct {
	Enabled  bool   `json:"enabled"`
	Interval string `json:"interval"`
	// RedistributeChanged re-delivers alerts whose headline or short
	// description changed since they were first announced. Off by default:
	// the announce-once behavior of the original deployment.
	RedistributeChanged bool `json:"redistribute_changed"`
	RatePerSec          int  `json:"rate_per_sec"`
}

type StorageConfig struct {
	// Driver: "sqlite" or "memory" (empty means memory).
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout"`
}

type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Listen  string `json:"listen"`
}
