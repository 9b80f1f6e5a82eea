package watcher

import (
	"context"
	"time"

	"ctawatch/internal/feed"
)

// Fetcher is the upstream feed boundary (implemented by feed.Client).
type Fetcher interface {
	Active(ctx context.Context, opt feed.Options) ([]feed.Alert, error)
}

// Config controls the poll/reconcile/distribute loop.
type Config struct {
	Enabled  bool
	Interval time.Duration

	// RedistributeChanged re-delivers alerts whose headline or short
	// description changed after first announcement, and refreshes the stored
	// row. Off = announce-once: changes are logged only.
	RedistributeChanged bool

	// RatePerSec bounds outbound sends during fan-out.
	RatePerSec int

	// Feed filter parameters, forwarded to every fetch.
	Feed feed.Options
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = 10 * time.Second
	}
	if c.RatePerSec <= 0 {
		c.RatePerSec = 10
	}
	return c
}
