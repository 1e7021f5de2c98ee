package dispatch

import (
	"strings"
	"time"
)

// Overflow selects what Submit does when the buffer is full.
type Overflow string

const (
	OverflowRejectNew  Overflow = "reject_new"
	OverflowDropOldest Overflow = "drop_oldest"
)

// ParseOverflow accepts the config spelling; unknown values yield reject_new.
func ParseOverflow(s string) (Overflow, bool) {
	switch Overflow(strings.ToLower(strings.TrimSpace(s))) {
	case OverflowDropOldest:
		return OverflowDropOldest, true
	case OverflowRejectNew, "":
		return OverflowRejectNew, true
	default:
		return OverflowRejectNew, false
	}
}

const (
	defaultQueueSize       = 256
	defaultMaxAttempts     = 4
	maxMaxAttempts         = 10
	defaultRetryBase       = 500 * time.Millisecond
	defaultRetryMaxDelay   = 10 * time.Second
	defaultSendTimeout     = 10 * time.Second
	defaultDrainTimeout    = 5 * time.Second
	defaultDedupMaxEntries = 2000
)

type Config struct {
	// ChatID is the operator chat every job is delivered to.
	ChatID int64

	QueueSize int
	Overflow  Overflow

	// RatePerSec caps sends per second; 0 disables limiting.
	RatePerSec float64
	Burst      int

	MaxAttempts   int
	RetryBase     time.Duration
	RetryMaxDelay time.Duration
	SendTimeout   time.Duration
	DrainTimeout  time.Duration

	// DedupWindow suppresses repeats of the same business event; 0 disables.
	DedupWindow     time.Duration
	DedupMaxEntries int
	PersistDedup    bool
}

func (c Config) withDefaults() Config {
	if c.QueueSize <= 0 {
		c.QueueSize = defaultQueueSize
	}
	if c.Overflow != OverflowDropOldest {
		c.Overflow = OverflowRejectNew
	}
	if c.RatePerSec < 0 {
		c.RatePerSec = 0
	}
	if c.Burst <= 0 {
		c.Burst = 1
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = defaultMaxAttempts
	}
	c.MaxAttempts = min(c.MaxAttempts, maxMaxAttempts)
	if c.RetryBase <= 0 {
		c.RetryBase = defaultRetryBase
	}
	if c.RetryMaxDelay <= 0 {
		c.RetryMaxDelay = defaultRetryMaxDelay
	}
	if c.RetryMaxDelay < c.RetryBase {
		c.RetryMaxDelay = c.RetryBase
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = defaultSendTimeout
	}
	if c.DrainTimeout <= 0 {
		c.DrainTimeout = defaultDrainTimeout
	}
	if c.DedupWindow < 0 {
		c.DedupWindow = 0
	}
	if c.DedupMaxEntries <= 0 {
		c.DedupMaxEntries = defaultDedupMaxEntries
	}
	return c
}
