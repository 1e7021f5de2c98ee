package dispatch

import (
	"sync"
	"sync/atomic"
	"time"

	"orderbot/internal/order"
)

type counters struct {
	admissions [Closed + 1]atomic.Uint64

	sent      atomic.Uint64
	failed    atomic.Uint64
	discarded atomic.Uint64
	dropped   atomic.Uint64
	attempts  atomic.Uint64
	retries   atomic.Uint64

	lastSentAt atomic.Int64

	errMu   sync.Mutex
	lastErr string
}

func (c *counters) setLastError(s string) {
	c.errMu.Lock()
	c.lastErr = s
	c.errMu.Unlock()
}

func (c *counters) lastError() string {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.lastErr
}

// InFlight describes the job the loop is working on.
type InFlight struct {
	JobID   string     `json:"job_id"`
	Kind    order.Kind `json:"kind"`
	OrderID int64      `json:"order_id"`
	State   State      `json:"state"`
	Attempt int        `json:"attempt"`
	Since   time.Time  `json:"since"`
}

func (f *InFlight) clone() *InFlight {
	cp := *f
	return &cp
}

// Stats is a point-in-time view of the dispatcher for ops endpoints and the
// periodic digest.
type Stats struct {
	Running    bool              `json:"running"`
	Accepting  bool              `json:"accepting"`
	QueueLen   int               `json:"queue_len"`
	QueueCap   int               `json:"queue_cap"`
	Overflow   Overflow          `json:"overflow"`
	Admissions map[string]uint64 `json:"admissions"`

	Sent      uint64 `json:"sent"`
	Failed    uint64 `json:"failed"`
	Discarded uint64 `json:"discarded"`
	Dropped   uint64 `json:"dropped"`
	Attempts  uint64 `json:"attempts"`
	Retries   uint64 `json:"retries"`

	DedupEntries int       `json:"dedup_entries"`
	InFlight     *InFlight `json:"in_flight,omitempty"`
	LastError    string    `json:"last_error,omitempty"`
	LastSentAt   time.Time `json:"last_sent_at,omitzero"`
}

func (d *Dispatcher) Stats() Stats {
	d.mu.Lock()
	st := Stats{
		Running:   d.started && !d.stopped,
		Accepting: d.accepting,
		QueueLen:  len(d.queue),
		QueueCap:  cap(d.queue),
		Overflow:  d.cfg.Overflow,
	}
	d.mu.Unlock()

	st.Admissions = make(map[string]uint64, len(d.cnt.admissions))
	for a := range d.cnt.admissions {
		st.Admissions[Admission(a).String()] = d.cnt.admissions[a].Load()
	}
	st.Sent = d.cnt.sent.Load()
	st.Failed = d.cnt.failed.Load()
	st.Discarded = d.cnt.discarded.Load()
	st.Dropped = d.cnt.dropped.Load()
	st.Attempts = d.cnt.attempts.Load()
	st.Retries = d.cnt.retries.Load()
	st.DedupEntries = d.dedup.len()
	st.InFlight = d.cur.Load()
	st.LastError = d.cnt.lastError()
	if ns := d.cnt.lastSentAt.Load(); ns > 0 {
		st.LastSentAt = time.Unix(0, ns)
	}
	return st
}
