package dispatch

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"orderbot/internal/delivery"
	"orderbot/internal/eventbus"
	"orderbot/internal/format"
	"orderbot/internal/order"
	rtsup "orderbot/internal/runtime/supervisor"
	"orderbot/internal/storage"
	logx "orderbot/pkg/logx"
)

// Deliverer performs one send attempt and classifies the result.
type Deliverer interface {
	Send(ctx context.Context, chatID int64, p format.Payload) delivery.Outcome
}

type item struct {
	job        order.Job
	dedupKey   string
	enqueuedAt time.Time
}

// JobEvent is the payload of dispatcher bus events.
type JobEvent struct {
	JobID    string     `json:"job_id"`
	Kind     order.Kind `json:"kind"`
	OrderID  int64      `json:"order_id"`
	Attempts int        `json:"attempts,omitempty"`
	Reason   string     `json:"reason,omitempty"`
}

// Dispatcher is safe for concurrent use. Submit may be called from any
// goroutine, before Start and after Stop.
type Dispatcher struct {
	mu sync.Mutex

	cfg     Config
	limiter *rate.Limiter
	log     logx.Logger
	client  Deliverer
	bus     eventbus.Bus
	store   storage.Store
	metrics *Metrics

	accepting bool
	started   bool
	stopped   bool
	submitWG  sync.WaitGroup
	queue     chan item
	calls     chan call
	halt      chan struct{}
	persistCh chan dedupWrite
	sup       *rtsup.Supervisor

	dedup *dedupCache
	cnt   counters
	cur   atomic.Pointer[InFlight]
}

type Option func(*Dispatcher)

func WithBus(b eventbus.Bus) Option { return func(d *Dispatcher) { d.bus = b } }

// WithStore enables the delivery journal and, with PersistDedup, persisted dedup.
func WithStore(st storage.Store) Option { return func(d *Dispatcher) { d.store = st } }

func WithMetrics(m *Metrics) Option { return func(d *Dispatcher) { d.metrics = m } }

func New(cfg Config, client Deliverer, log logx.Logger, opts ...Option) *Dispatcher {
	if log.IsZero() {
		log = logx.Nop()
	}
	cfg = cfg.withDefaults()
	d := &Dispatcher{
		cfg:       cfg,
		limiter:   newLimiter(cfg),
		log:       log.With(logx.String("comp", "dispatch")),
		client:    client,
		accepting: true,
		queue:     make(chan item, cfg.QueueSize),
		calls:     make(chan call),
		halt:      make(chan struct{}),
		dedup:     newDedupCache(),
	}
	for _, o := range opts {
		o(d)
	}
	if d.metrics == nil {
		d.metrics = NewMetrics(nil)
	}
	if cfg.PersistDedup && d.store != nil {
		d.persistCh = make(chan dedupWrite, 1024)
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		n, err := d.dedup.load(ctx, d.store, time.Now(), cfg.DedupMaxEntries)
		cancel()
		if err != nil {
			d.log.Warn("persisted dedup load failed", logx.Err(err))
		} else if n > 0 {
			d.log.Info("persisted dedup loaded", logx.Int("keys", n))
		}
	}
	return d
}

func newLimiter(cfg Config) *rate.Limiter {
	if cfg.RatePerSec <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	return rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.Burst)
}

// Apply updates tunables at runtime. The buffer size is fixed at construction.
func (d *Dispatcher) Apply(cfg Config) {
	cfg = cfg.withDefaults()
	d.mu.Lock()
	defer d.mu.Unlock()
	if cfg.QueueSize != d.cfg.QueueSize {
		d.log.Warn("dispatch.queue_size change requires restart", logx.Int("current", d.cfg.QueueSize), logx.Int("requested", cfg.QueueSize))
		cfg.QueueSize = d.cfg.QueueSize
	}
	cfg.PersistDedup = d.cfg.PersistDedup
	d.cfg = cfg
	d.limiter = newLimiter(cfg)
}

func (d *Dispatcher) snapshotCfg() (Config, *rate.Limiter) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cfg, d.limiter
}

// Supervisor returns the dispatcher's supervisor (nil before Start).
func (d *Dispatcher) Supervisor() *rtsup.Supervisor {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sup
}

// Start launches the dispatch loop. The loop is detached from ctx
// cancellation and runs until Stop, so a cancelled parent still drains.
func (d *Dispatcher) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	d.mu.Lock()
	if d.started || d.stopped {
		d.mu.Unlock()
		return
	}
	d.started = true
	d.sup = rtsup.NewSupervisor(context.WithoutCancel(ctx), rtsup.WithLogger(d.log))
	sup, q, pch, st, overflow := d.sup, d.queue, d.persistCh, d.store, d.cfg.Overflow
	d.mu.Unlock()

	if pch != nil {
		sup.Go0("dedup.persist", func(c context.Context) { persistLoop(c, pch, st) })
	}
	// A panic while handling one job restarts the loop on the same queue.
	sup.GoRestart("dispatch.loop", func(c context.Context) error {
		d.run(c, q)
		return nil
	}, rtsup.WithRestartBackoff(100*time.Millisecond, 5*time.Second))

	d.log.Info("dispatcher started", logx.Int("queue_cap", cap(q)), logx.String("overflow", string(overflow)))
}

// Stop closes admission, drains the buffer within DrainTimeout (bounded by
// ctx) and discards whatever is left. The send in flight when the drain
// timeout fires is allowed to finish; ctx bounds how long Stop waits for it.
func (d *Dispatcher) Stop(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return nil
	}
	d.stopped = true
	d.accepting = false
	cfg, sup, q, pch := d.cfg, d.sup, d.queue, d.persistCh
	d.mu.Unlock()
	close(d.halt)

	// Submits that passed the admission check finish before the close.
	d.submitWG.Wait()
	close(q)
	if pch != nil {
		close(pch)
	}

	if sup == nil {
		if n := d.discardAll(q); n > 0 {
			d.log.Warn("dispatcher stopped before start; discarded pending jobs", logx.Int("discarded", n))
		}
		return nil
	}

	d.log.Info("draining", logx.Int("pending", len(q)), logx.Duration("drain_timeout", cfg.DrainTimeout))
	drainCtx, cancel := context.WithTimeout(ctx, cfg.DrainTimeout)
	defer cancel()
	if err := sup.Wait(drainCtx); err != nil && drainCtx.Err() == nil {
		d.log.Warn("dispatch loop ended with error", logx.Err(err))
	}
	if drainCtx.Err() != nil {
		d.log.Warn("drain timeout; discarding remaining jobs", logx.Int("pending", len(q)))
		sup.Cancel()
		if err := sup.Wait(ctx); err != nil && ctx.Err() != nil {
			return err
		}
	}
	d.log.Info("dispatcher stopped", logx.Uint64("sent", d.cnt.sent.Load()), logx.Uint64("failed", d.cnt.failed.Load()), logx.Uint64("discarded", d.cnt.discarded.Load()))
	return nil
}

// Submit hands a job to the dispatcher and returns immediately. It never
// sends, never waits on the loop and never returns an error; overflow and
// shutdown are reported through the Admission value.
func (d *Dispatcher) Submit(j order.Job) Admission {
	j = j.Clone()
	log := d.log.With(jobFields(j)...)

	if err := j.Validate(); err != nil {
		log.Warn("invalid job", logx.Err(err))
		return d.admit(Invalid, j, err.Error())
	}

	d.mu.Lock()
	if !d.accepting {
		d.mu.Unlock()
		log.Warn("job submitted after shutdown began")
		return d.admit(Closed, j, "")
	}
	cfg, q, pch := d.cfg, d.queue, d.persistCh
	d.submitWG.Add(1)
	d.mu.Unlock()
	defer d.submitWG.Done()

	now := time.Now()
	var key string
	var until time.Time
	if cfg.DedupWindow > 0 {
		key = j.DedupKey()
	}
	if key != "" {
		u, free := d.dedup.reserve(key, now, cfg.DedupWindow, cfg.DedupMaxEntries)
		if !free {
			log.Info("duplicate job suppressed", logx.Time("suppressed_until", u))
			return d.admit(Duplicate, j, "")
		}
		until = u
	}

	adm := d.enqueue(q, item{job: j, dedupKey: key, enqueuedAt: now}, cfg.Overflow)
	switch {
	case !adm.Queued():
		if key != "" {
			d.dedup.release(key)
		}
		log.Warn("queue full; job rejected", logx.Int("queue_cap", cap(q)), logx.Uint64("rejected_total", d.cnt.admissions[Rejected].Load()+1))
	case key != "" && pch != nil:
		select {
		case pch <- dedupWrite{key: key, until: until}:
		default:
		}
	}
	d.metrics.QueueDepth.Set(float64(len(q)))
	return d.admit(adm, j, "")
}

func (d *Dispatcher) enqueue(q chan item, it item, policy Overflow) Admission {
	select {
	case q <- it:
		return Accepted
	default:
	}
	if policy != OverflowDropOldest {
		return Rejected
	}
	dropped := false
	// The loop may consume concurrently; a few rounds settle it.
	for range 4 {
		select {
		case old := <-q:
			d.dropOldest(old)
			dropped = true
		default:
		}
		select {
		case q <- it:
			if dropped {
				return AcceptedDroppedOldest
			}
			return Accepted
		default:
		}
	}
	return Rejected
}

func (d *Dispatcher) dropOldest(old item) {
	if old.dedupKey != "" {
		d.dedup.release(old.dedupKey)
	}
	n := d.cnt.dropped.Add(1)
	d.metrics.Deliveries.WithLabelValues(storage.ResultDropped).Inc()
	d.log.Warn("queue full; dropped oldest job", append(jobFields(old.job), logx.Uint64("dropped_total", n))...)
	d.publish(eventbus.TypeDropped, old.job, 0, "queue overflow")
}

func (d *Dispatcher) admit(a Admission, j order.Job, reason string) Admission {
	d.cnt.admissions[a].Add(1)
	d.metrics.Submissions.WithLabelValues(a.String()).Inc()
	switch a {
	case Accepted, AcceptedDroppedOldest:
		d.publish(eventbus.TypeAccepted, j, 0, "")
	case Duplicate:
		d.publish(eventbus.TypeDuplicate, j, 0, "")
	case Rejected:
		d.publish(eventbus.TypeRejected, j, 0, "queue full")
	case Invalid, Closed:
		d.publish(eventbus.TypeRejected, j, 0, a.String()+" "+reason)
	}
	return a
}

func (d *Dispatcher) publish(typ string, j order.Job, attempts int, reason string) {
	if d.bus == nil {
		return
	}
	d.bus.Publish(eventbus.Event{Type: typ, Time: time.Now(), Data: JobEvent{
		JobID:    j.ID,
		Kind:     j.Kind,
		OrderID:  j.OrderID,
		Attempts: attempts,
		Reason:   reason,
	}})
}

func jobFields(j order.Job) []logx.Field {
	return []logx.Field{
		logx.String("job_id", j.ID),
		logx.String("kind", string(j.Kind)),
		logx.Int64("order_id", j.OrderID),
	}
}
