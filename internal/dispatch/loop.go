package dispatch

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"orderbot/internal/delivery"
	"orderbot/internal/eventbus"
	"orderbot/internal/format"
	"orderbot/internal/storage"
	logx "orderbot/pkg/logx"
)

// run is the single consumer. It returns when q is closed and empty, or
// discards what is left once ctx is cancelled.
func (d *Dispatcher) run(ctx context.Context, q <-chan item) {
	for {
		select {
		case <-ctx.Done():
			if n := d.discardAll(q); n > 0 {
				d.log.Warn("discarded pending jobs at shutdown", logx.Int("discarded", n))
			}
			return
		case it, ok := <-q:
			if !ok {
				return
			}
			d.metrics.QueueDepth.Set(float64(len(q)))
			d.deliver(ctx, it)
		case c := <-d.calls:
			d.runCall(c)
		}
	}
}

func (d *Dispatcher) discardAll(q <-chan item) int {
	n := 0
	for {
		select {
		case it, ok := <-q:
			if !ok {
				return n
			}
			d.finish(it, StateDiscarded, 0, delivery.Outcome{Reason: "shutdown"})
			n++
		default:
			return n
		}
	}
}

// deliver renders once, then attempts the send until it succeeds, fails
// permanently, runs out of attempts or ctx is cancelled. Retries block the
// loop so later jobs never overtake this one.
func (d *Dispatcher) deliver(ctx context.Context, it item) {
	inflight := &InFlight{JobID: it.job.ID, Kind: it.job.Kind, OrderID: it.job.OrderID, State: StateSending, Since: time.Now()}
	defer d.cur.Store(nil)

	// A panic still gets its terminal record before the loop restarts.
	finished := false
	end := func(st State, attempts int, out delivery.Outcome) {
		finished = true
		d.finish(it, st, attempts, out)
	}
	defer func() {
		if p := recover(); p != nil {
			if !finished {
				finished = true
				d.finish(it, StateFailed, inflight.Attempt, delivery.Outcome{Reason: fmt.Sprintf("panic: %v", p)})
			}
			panic(p)
		}
	}()

	payload := format.Render(it.job)
	log := d.log.With(jobFields(it.job)...)

	var last delivery.Outcome
	for attempt := 1; ; attempt++ {
		cfg, lim := d.snapshotCfg()

		inflight.Attempt = attempt
		inflight.State = StateSending
		d.cur.Store(inflight.clone())

		if err := lim.Wait(ctx); err != nil {
			end(StateDiscarded, attempt-1, delivery.Outcome{Reason: "shutdown", Err: err})
			return
		}

		// Shutdown never cancels a send in flight; only the send timeout does.
		sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.SendTimeout)
		last = d.client.Send(sendCtx, cfg.ChatID, payload)
		cancel()
		d.cnt.attempts.Add(1)
		d.metrics.Attempts.WithLabelValues(last.Status.String()).Inc()

		switch {
		case last.Sent():
			end(StateSent, attempt, last)
			return
		case last.Status == delivery.StatusPermanent:
			end(StateFailed, attempt, last)
			return
		case attempt >= cfg.MaxAttempts:
			last.Reason = "retries exhausted: " + last.Reason
			end(StateFailed, attempt, last)
			return
		}

		delay := retryDelay(cfg, attempt)
		if last.RetryAfter > delay {
			delay = last.RetryAfter
		}
		d.cnt.retries.Add(1)
		inflight.State = StateRetrying
		d.cur.Store(inflight.clone())
		log.Warn("send failed; retrying",
			logx.Int("attempt", attempt),
			logx.Int("max_attempts", cfg.MaxAttempts),
			logx.Duration("backoff", delay),
			logx.String("reason", last.Reason),
		)
		d.publish(eventbus.TypeRetrying, it.job, attempt, last.Reason)

		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			end(StateDiscarded, attempt, last)
			return
		case <-t.C:
		}
	}
}

// finish records a terminal state: counters, metrics, log, event, journal.
func (d *Dispatcher) finish(it item, st State, attempts int, out delivery.Outcome) {
	j := it.job
	log := d.log.With(jobFields(j)...)
	rec := storage.DeliveryRecord{
		JobID:      j.ID,
		Kind:       string(j.Kind),
		OrderID:    j.OrderID,
		Attempts:   attempts,
		Photo:      out.Photo,
		Reason:     out.Reason,
		CreatedAt:  j.CreatedAt,
		FinishedAt: time.Now(),
	}

	switch st {
	case StateSent:
		latency := time.Since(j.CreatedAt)
		d.cnt.sent.Add(1)
		d.cnt.lastSentAt.Store(rec.FinishedAt.UnixNano())
		d.metrics.DeliveryLatency.Observe(latency.Seconds())
		rec.Result = storage.ResultSent
		log.Info("notification sent", logx.Int("attempts", attempts), logx.Duration("latency", latency), logx.Bool("photo", out.Photo))
		d.publish(eventbus.TypeSent, j, attempts, "")
	case StateFailed:
		d.cnt.failed.Add(1)
		d.cnt.setLastError(out.Reason)
		rec.Result = storage.ResultFailed
		log.Error("notification failed", logx.Int("attempts", attempts), logx.String("reason", out.Reason), logx.Err(out.Err))
		d.publish(eventbus.TypeFailed, j, attempts, out.Reason)
	default:
		d.cnt.discarded.Add(1)
		rec.Result = storage.ResultDiscarded
		log.Debug("notification discarded", logx.Int("attempts", attempts), logx.String("reason", out.Reason))
		d.publish(eventbus.TypeDiscarded, j, attempts, out.Reason)
	}
	d.metrics.Deliveries.WithLabelValues(rec.Result).Inc()

	if d.store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 250*time.Millisecond)
		if err := d.store.AppendDelivery(ctx, rec); err != nil {
			log.Debug("journal append failed", logx.Err(err))
		}
		cancel()
	}
}

// retryDelay is the wait after a failed attempt (1-based):
// min(base*2^(attempt-1), max) scaled by a 0.7..1.3 jitter, capped at max.
func retryDelay(cfg Config, attempt int) time.Duration {
	d := cfg.RetryBase
	for i := 1; i < attempt && d < cfg.RetryMaxDelay; i++ {
		d *= 2
	}
	d = min(d, cfg.RetryMaxDelay)
	d = time.Duration(float64(d) * (0.7 + rand.Float64()*0.6))
	return max(0, min(d, cfg.RetryMaxDelay))
}
