package dispatch

import (
	"context"
	"errors"
	"fmt"

	kit "orderbot/internal/transport"
	logx "orderbot/pkg/logx"
)

var (
	// ErrClosed is returned by Do once shutdown has begun.
	ErrClosed = errors.New("dispatch: dispatcher closed")
	// ErrNotStarted is returned by Do before Start.
	ErrNotStarted = errors.New("dispatch: dispatcher not started")
)

type call struct {
	ctx  context.Context
	name string
	fn   func(context.Context) error
	done chan error
}

// Do runs fn on the dispatch loop between notification jobs, so it never
// overlaps a notification send or another Do. It waits for fn to return or
// for ctx to end. fn runs under ctx, further bounded by the send timeout and
// paced by the same rate limit as notifications.
func (d *Dispatcher) Do(ctx context.Context, name string, fn func(context.Context) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	d.mu.Lock()
	started, accepting := d.started, d.accepting
	d.mu.Unlock()
	if !accepting {
		return ErrClosed
	}
	if !started {
		return ErrNotStarted
	}

	c := call{ctx: ctx, name: name, fn: fn, done: make(chan error, 1)}
	select {
	case d.calls <- c:
	case <-d.halt:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-c.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// runCall executes one Do on the loop goroutine. A panic in fn is returned
// to the caller and does not restart the loop.
func (d *Dispatcher) runCall(c call) {
	var err error
	defer func() {
		if p := recover(); p != nil {
			d.log.Error("panic in loop call", logx.String("call", c.name), logx.Any("panic", p))
			err = fmt.Errorf("panic in %s: %v", c.name, p)
		}
		c.done <- err
	}()

	cfg, lim := d.snapshotCfg()
	if err = lim.Wait(c.ctx); err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(c.ctx, cfg.SendTimeout)
	defer cancel()
	err = c.fn(ctx)
}

// Sender wraps s so every send runs on the dispatch loop. Components that
// talk to the operator chat outside the notification queue (command replies,
// digests) use it to share the transport session with the loop.
func (d *Dispatcher) Sender(s kit.Sender) kit.Sender {
	return loopSender{d: d, s: s}
}

type loopSender struct {
	d *Dispatcher
	s kit.Sender
}

func (l loopSender) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	ref := make(chan kit.MessageRef, 1)
	err := l.d.Do(ctx, "send_text", func(c context.Context) error {
		r, err := l.s.SendText(c, to, text, opt)
		ref <- r
		return err
	})
	if err != nil {
		return kit.MessageRef{}, err
	}
	return <-ref, nil
}

func (l loopSender) SendPhoto(ctx context.Context, to kit.ChatTarget, path, caption string, opt *kit.SendOptions) (kit.MessageRef, error) {
	ref := make(chan kit.MessageRef, 1)
	err := l.d.Do(ctx, "send_photo", func(c context.Context) error {
		r, err := l.s.SendPhoto(c, to, path, caption, opt)
		ref <- r
		return err
	})
	if err != nil {
		return kit.MessageRef{}, err
	}
	return <-ref, nil
}
