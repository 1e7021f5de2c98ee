package dispatch

import (
	"context"
	"sync"
	"testing"
	"time"

	"orderbot/internal/delivery"
	"orderbot/internal/format"
	"orderbot/internal/order"
	logx "orderbot/pkg/logx"
)

// scriptClient answers Send with script(n, payload), n being the 1-based
// call count. A non-nil gate makes every call wait for a token first.
type scriptClient struct {
	mu     sync.Mutex
	calls  []format.Payload
	script func(n int, p format.Payload) delivery.Outcome

	gate    chan struct{}
	entered chan int
}

func newScriptClient(script func(n int, p format.Payload) delivery.Outcome) *scriptClient {
	if script == nil {
		script = func(int, format.Payload) delivery.Outcome { return delivery.Outcome{Status: delivery.StatusSent} }
	}
	return &scriptClient{script: script, entered: make(chan int, 1024)}
}

func (c *scriptClient) Send(ctx context.Context, chatID int64, p format.Payload) delivery.Outcome {
	c.mu.Lock()
	c.calls = append(c.calls, p)
	n := len(c.calls)
	c.mu.Unlock()
	c.entered <- n
	if c.gate != nil {
		<-c.gate
	}
	return c.script(n, p)
}

func (c *scriptClient) payloads() []format.Payload {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]format.Payload(nil), c.calls...)
}

func (c *scriptClient) waitEntered(t *testing.T, n int) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case got := <-c.entered:
			if got >= n {
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for send #%d", n)
		}
	}
}

func testConfig() Config {
	return Config{
		ChatID:        1001,
		QueueSize:     16,
		MaxAttempts:   4,
		RetryBase:     time.Millisecond,
		RetryMaxDelay: 2 * time.Millisecond,
		SendTimeout:   time.Second,
		DrainTimeout:  2 * time.Second,
	}
}

func startDispatcher(t *testing.T, cfg Config, c Deliverer, opts ...Option) *Dispatcher {
	t.Helper()
	d := New(cfg, c, logx.Nop(), opts...)
	d.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = d.Stop(ctx)
	})
	return d
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func createdJob(id int64) order.Job {
	return order.NewOrderCreated(id, order.Snapshot{
		Username: "alice",
		Total:    order.Money{Minor: 3500, Currency: "€"},
	}, "")
}

func stopNow(t *testing.T, d *Dispatcher) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := d.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}
