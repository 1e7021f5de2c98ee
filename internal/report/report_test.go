package report

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"orderbot/internal/delivery"
	"orderbot/internal/dispatch"
	"orderbot/internal/eventbus"
	"orderbot/internal/format"
	"orderbot/internal/order"
	kit "orderbot/internal/transport"
	logx "orderbot/pkg/logx"
)

type fakeStats struct {
	mu sync.Mutex
	st dispatch.Stats
}

func (f *fakeStats) Stats() dispatch.Stats {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.st
}

func (f *fakeStats) set(sent, failed, rejected uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.st.Sent, f.st.Failed = sent, failed
	f.st.Admissions = map[string]uint64{dispatch.Rejected.String(): rejected}
}

type fakeSender struct {
	mu    sync.Mutex
	texts []string
}

func (f *fakeSender) SendText(_ context.Context, _ kit.ChatTarget, text string, _ *kit.SendOptions) (kit.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.texts = append(f.texts, text)
	return kit.MessageRef{MessageID: len(f.texts)}, nil
}

func (f *fakeSender) SendPhoto(context.Context, kit.ChatTarget, string, string, *kit.SendOptions) (kit.MessageRef, error) {
	return kit.MessageRef{}, nil
}

func TestRunOnceReportsDeltas(t *testing.T) {
	t.Parallel()
	src := &fakeStats{}
	src.set(3, 1, 0)
	bus := eventbus.New()
	events, unsub := bus.Subscribe(4)
	defer unsub()
	snd := &fakeSender{}

	r := New(Config{SendToChat: true, ChatID: 99}, src, bus, snd, logx.Nop())
	r.prev = src.Stats()

	src.set(10, 2, 4)
	d := r.RunOnce(context.Background())
	if d.Sent != 7 || d.Failed != 1 || d.Rejected != 4 {
		t.Fatalf("digest = %+v", d)
	}

	select {
	case ev := <-events:
		if ev.Type != eventbus.TypeDigest {
			t.Fatalf("event type = %q", ev.Type)
		}
	case <-time.After(time.Second):
		t.Fatal("no digest event")
	}

	if len(snd.texts) != 1 || !strings.Contains(snd.texts[0], "Sent: <b>7</b>") {
		t.Fatalf("sent texts = %q", snd.texts)
	}

	d = r.RunOnce(context.Background())
	if !d.Quiet() {
		t.Fatalf("second run should be quiet: %+v", d)
	}
	if !strings.Contains(snd.texts[1], "No notification activity.") {
		t.Fatalf("quiet digest = %q", snd.texts[1])
	}
}

func TestRunOnceWithoutChat(t *testing.T) {
	t.Parallel()
	snd := &fakeSender{}
	r := New(Config{SendToChat: false, ChatID: 1}, &fakeStats{}, nil, snd, logx.Nop())
	r.RunOnce(context.Background())
	if len(snd.texts) != 0 {
		t.Fatalf("digest sent although disabled: %q", snd.texts)
	}
}

func TestStartRejectsBadSchedule(t *testing.T) {
	t.Parallel()
	r := New(Config{Schedule: "every tuesday-ish"}, &fakeStats{}, nil, nil, logx.Nop())
	if err := r.Start(); err == nil {
		r.Stop(context.Background())
		t.Fatal("expected schedule error")
	}
}

func TestScheduledDigestFires(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	events, unsub := bus.Subscribe(8)
	defer unsub()

	r := New(Config{Schedule: "@every 1s"}, &fakeStats{}, bus, nil, logx.Nop())
	if err := r.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer r.Stop(context.Background())

	select {
	case ev := <-events:
		if ev.Type != eventbus.TypeDigest {
			t.Fatalf("event type = %q", ev.Type)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("digest did not fire")
	}

	if err := r.Apply(Config{Schedule: "0 9 * * *", Location: time.UTC}); err != nil {
		t.Fatalf("Apply: %v", err)
	}
}

// timeline records sends from both the dispatch client and the chat sender.
type timeline struct {
	mu  sync.Mutex
	log []string
}

func (tl *timeline) add(s string) {
	tl.mu.Lock()
	tl.log = append(tl.log, s)
	tl.mu.Unlock()
}

func (tl *timeline) snapshot() []string {
	tl.mu.Lock()
	defer tl.mu.Unlock()
	return append([]string(nil), tl.log...)
}

type gatedClient struct {
	tl      *timeline
	gate    chan struct{}
	entered chan struct{}
}

func (c *gatedClient) Send(context.Context, int64, format.Payload) delivery.Outcome {
	c.entered <- struct{}{}
	<-c.gate
	c.tl.add("order")
	return delivery.Outcome{Status: delivery.StatusSent}
}

type timelineSender struct{ tl *timeline }

func (s timelineSender) SendText(context.Context, kit.ChatTarget, string, *kit.SendOptions) (kit.MessageRef, error) {
	s.tl.add("digest")
	return kit.MessageRef{}, nil
}

func (s timelineSender) SendPhoto(context.Context, kit.ChatTarget, string, string, *kit.SendOptions) (kit.MessageRef, error) {
	s.tl.add("photo")
	return kit.MessageRef{}, nil
}

func TestDigestWaitsForNotificationInFlight(t *testing.T) {
	t.Parallel()
	tl := &timeline{}
	client := &gatedClient{tl: tl, gate: make(chan struct{}), entered: make(chan struct{}, 1)}
	d := dispatch.New(dispatch.Config{ChatID: 99, SendTimeout: 5 * time.Second, DrainTimeout: time.Second}, client, logx.Nop())
	d.Start(context.Background())
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = d.Stop(ctx)
	}()

	j := order.NewOrderCreated(1, order.Snapshot{Username: "anna", Total: order.Money{Minor: 100}}, "")
	if a := d.Submit(j); a != dispatch.Accepted {
		t.Fatalf("Submit = %s", a)
	}
	select {
	case <-client.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("notification send never started")
	}

	r := New(Config{SendToChat: true, ChatID: 99}, d, nil, d.Sender(timelineSender{tl: tl}), logx.Nop())
	done := make(chan struct{})
	go func() {
		defer close(done)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		r.RunOnce(ctx)
	}()

	time.Sleep(50 * time.Millisecond)
	if got := tl.snapshot(); len(got) != 0 {
		t.Fatalf("sent while notification in flight: %v", got)
	}
	close(client.gate)
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("digest never sent")
	}
	if got := tl.snapshot(); strings.Join(got, ",") != "order,digest" {
		t.Fatalf("send order = %v, want [order digest]", got)
	}
}
