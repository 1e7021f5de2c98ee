// Package report posts a periodic digest of dispatcher activity: logged,
// published on the event bus and optionally sent to the operator chat.
package report

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"orderbot/internal/dispatch"
	"orderbot/internal/eventbus"
	kit "orderbot/internal/transport"
	logx "orderbot/pkg/logx"
	"orderbot/pkg/tgui"
)

const defaultSchedule = "@daily"

// Parser accepts 5-field crontab, an optional leading seconds field and
// descriptors such as "@hourly" or "@every 30m".
var Parser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

type Config struct {
	Schedule   string
	Location   *time.Location
	SendToChat bool
	ChatID     int64
}

// StatsSource is satisfied by *dispatch.Dispatcher.
type StatsSource interface {
	Stats() dispatch.Stats
}

// Digest is the counter delta since the previous run plus current totals.
type Digest struct {
	From      time.Time      `json:"from"`
	To        time.Time      `json:"to"`
	Sent      uint64         `json:"sent"`
	Failed    uint64         `json:"failed"`
	Dropped   uint64         `json:"dropped"`
	Discarded uint64         `json:"discarded"`
	Retries   uint64         `json:"retries"`
	Rejected  uint64         `json:"rejected"`
	Totals    dispatch.Stats `json:"totals"`
}

// Quiet reports whether nothing happened in the window.
func (d Digest) Quiet() bool {
	return d.Sent+d.Failed+d.Dropped+d.Discarded+d.Retries+d.Rejected == 0
}

type Reporter struct {
	src    StatsSource
	bus    eventbus.Bus
	sender kit.Sender
	log    logx.Logger

	mu   sync.Mutex
	cfg  Config
	c    *cron.Cron
	prev dispatch.Stats
	last time.Time
	now  func() time.Time
}

// New builds a reporter. bus and sender may be nil.
func New(cfg Config, src StatsSource, bus eventbus.Bus, sender kit.Sender, log logx.Logger) *Reporter {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Reporter{
		cfg:    cfg,
		src:    src,
		bus:    bus,
		sender: sender,
		log:    log.With(logx.String("comp", "report")),
		now:    time.Now,
	}
}

// Start schedules the digest. It returns the schedule parse error, if any.
func (r *Reporter) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.c != nil {
		return nil
	}
	return r.startLocked()
}

func (r *Reporter) startLocked() error {
	spec := strings.TrimSpace(r.cfg.Schedule)
	if spec == "" {
		spec = defaultSchedule
	}
	sched, err := Parser.Parse(spec)
	if err != nil {
		return fmt.Errorf("report schedule %q: %w", spec, err)
	}
	loc := r.cfg.Location
	if loc == nil {
		loc = time.Local
	}
	c := cron.New(cron.WithParser(Parser), cron.WithLocation(loc), cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	c.Schedule(sched, cron.FuncJob(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		r.RunOnce(ctx)
	}))
	if r.last.IsZero() {
		r.last = r.now()
		r.prev = r.src.Stats()
	}
	c.Start()
	r.c = c
	r.log.Info("digest scheduled", logx.String("schedule", spec), logx.String("tz", loc.String()))
	return nil
}

// Apply swaps the configuration and reschedules when running.
func (r *Reporter) Apply(cfg Config) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cfg = cfg
	if r.c == nil {
		return nil
	}
	<-r.c.Stop().Done()
	r.c = nil
	return r.startLocked()
}

// Stop halts the schedule and waits for a running digest up to ctx.
func (r *Reporter) Stop(ctx context.Context) {
	r.mu.Lock()
	c := r.c
	r.c = nil
	r.mu.Unlock()
	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
}

// RunOnce builds the digest for the window since the previous run and
// reports it.
func (r *Reporter) RunOnce(ctx context.Context) Digest {
	cur := r.src.Stats()
	r.mu.Lock()
	now := r.now()
	d := Digest{
		From:      r.last,
		To:        now,
		Sent:      cur.Sent - r.prev.Sent,
		Failed:    cur.Failed - r.prev.Failed,
		Dropped:   cur.Dropped - r.prev.Dropped,
		Discarded: cur.Discarded - r.prev.Discarded,
		Retries:   cur.Retries - r.prev.Retries,
		Rejected:  cur.Admissions[dispatch.Rejected.String()] - r.prev.Admissions[dispatch.Rejected.String()],
		Totals:    cur,
	}
	r.prev, r.last = cur, now
	cfg := r.cfg
	r.mu.Unlock()

	r.log.Info("dispatch digest",
		logx.Uint64("sent", d.Sent),
		logx.Uint64("failed", d.Failed),
		logx.Uint64("dropped", d.Dropped),
		logx.Uint64("discarded", d.Discarded),
		logx.Uint64("retries", d.Retries),
		logx.Uint64("rejected", d.Rejected),
		logx.Int("queue_len", cur.QueueLen),
	)
	if r.bus != nil {
		r.bus.Publish(eventbus.Event{Type: eventbus.TypeDigest, Time: now, Data: d})
	}
	if cfg.SendToChat && r.sender != nil && cfg.ChatID != 0 {
		opt := &kit.SendOptions{ParseMode: tgui.ParseModeHTML, DisablePreview: true}
		if _, err := r.sender.SendText(ctx, kit.ChatTarget{ChatID: cfg.ChatID}, renderDigest(d).String(), opt); err != nil {
			r.log.Warn("digest send failed", logx.Err(err))
		}
	}
	return d
}

func renderDigest(d Digest) tgui.H {
	line := func(label string, v uint64) tgui.H {
		return tgui.JoinH("", tgui.Esc(label+": "), tgui.B(fmt.Sprint(v)))
	}
	header := tgui.JoinH("\n",
		tgui.B("📊 Notification digest"),
		tgui.I(d.From.Format("02.01.2006 15:04")+" → "+d.To.Format("02.01.2006 15:04")),
	)
	body := tgui.JoinH("\n",
		line("Sent", d.Sent),
		line("Failed", d.Failed),
		line("Retries", d.Retries),
		line("Rejected (queue full)", d.Rejected),
		line("Dropped (oldest evicted)", d.Dropped),
		line("Discarded at shutdown", d.Discarded),
	)
	var footer tgui.H
	switch {
	case d.Totals.LastError != "":
		footer = tgui.JoinH("", tgui.Esc("Last error: "), tgui.Code(tgui.TruncRunes(d.Totals.LastError, 200)))
	case d.Quiet():
		footer = tgui.I("No notification activity.")
	}
	return tgui.JoinH("\n\n", header, body, footer)
}
