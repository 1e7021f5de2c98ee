package router

import (
	"context"
	"runtime/debug"
	"sort"
	"strings"
	"sync"
	"time"

	rtsup "orderbot/internal/runtime/supervisor"
	kit "orderbot/internal/transport"
	logx "orderbot/pkg/logx"
)

const (
	msgUnknown      = "Unknown command. Try /help"
	msgUnauthorized = "You do not have access to this feature."
)

type Command struct {
	Name        string
	Description string
	// OperatorOnly restricts the command to the configured operator chat.
	OperatorOnly bool
	Timeout      time.Duration
	Handle       HandlerFunc
}

type Request struct {
	Update  kit.Update
	Chat    kit.ChatTarget
	FromID  int64
	Command string
	Args    []string
	Logger  logx.Logger

	sender kit.Sender
}

// Reply sends an HTML reply to the chat the command came from.
func (r *Request) Reply(ctx context.Context, html string) error {
	_, err := r.sender.SendText(ctx, r.Chat, html, &kit.SendOptions{ParseMode: "HTML", DisablePreview: true})
	return err
}

type Config struct {
	OperatorChatID int64
	Workers        int
	QueueSize      int
	Timeout        time.Duration
}

// Router dispatches operator chat commands to registered handlers.
type Router struct {
	cfg    Config
	sender kit.Sender
	log    logx.Logger

	mu   sync.RWMutex
	cmds map[string]Command

	jobs chan func()
}

func New(cfg Config, sender kit.Sender, log logx.Logger) *Router {
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Router{
		cfg:    cfg,
		sender: sender,
		log:    log.With(logx.String("comp", "telegram.router")),
		cmds:   map[string]Command{},
		jobs:   make(chan func(), cfg.QueueSize),
	}
}

func (r *Router) Register(cmds ...Command) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range cmds {
		name := strings.ToLower(strings.TrimPrefix(strings.TrimSpace(c.Name), "/"))
		if name == "" || c.Handle == nil {
			continue
		}
		c.Name = name
		r.cmds[name] = c
	}
}

// Commands returns the registered commands sorted by name, for menus and help.
func (r *Router) Commands() []Command {
	r.mu.RLock()
	out := make([]Command, 0, len(r.cmds))
	for _, c := range r.cmds {
		out = append(out, c)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// MenuCommands converts the registry into platform menu entries.
func (r *Router) MenuCommands() []kit.BotCommand {
	cmds := r.Commands()
	out := make([]kit.BotCommand, 0, len(cmds))
	for _, c := range cmds {
		out = append(out, kit.BotCommand{Command: c.Name, Description: c.Description})
	}
	return out
}

func (r *Router) lookup(name string) (Command, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.cmds[name]
	return c, ok
}

func (r *Router) authorized(chatID int64) bool {
	return r.cfg.OperatorChatID != 0 && chatID == r.cfg.OperatorChatID
}

// DispatchLoop consumes updates until ctx is done or the channel closes.
// Commands run on a small worker pool so a slow handler does not stall polling.
func (r *Router) DispatchLoop(ctx context.Context, updates <-chan kit.Update) error {
	sup := rtsup.NewSupervisor(ctx, rtsup.WithLogger(r.log))
	for i := 0; i < r.cfg.Workers; i++ {
		sup.GoRestart("command.worker", func(c context.Context) error {
			for {
				select {
				case <-c.Done():
					return nil
				case job := <-r.jobs:
					job()
				}
			}
		}, rtsup.WithRestartBackoff(200*time.Millisecond, 5*time.Second))
	}
	r.log.Info("command dispatcher started", logx.Int("workers", r.cfg.Workers))

	defer func() {
		wctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		_ = sup.Stop(wctx)
		cancel()
		r.log.Info("command dispatcher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			r.Route(ctx, up)
		}
	}
}

// Route parses one update and schedules its handler. Non-command text is ignored.
func (r *Router) Route(ctx context.Context, up kit.Update) {
	if up.Kind != kit.UpdateMessage || up.Message == nil {
		return
	}
	msg := up.Message
	text := strings.TrimSpace(msg.Text)
	if !strings.HasPrefix(text, "/") {
		return
	}
	parts := strings.Fields(text)
	word := strings.ToLower(strings.TrimPrefix(parts[0], "/"))
	if i := strings.IndexByte(word, '@'); i >= 0 {
		word = word[:i]
	}
	chat := kit.ChatTarget{ChatID: msg.ChatID, ThreadID: msg.ThreadID}

	cmd, ok := r.lookup(word)
	if !ok {
		_, _ = r.sender.SendText(ctx, chat, msgUnknown, nil)
		return
	}
	if cmd.OperatorOnly && !r.authorized(msg.ChatID) {
		r.log.Warn("unauthorized command", logx.String("cmd", cmd.Name), logx.Int64("chat_id", msg.ChatID), logx.Int64("from_id", msg.FromID))
		_, _ = r.sender.SendText(ctx, chat, msgUnauthorized, nil)
		return
	}

	req := &Request{
		Update:  up,
		Chat:    chat,
		FromID:  msg.FromID,
		Command: cmd.Name,
		Args:    parts[1:],
		Logger:  r.log.With(logx.String("cmd", cmd.Name)),
		sender:  r.sender,
	}
	timeout := cmd.Timeout
	if timeout <= 0 {
		timeout = r.cfg.Timeout
	}
	h := Chain(cmd.Handle, MWPanicRecover(r.log), MWRequestLog(r.log), MWTimeout(timeout))
	job := func() {
		defer func() {
			if p := recover(); p != nil {
				r.log.Error("panic in command job", logx.Any("panic", p), logx.String("stack", string(debug.Stack())))
			}
		}()
		if err := h(ctx, req); err != nil {
			_ = req.Reply(ctx, "⚠️ command failed")
		}
	}
	select {
	case r.jobs <- job:
	default:
		r.log.Warn("command queue full; dropping", logx.String("cmd", cmd.Name))
	}
}
