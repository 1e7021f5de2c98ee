package router

import (
	"context"
	"strings"

	"orderbot/pkg/tgui"
)

// TestOrderFunc enqueues a sample order and returns a short status line for
// the operator.
type TestOrderFunc func(ctx context.Context) (string, error)

// RegisterBuiltins installs /start, /help and, when trigger is non-nil, /test_order.
func RegisterBuiltins(r *Router, trigger TestOrderFunc) {
	r.Register(
		Command{
			Name:        "start",
			Description: "Greeting",
			Handle: func(ctx context.Context, req *Request) error {
				return req.Reply(ctx, "Hello! 👋 I deliver new orders and status changes to this chat.\nType /help to see the available commands.")
			},
		},
		Command{
			Name:        "help",
			Description: "List commands",
			Handle: func(ctx context.Context, req *Request) error {
				return req.Reply(ctx, helpText(r))
			},
		},
	)
	if trigger == nil {
		return
	}
	r.Register(Command{
		Name:         "test_order",
		Description:  "Send a sample order notification",
		OperatorOnly: true,
		Handle: func(ctx context.Context, req *Request) error {
			status, err := trigger(ctx)
			if err != nil {
				return err
			}
			return req.Reply(ctx, tgui.Esc(status).String())
		},
	})
}

func helpText(r *Router) string {
	lines := []string{tgui.B("Available commands:").String()}
	for _, c := range r.Commands() {
		line := tgui.Code("/" + c.Name).String()
		if c.Description != "" {
			line += " - " + tgui.Esc(c.Description).String()
		}
		if c.OperatorOnly {
			line += " 🔒"
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}
