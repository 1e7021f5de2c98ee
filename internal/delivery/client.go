package delivery

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"orderbot/internal/format"
	kit "orderbot/internal/transport"
	logx "orderbot/pkg/logx"
)

// Client delivers one payload per call through a shared transport session.
type Client struct {
	tr        kit.Sender
	log       logx.Logger
	mediaRoot string
	stat      func(string) (os.FileInfo, error)
}

type Option func(*Client)

// WithMediaRoot resolves relative image paths against dir.
func WithMediaRoot(dir string) Option { return func(c *Client) { c.mediaRoot = strings.TrimSpace(dir) } }

func NewClient(tr kit.Sender, log logx.Logger, opts ...Option) *Client {
	if log.IsZero() {
		log = logx.Nop()
	}
	c := &Client{tr: tr, log: log.With(logx.String("comp", "delivery")), stat: os.Stat}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *Client) imagePath(ref string) (string, bool) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", false
	}
	if !filepath.IsAbs(ref) && c.mediaRoot != "" {
		ref = filepath.Join(c.mediaRoot, ref)
	}
	fi, err := c.stat(ref)
	if err != nil || !fi.Mode().IsRegular() {
		return ref, false
	}
	return ref, true
}

// Send performs exactly one delivery attempt. A payload with an image that
// exists at call time goes out as a photo; otherwise the text is sent alone.
func (c *Client) Send(ctx context.Context, chatID int64, p format.Payload) Outcome {
	if chatID == 0 {
		return Classify(ErrInvalidRecipient)
	}
	to := kit.ChatTarget{ChatID: chatID}
	opt := &kit.SendOptions{ParseMode: p.ParseMode, DisablePreview: true}

	if path, ok := c.imagePath(p.ImageRef); ok {
		ref, err := c.tr.SendPhoto(ctx, to, path, p.Text, opt)
		out := Classify(err)
		out.Photo = true
		out.MessageID = ref.MessageID
		return out
	} else if p.ImageRef != "" {
		c.log.Debug("image not found; sending text", logx.String("image", path))
	}

	ref, err := c.tr.SendText(ctx, to, p.Text, opt)
	out := Classify(err)
	out.MessageID = ref.MessageID
	return out
}
