package delivery

import (
	"context"
	"errors"
	"io"
	"net"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"
)

// ErrInvalidRecipient is returned for a zero chat id.
var ErrInvalidRecipient = errors.New("delivery: invalid recipient")

type Status int

const (
	StatusSent Status = iota
	StatusTransient
	StatusPermanent
)

func (s Status) String() string {
	switch s {
	case StatusSent:
		return "sent"
	case StatusTransient:
		return "transient"
	case StatusPermanent:
		return "permanent"
	default:
		return "unknown"
	}
}

// Outcome is the result of one send attempt.
type Outcome struct {
	Status Status
	Reason string
	Err    error
	// RetryAfter is the flood-control wait requested by Telegram, if any.
	RetryAfter time.Duration
	// Photo reports whether the payload went out as a photo with caption.
	Photo     bool
	MessageID int
}

func (o Outcome) Sent() bool      { return o.Status == StatusSent }
func (o Outcome) Retryable() bool { return o.Status == StatusTransient }

var (
	reTrailingCode = regexp.MustCompile(`\((\d{3})\)\s*$`)
	reRetryAfter   = regexp.MustCompile(`(?i)retry after (\d+)`)
)

// Classify maps a transport error to an outcome. nil is Sent; anything not
// recognised as permanent is treated as transient.
func Classify(err error) Outcome {
	if err == nil {
		return Outcome{Status: StatusSent}
	}
	out := Outcome{Status: StatusTransient, Err: err, Reason: err.Error()}

	if errors.Is(err, ErrInvalidRecipient) {
		out.Status = StatusPermanent
		return out
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) ||
		errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return out
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return out
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return out
	}

	code := 0
	var tgErr *tele.Error
	if errors.As(err, &tgErr) {
		code = tgErr.Code
	}
	if code == 0 {
		if m := reTrailingCode.FindStringSubmatch(err.Error()); m != nil {
			code, _ = strconv.Atoi(m[1])
		}
	}
	if m := reRetryAfter.FindStringSubmatch(err.Error()); m != nil {
		if n, convErr := strconv.Atoi(m[1]); convErr == nil && n > 0 {
			out.RetryAfter = time.Duration(n) * time.Second
			if code == 0 {
				code = 429
			}
		}
	}

	switch {
	case code == 429, code >= 500:
		out.Status = StatusTransient
	case code == 400, code == 401, code == 403, code == 404:
		out.Status = StatusPermanent
	}
	if code != 0 {
		out.Reason = strings.TrimSpace(out.Reason) + " [code=" + strconv.Itoa(code) + "]"
	}
	return out
}
