// Package format renders notification jobs into Telegram messages.
//
// Render is pure and total: the same Job always yields the same Payload, and
// no input makes it fail. User-entered strings are HTML-escaped and every
// payload fits Telegram's text or caption limit.
package format

import (
	"fmt"
	"strconv"
	"strings"

	"orderbot/internal/order"
	"orderbot/pkg/tgui"
)

// Payload is a rendered message ready for the delivery client.
type Payload struct {
	Text      string
	ParseMode string // "HTML" or "" for plain text
	ImageRef  string
}

// Per-field rune budgets applied before escaping.
const (
	maxUsername = 64
	maxAddress  = 256
	maxPhone    = 32
	maxWindow   = 64
	maxDate     = 32
	maxItem     = 128
	maxStatus   = 32
	maxItems    = 20
	minShrunk   = 8
)

// field is a rendered line: fixed label plus a free-text value that may be
// shrunk when the message is over the limit.
type field struct {
	label string
	value string
	code  bool
	fixed bool // never shrunk (ids, amounts)
}

// Render turns a job into a payload. The limit is the caption limit when the
// job carries an image (it may be sent as a photo) and the text limit
// otherwise.
func Render(j order.Job) Payload {
	limit := tgui.MaxTextLen
	if strings.TrimSpace(j.ImageRef) != "" {
		limit = tgui.MaxCaptionLen
	}
	title, fields := build(j)
	return fit(title, fields, limit, j.ImageRef)
}

func build(j order.Job) (string, []field) {
	s := j.Snapshot
	id := strconv.FormatInt(j.OrderID, 10)

	switch j.Kind {
	case order.KindOrderStatusChanged:
		return "📢 Order status changed #" + id, []field{
			{label: "👤 User", value: clean(s.Username, maxUsername)},
			{label: "💰 Total", value: s.Total.String(), fixed: true},
			{label: "📊 Was", value: statusText(s.OldStatus)},
			{label: "➡️ Now", value: statusText(s.NewStatus)},
		}
	case order.KindTestOrder:
		bouquet := ""
		if len(s.Items) > 0 {
			bouquet = s.Items[0].Name
		}
		return "🧪 Test order", []field{
			{label: "💐 Bouquet", value: clean(bouquet, maxItem)},
			{label: "💰 Price", value: s.Total.String(), fixed: true},
			{label: "📅 Delivery date", value: clean(s.DeliveryDate, maxDate)},
		}
	default:
		fs := []field{
			{label: "👤 User", value: clean(s.Username, maxUsername)},
			{label: "💰 Total", value: s.Total.String(), fixed: true},
		}
		if items := itemsText(s.Items); items != "" {
			fs = append(fs, field{label: "💐 Items", value: items})
		}
		fs = append(fs,
			field{label: "📍 Address", value: clean(s.Address, maxAddress)},
			field{label: "📞 Phone", value: clean(s.Phone, maxPhone), code: true},
			field{label: "📅 Delivery date", value: clean(s.DeliveryDate, maxDate)},
			field{label: "⏰ Delivery time", value: clean(s.DeliveryWindow, maxWindow)},
		)
		if !s.OrderedAt.IsZero() {
			fs = append(fs, field{label: "🕒 Ordered", value: s.OrderedAt.UTC().Format("02.01.2006 15:04 MST"), fixed: true})
		}
		return "🎉 New order #" + id, fs
	}
}

// clean replaces invalid UTF-8 before cutting s to n runes; Telegram rejects
// messages that are not valid UTF-8.
func clean(s string, n int) string {
	return tgui.TruncRunes(strings.ToValidUTF8(s, "\uFFFD"), n)
}

func statusText(st order.Status) string {
	code := clean(string(st), maxStatus)
	if code == "" {
		code = "?"
	}
	return code + " (" + st.Label() + ")"
}

func itemsText(items []order.LineItem) string {
	if len(items) == 0 {
		return ""
	}
	parts := make([]string, 0, min(len(items), maxItems)+1)
	for i, it := range items {
		if i == maxItems {
			parts = append(parts, fmt.Sprintf("…and %d more", len(items)-maxItems))
			break
		}
		name := clean(it.Name, maxItem)
		if it.Quantity > 1 {
			name += " ×" + strconv.Itoa(it.Quantity)
		}
		parts = append(parts, name)
	}
	return strings.Join(parts, ", ")
}

func renderHTML(title string, fields []field) tgui.H {
	lines := make([]tgui.H, 0, len(fields)+2)
	lines = append(lines, tgui.B(title), "")
	for _, f := range fields {
		v := strings.TrimSpace(strings.ToValidUTF8(f.value, "\uFFFD"))
		if v == "" {
			v = "—"
		}
		val := tgui.Esc(v)
		if f.code {
			val = tgui.Code(v)
		}
		lines = append(lines, tgui.H(tgui.B(f.label+":").String()+" "+val.String()))
	}
	parts := make([]string, len(lines))
	for i, l := range lines {
		parts[i] = l.String()
	}
	return tgui.Raw(strings.Join(parts, "\n"))
}

// fit applies the truncation rule: halve the longest shrinkable value until
// the HTML fits; if even minimal values don't fit, send plain text cut to the
// limit.
func fit(title string, fields []field, limit int, imageRef string) Payload {
	fs := append([]field(nil), fields...)
	for {
		h := renderHTML(title, fs)
		if tgui.UTF16Len(h.String()) <= limit {
			return Payload{Text: h.String(), ParseMode: tgui.ParseModeHTML, ImageRef: imageRef}
		}
		idx, longest := -1, minShrunk
		for i, f := range fs {
			if f.fixed {
				continue
			}
			if n := len([]rune(f.value)); n > longest {
				idx, longest = i, n
			}
		}
		if idx < 0 {
			plain := tgui.StripTags(h)
			return Payload{Text: tgui.TruncUTF16(plain, limit), ImageRef: imageRef}
		}
		fs[idx].value = tgui.TruncRunes(fs[idx].value, max(minShrunk, longest/2))
	}
}
