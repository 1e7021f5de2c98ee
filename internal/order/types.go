package order

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Kind selects the message template.
type Kind string

const (
	KindOrderCreated       Kind = "order_created"
	KindOrderStatusChanged Kind = "order_status_changed"
	// KindTestOrder is submitted by the operator diagnostics (/test_order).
	KindTestOrder Kind = "test_order"
)

func (k Kind) Valid() bool {
	switch k {
	case KindOrderCreated, KindOrderStatusChanged, KindTestOrder:
		return true
	default:
		return false
	}
}

// Status is the shop's order status code.
type Status string

const (
	StatusNew        Status = "NEW"
	StatusProcessing Status = "PROCESSING"
	StatusCompleted  Status = "COMPLETED"
	StatusCancelled  Status = "CANCELLED"
)

var statusLabels = map[Status]string{
	StatusNew:        "🟡 New",
	StatusProcessing: "🔵 Processing",
	StatusCompleted:  "✅ Completed",
	StatusCancelled:  "❌ Cancelled",
}

// Label returns the operator-facing label, "Unknown" for codes the shop
// doesn't define.
func (s Status) Label() string {
	if l, ok := statusLabels[Status(strings.ToUpper(string(s)))]; ok {
		return l
	}
	return "Unknown"
}

// Money is an amount in minor units (cents) plus a display currency.
type Money struct {
	Minor    int64  `json:"minor"`
	Currency string `json:"currency,omitempty"`
}

// String formats the amount with two decimals, e.g. "35.00 €".
func (m Money) String() string {
	sign := ""
	v := uint64(m.Minor)
	if m.Minor < 0 {
		sign = "-"
		v = -v // exact for math.MinInt64
	}
	s := fmt.Sprintf("%s%d.%02d", sign, v/100, v%100)
	if c := strings.TrimSpace(m.Currency); c != "" {
		s += " " + c
	}
	return s
}

// UnmarshalJSON accepts either {"minor":3500,"currency":"€"} or the shop's
// decimal form {"amount":"35.00","currency":"€"} (amount may be a number).
func (m *Money) UnmarshalJSON(b []byte) error {
	var raw struct {
		Minor    *int64          `json:"minor"`
		Amount   json.RawMessage `json:"amount"`
		Currency string          `json:"currency"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	m.Currency = raw.Currency
	switch {
	case raw.Minor != nil:
		m.Minor = *raw.Minor
	case len(raw.Amount) > 0:
		s := strings.Trim(string(raw.Amount), `"`)
		v, err := ParseAmount(s)
		if err != nil {
			return err
		}
		m.Minor = v
	default:
		m.Minor = 0
	}
	return nil
}

// LineItem is one ordered product.
type LineItem struct {
	Name     string `json:"name"`
	Quantity int    `json:"quantity"`
}

// Snapshot is the denormalized copy of the order fields used for rendering.
type Snapshot struct {
	Username       string     `json:"username"`
	Total          Money      `json:"total"`
	Address        string     `json:"address,omitempty"`
	Phone          string     `json:"phone,omitempty"`
	DeliveryWindow string     `json:"delivery_window,omitempty"`
	DeliveryDate   string     `json:"delivery_date,omitempty"`
	OldStatus      Status     `json:"old_status,omitempty"`
	NewStatus      Status     `json:"new_status,omitempty"`
	Items          []LineItem `json:"items,omitempty"`
	OrderedAt      time.Time  `json:"ordered_at,omitzero"`
}

func (s Snapshot) clone() Snapshot {
	cp := s
	if s.Items != nil {
		cp.Items = append([]LineItem(nil), s.Items...)
	}
	return cp
}
