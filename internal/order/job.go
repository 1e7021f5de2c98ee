package order

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

var ErrInvalidJob = errors.New("invalid notification job")

// Job is one unit of notification work derived from a single business event.
//
// Treat it as immutable: the dispatcher clones it on submission and never
// writes to it afterwards. Retries build a new attempt, not a new Job.
type Job struct {
	ID        string    `json:"id"`
	Kind      Kind      `json:"kind"`
	OrderID   int64     `json:"order_id"`
	Snapshot  Snapshot  `json:"snapshot"`
	ImageRef  string    `json:"image_ref,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

func newJob(kind Kind, orderID int64, snap Snapshot, imageRef string) Job {
	return Job{
		ID:        uuid.NewString(),
		Kind:      kind,
		OrderID:   orderID,
		Snapshot:  snap.clone(),
		ImageRef:  strings.TrimSpace(imageRef),
		CreatedAt: time.Now(),
	}
}

// NewOrderCreated builds the job submitted once an order (and its items) is
// committed.
func NewOrderCreated(orderID int64, snap Snapshot, imageRef string) Job {
	return newJob(KindOrderCreated, orderID, snap, imageRef)
}

// NewStatusChanged builds the job submitted once a status transition is
// persisted. The statuses are written into the snapshot copy.
func NewStatusChanged(orderID int64, snap Snapshot, from, to Status) Job {
	snap.OldStatus = from
	snap.NewStatus = to
	return newJob(KindOrderStatusChanged, orderID, snap, "")
}

// NewTestOrder builds the ad-hoc diagnostic job used to smoke-test delivery.
func NewTestOrder(bouquet string, price Money, deliveryDate, imagePath string) Job {
	snap := Snapshot{
		Username:     "operator",
		Total:        price,
		DeliveryDate: deliveryDate,
		Items:        []LineItem{{Name: bouquet, Quantity: 1}},
	}
	return newJob(KindTestOrder, 0, snap, imagePath)
}

// Clone returns a deep copy. Jobs built outside the constructors (e.g. decoded
// from JSON) get an ID and CreatedAt here when missing.
func (j Job) Clone() Job {
	cp := j
	cp.Snapshot = j.Snapshot.clone()
	if cp.ID == "" {
		cp.ID = uuid.NewString()
	}
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now()
	}
	return cp
}

// Validate reports whether the job is well-formed.
func (j Job) Validate() error {
	if !j.Kind.Valid() {
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidJob, j.Kind)
	}
	if j.OrderID < 0 {
		return fmt.Errorf("%w: negative order id", ErrInvalidJob)
	}
	if j.Kind != KindTestOrder && j.OrderID == 0 {
		return fmt.Errorf("%w: order id is required", ErrInvalidJob)
	}
	if j.Snapshot.Total.Minor < 0 {
		return fmt.Errorf("%w: negative total", ErrInvalidJob)
	}
	if j.Kind == KindOrderStatusChanged && (j.Snapshot.OldStatus == "" || j.Snapshot.NewStatus == "") {
		return fmt.Errorf("%w: status change needs old and new status", ErrInvalidJob)
	}
	return nil
}

// DedupKey identifies the business event for idempotency: one key per
// (kind, order, target status).
func (j Job) DedupKey() string {
	if j.Kind == KindTestOrder {
		return ""
	}
	return string(j.Kind) + ":" + strconv.FormatInt(j.OrderID, 10) + ":" + string(j.Snapshot.NewStatus)
}

// ParseAmount converts a decimal string ("35", "35.5", "35.00") into minor
// units.
func ParseAmount(s string) (int64, error) {
	s = strings.TrimSpace(strings.ReplaceAll(s, ",", "."))
	if s == "" {
		return 0, fmt.Errorf("empty amount")
	}
	neg := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(s, "-")
	whole, frac, _ := strings.Cut(s, ".")
	if whole == "" {
		whole = "0"
	}
	if len(frac) > 2 {
		return 0, fmt.Errorf("amount %q: more than two decimals", s)
	}
	for len(frac) < 2 {
		frac += "0"
	}
	w, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("amount %q: %w", s, err)
	}
	f, err := strconv.ParseInt(frac, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("amount %q: %w", s, err)
	}
	if w < 0 || f < 0 || w > (math.MaxInt64-f)/100 {
		return 0, fmt.Errorf("amount %q: out of range", s)
	}
	v := w*100 + f
	if neg {
		v = -v
	}
	return v, nil
}
