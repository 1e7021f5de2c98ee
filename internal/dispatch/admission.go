package dispatch

// Admission is the result of Submit. None of the values is an error: a full
// buffer or a closed dispatcher is reported, logged and counted, never raised.
type Admission int

const (
	Accepted Admission = iota
	// AcceptedDroppedOldest means the job was queued after evicting the
	// oldest waiting job (drop_oldest policy).
	AcceptedDroppedOldest
	// Rejected means the buffer was full under reject_new.
	Rejected
	// Duplicate means the same business event was seen within the dedup window.
	Duplicate
	Invalid
	// Closed means shutdown has begun.
	Closed
)

var admissionNames = [...]string{
	Accepted:              "accepted",
	AcceptedDroppedOldest: "accepted_dropped_oldest",
	Rejected:              "rejected",
	Duplicate:             "duplicate",
	Invalid:               "invalid",
	Closed:                "closed",
}

func (a Admission) String() string {
	if a >= 0 && int(a) < len(admissionNames) {
		return admissionNames[a]
	}
	return "unknown"
}

func (a Admission) MarshalText() ([]byte, error) { return []byte(a.String()), nil }

// Queued reports whether the job entered the buffer.
func (a Admission) Queued() bool { return a == Accepted || a == AcceptedDroppedOldest }

// State is the lifecycle position of a job inside the dispatcher.
type State string

const (
	StateQueued    State = "queued"
	StateSending   State = "sending"
	StateRetrying  State = "retrying"
	StateSent      State = "sent"
	StateFailed    State = "failed"
	StateDiscarded State = "discarded"
)
