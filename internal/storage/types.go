package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage. An empty Driver or "none" disables it.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Result values recorded in the journal.
const (
	ResultSent      = "sent"
	ResultFailed    = "failed"
	ResultDiscarded = "discarded"
	ResultDropped   = "dropped"
)

// DeliveryRecord is one terminal outcome of a notification job.
type DeliveryRecord struct {
	JobID      string    `json:"job_id"`
	Kind       string    `json:"kind"`
	OrderID    int64     `json:"order_id"`
	Result     string    `json:"result"`
	Attempts   int       `json:"attempts"`
	Photo      bool      `json:"photo,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	FinishedAt time.Time `json:"finished_at"`
}
