package ledger

import (
	"errors"
	"fmt"
	"time"
)

// Status is the per-order reconciliation state persisted in the ledger.
type Status string

// Ledger statuses. Fetched is the only non-terminal one.
const (
	StatusFetched        Status = "fetched"
	StatusNoActionNeeded Status = "no_action_needed"
	StatusSuccess        Status = "payment_canceled_success"
	StatusFailed         Status = "payment_canceled_error"
)

// legacyFetched is the fetched status written by earlier versions of the tool.
const legacyFetched = "fetched_from_magento"

var (
	// ErrInvalidRecord is returned when a write would break the record invariants.
	ErrInvalidRecord = errors.New("invalid ledger record")
	// ErrNotFound is returned when an order has no ledger record.
	ErrNotFound = errors.New("ledger record not found")
)

// Terminal reports whether the status ends the order's lifecycle.
func (s Status) Terminal() bool {
	switch s {
	case StatusNoActionNeeded, StatusSuccess, StatusFailed:
		return true
	}
	return false
}

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	return s == StatusFetched || s.Terminal()
}

func (s Status) String() string { return string(s) }

// ParseStatus converts the persisted form of a status.
func ParseStatus(v string) (Status, error) {
	if v == legacyFetched {
		return StatusFetched, nil
	}
	s := Status(v)
	if !s.Valid() {
		return "", fmt.Errorf("unknown status %q", v)
	}
	return s, nil
}

// Record is one order's entry in the ledger.
type Record struct {
	OrderID     string    `json:"order_id" dynamodbav:"order_id"`
	Status      Status    `json:"status" dynamodbav:"status"`
	PaymentID   string    `json:"payment_id,omitempty" dynamodbav:"payment_id,omitempty"`
	ErrorDetail string    `json:"error_message,omitempty" dynamodbav:"error_message,omitempty"`
	UpdatedAt   time.Time `json:"updated_at" dynamodbav:"updated_at"`
}

// Validate checks the record invariants.
func (r Record) Validate() error {
	if r.OrderID == "" {
		return fmt.Errorf("%w: empty order id", ErrInvalidRecord)
	}
	if !r.Status.Valid() {
		return fmt.Errorf("%w: order %s: unknown status %q", ErrInvalidRecord, r.OrderID, r.Status)
	}
	switch r.Status {
	case StatusFailed:
		if r.ErrorDetail == "" {
			return fmt.Errorf("%w: order %s: failed without error detail", ErrInvalidRecord, r.OrderID)
		}
		if r.PaymentID == "" {
			return fmt.Errorf("%w: order %s: failed without payment id", ErrInvalidRecord, r.OrderID)
		}
	case StatusSuccess:
		if r.PaymentID == "" {
			return fmt.Errorf("%w: order %s: success without payment id", ErrInvalidRecord, r.OrderID)
		}
	}
	if r.Status != StatusFailed && r.ErrorDetail != "" {
		return fmt.Errorf("%w: order %s: error detail on %s record", ErrInvalidRecord, r.OrderID, r.Status)
	}
	return nil
}

// Summary counts ledger records by status.
type Summary struct {
	Total          int `json:"total"`
	Fetched        int `json:"fetched"`
	NoActionNeeded int `json:"no_action_needed"`
	Success        int `json:"success"`
	Failed         int `json:"failed"`
	Missing        int `json:"missing,omitempty"`
}
