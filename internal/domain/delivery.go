package domain

import "time"

type Status string

const (
	StatusSent        Status = "sent"
	StatusDuplicate   Status = "duplicate_ignored"
	StatusManualCheck Status = "needs_manual_check"
	StatusPDFDisabled Status = "pdf_disabled"
	StatusFailed      Status = "failed"
)

// Outcome is the result of one webhook run, returned to the caller as JSON.
type Outcome struct {
	Success  bool           `json:"success"`
	Status   Status         `json:"status"`
	OrderKey string         `json:"order_key,omitempty"`
	VIN      string         `json:"vin,omitempty"`
	Email    string         `json:"email,omitempty"`
	ReportID string         `json:"report_id,omitempty"`
	Reason   string         `json:"reason,omitempty"`
	Report   *VehicleReport `json:"report,omitempty"`

	// Retryable marks failures the caller should retry; such runs are not
	// recorded in the dedupe store.
	Retryable bool `json:"-"`
}

// DeliveryEvent is published once per terminal outcome.
type DeliveryEvent struct {
	OrderKey   string    `json:"order_key"`
	Status     Status    `json:"status"`
	VIN        string    `json:"vin,omitempty"`
	Email      string    `json:"email,omitempty"`
	ReportID   string    `json:"report_id,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// ResendCommand asks for a report to be rebuilt and delivered again,
// bypassing deduplication.
type ResendCommand struct {
	OrderKey string `json:"order_key"`
	VIN      string `json:"vin"`
	Email    string `json:"email"`
}

// DeliveryRecord is the journal row kept per order key.
type DeliveryRecord struct {
	OrderKey  string    `json:"order_key"`
	Status    Status    `json:"status"`
	VIN       string    `json:"vin,omitempty"`
	Email     string    `json:"email,omitempty"`
	ReportID  string    `json:"report_id,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
