package audit

import "time"

// Outcome is what happened to a webhook delivery.
type Outcome string

const (
	OutcomeAccepted  Outcome = "accepted"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeRejected  Outcome = "rejected" // signature mismatch
	OutcomeInvalid   Outcome = "invalid"  // unparsable body
	OutcomeTooLarge  Outcome = "too_large"
)

// DeliveryRecord represents a single webhook delivery in the database
type DeliveryRecord struct {
	ID          int64     `json:"id"`
	EventID     string    `json:"event_id"`
	EventType   string    `json:"event_type"`
	DevicePhyID string    `json:"device_phy_id"`
	Outcome     Outcome   `json:"outcome"`
	RemoteAddr  string    `json:"remote_addr"`
	RequestID   string    `json:"request_id,omitempty"`
	ReceivedAt  time.Time `json:"received_at"`
	Detail      *string   `json:"detail,omitempty"` // nullable
}
