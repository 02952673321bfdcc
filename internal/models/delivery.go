package models

import "time"

// DeliveryOutcome is the ledger-relevant reading of a provider status.
type DeliveryOutcome string

const (
	OutcomeDelivered DeliveryOutcome = "delivered"
	OutcomeFailed    DeliveryOutcome = "failed"
	OutcomeIgnored   DeliveryOutcome = "ignored"
)

// OutcomeForStatus maps a provider message status to an outcome. sent, delivered
// and read all count as a successful dispatch.
func OutcomeForStatus(status string) DeliveryOutcome {
	switch status {
	case "sent", "delivered", "read":
		return OutcomeDelivered
	case "failed", "undelivered":
		return OutcomeFailed
	default:
		return OutcomeIgnored
	}
}

// DeliveryEvent is a provider status callback decoded at the boundary.
type DeliveryEvent struct {
	Source        string          `json:"source"`
	CorrelationID string          `json:"correlation_id"`
	Recipient     string          `json:"recipient"`
	Status        string          `json:"status"`
	Outcome       DeliveryOutcome `json:"outcome"`
	OccurredAt    time.Time       `json:"occurred_at"`
	FailureReason string          `json:"failure_reason,omitempty"`
}
