package enums

import "fmt"

// LedgerEventType maps to the ledger_event_type_enum enum in Postgres.
type LedgerEventType string

const (
	LedgerEventTypePayment LedgerEventType = "payment"
	LedgerEventTypeRefund  LedgerEventType = "refund"
)

var validLedgerEventTypes = []LedgerEventType{
	LedgerEventTypePayment,
	LedgerEventTypeRefund,
}

// IsValid reports whether the value matches the canonical ledger event enum.
func (t LedgerEventType) IsValid() bool {
	for _, candidate := range validLedgerEventTypes {
		if candidate == t {
			return true
		}
	}
	return false
}

// ParseLedgerEventType converts raw input into LedgerEventType.
func ParseLedgerEventType(value string) (LedgerEventType, error) {
	for _, candidate := range validLedgerEventTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid ledger event type %q", value)
}

// LedgerEventStatus maps to the ledger_event_status_enum enum in Postgres.
type LedgerEventStatus string

const (
	LedgerEventStatusPending   LedgerEventStatus = "pending"
	LedgerEventStatusCompleted LedgerEventStatus = "completed"
	LedgerEventStatusFailed    LedgerEventStatus = "failed"
)

// IsValid reports whether the value is a known ledger event status.
func (s LedgerEventStatus) IsValid() bool {
	return s == LedgerEventStatusPending || s.IsSettled()
}

// IsSettled reports whether money movement for the event has a final outcome.
func (s LedgerEventStatus) IsSettled() bool {
	return s == LedgerEventStatusCompleted || s == LedgerEventStatusFailed
}
