package enums

import "fmt"

// BookingStatus maps to the booking_status_enum enum in Postgres.
type BookingStatus string

const (
	BookingStatusConfirmed BookingStatus = "confirmed"
	BookingStatusRefunded  BookingStatus = "refunded"
	BookingStatusFailed    BookingStatus = "failed"
)

var validBookingStatuses = []BookingStatus{
	BookingStatusConfirmed,
	BookingStatusRefunded,
	BookingStatusFailed,
}

// String implements fmt.Stringer.
func (s BookingStatus) String() string {
	return string(s)
}

// IsValid reports whether the value matches the canonical booking status enum.
func (s BookingStatus) IsValid() bool {
	for _, candidate := range validBookingStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// ParseBookingStatus converts raw input into BookingStatus.
func ParseBookingStatus(value string) (BookingStatus, error) {
	for _, candidate := range validBookingStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid booking status %q", value)
}
