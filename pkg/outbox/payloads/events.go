package payloads

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// BookingConfirmedEvent is emitted when a purchase lands with a minted voucher.
// The voucher itself is never part of the payload.
type BookingConfirmedEvent struct {
	BookingID   uuid.UUID       `json:"booking_id"`
	UserID      uuid.UUID       `json:"user_id"`
	EventID     uuid.UUID       `json:"event_id"`
	TicketID    uuid.UUID       `json:"ticket_id"`
	Quantity    int             `json:"quantity"`
	TotalPrice  decimal.Decimal `json:"total_price"`
	ConfirmedAt time.Time       `json:"confirmed_at"`
}

// BookingRefundedEvent is emitted after the refund transition commits.
type BookingRefundedEvent struct {
	BookingID  uuid.UUID       `json:"booking_id"`
	UserID     uuid.UUID       `json:"user_id"`
	TicketID   uuid.UUID       `json:"ticket_id"`
	Quantity   int             `json:"quantity"`
	Amount     decimal.Decimal `json:"amount"`
	Restocked  bool            `json:"restocked"`
	RefundedAt time.Time       `json:"refunded_at"`
}
