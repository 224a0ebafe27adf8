package payments

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/eventpass-backend/pkg/enums"
)

// PaymentRequest is one charge for a booking total. Processors must treat
// IdempotencyKey as the dedupe key for the charge.
type PaymentRequest struct {
	BookingID      uuid.UUID
	BuyerID        uuid.UUID
	EventID        uuid.UUID
	TierID         uuid.UUID
	Amount         decimal.Decimal
	IdempotencyKey string
}

// RefundRequest returns the charged total of a booking.
type RefundRequest struct {
	BookingID      uuid.UUID
	Amount         decimal.Decimal
	IdempotencyKey string
}

// PaymentResult is the processor's verdict on a charge.
type PaymentResult struct {
	Status    enums.LedgerEventStatus
	Reference string
}

// RefundResult carries the processor reference of a completed refund.
type RefundResult struct {
	Reference string
}

// Gateway is the payment processor boundary.
type Gateway interface {
	ProcessPayment(ctx context.Context, req PaymentRequest) (PaymentResult, error)
	ProcessRefund(ctx context.Context, req RefundRequest) (RefundResult, error)
}

// StubGateway approves every charge and refund.
type StubGateway struct {
	Now func() time.Time
}

func (g StubGateway) now() time.Time {
	if g.Now != nil {
		return g.Now()
	}
	return time.Now()
}

func (g StubGateway) ProcessPayment(ctx context.Context, req PaymentRequest) (PaymentResult, error) {
	if err := ctx.Err(); err != nil {
		return PaymentResult{}, err
	}
	return PaymentResult{
		Status:    enums.LedgerEventStatusCompleted,
		Reference: fmt.Sprintf("PAY-%d", g.now().UnixNano()),
	}, nil
}

func (g StubGateway) ProcessRefund(ctx context.Context, req RefundRequest) (RefundResult, error) {
	if err := ctx.Err(); err != nil {
		return RefundResult{}, err
	}
	return RefundResult{Reference: fmt.Sprintf("REF-%d", g.now().UnixNano())}, nil
}
