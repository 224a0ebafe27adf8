package payments

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/eventpass-backend/internal/bookings"
	"github.com/angelmondragon/eventpass-backend/internal/inventory"
	"github.com/angelmondragon/eventpass-backend/internal/ledger"
	"github.com/angelmondragon/eventpass-backend/pkg/db/models"
	"github.com/angelmondragon/eventpass-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/eventpass-backend/pkg/errors"
	"github.com/angelmondragon/eventpass-backend/pkg/logger"
	"github.com/angelmondragon/eventpass-backend/pkg/outbox"
	"github.com/angelmondragon/eventpass-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/eventpass-backend/pkg/validators"
)

// Restocker returns stock inside a caller-owned transaction.
type Restocker interface {
	RestockTx(ctx context.Context, tx *gorm.DB, req inventory.RestockRequest) (bool, error)
}

// EventEmitter queues outbox events inside a transaction.
type EventEmitter interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// settleTimeout bounds ledger and booking writes that follow a processor call.
const settleTimeout = 5 * time.Second

type Params struct {
	Tx        txRunner
	Bookings  bookings.Repository
	Ledger    ledger.Service
	Inventory Restocker
	Outbox    EventEmitter
	Gateway   Gateway
	Logger    *logger.Logger
	Now       func() time.Time
}

// Service moves money for bookings and drives the refund transition.
type Service struct {
	tx        txRunner
	bookings  bookings.Repository
	ledger    ledger.Service
	inventory Restocker
	outbox    EventEmitter
	gateway   Gateway
	logg      *logger.Logger
	now       func() time.Time
}

func NewService(p Params) (*Service, error) {
	switch {
	case p.Tx == nil:
		return nil, fmt.Errorf("tx runner required")
	case p.Bookings == nil:
		return nil, fmt.Errorf("booking repository required")
	case p.Ledger == nil:
		return nil, fmt.Errorf("ledger service required")
	case p.Inventory == nil:
		return nil, fmt.Errorf("inventory restocker required")
	case p.Outbox == nil:
		return nil, fmt.Errorf("outbox emitter required")
	case p.Gateway == nil:
		return nil, fmt.Errorf("payment gateway required")
	case p.Logger == nil:
		return nil, fmt.Errorf("logger required")
	}
	if p.Now == nil {
		p.Now = time.Now
	}
	return &Service{
		tx:        p.Tx,
		bookings:  p.Bookings,
		ledger:    p.Ledger,
		inventory: p.Inventory,
		outbox:    p.Outbox,
		gateway:   p.Gateway,
		logg:      p.Logger,
		now:       p.Now,
	}, nil
}

// BookingInput names the booking a payment operation acts on.
type BookingInput struct {
	BookingID uuid.UUID `json:"booking_id" validate:"required"`
}

// CaptureResult reports the charge recorded for a booking.
type CaptureResult struct {
	Reference       string
	AlreadyCaptured bool
}

// Capture charges the booking total once. The payment is claimed in the
// ledger before the processor is called, so overlapping captures charge at
// most once; a repeated call after a completed charge is a no-op.
func (s *Service) Capture(ctx context.Context, input BookingInput) (*CaptureResult, error) {
	if err := validators.Struct(input); err != nil {
		return nil, err
	}
	ctx = s.logg.WithBookingID(ctx, input.BookingID.String())

	booking, err := s.bookings.FindByID(ctx, input.BookingID)
	if err != nil {
		return nil, err
	}
	if booking.Status != enums.BookingStatusConfirmed {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "only confirmed bookings can be charged")
	}

	claim, claimed, err := s.ledger.Claim(ctx, ledger.RecordLedgerEventInput{
		BookingID: booking.ID,
		UserID:    booking.UserID,
		Type:      enums.LedgerEventTypePayment,
		Amount:    booking.TotalPrice,
		Metadata:  gatewayMetadata(s.gateway),
	})
	if err != nil {
		return nil, err
	}
	if !claimed {
		if claim.Status == enums.LedgerEventStatusCompleted {
			return &CaptureResult{Reference: derefString(claim.ExternalRef), AlreadyCaptured: true}, nil
		}
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "payment already in progress")
	}

	result, err := s.gateway.ProcessPayment(ctx, PaymentRequest{
		BookingID:      booking.ID,
		BuyerID:        booking.UserID,
		EventID:        booking.EventID,
		TierID:         booking.TicketID,
		Amount:         booking.TotalPrice,
		IdempotencyKey: idempotencyKey(enums.LedgerEventTypePayment, booking.ID),
	})
	if err != nil {
		s.release(ctx, claim)
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "payment processor unavailable")
	}
	if result.Status != enums.LedgerEventStatusCompleted {
		result.Status = enums.LedgerEventStatusFailed
	}

	settleCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), settleTimeout)
	defer cancel()
	if err := s.ledger.Settle(settleCtx, claim.ID, result.Status, result.Reference); err != nil {
		s.logg.Error(s.logg.WithField(ctx, "reference", result.Reference), "payment settled at processor but ledger update failed", err)
		return nil, err
	}

	if result.Status == enums.LedgerEventStatusFailed {
		s.logg.Warn(ctx, "payment declined")
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "payment was declined")
	}
	s.logg.Info(s.logg.WithField(ctx, "reference", result.Reference), "payment captured")
	return &CaptureResult{Reference: result.Reference}, nil
}

// Refund refunds a confirmed booking. The refund is claimed in the ledger
// before the processor is called, so overlapping refunds move money at most
// once. After the processor succeeds one transaction moves the booking to
// refunded, returns its stock, settles the claim and queues booking_refunded.
func (s *Service) Refund(ctx context.Context, input BookingInput) (*models.Booking, error) {
	if err := validators.Struct(input); err != nil {
		return nil, err
	}
	ctx = s.logg.WithBookingID(ctx, input.BookingID.String())

	booking, err := s.bookings.FindByID(ctx, input.BookingID)
	if err != nil {
		return nil, err
	}
	if booking.Status != enums.BookingStatusConfirmed {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "only confirmed bookings can be refunded")
	}

	claim, claimed, err := s.ledger.Claim(ctx, ledger.RecordLedgerEventInput{
		BookingID: booking.ID,
		UserID:    booking.UserID,
		Type:      enums.LedgerEventTypeRefund,
		Amount:    booking.TotalPrice,
		Metadata:  gatewayMetadata(s.gateway),
	})
	if err != nil {
		return nil, err
	}
	if !claimed {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "booking refund already in progress").
			WithDetails(map[string]string{"ledger_status": string(claim.Status)})
	}

	result, err := s.gateway.ProcessRefund(ctx, RefundRequest{
		BookingID:      booking.ID,
		Amount:         booking.TotalPrice,
		IdempotencyKey: idempotencyKey(enums.LedgerEventTypeRefund, booking.ID),
	})
	if err != nil {
		s.release(ctx, claim)
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "refund was not processed")
	}

	// Money has moved; the bookkeeping below must not be cut short by the caller.
	txCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), settleTimeout)
	defer cancel()

	refundedAt := s.now().UTC()
	var restocked bool
	err = s.tx.WithTx(txCtx, func(tx *gorm.DB) error {
		moved, err := s.bookings.WithTx(tx).TransitionStatus(txCtx, booking.ID, enums.BookingStatusConfirmed, enums.BookingStatusRefunded)
		if err != nil {
			return err
		}
		if !moved {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "booking was already refunded")
		}

		restocked, err = s.inventory.RestockTx(txCtx, tx, inventory.RestockRequest{
			TierID:    booking.TicketID,
			BookingID: booking.ID,
			Quantity:  booking.Quantity,
		})
		if err != nil {
			return err
		}

		if err := s.ledger.WithTx(tx).Settle(txCtx, claim.ID, enums.LedgerEventStatusCompleted, result.Reference); err != nil {
			return err
		}

		return s.outbox.Emit(txCtx, tx, outbox.DomainEvent{
			EventType:     enums.EventBookingRefunded,
			AggregateType: enums.AggregateBooking,
			AggregateID:   booking.ID,
			Data: payloads.BookingRefundedEvent{
				BookingID:  booking.ID,
				UserID:     booking.UserID,
				TicketID:   booking.TicketID,
				Quantity:   booking.Quantity,
				Amount:     booking.TotalPrice,
				Restocked:  restocked,
				RefundedAt: refundedAt,
			},
			OccurredAt: refundedAt,
		})
	})
	if err != nil {
		// The claim stays pending so the booking cannot be refunded again
		// before it is reconciled against the processor reference.
		s.logg.Error(s.logg.WithField(ctx, "reference", result.Reference), "refund transition failed after processor refund", err)
		return nil, err
	}

	booking.Status = enums.BookingStatusRefunded
	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"reference": result.Reference,
		"restocked": restocked,
	}), "booking refunded")
	return booking, nil
}

// release marks a claim failed after the processor call errored, which frees
// the slot for a retry under the same idempotency key.
func (s *Service) release(ctx context.Context, claim *models.LedgerEvent) {
	releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), settleTimeout)
	defer cancel()
	if err := s.ledger.Settle(releaseCtx, claim.ID, enums.LedgerEventStatusFailed, ""); err != nil {
		s.logg.Error(ctx, "could not release ledger claim", err)
	}
}

func idempotencyKey(eventType enums.LedgerEventType, bookingID uuid.UUID) string {
	return string(eventType) + ":" + bookingID.String()
}

func derefString(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}

func gatewayMetadata(g Gateway) json.RawMessage {
	raw, err := json.Marshal(map[string]string{"gateway": fmt.Sprintf("%T", g)})
	if err != nil {
		return nil
	}
	return raw
}
