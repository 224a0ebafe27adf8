package ledger

import (
	"context"
	"encoding/json"
	stdErrors "errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/eventpass-backend/pkg/db/models"
	dbtypes "github.com/angelmondragon/eventpass-backend/pkg/db/types"
	"github.com/angelmondragon/eventpass-backend/pkg/enums"
)

// Service records money movements correlated to bookings.
type Service interface {
	WithTx(tx *gorm.DB) Service
	RecordEvent(ctx context.Context, input RecordLedgerEventInput) (*models.LedgerEvent, error)
	Claim(ctx context.Context, input RecordLedgerEventInput) (*models.LedgerEvent, bool, error)
	Settle(ctx context.Context, id uuid.UUID, status enums.LedgerEventStatus, externalRef string) error
	HasEvent(ctx context.Context, bookingID uuid.UUID, eventType enums.LedgerEventType, status enums.LedgerEventStatus) (bool, error)
	ListEvents(ctx context.Context, bookingID uuid.UUID) ([]models.LedgerEvent, error)
}

type service struct {
	repo Repository
}

// ErrAlreadySettled reports a Settle call on an event that is no longer pending.
var ErrAlreadySettled = stdErrors.New("ledger: event already settled")

// claimAttempts bounds the insert/lookup loop when the open event is settled
// as failed between the two statements.
const claimAttempts = 3

// RecordLedgerEventInput captures the immutable data a ledger event requires.
type RecordLedgerEventInput struct {
	BookingID   uuid.UUID               `json:"booking_id"`
	UserID      uuid.UUID               `json:"user_id"`
	Type        enums.LedgerEventType   `json:"type"`
	Status      enums.LedgerEventStatus `json:"status"`
	Amount      decimal.Decimal         `json:"amount"`
	ExternalRef string                  `json:"external_ref"`
	Metadata    json.RawMessage         `json:"metadata"`
}

// NewService wires a ledger service with the provided repository.
func NewService(repo Repository) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("ledger repository required")
	}
	return &service{repo: repo}, nil
}

func (s *service) WithTx(tx *gorm.DB) Service {
	return &service{repo: s.repo.WithTx(tx)}
}

func (s *service) RecordEvent(ctx context.Context, input RecordLedgerEventInput) (*models.LedgerEvent, error) {
	if !input.Status.IsSettled() {
		return nil, fmt.Errorf("invalid ledger event status %q", input.Status)
	}
	event, err := newEvent(input)
	if err != nil {
		return nil, err
	}
	if err := s.repo.Create(ctx, event); err != nil {
		return nil, err
	}
	return event, nil
}

// Claim records a pending event before money moves. At most one pending or
// completed event per booking and type exists; when another holds that slot
// Claim returns it with claimed=false.
func (s *service) Claim(ctx context.Context, input RecordLedgerEventInput) (*models.LedgerEvent, bool, error) {
	input.Status = enums.LedgerEventStatusPending
	input.ExternalRef = ""
	for attempt := 0; attempt < claimAttempts; attempt++ {
		event, err := newEvent(input)
		if err != nil {
			return nil, false, err
		}
		created, err := s.repo.CreateIfNoneOpen(ctx, event)
		if err != nil {
			return nil, false, err
		}
		if created {
			return event, true, nil
		}
		holder, err := s.repo.FindOpen(ctx, input.BookingID, input.Type)
		if err != nil {
			return nil, false, err
		}
		if holder != nil {
			return holder, false, nil
		}
	}
	return nil, false, fmt.Errorf("ledger claim for booking %s kept changing", input.BookingID)
}

// Settle resolves a pending claim to completed or failed.
func (s *service) Settle(ctx context.Context, id uuid.UUID, status enums.LedgerEventStatus, externalRef string) error {
	if id == uuid.Nil {
		return fmt.Errorf("ledger event id is required")
	}
	if !status.IsSettled() {
		return fmt.Errorf("invalid ledger event status %q", status)
	}
	var ref *string
	if externalRef != "" {
		ref = &externalRef
	}
	settled, err := s.repo.SettlePending(ctx, id, status, ref)
	if err != nil {
		return err
	}
	if !settled {
		return ErrAlreadySettled
	}
	return nil
}

func newEvent(input RecordLedgerEventInput) (*models.LedgerEvent, error) {
	if input.BookingID == uuid.Nil {
		return nil, fmt.Errorf("booking id is required")
	}
	if input.UserID == uuid.Nil {
		return nil, fmt.Errorf("user id is required")
	}
	if !input.Type.IsValid() {
		return nil, fmt.Errorf("invalid ledger event type %q", input.Type)
	}
	if !input.Status.IsValid() {
		return nil, fmt.Errorf("invalid ledger event status %q", input.Status)
	}
	if input.Amount.IsNegative() {
		return nil, fmt.Errorf("ledger amount must not be negative")
	}

	event := &models.LedgerEvent{
		ID:        uuid.New(),
		BookingID: input.BookingID,
		UserID:    input.UserID,
		Type:      input.Type,
		Status:    input.Status,
		Amount:    input.Amount,
	}
	if input.ExternalRef != "" {
		ref := input.ExternalRef
		event.ExternalRef = &ref
	}
	if len(input.Metadata) > 0 {
		event.Metadata = dbtypes.JSON(input.Metadata)
	}
	return event, nil
}

func (s *service) HasEvent(ctx context.Context, bookingID uuid.UUID, eventType enums.LedgerEventType, status enums.LedgerEventStatus) (bool, error) {
	if bookingID == uuid.Nil {
		return false, fmt.Errorf("booking id is required")
	}
	if !eventType.IsValid() {
		return false, fmt.Errorf("invalid ledger event type %q", eventType)
	}

	events, err := s.repo.ListByBookingID(ctx, bookingID)
	if err != nil {
		return false, err
	}
	for _, event := range events {
		if event.Type == eventType && event.Status == status {
			return true, nil
		}
	}
	return false, nil
}

func (s *service) ListEvents(ctx context.Context, bookingID uuid.UUID) ([]models.LedgerEvent, error) {
	if bookingID == uuid.Nil {
		return nil, fmt.Errorf("booking id is required")
	}
	return s.repo.ListByBookingID(ctx, bookingID)
}
