package ledger

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/eventpass-backend/pkg/db/models"
	"github.com/angelmondragon/eventpass-backend/pkg/enums"
)

// Repository manages persistence for ledger events.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, event *models.LedgerEvent) error
	CreateIfNoneOpen(ctx context.Context, event *models.LedgerEvent) (bool, error)
	FindOpen(ctx context.Context, bookingID uuid.UUID, eventType enums.LedgerEventType) (*models.LedgerEvent, error)
	SettlePending(ctx context.Context, id uuid.UUID, status enums.LedgerEventStatus, externalRef *string) (bool, error)
	ListByBookingID(ctx context.Context, bookingID uuid.UUID) ([]models.LedgerEvent, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a ledger repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, event *models.LedgerEvent) error {
	return r.db.WithContext(ctx).Create(event).Error
}

// CreateIfNoneOpen inserts the event unless a pending or completed event of
// the same type already exists for the booking (ux_ledger_events_open).
func (r *repository) CreateIfNoneOpen(ctx context.Context, event *models.LedgerEvent) (bool, error) {
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(event)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) FindOpen(ctx context.Context, bookingID uuid.UUID, eventType enums.LedgerEventType) (*models.LedgerEvent, error) {
	var event models.LedgerEvent
	err := r.db.WithContext(ctx).
		Where("booking_id = ? AND type = ? AND status <> ?", bookingID, eventType, enums.LedgerEventStatusFailed).
		First(&event).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &event, nil
}

// SettlePending moves a pending event to its final status. False means the
// event was not pending anymore.
func (r *repository) SettlePending(ctx context.Context, id uuid.UUID, status enums.LedgerEventStatus, externalRef *string) (bool, error) {
	updates := map[string]any{"status": status}
	if externalRef != nil {
		updates["external_ref"] = *externalRef
	}
	res := r.db.WithContext(ctx).
		Model(&models.LedgerEvent{}).
		Where("id = ? AND status = ?", id, enums.LedgerEventStatusPending).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) ListByBookingID(ctx context.Context, bookingID uuid.UUID) ([]models.LedgerEvent, error) {
	var events []models.LedgerEvent
	if err := r.db.WithContext(ctx).
		Where("booking_id = ?", bookingID).
		Order("created_at ASC").
		Find(&events).Error; err != nil {
		return nil, err
	}
	return events, nil
}
