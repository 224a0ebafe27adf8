package inventory

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/eventpass-backend/pkg/db/models"
	"github.com/angelmondragon/eventpass-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/eventpass-backend/pkg/errors"
)

// Repository manages ticket tier stock and the movement journal.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindTier(ctx context.Context, tierID uuid.UUID) (*models.TicketTier, error)
	CompareAndSwapQuantity(ctx context.Context, tierID uuid.UUID, expected, next int) (bool, error)
	DecrementIfAvailable(ctx context.Context, tierID, eventID uuid.UUID, quantity int) (bool, error)
	IncrementQuantity(ctx context.Context, tierID uuid.UUID, quantity int) error
	CreateMovement(ctx context.Context, movement *models.InventoryMovement) (bool, error)
	FindMovement(ctx context.Context, bookingID uuid.UUID, kind enums.InventoryMovementKind) (*models.InventoryMovement, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns an inventory repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) FindTier(ctx context.Context, tierID uuid.UUID) (*models.TicketTier, error) {
	var tier models.TicketTier
	err := r.db.WithContext(ctx).Where("id = ?", tierID).First(&tier).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "ticket tier not found")
		}
		return nil, err
	}
	return &tier, nil
}

// CompareAndSwapQuantity writes next only while the stored quantity still
// equals expected. A false result means another writer got there first.
func (r *repository) CompareAndSwapQuantity(ctx context.Context, tierID uuid.UUID, expected, next int) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.TicketTier{}).
		Where("id = ? AND quantity = ?", tierID, expected).
		Update("quantity", next)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// DecrementIfAvailable subtracts quantity in a single guarded statement.
func (r *repository) DecrementIfAvailable(ctx context.Context, tierID, eventID uuid.UUID, quantity int) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.TicketTier{}).
		Where("id = ? AND event_id = ? AND quantity >= ?", tierID, eventID, quantity).
		Update("quantity", gorm.Expr("quantity - ?", quantity))
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// IncrementQuantity adds stock back without a guard on the current value.
// Restock is made conditional by the restock movement written in the same
// transaction: a second restock for a booking never reaches this call.
func (r *repository) IncrementQuantity(ctx context.Context, tierID uuid.UUID, quantity int) error {
	res := r.db.WithContext(ctx).
		Model(&models.TicketTier{}).
		Where("id = ?", tierID).
		Update("quantity", gorm.Expr("quantity + ?", quantity))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return pkgerrors.New(pkgerrors.CodeNotFound, "ticket tier not found")
	}
	return nil
}

// CreateMovement inserts the movement unless one already exists for the same
// booking and kind, in which case it reports false.
func (r *repository) CreateMovement(ctx context.Context, movement *models.InventoryMovement) (bool, error) {
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(movement)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) FindMovement(ctx context.Context, bookingID uuid.UUID, kind enums.InventoryMovementKind) (*models.InventoryMovement, error) {
	var movement models.InventoryMovement
	err := r.db.WithContext(ctx).
		Where("booking_id = ? AND kind = ?", bookingID, kind).
		First(&movement).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &movement, nil
}
