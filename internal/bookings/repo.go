package bookings

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/eventpass-backend/pkg/db/models"
	"github.com/angelmondragon/eventpass-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/eventpass-backend/pkg/errors"
)

// Repository persists bookings. Rows are inserted once; afterwards only the
// status column moves, and only through TransitionStatus.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, booking *models.Booking) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Booking, error)
	FindByQRCode(ctx context.Context, voucher string) (*models.Booking, error)
	TransitionStatus(ctx context.Context, id uuid.UUID, from, to enums.BookingStatus) (bool, error)
	ListByUser(ctx context.Context, userID uuid.UUID) ([]models.Booking, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a booking repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, booking *models.Booking) error {
	if booking == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "booking is required")
	}
	if !booking.Status.IsValid() {
		return pkgerrors.New(pkgerrors.CodeValidation, "invalid booking status")
	}
	return r.db.WithContext(ctx).Omit("Event", "Tier").Create(booking).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Booking, error) {
	var booking models.Booking
	err := r.db.WithContext(ctx).
		Preload("Event").
		Preload("Tier").
		Where("id = ?", id).
		First(&booking).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "booking not found")
		}
		return nil, err
	}
	return &booking, nil
}

// FindByQRCode loads the booking whose stored voucher equals the input
// exactly. It returns nil, nil when no booking carries the voucher.
func (r *repository) FindByQRCode(ctx context.Context, voucher string) (*models.Booking, error) {
	var booking models.Booking
	err := r.db.WithContext(ctx).
		Preload("Event").
		Preload("Tier").
		Where("qr_code = ?", voucher).
		First(&booking).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &booking, nil
}

// TransitionStatus moves the booking from one status to another only while it
// is still in from. A false result means the row was not in the expected state.
func (r *repository) TransitionStatus(ctx context.Context, id uuid.UUID, from, to enums.BookingStatus) (bool, error) {
	if !from.IsValid() || !to.IsValid() {
		return false, pkgerrors.New(pkgerrors.CodeValidation, "invalid booking status")
	}
	res := r.db.WithContext(ctx).
		Model(&models.Booking{}).
		Where("id = ? AND status = ?", id, from).
		Update("status", to)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) ListByUser(ctx context.Context, userID uuid.UUID) ([]models.Booking, error) {
	var rows []models.Booking
	if err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}
