package inventory

import (
	"context"
	stdErrors "errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/eventpass-backend/pkg/db/models"
	"github.com/angelmondragon/eventpass-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/eventpass-backend/pkg/errors"
	"github.com/angelmondragon/eventpass-backend/pkg/logger"
)

var (
	// ErrConflict reports a lost compare-and-swap; the caller should re-read and retry.
	ErrConflict = stdErrors.New("inventory: tier changed concurrently")
	// ErrAlreadyReserved reports that a reserve movement for the reservation id
	// has already been committed, so stock was taken exactly once.
	ErrAlreadyReserved = stdErrors.New("inventory: reservation already recorded")
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Snapshot is the tier state observed by a successful reservation.
type Snapshot struct {
	TierID    uuid.UUID
	EventID   uuid.UUID
	Name      string
	Price     decimal.Decimal
	Remaining int
}

func snapshotOf(tier *models.TicketTier) Snapshot {
	return Snapshot{
		TierID:    tier.ID,
		EventID:   tier.EventID,
		Name:      tier.Name,
		Price:     tier.Price,
		Remaining: tier.Quantity,
	}
}

// ReserveRequest identifies one decrement. ReservationID is the booking id
// the stock is taken for and keys the movement journal.
type ReserveRequest struct {
	TierID        uuid.UUID
	EventID       uuid.UUID
	Quantity      int
	ReservationID uuid.UUID
}

func (r ReserveRequest) validate() error {
	if r.TierID == uuid.Nil || r.EventID == uuid.Nil || r.ReservationID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "tier, event and reservation ids are required")
	}
	if r.Quantity < 1 {
		return pkgerrors.New(pkgerrors.CodeValidation, "quantity must be at least 1")
	}
	return nil
}

// RestockRequest returns stock taken for a booking.
type RestockRequest struct {
	TierID    uuid.UUID
	BookingID uuid.UUID
	Quantity  int
}

// Ledger is the authoritative per-tier stock count.
type Ledger struct {
	tx   txRunner
	repo Repository
	logg *logger.Logger
}

func NewLedger(tx txRunner, repo Repository, logg *logger.Logger) (*Ledger, error) {
	if tx == nil {
		return nil, fmt.Errorf("tx runner required")
	}
	if repo == nil {
		return nil, fmt.Errorf("inventory repository required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &Ledger{tx: tx, repo: repo, logg: logg}, nil
}

// Reserve makes a single compare-and-swap attempt. It fails with
// INSUFFICIENT_INVENTORY without writing when stock is short, and with
// ErrConflict when the observed quantity changed before the write landed.
func (l *Ledger) Reserve(ctx context.Context, req ReserveRequest) (Snapshot, error) {
	if err := req.validate(); err != nil {
		return Snapshot{}, err
	}

	tier, err := l.repo.FindTier(ctx, req.TierID)
	if err != nil {
		return Snapshot{}, err
	}
	if tier.EventID != req.EventID {
		return Snapshot{}, pkgerrors.New(pkgerrors.CodeNotFound, "ticket tier not found for event")
	}
	if tier.Quantity < req.Quantity {
		return Snapshot{}, insufficient(req.Quantity, tier.Quantity)
	}

	observed := tier.Quantity
	next := observed - req.Quantity
	err = l.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := l.repo.WithTx(tx)
		created, err := repo.CreateMovement(ctx, &models.InventoryMovement{
			ID:        uuid.New(),
			TierID:    req.TierID,
			BookingID: req.ReservationID,
			Kind:      enums.InventoryMovementReserve,
			Quantity:  req.Quantity,
		})
		if err != nil {
			return err
		}
		if !created {
			return ErrAlreadyReserved
		}
		swapped, err := repo.CompareAndSwapQuantity(ctx, req.TierID, observed, next)
		if err != nil {
			return err
		}
		if !swapped {
			return ErrConflict
		}
		return nil
	})
	if err != nil {
		return Snapshot{}, err
	}

	tier.Quantity = next
	return snapshotOf(tier), nil
}

// Restock gives back the stock taken for a booking. It is idempotent per
// booking id: a second call reports false and changes nothing.
func (l *Ledger) Restock(ctx context.Context, req RestockRequest) (bool, error) {
	var restocked bool
	err := l.tx.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		restocked, err = l.RestockTx(ctx, tx, req)
		return err
	})
	return restocked, err
}

// RestockTx is Restock inside a caller-owned transaction.
func (l *Ledger) RestockTx(ctx context.Context, tx *gorm.DB, req RestockRequest) (bool, error) {
	if req.TierID == uuid.Nil || req.BookingID == uuid.Nil {
		return false, pkgerrors.New(pkgerrors.CodeValidation, "tier and booking ids are required")
	}
	if req.Quantity < 1 {
		return false, pkgerrors.New(pkgerrors.CodeValidation, "quantity must be at least 1")
	}

	repo := l.repo.WithTx(tx)
	created, err := repo.CreateMovement(ctx, &models.InventoryMovement{
		ID:        uuid.New(),
		TierID:    req.TierID,
		BookingID: req.BookingID,
		Kind:      enums.InventoryMovementRestock,
		Quantity:  req.Quantity,
	})
	if err != nil {
		return false, err
	}
	if !created {
		l.logg.Info(l.logg.WithBookingID(ctx, req.BookingID.String()), "restock already applied")
		return false, nil
	}
	if err := repo.IncrementQuantity(ctx, req.TierID, req.Quantity); err != nil {
		return false, err
	}
	return true, nil
}

// ReservationRecorded does a fresh read of the movement journal to learn
// whether stock was taken for the reservation id.
func (l *Ledger) ReservationRecorded(ctx context.Context, reservationID uuid.UUID) (bool, error) {
	movement, err := l.repo.FindMovement(ctx, reservationID, enums.InventoryMovementReserve)
	if err != nil {
		return false, err
	}
	return movement != nil, nil
}

// Snapshot reads the current tier state.
func (l *Ledger) Snapshot(ctx context.Context, tierID uuid.UUID) (Snapshot, error) {
	tier, err := l.repo.FindTier(ctx, tierID)
	if err != nil {
		return Snapshot{}, err
	}
	return snapshotOf(tier), nil
}

func insufficient(requested, remaining int) error {
	return pkgerrors.New(pkgerrors.CodeInsufficientInventory, "not enough tickets remaining").
		WithDetails(map[string]int{"requested": requested, "remaining": remaining})
}
