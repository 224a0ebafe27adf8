package inventory

import (
	"context"
	stdErrors "errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"

	"github.com/angelmondragon/eventpass-backend/pkg/db/models"
	"github.com/angelmondragon/eventpass-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/eventpass-backend/pkg/errors"
)

// ErrAtomicUnavailable wraps any failure of the single round trip path that
// leaves stock untouched; callers fall back to the compare-and-swap loop.
var ErrAtomicUnavailable = stdErrors.New("inventory: atomic reserve unavailable")

// AtomicReserver re-validates availability and decrements stock in one
// server-side transaction.
type AtomicReserver interface {
	ReserveAtomic(ctx context.Context, req ReserveRequest) (Snapshot, error)
}

const reserveFunctionSQL = `SELECT * FROM reserve_ticket_inventory(?, ?, ?, ?)`

// Raised by reserve_ticket_inventory; see the inventory migrations.
const (
	sqlStateRaiseException = "P0001"
	sqlStateNoDataFound    = "P0002"
	hintInsufficient       = "insufficient_inventory"
)

// FunctionReserver calls the reserve_ticket_inventory Postgres function.
type FunctionReserver struct {
	db *gorm.DB
}

func NewFunctionReserver(db *gorm.DB) (*FunctionReserver, error) {
	if db == nil {
		return nil, fmt.Errorf("db required")
	}
	return &FunctionReserver{db: db}, nil
}

func (r *FunctionReserver) ReserveAtomic(ctx context.Context, req ReserveRequest) (Snapshot, error) {
	if err := req.validate(); err != nil {
		return Snapshot{}, err
	}

	var rows []models.TicketTier
	err := r.db.WithContext(ctx).
		Raw(reserveFunctionSQL, req.TierID, req.EventID, req.Quantity, req.ReservationID).
		Scan(&rows).Error
	if err != nil {
		return Snapshot{}, mapFunctionError(err, req.Quantity)
	}
	if len(rows) != 1 {
		return Snapshot{}, fmt.Errorf("%w: function returned %d rows", ErrAtomicUnavailable, len(rows))
	}
	return snapshotOf(&rows[0]), nil
}

func mapFunctionError(err error, requested int) error {
	var pgErr *pgconn.PgError
	if stdErrors.As(err, &pgErr) {
		switch {
		case pgErr.Code == sqlStateRaiseException && strings.EqualFold(pgErr.Hint, hintInsufficient):
			return insufficient(requested, remainingFromDetail(pgErr.Detail))
		case pgErr.Code == sqlStateNoDataFound:
			return pkgerrors.New(pkgerrors.CodeNotFound, "ticket tier not found for event")
		}
	}
	return fmt.Errorf("%w: %w", ErrAtomicUnavailable, err)
}

// remainingFromDetail reads "remaining=N" out of the function's DETAIL text.
func remainingFromDetail(detail string) int {
	var remaining int
	if _, err := fmt.Sscanf(detail, "remaining=%d", &remaining); err != nil {
		return 0
	}
	return remaining
}

// TxReserver is the atomic path for stores without the Postgres function:
// a guarded decrement and the movement insert share one transaction.
type TxReserver struct {
	tx   txRunner
	repo Repository
}

func NewTxReserver(tx txRunner, repo Repository) (*TxReserver, error) {
	if tx == nil {
		return nil, fmt.Errorf("tx runner required")
	}
	if repo == nil {
		return nil, fmt.Errorf("inventory repository required")
	}
	return &TxReserver{tx: tx, repo: repo}, nil
}

func (r *TxReserver) ReserveAtomic(ctx context.Context, req ReserveRequest) (Snapshot, error) {
	if err := req.validate(); err != nil {
		return Snapshot{}, err
	}

	var snapshot Snapshot
	err := r.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := r.repo.WithTx(tx)

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

		ok, err := repo.DecrementIfAvailable(ctx, req.TierID, req.EventID, req.Quantity)
		if err != nil {
			return err
		}
		tier, err := repo.FindTier(ctx, req.TierID)
		if err != nil {
			return err
		}
		if !ok {
			if tier.EventID != req.EventID {
				return pkgerrors.New(pkgerrors.CodeNotFound, "ticket tier not found for event")
			}
			return insufficient(req.Quantity, tier.Quantity)
		}
		snapshot = snapshotOf(tier)
		return nil
	})
	if err != nil {
		if typed := pkgerrors.As(err); typed != nil || stdErrors.Is(err, ErrAlreadyReserved) || ctx.Err() != nil {
			return Snapshot{}, err
		}
		return Snapshot{}, fmt.Errorf("%w: %w", ErrAtomicUnavailable, err)
	}
	return snapshot, nil
}
