package reservations

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/angelmondragon/eventpass-backend/internal/bookings"
	"github.com/angelmondragon/eventpass-backend/internal/inventory"
	"github.com/angelmondragon/eventpass-backend/internal/vouchers"
	"github.com/angelmondragon/eventpass-backend/pkg/db/models"
	"github.com/angelmondragon/eventpass-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/eventpass-backend/pkg/errors"
	"github.com/angelmondragon/eventpass-backend/pkg/logger"
	"github.com/angelmondragon/eventpass-backend/pkg/metrics"
	"github.com/angelmondragon/eventpass-backend/pkg/outbox"
	"github.com/angelmondragon/eventpass-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/eventpass-backend/pkg/validators"
)

const (
	DefaultMaxAttempts   = 5
	DefaultBaseBackoff   = 100 * time.Millisecond
	DefaultAtomicTimeout = 2 * time.Second

	// cleanupTimeout bounds the fresh reads and rollbacks that run after the
	// caller's context is gone.
	cleanupTimeout = 5 * time.Second
)

// InventoryLedger is the stock surface the coordinator drives.
type InventoryLedger interface {
	Reserve(ctx context.Context, req inventory.ReserveRequest) (inventory.Snapshot, error)
	Restock(ctx context.Context, req inventory.RestockRequest) (bool, error)
	ReservationRecorded(ctx context.Context, reservationID uuid.UUID) (bool, error)
	Snapshot(ctx context.Context, tierID uuid.UUID) (inventory.Snapshot, error)
}

// VoucherMinter signs sale claims into a voucher string.
type VoucherMinter interface {
	Mint(claims vouchers.Claims) (string, vouchers.Payload, error)
}

// EventEmitter queues outbox events inside a transaction.
type EventEmitter interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Params wires a Coordinator. Atomic is optional; without it every purchase
// takes the compare-and-swap retry path.
type Params struct {
	Tx            txRunner
	Ledger        InventoryLedger
	Atomic        inventory.AtomicReserver
	Vouchers      VoucherMinter
	Bookings      bookings.Repository
	Outbox        EventEmitter
	Logger        *logger.Logger
	Metrics       *metrics.EngineMetrics
	MaxAttempts   int
	BaseBackoff   time.Duration
	AtomicTimeout time.Duration
	Now           func() time.Time
}

// Coordinator turns a purchase request into a confirmed booking.
type Coordinator struct {
	tx            txRunner
	ledger        InventoryLedger
	atomic        inventory.AtomicReserver
	vouchers      VoucherMinter
	bookings      bookings.Repository
	outbox        EventEmitter
	logg          *logger.Logger
	metrics       *metrics.EngineMetrics
	maxAttempts   int
	baseBackoff   time.Duration
	atomicTimeout time.Duration
	now           func() time.Time
}

func NewCoordinator(p Params) (*Coordinator, error) {
	switch {
	case p.Tx == nil:
		return nil, fmt.Errorf("tx runner required")
	case p.Ledger == nil:
		return nil, fmt.Errorf("inventory ledger required")
	case p.Vouchers == nil:
		return nil, fmt.Errorf("voucher minter required")
	case p.Bookings == nil:
		return nil, fmt.Errorf("booking repository required")
	case p.Outbox == nil:
		return nil, fmt.Errorf("outbox emitter required")
	case p.Logger == nil:
		return nil, fmt.Errorf("logger required")
	}
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultMaxAttempts
	}
	if p.BaseBackoff < 0 {
		p.BaseBackoff = 0
	}
	if p.AtomicTimeout <= 0 {
		p.AtomicTimeout = DefaultAtomicTimeout
	}
	if p.Now == nil {
		p.Now = time.Now
	}
	return &Coordinator{
		tx:            p.Tx,
		ledger:        p.Ledger,
		atomic:        p.Atomic,
		vouchers:      p.Vouchers,
		bookings:      p.Bookings,
		outbox:        p.Outbox,
		logg:          p.Logger,
		metrics:       p.Metrics,
		maxAttempts:   p.MaxAttempts,
		baseBackoff:   p.BaseBackoff,
		atomicTimeout: p.AtomicTimeout,
		now:           p.Now,
	}, nil
}

// PurchaseInput is one buyer's request for quantity units of a tier.
type PurchaseInput struct {
	BuyerID  uuid.UUID `json:"buyer_id" validate:"required"`
	EventID  uuid.UUID `json:"event_id" validate:"required"`
	TierID   uuid.UUID `json:"tier_id" validate:"required"`
	Quantity int       `json:"quantity" validate:"gte=1"`
}

// reservation is the outcome of taking stock on either path.
type reservation struct {
	snapshot inventory.Snapshot
	path     string
	attempts int
}

// Purchase reserves stock, mints the voucher and persists a confirmed
// booking. It fails with INSUFFICIENT_INVENTORY, CONFLICT_EXHAUSTED or
// PERSISTENCE_FAILURE; on the last one the reserved stock has been returned.
func (c *Coordinator) Purchase(ctx context.Context, input PurchaseInput) (*models.Booking, error) {
	started := c.now()
	if err := validators.Struct(input); err != nil {
		return nil, err
	}

	bookingID := uuid.New()
	ctx = c.logg.WithBookingID(ctx, bookingID.String())
	ctx = c.logg.WithBuyerID(ctx, input.BuyerID.String())
	ctx = c.logg.WithTierID(ctx, input.TierID.String())

	req := inventory.ReserveRequest{
		TierID:        input.TierID,
		EventID:       input.EventID,
		Quantity:      input.Quantity,
		ReservationID: bookingID,
	}

	res, err := c.reserve(ctx, req)
	if err != nil {
		c.metrics.ObservePurchase(outcomeOf(err), res.path, c.now().Sub(started))
		return nil, err
	}

	booking, err := c.confirm(ctx, input, bookingID, res.snapshot)
	if err != nil {
		c.metrics.ObservePurchase(outcomeOf(err), res.path, c.now().Sub(started))
		return nil, err
	}

	c.metrics.ObservePurchase("confirmed", res.path, c.now().Sub(started))
	c.logg.Info(c.logg.WithFields(ctx, map[string]any{
		"path":      res.path,
		"attempts":  res.attempts,
		"quantity":  input.Quantity,
		"remaining": res.snapshot.Remaining,
	}), "booking confirmed")
	return booking, nil
}

func (c *Coordinator) reserve(ctx context.Context, req inventory.ReserveRequest) (reservation, error) {
	if c.atomic != nil {
		res, done, err := c.reserveAtomic(ctx, req)
		if done {
			return res, err
		}
	}
	return c.reserveWithRetry(ctx, req)
}

// reserveAtomic tries the single round trip path. done reports whether the
// outcome is final; false sends the purchase to the retry path.
func (c *Coordinator) reserveAtomic(ctx context.Context, req inventory.ReserveRequest) (reservation, bool, error) {
	res := reservation{path: metrics.PathAtomic, attempts: 1}

	attemptCtx, cancel := context.WithTimeout(ctx, c.atomicTimeout)
	snap, err := c.atomic.ReserveAtomic(attemptCtx, req)
	timedOut := errors.Is(attemptCtx.Err(), context.DeadlineExceeded)
	cancel()

	switch {
	case err == nil:
		res.snapshot = snap
		return res, true, nil
	case errors.Is(err, inventory.ErrAlreadyReserved):
		res.snapshot, err = c.ledger.Snapshot(ctx, req.TierID)
		return res, true, err
	case pkgerrors.As(err) != nil:
		return res, true, err
	case ctx.Err() != nil:
		c.releaseIfRecorded(ctx, req)
		return res, true, ctx.Err()
	case timedOut:
		return c.resolveAmbiguous(ctx, req, res)
	}

	c.logg.Warn(c.logg.WithField(ctx, "error", err.Error()), "atomic reserve unavailable, using retry path")
	return reservation{}, false, nil
}

// resolveAmbiguous decides a timed out atomic call from a fresh read of the
// movement journal instead of assuming either outcome.
func (c *Coordinator) resolveAmbiguous(ctx context.Context, req inventory.ReserveRequest, res reservation) (reservation, bool, error) {
	readCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer cancel()

	recorded, err := c.ledger.ReservationRecorded(readCtx, req.ReservationID)
	if err != nil {
		// The retry path still cannot double count: the journal rejects a
		// second reserve movement for this booking id.
		c.logg.Warn(c.logg.WithField(ctx, "error", err.Error()), "atomic reserve timed out and fresh read failed")
		return reservation{}, false, nil
	}
	if !recorded {
		c.logg.Warn(ctx, "atomic reserve timed out without effect, using retry path")
		return reservation{}, false, nil
	}

	c.logg.Info(ctx, "atomic reserve timed out after committing")
	res.snapshot, err = c.ledger.Snapshot(readCtx, req.TierID)
	return res, true, err
}

func (c *Coordinator) reserveWithRetry(ctx context.Context, req inventory.ReserveRequest) (reservation, error) {
	res := reservation{path: metrics.PathRetry}
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		res.attempts = attempt
		snap, err := c.ledger.Reserve(ctx, req)
		switch {
		case err == nil:
			c.metrics.ObserveAttempts(attempt)
			res.snapshot = snap
			return res, nil
		case errors.Is(err, inventory.ErrAlreadyReserved):
			c.metrics.ObserveAttempts(attempt)
			res.snapshot, err = c.ledger.Snapshot(ctx, req.TierID)
			return res, err
		case !errors.Is(err, inventory.ErrConflict):
			return res, err
		}

		c.metrics.IncConflict()
		c.logg.Warn(c.logg.WithField(ctx, "attempt", attempt), "ticket tier changed concurrently")
		if attempt == c.maxAttempts {
			break
		}
		if err := sleep(ctx, c.backoff(attempt)); err != nil {
			return res, err
		}
	}

	c.metrics.ObserveAttempts(c.maxAttempts)
	return res, pkgerrors.New(pkgerrors.CodeConflictExhausted, "ticket tier is under heavy contention, try again").
		WithDetails(map[string]int{"attempts": c.maxAttempts})
}

// backoff doubles the base delay per failed attempt: base, 2·base, 4·base, ...
func (c *Coordinator) backoff(attempt int) time.Duration {
	return c.baseBackoff << (attempt - 1)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// confirm mints the voucher and writes the booking with its outbox event.
// Any failure after stock was taken gives the stock back.
func (c *Coordinator) confirm(ctx context.Context, input PurchaseInput, bookingID uuid.UUID, snap inventory.Snapshot) (*models.Booking, error) {
	total := snap.Price.Mul(decimal.NewFromInt(int64(input.Quantity)))
	issuedAt := c.now().UTC()

	voucher, _, err := c.vouchers.Mint(vouchers.Claims{
		BuyerID:  input.BuyerID,
		EventID:  input.EventID,
		TierID:   input.TierID,
		Quantity: input.Quantity,
		Price:    total,
		IssuedAt: issuedAt,
	})
	if err != nil {
		return nil, c.compensate(ctx, input, bookingID, err)
	}

	booking := &models.Booking{
		ID:         bookingID,
		UserID:     input.BuyerID,
		EventID:    input.EventID,
		TicketID:   input.TierID,
		Quantity:   input.Quantity,
		TotalPrice: total,
		Status:     enums.BookingStatusConfirmed,
		QRCode:     voucher,
	}
	err = c.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if err := c.bookings.WithTx(tx).Create(ctx, booking); err != nil {
			return err
		}
		return c.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventBookingConfirmed,
			AggregateType: enums.AggregateBooking,
			AggregateID:   booking.ID,
			Actor:         &outbox.ActorRef{UserID: input.BuyerID, Role: "buyer"},
			Data: payloads.BookingConfirmedEvent{
				BookingID:   booking.ID,
				UserID:      booking.UserID,
				EventID:     booking.EventID,
				TicketID:    booking.TicketID,
				Quantity:    booking.Quantity,
				TotalPrice:  booking.TotalPrice,
				ConfirmedAt: issuedAt,
			},
			OccurredAt: issuedAt,
		})
	})
	if err != nil {
		return nil, c.compensate(ctx, input, bookingID, err)
	}
	return booking, nil
}

// compensate returns the reserved stock and reports PERSISTENCE_FAILURE.
func (c *Coordinator) compensate(ctx context.Context, input PurchaseInput, bookingID uuid.UUID, cause error) error {
	restockCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer cancel()

	restocked, err := c.ledger.Restock(restockCtx, inventory.RestockRequest{
		TierID:    input.TierID,
		BookingID: bookingID,
		Quantity:  input.Quantity,
	})
	switch {
	case err != nil:
		c.metrics.IncCompensation("failed")
		c.logg.Error(ctx, "inventory rollback failed after booking write failure", err)
		cause = multierr.Combine(cause, fmt.Errorf("restock: %w", err))
	case restocked:
		c.metrics.IncCompensation("restocked")
		c.logg.Warn(c.logg.WithField(ctx, "error", cause.Error()), "booking write failed, stock returned")
	default:
		c.metrics.IncCompensation("noop")
	}
	return pkgerrors.Wrap(pkgerrors.CodePersistenceFailure, cause, "booking could not be saved")
}

// releaseIfRecorded gives stock back when the caller went away while an
// atomic reserve may still have committed.
func (c *Coordinator) releaseIfRecorded(ctx context.Context, req inventory.ReserveRequest) {
	cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer cancel()

	recorded, err := c.ledger.ReservationRecorded(cleanupCtx, req.ReservationID)
	if err != nil {
		c.logg.Error(ctx, "could not check reservation after cancellation", err)
		return
	}
	if !recorded {
		return
	}
	if _, err := c.ledger.Restock(cleanupCtx, inventory.RestockRequest{
		TierID:    req.TierID,
		BookingID: req.ReservationID,
		Quantity:  req.Quantity,
	}); err != nil {
		c.logg.Error(ctx, "could not release reservation after cancellation", err)
		return
	}
	c.metrics.IncCompensation("restocked")
}

func outcomeOf(err error) string {
	switch code := pkgerrors.CodeOf(err); code {
	case pkgerrors.CodeInternal:
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return "canceled"
		}
		return "error"
	default:
		return string(code)
	}
}
