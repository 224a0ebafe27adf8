// Package engine wires the reservation, voucher and payment components from
// configuration.
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/eventpass-backend/internal/admission"
	"github.com/angelmondragon/eventpass-backend/internal/bookings"
	"github.com/angelmondragon/eventpass-backend/internal/inventory"
	"github.com/angelmondragon/eventpass-backend/internal/ledger"
	"github.com/angelmondragon/eventpass-backend/internal/payments"
	"github.com/angelmondragon/eventpass-backend/internal/reservations"
	"github.com/angelmondragon/eventpass-backend/internal/validation"
	"github.com/angelmondragon/eventpass-backend/internal/vouchers"
	"github.com/angelmondragon/eventpass-backend/pkg/config"
	"github.com/angelmondragon/eventpass-backend/pkg/db"
	"github.com/angelmondragon/eventpass-backend/pkg/logger"
	"github.com/angelmondragon/eventpass-backend/pkg/metrics"
	"github.com/angelmondragon/eventpass-backend/pkg/outbox"
	"github.com/angelmondragon/eventpass-backend/pkg/redis"
)

// Deps are the process-level resources the engine is built from. Redis,
// Gateway, Registerer and Now are optional.
type Deps struct {
	Config     *config.Config
	Logger     *logger.Logger
	DB         *db.Client
	Redis      redis.AdmissionStore
	Gateway    payments.Gateway
	Registerer prometheus.Registerer
	Now        func() time.Time
}

// Engine exposes the operations of the ticketing core. Admission is nil when
// no redis store was supplied.
type Engine struct {
	Purchases  *reservations.Coordinator
	Validation *validation.Gateway
	Payments   *payments.Service
	Admission  *admission.Service
	Bookings   bookings.Repository
	Inventory  *inventory.Ledger
	Metrics    *metrics.EngineMetrics
	AtomicPath string
}

// Build constructs every component with explicit dependencies.
func Build(ctx context.Context, d Deps) (*Engine, error) {
	switch {
	case d.Config == nil:
		return nil, fmt.Errorf("config required")
	case d.Logger == nil:
		return nil, fmt.Errorf("logger required")
	case d.DB == nil:
		return nil, fmt.Errorf("db client required")
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	cfg := d.Config
	conn := d.DB.DB()

	engineMetrics := metrics.NewEngineMetrics(d.Registerer)

	inventoryRepo := inventory.NewRepository(conn)
	inventoryLedger, err := inventory.NewLedger(d.DB, inventoryRepo, d.Logger)
	if err != nil {
		return nil, fmt.Errorf("inventory ledger: %w", err)
	}
	atomic, mode, err := atomicReserver(cfg.Reservation.Mode(), d.DB, inventoryRepo)
	if err != nil {
		return nil, fmt.Errorf("atomic reserver: %w", err)
	}

	codec, err := vouchers.NewCodec(vouchers.Config{
		Secret: []byte(cfg.Voucher.Secret),
		TTL:    cfg.Voucher.TTL,
		Now:    d.Now,
	})
	if err != nil {
		return nil, fmt.Errorf("voucher codec: %w", err)
	}

	bookingRepo := bookings.NewRepository(conn)
	emitter := outbox.NewService(outbox.NewRepository(conn), d.Logger)

	coordinator, err := reservations.NewCoordinator(reservations.Params{
		Tx:            d.DB,
		Ledger:        inventoryLedger,
		Atomic:        atomic,
		Vouchers:      codec,
		Bookings:      bookingRepo,
		Outbox:        emitter,
		Logger:        d.Logger,
		Metrics:       engineMetrics,
		MaxAttempts:   cfg.Reservation.MaxAttempts,
		BaseBackoff:   cfg.Reservation.BaseBackoff,
		AtomicTimeout: cfg.Reservation.AtomicTimeout,
		Now:           d.Now,
	})
	if err != nil {
		return nil, fmt.Errorf("reservation coordinator: %w", err)
	}

	gateway, err := validation.NewGateway(validation.Params{
		Vouchers: codec,
		Bookings: bookingRepo,
		Logger:   d.Logger,
		Metrics:  engineMetrics,
		Now:      d.Now,
	})
	if err != nil {
		return nil, fmt.Errorf("validation gateway: %w", err)
	}

	ledgerService, err := ledger.NewService(ledger.NewRepository(conn))
	if err != nil {
		return nil, fmt.Errorf("ledger service: %w", err)
	}
	paymentGateway := d.Gateway
	if paymentGateway == nil {
		paymentGateway = payments.StubGateway{Now: d.Now}
	}
	paymentService, err := payments.NewService(payments.Params{
		Tx:        d.DB,
		Bookings:  bookingRepo,
		Ledger:    ledgerService,
		Inventory: inventoryLedger,
		Outbox:    emitter,
		Gateway:   paymentGateway,
		Logger:    d.Logger,
		Now:       d.Now,
	})
	if err != nil {
		return nil, fmt.Errorf("payment service: %w", err)
	}

	var admissionService *admission.Service
	if d.Redis != nil {
		admissionService, err = admission.NewService(admission.Params{
			Validator:  gateway,
			Store:      d.Redis,
			Logger:     d.Logger,
			Metrics:    engineMetrics,
			ScanLimit:  int64(cfg.Admission.ScanLimit),
			ScanWindow: cfg.Admission.ScanWindow,
			Now:        d.Now,
		})
		if err != nil {
			return nil, fmt.Errorf("admission service: %w", err)
		}
	}

	d.Logger.Info(d.Logger.WithFields(ctx, map[string]any{
		"dialect":     d.DB.Dialect(),
		"atomic_mode": mode,
		"admission":   admissionService != nil,
	}), "ticketing engine ready")

	return &Engine{
		Purchases:  coordinator,
		Validation: gateway,
		Payments:   paymentService,
		Admission:  admissionService,
		Bookings:   bookingRepo,
		Inventory:  inventoryLedger,
		Metrics:    engineMetrics,
		AtomicPath: mode,
	}, nil
}

// atomicReserver picks the single round trip path. The Postgres function only
// exists on Postgres; other stores get the transactional variant instead.
func atomicReserver(mode string, client *db.Client, repo inventory.Repository) (inventory.AtomicReserver, string, error) {
	if mode == config.AtomicModeFunction && client.Dialect() != db.DialectPostgres {
		mode = config.AtomicModeTransaction
	}
	switch mode {
	case config.AtomicModeFunction:
		r, err := inventory.NewFunctionReserver(client.DB())
		return r, mode, err
	case config.AtomicModeTransaction:
		r, err := inventory.NewTxReserver(client, repo)
		return r, mode, err
	case config.AtomicModeDisabled:
		return nil, mode, nil
	default:
		return nil, "", fmt.Errorf("unknown atomic mode %q", mode)
	}
}
