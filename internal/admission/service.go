package admission

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/eventpass-backend/internal/validation"
	pkgerrors "github.com/angelmondragon/eventpass-backend/pkg/errors"
	"github.com/angelmondragon/eventpass-backend/pkg/logger"
	"github.com/angelmondragon/eventpass-backend/pkg/metrics"
	"github.com/angelmondragon/eventpass-backend/pkg/redis"
	"github.com/angelmondragon/eventpass-backend/pkg/validators"
)

const (
	DefaultScanLimit  = 120
	DefaultScanWindow = time.Minute

	// minMarkerTTL keeps a marker alive for vouchers that expire mid-scan.
	minMarkerTTL = time.Minute
)

// VoucherValidator is the read-only voucher check.
type VoucherValidator interface {
	Validate(ctx context.Context, voucher string) (validation.Result, error)
}

type Params struct {
	Validator  VoucherValidator
	Store      redis.AdmissionStore
	Logger     *logger.Logger
	Metrics    *metrics.EngineMetrics
	ScanLimit  int64
	ScanWindow time.Duration
	Now        func() time.Time
}

// Service admits guests at the gate. Validation stays a pure read; the
// single-entry rule lives in a redis marker per booking.
type Service struct {
	validator  VoucherValidator
	store      redis.AdmissionStore
	logg       *logger.Logger
	metrics    *metrics.EngineMetrics
	scanLimit  int64
	scanWindow time.Duration
	now        func() time.Time
}

func NewService(p Params) (*Service, error) {
	if p.Validator == nil {
		return nil, fmt.Errorf("voucher validator required")
	}
	if p.Store == nil {
		return nil, fmt.Errorf("admission store required")
	}
	if p.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if p.ScanLimit <= 0 {
		p.ScanLimit = DefaultScanLimit
	}
	if p.ScanWindow <= 0 {
		p.ScanWindow = DefaultScanWindow
	}
	if p.Now == nil {
		p.Now = time.Now
	}
	return &Service{
		validator:  p.Validator,
		store:      p.Store,
		logg:       p.Logger,
		metrics:    p.Metrics,
		scanLimit:  p.ScanLimit,
		scanWindow: p.ScanWindow,
		now:        p.Now,
	}, nil
}

// AdmitInput is one scan at a gate.
type AdmitInput struct {
	GateID  string `json:"gate_id" validate:"required,max=64"`
	Voucher string `json:"voucher" validate:"required"`
}

// Admission is a successful entry.
type Admission struct {
	BookingID  uuid.UUID
	GateID     string
	Booking    *validation.RedemptionView
	AdmittedAt time.Time
}

// Admit validates the voucher and claims the booking's entry marker. A
// booking that was already admitted fails with ALREADY_CONSUMED.
func (s *Service) Admit(ctx context.Context, input AdmitInput) (*Admission, error) {
	if err := validators.Struct(input); err != nil {
		return nil, err
	}
	ctx = s.logg.WithField(ctx, "gate_id", input.GateID)

	allowed, count, err := s.store.FixedWindowAllow(ctx, "gate:"+input.GateID, s.scanLimit, s.scanWindow)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "admission store unavailable")
	}
	if !allowed {
		s.metrics.IncAdmission("rate_limited")
		return nil, pkgerrors.New(pkgerrors.CodeRateLimit, "too many scans at this gate").
			WithDetails(map[string]int64{"scans": count, "limit": s.scanLimit})
	}

	result, err := s.validator.Validate(ctx, input.Voucher)
	if err != nil {
		return nil, err
	}
	if !result.Valid {
		s.metrics.IncAdmission("rejected")
		return nil, result.Err()
	}

	now := s.now()
	ttl := result.ExpiresAt.Sub(now)
	if ttl < minMarkerTTL {
		ttl = minMarkerTTL
	}

	bookingID := result.Booking.BookingID
	ctx = s.logg.WithBookingID(ctx, bookingID.String())
	key := s.store.AdmissionKey(bookingID.String())
	claimed, err := s.store.SetNX(ctx, key, input.GateID, ttl)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "admission store unavailable")
	}
	if !claimed {
		s.metrics.IncAdmission("already_admitted")
		holder, err := s.store.Get(ctx, key)
		if err != nil && !redis.IsNil(err) {
			s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), "could not read admission marker")
		}
		s.logg.Info(s.logg.WithField(ctx, "admitted_at_gate", holder), "booking already admitted")
		return nil, pkgerrors.New(pkgerrors.CodeAlreadyConsumed, "already admitted").
			WithDetails(map[string]string{"gate_id": holder})
	}

	s.metrics.IncAdmission("admitted")
	s.logg.Info(ctx, "guest admitted")
	return &Admission{
		BookingID:  bookingID,
		GateID:     input.GateID,
		Booking:    result.Booking,
		AdmittedAt: now.UTC(),
	}, nil
}

// Revoke clears a booking's entry marker so the voucher can be scanned again.
func (s *Service) Revoke(ctx context.Context, bookingID uuid.UUID) error {
	if bookingID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "booking id is required")
	}
	if err := s.store.Del(ctx, s.store.AdmissionKey(bookingID.String())); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "admission store unavailable")
	}
	s.logg.Info(s.logg.WithBookingID(ctx, bookingID.String()), "admission revoked")
	return nil
}
