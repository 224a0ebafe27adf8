package validation

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/eventpass-backend/internal/vouchers"
	"github.com/angelmondragon/eventpass-backend/pkg/db/models"
	"github.com/angelmondragon/eventpass-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/eventpass-backend/pkg/errors"
	"github.com/angelmondragon/eventpass-backend/pkg/logger"
	"github.com/angelmondragon/eventpass-backend/pkg/metrics"
)

// Rejection reasons shown to the scanner operator.
const (
	ReasonMalformed        = "malformed"
	ReasonInvalidSignature = "invalid signature"
	ReasonExpired          = "expired"
	ReasonNotFound         = "not found in system"
	ReasonNotConfirmed     = "booking no longer valid"
)

// VoucherDecoder parses a voucher and checks its signature.
type VoucherDecoder interface {
	Decode(voucher string) (vouchers.Payload, error)
}

// BookingFinder loads the booking carrying an exact voucher string. A nil
// booking with a nil error means no booking carries it.
type BookingFinder interface {
	FindByQRCode(ctx context.Context, voucher string) (*models.Booking, error)
}

// RedemptionView is the part of a booking a gate may see. It never carries
// the voucher itself.
type RedemptionView struct {
	BookingID  uuid.UUID           `json:"booking_id"`
	EventID    uuid.UUID           `json:"event_id"`
	EventTitle string              `json:"event_title"`
	TierLabel  string              `json:"tier_label"`
	Quantity   int                 `json:"quantity"`
	TotalPrice decimal.Decimal     `json:"total_price"`
	Status     enums.BookingStatus `json:"status"`
}

// Result is the outcome of one validation. Booking is set on success and
// when a booking exists but is no longer confirmed.
type Result struct {
	Valid     bool            `json:"valid"`
	Reason    string          `json:"reason,omitempty"`
	Code      pkgerrors.Code  `json:"code,omitempty"`
	Booking   *RedemptionView `json:"booking,omitempty"`
	ExpiresAt time.Time       `json:"expires_at,omitzero"`
}

// Err converts a rejection into the matching typed error, or nil when valid.
func (r Result) Err() error {
	if r.Valid {
		return nil
	}
	err := pkgerrors.New(r.Code, r.Reason)
	if r.Booking != nil {
		return err.WithDetails(r.Booking)
	}
	return err
}

type Params struct {
	Vouchers VoucherDecoder
	Bookings BookingFinder
	Logger   *logger.Logger
	Metrics  *metrics.EngineMetrics
	Now      func() time.Time
}

// Gateway checks vouchers at redemption. It only reads; admitting a guest is
// the caller's decision.
type Gateway struct {
	vouchers VoucherDecoder
	bookings BookingFinder
	logg     *logger.Logger
	metrics  *metrics.EngineMetrics
	now      func() time.Time
}

func NewGateway(p Params) (*Gateway, error) {
	if p.Vouchers == nil {
		return nil, fmt.Errorf("voucher decoder required")
	}
	if p.Bookings == nil {
		return nil, fmt.Errorf("booking finder required")
	}
	if p.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if p.Now == nil {
		p.Now = time.Now
	}
	return &Gateway{
		vouchers: p.Vouchers,
		bookings: p.Bookings,
		logg:     p.Logger,
		metrics:  p.Metrics,
		now:      p.Now,
	}, nil
}

// Validate runs the checks in order and stops at the first failure. The
// error return is reserved for infrastructure failures; every verdict about
// the voucher itself is in Result.
func (g *Gateway) Validate(ctx context.Context, voucher string) (Result, error) {
	payload, err := g.vouchers.Decode(voucher)
	if err != nil {
		switch pkgerrors.CodeOf(err) {
		case pkgerrors.CodeInvalidSignature:
			return g.reject(ctx, pkgerrors.CodeInvalidSignature, ReasonInvalidSignature, nil), nil
		default:
			return g.reject(ctx, pkgerrors.CodeMalformedVoucher, ReasonMalformed, nil), nil
		}
	}

	if payload.Expired(g.now()) {
		return g.reject(ctx, pkgerrors.CodeVoucherExpired, ReasonExpired, nil), nil
	}

	booking, err := g.bookings.FindByQRCode(ctx, voucher)
	if err != nil {
		return Result{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "booking lookup failed")
	}
	if booking == nil {
		return g.reject(ctx, pkgerrors.CodeVoucherNotFound, ReasonNotFound, nil), nil
	}

	view := projection(booking)
	if booking.Status != enums.BookingStatusConfirmed {
		return g.reject(ctx, pkgerrors.CodeAlreadyConsumed, ReasonNotConfirmed, view), nil
	}

	g.metrics.IncValidation("valid")
	g.logg.Info(g.logg.WithBookingID(ctx, booking.ID.String()), "voucher accepted")
	return Result{Valid: true, Booking: view, ExpiresAt: payload.ExpiresAtTime()}, nil
}

func (g *Gateway) reject(ctx context.Context, code pkgerrors.Code, reason string, view *RedemptionView) Result {
	g.metrics.IncValidation(reason)
	fields := map[string]any{"reason": reason}
	if view != nil {
		fields["booking_id"] = view.BookingID.String()
		fields["status"] = view.Status.String()
	}
	g.logg.Info(g.logg.WithFields(ctx, fields), "voucher rejected")
	return Result{Valid: false, Reason: reason, Code: code, Booking: view}
}

func projection(b *models.Booking) *RedemptionView {
	view := &RedemptionView{
		BookingID:  b.ID,
		EventID:    b.EventID,
		Quantity:   b.Quantity,
		TotalPrice: b.TotalPrice,
		Status:     b.Status,
	}
	if b.Event != nil {
		view.EventTitle = b.Event.Title
	}
	if b.Tier != nil {
		view.TierLabel = b.Tier.Name
	}
	return view
}
