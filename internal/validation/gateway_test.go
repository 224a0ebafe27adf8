package validation

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/eventpass-backend/internal/bookings"
	"github.com/angelmondragon/eventpass-backend/internal/inventory"
	"github.com/angelmondragon/eventpass-backend/internal/reservations"
	"github.com/angelmondragon/eventpass-backend/internal/vouchers"
	"github.com/angelmondragon/eventpass-backend/pkg/db"
	"github.com/angelmondragon/eventpass-backend/pkg/db/dbtest"
	"github.com/angelmondragon/eventpass-backend/pkg/db/models"
	"github.com/angelmondragon/eventpass-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/eventpass-backend/pkg/errors"
	"github.com/angelmondragon/eventpass-backend/pkg/logger"
	"github.com/angelmondragon/eventpass-backend/pkg/outbox"
)

var testSecret = []byte("gate-secret")

type fixture struct {
	client  *db.Client
	codec   *vouchers.Codec
	gateway *Gateway
	booking *models.Booking
}

// newFixture persists one confirmed booking for 2 × 40.00 through the
// purchase flow and returns a gateway over the same database.
func newFixture(t *testing.T) fixture {
	t.Helper()
	client := dbtest.Open(t)
	codec, err := vouchers.NewCodec(vouchers.Config{Secret: testSecret})
	if err != nil {
		t.Fatalf("NewCodec: %v", err)
	}
	repo := inventory.NewRepository(client.DB())
	ledger, err := inventory.NewLedger(client, repo, logger.Nop())
	if err != nil {
		t.Fatalf("NewLedger: %v", err)
	}
	coordinator, err := reservations.NewCoordinator(reservations.Params{
		Tx:       client,
		Ledger:   ledger,
		Vouchers: codec,
		Bookings: bookings.NewRepository(client.DB()),
		Outbox:   outbox.NewService(outbox.NewRepository(client.DB()), nil),
		Logger:   logger.Nop(),
	})
	if err != nil {
		t.Fatalf("NewCoordinator: %v", err)
	}

	event, tier := dbtest.SeedTier(t, client.DB(), 4, "40.00")
	booking, err := coordinator.Purchase(context.Background(), reservations.PurchaseInput{
		BuyerID: uuid.New(), EventID: event.ID, TierID: tier.ID, Quantity: 2,
	})
	if err != nil {
		t.Fatalf("Purchase: %v", err)
	}

	return fixture{
		client:  client,
		codec:   codec,
		gateway: newGateway(t, codec, bookings.NewRepository(client.DB()), time.Now),
		booking: booking,
	}
}

func newGateway(t *testing.T, codec *vouchers.Codec, finder BookingFinder, now func() time.Time) *Gateway {
	t.Helper()
	g, err := NewGateway(Params{Vouchers: codec, Bookings: finder, Logger: logger.Nop(), Now: now})
	if err != nil {
		t.Fatalf("NewGateway: %v", err)
	}
	return g
}

func mustValidate(t *testing.T, g *Gateway, voucher string) Result {
	t.Helper()
	res, err := g.Validate(context.Background(), voucher)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	return res
}

func TestNewGatewayRequiresDependencies(t *testing.T) {
	codec, _ := vouchers.NewCodec(vouchers.Config{Secret: testSecret})
	if _, err := NewGateway(Params{Bookings: bookings.NewRepository(nil), Logger: logger.Nop()}); err == nil {
		t.Fatal("expected error without decoder")
	}
	if _, err := NewGateway(Params{Vouchers: codec, Logger: logger.Nop()}); err == nil {
		t.Fatal("expected error without booking finder")
	}
	if _, err := NewGateway(Params{Vouchers: codec, Bookings: bookings.NewRepository(nil)}); err == nil {
		t.Fatal("expected error without logger")
	}
}

func TestValidateRoundTrip(t *testing.T) {
	f := newFixture(t)

	res := mustValidate(t, f.gateway, f.booking.QRCode)
	if !res.Valid {
		t.Fatalf("expected valid voucher, got %q", res.Reason)
	}
	if res.Booking == nil {
		t.Fatal("expected booking projection")
	}
	if res.Booking.BookingID != f.booking.ID || res.Booking.Quantity != 2 {
		t.Fatalf("unexpected projection %+v", res.Booking)
	}
	if !res.Booking.TotalPrice.Equal(decimal.RequireFromString("80.00")) {
		t.Fatalf("expected total 80.00, got %s", res.Booking.TotalPrice)
	}
	if res.Booking.EventTitle != "Night Market Live" || res.Booking.TierLabel != "VIP" {
		t.Fatalf("projection missing labels: %+v", res.Booking)
	}
	if res.Err() != nil {
		t.Fatalf("valid result must not carry an error: %v", res.Err())
	}

	payload, err := vouchers.Parse(f.booking.QRCode)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if payload.Quantity != int64(res.Booking.Quantity) || payload.Price != res.Booking.TotalPrice.InexactFloat64() {
		t.Fatalf("projection disagrees with voucher: %+v vs %+v", res.Booking, payload)
	}

	encoded, err := json.Marshal(res)
	if err != nil {
		t.Fatalf("marshal result: %v", err)
	}
	if strings.Contains(string(encoded), f.booking.QRCode) || strings.Contains(string(encoded), payload.Signature) {
		t.Fatal("result must not expose the voucher or its signature")
	}
}

func TestValidateIsRepeatable(t *testing.T) {
	f := newFixture(t)

	first := mustValidate(t, f.gateway, f.booking.QRCode)
	second := mustValidate(t, f.gateway, f.booking.QRCode)
	if !first.Valid || !second.Valid {
		t.Fatalf("expected both validations to pass: %q / %q", first.Reason, second.Reason)
	}
	a, b := first.Booking, second.Booking
	if a.BookingID != b.BookingID || a.Status != b.Status || a.Quantity != b.Quantity || !a.TotalPrice.Equal(b.TotalPrice) {
		t.Fatalf("results differ: %+v vs %+v", a, b)
	}

	stored, err := bookings.NewRepository(f.client.DB()).FindByID(context.Background(), f.booking.ID)
	if err != nil {
		t.Fatalf("FindByID: %v", err)
	}
	if stored.Status != enums.BookingStatusConfirmed {
		t.Fatalf("validation must not change status, got %s", stored.Status)
	}
}

func TestValidateMalformedInputs(t *testing.T) {
	f := newFixture(t)

	inputs := map[string]string{
		"not base64":   "not-valid-base64!!",
		"empty":        "",
		"not json":     base64.StdEncoding.EncodeToString([]byte("hello")),
		"json array":   base64.StdEncoding.EncodeToString([]byte(`[1,2]`)),
		"missing sig":  base64.StdEncoding.EncodeToString([]byte(`{"tid":"a","uid":"b","eid":"c","tkid":"d","qty":1,"price":1,"ts":"x","exp":1}`)),
		"qty a string": base64.StdEncoding.EncodeToString([]byte(`{"tid":"a","uid":"b","eid":"c","tkid":"d","qty":"1","price":1,"ts":"x","exp":1,"sig":"e"}`)),
	}
	for name, input := range inputs {
		t.Run(name, func(t *testing.T) {
			res := mustValidate(t, f.gateway, input)
			if res.Valid || res.Reason != ReasonMalformed {
				t.Fatalf("expected malformed, got valid=%v reason=%q", res.Valid, res.Reason)
			}
			if !pkgerrors.IsCode(res.Err(), pkgerrors.CodeMalformedVoucher) {
				t.Fatalf("expected malformed code, got %v", res.Err())
			}
		})
	}
}

func TestValidateDetectsSingleCharacterTampering(t *testing.T) {
	f := newFixture(t)
	voucher := f.booking.QRCode

	for i := 0; i < len(voucher); i++ {
		replacement := byte('A')
		if voucher[i] == 'A' {
			replacement = 'B'
		}
		tampered := voucher[:i] + string(replacement) + voucher[i+1:]

		res := mustValidate(t, f.gateway, tampered)
		if res.Valid {
			t.Fatalf("tampered voucher at %d accepted", i)
		}
		if res.Reason != ReasonInvalidSignature && res.Reason != ReasonMalformed {
			t.Fatalf("tampered voucher at %d rejected with %q", i, res.Reason)
		}
	}
}

func TestValidateDetectsFieldMutation(t *testing.T) {
	f := newFixture(t)

	mutations := map[string]func(map[string]any){
		"quantity": func(m map[string]any) { m["qty"] = json.Number("3") },
		"price":    func(m map[string]any) { m["price"] = json.Number("1") },
		"expiry":   func(m map[string]any) { m["exp"] = json.Number("99999999999999") },
		"buyer":    func(m map[string]any) { m["uid"] = uuid.NewString() },
	}
	for name, mutate := range mutations {
		t.Run(name, func(t *testing.T) {
			tampered := reencode(t, f.booking.QRCode, mutate)
			res := mustValidate(t, f.gateway, tampered)
			if res.Valid || res.Reason != ReasonInvalidSignature {
				t.Fatalf("expected invalid signature, got valid=%v reason=%q", res.Valid, res.Reason)
			}
		})
	}
}

func reencode(t *testing.T, voucher string, mutate func(map[string]any)) string {
	t.Helper()
	raw, err := base64.StdEncoding.DecodeString(voucher)
	if err != nil {
		t.Fatalf("decode voucher: %v", err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var fields map[string]any
	if err := dec.Decode(&fields); err != nil {
		t.Fatalf("decode json: %v", err)
	}
	mutate(fields)
	out, err := json.Marshal(fields)
	if err != nil {
		t.Fatalf("encode json: %v", err)
	}
	return base64.StdEncoding.EncodeToString(out)
}

func TestValidateExpiredVoucher(t *testing.T) {
	f := newFixture(t)

	issued := time.Now().Add(-25 * time.Hour)
	stale, err := vouchers.NewCodec(vouchers.Config{Secret: testSecret, Now: func() time.Time { return issued }})
	if err != nil {
		t.Fatalf("NewCodec: %v", err)
	}
	voucher, _, err := stale.Mint(vouchers.Claims{
		BuyerID: uuid.New(), EventID: uuid.New(), TierID: uuid.New(),
		Quantity: 1, Price: decimal.NewFromInt(40),
	})
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}

	res := mustValidate(t, f.gateway, voucher)
	if res.Valid || res.Reason != ReasonExpired {
		t.Fatalf("expected expired, got valid=%v reason=%q", res.Valid, res.Reason)
	}
}

func TestValidatePersistedVoucherAfterHorizon(t *testing.T) {
	f := newFixture(t)
	later := newGateway(t, f.codec, bookings.NewRepository(f.client.DB()), func() time.Time {
		return time.Now().Add(25 * time.Hour)
	})

	res := mustValidate(t, later, f.booking.QRCode)
	if res.Valid || res.Reason != ReasonExpired {
		t.Fatalf("expected expired, got valid=%v reason=%q", res.Valid, res.Reason)
	}
}

func TestValidateUnknownVoucher(t *testing.T) {
	f := newFixture(t)

	voucher, _, err := f.codec.Mint(vouchers.Claims{
		BuyerID: uuid.New(), EventID: uuid.New(), TierID: uuid.New(),
		Quantity: 1, Price: decimal.NewFromInt(40),
	})
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}

	res := mustValidate(t, f.gateway, voucher)
	if res.Valid || res.Reason != ReasonNotFound || res.Booking != nil {
		t.Fatalf("expected not found without booking, got %+v", res)
	}
}

func TestValidateOtherSecret(t *testing.T) {
	f := newFixture(t)
	foreign, err := vouchers.NewCodec(vouchers.Config{Secret: []byte("other-secret")})
	if err != nil {
		t.Fatalf("NewCodec: %v", err)
	}
	g := newGateway(t, foreign, bookings.NewRepository(f.client.DB()), time.Now)

	res := mustValidate(t, g, f.booking.QRCode)
	if res.Valid || res.Reason != ReasonInvalidSignature {
		t.Fatalf("expected invalid signature, got valid=%v reason=%q", res.Valid, res.Reason)
	}
}

func TestValidateRefundedBooking(t *testing.T) {
	f := newFixture(t)
	moved, err := bookings.NewRepository(f.client.DB()).TransitionStatus(
		context.Background(), f.booking.ID, enums.BookingStatusConfirmed, enums.BookingStatusRefunded,
	)
	if err != nil || !moved {
		t.Fatalf("TransitionStatus moved=%v err=%v", moved, err)
	}

	res := mustValidate(t, f.gateway, f.booking.QRCode)
	if res.Valid || res.Reason != ReasonNotConfirmed {
		t.Fatalf("expected not confirmed, got valid=%v reason=%q", res.Valid, res.Reason)
	}
	if res.Booking == nil || res.Booking.Status != enums.BookingStatusRefunded {
		t.Fatalf("expected refunded booking attached, got %+v", res.Booking)
	}
	if !pkgerrors.IsCode(res.Err(), pkgerrors.CodeAlreadyConsumed) {
		t.Fatalf("expected already consumed code, got %v", res.Err())
	}
}

type brokenFinder struct{}

func (brokenFinder) FindByQRCode(context.Context, string) (*models.Booking, error) {
	return nil, errors.New("connection refused")
}

func TestValidateLookupFailureIsAnError(t *testing.T) {
	f := newFixture(t)
	g := newGateway(t, f.codec, brokenFinder{}, time.Now)

	if _, err := g.Validate(context.Background(), f.booking.QRCode); !pkgerrors.IsCode(err, pkgerrors.CodeDependency) {
		t.Fatalf("expected dependency error, got %v", err)
	}
}
