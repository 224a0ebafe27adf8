package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/eventpass-backend/internal/admission"
	"github.com/angelmondragon/eventpass-backend/internal/payments"
	"github.com/angelmondragon/eventpass-backend/internal/reservations"
	"github.com/angelmondragon/eventpass-backend/pkg/config"
	"github.com/angelmondragon/eventpass-backend/pkg/db/dbtest"
	"github.com/angelmondragon/eventpass-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/eventpass-backend/pkg/errors"
	"github.com/angelmondragon/eventpass-backend/pkg/logger"
)

func testConfig(mode string) *config.Config {
	return &config.Config{
		Voucher: config.VoucherConfig{Secret: "engine-test-secret", TTL: 24 * time.Hour},
		Reservation: config.ReservationConfig{
			MaxAttempts:   5,
			BaseBackoff:   time.Millisecond,
			AtomicMode:    mode,
			AtomicTimeout: time.Second,
		},
		Admission: config.AdmissionConfig{ScanLimit: 10, ScanWindow: time.Minute},
	}
}

type markerStore struct {
	mu      sync.Mutex
	markers map[string]string
}

func (m *markerStore) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.markers[key], nil
}

func (m *markerStore) SetNX(_ context.Context, key string, value any, _ time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.markers[key]; ok {
		return false, nil
	}
	m.markers[key] = value.(string)
	return true, nil
}

func (m *markerStore) Del(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, key := range keys {
		delete(m.markers, key)
	}
	return nil
}

func (m *markerStore) FixedWindowAllow(context.Context, string, int64, time.Duration) (bool, int64, error) {
	return true, 1, nil
}

func (m *markerStore) AdmissionKey(bookingID string) string {
	return "admission:" + bookingID
}

func TestBuildRequiresDeps(t *testing.T) {
	_, err := Build(context.Background(), Deps{})
	require.Error(t, err)
	_, err = Build(context.Background(), Deps{Config: testConfig("function")})
	require.Error(t, err)
}

func TestBuildSelectsAtomicPath(t *testing.T) {
	cases := map[string]string{
		config.AtomicModeFunction:    config.AtomicModeTransaction,
		config.AtomicModeTransaction: config.AtomicModeTransaction,
		config.AtomicModeDisabled:    config.AtomicModeDisabled,
	}
	for mode, want := range cases {
		t.Run(mode, func(t *testing.T) {
			client := dbtest.Open(t)
			eng, err := Build(context.Background(), Deps{
				Config: testConfig(mode),
				Logger: logger.Nop(),
				DB:     client,
			})
			require.NoError(t, err)
			assert.Equal(t, want, eng.AtomicPath)
			assert.Nil(t, eng.Admission)
		})
	}
}

func TestBuildRejectsMissingSecret(t *testing.T) {
	cfg := testConfig(config.AtomicModeTransaction)
	cfg.Voucher.Secret = ""
	_, err := Build(context.Background(), Deps{Config: cfg, Logger: logger.Nop(), DB: dbtest.Open(t)})
	require.Error(t, err)
}

func TestEngineLifecycle(t *testing.T) {
	client := dbtest.Open(t)
	_, tier := dbtest.SeedTier(t, client.DB(), 4, "30.00")
	now := time.Date(2024, 6, 1, 18, 0, 0, 0, time.UTC)

	eng, err := Build(context.Background(), Deps{
		Config:     testConfig(config.AtomicModeFunction),
		Logger:     logger.Nop(),
		DB:         client,
		Redis:      &markerStore{markers: map[string]string{}},
		Registerer: prometheus.NewRegistry(),
		Now:        func() time.Time { return now },
	})
	require.NoError(t, err)
	require.NotNil(t, eng.Admission)

	booking, err := eng.Purchases.Purchase(context.Background(), reservations.PurchaseInput{
		BuyerID:  uuid.New(),
		EventID:  tier.EventID,
		TierID:   tier.ID,
		Quantity: 2,
	})
	require.NoError(t, err)
	assert.Equal(t, 2, dbtest.TierQuantity(t, client.DB(), tier.ID))
	assert.True(t, booking.TotalPrice.Equal(decimal.NewFromInt(60)), "total %s", booking.TotalPrice)

	result, err := eng.Validation.Validate(context.Background(), booking.QRCode)
	require.NoError(t, err)
	require.True(t, result.Valid)
	assert.Equal(t, booking.ID, result.Booking.BookingID)

	admitted, err := eng.Admission.Admit(context.Background(), admission.AdmitInput{GateID: "north", Voucher: booking.QRCode})
	require.NoError(t, err)
	assert.Equal(t, booking.ID, admitted.BookingID)
	_, err = eng.Admission.Admit(context.Background(), admission.AdmitInput{GateID: "north", Voucher: booking.QRCode})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeAlreadyConsumed))

	captured, err := eng.Payments.Capture(context.Background(), payments.BookingInput{BookingID: booking.ID})
	require.NoError(t, err)
	assert.False(t, captured.AlreadyCaptured)

	refunded, err := eng.Payments.Refund(context.Background(), payments.BookingInput{BookingID: booking.ID})
	require.NoError(t, err)
	assert.Equal(t, enums.BookingStatusRefunded, refunded.Status)
	assert.Equal(t, 4, dbtest.TierQuantity(t, client.DB(), tier.ID))

	result, err = eng.Validation.Validate(context.Background(), booking.QRCode)
	require.NoError(t, err)
	assert.False(t, result.Valid)
	assert.True(t, pkgerrors.IsCode(result.Err(), pkgerrors.CodeAlreadyConsumed))
}
