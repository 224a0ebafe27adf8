// Package dbtest opens migrated in-memory sqlite databases for package tests.
package dbtest

import (
	"io"
	"log"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/angelmondragon/eventpass-backend/pkg/db"
	"github.com/angelmondragon/eventpass-backend/pkg/db/models"
)

// Open returns a client over a private in-memory database with every model migrated.
func Open(t testing.TB) *db.Client {
	t.Helper()
	dsn := "file:ep_" + uuid.NewString() + "?mode=memory&cache=shared&_busy_timeout=5000"
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		SkipDefaultTransaction: true,
		Logger: gormlogger.New(
			log.New(io.Discard, "", log.LstdFlags),
			gormlogger.Config{LogLevel: gormlogger.Silent},
		),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := conn.AutoMigrate(models.All()...); err != nil {
		t.Fatalf("migrate sqlite: %v", err)
	}
	client := db.Wrap(conn)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

// SeedTier creates an event with one tier holding quantity units at price.
func SeedTier(t testing.TB, conn *gorm.DB, quantity int, price string) (*models.Event, *models.TicketTier) {
	t.Helper()
	event := &models.Event{
		ID:       uuid.New(),
		Title:    "Night Market Live",
		Venue:    "Pier 9",
		StartsAt: time.Now().Add(72 * time.Hour).UTC(),
	}
	if err := conn.Create(event).Error; err != nil {
		t.Fatalf("seed event: %v", err)
	}
	tier := &models.TicketTier{
		ID:       uuid.New(),
		EventID:  event.ID,
		Name:     "VIP",
		Price:    decimal.RequireFromString(price),
		Quantity: quantity,
	}
	if err := conn.Create(tier).Error; err != nil {
		t.Fatalf("seed tier: %v", err)
	}
	return event, tier
}

// TierQuantity reads the stored remaining quantity.
func TierQuantity(t testing.TB, conn *gorm.DB, tierID uuid.UUID) int {
	t.Helper()
	var tier models.TicketTier
	if err := conn.First(&tier, "id = ?", tierID).Error; err != nil {
		t.Fatalf("load tier: %v", err)
	}
	return tier.Quantity
}
