package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TicketTier is one purchasable class for an event. Quantity is the remaining
// stock and doubles as the compare-and-swap marker for conditional decrements.
type TicketTier struct {
	ID        uuid.UUID       `gorm:"column:id;type:uuid;primaryKey"`
	EventID   uuid.UUID       `gorm:"column:event_id;type:uuid;not null;index"`
	Name      string          `gorm:"column:name;not null"`
	Price     decimal.Decimal `gorm:"column:price;type:numeric(12,2);not null"`
	Quantity  int             `gorm:"column:quantity;not null;check:chk_ticket_tiers_quantity,quantity >= 0"`
	CreatedAt time.Time       `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time       `gorm:"column:updated_at;autoUpdateTime"`
}

func (TicketTier) TableName() string { return "ticket_tiers" }
