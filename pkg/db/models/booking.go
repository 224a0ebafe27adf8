package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/eventpass-backend/pkg/enums"
)

// Booking is the durable record of one purchase. QRCode holds the signed
// voucher string and is never rewritten after insert.
type Booking struct {
	ID         uuid.UUID           `gorm:"column:id;type:uuid;primaryKey"`
	UserID     uuid.UUID           `gorm:"column:user_id;type:uuid;not null;index"`
	EventID    uuid.UUID           `gorm:"column:event_id;type:uuid;not null"`
	TicketID   uuid.UUID           `gorm:"column:ticket_id;type:uuid;not null"`
	Quantity   int                 `gorm:"column:quantity;not null"`
	TotalPrice decimal.Decimal     `gorm:"column:total_price;type:numeric(12,2);not null"`
	Status     enums.BookingStatus `gorm:"column:status;type:booking_status_enum;not null"`
	QRCode     string              `gorm:"column:qr_code;type:text;not null;uniqueIndex:ux_bookings_qr_code"`
	CreatedAt  time.Time           `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt  time.Time           `gorm:"column:updated_at;autoUpdateTime"`

	Event *Event      `gorm:"foreignKey:EventID;references:ID"`
	Tier  *TicketTier `gorm:"foreignKey:TicketID;references:ID"`
}

func (Booking) TableName() string { return "bookings" }
