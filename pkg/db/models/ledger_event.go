package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	dbtypes "github.com/angelmondragon/eventpass-backend/pkg/db/types"
	"github.com/angelmondragon/eventpass-backend/pkg/enums"
)

// LedgerEvent records a money movement tied to a booking. A pending event is
// the claim taken before the processor is called; it is settled once and the
// row is immutable afterwards. ux_ledger_events_open allows one pending or
// completed event per booking and type.
type LedgerEvent struct {
	ID          uuid.UUID               `gorm:"column:id;type:uuid;primaryKey"`
	BookingID   uuid.UUID               `gorm:"column:booking_id;type:uuid;not null;index;uniqueIndex:ux_ledger_events_open,where:status <> 'failed'"`
	UserID      uuid.UUID               `gorm:"column:user_id;type:uuid;not null"`
	Type        enums.LedgerEventType   `gorm:"column:type;type:ledger_event_type_enum;not null;uniqueIndex:ux_ledger_events_open"`
	Status      enums.LedgerEventStatus `gorm:"column:status;type:ledger_event_status_enum;not null"`
	Amount      decimal.Decimal         `gorm:"column:amount;type:numeric(12,2);not null"`
	ExternalRef *string                 `gorm:"column:external_ref"`
	Metadata    dbtypes.JSON            `gorm:"column:metadata;type:jsonb"`
	CreatedAt   time.Time               `gorm:"column:created_at;autoCreateTime"`
}

func (LedgerEvent) TableName() string { return "ledger_events" }
