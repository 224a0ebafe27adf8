package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/eventpass-backend/pkg/enums"
)

// InventoryMovement records one stock change attributed to a booking. The
// (booking_id, kind) pair is unique so a reservation or restock can land once.
type InventoryMovement struct {
	ID        uuid.UUID                   `gorm:"column:id;type:uuid;primaryKey"`
	TierID    uuid.UUID                   `gorm:"column:tier_id;type:uuid;not null;index"`
	BookingID uuid.UUID                   `gorm:"column:booking_id;type:uuid;not null;uniqueIndex:ux_inventory_movements_booking_kind"`
	Kind      enums.InventoryMovementKind `gorm:"column:kind;type:inventory_movement_kind_enum;not null;uniqueIndex:ux_inventory_movements_booking_kind"`
	Quantity  int                         `gorm:"column:quantity;not null"`
	CreatedAt time.Time                   `gorm:"column:created_at;autoCreateTime"`
}

func (InventoryMovement) TableName() string { return "inventory_movements" }
