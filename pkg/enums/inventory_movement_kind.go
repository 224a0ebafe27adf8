package enums

import "fmt"

// InventoryMovementKind maps to the inventory_movement_kind_enum enum in Postgres.
type InventoryMovementKind string

const (
	InventoryMovementReserve InventoryMovementKind = "reserve"
	InventoryMovementRestock InventoryMovementKind = "restock"
)

var validInventoryMovementKinds = []InventoryMovementKind{
	InventoryMovementReserve,
	InventoryMovementRestock,
}

// IsValid reports whether the value matches the canonical movement kind enum.
func (k InventoryMovementKind) IsValid() bool {
	for _, candidate := range validInventoryMovementKinds {
		if candidate == k {
			return true
		}
	}
	return false
}

// ParseInventoryMovementKind converts raw input into InventoryMovementKind.
func ParseInventoryMovementKind(value string) (InventoryMovementKind, error) {
	for _, candidate := range validInventoryMovementKinds {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid inventory movement kind %q", value)
}
