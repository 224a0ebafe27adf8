package models

import (
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Assign ids on insert when callers leave them zero.

func (b *Booking) BeforeCreate(*gorm.DB) error           { return ensureID(&b.ID) }
func (m *InventoryMovement) BeforeCreate(*gorm.DB) error { return ensureID(&m.ID) }
func (e *LedgerEvent) BeforeCreate(*gorm.DB) error       { return ensureID(&e.ID) }
func (e *OutboxEvent) BeforeCreate(*gorm.DB) error       { return ensureID(&e.ID) }
func (d *OutboxDLQ) BeforeCreate(*gorm.DB) error         { return ensureID(&d.ID) }
func (t *TicketTier) BeforeCreate(*gorm.DB) error        { return ensureID(&t.ID) }
func (e *Event) BeforeCreate(*gorm.DB) error             { return ensureID(&e.ID) }

func ensureID(id *uuid.UUID) error {
	if *id == uuid.Nil {
		*id = uuid.New()
	}
	return nil
}

// All lists every model the engine persists, in dependency order.
func All() []any {
	return []any{
		&Event{},
		&TicketTier{},
		&Booking{},
		&InventoryMovement{},
		&LedgerEvent{},
		&OutboxEvent{},
		&OutboxDLQ{},
	}
}
