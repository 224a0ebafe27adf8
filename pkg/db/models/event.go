package models

import (
	"time"

	"github.com/google/uuid"
)

// Event is the published occurrence tickets are sold for.
type Event struct {
	ID        uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	Title     string    `gorm:"column:title;not null"`
	Venue     string    `gorm:"column:venue"`
	StartsAt  time.Time `gorm:"column:starts_at;not null"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (Event) TableName() string { return "events" }
