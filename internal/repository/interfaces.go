package repository

import (
	"time"

	"aimonitor/internal/model"
)

// EventRepository defines the interface for journaled event operations.
type EventRepository interface {
	// Create operations
	Insert(ev *model.Event) error
	InsertBatch(events []model.Event) error

	// Read operations
	GetByID(id string) (*model.Event, error)
	GetAll(filter *model.EventFilter) ([]model.Event, error)
	GetStats() (*model.EventStats, error)

	// Delete operations
	Delete(id string) error
	DeleteBefore(cutoff time.Time) (int64, error)
}
