package model

import "time"

// Event represents a journaled notification record. Confidence and Box come
// from the reported detection when the sensor exposes it; Box is nil otherwise.
type Event struct {
	ID         string    `json:"id"`
	Sensor     string    `json:"sensor"`
	Message    string    `json:"message"`
	Confidence float64   `json:"confidence"`
	Box        *Box      `json:"box,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
	Filename   string    `json:"filename"`
	FilePath   string    `json:"filepath"`
	FileSize   int64     `json:"filesize"`
}

// EventFilter contains filtering options for querying events.
type EventFilter struct {
	Sensor    string
	Message   string
	StartDate time.Time
	EndDate   time.Time
	Limit     int
	Offset    int
}

// EventStats contains statistics about journaled events.
type EventStats struct {
	TotalEvents    int            `json:"total_events"`
	TotalSizeBytes int64          `json:"total_size_bytes"`
	PerSensor      map[string]int `json:"per_sensor"`
	PerMessage     map[string]int `json:"per_message"`
}
