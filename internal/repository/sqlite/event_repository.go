package sqlite

import (
	"database/sql"
	"fmt"
	"time"

	"aimonitor/internal/model"
	"aimonitor/internal/repository"
)

// EventRepository implements repository.EventRepository for SQLite.
type EventRepository struct {
	db *DB
}

var _ repository.EventRepository = (*EventRepository)(nil)

// NewEventRepository creates a new SQLite event repository.
func NewEventRepository(db *DB) *EventRepository {
	return &EventRepository{db: db}
}

// Timestamps are stored in UTC so that they order and compare as text.
const insertEvent = `
	INSERT INTO events (id, sensor, message, timestamp, filename, filepath, filesize,
		confidence, x, y, width, height)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`

const selectEvents = `
	SELECT id, sensor, message, timestamp, filename, filepath, filesize,
		confidence, x, y, width, height
	FROM events
`

func insertArgs(ev *model.Event) []interface{} {
	args := []interface{}{ev.ID, ev.Sensor, ev.Message, ev.Timestamp.UTC(),
		ev.Filename, ev.FilePath, ev.FileSize, ev.Confidence}
	if ev.Box == nil {
		return append(args, nil, nil, nil, nil)
	}
	return append(args, ev.Box.X, ev.Box.Y, ev.Box.Width, ev.Box.Height)
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanEvent(row scanner) (model.Event, error) {
	var ev model.Event
	var x, y, width, height sql.NullInt64
	err := row.Scan(&ev.ID, &ev.Sensor, &ev.Message, &ev.Timestamp, &ev.Filename, &ev.FilePath, &ev.FileSize,
		&ev.Confidence, &x, &y, &width, &height)
	if err != nil {
		return model.Event{}, err
	}
	if x.Valid && y.Valid && width.Valid && height.Valid {
		ev.Box = &model.Box{X: int(x.Int64), Y: int(y.Int64), Width: int(width.Int64), Height: int(height.Int64)}
	}
	return ev, nil
}

// Insert adds a new event record to the database.
func (r *EventRepository) Insert(ev *model.Event) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	if _, err := r.db.conn.Exec(insertEvent, insertArgs(ev)...); err != nil {
		return fmt.Errorf("failed to insert event: %w", err)
	}
	return nil
}

// InsertBatch adds multiple events in a single transaction.
func (r *EventRepository) InsertBatch(events []model.Event) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	tx, err := r.db.conn.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(insertEvent)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for i := range events {
		if _, err := stmt.Exec(insertArgs(&events[i])...); err != nil {
			return fmt.Errorf("failed to insert event: %w", err)
		}
	}

	return tx.Commit()
}

// GetByID retrieves an event by its ID. It returns nil when no event matches.
func (r *EventRepository) GetByID(id string) (*model.Event, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()

	ev, err := scanEvent(r.db.conn.QueryRow(selectEvents+" WHERE id = ?", id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get event: %w", err)
	}
	return &ev, nil
}

// GetAll retrieves events based on filter criteria, newest first.
func (r *EventRepository) GetAll(filter *model.EventFilter) ([]model.Event, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()

	query := selectEvents + " WHERE 1=1"
	args := []interface{}{}

	if filter.Sensor != "" {
		query += " AND sensor = ?"
		args = append(args, filter.Sensor)
	}

	if filter.Message != "" {
		query += " AND message = ?"
		args = append(args, filter.Message)
	}

	if !filter.StartDate.IsZero() {
		query += " AND timestamp >= ?"
		args = append(args, filter.StartDate.UTC())
	}

	if !filter.EndDate.IsZero() {
		query += " AND timestamp <= ?"
		args = append(args, filter.EndDate.UTC())
	}

	query += " ORDER BY timestamp DESC"

	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)

		if filter.Offset > 0 {
			query += " OFFSET ?"
			args = append(args, filter.Offset)
		}
	}

	rows, err := r.db.conn.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var events []model.Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, ev)
	}

	return events, rows.Err()
}

// GetStats returns statistics about journaled events.
func (r *EventRepository) GetStats() (*model.EventStats, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()

	stats := &model.EventStats{
		PerSensor:  make(map[string]int),
		PerMessage: make(map[string]int),
	}

	if err := r.db.conn.QueryRow(`SELECT COUNT(*) FROM events`).Scan(&stats.TotalEvents); err != nil {
		return nil, err
	}

	if err := r.db.conn.QueryRow(`SELECT COALESCE(SUM(filesize), 0) FROM events`).Scan(&stats.TotalSizeBytes); err != nil {
		return nil, err
	}

	if err := r.countBy(`SELECT sensor, COUNT(*) FROM events GROUP BY sensor`, stats.PerSensor); err != nil {
		return nil, err
	}
	if err := r.countBy(`SELECT message, COUNT(*) FROM events GROUP BY message`, stats.PerMessage); err != nil {
		return nil, err
	}

	return stats, nil
}

func (r *EventRepository) countBy(query string, into map[string]int) error {
	rows, err := r.db.conn.Query(query)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var key string
		var count int
		if err := rows.Scan(&key, &count); err != nil {
			return err
		}
		into[key] = count
	}
	return rows.Err()
}

// Delete removes an event by its ID.
func (r *EventRepository) Delete(id string) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	if _, err := r.db.conn.Exec(`DELETE FROM events WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete event: %w", err)
	}
	return nil
}

// DeleteBefore removes events older than cutoff and returns how many were removed.
func (r *EventRepository) DeleteBefore(cutoff time.Time) (int64, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	result, err := r.db.conn.Exec(`DELETE FROM events WHERE timestamp < ?`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to delete events: %w", err)
	}
	return result.RowsAffected()
}
