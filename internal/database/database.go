package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"sitewatch/internal/detection"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// Database handles SQLite database operations
type Database struct {
	db *sql.DB
}

// CameraRecord is a camera registered at startup.
type CameraRecord struct {
	Index        int
	URL          string
	RegisteredAt time.Time
}

// EventRecord is one persisted detection.
type EventRecord struct {
	ID        string
	Camera    int
	Timestamp time.Time
	Filename  string
	Boxes     []detection.Box
	Alerted   bool
}

// New opens the database file and enables WAL mode.
func New(dbPath string) (*Database, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	return &Database{db: db}, nil
}

// Close closes the database connection
func (d *Database) Close() error {
	return d.db.Close()
}

// Ping verifies the database is reachable.
func (d *Database) Ping(ctx context.Context) error {
	return d.db.PingContext(ctx)
}

// RegisterCamera records the endpoint configured for a camera index.
func (d *Database) RegisterCamera(ctx context.Context, index int, url string) error {
	query := `INSERT INTO cameras (idx, url, registered_at)
		VALUES (?, ?, ?)
		ON CONFLICT(idx) DO UPDATE SET
			url = excluded.url,
			registered_at = excluded.registered_at`

	if _, err := d.db.ExecContext(ctx, query, index, url, time.Now().UnixMilli()); err != nil {
		return fmt.Errorf("failed to register camera: %w", err)
	}
	return nil
}

// ListCameras returns registered cameras ordered by index.
func (d *Database) ListCameras(ctx context.Context) ([]CameraRecord, error) {
	rows, err := d.db.QueryContext(ctx, "SELECT idx, url, registered_at FROM cameras ORDER BY idx")
	if err != nil {
		return nil, fmt.Errorf("failed to list cameras: %w", err)
	}
	defer rows.Close()

	var cameras []CameraRecord
	for rows.Next() {
		var (
			rec CameraRecord
			ms  int64
		)
		if err := rows.Scan(&rec.Index, &rec.URL, &ms); err != nil {
			return nil, fmt.Errorf("failed to scan camera: %w", err)
		}
		rec.RegisteredAt = time.UnixMilli(ms)
		cameras = append(cameras, rec)
	}
	return cameras, rows.Err()
}

// SaveEvent inserts a detection event.
func (d *Database) SaveEvent(ctx context.Context, event *EventRecord) error {
	boxes := event.Boxes
	if boxes == nil {
		boxes = []detection.Box{}
	}
	boxJSON, err := json.Marshal(boxes)
	if err != nil {
		return fmt.Errorf("failed to marshal boxes: %w", err)
	}

	query := `INSERT INTO detection_events
		(id, camera, captured_at, filename, boxes, box_count, alerted)
		VALUES (?, ?, ?, ?, ?, ?, ?)`

	_, err = d.db.ExecContext(ctx, query, event.ID, event.Camera, event.Timestamp.UnixMilli(),
		event.Filename, string(boxJSON), len(boxes), boolToInt(event.Alerted))
	if err != nil {
		return fmt.Errorf("failed to save event: %w", err)
	}
	return nil
}

// GetEvent retrieves an event by ID.
func (d *Database) GetEvent(ctx context.Context, id string) (*EventRecord, error) {
	row := d.db.QueryRowContext(ctx, `SELECT id, camera, captured_at, filename, boxes, alerted
		FROM detection_events WHERE id = ?`, id)

	event, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get event: %w", err)
	}
	return event, nil
}

// EventFilter narrows ListEvents. A negative Camera matches every camera.
type EventFilter struct {
	Camera         int
	Since          time.Time
	OnlyDetections bool
	Limit          int
}

// ListEvents returns events newest first.
func (d *Database) ListEvents(ctx context.Context, f EventFilter) ([]*EventRecord, error) {
	query := `SELECT id, camera, captured_at, filename, boxes, alerted
		FROM detection_events WHERE 1=1`
	args := []interface{}{}

	if f.Camera >= 0 {
		query += " AND camera = ?"
		args = append(args, f.Camera)
	}
	if !f.Since.IsZero() {
		query += " AND captured_at >= ?"
		args = append(args, f.Since.UnixMilli())
	}
	if f.OnlyDetections {
		query += " AND box_count > 0"
	}

	query += " ORDER BY captured_at DESC, rowid DESC"

	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	defer rows.Close()

	var events []*EventRecord
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

// DeleteEventsBefore prunes events captured before the given time.
func (d *Database) DeleteEventsBefore(ctx context.Context, before time.Time) (int64, error) {
	result, err := d.db.ExecContext(ctx, "DELETE FROM detection_events WHERE captured_at < ?", before.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("failed to delete old events: %w", err)
	}
	return result.RowsAffected()
}

// SaveConfig saves a configuration value
func (d *Database) SaveConfig(ctx context.Context, key, value string) error {
	query := `INSERT INTO app_config (key, value, updated_at)
		VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			updated_at = CURRENT_TIMESTAMP`

	if _, err := d.db.ExecContext(ctx, query, key, value); err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}
	return nil
}

// GetConfig retrieves a configuration value, or ErrNotFound.
func (d *Database) GetConfig(ctx context.Context, key string) (string, error) {
	var value string
	err := d.db.QueryRowContext(ctx, "SELECT value FROM app_config WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to get config: %w", err)
	}
	return value, nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanEvent(s scanner) (*EventRecord, error) {
	var (
		event   EventRecord
		ms      int64
		boxJSON string
		alerted int
	)
	if err := s.Scan(&event.ID, &event.Camera, &ms, &event.Filename, &boxJSON, &alerted); err != nil {
		return nil, err
	}
	event.Timestamp = time.UnixMilli(ms)
	event.Alerted = alerted == 1
	if err := json.Unmarshal([]byte(boxJSON), &event.Boxes); err != nil {
		return nil, fmt.Errorf("failed to unmarshal boxes: %w", err)
	}
	return &event, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
