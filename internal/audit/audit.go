// Package audit keeps an append-only SQLite log of webhook deliveries.
//
// The log is an operator trail of what arrived and how it was answered. The
// event store never reads it back, so events are not restored from it after
// a restart.
package audit

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"iothook/internal/security"
	"iothook/pkg/fileutil"

	_ "modernc.org/sqlite"
)

// MaxListLimit caps RecentDeliveries.
const MaxListLimit = 100

// Log manages the delivery audit log in SQLite
type Log struct {
	db *sql.DB
}

// Open opens (or creates) the audit database at dbPath
func Open(dbPath string) (*Log, error) {
	if err := fileutil.EnsureParentDir(dbPath, security.PermDirectory); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool for SQLite (single writer)
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	l := &Log{db: db}

	if err := l.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	if dbPath != ":memory:" {
		if err := security.FixFilePermissions(dbPath, security.PermDBFile); err != nil {
			db.Close()
			return nil, err
		}
	}

	return l, nil
}

// Close closes the database connection
func (l *Log) Close() error {
	return l.db.Close()
}

// initSchema creates the database tables and indexes
func (l *Log) initSchema() error {
	_, err := l.db.Exec(`
		CREATE TABLE IF NOT EXISTS deliveries (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			event_id TEXT NOT NULL,
			event_type TEXT NOT NULL,
			device_phy_id TEXT NOT NULL,
			outcome TEXT NOT NULL,
			remote_addr TEXT NOT NULL,
			request_id TEXT NOT NULL,
			received_at TEXT NOT NULL,
			detail TEXT
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create table: %w", err)
	}

	_, err = l.db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_deliveries_event
		ON deliveries(event_id)
	`)
	if err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}

	return nil
}

// RecordDelivery appends a delivery to the log. A zero ReceivedAt is
// replaced with the current time.
func (l *Log) RecordDelivery(ctx context.Context, record *DeliveryRecord) (int64, error) {
	receivedAt := record.ReceivedAt
	if receivedAt.IsZero() {
		receivedAt = time.Now()
	}

	result, err := l.db.ExecContext(ctx, `
		INSERT INTO deliveries
		(event_id, event_type, device_phy_id, outcome, remote_addr,
		 request_id, received_at, detail)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		record.EventID,
		record.EventType,
		record.DevicePhyID,
		string(record.Outcome),
		record.RemoteAddr,
		record.RequestID,
		receivedAt.UTC().Format(time.RFC3339Nano),
		record.Detail,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert delivery record: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert ID: %w", err)
	}

	return id, nil
}

// RecentDeliveries returns the newest deliveries first. limit is clamped to
// 1..MaxListLimit.
func (l *Log) RecentDeliveries(ctx context.Context, limit int) ([]DeliveryRecord, error) {
	if limit <= 0 {
		limit = 1
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}

	rows, err := l.db.QueryContext(ctx, `
		SELECT id, event_id, event_type, device_phy_id, outcome, remote_addr,
		       request_id, received_at, detail
		FROM deliveries
		ORDER BY id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query deliveries: %w", err)
	}
	defer rows.Close()

	records := []DeliveryRecord{}
	for rows.Next() {
		record, err := scanDeliveryRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan delivery record: %w", err)
		}
		records = append(records, *record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return records, nil
}

// DeliveriesForEvent returns every delivery of one event id, oldest first.
// Redeliveries of the same event show up here as duplicates.
func (l *Log) DeliveriesForEvent(ctx context.Context, eventID string) ([]DeliveryRecord, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT id, event_id, event_type, device_phy_id, outcome, remote_addr,
		       request_id, received_at, detail
		FROM deliveries
		WHERE event_id = ?
		ORDER BY id ASC
	`, eventID)
	if err != nil {
		return nil, fmt.Errorf("failed to query deliveries for event: %w", err)
	}
	defer rows.Close()

	records := []DeliveryRecord{}
	for rows.Next() {
		record, err := scanDeliveryRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan delivery record: %w", err)
		}
		records = append(records, *record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return records, nil
}

// CountByOutcome returns the number of deliveries per outcome
func (l *Log) CountByOutcome(ctx context.Context) (map[Outcome]int64, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT outcome, COUNT(*)
		FROM deliveries
		GROUP BY outcome
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to count deliveries: %w", err)
	}
	defer rows.Close()

	counts := make(map[Outcome]int64)
	for rows.Next() {
		var outcome string
		var count int64
		if err := rows.Scan(&outcome, &count); err != nil {
			return nil, fmt.Errorf("failed to scan outcome count: %w", err)
		}
		counts[Outcome(outcome)] = count
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return counts, nil
}

// scanner is an interface that both *sql.Row and *sql.Rows implement
type scanner interface {
	Scan(dest ...interface{}) error
}

// scanDeliveryRecord scans a database row into a DeliveryRecord
func scanDeliveryRecord(s scanner) (*DeliveryRecord, error) {
	var record DeliveryRecord
	var outcome string
	var receivedAtStr string

	err := s.Scan(
		&record.ID,
		&record.EventID,
		&record.EventType,
		&record.DevicePhyID,
		&outcome,
		&record.RemoteAddr,
		&record.RequestID,
		&receivedAtStr,
		&record.Detail,
	)
	if err != nil {
		return nil, err
	}
	record.Outcome = Outcome(outcome)

	receivedAt, err := time.Parse(time.RFC3339Nano, receivedAtStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse received_at timestamp: %w", err)
	}
	record.ReceivedAt = receivedAt

	return &record, nil
}
