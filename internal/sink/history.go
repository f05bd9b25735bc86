package sink

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rackwise/rackwise-core/internal/canonical"
	"github.com/rackwise/rackwise-core/internal/infrastructure/database"
)

// sqlTimeFormat is the normalized timestamp layout stored in
// sensor_data, always UTC.
const sqlTimeFormat = "2006-01-02 15:04:05"

// historyColumns is the insert column list for sensor_data.
const historyColumns = "device_id, device_kind, module_number, module_port, sensor_id, sensor_kind, timestamp, payload, meta"

// HistoryEntry is one stored row read back from sensor_data.
type HistoryEntry struct {
	ID           int64           `json:"id"`
	DeviceID     string          `json:"deviceId"`
	DeviceKind   string          `json:"deviceKind"`
	ModuleNumber *int            `json:"moduleNumber,omitempty"`
	SensorKind   string          `json:"sensorKind"`
	Timestamp    string          `json:"timestamp"`
	Payload      json.RawMessage `json:"payload"`
	Meta         json.RawMessage `json:"meta,omitempty"`
	CreatedAt    string          `json:"createdAt"`
}

// DeviceSummary is one device's row count and last activity.
type DeviceSummary struct {
	DeviceID    string `json:"deviceId"`
	DeviceKind  string `json:"deviceKind"`
	RecordCount int    `json:"recordCount"`
	LastSeen    string `json:"lastSeen"`
}

// HistoryStore persists canonical records to the sensor_data table.
// Batch insert uses a single multi-row statement; SaveHistory is the
// per-row fallback.
type HistoryStore struct {
	db *database.DB
}

// NewHistoryStore creates a store over an open database.
func NewHistoryStore(db *database.DB) *HistoryStore {
	return &HistoryStore{db: db}
}

// SaveBatch inserts all records in one multi-row statement.
func (s *HistoryStore) SaveBatch(ctx context.Context, records []canonical.Record) error {
	if len(records) == 0 {
		return nil
	}

	var (
		sb   strings.Builder
		args = make([]any, 0, len(records)*9)
	)
	sb.WriteString("INSERT INTO sensor_data (" + historyColumns + ") VALUES ")
	for i, rec := range records {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString("(?, ?, ?, ?, ?, ?, ?, ?, ?)")

		rowArgs, err := rowValues(rec)
		if err != nil {
			return err
		}
		args = append(args, rowArgs...)
	}

	if _, err := s.db.ExecContext(ctx, sb.String(), args...); err != nil {
		return fmt.Errorf("batch insert of %d records: %w", len(records), err)
	}
	return nil
}

// SaveHistory inserts a single record.
func (s *HistoryStore) SaveHistory(ctx context.Context, rec canonical.Record) error {
	args, err := rowValues(rec)
	if err != nil {
		return err
	}
	query := "INSERT INTO sensor_data (" + historyColumns + ") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)"
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("inserting record for %s: %w", rec.DeviceID, err)
	}
	return nil
}

// GetHistory returns the newest rows for a device, newest first.
func (s *HistoryStore) GetHistory(ctx context.Context, deviceID string, limit int) ([]HistoryEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, device_id, device_kind, module_number, sensor_kind, timestamp, payload, meta, created_at
		FROM sensor_data
		WHERE device_id = ?
		ORDER BY timestamp DESC, id DESC
		LIMIT ?
	`, deviceID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying history for %s: %w", deviceID, err)
	}
	defer rows.Close()

	var entries []HistoryEntry
	for rows.Next() {
		// go-sqlite3 hands TEXT columns over as strings, so the JSON
		// blobs go through string locals rather than json.RawMessage.
		var (
			e         HistoryEntry
			modNumber sql.NullInt64
			payload   string
			meta      sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.DeviceID, &e.DeviceKind, &modNumber,
			&e.SensorKind, &e.Timestamp, &payload, &meta, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning history row: %w", err)
		}
		e.Payload = json.RawMessage(payload)
		if modNumber.Valid {
			n := int(modNumber.Int64)
			e.ModuleNumber = &n
		}
		if meta.Valid {
			e.Meta = json.RawMessage(meta.String)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// GetDevices returns a summary row per known device.
func (s *HistoryStore) GetDevices(ctx context.Context) ([]DeviceSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT device_id, device_kind, COUNT(*), MAX(timestamp)
		FROM sensor_data
		GROUP BY device_id, device_kind
		ORDER BY device_id
	`)
	if err != nil {
		return nil, fmt.Errorf("querying devices: %w", err)
	}
	defer rows.Close()

	var devices []DeviceSummary
	for rows.Next() {
		var d DeviceSummary
		if err := rows.Scan(&d.DeviceID, &d.DeviceKind, &d.RecordCount, &d.LastSeen); err != nil {
			return nil, fmt.Errorf("scanning device row: %w", err)
		}
		devices = append(devices, d)
	}
	return devices, rows.Err()
}

// HealthCheck verifies the underlying database connection.
func (s *HistoryStore) HealthCheck(ctx context.Context) error {
	return s.db.HealthCheck(ctx)
}

// rowValues serializes one record into the sensor_data column values.
func rowValues(rec canonical.Record) ([]any, error) {
	payload, err := json.Marshal(rec.Payload)
	if err != nil {
		return nil, fmt.Errorf("marshaling payload for %s: %w", rec.DeviceID, err)
	}
	meta, err := json.Marshal(rec.Meta)
	if err != nil {
		return nil, fmt.Errorf("marshaling meta for %s: %w", rec.DeviceID, err)
	}

	var (
		modNumber any
		modPort   any
	)
	if rec.ModuleNumber != nil {
		modNumber = *rec.ModuleNumber
		modPort = strconv.Itoa(*rec.ModuleNumber)
	}

	ts := rec.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	return []any{
		rec.DeviceID,
		string(rec.DeviceKind),
		modNumber,
		modPort,
		rec.ModuleID,
		string(rec.MessageKind),
		ts.UTC().Format(sqlTimeFormat),
		string(payload),
		string(meta),
	}, nil
}
