package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// DB wraps the SQLite database connection
type DB struct {
	conn *sql.DB
	now  func() time.Time
}

// Open creates a new database connection and runs migrations
func Open(path string) (*DB, error) {
	conn, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Test connection
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// Run migrations
	if err := RunMigrations(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &DB{conn: conn, now: func() time.Time { return time.Now().UTC() }}, nil
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.conn.Close()
}

// --- Charger Snapshots ---

// SaveChargerSnapshot appends a telemetry history row
func (db *DB) SaveChargerSnapshot(s *ChargerSnapshot) error {
	if s.RecordedAt.IsZero() {
		s.RecordedAt = db.now()
	}
	_, err := db.conn.Exec(`
		INSERT INTO charger_snapshots (status, start_stop, mode, instant_power, voltage, current_amps,
			dynamic_current, session_energy, charging_time, temperature, load_balancing_mode, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, s.Status, s.StartStop, s.Mode, s.InstantPower, s.Voltage, s.Current,
		s.DynamicCurrent, s.SessionEnergy, s.ChargingTime, s.Temperature, s.LoadBalancingMode, s.RecordedAt.UTC())

	if err != nil {
		return fmt.Errorf("failed to save charger snapshot: %w", err)
	}

	return nil
}

// GetChargerSnapshots returns the most recent history rows, newest first
func (db *DB) GetChargerSnapshots(limit int) ([]ChargerSnapshot, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.conn.Query(`
		SELECT id, status, start_stop, mode, instant_power, voltage, current_amps, dynamic_current,
			session_energy, charging_time, temperature, load_balancing_mode, recorded_at
		FROM charger_snapshots
		ORDER BY id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query charger snapshots: %w", err)
	}
	defer rows.Close()

	var snapshots []ChargerSnapshot
	for rows.Next() {
		var s ChargerSnapshot
		var mode sql.NullString
		err := rows.Scan(
			&s.ID, &s.Status, &s.StartStop, &s.Mode, &s.InstantPower, &s.Voltage, &s.Current, &s.DynamicCurrent,
			&s.SessionEnergy, &s.ChargingTime, &s.Temperature, &mode, &s.RecordedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan charger snapshot: %w", err)
		}
		s.LoadBalancingMode = mode.String
		snapshots = append(snapshots, s)
	}

	return snapshots, rows.Err()
}

// --- Event Log ---

// LogEvent records an event in the log
func (db *DB) LogEvent(source EventSource, eventType EventType, message string, details interface{}) error {
	var detailsJSON []byte
	if details != nil {
		var err error
		detailsJSON, err = json.Marshal(details)
		if err != nil {
			return fmt.Errorf("failed to marshal event details: %w", err)
		}
	}

	_, err := db.conn.Exec(
		"INSERT INTO event_log (timestamp, source, event_type, message, details) VALUES (?, ?, ?, ?, ?)",
		db.now(), source, eventType, message, detailsJSON,
	)
	if err != nil {
		return fmt.Errorf("failed to log event: %w", err)
	}

	return nil
}

// GetEventLogs retrieves events with optional filtering
func (db *DB) GetEventLogs(filter EventLogFilter) ([]EventLog, error) {
	query := "SELECT id, timestamp, source, event_type, message, details FROM event_log WHERE 1=1"
	args := []interface{}{}

	if filter.Source != nil {
		query += " AND source = ?"
		args = append(args, *filter.Source)
	}
	if filter.EventType != nil {
		query += " AND event_type = ?"
		args = append(args, *filter.EventType)
	}
	if filter.Since != nil {
		query += " AND timestamp >= ?"
		args = append(args, filter.Since.UTC())
	}
	if filter.Until != nil {
		query += " AND timestamp <= ?"
		args = append(args, filter.Until.UTC())
	}

	query += " ORDER BY timestamp DESC, id DESC"

	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}
	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET %d", filter.Offset)
	}

	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query event logs: %w", err)
	}
	defer rows.Close()

	var logs []EventLog
	for rows.Next() {
		var entry EventLog
		var message, details sql.NullString
		err := rows.Scan(&entry.ID, &entry.Timestamp, &entry.Source, &entry.EventType, &message, &details)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event log: %w", err)
		}
		entry.Message = message.String
		if details.Valid && details.String != "" {
			entry.Details = json.RawMessage(details.String)
		}
		logs = append(logs, entry)
	}

	return logs, rows.Err()
}

// --- Command Log ---

// RecordCommand appends an outbound command to the journal
func (db *DB) RecordCommand(rec *CommandRecord) error {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = db.now()
	}
	var sequenceID, errText sql.NullString
	if rec.SequenceID != "" {
		sequenceID = sql.NullString{String: rec.SequenceID, Valid: true}
	}
	if rec.Error != "" {
		errText = sql.NullString{String: rec.Error, Valid: true}
	}

	result, err := db.conn.Exec(`
		INSERT INTO command_log (timestamp, sequence_id, kind, method, target, value, success, error, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, rec.Timestamp.UTC(), sequenceID, rec.Kind, rec.Method, rec.Target, rec.Value, rec.Success, errText, rec.DurationMillis)
	if err != nil {
		return fmt.Errorf("failed to record command: %w", err)
	}

	if id, err := result.LastInsertId(); err == nil {
		rec.ID = int(id)
	}
	return nil
}

// GetCommands retrieves journaled commands, newest first
func (db *DB) GetCommands(filter CommandFilter) ([]CommandRecord, error) {
	query := `SELECT id, timestamp, sequence_id, kind, method, target, value, success, error, duration_ms
		FROM command_log WHERE 1=1`
	args := []interface{}{}

	if filter.Kind != "" {
		query += " AND kind = ?"
		args = append(args, filter.Kind)
	}
	if filter.SequenceID != "" {
		query += " AND sequence_id = ?"
		args = append(args, filter.SequenceID)
	}
	if filter.Since != nil {
		query += " AND timestamp >= ?"
		args = append(args, filter.Since.UTC())
	}

	query += " ORDER BY id DESC"

	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query commands: %w", err)
	}
	defer rows.Close()

	var records []CommandRecord
	for rows.Next() {
		var rec CommandRecord
		var sequenceID, errText sql.NullString
		err := rows.Scan(&rec.ID, &rec.Timestamp, &sequenceID, &rec.Kind, &rec.Method, &rec.Target,
			&rec.Value, &rec.Success, &errText, &rec.DurationMillis)
		if err != nil {
			return nil, fmt.Errorf("failed to scan command: %w", err)
		}
		rec.SequenceID = sequenceID.String
		rec.Error = errText.String
		records = append(records, rec)
	}

	return records, rows.Err()
}

// PruneEventLogs removes event, command and snapshot rows older than the cutoff
func (db *DB) PruneEventLogs(olderThan time.Time) (int64, error) {
	cutoff := olderThan.UTC()
	var total int64
	for _, stmt := range []string{
		"DELETE FROM event_log WHERE timestamp < ?",
		"DELETE FROM command_log WHERE timestamp < ?",
		"DELETE FROM charger_snapshots WHERE recorded_at < ?",
	} {
		result, err := db.conn.Exec(stmt, cutoff)
		if err != nil {
			return total, fmt.Errorf("failed to prune event logs: %w", err)
		}
		n, err := result.RowsAffected()
		if err != nil {
			return total, err
		}
		total += n
	}

	return total, nil
}
