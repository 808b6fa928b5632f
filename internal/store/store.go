// Package store provides SQLite persistence for emitted incidents.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/abelbrown/icewatch/internal/correlation"
	"github.com/abelbrown/icewatch/internal/logging"
	"github.com/abelbrown/icewatch/internal/model"
)

// Store handles SQLite persistence. NOT an interface - concrete type.
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type Store struct {
	db *sql.DB
	mu sync.RWMutex // Protects all database operations
}

// IncidentRow is the stored summary of an incident.
type IncidentRow struct {
	ClusterID        int64
	PrimaryLocation  string
	EarliestReport   time.Time
	LatestReport     time.Time
	SourceCount      int
	SourceTypes      []model.SourceType
	ConfidenceScore  float64
	NotificationType correlation.Kind
	Status           correlation.Status
	LastEmittedAt    time.Time
	ClosedAt         time.Time
	Emissions        int
}

// Open creates a new Store with the given database path.
// Creates tables if they don't exist.
// Uses WAL mode for better concurrent read performance (file-based DBs only).
func Open(dbPath string) (*Store, error) {
	connStr := dbPath
	if dbPath == ":memory:" {
		// Shared cache so every pooled connection sees the same database.
		connStr = "file::memory:?cache=shared"
	}

	db, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if dbPath != ":memory:" {
		if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
			db.Close()
			return nil, fmt.Errorf("enable WAL mode: %w", err)
		}
	}

	s := &Store{db: db}
	if err := s.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("create tables: %w", err)
	}

	logging.Debug("store: opened", "path", dbPath)
	return s, nil
}

func (s *Store) createTables() error {
	schema := `
	CREATE TABLE IF NOT EXISTS incidents (
		cluster_id INTEGER PRIMARY KEY,
		primary_location TEXT NOT NULL DEFAULT '',
		earliest_report DATETIME NOT NULL,
		latest_report DATETIME NOT NULL,
		source_count INTEGER NOT NULL,
		source_types TEXT NOT NULL DEFAULT '[]',
		confidence REAL NOT NULL,
		notification_type TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'open',
		last_emitted_at DATETIME NOT NULL,
		closed_at DATETIME,
		emissions INTEGER NOT NULL DEFAULT 1
	);

	CREATE INDEX IF NOT EXISTS idx_incidents_latest ON incidents(latest_report DESC);

	CREATE TABLE IF NOT EXISTS reports (
		report_key TEXT PRIMARY KEY,
		source_type TEXT NOT NULL,
		source_id TEXT NOT NULL,
		source_url TEXT,
		author TEXT,
		text TEXT NOT NULL,
		location TEXT,
		reported_at DATETIME NOT NULL,
		collected_at DATETIME NOT NULL,
		metadata TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_reports_collected ON reports(collected_at DESC);

	CREATE TABLE IF NOT EXISTS incident_reports (
		cluster_id INTEGER NOT NULL,
		report_key TEXT NOT NULL,
		position INTEGER NOT NULL,
		PRIMARY KEY (cluster_id, report_key),
		FOREIGN KEY (cluster_id) REFERENCES incidents(cluster_id),
		FOREIGN KEY (report_key) REFERENCES reports(report_key)
	);

	CREATE TABLE IF NOT EXISTS cluster_seq (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		last_id INTEGER NOT NULL
	);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("execute schema: %w", err)
	}
	return nil
}

// Close closes the database connection.
// Thread-safe: acquires write lock to prevent closing during in-flight operations.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

// SaveEvent records an emission: the incident summary is upserted and every
// member report is stored and linked. Saving the same event twice is
// harmless.
// Thread-safe: acquires write lock.
func (s *Store) SaveEvent(ev correlation.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	inc := ev.Incident
	types, err := json.Marshal(inc.UniqueSourceTypes)
	if err != nil {
		return fmt.Errorf("marshal source types: %w", err)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		INSERT INTO incidents (
			cluster_id, primary_location, earliest_report, latest_report, source_count,
			source_types, confidence, notification_type, status, last_emitted_at, closed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(cluster_id) DO UPDATE SET
			primary_location = excluded.primary_location,
			earliest_report = excluded.earliest_report,
			latest_report = excluded.latest_report,
			source_count = excluded.source_count,
			source_types = excluded.source_types,
			confidence = excluded.confidence,
			notification_type = excluded.notification_type,
			status = excluded.status,
			last_emitted_at = excluded.last_emitted_at,
			emissions = emissions + 1
	`,
		inc.ClusterID,
		inc.PrimaryLocation,
		inc.EarliestReport.UTC(),
		inc.LatestReport.UTC(),
		inc.SourceCount,
		string(types),
		inc.ConfidenceScore,
		string(ev.Kind),
		string(statusOrOpen(inc.Status)),
		inc.LastEmittedAt.UTC(),
		nullTime(inc.ClosedAt),
	)
	if err != nil {
		return fmt.Errorf("upsert incident %d: %w", inc.ClusterID, err)
	}

	reportStmt, err := tx.Prepare(`
		INSERT OR IGNORE INTO reports (
			report_key, source_type, source_id, source_url, author, text,
			location, reported_at, collected_at, metadata
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer reportStmt.Close()

	linkStmt, err := tx.Prepare(`
		INSERT OR IGNORE INTO incident_reports (cluster_id, report_key, position)
		VALUES (?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer linkStmt.Close()

	for i, r := range inc.Reports {
		key := r.Key()
		var meta []byte
		if len(r.Metadata) > 0 {
			if meta, err = json.Marshal(r.Metadata); err != nil {
				logging.Warn("store: dropping unmarshalable metadata", "key", r.SourceID, "error", err)
				meta = nil
			}
		}
		if _, err := reportStmt.Exec(
			key,
			string(r.SourceType.Normalize()),
			r.SourceID,
			r.SourceURL,
			r.Author,
			r.Text,
			r.Location,
			r.Timestamp.UTC(),
			r.CollectedAt.UTC(),
			nullString(meta),
		); err != nil {
			return fmt.Errorf("insert report: %w", err)
		}
		if _, err := linkStmt.Exec(inc.ClusterID, key, i); err != nil {
			return fmt.Errorf("link report: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// CloseIncident marks a stored incident closed. Unknown ids are ignored.
// Thread-safe: acquires write lock.
func (s *Store) CloseIncident(id int64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(
		"UPDATE incidents SET status = ?, closed_at = ? WHERE cluster_id = ?",
		string(correlation.StatusClosed), at.UTC(), id,
	)
	return err
}

// RecentIncidents returns up to limit incidents, most recently active first.
// Thread-safe: acquires read lock.
func (s *Store) RecentIncidents(limit int) ([]IncidentRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT cluster_id, primary_location, earliest_report, latest_report, source_count,
			source_types, confidence, notification_type, status, last_emitted_at, closed_at, emissions
		FROM incidents
		ORDER BY latest_report DESC, cluster_id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []IncidentRow
	for rows.Next() {
		var (
			row      IncidentRow
			types    string
			kind     string
			status   string
			closedAt sql.NullTime
		)
		if err := rows.Scan(
			&row.ClusterID,
			&row.PrimaryLocation,
			&row.EarliestReport,
			&row.LatestReport,
			&row.SourceCount,
			&types,
			&row.ConfidenceScore,
			&kind,
			&status,
			&row.LastEmittedAt,
			&closedAt,
			&row.Emissions,
		); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(types), &row.SourceTypes); err != nil {
			return nil, fmt.Errorf("incident %d source types: %w", row.ClusterID, err)
		}
		row.NotificationType = correlation.Kind(kind)
		row.Status = correlation.Status(status)
		if closedAt.Valid {
			row.ClosedAt = closedAt.Time
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// IncidentReports returns the reports of one incident in the order they
// joined it.
// Thread-safe: acquires read lock.
func (s *Store) IncidentReports(id int64) ([]model.RawReport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT r.source_type, r.source_id, r.source_url, r.author, r.text,
			r.location, r.reported_at, r.collected_at, r.metadata
		FROM incident_reports ir
		JOIN reports r ON r.report_key = ir.report_key
		WHERE ir.cluster_id = ?
		ORDER BY ir.position
	`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.RawReport
	for rows.Next() {
		var (
			r                model.RawReport
			src              string
			url, author, loc sql.NullString
			meta             sql.NullString
		)
		if err := rows.Scan(&src, &r.SourceID, &url, &author, &r.Text,
			&loc, &r.Timestamp, &r.CollectedAt, &meta); err != nil {
			return nil, err
		}
		r.SourceType = model.SourceType(src)
		r.SourceURL = url.String
		r.Author = author.String
		r.Location = loc.String
		if meta.Valid && meta.String != "" {
			if err := json.Unmarshal([]byte(meta.String), &r.Metadata); err != nil {
				logging.Warn("store: bad report metadata", "source_id", r.SourceID, "error", err)
			}
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ReserveClusterID records id as allocated. The mark only moves up, so ids
// handed out before a restart are never reused even when their incident
// was never saved.
func (s *Store) ReserveClusterID(id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		INSERT INTO cluster_seq (id, last_id) VALUES (1, ?)
		ON CONFLICT(id) DO UPDATE SET last_id = MAX(last_id, excluded.last_id)`, id)
	if err != nil {
		return fmt.Errorf("reserve cluster id %d: %w", id, err)
	}
	return nil
}

// MaxClusterID returns the highest cluster id either reserved or stored,
// or 0 for an empty store. The engine resumes numbering after it.
func (s *Store) MaxClusterID() (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var id int64
	err := s.db.QueryRow(`
		SELECT MAX(
			COALESCE((SELECT MAX(cluster_id) FROM incidents), 0),
			COALESCE((SELECT last_id FROM cluster_seq WHERE id = 1), 0)
		)`).Scan(&id)
	if err != nil {
		return 0, err
	}
	return id, nil
}

// RecentReportKeys returns the de-duplication keys of the n most recently
// collected reports, oldest first, for warming the engine's seen set.
func (s *Store) RecentReportKeys(n int) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT report_key FROM reports
		ORDER BY collected_at DESC, reported_at DESC
		LIMIT ?
	`, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i, j := 0, len(keys)-1; i < j; i, j = i+1, j-1 {
		keys[i], keys[j] = keys[j], keys[i]
	}
	return keys, nil
}

// Counts returns the number of stored incidents and reports.
func (s *Store) Counts() (incidents, reports int, err error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err = s.db.QueryRow("SELECT COUNT(*) FROM incidents").Scan(&incidents); err != nil {
		return 0, 0, err
	}
	err = s.db.QueryRow("SELECT COUNT(*) FROM reports").Scan(&reports)
	return incidents, reports, err
}

func statusOrOpen(st correlation.Status) correlation.Status {
	if st == "" {
		return correlation.StatusOpen
	}
	return st
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC()
}

func nullString(b []byte) any {
	if b == nil {
		return nil
	}
	return string(b)
}
