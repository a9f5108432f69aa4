package storage

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/martinsuchenak/asicfleet/internal/model"
)

//go:embed schema.sql
var schemaFS embed.FS

// SQLiteStorage implements Storage with SQLite backend
type SQLiteStorage struct {
	mu   sync.RWMutex
	db   *sql.DB
	path string
}

// NewSQLiteStorage opens (creating if needed) history.db under dataDir.
func NewSQLiteStorage(dataDir string) (*SQLiteStorage, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, err
	}

	dbPath := filepath.Join(dataDir, "history.db")

	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)", dbPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	db.SetMaxOpenConns(1) // SQLite works best with single writer
	db.SetMaxIdleConns(1)

	ss := &SQLiteStorage{
		db:   db,
		path: dbPath,
	}

	if err := ss.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing schema: %w", err)
	}
	if err := ss.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating schema: %w", err)
	}

	return ss, nil
}

// initSchema creates the database schema
func (ss *SQLiteStorage) initSchema() error {
	schema, err := schemaFS.ReadFile("schema.sql")
	if err != nil {
		return fmt.Errorf("reading schema: %w", err)
	}
	if _, err := ss.db.Exec(string(schema)); err != nil {
		return fmt.Errorf("executing schema: %w", err)
	}
	return nil
}

// Path returns the database file location.
func (ss *SQLiteStorage) Path() string {
	return ss.path
}

// Close closes the database connection
func (ss *SQLiteStorage) Close() error {
	return ss.db.Close()
}

// SaveScan inserts or replaces a scan row.
func (ss *SQLiteStorage) SaveScan(scan *model.Scan) error {
	if scan == nil || scan.ID == "" {
		return fmt.Errorf("saving scan: missing id")
	}

	ss.mu.Lock()
	defer ss.mu.Unlock()

	_, err := ss.db.Exec(`
		INSERT INTO scans (id, network, status, total_hosts, probed_hosts, found_hosts, error_message, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			network = excluded.network,
			status = excluded.status,
			total_hosts = excluded.total_hosts,
			probed_hosts = excluded.probed_hosts,
			found_hosts = excluded.found_hosts,
			error_message = excluded.error_message,
			started_at = excluded.started_at,
			completed_at = excluded.completed_at
	`, scan.ID, scan.Network, scan.Status, scan.TotalHosts, scan.ProbedHosts, scan.FoundHosts,
		scan.ErrorMessage, scan.StartedAt.UTC(), nullTime(scan.CompletedAt))
	if err != nil {
		return fmt.Errorf("saving scan: %w", err)
	}
	return nil
}

const scanColumns = `id, network, status, total_hosts, probed_hosts, found_hosts, error_message, started_at, completed_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanScan(row rowScanner) (*model.Scan, error) {
	var s model.Scan
	var completed sql.NullTime
	if err := row.Scan(&s.ID, &s.Network, &s.Status, &s.TotalHosts, &s.ProbedHosts, &s.FoundHosts,
		&s.ErrorMessage, &s.StartedAt, &completed); err != nil {
		return nil, err
	}
	if completed.Valid {
		t := completed.Time
		s.CompletedAt = &t
	}
	return &s, nil
}

// GetScan retrieves a scan by ID
func (ss *SQLiteStorage) GetScan(id string) (*model.Scan, error) {
	ss.mu.RLock()
	defer ss.mu.RUnlock()

	scan, err := scanScan(ss.db.QueryRow(`SELECT `+scanColumns+` FROM scans WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrScanNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying scan: %w", err)
	}
	return scan, nil
}

// ListScans returns the newest scans first.
func (ss *SQLiteStorage) ListScans(limit int) ([]model.Scan, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}

	ss.mu.RLock()
	defer ss.mu.RUnlock()

	rows, err := ss.db.Query(`SELECT `+scanColumns+` FROM scans ORDER BY started_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying scans: %w", err)
	}
	defer rows.Close()

	scans := []model.Scan{}
	for rows.Next() {
		s, err := scanScan(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning scan: %w", err)
		}
		scans = append(scans, *s)
	}
	return scans, rows.Err()
}

// SaveOperation inserts or replaces an operation row.
func (ss *SQLiteStorage) SaveOperation(op *model.Operation) error {
	if op == nil || op.ID == "" {
		return fmt.Errorf("saving operation: missing id")
	}

	targets, err := encodeJSON(nonNil(op.Targets))
	if err != nil {
		return err
	}
	results, err := encodeJSON(nonNilResults(op.Results))
	if err != nil {
		return err
	}

	ss.mu.Lock()
	defer ss.mu.Unlock()

	_, err = ss.db.Exec(`
		INSERT OR REPLACE INTO operations (id, kind, payload, targets, succeeded, failed, skipped, results, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, op.ID, string(op.Kind), op.Payload, targets, op.Succeeded, op.Failed, op.Skipped, results,
		op.StartedAt.UTC(), op.CompletedAt.UTC())
	if err != nil {
		return fmt.Errorf("saving operation: %w", err)
	}
	return nil
}

const operationColumns = `id, kind, payload, targets, succeeded, failed, skipped, results, started_at, completed_at`

func scanOperation(row rowScanner) (*model.Operation, error) {
	var op model.Operation
	var kind, targets, results string
	if err := row.Scan(&op.ID, &kind, &op.Payload, &targets, &op.Succeeded, &op.Failed, &op.Skipped,
		&results, &op.StartedAt, &op.CompletedAt); err != nil {
		return nil, err
	}
	op.Kind = model.OperationKind(kind)
	if err := decodeJSON(targets, &op.Targets); err != nil {
		return nil, err
	}
	if err := decodeJSON(results, &op.Results); err != nil {
		return nil, err
	}
	return &op, nil
}

// GetOperation retrieves an operation by ID
func (ss *SQLiteStorage) GetOperation(id string) (*model.Operation, error) {
	ss.mu.RLock()
	defer ss.mu.RUnlock()

	op, err := scanOperation(ss.db.QueryRow(`SELECT `+operationColumns+` FROM operations WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrOperationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying operation: %w", err)
	}
	return op, nil
}

// ListOperations returns the newest operations first, without per-device
// results.
func (ss *SQLiteStorage) ListOperations(limit int) ([]model.Operation, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}

	ss.mu.RLock()
	defer ss.mu.RUnlock()

	rows, err := ss.db.Query(`SELECT `+operationColumns+` FROM operations ORDER BY started_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying operations: %w", err)
	}
	defer rows.Close()

	ops := []model.Operation{}
	for rows.Next() {
		op, err := scanOperation(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning operation: %w", err)
		}
		op.Results = nil
		ops = append(ops, *op)
	}
	return ops, rows.Err()
}

// SaveSnapshot replaces the device rows stored for scanID.
func (ss *SQLiteStorage) SaveSnapshot(scanID string, records []model.Record) error {
	ss.mu.Lock()
	defer ss.mu.Unlock()

	tx, err := ss.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM device_snapshots WHERE scan_id = ?`, scanID); err != nil {
		return fmt.Errorf("clearing snapshot: %w", err)
	}

	stmt, err := tx.Prepare(`INSERT INTO device_snapshots (scan_id, ip, data) VALUES (?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing snapshot insert: %w", err)
	}
	defer stmt.Close()

	for _, rec := range records {
		data, err := encodeJSON(rec)
		if err != nil {
			return err
		}
		if _, err := stmt.Exec(scanID, rec.IP, data); err != nil {
			return fmt.Errorf("inserting snapshot row %s: %w", rec.IP, err)
		}
	}

	return tx.Commit()
}

// LatestSnapshot returns the newest scan with stored device rows. It returns
// ErrScanNotFound when nothing has been captured yet.
func (ss *SQLiteStorage) LatestSnapshot() (*model.Scan, []model.Record, error) {
	ss.mu.RLock()
	defer ss.mu.RUnlock()

	scan, err := scanScan(ss.db.QueryRow(`
		SELECT ` + scanColumns + ` FROM scans
		WHERE id IN (SELECT DISTINCT scan_id FROM device_snapshots)
		ORDER BY started_at DESC, id DESC LIMIT 1`))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil, ErrScanNotFound
	}
	if err != nil {
		return nil, nil, fmt.Errorf("querying latest snapshot: %w", err)
	}

	rows, err := ss.db.Query(`SELECT data FROM device_snapshots WHERE scan_id = ?`, scan.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("querying snapshot rows: %w", err)
	}
	defer rows.Close()

	records := []model.Record{}
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, nil, fmt.Errorf("scanning snapshot row: %w", err)
		}
		var rec model.Record
		if err := decodeJSON(data, &rec); err != nil {
			return nil, nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}
	return scan, records, nil
}

// Prune keeps only the newest keep scans and keep operations.
func (ss *SQLiteStorage) Prune(keep int) error {
	if keep <= 0 {
		return nil
	}

	ss.mu.Lock()
	defer ss.mu.Unlock()

	if _, err := ss.db.Exec(`
		DELETE FROM scans WHERE id NOT IN (
			SELECT id FROM scans ORDER BY started_at DESC, id DESC LIMIT ?
		)`, keep); err != nil {
		return fmt.Errorf("pruning scans: %w", err)
	}
	if _, err := ss.db.Exec(`
		DELETE FROM operations WHERE id NOT IN (
			SELECT id FROM operations ORDER BY started_at DESC, id DESC LIMIT ?
		)`, keep); err != nil {
		return fmt.Errorf("pruning operations: %w", err)
	}
	return nil
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func nonNilResults(r []model.OperationResult) []model.OperationResult {
	if r == nil {
		return []model.OperationResult{}
	}
	return r
}
