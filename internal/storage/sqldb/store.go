package sqldb

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/tjfontaine/twin-gateway/internal/domain"
	"github.com/tjfontaine/twin-gateway/internal/storage"
)

// Store is a SQL implementation of storage.AuditStore.
type Store struct {
	db *sqlx.DB
}

var _ storage.AuditStore = (*Store)(nil)

// Config holds database connection configuration
type Config struct {
	Driver string // database/sql driver name, "sqlite" by default
	DSN    string // Data source name / connection string
}

var sqlitePragmas = []string{
	"PRAGMA journal_mode=WAL",
	"PRAGMA synchronous=NORMAL",
	"PRAGMA busy_timeout=5000",
}

// New opens the database and initializes the schema.
func New(cfg Config) (*Store, error) {
	driver := cfg.Driver
	if driver == "" {
		driver = "sqlite"
	}

	db, err := sqlx.Open(driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if driver == "sqlite" {
		for _, stmt := range sqlitePragmas {
			if _, err := db.Exec(stmt); err != nil {
				db.Close()
				return nil, fmt.Errorf("failed to execute pragma: %w", err)
			}
		}
	}

	store := &Store{db: db}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

// NewSQLite creates a new SQLite store, creating the parent directory of
// dbPath when needed.
func NewSQLite(dbPath string) (*Store, error) {
	if dir := filepath.Dir(dbPath); dir != "." && !strings.HasPrefix(dbPath, "file:") && dbPath != ":memory:" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	return New(Config{Driver: "sqlite", DSN: dbPath})
}

// DB returns the underlying sqlx.DB for advanced operations
func (s *Store) DB() *sqlx.DB {
	return s.db
}

func (s *Store) initSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS audit_logs (
id INTEGER PRIMARY KEY AUTOINCREMENT,
user_instruction TEXT NOT NULL,
request_content TEXT NOT NULL,
response_content TEXT,
response_time_ms INTEGER NOT NULL DEFAULT 0,
status INTEGER NOT NULL,
error_message TEXT,
operation_type TEXT,
target_component TEXT,
request_tokens INTEGER NOT NULL DEFAULT 0,
response_tokens INTEGER NOT NULL DEFAULT 0,
request_id TEXT,
created_at TIMESTAMP NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_logs_created ON audit_logs(created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_logs_operation ON audit_logs(operation_type)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_logs_target ON audit_logs(target_component)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_logs_status ON audit_logs(status)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}
	return s.addRequestIDColumn()
}

// addRequestIDColumn upgrades databases created before request ids were stored.
func (s *Store) addRequestIDColumn() error {
	var n int
	if err := s.db.Get(&n, `SELECT COUNT(*) FROM pragma_table_info('audit_logs') WHERE name = 'request_id'`); err != nil {
		return fmt.Errorf("failed to inspect audit_logs: %w", err)
	}
	if n > 0 {
		return nil
	}
	if _, err := s.db.Exec(`ALTER TABLE audit_logs ADD COLUMN request_id TEXT`); err != nil {
		return fmt.Errorf("failed to add request_id column: %w", err)
	}
	return nil
}

const selectColumns = `SELECT id, user_instruction, request_content, COALESCE(response_content, '') AS response_content,
response_time_ms, status, COALESCE(error_message, '') AS error_message,
COALESCE(operation_type, '') AS operation_type, COALESCE(target_component, '') AS target_component,
request_tokens, response_tokens, COALESCE(request_id, '') AS request_id, created_at FROM audit_logs`

func (s *Store) Append(ctx context.Context, rec *domain.AuditRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	query := `INSERT INTO audit_logs (user_instruction, request_content, response_content, response_time_ms,
status, error_message, operation_type, target_component, request_tokens, response_tokens, request_id, created_at)
VALUES (:user_instruction, :request_content, :response_content, :response_time_ms,
:status, :error_message, :operation_type, :target_component, :request_tokens, :response_tokens, :request_id, :created_at)`

	res, err := s.db.NamedExecContext(ctx, query, rec)
	if err != nil {
		return fmt.Errorf("failed to append audit record: %w", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		rec.ID = id
	}
	return nil
}

func (s *Store) list(ctx context.Context, where string, opts storage.ListOptions, args ...any) ([]*domain.AuditRecord, error) {
	opts = opts.Normalize()
	query := s.db.Rebind(selectColumns + " WHERE " + where + " ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?")
	args = append(args, opts.Limit, opts.Offset)

	var records []*domain.AuditRecord
	if err := s.db.SelectContext(ctx, &records, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list audit records: %w", err)
	}
	if records == nil {
		records = []*domain.AuditRecord{}
	}
	return records, nil
}

func (s *Store) ListByTimeRange(ctx context.Context, from, to time.Time, opts storage.ListOptions) ([]*domain.AuditRecord, error) {
	return s.list(ctx, "created_at >= ? AND created_at <= ?", opts, from.UTC(), to.UTC())
}

func (s *Store) ListByOperationType(ctx context.Context, operationType string, opts storage.ListOptions) ([]*domain.AuditRecord, error) {
	return s.list(ctx, "operation_type = ?", opts, operationType)
}

func (s *Store) ListByTargetComponent(ctx context.Context, target string, opts storage.ListOptions) ([]*domain.AuditRecord, error) {
	return s.list(ctx, "target_component = ?", opts, target)
}

func (s *Store) ListFailed(ctx context.Context, opts storage.ListOptions) ([]*domain.AuditRecord, error) {
	return s.list(ctx, "status = ?", opts, domain.AuditFailed)
}

func (s *Store) Stats(ctx context.Context) (*storage.AuditStats, error) {
	var totals struct {
		Total     int     `db:"total"`
		Succeeded int     `db:"succeeded"`
		AvgTime   float64 `db:"avg_time"`
	}
	err := s.db.GetContext(ctx, &totals, s.db.Rebind(`SELECT COUNT(*) AS total,
COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS succeeded,
COALESCE(AVG(response_time_ms), 0) AS avg_time FROM audit_logs`), domain.AuditSuccess)
	if err != nil {
		return nil, fmt.Errorf("failed to compute audit stats: %w", err)
	}

	var rows []struct {
		Operation string `db:"operation_type"`
		Count     int    `db:"n"`
	}
	err = s.db.SelectContext(ctx, &rows, `SELECT operation_type, COUNT(*) AS n FROM audit_logs
WHERE operation_type IS NOT NULL AND operation_type != '' GROUP BY operation_type`)
	if err != nil {
		return nil, fmt.Errorf("failed to compute audit stats: %w", err)
	}

	stats := &storage.AuditStats{
		Total:           totals.Total,
		Succeeded:       totals.Succeeded,
		Failed:          totals.Total - totals.Succeeded,
		AvgResponseTime: totals.AvgTime,
		ByOperation:     make(map[string]int, len(rows)),
	}
	for _, r := range rows {
		stats.ByOperation[r.Operation] = r.Count
	}
	return stats, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}
