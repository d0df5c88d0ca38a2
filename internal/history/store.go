// Package history persists terminal download outcomes so past requests
// can be inspected after the process exits.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/vmunix/tonegrab/internal/migrations"
	"github.com/vmunix/tonegrab/internal/queue"
)

// Entry is one recorded item outcome.
type Entry struct {
	ID         int64
	RequestID  string
	ItemID     string
	Title      string
	URL        string
	Format     string
	Outcome    string // completed, failed, cancelled
	OutputPath string
	Reason     string
	FinishedAt time.Time
}

// Filter specifies criteria for listing history.
type Filter struct {
	RequestID string
	Outcome   string
	Limit     int
}

// Store persists history records. It implements queue.Recorder.
type Store struct {
	db *sql.DB
}

// NewStore creates a history store on an already-migrated database.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Open opens (creating if needed) the history database at path and
// applies migrations.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if _, err := db.Exec(migrations.InitialSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Record inserts one terminal item outcome.
func (s *Store) Record(ctx context.Context, rec queue.Outcome) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO history (request_id, item_id, title, url, format, outcome, output_path, reason, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.RequestID, rec.ItemID, rec.Title, rec.URL, rec.Format,
		outcomeForPhase(rec.Phase), rec.OutputPath, rec.Reason, rec.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("insert history: %w", err)
	}
	return nil
}

// List returns history entries matching the filter, most recent first.
func (s *Store) List(ctx context.Context, f Filter) ([]*Entry, error) {
	var conditions []string
	var args []any

	if f.RequestID != "" {
		conditions = append(conditions, "request_id = ?")
		args = append(args, f.RequestID)
	}
	if f.Outcome != "" {
		conditions = append(conditions, "outcome = ?")
		args = append(args, f.Outcome)
	}

	whereClause := ""
	if len(conditions) > 0 {
		whereClause = "WHERE " + strings.Join(conditions, " AND ")
	}

	query := `SELECT id, request_id, item_id, title, url, format, outcome, output_path, reason, finished_at
		FROM history ` + whereClause + ` ORDER BY finished_at DESC, id DESC`

	if f.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var results []*Entry
	for rows.Next() {
		e := &Entry{}
		if err := rows.Scan(&e.ID, &e.RequestID, &e.ItemID, &e.Title, &e.URL,
			&e.Format, &e.Outcome, &e.OutputPath, &e.Reason, &e.FinishedAt); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		results = append(results, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history: %w", err)
	}

	return results, nil
}

func outcomeForPhase(p queue.Phase) string {
	switch p {
	case queue.PhaseCompleted:
		return "completed"
	case queue.PhaseCancelled:
		return "cancelled"
	default:
		return "failed"
	}
}
