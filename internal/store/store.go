// Package store persists backtest results to a SQLite database so runs
// can be listed and retrieved later by the CLI and the API server.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	_ "modernc.org/sqlite"

	"github.com/seenimoa/backtrail/pkg/logging"
	"github.com/seenimoa/backtrail/pkg/models"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Run kinds stored in the runs table.
const (
	KindSingle    = "single"
	KindPortfolio = "portfolio"
)

// ErrNotFound is returned when a run id does not exist.
var ErrNotFound = errors.New("store: run not found")

// Store wraps a SQLite database holding completed runs.
type Store struct {
	db *sql.DB
}

// RunSummary is one row of the run listing, without the full payload.
type RunSummary struct {
	ID           int64     `json:"id"`
	Kind         string    `json:"kind"`
	StrategyID   string    `json:"strategy_id"`
	StrategyName string    `json:"strategy_name,omitempty"`
	Symbol       string    `json:"symbol"`
	StartDate    time.Time `json:"start_date"`
	EndDate      time.Time `json:"end_date"`
	FinalEquity  float64   `json:"final_equity"`
	CreatedAt    time.Time `json:"created_at"`
}

// Open opens (or creates) the run database at path and runs migrations.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create store dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping store: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate store: %w", err)
	}
	log := logging.GetLogger("store")
	log.Debug().Str("path", path).Msg("run store opened")
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS runs (
			id            INTEGER PRIMARY KEY AUTOINCREMENT,
			kind          TEXT NOT NULL,
			strategy_id   TEXT NOT NULL,
			strategy_name TEXT,
			symbol        TEXT NOT NULL,
			start_date    TEXT NOT NULL,
			end_date      TEXT NOT NULL,
			final_equity  REAL NOT NULL,
			created_at    TEXT NOT NULL,
			payload       TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_runs_strategy ON runs(strategy_id);
		CREATE INDEX IF NOT EXISTS idx_runs_created  ON runs(created_at);
	`)
	return err
}

// SaveResult stores a single-symbol run and returns its id.
func (s *Store) SaveResult(r *models.BacktestResult) (int64, error) {
	return s.insert(KindSingle, r.StrategyID, r.StrategyName, r.Symbol,
		r.StartDate, r.EndDate, r.FinalEquity, r)
}

// SavePortfolioResult stores a multi-symbol run and returns its id.
// The symbol column holds the comma-joined universe.
func (s *Store) SavePortfolioResult(r *models.PortfolioResult) (int64, error) {
	return s.insert(KindPortfolio, r.StrategyID, r.StrategyName, strings.Join(r.Symbols, ","),
		r.StartDate, r.EndDate, r.FinalEquity, r)
}

func (s *Store) insert(kind, stratID, stratName, symbol string, start, end time.Time, finalEquity float64, payload any) (int64, error) {
	blob, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("encode result: %w", err)
	}

	res, err := s.db.Exec(`
		INSERT INTO runs (kind, strategy_id, strategy_name, symbol, start_date, end_date, final_equity, created_at, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		kind, stratID, stratName, symbol,
		start.UTC().Format(time.RFC3339), end.UTC().Format(time.RFC3339),
		finalEquity, time.Now().UTC().Format(time.RFC3339), string(blob))
	if err != nil {
		return 0, fmt.Errorf("insert run: %w", err)
	}
	return res.LastInsertId()
}

// GetResult retrieves a single-symbol run by id.
func (s *Store) GetResult(id int64) (*models.BacktestResult, error) {
	kind, blob, err := s.payload(id)
	if err != nil {
		return nil, err
	}
	if kind != KindSingle {
		return nil, fmt.Errorf("store: run %d is a %s run", id, kind)
	}
	var r models.BacktestResult
	if err := json.Unmarshal(blob, &r); err != nil {
		return nil, fmt.Errorf("decode run %d: %w", id, err)
	}
	return &r, nil
}

// GetPortfolioResult retrieves a multi-symbol run by id.
func (s *Store) GetPortfolioResult(id int64) (*models.PortfolioResult, error) {
	kind, blob, err := s.payload(id)
	if err != nil {
		return nil, err
	}
	if kind != KindPortfolio {
		return nil, fmt.Errorf("store: run %d is a %s run", id, kind)
	}
	var r models.PortfolioResult
	if err := json.Unmarshal(blob, &r); err != nil {
		return nil, fmt.Errorf("decode run %d: %w", id, err)
	}
	return &r, nil
}

// Kind returns the run kind for id.
func (s *Store) Kind(id int64) (string, error) {
	var kind string
	err := s.db.QueryRow(`SELECT kind FROM runs WHERE id = ?`, id).Scan(&kind)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	return kind, err
}

func (s *Store) payload(id int64) (string, []byte, error) {
	var kind, blob string
	err := s.db.QueryRow(`SELECT kind, payload FROM runs WHERE id = ?`, id).Scan(&kind, &blob)
	if err == sql.ErrNoRows {
		return "", nil, ErrNotFound
	}
	if err != nil {
		return "", nil, fmt.Errorf("load run %d: %w", id, err)
	}
	return kind, []byte(blob), nil
}

// ListRuns returns run summaries, newest first. limit <= 0 lists all.
func (s *Store) ListRuns(limit int) ([]RunSummary, error) {
	q := `SELECT id, kind, strategy_id, strategy_name, symbol, start_date, end_date, final_equity, created_at
	      FROM runs ORDER BY id DESC`
	var args []any
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var out []RunSummary
	for rows.Next() {
		var r RunSummary
		var name sql.NullString
		var start, end, created string
		if err := rows.Scan(&r.ID, &r.Kind, &r.StrategyID, &name, &r.Symbol, &start, &end, &r.FinalEquity, &created); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		r.StrategyName = name.String
		r.StartDate, _ = time.Parse(time.RFC3339, start)
		r.EndDate, _ = time.Parse(time.RFC3339, end)
		r.CreatedAt, _ = time.Parse(time.RFC3339, created)
		out = append(out, r)
	}
	return out, rows.Err()
}

// Delete removes a run by id.
func (s *Store) Delete(id int64) error {
	res, err := s.db.Exec(`DELETE FROM runs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete run %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
