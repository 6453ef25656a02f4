// Package store persists orders, DCA strategies and schedules, plus the
// append-only execution history and per-owner cost basis, in SQLite.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // SQLite driver
)

// Table names one of the entity tables
type Table string

const (
	TableOrders     Table = "orders"
	TableStrategies Table = "dca_strategies"
	TableSchedules  Table = "schedules"
)

// Record is one persisted entity. Payload is the JSON encoding owned by the entity's manager.
type Record struct {
	ID        string
	Owner     string
	Kind      string
	Status    string
	Payload   []byte
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Execution is one append-only history row
type Execution struct {
	ID          string
	EntityKind  string // order, dca, schedule
	EntityID    string
	Owner       string
	Token       string
	Side        string
	Price       float64
	Amount      float64
	SlippageBps float64
	Fee         float64
	Success     bool
	Error       string
	ExecutedAt  time.Time
}

// ExecutionFilter narrows ListExecutions. Zero values match everything.
type ExecutionFilter struct {
	EntityKind string
	EntityID   string
	Owner      string
	Since      time.Time
	Limit      int
}

// CostBasis is the running acquisition cost of a holding
type CostBasis struct {
	Owner       string
	Mint        string
	Amount      float64
	TotalCost   float64
	AverageCost float64
	UpdatedAt   time.Time
}

// SQLiteStore is the Order Store on a single SQLite file
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens (and creates if needed) the database at path and applies the schema
func Open(path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, errors.New("database path is empty")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1) // single writer
	db.SetConnMaxLifetime(time.Hour)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &SQLiteStore{db: db, now: time.Now}, nil
}

// Close releases the underlying DB handle
func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func millis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

func (s *SQLiteStore) save(ctx context.Context, table Table, rec Record) error {
	if rec.ID == "" {
		return errors.New("record id is required")
	}
	now := s.now()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO %s (id, owner, kind, status, payload, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			owner = excluded.owner,
			kind = excluded.kind,
			status = excluded.status,
			payload = excluded.payload,
			updated_at = excluded.updated_at
	`, table), rec.ID, rec.Owner, rec.Kind, rec.Status, string(rec.Payload), millis(rec.CreatedAt), millis(rec.UpdatedAt))
	if err != nil {
		return fmt.Errorf("save %s %s: %w", table, rec.ID, err)
	}
	return nil
}

func (s *SQLiteStore) delete(ctx context.Context, table Table, id string) error {
	if _, err := s.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE id = ?`, table), id); err != nil {
		return fmt.Errorf("delete %s %s: %w", table, id, err)
	}
	return nil
}

// get returns (nil, nil) when the record does not exist
func (s *SQLiteStore) get(ctx context.Context, table Table, id string) (*Record, error) {
	row := s.db.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT id, owner, kind, status, payload, created_at, updated_at
		FROM %s WHERE id = ?
	`, table), id)

	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get %s %s: %w", table, id, err)
	}
	return rec, nil
}

// list returns every record of table, optionally restricted to the given statuses
func (s *SQLiteStore) list(ctx context.Context, table Table, statuses ...string) ([]Record, error) {
	query := fmt.Sprintf(`SELECT id, owner, kind, status, payload, created_at, updated_at FROM %s`, table)
	args := make([]interface{}, 0, len(statuses))
	if len(statuses) > 0 {
		query += ` WHERE status IN (?` + strings.Repeat(",?", len(statuses)-1) + `)`
		for _, st := range statuses {
			args = append(args, st)
		}
	}
	query += ` ORDER BY created_at`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", table, err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", table, err)
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(sc scanner) (*Record, error) {
	var (
		rec              Record
		payload          string
		created, updated int64
	)
	if err := sc.Scan(&rec.ID, &rec.Owner, &rec.Kind, &rec.Status, &payload, &created, &updated); err != nil {
		return nil, err
	}
	rec.Payload = []byte(payload)
	rec.CreatedAt = fromMillis(created)
	rec.UpdatedAt = fromMillis(updated)
	return &rec, nil
}

func (s *SQLiteStore) SaveOrder(ctx context.Context, rec Record) error {
	return s.save(ctx, TableOrders, rec)
}

func (s *SQLiteStore) DeleteOrder(ctx context.Context, id string) error {
	return s.delete(ctx, TableOrders, id)
}

func (s *SQLiteStore) GetOrder(ctx context.Context, id string) (*Record, error) {
	return s.get(ctx, TableOrders, id)
}

func (s *SQLiteStore) ListOrders(ctx context.Context, statuses ...string) ([]Record, error) {
	return s.list(ctx, TableOrders, statuses...)
}

func (s *SQLiteStore) SaveStrategy(ctx context.Context, rec Record) error {
	return s.save(ctx, TableStrategies, rec)
}

func (s *SQLiteStore) DeleteStrategy(ctx context.Context, id string) error {
	return s.delete(ctx, TableStrategies, id)
}

func (s *SQLiteStore) ListStrategies(ctx context.Context, statuses ...string) ([]Record, error) {
	return s.list(ctx, TableStrategies, statuses...)
}

func (s *SQLiteStore) SaveSchedule(ctx context.Context, rec Record) error {
	return s.save(ctx, TableSchedules, rec)
}

func (s *SQLiteStore) DeleteSchedule(ctx context.Context, id string) error {
	return s.delete(ctx, TableSchedules, id)
}

func (s *SQLiteStore) ListSchedules(ctx context.Context, statuses ...string) ([]Record, error) {
	return s.list(ctx, TableSchedules, statuses...)
}

// AppendExecution writes one history row; rows are never updated
func (s *SQLiteStore) AppendExecution(ctx context.Context, e Execution) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.ExecutedAt.IsZero() {
		e.ExecutedAt = s.now()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO executions (id, entity_kind, entity_id, owner, token, side, price, amount, slippage_bps, fee, success, error, executed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, e.ID, e.EntityKind, e.EntityID, e.Owner, e.Token, e.Side, e.Price, e.Amount, e.SlippageBps, e.Fee, e.Success, e.Error, millis(e.ExecutedAt))
	if err != nil {
		return fmt.Errorf("append execution: %w", err)
	}
	return nil
}

// ListExecutions returns history rows newest first
func (s *SQLiteStore) ListExecutions(ctx context.Context, f ExecutionFilter) ([]Execution, error) {
	query := `
		SELECT id, entity_kind, entity_id, owner, token, side, price, amount, slippage_bps, fee, success, error, executed_at
		FROM executions WHERE 1 = 1`
	var args []interface{}
	if f.EntityKind != "" {
		query += ` AND entity_kind = ?`
		args = append(args, f.EntityKind)
	}
	if f.EntityID != "" {
		query += ` AND entity_id = ?`
		args = append(args, f.EntityID)
	}
	if f.Owner != "" {
		query += ` AND owner = ?`
		args = append(args, f.Owner)
	}
	if !f.Since.IsZero() {
		query += ` AND executed_at >= ?`
		args = append(args, millis(f.Since))
	}
	query += ` ORDER BY executed_at DESC`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query executions: %w", err)
	}
	defer rows.Close()

	var out []Execution
	for rows.Next() {
		var (
			e  Execution
			at int64
		)
		if err := rows.Scan(&e.ID, &e.EntityKind, &e.EntityID, &e.Owner, &e.Token, &e.Side, &e.Price, &e.Amount,
			&e.SlippageBps, &e.Fee, &e.Success, &e.Error, &at); err != nil {
			return nil, fmt.Errorf("scan execution: %w", err)
		}
		e.ExecutedAt = fromMillis(at)
		out = append(out, e)
	}
	return out, rows.Err()
}

// RecordBuy adds an acquisition to the owner's cost basis for mint
func (s *SQLiteStore) RecordBuy(ctx context.Context, owner, mint string, amount, cost float64) error {
	if amount <= 0 {
		return nil
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cost_basis (owner, mint, amount, total_cost, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(owner, mint) DO UPDATE SET
			amount = cost_basis.amount + excluded.amount,
			total_cost = cost_basis.total_cost + excluded.total_cost,
			updated_at = excluded.updated_at
	`, owner, mint, amount, cost, millis(s.now()))
	if err != nil {
		return fmt.Errorf("record buy: %w", err)
	}
	return nil
}

// RecordSell removes amount from the holding, keeping the average cost unchanged
func (s *SQLiteStore) RecordSell(ctx context.Context, owner, mint string, amount float64) error {
	basis, ok, err := s.GetCostBasis(ctx, owner, mint)
	if err != nil || !ok {
		return err
	}
	remaining := basis.Amount - amount
	if remaining <= 0 {
		_, err = s.db.ExecContext(ctx, `DELETE FROM cost_basis WHERE owner = ? AND mint = ?`, owner, mint)
	} else {
		_, err = s.db.ExecContext(ctx, `
			UPDATE cost_basis SET amount = ?, total_cost = ?, updated_at = ?
			WHERE owner = ? AND mint = ?
		`, remaining, remaining*basis.AverageCost, millis(s.now()), owner, mint)
	}
	if err != nil {
		return fmt.Errorf("record sell: %w", err)
	}
	return nil
}

// GetCostBasis returns false when the owner holds no recorded position in mint
func (s *SQLiteStore) GetCostBasis(ctx context.Context, owner, mint string) (CostBasis, bool, error) {
	var (
		cb CostBasis
		at int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT owner, mint, amount, total_cost, updated_at FROM cost_basis WHERE owner = ? AND mint = ?
	`, owner, mint).Scan(&cb.Owner, &cb.Mint, &cb.Amount, &cb.TotalCost, &at)
	if errors.Is(err, sql.ErrNoRows) {
		return CostBasis{}, false, nil
	}
	if err != nil {
		return CostBasis{}, false, fmt.Errorf("get cost basis: %w", err)
	}
	cb.UpdatedAt = fromMillis(at)
	if cb.Amount > 0 {
		cb.AverageCost = cb.TotalCost / cb.Amount
	}
	return cb, true, nil
}

// ListCostBasis returns every holding of owner ordered by mint
func (s *SQLiteStore) ListCostBasis(ctx context.Context, owner string) ([]CostBasis, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT owner, mint, amount, total_cost, updated_at FROM cost_basis WHERE owner = ? ORDER BY mint
	`, owner)
	if err != nil {
		return nil, fmt.Errorf("query cost basis: %w", err)
	}
	defer rows.Close()

	var out []CostBasis
	for rows.Next() {
		var (
			cb CostBasis
			at int64
		)
		if err := rows.Scan(&cb.Owner, &cb.Mint, &cb.Amount, &cb.TotalCost, &at); err != nil {
			return nil, fmt.Errorf("scan cost basis: %w", err)
		}
		cb.UpdatedAt = fromMillis(at)
		if cb.Amount > 0 {
			cb.AverageCost = cb.TotalCost / cb.Amount
		}
		out = append(out, cb)
	}
	return out, rows.Err()
}
