// Package ledger keeps the session's unprocessed transactions in an
// in-memory SQLite database. Nothing is written to disk: the backoffice is
// the system of record.
package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
	"github.com/shopspring/decimal"

	"github.com/Vee-data-analytics/new-sim/pkg/api"
)

const timeLayout = time.RFC3339Nano

// Entry is a transaction recorded in the ledger.
type Entry struct {
	ID          uuid.UUID       `json:"id"`
	Seq         int64           `json:"seq"`
	Transaction api.Transaction `json:"transaction"`
	CreatedAt   time.Time       `json:"created_at"`
}

// FuelSummary aggregates entries sharing a fuel type.
type FuelSummary struct {
	FuelType     int64           `json:"fuel_type"`
	Transactions int             `json:"transactions"`
	Volume       decimal.Decimal `json:"volume"`
	TotalCost    decimal.Decimal `json:"total_cost"`
}

type Ledger struct {
	db  *sql.DB
	log *slog.Logger
	now func() time.Time
}

// New opens an empty in-memory ledger.
func New(ctx context.Context, logger *slog.Logger) (*Ledger, error) {
	db, err := sql.Open("sqlite3", "file::memory:")
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}
	// Every connection to :memory: is its own database.
	db.SetMaxOpenConns(1)

	if err := configureSQLitePragmas(ctx, db); err != nil {
		db.Close()
		return nil, err
	}

	if err := createTables(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("error creating tables: %w", err)
	}

	if err := createTriggers(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("error creating triggers: %w", err)
	}

	return &Ledger{db: db, log: logger, now: time.Now}, nil
}

func createTables(ctx context.Context, db *sql.DB) error {
	createTableSQL := `
	CREATE TABLE IF NOT EXISTS transactions (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT UNIQUE NOT NULL,
		pump INTEGER NOT NULL,
		nozzle INTEGER NOT NULL,
		attendant TEXT NOT NULL,
		fuel_type INTEGER NOT NULL,
		volume TEXT NOT NULL,
		total_cost TEXT NOT NULL,
		created_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_transactions_fuel_type ON transactions(fuel_type);
	`

	_, err := db.ExecContext(ctx, createTableSQL)
	if err != nil {
		return fmt.Errorf("error creating table: %w", err)
	}
	return nil
}

func createTriggers(ctx context.Context, db *sql.DB) error {
	createTriggerSQL := `
	CREATE TRIGGER IF NOT EXISTS transactions_no_update
	BEFORE UPDATE ON transactions
	BEGIN
		SELECT RAISE(ABORT, 'transactions are append-only');
	END;
	CREATE TRIGGER IF NOT EXISTS transactions_no_delete
	BEFORE DELETE ON transactions
	BEGIN
		SELECT RAISE(ABORT, 'transactions are append-only');
	END;
	`

	_, err := db.ExecContext(ctx, createTriggerSQL)
	if err != nil {
		return fmt.Errorf("error creating trigger: %w", err)
	}
	return nil
}

func configureSQLitePragmas(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout = 10000;"); err != nil {
		return fmt.Errorf("error setting busy timeout: %w", err)
	}

	if _, err := db.ExecContext(ctx, "PRAGMA temp_store = MEMORY;"); err != nil {
		return fmt.Errorf("error setting temp store: %w", err)
	}

	if _, err := db.ExecContext(ctx, "PRAGMA synchronous = OFF;"); err != nil {
		return fmt.Errorf("error setting synchronous: %w", err)
	}

	return nil
}

func (l *Ledger) Close() error {
	return l.db.Close()
}

// Append records tx and returns the stored entry.
func (l *Ledger) Append(ctx context.Context, tx api.Transaction) (Entry, error) {
	entry := Entry{
		ID:          uuid.New(),
		Transaction: tx,
		CreatedAt:   l.now().UTC(),
	}

	dbtx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return Entry{}, fmt.Errorf("error starting transaction: %w", err)
	}
	defer func() {
		if err := dbtx.Rollback(); err != nil && err != sql.ErrTxDone {
			log.Printf("rollback error: %v", err)
		}
	}()

	res, err := dbtx.ExecContext(ctx, `
		INSERT INTO transactions (id, pump, nozzle, attendant, fuel_type, volume, total_cost, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, entry.ID.String(), tx.Pump, tx.Nozzle, tx.Attendant, tx.FuelType,
		tx.Volume.String(), tx.TotalCost.String(), entry.CreatedAt.Format(timeLayout))
	if err != nil {
		return Entry{}, fmt.Errorf("error inserting transaction: %w", err)
	}

	entry.Seq, err = res.LastInsertId()
	if err != nil {
		return Entry{}, fmt.Errorf("error reading sequence: %w", err)
	}

	if err := dbtx.Commit(); err != nil {
		return Entry{}, fmt.Errorf("error committing transaction: %w", err)
	}

	l.log.Debug("transaction recorded", "id", entry.ID, "seq", entry.Seq)
	return entry, nil
}

// List returns every entry in insertion order.
func (l *Ledger) List(ctx context.Context) ([]Entry, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT seq, id, pump, nozzle, attendant, fuel_type, volume, total_cost, created_at
		FROM transactions ORDER BY seq ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("error querying transactions: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row error: %w", err)
	}
	return entries, nil
}

// Count returns the number of entries.
func (l *Ledger) Count(ctx context.Context) (int, error) {
	var count int
	err := l.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM transactions").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("error counting transactions: %w", err)
	}
	return count, nil
}

// Summary returns per fuel type totals, ordered by fuel type.
// Decimals are summed in Go; SQLite would fold them into floats.
func (l *Ledger) Summary(ctx context.Context) ([]FuelSummary, error) {
	entries, err := l.List(ctx)
	if err != nil {
		return nil, err
	}

	byFuel := make(map[int64]*FuelSummary)
	for _, e := range entries {
		s, ok := byFuel[e.Transaction.FuelType]
		if !ok {
			s = &FuelSummary{FuelType: e.Transaction.FuelType}
			byFuel[e.Transaction.FuelType] = s
		}
		s.Transactions++
		s.Volume = s.Volume.Add(e.Transaction.Volume)
		s.TotalCost = s.TotalCost.Add(e.Transaction.TotalCost)
	}

	summary := make([]FuelSummary, 0, len(byFuel))
	for _, s := range byFuel {
		summary = append(summary, *s)
	}
	sort.Slice(summary, func(i, j int) bool {
		return summary[i].FuelType < summary[j].FuelType
	})
	return summary, nil
}

func scanEntry(rows *sql.Rows) (Entry, error) {
	var (
		entry                               Entry
		id, volume, totalCost, createdAtStr string
	)
	err := rows.Scan(&entry.Seq, &id, &entry.Transaction.Pump, &entry.Transaction.Nozzle,
		&entry.Transaction.Attendant, &entry.Transaction.FuelType, &volume, &totalCost, &createdAtStr)
	if err != nil {
		return Entry{}, fmt.Errorf("error scanning transaction: %w", err)
	}

	if entry.ID, err = uuid.Parse(id); err != nil {
		return Entry{}, fmt.Errorf("error parsing id %s: %w", id, err)
	}
	if entry.Transaction.Volume, err = decimal.NewFromString(volume); err != nil {
		return Entry{}, fmt.Errorf("error parsing volume %s: %w", volume, err)
	}
	if entry.Transaction.TotalCost, err = decimal.NewFromString(totalCost); err != nil {
		return Entry{}, fmt.Errorf("error parsing total cost %s: %w", totalCost, err)
	}
	if entry.CreatedAt, err = time.Parse(timeLayout, createdAtStr); err != nil {
		return Entry{}, fmt.Errorf("error parsing date %s: %w", createdAtStr, err)
	}

	return entry, nil
}
