/*
Package sqlite provides a SQLite-backed implementation of the donor
storage interfaces.

PURPOSE:
  Implements the four durable collections (ledger, history, group
  config, admin allowlist) on a single SQLite database. In production
  with a shared database, the same patterns apply to Postgres - see
  store/postgres.

INTERFACES IMPLEMENTED:
  donor.LedgerStore:      balance upserts returning the prior value
  donor.HistoryStore:     append-only mutation log
  donor.GroupConfigStore: group -> grant mapping
  donor.AdminStore:       allowlist membership

UPSERT-RETURNS-PREVIOUS:
  The engine needs the pre-update balance observed atomically with the
  write. Each upsert runs a read-then-write inside one database
  transaction, under the store mutex.

HISTORY ORDER:
  History rows are returned in rowid order, which is insertion order:
  the append-only contract means rows are never updated or deleted.

WAL MODE:
  The database is opened with WAL for better concurrency and crash
  recovery.

USAGE:
  st, err := sqlite.New("./donor.db")   // or ":memory:"
  defer st.Close()

SEE ALSO:
  - donor/store.go: interface definitions
  - donor/store/memory.go: in-memory implementation for tests
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pledge/donor-engine/donor"
	"github.com/shopspring/decimal"
)

// Store implements all four donor storage interfaces using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

var (
	_ donor.LedgerStore      = (*Store)(nil)
	_ donor.HistoryStore     = (*Store)(nil)
	_ donor.GroupConfigStore = (*Store)(nil)
	_ donor.AdminStore       = (*Store)(nil)
)

// New creates a SQLite store at the given path. Use ":memory:" for an
// in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Ledger: one row per user, current balance as a decimal string
	CREATE TABLE IF NOT EXISTS ledger (
		user_id TEXT PRIMARY KEY,
		balance TEXT NOT NULL
	);

	-- History: append-only mutation log. No UPDATE, no DELETE.
	CREATE TABLE IF NOT EXISTS history (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		at TEXT NOT NULL,
		actor TEXT NOT NULL,
		op TEXT NOT NULL,
		amount TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_history_user
		ON history(user_id);

	-- Group config: at most one grant per group
	CREATE TABLE IF NOT EXISTS group_grants (
		group_id TEXT PRIMARY KEY,
		grant_id TEXT NOT NULL
	);

	-- Admin allowlist (set membership only)
	CREATE TABLE IF NOT EXISTS admins (
		user_id TEXT PRIMARY KEY
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// LEDGER (donor.LedgerStore)
// =============================================================================

// UpsertIncrement adds amount to the user's balance, creating the row
// at zero first if needed, and returns the prior balance.
func (s *Store) UpsertIncrement(ctx context.Context, user donor.UserID, amount decimal.Decimal) (decimal.Decimal, error) {
	return s.upsertBalance(ctx, user, func(prev decimal.Decimal) decimal.Decimal {
		return prev.Add(amount)
	})
}

// UpsertSet replaces the user's balance with amount and returns the
// prior balance.
func (s *Store) UpsertSet(ctx context.Context, user donor.UserID, amount decimal.Decimal) (decimal.Decimal, error) {
	return s.upsertBalance(ctx, user, func(decimal.Decimal) decimal.Decimal {
		return amount
	})
}

// upsertBalance reads the prior balance and writes the next one inside
// a single database transaction, so the (previous, written) pair is
// consistent even with concurrent external writers.
func (s *Store) upsertBalance(ctx context.Context, user donor.UserID, next func(decimal.Decimal) decimal.Decimal) (decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var prevStr string
	prev := decimal.Zero
	err = tx.QueryRowContext(ctx, "SELECT balance FROM ledger WHERE user_id = ?", user).Scan(&prevStr)
	switch err {
	case nil:
		prev, err = decimal.NewFromString(prevStr)
		if err != nil {
			return decimal.Zero, fmt.Errorf("corrupt balance for %s: %w", user, err)
		}
	case sql.ErrNoRows:
		// first mutation creates the row (implicit upsert)
	default:
		return decimal.Zero, fmt.Errorf("failed to read balance: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO ledger (user_id, balance) VALUES (?, ?)
		ON CONFLICT(user_id) DO UPDATE SET balance = excluded.balance
	`, user, next(prev).String())
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to write balance: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return decimal.Zero, fmt.Errorf("failed to commit balance: %w", err)
	}
	return prev, nil
}

// GetBalance returns the user's balance, zero when the user has no row.
func (s *Store) GetBalance(ctx context.Context, user donor.UserID) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var balStr string
	err := s.db.QueryRowContext(ctx, "SELECT balance FROM ledger WHERE user_id = ?", user).Scan(&balStr)
	if err == sql.ErrNoRows {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to read balance: %w", err)
	}

	bal, err := decimal.NewFromString(balStr)
	if err != nil {
		return decimal.Zero, fmt.Errorf("corrupt balance for %s: %w", user, err)
	}
	return bal, nil
}

// =============================================================================
// HISTORY (donor.HistoryStore)
// =============================================================================

// AppendHistory adds one record to the user's log.
func (s *Store) AppendHistory(ctx context.Context, user donor.UserID, rec donor.HistoryRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO history (id, user_id, at, actor, op, amount)
		VALUES (?, ?, ?, ?, ?, ?)
	`, rec.ID, user, rec.Time.UTC().Format(time.RFC3339Nano), rec.Actor, rec.Op, rec.Amount.String())
	if err != nil {
		return fmt.Errorf("failed to append history: %w", err)
	}
	return nil
}

// ListHistory returns the user's records in insertion order.
func (s *Store) ListHistory(ctx context.Context, user donor.UserID) ([]donor.HistoryRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, at, actor, op, amount FROM history
		WHERE user_id = ?
		ORDER BY rowid ASC
	`, user)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	var recs []donor.HistoryRecord
	for rows.Next() {
		var (
			rec       donor.HistoryRecord
			at        string
			amountStr string
		)
		if err := rows.Scan(&rec.ID, &at, &rec.Actor, &rec.Op, &amountStr); err != nil {
			return nil, fmt.Errorf("failed to scan history: %w", err)
		}
		if rec.Time, err = time.Parse(time.RFC3339Nano, at); err != nil {
			return nil, fmt.Errorf("corrupt history time for %s: %w", user, err)
		}
		if rec.Amount, err = decimal.NewFromString(amountStr); err != nil {
			return nil, fmt.Errorf("corrupt history amount for %s: %w", user, err)
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// =============================================================================
// GROUP CONFIG (donor.GroupConfigStore)
// =============================================================================

func (s *Store) GetGroupGrant(ctx context.Context, group donor.GroupID) (donor.GrantID, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var grant donor.GrantID
	err := s.db.QueryRowContext(ctx, "SELECT grant_id FROM group_grants WHERE group_id = ?", group).Scan(&grant)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read group grant: %w", err)
	}
	return grant, true, nil
}

// SetGroupGrant writes the mapping and returns the previous grant, read
// in the same transaction.
func (s *Store) SetGroupGrant(ctx context.Context, group donor.GroupID, grant donor.GrantID) (donor.GrantID, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	prev, had, err := readGrantTx(ctx, tx, group)
	if err != nil {
		return "", false, err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO group_grants (group_id, grant_id) VALUES (?, ?)
		ON CONFLICT(group_id) DO UPDATE SET grant_id = excluded.grant_id
	`, group, grant)
	if err != nil {
		return "", false, fmt.Errorf("failed to set group grant: %w", err)
	}

	return prev, had, tx.Commit()
}

// DeleteGroupGrant removes the mapping and returns the previous grant.
func (s *Store) DeleteGroupGrant(ctx context.Context, group donor.GroupID) (donor.GrantID, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	prev, had, err := readGrantTx(ctx, tx, group)
	if err != nil {
		return "", false, err
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM group_grants WHERE group_id = ?", group); err != nil {
		return "", false, fmt.Errorf("failed to delete group grant: %w", err)
	}

	return prev, had, tx.Commit()
}

func (s *Store) ListGroupGrants(ctx context.Context) ([]donor.GroupConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, "SELECT group_id, grant_id FROM group_grants ORDER BY group_id ASC")
	if err != nil {
		return nil, fmt.Errorf("failed to query group grants: %w", err)
	}
	defer rows.Close()

	var configs []donor.GroupConfig
	for rows.Next() {
		var cfg donor.GroupConfig
		if err := rows.Scan(&cfg.Group, &cfg.Grant); err != nil {
			return nil, fmt.Errorf("failed to scan group grant: %w", err)
		}
		configs = append(configs, cfg)
	}
	return configs, rows.Err()
}

func readGrantTx(ctx context.Context, tx *sql.Tx, group donor.GroupID) (donor.GrantID, bool, error) {
	var prev donor.GrantID
	err := tx.QueryRowContext(ctx, "SELECT grant_id FROM group_grants WHERE group_id = ?", group).Scan(&prev)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read group grant: %w", err)
	}
	return prev, true, nil
}

// =============================================================================
// ADMIN ALLOWLIST (donor.AdminStore)
// =============================================================================

func (s *Store) ContainsAdmin(ctx context.Context, user donor.UserID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var one int
	err := s.db.QueryRowContext(ctx, "SELECT 1 FROM admins WHERE user_id = ?", user).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read admin: %w", err)
	}
	return true, nil
}

func (s *Store) AddAdmin(ctx context.Context, user donor.UserID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, "INSERT OR IGNORE INTO admins (user_id) VALUES (?)", user)
	if err != nil {
		return false, fmt.Errorf("failed to add admin: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to add admin: %w", err)
	}
	return n == 0, nil
}

func (s *Store) RemoveAdmin(ctx context.Context, user donor.UserID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, "DELETE FROM admins WHERE user_id = ?", user)
	if err != nil {
		return false, fmt.Errorf("failed to remove admin: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to remove admin: %w", err)
	}
	return n > 0, nil
}
