/*
Package postgres provides a Postgres-backed implementation of the donor
storage interfaces, for deployments sharing a database server.

The SQL differs from store/sqlite only in dialect ($n placeholders,
ON CONFLICT syntax is shared) and in relying on database transactions
rather than a store-level mutex: Postgres serializes the
read-then-write upserts with row locks (SELECT ... FOR UPDATE).

Schema setup runs on New, mirroring the SQLite store's
migrate-on-open behavior.
*/
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"github.com/pledge/donor-engine/donor"
	"github.com/shopspring/decimal"
)

// Store implements all four donor storage interfaces using Postgres.
type Store struct {
	db *sql.DB
}

var (
	_ donor.LedgerStore      = (*Store)(nil)
	_ donor.HistoryStore     = (*Store)(nil)
	_ donor.GroupConfigStore = (*Store)(nil)
	_ donor.AdminStore       = (*Store)(nil)
)

// New connects with a lib/pq DSN (e.g. "postgres://user:pw@host/db")
// and creates the schema if needed.
func New(dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS ledger (
		user_id TEXT PRIMARY KEY,
		balance NUMERIC NOT NULL
	);

	CREATE TABLE IF NOT EXISTS history (
		id TEXT PRIMARY KEY,
		seq BIGSERIAL,
		user_id TEXT NOT NULL,
		at TIMESTAMPTZ NOT NULL,
		actor TEXT NOT NULL,
		op TEXT NOT NULL,
		amount NUMERIC NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_history_user ON history(user_id, seq);

	CREATE TABLE IF NOT EXISTS group_grants (
		group_id TEXT PRIMARY KEY,
		grant_id TEXT NOT NULL
	);

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

func (s *Store) UpsertIncrement(ctx context.Context, user donor.UserID, amount decimal.Decimal) (decimal.Decimal, error) {
	return s.upsertBalance(ctx, user, func(prev decimal.Decimal) decimal.Decimal {
		return prev.Add(amount)
	})
}

func (s *Store) UpsertSet(ctx context.Context, user donor.UserID, amount decimal.Decimal) (decimal.Decimal, error) {
	return s.upsertBalance(ctx, user, func(decimal.Decimal) decimal.Decimal {
		return amount
	})
}

// upsertBalance reads the prior balance under a row lock and writes the
// next one in the same transaction, so concurrent writers serialize and
// the (previous, written) pair stays consistent.
func (s *Store) upsertBalance(ctx context.Context, user donor.UserID, next func(decimal.Decimal) decimal.Decimal) (decimal.Decimal, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var prevStr string
	prev := decimal.Zero
	err = tx.QueryRowContext(ctx, "SELECT balance::text FROM ledger WHERE user_id = $1 FOR UPDATE", user).Scan(&prevStr)
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
		INSERT INTO ledger (user_id, balance) VALUES ($1, $2)
		ON CONFLICT (user_id) DO UPDATE SET balance = excluded.balance
	`, user, next(prev).String())
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to write balance: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return decimal.Zero, fmt.Errorf("failed to commit balance: %w", err)
	}
	return prev, nil
}

func (s *Store) GetBalance(ctx context.Context, user donor.UserID) (decimal.Decimal, error) {
	var balStr string
	err := s.db.QueryRowContext(ctx, "SELECT balance::text FROM ledger WHERE user_id = $1", user).Scan(&balStr)
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

func (s *Store) AppendHistory(ctx context.Context, user donor.UserID, rec donor.HistoryRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO history (id, user_id, at, actor, op, amount)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, rec.ID, user, rec.Time.UTC(), rec.Actor, rec.Op, rec.Amount.String())
	if err != nil {
		return fmt.Errorf("failed to append history: %w", err)
	}
	return nil
}

func (s *Store) ListHistory(ctx context.Context, user donor.UserID) ([]donor.HistoryRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, at, actor, op, amount::text FROM history
		WHERE user_id = $1
		ORDER BY seq ASC
	`, user)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	var recs []donor.HistoryRecord
	for rows.Next() {
		var (
			rec       donor.HistoryRecord
			at        time.Time
			amountStr string
		)
		if err := rows.Scan(&rec.ID, &at, &rec.Actor, &rec.Op, &amountStr); err != nil {
			return nil, fmt.Errorf("failed to scan history: %w", err)
		}
		rec.Time = at
		rec.Amount = donor.MustParseDecimal(amountStr)
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// =============================================================================
// GROUP CONFIG (donor.GroupConfigStore)
// =============================================================================

func (s *Store) GetGroupGrant(ctx context.Context, group donor.GroupID) (donor.GrantID, bool, error) {
	var grant donor.GrantID
	err := s.db.QueryRowContext(ctx, "SELECT grant_id FROM group_grants WHERE group_id = $1", group).Scan(&grant)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read group grant: %w", err)
	}
	return grant, true, nil
}

func (s *Store) SetGroupGrant(ctx context.Context, group donor.GroupID, grant donor.GrantID) (donor.GrantID, bool, error) {
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
		INSERT INTO group_grants (group_id, grant_id) VALUES ($1, $2)
		ON CONFLICT (group_id) DO UPDATE SET grant_id = excluded.grant_id
	`, group, grant)
	if err != nil {
		return "", false, fmt.Errorf("failed to set group grant: %w", err)
	}

	return prev, had, tx.Commit()
}

func (s *Store) DeleteGroupGrant(ctx context.Context, group donor.GroupID) (donor.GrantID, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	prev, had, err := readGrantTx(ctx, tx, group)
	if err != nil {
		return "", false, err
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM group_grants WHERE group_id = $1", group); err != nil {
		return "", false, fmt.Errorf("failed to delete group grant: %w", err)
	}

	return prev, had, tx.Commit()
}

func (s *Store) ListGroupGrants(ctx context.Context) ([]donor.GroupConfig, error) {
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
	err := tx.QueryRowContext(ctx, "SELECT grant_id FROM group_grants WHERE group_id = $1 FOR UPDATE", group).Scan(&prev)
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
	var one int
	err := s.db.QueryRowContext(ctx, "SELECT 1 FROM admins WHERE user_id = $1", user).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read admin: %w", err)
	}
	return true, nil
}

func (s *Store) AddAdmin(ctx context.Context, user donor.UserID) (bool, error) {
	res, err := s.db.ExecContext(ctx, "INSERT INTO admins (user_id) VALUES ($1) ON CONFLICT DO NOTHING", user)
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
	res, err := s.db.ExecContext(ctx, "DELETE FROM admins WHERE user_id = $1", user)
	if err != nil {
		return false, fmt.Errorf("failed to remove admin: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to remove admin: %w", err)
	}
	return n > 0, nil
}
