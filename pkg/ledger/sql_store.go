package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// SQLStore keeps accounts in a credit_accounts table. The same statements
// serve sqlite and postgres; only the placeholder style differs.
type SQLStore struct {
	db      *sql.DB
	dialect string
}

// OpenSQLite opens a sqlite database file.
func OpenSQLite(path string) (*SQLStore, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite ledger path is required")
	}
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	return newSQLStore(db, DriverSQLite)
}

// OpenPostgres connects to postgres using connStr.
func OpenPostgres(connStr string) (*SQLStore, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)
	return newSQLStore(db, DriverPostgres)
}

func newSQLStore(db *sql.DB, dialect string) (*SQLStore, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLStore{db: db, dialect: dialect}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLStore) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS credit_accounts (
			requester TEXT PRIMARY KEY,
			credits INTEGER NOT NULL,
			last_reset_date TEXT NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// rebind rewrites ? placeholders to $n for postgres.
func (s *SQLStore) rebind(query string) string {
	if s.dialect != DriverPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

const upsertAccount = `INSERT INTO credit_accounts (requester, credits, last_reset_date) VALUES (?, ?, ?)
ON CONFLICT (requester) DO UPDATE SET credits = excluded.credits, last_reset_date = excluded.last_reset_date`

func (s *SQLStore) Get(ctx context.Context, requester string) (Account, bool, error) {
	var acct Account
	err := s.db.QueryRowContext(ctx,
		s.rebind("SELECT credits, last_reset_date FROM credit_accounts WHERE requester = ?"),
		requester,
	).Scan(&acct.Credits, &acct.LastResetDate)
	if err == sql.ErrNoRows {
		return Account{}, false, nil
	}
	if err != nil {
		return Account{}, false, err
	}
	return acct, true, nil
}

func (s *SQLStore) Put(ctx context.Context, requester string, acct Account) error {
	_, err := s.db.ExecContext(ctx, s.rebind(upsertAccount), requester, acct.Credits, acct.LastResetDate)
	return err
}

func (s *SQLStore) All(ctx context.Context) (map[string]Account, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT requester, credits, last_reset_date FROM credit_accounts")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]Account)
	for rows.Next() {
		var (
			requester string
			acct      Account
		)
		if err := rows.Scan(&requester, &acct.Credits, &acct.LastResetDate); err != nil {
			return nil, err
		}
		out[requester] = acct
	}
	return out, rows.Err()
}

func (s *SQLStore) PutAll(ctx context.Context, accounts map[string]Account) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, s.rebind(upsertAccount))
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer stmt.Close()

	for requester, acct := range accounts {
		if _, err := stmt.ExecContext(ctx, requester, acct.Credits, acct.LastResetDate); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}
