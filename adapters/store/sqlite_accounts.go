package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"

	"github.com/layer-3/warden/core"
	"github.com/layer-3/warden/ports"
)

const accountsSchema = `
CREATE TABLE IF NOT EXISTS accounts (
	id                     TEXT PRIMARY KEY,
	email                  TEXT UNIQUE,
	credential_hash        TEXT NOT NULL DEFAULT '',
	wallet_address         TEXT UNIQUE,
	first_name             TEXT NOT NULL DEFAULT '',
	last_name              TEXT NOT NULL DEFAULT '',
	two_factor_enabled     INTEGER NOT NULL DEFAULT 0,
	two_factor_channel     TEXT NOT NULL DEFAULT '',
	two_factor_destination TEXT NOT NULL DEFAULT '',
	role                   TEXT NOT NULL,
	disabled               INTEGER NOT NULL DEFAULT 0,
	created_at             INTEGER NOT NULL,
	updated_at             INTEGER NOT NULL
);
`

const accountColumns = `id, email, credential_hash, wallet_address, first_name, last_name,
	two_factor_enabled, two_factor_channel, two_factor_destination, role, disabled, created_at, updated_at`

// toMillis normalizes timestamps into millisecond precision for storage.
func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

// fromMillis restores millisecond precision and keeps UTC normalization.
func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// SQLiteAccounts persists accounts in a single SQLite file.
type SQLiteAccounts struct {
	db *sql.DB
}

var _ ports.AccountStore = (*SQLiteAccounts)(nil)

// OpenSQLiteAccounts opens the database at path and creates the schema.
func OpenSQLiteAccounts(path string) (*SQLiteAccounts, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}

	dsn := filepath.Clean(path) + "?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=5000&_synchronous=NORMAL"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := db.Exec(accountsSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create accounts schema: %w", err)
	}

	return &SQLiteAccounts{db: db}, nil
}

// Close releases the underlying database.
func (s *SQLiteAccounts) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func nullable(v string) sql.NullString {
	return sql.NullString{String: v, Valid: v != ""}
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func isUniqueViolation(err error) bool {
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
			return true
		}
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}

func accountArgs(a *core.Account) ([]any, error) {
	role, err := a.Role.MarshalText()
	if err != nil {
		return nil, err
	}
	return []any{
		a.ID,
		nullable(emailKey(a.Email)),
		a.CredentialHash,
		nullable(a.WalletAddress),
		a.FirstName,
		a.LastName,
		boolInt(a.TwoFactor.Enabled),
		string(a.TwoFactor.Channel),
		a.TwoFactor.Destination,
		string(role),
		boolInt(a.Disabled),
		toMillis(a.CreatedAt),
		toMillis(a.UpdatedAt),
	}, nil
}

// CreateAccount inserts a new account
func (s *SQLiteAccounts) CreateAccount(ctx context.Context, account *core.Account) error {
	args, err := accountArgs(account)
	if err != nil {
		return fmt.Errorf("encode account: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO accounts (`+accountColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, args...)
	if err != nil {
		if isUniqueViolation(err) {
			return core.ErrAccountExists
		}
		return fmt.Errorf("%w: insert account: %v", core.ErrStoreUnavailable, err)
	}
	return nil
}

// UpdateAccount overwrites every mutable column of an account
func (s *SQLiteAccounts) UpdateAccount(ctx context.Context, account *core.Account) error {
	args, err := accountArgs(account)
	if err != nil {
		return fmt.Errorf("encode account: %w", err)
	}

	// args follow accountColumns; move id to the WHERE clause and drop created_at
	update := append(append([]any{}, args[1:11]...), args[12], args[0])
	res, err := s.db.ExecContext(ctx, `
UPDATE accounts SET
	email = ?, credential_hash = ?, wallet_address = ?, first_name = ?, last_name = ?,
	two_factor_enabled = ?, two_factor_channel = ?, two_factor_destination = ?,
	role = ?, disabled = ?, updated_at = ?
WHERE id = ?`, update...)
	if err != nil {
		if isUniqueViolation(err) {
			return core.ErrAccountExists
		}
		return fmt.Errorf("%w: update account: %v", core.ErrStoreUnavailable, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: update account: %v", core.ErrStoreUnavailable, err)
	}
	if n == 0 {
		return core.ErrAccountNotFound
	}
	return nil
}

// GetAccount loads an account by id
func (s *SQLiteAccounts) GetAccount(ctx context.Context, id string) (*core.Account, error) {
	return s.queryAccount(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = ?`, id)
}

// GetAccountByEmail loads an account by normalized email
func (s *SQLiteAccounts) GetAccountByEmail(ctx context.Context, email string) (*core.Account, error) {
	key := emailKey(email)
	if key == "" {
		return nil, core.ErrAccountNotFound
	}
	return s.queryAccount(ctx, `SELECT `+accountColumns+` FROM accounts WHERE email = ?`, key)
}

// GetAccountByWallet loads an account by checksummed wallet address
func (s *SQLiteAccounts) GetAccountByWallet(ctx context.Context, address string) (*core.Account, error) {
	if address == "" {
		return nil, core.ErrAccountNotFound
	}
	return s.queryAccount(ctx, `SELECT `+accountColumns+` FROM accounts WHERE wallet_address = ?`, address)
}

func (s *SQLiteAccounts) queryAccount(ctx context.Context, query string, arg string) (*core.Account, error) {
	var (
		a                   core.Account
		email, wallet       sql.NullString
		channel, role       string
		enabled, disabled   int
		createdAt, updateAt int64
	)

	err := s.db.QueryRowContext(ctx, query, arg).Scan(
		&a.ID, &email, &a.CredentialHash, &wallet, &a.FirstName, &a.LastName,
		&enabled, &channel, &a.TwoFactor.Destination, &role, &disabled, &createdAt, &updateAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, core.ErrAccountNotFound
		}
		return nil, fmt.Errorf("%w: load account: %v", core.ErrStoreUnavailable, err)
	}

	if err := a.Role.UnmarshalText([]byte(role)); err != nil {
		return nil, fmt.Errorf("decode account %s: %w", a.ID, err)
	}
	a.Email = email.String
	a.WalletAddress = wallet.String
	a.TwoFactor.Enabled = enabled == 1
	a.TwoFactor.Channel = core.Channel(channel)
	a.Disabled = disabled == 1
	a.CreatedAt = fromMillis(createdAt)
	a.UpdatedAt = fromMillis(updateAt)
	return &a, nil
}
