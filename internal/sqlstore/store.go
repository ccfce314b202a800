// Package sqlstore keeps principal records in an embedded SQLite database.
// It is the alternative to the JSON file stores in internal/stores and
// implements the same stores.PrincipalStore contract for both classes.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/samber/oops"
	_ "modernc.org/sqlite"

	"github.com/MrEthical07/tripauth/internal/stores"
)

// DBFile is the database file name inside the data directory.
const DBFile = "tripauth.db"

// Table names, one per principal class.
const (
	TableUsers  = "users"
	TableAdmins = "admins"
)

// DB owns the SQLite handle shared by the per-class stores.
type DB struct {
	db  *sqlx.DB
	now func() time.Time
}

// Open opens (creating if needed) the database under dataDir. Pass an empty
// dataDir for an in-memory database.
func Open(dataDir string, now func() time.Time) (*DB, error) {
	var dsn string
	if dataDir == "" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o700); err != nil {
			return nil, oops.Code("SQLSTORE_MKDIR_FAILED").With("dir", dataDir).Wrap(err)
		}
		dsn = filepath.Join(dataDir, DBFile) + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}

	db, err := sqlx.Connect("sqlite", dsn)
	if err != nil {
		return nil, oops.Code("SQLSTORE_OPEN_FAILED").With("dir", dataDir).Wrap(err)
	}

	db.SetMaxOpenConns(1) // one writer; also keeps :memory: on a single connection

	if now == nil {
		now = time.Now
	}
	d := &DB{db: db, now: now}
	if err := d.migrate(); err != nil {
		_ = db.Close()
		return nil, oops.Code("SQLSTORE_MIGRATE_FAILED").Wrap(err)
	}
	return d, nil
}

// Close closes the database.
func (d *DB) Close() error {
	return d.db.Close()
}

func (d *DB) migrate() error {
	for _, table := range []string{TableUsers, TableAdmins} {
		stmt := `CREATE TABLE IF NOT EXISTS ` + table + ` (
			id TEXT PRIMARY KEY,
			email TEXT UNIQUE NOT NULL,
			password_hash TEXT NOT NULL,
			first_name TEXT NOT NULL DEFAULT '',
			last_name TEXT NOT NULL DEFAULT '',
			role TEXT NOT NULL DEFAULT '',
			is_active INTEGER NOT NULL DEFAULT 1,
			is_verified INTEGER NOT NULL DEFAULT 0,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL,
			last_login_at INTEGER,
			token_version INTEGER NOT NULL DEFAULT 0
		)`
		if _, err := d.db.Exec(stmt); err != nil {
			return fmt.Errorf("create %s: %w", table, err)
		}
		if err := d.addColumn(table, "token_version", "INTEGER NOT NULL DEFAULT 0"); err != nil {
			return err
		}
	}
	return nil
}

// addColumn brings tables created by older releases up to date.
func (d *DB) addColumn(table, column, decl string) error {
	var n int
	if err := d.db.Get(&n, "SELECT COUNT(*) FROM pragma_table_info(?) WHERE name = ?", table, column); err != nil {
		return fmt.Errorf("inspect %s: %w", table, err)
	}
	if n > 0 {
		return nil
	}
	if _, err := d.db.Exec("ALTER TABLE " + table + " ADD COLUMN " + column + " " + decl); err != nil {
		return fmt.Errorf("alter %s: %w", table, err)
	}
	return nil
}

// Principals returns the store for one class table.
func (d *DB) Principals(table string) (*PrincipalStore, error) {
	if table != TableUsers && table != TableAdmins {
		return nil, fmt.Errorf("unknown principal table %q", table)
	}
	return &PrincipalStore{db: d.db, table: table, now: d.now}, nil
}

// principalRow maps 1:1 to the table columns. Times are unix nanoseconds so
// they round-trip exactly.
type principalRow struct {
	ID           string        `db:"id"`
	Email        string        `db:"email"`
	PasswordHash string        `db:"password_hash"`
	FirstName    string        `db:"first_name"`
	LastName     string        `db:"last_name"`
	Role         string        `db:"role"`
	IsActive     bool          `db:"is_active"`
	IsVerified   bool          `db:"is_verified"`
	CreatedAt    int64         `db:"created_at"`
	UpdatedAt    int64         `db:"updated_at"`
	LastLoginAt  sql.NullInt64 `db:"last_login_at"`
	TokenVersion int           `db:"token_version"`
}

func rowFromPrincipal(p stores.Principal) principalRow {
	r := principalRow{
		ID:           p.ID,
		Email:        p.Email,
		PasswordHash: p.PasswordHash,
		FirstName:    p.FirstName,
		LastName:     p.LastName,
		Role:         p.Role,
		IsActive:     p.IsActive,
		IsVerified:   p.IsVerified,
		CreatedAt:    p.CreatedAt.UnixNano(),
		UpdatedAt:    p.UpdatedAt.UnixNano(),
		TokenVersion: p.TokenVersion,
	}
	if p.LastLoginAt != nil {
		r.LastLoginAt = sql.NullInt64{Int64: p.LastLoginAt.UnixNano(), Valid: true}
	}
	return r
}

func (r principalRow) toPrincipal() stores.Principal {
	p := stores.Principal{
		ID:           r.ID,
		Email:        r.Email,
		PasswordHash: r.PasswordHash,
		FirstName:    r.FirstName,
		LastName:     r.LastName,
		Role:         r.Role,
		IsActive:     r.IsActive,
		IsVerified:   r.IsVerified,
		CreatedAt:    time.Unix(0, r.CreatedAt).UTC(),
		UpdatedAt:    time.Unix(0, r.UpdatedAt).UTC(),
		TokenVersion: r.TokenVersion,
	}
	if r.LastLoginAt.Valid {
		t := time.Unix(0, r.LastLoginAt.Int64).UTC()
		p.LastLoginAt = &t
	}
	return p
}

// PrincipalStore implements stores.PrincipalStore over one table.
type PrincipalStore struct {
	db    *sqlx.DB
	table string
	now   func() time.Time
}

var _ stores.PrincipalStore = (*PrincipalStore)(nil)

// FindByEmail implements stores.PrincipalStore.
func (s *PrincipalStore) FindByEmail(ctx context.Context, email string) (stores.Principal, error) {
	return s.get(ctx, "email", stores.NormalizeEmail(email))
}

// FindByID implements stores.PrincipalStore.
func (s *PrincipalStore) FindByID(ctx context.Context, id string) (stores.Principal, error) {
	return s.get(ctx, "id", id)
}

func (s *PrincipalStore) get(ctx context.Context, column, value string) (stores.Principal, error) {
	var row principalRow
	q := "SELECT * FROM " + s.table + " WHERE " + column + " = ?"
	if err := s.db.GetContext(ctx, &row, q, value); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return stores.Principal{}, stores.ErrNotFound
		}
		return stores.Principal{}, oops.Code("SQLSTORE_QUERY_FAILED").With("table", s.table).Wrap(err)
	}
	return row.toPrincipal(), nil
}

// Create implements stores.PrincipalStore.
func (s *PrincipalStore) Create(ctx context.Context, p stores.Principal) error {
	now := s.now().UTC()
	p.Email = stores.NormalizeEmail(p.Email)
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now

	q := `INSERT INTO ` + s.table + `
		(id, email, password_hash, first_name, last_name, role, is_active, is_verified,
		 created_at, updated_at, last_login_at, token_version)
		VALUES
		(:id, :email, :password_hash, :first_name, :last_name, :role, :is_active, :is_verified,
		 :created_at, :updated_at, :last_login_at, :token_version)`

	if _, err := s.db.NamedExecContext(ctx, q, rowFromPrincipal(p)); err != nil {
		if isUniqueViolation(err, "email") {
			return stores.ErrDuplicateEmail
		}
		return oops.Code("SQLSTORE_INSERT_FAILED").With("table", s.table).Wrap(err)
	}
	return nil
}

// Update implements stores.PrincipalStore. The read and write share one
// transaction.
func (s *PrincipalStore) Update(ctx context.Context, id string, u stores.PrincipalUpdate) (stores.Principal, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return stores.Principal{}, oops.Code("SQLSTORE_TX_FAILED").With("table", s.table).Wrap(err)
	}
	defer func() { _ = tx.Rollback() }()

	var row principalRow
	if err := tx.GetContext(ctx, &row, "SELECT * FROM "+s.table+" WHERE id = ?", id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return stores.Principal{}, stores.ErrNotFound
		}
		return stores.Principal{}, oops.Code("SQLSTORE_QUERY_FAILED").With("table", s.table).Wrap(err)
	}

	p := row.toPrincipal()
	u.Apply(&p, s.now().UTC())

	q := `UPDATE ` + s.table + ` SET
		password_hash = :password_hash, first_name = :first_name, last_name = :last_name,
		role = :role, is_active = :is_active, is_verified = :is_verified,
		updated_at = :updated_at, last_login_at = :last_login_at,
		token_version = :token_version
		WHERE id = :id`
	if _, err := tx.NamedExecContext(ctx, q, rowFromPrincipal(p)); err != nil {
		return stores.Principal{}, oops.Code("SQLSTORE_UPDATE_FAILED").With("table", s.table).Wrap(err)
	}
	if err := tx.Commit(); err != nil {
		return stores.Principal{}, oops.Code("SQLSTORE_COMMIT_FAILED").With("table", s.table).Wrap(err)
	}
	return p, nil
}

// List returns every principal ordered by e-mail.
func (s *PrincipalStore) List(ctx context.Context) ([]stores.Principal, error) {
	var rows []principalRow
	if err := s.db.SelectContext(ctx, &rows, "SELECT * FROM "+s.table+" ORDER BY email"); err != nil {
		return nil, oops.Code("SQLSTORE_QUERY_FAILED").With("table", s.table).Wrap(err)
	}
	out := make([]stores.Principal, len(rows))
	for i, r := range rows {
		out[i] = r.toPrincipal()
	}
	return out, nil
}

func isUniqueViolation(err error, column string) bool {
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") && strings.Contains(msg, "."+column)
}
