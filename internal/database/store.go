package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"           // Postgres driver
	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"dms-go/internal/database/migrations"
	"dms-go/internal/dms"
)

// SQLStore implements dms.Store on top of sqlx. The same queries serve
// SQLite and Postgres; placeholders are rebound per driver and Postgres
// additionally takes row locks on reads made inside a transaction.
type SQLStore struct {
	db      *sqlx.DB
	dialect string
}

var _ dms.Store = (*SQLStore)(nil)

// OpenSQLite opens a SQLite database. path can be a file path or ":memory:".
// The pool is limited to one connection, which serializes every
// transaction and keeps an in-memory database alive for the store's lifetime.
func OpenSQLite(path string) (*SQLStore, error) {
	db, err := OpenConnection(path)
	if err != nil {
		return nil, err
	}
	return NewSQLStore(db, migrations.SQLite), nil
}

// OpenPostgres connects to Postgres using a lib/pq DSN or URL.
func OpenPostgres(dsn string) (*SQLStore, error) {
	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return NewSQLStore(db, migrations.Postgres), nil
}

// OpenConnection opens and configures a SQLite connection with appropriate PRAGMAs.
// Exported for tests and tools that need a properly configured SQLite connection.
func OpenConnection(path string) (*sqlx.DB, error) {
	db, err := sqlx.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	// SQLite defaults foreign keys to OFF.
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	return db, nil
}

// NewSQLStore wraps an existing connection. dialect is migrations.SQLite or
// migrations.Postgres.
func NewSQLStore(db *sqlx.DB, dialect string) *SQLStore {
	return &SQLStore{db: db, dialect: dialect}
}

// DB exposes the underlying connection for migrations.
func (s *SQLStore) DB() *sqlx.DB { return s.db }

// Dialect returns the migration dialect of the store.
func (s *SQLStore) Dialect() string { return s.dialect }

// Migrate applies pending schema migrations.
func (s *SQLStore) Migrate() error {
	return migrations.MigrateUp(s.db.DB, s.dialect)
}

// CheckMigrations verifies the schema is at the latest version.
func (s *SQLStore) CheckMigrations() error {
	return migrations.CheckDBMigrationStatus(s.db.DB, s.dialect)
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

// Transact runs fn inside a transaction, committing if fn returns nil.
func (s *SQLStore) Transact(ctx context.Context, fn func(tx dms.StoreTx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&sqlTx{tx: tx, lock: s.lockClause()}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

func (s *SQLStore) lockClause() string {
	if s.dialect == migrations.Postgres {
		return " FOR UPDATE"
	}
	return ""
}

// FindDueEmails returns every record due at or before now, oldest trigger first.
func (s *SQLStore) FindDueEmails(ctx context.Context, now time.Time) ([]*dms.EmailRecord, error) {
	ms := toMillis(now)
	query := s.db.Rebind(selectEmails + `
		WHERE interval_next_send <= ? OR (send_time IS NOT NULL AND send_time <= ?)
		ORDER BY interval_next_send, id`)

	var rows []emailRow
	if err := s.db.SelectContext(ctx, &rows, query, ms, ms); err != nil {
		return nil, fmt.Errorf("finding due emails: %w", err)
	}
	return toRecords(rows), nil
}

// sqlTx implements dms.StoreTx.
type sqlTx struct {
	tx   *sqlx.Tx
	lock string
}

var _ dms.StoreTx = (*sqlTx)(nil)

type userRow struct {
	ID        string `db:"id"`
	Email     string `db:"email"`
	FirstName string `db:"first_name"`
	LastName  string `db:"last_name"`
	CreatedAt int64  `db:"created_at"`
}

func (r *userRow) toUser() *dms.User {
	return &dms.User{ID: r.ID, Email: r.Email, FirstName: r.FirstName, LastName: r.LastName}
}

const selectUsers = `SELECT id, email, first_name, last_name, created_at FROM users`

func (t *sqlTx) findUser(ctx context.Context, where string, arg any) (*dms.User, error) {
	var row userRow
	err := t.tx.GetContext(ctx, &row, t.tx.Rebind(selectUsers+" WHERE "+where+" = ?"), arg)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("finding user: %w", err)
	}
	return row.toUser(), nil
}

func (t *sqlTx) FindUserByEmail(ctx context.Context, email string) (*dms.User, error) {
	return t.findUser(ctx, "email", email)
}

func (t *sqlTx) FindUser(ctx context.Context, id string) (*dms.User, error) {
	return t.findUser(ctx, "id", id)
}

func (t *sqlTx) InsertUser(ctx context.Context, u *dms.User) error {
	row := userRow{ID: u.ID, Email: u.Email, FirstName: u.FirstName, LastName: u.LastName, CreatedAt: toMillis(time.Now())}
	_, err := t.tx.NamedExecContext(ctx, `
		INSERT INTO users (id, email, first_name, last_name, created_at)
		VALUES (:id, :email, :first_name, :last_name, :created_at)`, row)
	if err != nil {
		return fmt.Errorf("inserting user: %w", err)
	}
	return nil
}

func (t *sqlTx) UpdateUserNames(ctx context.Context, u *dms.User) error {
	res, err := t.tx.ExecContext(ctx, t.tx.Rebind(`UPDATE users SET first_name = ?, last_name = ? WHERE id = ?`),
		u.FirstName, u.LastName, u.ID)
	if err != nil {
		return fmt.Errorf("updating user: %w", err)
	}
	return expectOneRow(res, "user", u.ID)
}

type emailRow struct {
	ID               string        `db:"id"`
	OwnerID          string        `db:"owner_id"`
	Subject          string        `db:"subject"`
	Body             string        `db:"body"`
	Recipients       string        `db:"recipients"`
	SendTime         sql.NullInt64 `db:"send_time"`
	IntervalSpec     string        `db:"interval_spec"`
	Timezone         string        `db:"timezone"`
	CodeDigest       string        `db:"code_digest"`
	LastCheckin      int64         `db:"last_checkin"`
	IntervalNextSend int64         `db:"interval_next_send"`
	CreatedAt        int64         `db:"created_at"`
}

const selectEmails = `
	SELECT id, owner_id, subject, body, recipients, send_time, interval_spec, timezone,
	       code_digest, last_checkin, interval_next_send, created_at
	FROM emails`

func fromRecord(r *dms.EmailRecord) emailRow {
	row := emailRow{
		ID:               r.ID,
		OwnerID:          r.OwnerID,
		Subject:          r.Subject,
		Body:             r.Body,
		Recipients:       r.Recipients,
		IntervalSpec:     r.Interval,
		Timezone:         r.Timezone,
		CodeDigest:       r.CodeDigest,
		LastCheckin:      toMillis(r.LastCheckin),
		IntervalNextSend: toMillis(r.IntervalNextSend),
		CreatedAt:        toMillis(r.CreatedAt),
	}
	if r.SendTime != nil {
		row.SendTime = sql.NullInt64{Int64: toMillis(*r.SendTime), Valid: true}
	}
	return row
}

func (row *emailRow) toRecord() *dms.EmailRecord {
	r := &dms.EmailRecord{
		ID:               row.ID,
		OwnerID:          row.OwnerID,
		Subject:          row.Subject,
		Body:             row.Body,
		Recipients:       row.Recipients,
		Interval:         row.IntervalSpec,
		Timezone:         row.Timezone,
		CodeDigest:       row.CodeDigest,
		LastCheckin:      fromMillis(row.LastCheckin),
		IntervalNextSend: fromMillis(row.IntervalNextSend),
		CreatedAt:        fromMillis(row.CreatedAt),
	}
	if row.SendTime.Valid {
		t := fromMillis(row.SendTime.Int64)
		r.SendTime = &t
	}
	return r
}

func toRecords(rows []emailRow) []*dms.EmailRecord {
	out := make([]*dms.EmailRecord, len(rows))
	for i := range rows {
		out[i] = rows[i].toRecord()
	}
	return out
}

func (t *sqlTx) FindEmailsByCode(ctx context.Context, ownerID, codeDigest string) ([]*dms.EmailRecord, error) {
	query := t.tx.Rebind(selectEmails + `
		WHERE owner_id = ? AND code_digest = ?
		ORDER BY created_at, id` + t.lock)

	var rows []emailRow
	if err := t.tx.SelectContext(ctx, &rows, query, ownerID, codeDigest); err != nil {
		return nil, fmt.Errorf("finding emails by code: %w", err)
	}
	return toRecords(rows), nil
}

func (t *sqlTx) FindEmail(ctx context.Context, ownerID, id string) (*dms.EmailRecord, error) {
	query := t.tx.Rebind(selectEmails + ` WHERE owner_id = ? AND id = ?` + t.lock)

	var row emailRow
	if err := t.tx.GetContext(ctx, &row, query, ownerID, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("finding email: %w", err)
	}
	return row.toRecord(), nil
}

func (t *sqlTx) InsertEmail(ctx context.Context, r *dms.EmailRecord) error {
	_, err := t.tx.NamedExecContext(ctx, `
		INSERT INTO emails (id, owner_id, subject, body, recipients, send_time, interval_spec, timezone,
		                    code_digest, last_checkin, interval_next_send, created_at)
		VALUES (:id, :owner_id, :subject, :body, :recipients, :send_time, :interval_spec, :timezone,
		        :code_digest, :last_checkin, :interval_next_send, :created_at)`, fromRecord(r))
	if err != nil {
		return fmt.Errorf("inserting email: %w", err)
	}
	return nil
}

// UpdateEmail writes every mutable column. id, owner_id, code_digest and
// created_at are never changed.
func (t *sqlTx) UpdateEmail(ctx context.Context, r *dms.EmailRecord) error {
	res, err := t.tx.NamedExecContext(ctx, `
		UPDATE emails SET
			subject = :subject,
			body = :body,
			recipients = :recipients,
			send_time = :send_time,
			interval_spec = :interval_spec,
			timezone = :timezone,
			last_checkin = :last_checkin,
			interval_next_send = :interval_next_send
		WHERE id = :id AND owner_id = :owner_id`, fromRecord(r))
	if err != nil {
		return fmt.Errorf("updating email: %w", err)
	}
	return expectOneRow(res, "email", r.ID)
}

func (t *sqlTx) DeleteEmail(ctx context.Context, ownerID, id string) error {
	res, err := t.tx.ExecContext(ctx, t.tx.Rebind(`DELETE FROM emails WHERE owner_id = ? AND id = ?`), ownerID, id)
	if err != nil {
		return fmt.Errorf("deleting email: %w", err)
	}
	return expectOneRow(res, "email", id)
}

func expectOneRow(res sql.Result, kind, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking affected rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%s %s: %w", kind, id, dms.ErrNotFound)
	}
	return nil
}

// Times are stored as Unix milliseconds so both engines compare them as integers.
func toMillis(t time.Time) int64 { return t.UnixMilli() }

func fromMillis(ms int64) time.Time { return time.UnixMilli(ms).UTC() }

// Schema returns the CREATE statements of a migrated SQLite database,
// excluding SQLite internals and the migration bookkeeping table.
func (s *SQLStore) Schema(ctx context.Context) (string, error) {
	if s.dialect != migrations.SQLite {
		return "", fmt.Errorf("schema dump is only supported for sqlite")
	}

	var stmts []string
	err := s.db.SelectContext(ctx, &stmts, `
		SELECT sql || ';'
		FROM sqlite_master
		WHERE type IN ('table', 'index')
		  AND sql IS NOT NULL
		  AND name NOT LIKE 'sqlite_%'
		  AND tbl_name != 'schema_migrations'
		ORDER BY
		  CASE type
		    WHEN 'table' THEN 1
		    WHEN 'index' THEN 2
		  END,
		  name`)
	if err != nil {
		return "", fmt.Errorf("reading schema: %w", err)
	}
	return strings.Join(stmts, "\n\n") + "\n", nil
}
