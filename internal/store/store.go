/*
Package store persists FilingRecords in SQLite.

The insider_trading table is append-only: rows are inserted by ingestion and
never updated or deleted here. There is no uniqueness constraint, so plain
Insert duplicates a document that is ingested twice; InsertIfAbsent checks the
natural key first for callers that want idempotent ingestion.

Indexes:
  - idx_issuer_ticker, idx_transaction_date, idx_reporting_owner: the three
    query dimensions
  - idx_natural_key: dedupe lookups

The store expects a single writer. The pool is capped at one connection.
*/
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/bighogz/form4-feed/internal/models"
)

var (
	// ErrUnavailable wraps failures to open or initialize the database.
	ErrUnavailable = errors.New("store unavailable")
	// ErrNotFound is returned by Open when MustExist is set and the file is missing.
	ErrNotFound = errors.New("store not found")
)

const DefaultLimit = 100

const schema = `
CREATE TABLE IF NOT EXISTS insider_trading (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	issuer_name TEXT,
	issuer_ticker TEXT,
	reporting_owner TEXT,
	reporting_owner_cik TEXT,
	reporting_owner_position TEXT,
	transaction_date TEXT,
	transaction_shares TEXT,
	transaction_price TEXT,
	transaction_type TEXT,
	shares_after_transaction TEXT,
	source_file TEXT,
	natural_key TEXT,
	created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_issuer_ticker ON insider_trading (issuer_ticker);
CREATE INDEX IF NOT EXISTS idx_transaction_date ON insider_trading (transaction_date);
CREATE INDEX IF NOT EXISTS idx_reporting_owner ON insider_trading (reporting_owner);
`

const columns = `id, issuer_name, issuer_ticker, reporting_owner, reporting_owner_cik,
	reporting_owner_position, transaction_date, transaction_shares, transaction_price,
	transaction_type, shares_after_transaction, source_file, created_at`

type Options struct {
	// MustExist fails with ErrNotFound instead of creating a new database file.
	MustExist bool
}

type Store struct {
	db   *sql.DB
	path string
}

// Open connects to the SQLite database at path.
func Open(ctx context.Context, path string, opts Options) (*Store, error) {
	if opts.MustExist {
		if _, err := os.Stat(path); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
			}
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
	} else if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("%w: create %s: %v", ErrUnavailable, dir, err)
		}
	}

	db, err := sql.Open("sqlite", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", ErrUnavailable, path, err)
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: ping %s: %v", ErrUnavailable, path, err)
	}
	return &Store{db: db, path: path}, nil
}

var uriEscaper = strings.NewReplacer("%", "%25", "?", "%3f", "#", "%23")

// dsn builds a SQLite URI for path. Characters that would end the path part
// of the URI are percent-encoded.
func dsn(path string) string {
	return "file:" + uriEscaper.Replace(path) + "?_pragma=busy_timeout(5000)"
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Path() string {
	return s.path
}

// Initialize creates the table and indexes if missing. It also brings
// databases created before natural_key existed up to date. Safe on every run.
func (s *Store) Initialize(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("%w: create schema: %v", ErrUnavailable, err)
	}
	has, err := s.hasColumn(ctx, "natural_key")
	if err != nil {
		return fmt.Errorf("%w: inspect schema: %v", ErrUnavailable, err)
	}
	if !has {
		if _, err := s.db.ExecContext(ctx, `ALTER TABLE insider_trading ADD COLUMN natural_key TEXT`); err != nil {
			return fmt.Errorf("%w: add natural_key: %v", ErrUnavailable, err)
		}
	}
	if err := s.backfillNaturalKeys(ctx); err != nil {
		return fmt.Errorf("%w: backfill natural_key: %v", ErrUnavailable, err)
	}
	if _, err := s.db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_natural_key ON insider_trading (natural_key)`); err != nil {
		return fmt.Errorf("%w: create natural_key index: %v", ErrUnavailable, err)
	}
	return nil
}

// backfillNaturalKeys fills natural_key on rows written before the column
// existed.
func (s *Store) backfillNaturalKeys(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `
		SELECT id, source_file, transaction_date, reporting_owner_cik
		FROM insider_trading WHERE natural_key IS NULL`)
	if err != nil {
		return err
	}
	type pending struct {
		id  int64
		key string
	}
	var todo []pending
	for rows.Next() {
		var (
			id        int64
			source    sql.NullString
			date, cik sql.NullString
		)
		if err := rows.Scan(&id, &source, &date, &cik); err != nil {
			rows.Close()
			return err
		}
		rec := models.FilingRecord{
			SourceFile:        source.String,
			TransactionDate:   nullable(date),
			ReportingOwnerCIK: nullable(cik),
		}
		todo = append(todo, pending{id, rec.NaturalKey()})
	}
	if err := rows.Close(); err != nil {
		return err
	}
	if err := rows.Err(); err != nil {
		return err
	}
	if len(todo) == 0 {
		return nil
	}

	stmt, err := tx.PrepareContext(ctx, `UPDATE insider_trading SET natural_key = ? WHERE id = ?`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, p := range todo {
		if _, err := stmt.ExecContext(ctx, p.key, p.id); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *Store) hasColumn(ctx context.Context, name string) (bool, error) {
	rows, err := s.db.QueryContext(ctx, `PRAGMA table_info(insider_trading)`)
	if err != nil {
		return false, err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			cid, notNull, pk int
			col, typ         string
			dflt             sql.NullString
		)
		if err := rows.Scan(&cid, &col, &typ, &notNull, &dflt, &pk); err != nil {
			return false, err
		}
		if strings.EqualFold(col, name) {
			return true, nil
		}
	}
	return false, rows.Err()
}

// Insert appends rec and returns the assigned id. It never deduplicates.
func (s *Store) Insert(ctx context.Context, rec *models.FilingRecord) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO insider_trading (
			issuer_name, issuer_ticker, reporting_owner, reporting_owner_cik,
			reporting_owner_position, transaction_date, transaction_shares,
			transaction_price, transaction_type, shares_after_transaction,
			source_file, natural_key
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.IssuerName, rec.IssuerTicker, rec.ReportingOwner, rec.ReportingOwnerCIK,
		rec.ReportingOwnerPosition, rec.TransactionDate, rec.TransactionShares,
		rec.TransactionPrice, rec.TransactionType, rec.SharesAfterTransaction,
		rec.SourceFile, rec.NaturalKey(),
	)
	if err != nil {
		return 0, fmt.Errorf("insert %s: %w", rec.SourceFile, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("insert %s: last insert id: %w", rec.SourceFile, err)
	}
	rec.ID = id
	return id, nil
}

// InsertIfAbsent inserts rec unless a row with the same natural key exists,
// in which case the existing id is returned with inserted=false.
func (s *Store) InsertIfAbsent(ctx context.Context, rec *models.FilingRecord) (int64, bool, error) {
	var id int64
	err := s.db.QueryRowContext(ctx,
		`SELECT id FROM insider_trading WHERE natural_key = ? ORDER BY id LIMIT 1`,
		rec.NaturalKey(),
	).Scan(&id)
	switch {
	case err == nil:
		return id, false, nil
	case !errors.Is(err, sql.ErrNoRows):
		return 0, false, fmt.Errorf("lookup %s: %w", rec.SourceFile, err)
	}
	id, err = s.Insert(ctx, rec)
	if err != nil {
		return 0, false, err
	}
	return id, true, nil
}

// Filter narrows Query. Empty fields are ignored; date bounds are inclusive.
// Ticker matches without regard to case.
type Filter struct {
	Ticker   string
	DateFrom string
	DateTo   string
	Owner    string
	Limit    int
}

// Query returns rows matching every set filter, newest transaction first.
func (s *Store) Query(ctx context.Context, f Filter) ([]models.FilingRecord, error) {
	var (
		where []string
		args  []any
	)
	if f.Ticker != "" {
		where = append(where, "issuer_ticker = ? COLLATE NOCASE")
		args = append(args, f.Ticker)
	}
	if f.DateFrom != "" {
		where = append(where, "transaction_date >= ?")
		args = append(args, f.DateFrom)
	}
	if f.DateTo != "" {
		where = append(where, "transaction_date <= ?")
		args = append(args, f.DateTo)
	}
	if f.Owner != "" {
		where = append(where, "reporting_owner = ?")
		args = append(args, f.Owner)
	}
	q := "SELECT " + columns + " FROM insider_trading"
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	limit := f.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}
	q += " ORDER BY transaction_date DESC, id ASC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query insider_trading: %w", err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

// Snapshot returns every row, newest transaction first, read inside a
// single transaction so derived views agree with each other.
func (s *Store) Snapshot(ctx context.Context) ([]models.FilingRecord, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("snapshot: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx,
		"SELECT "+columns+" FROM insider_trading ORDER BY transaction_date DESC, id ASC")
	if err != nil {
		return nil, fmt.Errorf("snapshot: %w", err)
	}
	defer rows.Close()
	recs, err := scanRecords(rows)
	if err != nil {
		return nil, fmt.Errorf("snapshot: %w", err)
	}
	return recs, nil
}

func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM insider_trading`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count insider_trading: %w", err)
	}
	return n, nil
}

func scanRecords(rows *sql.Rows) ([]models.FilingRecord, error) {
	out := make([]models.FilingRecord, 0)
	for rows.Next() {
		var (
			r                                        models.FilingRecord
			name, ticker, owner, cik, position       sql.NullString
			date, shares, price, code, after, source sql.NullString
			created                                  sql.NullString
		)
		if err := rows.Scan(&r.ID, &name, &ticker, &owner, &cik, &position,
			&date, &shares, &price, &code, &after, &source, &created); err != nil {
			return nil, err
		}
		r.IssuerName = nullable(name)
		r.IssuerTicker = nullable(ticker)
		r.ReportingOwner = nullable(owner)
		r.ReportingOwnerCIK = nullable(cik)
		r.ReportingOwnerPosition = nullable(position)
		r.TransactionDate = nullable(date)
		r.TransactionShares = nullable(shares)
		r.TransactionPrice = nullable(price)
		r.TransactionType = nullable(code)
		r.SharesAfterTransaction = nullable(after)
		r.SourceFile = source.String
		r.CreatedAt = created.String
		out = append(out, r)
	}
	return out, rows.Err()
}

func nullable(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}
