// Package store persists the resource graph in SQLite: one row per
// statement plus a derived table of full-text terms.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/mattn/go-sqlite3"

	"fsgraph/internal/miner"
	"fsgraph/internal/store/migrations"
)

// Options configures full-text indexing.
type Options struct {
	// FullText lists the predicates whose string objects are indexed.
	FullText  []string
	Stopwords []string
	// MinTermLength drops shorter terms. Zero indexes every term.
	MinTermLength int
}

// SQLiteStore implements miner.Store on SQLite.
type SQLiteStore struct {
	db        *sql.DB
	path      string
	fulltext  []string
	tokenizer *Tokenizer

	mu   sync.Mutex
	subs map[chan miner.GraphEvent]struct{}
}

// NewSQLiteStore opens a store. path can be a file path or ":memory:".
// The schema is not migrated; see MigrateUp.
func NewSQLiteStore(path string, opts Options) (*SQLiteStore, error) {
	db, err := OpenConnection(path)
	if err != nil {
		return nil, err
	}
	return &SQLiteStore{
		db:        db,
		path:      path,
		fulltext:  opts.FullText,
		tokenizer: NewTokenizer(opts.Stopwords, opts.MinTermLength),
		subs:      make(map[chan miner.GraphEvent]struct{}),
	}, nil
}

// OpenConnection opens and configures a SQLite connection.
// An in-memory database lives in a single connection.
func OpenConnection(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	if path != ":memory:" {
		pragmas = append(pragmas, "PRAGMA journal_mode = WAL")
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("configuring database (%s): %w", p, err)
		}
	}
	return db, nil
}

// MigrateUp applies pending schema migrations.
func (s *SQLiteStore) MigrateUp() error {
	return migrations.Up(s.db)
}

// CheckMigrations verifies the schema is current.
func (s *SQLiteStore) CheckMigrations() error {
	return migrations.Check(s.db)
}

// BackupTo creates a complete copy of the database at destPath using VACUUM INTO.
func (s *SQLiteStore) BackupTo(destPath string) error {
	if _, err := s.db.Exec("VACUUM INTO ?", destPath); err != nil {
		return fmt.Errorf("backing up database: %w", err)
	}
	return nil
}

// Update applies mutations in one transaction and, after commit, publishes
// one GraphEvent per touched subject.
func (s *SQLiteStore) Update(ctx context.Context, mutations []miner.Mutation) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storeError(fmt.Errorf("starting transaction: %w", err))
	}
	defer tx.Rollback()

	u := &update{ctx: ctx, tx: tx, existed: make(map[string]bool)}
	for _, m := range mutations {
		if err := u.apply(m); err != nil {
			return storeError(err)
		}
	}

	var events []miner.GraphEvent
	for _, subject := range u.order {
		if err := s.reindex(ctx, tx, subject); err != nil {
			return storeError(err)
		}
		exists, err := subjectExists(ctx, tx, subject)
		if err != nil {
			return storeError(err)
		}
		before := u.existed[subject]
		switch {
		case !before && exists:
			events = append(events, miner.GraphEvent{Subject: subject, Kind: miner.GraphCreated})
		case before && exists:
			events = append(events, miner.GraphEvent{Subject: subject, Kind: miner.GraphUpdated})
		case before && !exists:
			events = append(events, miner.GraphEvent{Subject: subject, Kind: miner.GraphDeleted})
		}
	}

	if err := tx.Commit(); err != nil {
		return storeError(fmt.Errorf("committing: %w", err))
	}
	s.publish(events)
	return nil
}

// update tracks the subjects one transaction touches and whether each
// existed before it was first touched.
type update struct {
	ctx     context.Context
	tx      *sql.Tx
	existed map[string]bool
	order   []string
}

func (u *update) touch(subject string) error {
	if _, ok := u.existed[subject]; ok {
		return nil
	}
	exists, err := subjectExists(u.ctx, u.tx, subject)
	if err != nil {
		return err
	}
	u.existed[subject] = exists
	u.order = append(u.order, subject)
	return nil
}

func (u *update) apply(m miner.Mutation) error {
	switch m.Op {
	case miner.MutInsert:
		if err := u.touch(m.Subject); err != nil {
			return err
		}
		return u.insert(m.Statement)
	case miner.MutSet:
		if err := u.touch(m.Subject); err != nil {
			return err
		}
		if _, err := u.tx.ExecContext(u.ctx,
			"DELETE FROM statements WHERE subject = ? AND predicate = ? AND graph = ?",
			m.Subject, m.Predicate, m.Graph); err != nil {
			return fmt.Errorf("replacing %s %s: %w", m.Subject, m.Predicate, err)
		}
		return u.insert(m.Statement)
	case miner.MutRemove:
		if err := u.touch(m.Subject); err != nil {
			return err
		}
		query := "DELETE FROM statements WHERE subject = ?"
		args := []any{m.Subject}
		if m.Predicate != "" {
			query += " AND predicate = ?"
			args = append(args, m.Predicate)
		}
		if m.Graph != "" {
			query += " AND graph = ?"
			args = append(args, m.Graph)
		}
		if _, err := u.tx.ExecContext(u.ctx, query, args...); err != nil {
			return fmt.Errorf("removing from %s: %w", m.Subject, err)
		}
		return nil
	case miner.MutDelete:
		return u.delete(m.Subject)
	case miner.MutDeleteReferrers:
		subjects, err := u.referrers(m.Predicate, m.Object.Lexical)
		if err != nil {
			return err
		}
		for _, subject := range subjects {
			if err := u.delete(subject); err != nil {
				return err
			}
		}
		return nil
	default:
		return fmt.Errorf("unknown mutation op %d", m.Op)
	}
}

func (u *update) insert(st miner.Statement) error {
	_, err := u.tx.ExecContext(u.ctx,
		"INSERT OR IGNORE INTO statements (subject, predicate, graph, kind, object) VALUES (?, ?, ?, ?, ?)",
		st.Subject, st.Predicate, st.Graph, int(st.Object.Kind), st.Object.Lexical)
	if err != nil {
		return fmt.Errorf("inserting %s %s: %w", st.Subject, st.Predicate, err)
	}
	return nil
}

// delete drops every statement about subject and every reference to it.
func (u *update) delete(subject string) error {
	if err := u.touch(subject); err != nil {
		return err
	}
	rows, err := u.tx.QueryContext(u.ctx,
		"SELECT DISTINCT subject FROM statements WHERE kind = ? AND object = ?",
		int(miner.KindRef), subject)
	if err != nil {
		return fmt.Errorf("finding references to %s: %w", subject, err)
	}
	refs, err := scanStrings(rows)
	if err != nil {
		return fmt.Errorf("finding references to %s: %w", subject, err)
	}
	for _, ref := range refs {
		if err := u.touch(ref); err != nil {
			return err
		}
	}

	if _, err := u.tx.ExecContext(u.ctx, "DELETE FROM statements WHERE subject = ?", subject); err != nil {
		return fmt.Errorf("deleting %s: %w", subject, err)
	}
	if _, err := u.tx.ExecContext(u.ctx,
		"DELETE FROM statements WHERE kind = ? AND object = ?", int(miner.KindRef), subject); err != nil {
		return fmt.Errorf("deleting references to %s: %w", subject, err)
	}
	return nil
}

func (u *update) referrers(predicate, object string) ([]string, error) {
	rows, err := u.tx.QueryContext(u.ctx,
		"SELECT DISTINCT subject FROM statements WHERE predicate = ? AND kind = ? AND object = ?",
		predicate, int(miner.KindRef), object)
	if err != nil {
		return nil, fmt.Errorf("finding %s referrers of %s: %w", predicate, object, err)
	}
	subjects, err := scanStrings(rows)
	if err != nil {
		return nil, fmt.Errorf("finding %s referrers of %s: %w", predicate, object, err)
	}
	return subjects, nil
}

// reindex rebuilds the full-text terms of one subject.
func (s *SQLiteStore) reindex(ctx context.Context, tx *sql.Tx, subject string) error {
	if _, err := tx.ExecContext(ctx, "DELETE FROM fts_terms WHERE subject = ?", subject); err != nil {
		return fmt.Errorf("clearing terms of %s: %w", subject, err)
	}
	if len(s.fulltext) == 0 {
		return nil
	}

	query := "SELECT object FROM statements WHERE subject = ? AND kind = ? AND predicate IN (" +
		placeholders(len(s.fulltext)) + ") ORDER BY id"
	args := []any{subject, int(miner.KindString)}
	for _, p := range s.fulltext {
		args = append(args, p)
	}
	rows, err := tx.QueryContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("reading text of %s: %w", subject, err)
	}
	texts, err := scanStrings(rows)
	if err != nil {
		return fmt.Errorf("reading text of %s: %w", subject, err)
	}

	terms := s.tokenizer.Terms(strings.Join(texts, "\n"))
	for _, term := range terms {
		if _, err := tx.ExecContext(ctx,
			"INSERT OR IGNORE INTO fts_terms (subject, term) VALUES (?, ?)", subject, term); err != nil {
			return fmt.Errorf("indexing %s: %w", subject, err)
		}
	}
	return nil
}

// Query returns matching statements in insertion order.
func (s *SQLiteStore) Query(ctx context.Context, pattern miner.Pattern) ([]miner.Statement, error) {
	where, args := patternClause(pattern)
	rows, err := s.db.QueryContext(ctx,
		"SELECT subject, predicate, graph, kind, object FROM statements"+where+" ORDER BY id", args...)
	if err != nil {
		return nil, fmt.Errorf("querying statements: %w", err)
	}
	defer rows.Close()

	var out []miner.Statement
	for rows.Next() {
		var st miner.Statement
		var kind int
		if err := rows.Scan(&st.Subject, &st.Predicate, &st.Graph, &kind, &st.Object.Lexical); err != nil {
			return nil, fmt.Errorf("scanning statement: %w", err)
		}
		st.Object.Kind = miner.ValueKind(kind)
		out = append(out, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating statements: %w", err)
	}
	return out, nil
}

// Ask reports whether any statement matches the pattern.
func (s *SQLiteStore) Ask(ctx context.Context, pattern miner.Pattern) (bool, error) {
	where, args := patternClause(pattern)
	var exists bool
	err := s.db.QueryRowContext(ctx, "SELECT EXISTS(SELECT 1 FROM statements"+where+")", args...).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("asking: %w", err)
	}
	return exists, nil
}

// Search returns subjects whose terms include every term of text, sorted.
// A limit of zero or less returns every match.
func (s *SQLiteStore) Search(ctx context.Context, text string, limit int) ([]string, error) {
	terms := s.tokenizer.Terms(text)
	if len(terms) == 0 {
		return nil, nil
	}
	if limit <= 0 {
		limit = -1
	}

	args := make([]any, 0, len(terms)+2)
	for _, t := range terms {
		args = append(args, t)
	}
	args = append(args, len(terms), limit)
	rows, err := s.db.QueryContext(ctx,
		"SELECT subject FROM fts_terms WHERE term IN ("+placeholders(len(terms))+")"+
			" GROUP BY subject HAVING COUNT(DISTINCT term) = ? ORDER BY subject LIMIT ?", args...)
	if err != nil {
		return nil, fmt.Errorf("searching: %w", err)
	}
	subjects, err := scanStrings(rows)
	if err != nil {
		return nil, fmt.Errorf("searching: %w", err)
	}
	return subjects, nil
}

// Subscribe registers a listener for committed changes. Events are
// dropped for listeners that fall behind.
func (s *SQLiteStore) Subscribe() (<-chan miner.GraphEvent, func()) {
	ch := make(chan miner.GraphEvent, 256)
	s.mu.Lock()
	s.subs[ch] = struct{}{}
	s.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			if _, ok := s.subs[ch]; ok {
				delete(s.subs, ch)
				close(ch)
			}
		})
	}
}

func (s *SQLiteStore) publish(events []miner.GraphEvent) {
	if len(events) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for ch := range s.subs {
		for _, ev := range events {
			select {
			case ch <- ev:
			default:
			}
		}
	}
}

// Close closes subscriptions and the database connection.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	for ch := range s.subs {
		delete(s.subs, ch)
		close(ch)
	}
	s.mu.Unlock()

	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// storeError classifies a failure; lock contention is transient.
func storeError(err error) error {
	var se sqlite3.Error
	transient := errors.As(err, &se) && (se.Code == sqlite3.ErrBusy || se.Code == sqlite3.ErrLocked)
	return &miner.StoreError{Transient: transient, Err: err}
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func subjectExists(ctx context.Context, q queryer, subject string) (bool, error) {
	var exists bool
	if err := q.QueryRowContext(ctx,
		"SELECT EXISTS(SELECT 1 FROM statements WHERE subject = ?)", subject).Scan(&exists); err != nil {
		return false, fmt.Errorf("checking %s: %w", subject, err)
	}
	return exists, nil
}

func patternClause(p miner.Pattern) (string, []any) {
	var conds []string
	var args []any
	if p.Subject != "" {
		conds = append(conds, "subject = ?")
		args = append(args, p.Subject)
	}
	if p.Predicate != "" {
		conds = append(conds, "predicate = ?")
		args = append(args, p.Predicate)
	}
	if p.Graph != "" {
		conds = append(conds, "graph = ?")
		args = append(args, p.Graph)
	}
	if p.Object != nil {
		conds = append(conds, "kind = ? AND object = ?")
		args = append(args, int(p.Object.Kind), p.Object.Lexical)
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func scanStrings(rows *sql.Rows) ([]string, error) {
	defer rows.Close()
	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// Compile-time check that SQLiteStore implements miner.Store interface
var _ miner.Store = (*SQLiteStore)(nil)
