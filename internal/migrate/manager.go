// Package migrate brings the pg store's schema up to date and loads optional
// seed files. Each file commits in one transaction with the row that records
// it, and daod replicas starting together take turns on an advisory lock.
package migrate

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"sunshine.org/internal/obs"
)

// lockKey is the pg_advisory_lock key shared by every migrating process.
const lockKey int64 = 0x73756e73

var (
	ErrNothingApplied   = errors.New("no migrations applied")
	ErrMissingDown      = errors.New("missing down migration")
	ErrChecksumMismatch = errors.New("applied file changed on disk")
)

// Applied is one recorded migration or seed.
type Applied struct {
	Name      string
	Checksum  string
	AppliedAt time.Time
}

// track is a directory of SQL files and the table that records them.
type track struct {
	kind   string
	fsys   fs.FS
	table  string
	suffix string
}

type Manager struct {
	db     *sql.DB
	schema track
	seeds  track
	logger *zap.Logger
}

type Option func(*Manager)

func WithMigrationsTable(name string) Option {
	return func(m *Manager) {
		if name != "" {
			m.schema.table = name
		}
	}
}

func WithSeedsTable(name string) Option {
	return func(m *Manager) {
		if name != "" {
			m.seeds.table = name
		}
	}
}

func WithLogger(l *zap.Logger) Option { return func(m *Manager) { m.logger = l } }

// NewManager reads migrations (*.up.sql / *.down.sql) and seeds (*.sql).
// Either file system may be nil.
func NewManager(db *sql.DB, migrations, seeds fs.FS, opts ...Option) *Manager {
	m := &Manager{
		db:     db,
		schema: track{kind: "migration", fsys: migrations, table: "schema_migrations", suffix: ".up.sql"},
		seeds:  track{kind: "seed", fsys: seeds, table: "schema_seeds", suffix: ".sql"},
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.logger == nil {
		m.logger = obs.Logger()
	}
	return m
}

// Up applies pending migrations in name order. It refuses to run when an
// applied migration no longer matches its file.
func (m *Manager) Up(ctx context.Context) error {
	return m.locked(ctx, func(conn *sql.Conn) error { return m.forward(ctx, conn, m.schema) })
}

// Seed applies seed files that have not run yet.
func (m *Manager) Seed(ctx context.Context) error {
	return m.locked(ctx, func(conn *sql.Conn) error { return m.forward(ctx, conn, m.seeds) })
}

// Down reverts the most recent migration.
func (m *Manager) Down(ctx context.Context) error {
	return m.locked(ctx, func(conn *sql.Conn) error {
		applied, err := history(ctx, conn, m.schema.table)
		if err != nil {
			return err
		}
		if len(applied) == 0 {
			return ErrNothingApplied
		}
		last := applied[len(applied)-1].Name
		down := strings.TrimSuffix(last, m.schema.suffix) + ".down.sql"
		files, err := collect(m.schema.fsys, ".down.sql")
		if err != nil {
			return err
		}
		i := sort.Search(len(files), func(i int) bool { return files[i].base >= down })
		if i == len(files) || files[i].base != down {
			return fmt.Errorf("%w for %s", ErrMissingDown, last)
		}
		body, err := fs.ReadFile(m.schema.fsys, files[i].path)
		if err != nil {
			return err
		}
		forget := fmt.Sprintf(`delete from %s where name = $1`, m.schema.table)
		if err := runInTx(ctx, conn, string(body), forget, last); err != nil {
			return fmt.Errorf("revert %s: %w", last, err)
		}
		m.logger.Info("migration reverted", zap.String("name", last))
		return nil
	})
}

// Status lists applied migrations, oldest first.
func (m *Manager) Status(ctx context.Context) ([]Applied, error) {
	var out []Applied
	err := m.locked(ctx, func(conn *sql.Conn) error {
		var err error
		out, err = history(ctx, conn, m.schema.table)
		return err
	})
	return out, err
}

func (m *Manager) forward(ctx context.Context, conn *sql.Conn, t track) error {
	applied, err := history(ctx, conn, t.table)
	if err != nil {
		return err
	}
	done := make(map[string]string, len(applied))
	for _, a := range applied {
		done[a.Name] = a.Checksum
	}
	files, err := collect(t.fsys, t.suffix)
	if err != nil {
		return err
	}
	record := fmt.Sprintf(`insert into %s(name, checksum) values ($1, $2)`, t.table)
	for _, f := range files {
		body, err := fs.ReadFile(t.fsys, f.path)
		if err != nil {
			return err
		}
		sum := checksum(body)
		if prev, ok := done[f.base]; ok {
			// rows recorded without a checksum are trusted
			if prev != "" && prev != sum {
				return fmt.Errorf("%w: %s %s", ErrChecksumMismatch, t.kind, f.base)
			}
			continue
		}
		if err := runInTx(ctx, conn, string(body), record, f.base, sum); err != nil {
			return fmt.Errorf("apply %s %s: %w", t.kind, f.base, err)
		}
		m.logger.Info(t.kind+" applied", zap.String("name", f.base), zap.String("checksum", sum[:12]))
	}
	return nil
}

// locked runs fn on one connection holding the advisory lock, after making
// sure both bookkeeping tables exist.
func (m *Manager) locked(ctx context.Context, fn func(*sql.Conn) error) error {
	conn, err := m.db.Conn(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, `select pg_advisory_lock($1)`, lockKey); err != nil {
		return fmt.Errorf("migration lock: %w", err)
	}
	defer func() {
		if _, err := conn.ExecContext(context.WithoutCancel(ctx), `select pg_advisory_unlock($1)`, lockKey); err != nil {
			m.logger.Warn("release migration lock", zap.Error(err))
		}
	}()

	for _, table := range []string{m.schema.table, m.seeds.table} {
		if _, err := conn.ExecContext(ctx, fmt.Sprintf(`
			create table if not exists %s (
				name text primary key,
				checksum text not null default '',
				applied_at timestamptz not null default now()
			)`, table)); err != nil {
			return err
		}
	}
	return fn(conn)
}

// runInTx executes script then the bookkeeping statement, committing both or
// neither.
func runInTx(ctx context.Context, conn *sql.Conn, script, bookkeeping string, args ...any) error {
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	for _, stmt := range splitStatements(script) {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	if _, err := tx.ExecContext(ctx, bookkeeping, args...); err != nil {
		return err
	}
	return tx.Commit()
}

func history(ctx context.Context, conn *sql.Conn, table string) ([]Applied, error) {
	rows, err := conn.QueryContext(ctx, fmt.Sprintf(`select name, checksum, applied_at from %s order by applied_at asc, name asc`, table))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Applied
	for rows.Next() {
		var a Applied
		if err := rows.Scan(&a.Name, &a.Checksum, &a.AppliedAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func checksum(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

type sqlFile struct {
	base string
	path string
}

// collect lists files ending in suffix, sorted by base name.
func collect(fsys fs.FS, suffix string) ([]sqlFile, error) {
	if fsys == nil {
		return nil, nil
	}
	var files []sqlFile
	err := fs.WalkDir(fsys, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.HasSuffix(d.Name(), suffix) {
			files = append(files, sqlFile{base: path.Base(p), path: p})
		}
		return nil
	})
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	sort.Slice(files, func(i, j int) bool { return files[i].base < files[j].base })
	return files, nil
}

// splitStatements splits a script on semicolons that are outside quoted
// literals, dollar-quoted bodies and -- comments. Empty statements are
// dropped.
func splitStatements(script string) []string {
	var (
		stmts   []string
		start   int
		quote   bool
		dollar  string
		comment bool
	)
	flush := func(end int) {
		if s := strings.TrimSpace(script[start:end]); s != "" && s != ";" {
			stmts = append(stmts, s)
		}
		start = end
	}
	for i := 0; i < len(script); i++ {
		c := script[i]
		switch {
		case comment:
			comment = c != '\n'
		case dollar != "":
			if strings.HasPrefix(script[i:], dollar) {
				i += len(dollar) - 1
				dollar = ""
			}
		case quote:
			quote = c != '\''
		case c == '\'':
			quote = true
		case c == '-' && strings.HasPrefix(script[i:], "--"):
			comment = true
		case c == '$':
			if j := strings.IndexByte(script[i+1:], '$'); j >= 0 && isTag(script[i+1:i+1+j]) {
				dollar = script[i : i+j+2]
				i += j + 1
			}
		case c == ';':
			flush(i + 1)
		}
	}
	flush(len(script))
	return stmts
}

// isTag reports whether s can sit between the dollars of a dollar quote.
func isTag(s string) bool {
	if s != "" && s[0] >= '0' && s[0] <= '9' {
		return false
	}
	for _, r := range s {
		if r != '_' && (r < 'a' || r > 'z') && (r < 'A' || r > 'Z') && (r < '0' || r > '9') {
			return false
		}
	}
	return true
}
