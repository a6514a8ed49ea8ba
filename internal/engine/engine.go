// Package engine is the in-process fake database the patch session and
// the fake server route connections to. It executes statements against a
// local sqlite handle; dialect translation is out of scope, statements
// pass through verbatim.
package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	_ "modernc.org/sqlite"
)

var (
	ErrClosed            = errors.New("engine: closed")
	ErrInvalidIdentifier = errors.New("engine: invalid identifier")
)

var identifierRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_$]*$`)

// Options are forwarded opaquely from the patch entry point.
type Options struct {
	// CreateDatabaseOnConnect attaches a database named in the connection
	// if it does not exist yet.
	CreateDatabaseOnConnect bool
	// CreateSchemaOnConnect records a schema named in the connection in
	// the engine catalog.
	CreateSchemaOnConnect bool
	// DBPath keeps database files under this directory. Empty means
	// in-memory only.
	DBPath string
	// NopRegexes lists case-insensitive patterns; matching statements
	// return success without being run.
	NopRegexes []string
}

func DefaultOptions() Options {
	return Options{
		CreateDatabaseOnConnect: true,
		CreateSchemaOnConnect:   true,
	}
}

// Engine owns one sqlite handle shared by every connection it issues.
type Engine struct {
	mu       sync.Mutex
	db       *sql.DB
	opts     Options
	nops     []*regexp.Regexp
	attached map[string]bool
	closed   bool
}

func New(opts Options) (*Engine, error) {
	nops := make([]*regexp.Regexp, 0, len(opts.NopRegexes))
	for _, expr := range opts.NopRegexes {
		re, err := regexp.Compile("(?is)" + expr)
		if err != nil {
			return nil, fmt.Errorf("compile nop regex %q: %w", expr, err)
		}
		nops = append(nops, re)
	}

	dsn := ":memory:"
	if opts.DBPath != "" {
		if err := os.MkdirAll(opts.DBPath, 0o700); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
		path := filepath.Join(opts.DBPath, "main.db")
		dsn = fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)", path)
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One connection so attached databases and temp state stay visible.
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		db.Close() //nolint:errcheck
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS _snowfake_schemata (
	database_name TEXT NOT NULL,
	schema_name TEXT NOT NULL,
	PRIMARY KEY (database_name, schema_name)
)`); err != nil {
		db.Close() //nolint:errcheck
		return nil, fmt.Errorf("create catalog: %w", err)
	}

	return &Engine{
		db:       db,
		opts:     opts,
		nops:     nops,
		attached: make(map[string]bool),
	}, nil
}

// Connect issues a connection bound to the given database and schema,
// either of which may be empty. All connections share the engine handle.
func (e *Engine) Connect(ctx context.Context, database, schema string) (*Conn, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, ErrClosed
	}
	if database != "" && e.opts.CreateDatabaseOnConnect {
		if err := e.lockedAttach(ctx, database); err != nil {
			return nil, err
		}
	}
	if schema != "" && e.opts.CreateSchemaOnConnect {
		db := database
		if db == "" {
			db = "main"
		}
		if !identifierRe.MatchString(schema) {
			return nil, fmt.Errorf("%w: schema %q", ErrInvalidIdentifier, schema)
		}
		if _, err := e.db.ExecContext(ctx,
			`INSERT OR IGNORE INTO _snowfake_schemata (database_name, schema_name) VALUES (?, ?)`,
			strings.ToLower(db), strings.ToLower(schema)); err != nil {
			return nil, fmt.Errorf("record schema: %w", err)
		}
	}
	return &Conn{engine: e, database: database, schema: schema}, nil
}

func (e *Engine) lockedAttach(ctx context.Context, database string) error {
	if !identifierRe.MatchString(database) {
		return fmt.Errorf("%w: database %q", ErrInvalidIdentifier, database)
	}
	key := strings.ToLower(database)
	if key == "main" || e.attached[key] {
		return nil
	}
	path := ":memory:"
	if e.opts.DBPath != "" {
		path = filepath.Join(e.opts.DBPath, key+".db")
	}
	if _, err := e.db.ExecContext(ctx, fmt.Sprintf("ATTACH DATABASE '%s' AS %s", path, key)); err != nil {
		return fmt.Errorf("attach database %s: %w", key, err)
	}
	e.attached[key] = true
	return nil
}

// Schemata lists recorded (database, schema) pairs, for inspection in
// tests and tooling.
func (e *Engine) Schemata(ctx context.Context) (map[string][]string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, ErrClosed
	}
	rows, err := e.db.QueryContext(ctx,
		`SELECT database_name, schema_name FROM _snowfake_schemata ORDER BY database_name, schema_name`)
	if err != nil {
		return nil, fmt.Errorf("list schemata: %w", err)
	}
	defer rows.Close() //nolint:errcheck
	out := make(map[string][]string)
	for rows.Next() {
		var db, schema string
		if err := rows.Scan(&db, &schema); err != nil {
			return nil, fmt.Errorf("scan schemata: %w", err)
		}
		out[db] = append(out[db], schema)
	}
	return out, rows.Err()
}

// Close releases the sqlite handle. Connections issued by the engine are
// unusable afterwards.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	return e.db.Close()
}
