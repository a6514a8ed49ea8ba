package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/mkoering/snowfake/connector"
)

// Conn is one issued connection. It satisfies the connector.Conn
// interface so a patch session can hand it out in place of a network
// session.
type Conn struct {
	engine   *Engine
	database string
	schema   string
	closed   bool

	lastQueryID string
}

func (c *Conn) Database() string { return c.database }
func (c *Conn) Schema() string   { return c.schema }

// LastQueryID returns the id of the most recently executed statement, or
// the empty string before the first one.
func (c *Conn) LastQueryID() string { return c.lastQueryID }

// Execute runs one statement and returns its result. Statements matching
// a configured nop pattern succeed without running.
func (c *Conn) Execute(ctx context.Context, query string) (*connector.Result, error) {
	if c.closed {
		return nil, ErrClosed
	}
	stmt := strings.TrimSpace(query)
	if stmt == "" {
		return nil, fmt.Errorf("engine: empty statement")
	}

	queryID := uuid.NewString()
	c.lastQueryID = queryID

	e := c.engine
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, ErrClosed
	}

	for _, re := range e.nops {
		if re.MatchString(stmt) {
			return &connector.Result{
				QueryID: queryID,
				Columns: []connector.Column{{Name: "status", Type: "text"}},
				Rows:    [][]any{{"Statement executed successfully."}},
			}, nil
		}
	}

	if returnsRows(stmt) {
		return c.lockedQuery(ctx, stmt, queryID)
	}
	res, err := e.db.ExecContext(ctx, stmt)
	if err != nil {
		return nil, fmt.Errorf("engine: execute: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		affected = 0
	}
	return &connector.Result{
		QueryID:  queryID,
		Columns:  []connector.Column{{Name: "count", Type: "fixed"}},
		Rows:     [][]any{{affected}},
		RowCount: affected,
	}, nil
}

func (c *Conn) lockedQuery(ctx context.Context, stmt, queryID string) (*connector.Result, error) {
	rows, err := c.engine.db.QueryContext(ctx, stmt)
	if err != nil {
		return nil, fmt.Errorf("engine: query: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	types, err := rows.ColumnTypes()
	if err != nil {
		return nil, fmt.Errorf("engine: column types: %w", err)
	}
	columns := make([]connector.Column, 0, len(types))
	for _, ct := range types {
		nullable, _ := ct.Nullable()
		columns = append(columns, connector.Column{
			Name:     ct.Name(),
			Type:     strings.ToLower(ct.DatabaseTypeName()),
			Nullable: nullable,
		})
	}

	var out [][]any
	for rows.Next() {
		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("engine: scan: %w", err)
		}
		for i, v := range values {
			if b, ok := v.([]byte); ok {
				values[i] = string(b)
			}
		}
		out = append(out, values)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("engine: rows: %w", err)
	}
	return &connector.Result{
		QueryID:  queryID,
		Columns:  columns,
		Rows:     out,
		RowCount: int64(len(out)),
	}, nil
}

// Close marks the connection unusable. The engine handle is shared, so
// nothing is released until the engine itself closes.
func (c *Conn) Close() error {
	c.closed = true
	return nil
}

// WriteRows bulk-inserts rows into table inside a single transaction.
// It backs the bulk-load helper's fake target.
func (e *Engine) WriteRows(ctx context.Context, c *Conn, table string, columns []string, rows [][]any) (int, error) {
	if c == nil || c.closed {
		return 0, ErrClosed
	}
	if err := validateTableRef(table); err != nil {
		return 0, err
	}
	for _, col := range columns {
		if !identifierRe.MatchString(col) {
			return 0, fmt.Errorf("%w: column %q", ErrInvalidIdentifier, col)
		}
	}
	if len(rows) == 0 {
		return 0, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return 0, ErrClosed
	}

	width := len(columns)
	if width == 0 {
		width = len(rows[0])
	}
	placeholders := "(" + strings.TrimSuffix(strings.Repeat("?, ", width), ", ") + ")"
	insert := "INSERT INTO " + table
	if len(columns) > 0 {
		insert += " (" + strings.Join(columns, ", ") + ")"
	}
	insert += " VALUES " + placeholders

	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("engine: begin write: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, insert)
	if err != nil {
		tx.Rollback() //nolint:errcheck
		return 0, fmt.Errorf("engine: prepare write: %w", err)
	}
	defer stmt.Close() //nolint:errcheck
	for i, row := range rows {
		if len(row) != width {
			tx.Rollback() //nolint:errcheck
			return 0, fmt.Errorf("engine: write rows: row %d has %d values, want %d", i, len(row), width)
		}
		if _, err := stmt.ExecContext(ctx, row...); err != nil {
			tx.Rollback() //nolint:errcheck
			return 0, fmt.Errorf("engine: write row %d: %w", i, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("engine: commit write: %w", err)
	}
	return len(rows), nil
}

// returnsRows classifies statements whose results arrive as a row set.
func returnsRows(stmt string) bool {
	head := stmt
	if i := strings.IndexAny(head, " \t\r\n("); i > 0 {
		head = head[:i]
	}
	switch strings.ToLower(head) {
	case "select", "with", "values", "show", "describe", "explain", "pragma":
		return true
	}
	return false
}

func validateTableRef(table string) error {
	if table == "" {
		return fmt.Errorf("%w: empty table name", ErrInvalidIdentifier)
	}
	for _, part := range strings.Split(table, ".") {
		if !identifierRe.MatchString(part) {
			return fmt.Errorf("%w: table %q", ErrInvalidIdentifier, table)
		}
	}
	return nil
}

var _ connector.Conn = (*Conn)(nil)
