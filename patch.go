package snowfake

import (
	"context"
	"errors"

	"github.com/mkoering/snowfake/connector"
	"github.com/mkoering/snowfake/internal/engine"
	"github.com/mkoering/snowfake/internal/intercept"
)

// Usage errors surfaced by Patch.
var (
	ErrAlreadyPatched   = intercept.ErrAlreadyPatched
	ErrUnresolvedTarget = intercept.ErrUnresolvedTarget
	ErrUnmappedTarget   = intercept.ErrUnmappedTarget
)

// PatchOptions configures one patch session. The engine flags are
// forwarded opaquely to the fake engine.
type PatchOptions struct {
	// ExtraTargets names additional module-qualified symbols to
	// substitute. Each must resolve to one of the standard connector
	// targets; re-exported references need their own substitution because
	// only references can be swapped, not definitions.
	ExtraTargets []string

	CreateDatabaseOnConnect bool
	CreateSchemaOnConnect   bool
	// DBPath uses existing database files from this directory, or creates
	// them there. Empty keeps everything in memory.
	DBPath string
	// NopRegexes lists case-insensitive patterns; matching statements
	// succeed without running. Useful to skip over statements the fake
	// does not understand yet.
	NopRegexes []string
}

func DefaultPatchOptions() PatchOptions {
	return PatchOptions{
		CreateDatabaseOnConnect: true,
		CreateSchemaOnConnect:   true,
	}
}

// Patcher is the deactivation handle of an active patch session.
type Patcher struct {
	session *intercept.Session
	engine  *engine.Engine
}

// Patch substitutes the standard connector targets, plus any extra
// targets, with fakes backed by a fresh engine. At most one session can
// be active per process; re-entering fails with ErrAlreadyPatched before
// any slot is touched. If setup fails partway, every substitution applied
// so far is reversed before the error returns.
func Patch(opts PatchOptions) (*Patcher, error) {
	eng, err := engine.New(engine.Options{
		CreateDatabaseOnConnect: opts.CreateDatabaseOnConnect,
		CreateSchemaOnConnect:   opts.CreateSchemaOnConnect,
		DBPath:                  opts.DBPath,
		NopRegexes:              opts.NopRegexes,
	})
	if err != nil {
		return nil, err
	}

	std := []intercept.Substitution{
		{
			Target: connector.TargetConnect,
			Fake: connector.ConnectFunc(func(ctx context.Context, cfg connector.Config) (connector.Conn, error) {
				return eng.Connect(ctx, cfg.Database, cfg.Schema)
			}),
		},
		{
			Target: connector.TargetWriteRows,
			Fake: connector.WriteRowsFunc(func(ctx context.Context, conn connector.Conn, table string, columns []string, rows [][]any) (int, error) {
				ec, ok := conn.(*engine.Conn)
				if !ok {
					return 0, errors.New("snowfake: write rows: connection was not opened through the fake")
				}
				return eng.WriteRows(ctx, ec, table, columns, rows)
			}),
		},
	}

	session, err := intercept.Default.OpenSession(std, opts.ExtraTargets)
	if err != nil {
		_ = eng.Close()
		return nil, err
	}
	return &Patcher{session: session, engine: eng}, nil
}

// Close restores every substituted reference in reverse order of
// application, then releases the session's engine. Safe to call more
// than once.
func (p *Patcher) Close() error {
	p.session.Close()
	// Engine release is best effort; restoration has already happened.
	return p.engine.Close()
}
