// Package connector is the entry-point surface applications call instead
// of a vendor SDK. Calls dispatch through named symbol slots, so a patch
// session can swap them for in-process fakes and restore them afterwards.
// Unpatched, Connect speaks the fake-server wire protocol over HTTP.
package connector

import (
	"context"
	"time"

	"github.com/mkoering/snowfake/internal/intercept"
)

// Standard targets substituted by every patch session. Wrapper packages
// that re-export these entry points register their own modules aliasing
// them; see RegisterModule.
const (
	ModuleName      = "connector"
	TargetConnect   = "connector.Connect"
	TargetWriteRows = "connector.WriteRows"
)

// Config carries connection parameters for one session.
type Config struct {
	User     string
	Password string
	Account  string
	Host     string
	Port     int
	Protocol string
	Database string
	Schema   string

	SessionParameters map[string]any
	NetworkTimeout    time.Duration
}

type Column struct {
	Name     string
	Type     string
	Nullable bool
}

// Result is the outcome of one executed statement.
type Result struct {
	QueryID  string
	Columns  []Column
	Rows     [][]any
	RowCount int64
}

// Conn is a live session against either the real endpoint or a fake.
type Conn interface {
	Execute(ctx context.Context, query string) (*Result, error)
	Close() error
}

// ConnectFunc opens a session. It is the callable bound to the Connect
// slot; fakes must carry the same type.
type ConnectFunc func(ctx context.Context, cfg Config) (Conn, error)

// WriteRowsFunc bulk-loads rows into a table over an open session.
type WriteRowsFunc func(ctx context.Context, conn Conn, table string, columns []string, rows [][]any) (int, error)

func init() {
	intercept.Default.MustRegister(ModuleName, func(b *intercept.Binder) error {
		if err := b.Define("Connect", ConnectFunc(httpConnect)); err != nil {
			return err
		}
		return b.Define("WriteRows", WriteRowsFunc(writeRows))
	})
}

// Connect opens a session using whatever is currently bound to the
// Connect slot.
func Connect(ctx context.Context, cfg Config) (Conn, error) {
	v, err := intercept.Default.Value(TargetConnect)
	if err != nil {
		return nil, err
	}
	return v.(ConnectFunc)(ctx, cfg)
}

// WriteRows bulk-loads rows using whatever is currently bound to the
// WriteRows slot.
func WriteRows(ctx context.Context, conn Conn, table string, columns []string, rows [][]any) (int, error) {
	v, err := intercept.Default.Value(TargetWriteRows)
	if err != nil {
		return 0, err
	}
	return v.(WriteRowsFunc)(ctx, conn, table, columns, rows)
}

// Faked reports whether a patch session is currently active.
func Faked() bool {
	return intercept.Default.Mode() == intercept.ModeFaked
}

// Binder binds symbols inside a module registered with RegisterModule.
type Binder struct {
	b *intercept.Binder
}

// Define binds symbol to a callable.
func (b *Binder) Define(symbol string, value any) error {
	return b.b.Define(symbol, value)
}

// Alias binds symbol to the current value of another module-qualified
// name, typically one of the standard targets.
func (b *Binder) Alias(symbol, qualified string) error {
	return b.b.Alias(symbol, qualified)
}

// RegisterModule registers a module of substitutable symbols. Wrapper
// packages that re-export connector entry points call this from init and
// dispatch through Lookup, which lets a patch session reach their
// re-exported references by qualified name.
func RegisterModule(name string, load func(*Binder) error) error {
	return intercept.Default.Register(name, func(b *intercept.Binder) error {
		return load(&Binder{b: b})
	})
}

// Lookup resolves a module-qualified name to the callable currently bound
// to it. Callers assert the concrete func type.
func Lookup(qualified string) (any, error) {
	return intercept.Default.Value(qualified)
}
