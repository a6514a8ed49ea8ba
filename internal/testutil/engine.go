package testutil

import (
	"context"
	"testing"

	"github.com/mkoering/snowfake/internal/engine"
)

func NewEngine(t *testing.T) (*engine.Engine, context.Context) {
	t.Helper()
	return NewEngineWithOptions(t, engine.DefaultOptions())
}

func NewEngineWithOptions(t *testing.T, opts engine.Options) (*engine.Engine, context.Context) {
	t.Helper()
	eng, err := engine.New(opts)
	if err != nil {
		t.Fatalf("open test engine: %v", err)
	}
	t.Cleanup(func() {
		_ = eng.Close()
	})
	return eng, context.Background()
}
