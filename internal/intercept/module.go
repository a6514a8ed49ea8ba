// Package intercept implements scoped substitution of connector entry
// points. Callers route through named symbol slots grouped into modules;
// a session swaps the slots for fakes and restores them on release.
package intercept

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
)

var (
	ErrAlreadyPatched   = errors.New("intercept: already patched")
	ErrUnknownModule    = errors.New("intercept: unknown module")
	ErrUnresolvedTarget = errors.New("intercept: unresolved target")
	ErrUnmappedTarget   = errors.New("intercept: unmapped target")
	ErrDuplicateModule  = errors.New("intercept: duplicate module")
)

// Mode reports whether a Set currently dispatches to real or fake targets.
type Mode string

const (
	ModeReal  Mode = "real"
	ModeFaked Mode = "faked"
)

// LoaderFunc binds the symbols of a module when it is first loaded.
type LoaderFunc func(b *Binder) error

// Set is a registry of modules and their symbol slots. A module is loaded
// at most once; loading runs its registered loader, whose binds may read
// other modules and trigger their loads in turn.
type Set struct {
	mu      sync.Mutex
	loaders map[string]LoaderFunc
	modules map[string]*module
	mode    Mode
	active  *Session
}

type module struct {
	name    string
	symbols map[string]any
}

// stub marks a substituted slot. Detection is by type rather than value
// identity because an alias bound while a session is active copies the
// stub itself, not the original underneath it.
type stub struct {
	fake     any
	original any
}

// Default backs the connector package. Tests construct private Sets.
var Default = NewSet()

func NewSet() *Set {
	return &Set{
		loaders: make(map[string]LoaderFunc),
		modules: make(map[string]*module),
		mode:    ModeReal,
	}
}

// Register makes a module loadable by name. The loader runs on first
// resolution of any of the module's symbols.
func (s *Set) Register(name string, load LoaderFunc) error {
	if strings.TrimSpace(name) == "" {
		return errors.New("intercept: empty module name")
	}
	if load == nil {
		return fmt.Errorf("intercept: nil loader for module %s", name)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.loaders[name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateModule, name)
	}
	s.loaders[name] = load
	return nil
}

// MustRegister is Register for package init blocks.
func (s *Set) MustRegister(name string, load LoaderFunc) {
	if err := s.Register(name, load); err != nil {
		panic(err)
	}
}

// Mode reports whether a patch session is active on the Set.
func (s *Set) Mode() Mode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

// Value resolves a module-qualified name to the callable currently bound
// to it, loading the module if needed and unwrapping any active
// substitution.
func (s *Set) Value(qualified string) (any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, err := s.lockedResolve(qualified)
	if err != nil {
		return nil, err
	}
	if st, ok := v.(stub); ok {
		return st.fake, nil
	}
	return v, nil
}

func (s *Set) lockedResolve(qualified string) (any, error) {
	m, symbol, err := s.lockedSplit(qualified)
	if err != nil {
		return nil, err
	}
	v, ok := m.symbols[symbol]
	if !ok {
		return nil, fmt.Errorf("%w: no module symbol %s", ErrUnresolvedTarget, qualified)
	}
	return v, nil
}

func (s *Set) lockedSplit(qualified string) (*module, string, error) {
	idx := strings.LastIndex(qualified, ".")
	if idx <= 0 || idx == len(qualified)-1 {
		return nil, "", fmt.Errorf("%w: malformed target %q", ErrUnresolvedTarget, qualified)
	}
	m, err := s.lockedModule(qualified[:idx])
	if err != nil {
		return nil, "", err
	}
	return m, qualified[idx+1:], nil
}

func (s *Set) lockedModule(name string) (*module, error) {
	if m, ok := s.modules[name]; ok {
		return m, nil
	}
	load, ok := s.loaders[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownModule, name)
	}
	m := &module{name: name, symbols: make(map[string]any)}
	// Registered before the loader runs so self-references resolve.
	s.modules[name] = m
	if err := load(&Binder{s: s, m: m}); err != nil {
		delete(s.modules, name)
		return nil, fmt.Errorf("load module %s: %w", name, err)
	}
	return m, nil
}

// Binder binds symbols within a loading module.
type Binder struct {
	s *Set
	m *module
}

// Define binds symbol to value.
func (b *Binder) Define(symbol string, value any) error {
	if strings.TrimSpace(symbol) == "" {
		return fmt.Errorf("intercept: empty symbol in module %s", b.m.name)
	}
	if value == nil {
		return fmt.Errorf("intercept: nil value for %s.%s", b.m.name, symbol)
	}
	b.m.symbols[symbol] = value
	return nil
}

// Alias binds symbol to the current value of a qualified name in another
// module, loading it if needed. The alias captures whatever is bound at
// load time; if that is an active substitution the alias carries the fake
// too, and the session records the underlying original for restoration.
func (b *Binder) Alias(symbol, qualified string) error {
	v, err := b.s.lockedResolve(qualified)
	if err != nil {
		return err
	}
	b.m.symbols[symbol] = v
	if st, ok := v.(stub); ok && b.s.active != nil {
		b.s.active.undo = append(b.s.active.undo, undoRecord{m: b.m, symbol: symbol, value: st.original})
	}
	return nil
}

// callableID keys originals by identity. Function values cannot be map
// keys, so the code pointer stands in; the standard targets are distinct
// functions, which keeps the keys unique.
func callableID(v any) uintptr {
	return reflect.ValueOf(v).Pointer()
}
