package intercept

import (
	"errors"
	"fmt"
	"sync"
)

// Substitution pairs one standard target with the fake that replaces it.
type Substitution struct {
	Target string
	Fake   any
}

type undoRecord struct {
	m      *module
	symbol string
	value  any
}

// Session holds the substitutions applied by one patch scope, in order of
// application. Close restores them in reverse order.
type Session struct {
	set  *Set
	undo []undoRecord
	once sync.Once
}

// OpenSession substitutes the standard targets plus any extra targets.
// Extra targets must resolve to one of the standard originals; a symbol
// can be re-exported under several qualified names, and each name routes
// to the same fake. On any failure every substitution applied so far is
// undone before the error is returned.
func (s *Set) OpenSession(std []Substitution, extra []string) (*Session, error) {
	if len(std) == 0 {
		return nil, errors.New("intercept: no standard targets")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.mode == ModeFaked {
		return nil, fmt.Errorf("%w: session still active", ErrAlreadyPatched)
	}
	primary, err := s.lockedResolve(std[0].Target)
	if err != nil {
		return nil, err
	}
	if _, ok := primary.(stub); ok {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyPatched, std[0].Target)
	}

	// Fake registry: original callable identity -> fake. Built once, from
	// the live values of the standard targets.
	fakes := make(map[uintptr]any, len(std))
	targets := make([]string, 0, len(std)+len(extra))
	for _, sub := range std {
		v, err := s.lockedResolve(sub.Target)
		if err != nil {
			return nil, err
		}
		if sub.Fake == nil {
			return nil, fmt.Errorf("intercept: nil fake for %s", sub.Target)
		}
		fakes[callableID(v)] = sub.Fake
		targets = append(targets, sub.Target)
	}
	targets = append(targets, extra...)

	sess := &Session{set: s}
	s.mode = ModeFaked
	s.active = sess
	for _, target := range targets {
		if err := sess.lockedApply(target, fakes); err != nil {
			sess.lockedRelease()
			s.mode = ModeReal
			s.active = nil
			return nil, err
		}
	}
	return sess, nil
}

func (sess *Session) lockedApply(target string, fakes map[uintptr]any) error {
	m, symbol, err := sess.set.lockedSplit(target)
	if err != nil {
		return err
	}
	v, ok := m.symbols[symbol]
	if !ok {
		return fmt.Errorf("%w: no module symbol %s", ErrUnresolvedTarget, target)
	}
	if _, ok := v.(stub); ok {
		// Loading a module earlier in this pass can alias a target that is
		// already substituted; it is covered, not an error.
		return nil
	}
	fake, ok := fakes[callableID(v)]
	if !ok {
		return fmt.Errorf("%w: %s does not resolve to a standard target", ErrUnmappedTarget, target)
	}
	m.symbols[symbol] = stub{fake: fake, original: v}
	sess.undo = append(sess.undo, undoRecord{m: m, symbol: symbol, value: v})
	return nil
}

func (sess *Session) lockedRelease() {
	for i := len(sess.undo) - 1; i >= 0; i-- {
		r := sess.undo[i]
		r.m.symbols[r.symbol] = r.value
	}
	sess.undo = nil
}

// Close restores every substituted slot in reverse order of application.
// Safe to call more than once.
func (sess *Session) Close() {
	sess.once.Do(func() {
		sess.set.mu.Lock()
		defer sess.set.mu.Unlock()
		sess.lockedRelease()
		sess.set.mode = ModeReal
		sess.set.active = nil
	})
}
