package intercept

import (
	"errors"
	"testing"
)

func TestRegisterRejectsDuplicates(t *testing.T) {
	s := NewSet()
	load := func(b *Binder) error { return b.Define("Fn", func() {}) }
	if err := s.Register("mod", load); err != nil {
		t.Fatalf("first register: %v", err)
	}
	if err := s.Register("mod", load); !errors.Is(err, ErrDuplicateModule) {
		t.Fatalf("second register error = %v, want ErrDuplicateModule", err)
	}
}

func TestRegisterRejectsEmptyNameAndNilLoader(t *testing.T) {
	s := NewSet()
	if err := s.Register("", func(b *Binder) error { return nil }); err == nil {
		t.Fatal("expected error for empty module name")
	}
	if err := s.Register("mod", nil); err == nil {
		t.Fatal("expected error for nil loader")
	}
}

func TestValueUnknownModule(t *testing.T) {
	s := NewSet()
	if _, err := s.Value("nope.Fn"); !errors.Is(err, ErrUnknownModule) {
		t.Fatalf("error = %v, want ErrUnknownModule", err)
	}
}

func TestValueMalformedTarget(t *testing.T) {
	s := NewSet()
	for _, qualified := range []string{"", "Fn", ".Fn", "mod."} {
		if _, err := s.Value(qualified); !errors.Is(err, ErrUnresolvedTarget) {
			t.Fatalf("Value(%q) error = %v, want ErrUnresolvedTarget", qualified, err)
		}
	}
}

func TestLoaderErrorIsNotCached(t *testing.T) {
	s := NewSet()
	fail := true
	s.MustRegister("flaky", func(b *Binder) error {
		if fail {
			return errors.New("boom")
		}
		return b.Define("Fn", func() string { return "ok" })
	})

	if _, err := s.Value("flaky.Fn"); err == nil {
		t.Fatal("expected load failure")
	}
	fail = false
	v, err := s.Value("flaky.Fn")
	if err != nil {
		t.Fatalf("second load: %v", err)
	}
	if got := v.(func() string)(); got != "ok" {
		t.Fatalf("symbol = %q, want ok", got)
	}
}

func TestModuleLoadsOnce(t *testing.T) {
	s := NewSet()
	loads := 0
	s.MustRegister("mod", func(b *Binder) error {
		loads++
		return b.Define("Fn", func() {})
	})
	if _, err := s.Value("mod.Fn"); err != nil {
		t.Fatalf("first resolve: %v", err)
	}
	if _, err := s.Value("mod.Fn"); err != nil {
		t.Fatalf("second resolve: %v", err)
	}
	if loads != 1 {
		t.Fatalf("loader ran %d times, want 1", loads)
	}
}

func TestAliasLoadsTargetModule(t *testing.T) {
	s := NewSet()
	s.MustRegister("core", func(b *Binder) error {
		return b.Define("Fn", func() string { return "core" })
	})
	s.MustRegister("alias", func(b *Binder) error {
		return b.Alias("Fn", "core.Fn")
	})

	v, err := s.Value("alias.Fn")
	if err != nil {
		t.Fatalf("resolve alias: %v", err)
	}
	if got := v.(func() string)(); got != "core" {
		t.Fatalf("alias.Fn = %q, want core", got)
	}
}

func TestBinderRejectsBadDefines(t *testing.T) {
	s := NewSet()
	s.MustRegister("bad-symbol", func(b *Binder) error {
		return b.Define("", func() {})
	})
	if _, err := s.Value("bad-symbol.Fn"); err == nil {
		t.Fatal("expected load failure for empty symbol")
	}

	s.MustRegister("nil-value", func(b *Binder) error {
		return b.Define("Fn", nil)
	})
	if _, err := s.Value("nil-value.Fn"); err == nil {
		t.Fatal("expected load failure for nil value")
	}
}
