package fault

import (
	"errors"
	"testing"
)

const testPoint = "source.open"

func TestInjectorFailOnce(t *testing.T) {
	i := NewInjector()
	injected := errors.New("injected once")
	i.FailOnce(testPoint, injected)

	if err := i.Eval(testPoint); !errors.Is(err, injected) {
		t.Fatalf("first Eval error = %v, want %v", err, injected)
	}
	if err := i.Eval(testPoint); err != nil {
		t.Fatalf("second Eval error = %v, want nil", err)
	}
	if got := i.Hits(testPoint); got != 1 {
		t.Fatalf("hits = %d, want 1", got)
	}
}

func TestInjectorFailTimes(t *testing.T) {
	i := NewInjector()
	injected := errors.New("flaky")
	i.FailTimes(testPoint, 3, injected)

	for n := range 3 {
		if err := i.Eval(testPoint); !errors.Is(err, injected) {
			t.Fatalf("Eval %d error = %v, want %v", n, err, injected)
		}
	}
	if err := i.Eval(testPoint); err != nil {
		t.Fatalf("Eval after queue drained = %v, want nil", err)
	}
}

func TestInjectorFailAlwaysAndClear(t *testing.T) {
	i := NewInjector()
	injected := errors.New("down")
	i.FailAlways(testPoint, injected)

	for range 2 {
		if err := i.Eval(testPoint); !errors.Is(err, injected) {
			t.Fatalf("Eval error = %v, want %v", err, injected)
		}
	}

	i.Clear(testPoint)
	if err := i.Eval(testPoint); err != nil {
		t.Fatalf("Eval after Clear = %v, want nil", err)
	}
}

func TestInjectorHookSeesArgs(t *testing.T) {
	i := NewInjector()
	injected := errors.New("bad topic")
	calls := 0
	i.SetHook(testPoint, func(args ...any) error {
		calls++
		if topic, _ := args[0].(string); topic == "nodes" {
			return injected
		}
		return nil
	})

	if err := i.Eval(testPoint, "nodes"); !errors.Is(err, injected) {
		t.Fatalf("Eval nodes error = %v, want %v", err, injected)
	}
	if err := i.Eval(testPoint, "groups"); err != nil {
		t.Fatalf("Eval groups error = %v, want nil", err)
	}
	if calls != 2 {
		t.Fatalf("hook called %d times, want 2", calls)
	}
}

func TestInjectorReset(t *testing.T) {
	i := NewInjector()
	i.FailAlways("a", errors.New("a"))
	i.FailAlways("b", errors.New("b"))
	i.Reset()

	if err := i.Eval("a"); err != nil {
		t.Fatalf("Eval a after Reset = %v", err)
	}
	if err := i.Eval("b"); err != nil {
		t.Fatalf("Eval b after Reset = %v", err)
	}
}
