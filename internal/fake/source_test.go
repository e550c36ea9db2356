package fake

import (
	"context"
	"errors"
	"testing"
	"time"

	"pipesync/internal/fake/fault"
)

func TestSourceOpenReplaysSnapshotThenPushes(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	src := NewSource(nil)
	src.SetSnapshot("groups", CreateLine("g1", map[string]string{"id": "g1"}))

	st, err := src.Open(ctx, "groups")
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	src.Push("groups", DeleteLine("g1"))

	want := []string{
		string(CreateLine("g1", map[string]string{"id": "g1"})),
		string(EOQLine(1)),
		string(DeleteLine("g1")),
	}
	for i, w := range want {
		line, err := st.Next(ctx)
		if err != nil {
			t.Fatalf("Next() %d error = %v", i, err)
		}
		if string(line) != w {
			t.Fatalf("line %d = %q, want %q", i, line, w)
		}
	}

	src.Disconnect("groups")
	if _, err := st.Next(ctx); !errors.Is(err, ErrStreamClosed) {
		t.Fatalf("Next() after Disconnect error = %v, want ErrStreamClosed", err)
	}
	if got := len(src.Calls("Open")); got != 1 {
		t.Fatalf("Open calls = %d, want 1", got)
	}
}

func TestSourceOpenFault(t *testing.T) {
	faults := fault.NewInjector()
	injected := errors.New("refused")
	faults.FailOnce(FaultSourceOpen, injected)
	src := NewSource(faults)

	if _, err := src.Open(context.Background(), "nodes"); !errors.Is(err, injected) {
		t.Fatalf("Open() error = %v, want %v", err, injected)
	}
	if _, err := src.Open(context.Background(), "nodes"); err != nil {
		t.Fatalf("second Open() error = %v", err)
	}
	if got := src.Opens("nodes"); got != 1 {
		t.Fatalf("Opens() = %d, want 1", got)
	}
}

func TestSourceWaitOpens(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	src := NewSource(nil)

	done := make(chan error, 1)
	go func() { done <- src.WaitOpens(ctx, "projects", 2) }()

	for range 2 {
		if _, err := src.Open(ctx, "projects"); err != nil {
			t.Fatalf("Open() error = %v", err)
		}
	}
	if err := <-done; err != nil {
		t.Fatalf("WaitOpens() error = %v", err)
	}

	short, stop := context.WithTimeout(ctx, 20*time.Millisecond)
	defer stop()
	if err := src.WaitOpens(short, "projects", 3); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("WaitOpens() error = %v, want deadline exceeded", err)
	}
}

func TestSourceList(t *testing.T) {
	src := NewSource(nil)
	src.SetSnapshot("nodes",
		CreateLine("n1", map[string]string{"name": "n1"}),
		EOQLine(9),
		[]byte("not json\n"),
		CreateLine("n2", map[string]string{"name": "n2"}),
	)

	wires, err := src.List(context.Background(), "nodes")
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(wires) != 2 {
		t.Fatalf("List() returned %d wires, want 2", len(wires))
	}
	if got := *wires[1].Identifier; got != "n2" {
		t.Fatalf("second identifier = %q, want n2", got)
	}
}
