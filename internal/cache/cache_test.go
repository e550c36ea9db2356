package cache

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"pipesync/internal/change"

	"github.com/google/go-cmp/cmp"
)

// view rebuilds a mapping from the events an observer receives.
type view struct {
	mu      sync.Mutex
	entries map[string]int
	events  []change.Event[string, int]
}

func newView() *view { return &view{entries: map[string]int{}} }

func (v *view) observe(ev change.Event[string, int]) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.events = append(v.events, ev)
	switch ev.Kind {
	case change.KindCreate, change.KindUpdate:
		v.entries[ev.ID] = ev.Value
	case change.KindDelete:
		delete(v.entries, ev.ID)
	}
}

func (v *view) snapshot() map[string]int {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make(map[string]int, len(v.entries))
	for k, val := range v.entries {
		out[k] = val
	}
	return out
}

func (v *view) count() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.events)
}

func mustApply(t *testing.T, c *EntityCache[string, int], ev change.Event[string, int]) {
	t.Helper()
	if err := c.Apply(ev); err != nil {
		t.Fatalf("apply %s %s: %v", ev.Kind, ev.ID, err)
	}
}

func TestApply(t *testing.T) {
	tests := []struct {
		name   string
		events []change.Event[string, int]
		want   map[string]int
	}{
		{
			name:   "create then update overwrites",
			events: []change.Event[string, int]{change.Create("k", 1), change.Update("k", 2)},
			want:   map[string]int{"k": 2},
		},
		{
			name:   "update of unknown key inserts",
			events: []change.Event[string, int]{change.Update("k", 5)},
			want:   map[string]int{"k": 5},
		},
		{
			name:   "delete removes",
			events: []change.Event[string, int]{change.Create("a", 1), change.Create("b", 2), change.Delete[string, int]("a")},
			want:   map[string]int{"b": 2},
		},
		{
			name:   "delete of absent key is a no-op",
			events: []change.Event[string, int]{change.Create("a", 1), change.Delete[string, int]("zzz")},
			want:   map[string]int{"a": 1},
		},
		{
			name:   "delete on empty cache",
			events: []change.Event[string, int]{change.Delete[string, int]("a")},
			want:   map[string]int{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := New[string, int]("test")
			for _, ev := range tt.events {
				mustApply(t, c, ev)
			}
			if diff := cmp.Diff(tt.want, c.Snapshot()); diff != "" {
				t.Fatalf("snapshot mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestApplyRejectsMalformedWithoutCorruption(t *testing.T) {
	c := New[string, int]("test")
	mustApply(t, c, change.Create("a", 1))

	v := newView()
	if _, err := c.Subscribe(v.observe); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	bad := []change.Event[string, int]{
		{Kind: 42, ID: "a", Value: 9},
		{Kind: change.KindUpdate, ID: "", Value: 9},
	}
	for _, ev := range bad {
		if err := c.Apply(ev); !change.IsMalformed(err) {
			t.Fatalf("expected malformed error for %+v, got %v", ev, err)
		}
	}

	mustApply(t, c, change.Update("a", 2))
	if diff := cmp.Diff(map[string]int{"a": 2}, c.Snapshot()); diff != "" {
		t.Fatalf("snapshot mismatch (-want +got):\n%s", diff)
	}
	if got := v.count(); got != 2 {
		t.Fatalf("expected replay + one live event, got %d events", got)
	}
}

func TestDeleteOfAbsentKeyIsNotForwarded(t *testing.T) {
	c := New[string, int]("test")
	v := newView()
	if _, err := c.Subscribe(v.observe); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	mustApply(t, c, change.Delete[string, int]("ghost"))
	if got := v.count(); got != 0 {
		t.Fatalf("expected no events, got %d", got)
	}
}

func TestSubscribeReplayCompleteness(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 11))
	keys := []string{"a", "b", "c", "d", "e"}

	for round := range 50 {
		t.Run(fmt.Sprintf("round-%d", round), func(t *testing.T) {
			c := New[string, int]("test")
			total := 20 + rng.IntN(40)
			subscribeAt := rng.IntN(total)

			v := newView()
			for i := range total {
				if i == subscribeAt {
					if _, err := c.Subscribe(v.observe); err != nil {
						t.Fatalf("subscribe: %v", err)
					}
				}
				key := keys[rng.IntN(len(keys))]
				switch rng.IntN(3) {
				case 0:
					mustApply(t, c, change.Create(key, i))
				case 1:
					mustApply(t, c, change.Update(key, i))
				default:
					mustApply(t, c, change.Delete[string, int](key))
				}
			}

			if diff := cmp.Diff(c.Snapshot(), v.snapshot()); diff != "" {
				t.Fatalf("subscriber view diverged from snapshot (-snapshot +view):\n%s", diff)
			}
		})
	}
}

func TestSubscribeReplaysAsCreate(t *testing.T) {
	c := New[string, int]("test")
	mustApply(t, c, change.Create("a", 1))
	mustApply(t, c, change.Update("a", 3))
	mustApply(t, c, change.Create("b", 2))

	v := newView()
	replayed := -1
	if _, err := c.Subscribe(v.observe, OnReplayed(func(n int) { replayed = n })); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	if replayed != 2 {
		t.Fatalf("expected replay of 2 entries, got %d", replayed)
	}
	for _, ev := range v.events {
		if ev.Kind != change.KindCreate {
			t.Fatalf("replayed event %s should be a create", ev.Kind)
		}
	}
	if diff := cmp.Diff(map[string]int{"a": 3, "b": 2}, v.snapshot()); diff != "" {
		t.Fatalf("replay mismatch (-want +got):\n%s", diff)
	}
}

func TestObserversSeeEventsInApplyOrder(t *testing.T) {
	c := New[string, int]("test")
	first, second := newView(), newView()
	for _, v := range []*view{first, second} {
		if _, err := c.Subscribe(v.observe); err != nil {
			t.Fatalf("subscribe: %v", err)
		}
	}

	for i := range 10 {
		mustApply(t, c, change.Update("k", i))
	}
	if diff := cmp.Diff(first.events, second.events); diff != "" {
		t.Fatalf("observers disagree on order (-first +second):\n%s", diff)
	}
	for i, ev := range first.events {
		if ev.Value != i {
			t.Fatalf("event %d carried %d", i, ev.Value)
		}
	}
}

func TestCancelStopsDeliveryOnlyForThatObserver(t *testing.T) {
	c := New[string, int]("test")
	kept, dropped := newView(), newView()
	if _, err := c.Subscribe(kept.observe); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	sub, err := c.Subscribe(dropped.observe)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	mustApply(t, c, change.Create("a", 1))
	sub.Cancel()
	sub.Cancel()
	mustApply(t, c, change.Create("b", 2))

	if got := dropped.count(); got != 1 {
		t.Fatalf("cancelled observer got %d events, want 1", got)
	}
	if got := kept.count(); got != 2 {
		t.Fatalf("remaining observer got %d events, want 2", got)
	}
	select {
	case <-sub.Done():
	default:
		t.Fatalf("expected done channel to be closed after cancel")
	}
}

func TestCancelDuringConcurrentApply(t *testing.T) {
	for i := 0; i < 200; i++ {
		c := New[string, int]("test")
		v := newView()
		sub, err := c.Subscribe(v.observe)
		if err != nil {
			t.Fatalf("subscribe: %v", err)
		}

		stop := make(chan struct{})
		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			for n := 0; ; n++ {
				select {
				case <-stop:
					return
				default:
				}
				_ = c.Apply(change.Update("k", n))
			}
		}()

		time.Sleep(time.Duration(rand.IntN(200)) * time.Microsecond)
		sub.Cancel()
		// Any delivery begun before Cancel has finished once this returns.
		mustApply(t, c, change.Update("fence", i))
		settled := v.count()

		for n := 0; n < 10; n++ {
			mustApply(t, c, change.Update("k", -n))
		}
		close(stop)
		wg.Wait()

		if got := v.count(); got != settled {
			t.Fatalf("iteration %d: observer got %d events after cancel, want %d", i, got, settled)
		}
	}
}

func TestCancelFromInsideObserver(t *testing.T) {
	c := New[string, int]("test")
	var sub *Subscription[string, int]
	calls := 0
	sub, err := c.Subscribe(func(ev change.Event[string, int]) {
		calls++
		sub.Cancel()
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	mustApply(t, c, change.Create("a", 1))
	mustApply(t, c, change.Create("b", 2))
	if calls != 1 {
		t.Fatalf("expected exactly one delivery, got %d", calls)
	}
}

func TestObserverMaySubscribeToSameCache(t *testing.T) {
	c := New[string, int]("test")
	inner := newView()
	var once sync.Once
	_, err := c.Subscribe(func(ev change.Event[string, int]) {
		once.Do(func() {
			if _, err := c.Subscribe(inner.observe); err != nil {
				t.Errorf("nested subscribe: %v", err)
			}
		})
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	mustApply(t, c, change.Create("a", 1))
	mustApply(t, c, change.Create("b", 2))
	if diff := cmp.Diff(c.Snapshot(), inner.snapshot()); diff != "" {
		t.Fatalf("nested subscriber diverged (-snapshot +view):\n%s", diff)
	}
}

func TestObserverPanicDoesNotAffectOthers(t *testing.T) {
	c := New[string, int]("test")
	if _, err := c.Subscribe(func(change.Event[string, int]) { panic("boom") }); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	v := newView()
	if _, err := c.Subscribe(v.observe); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	mustApply(t, c, change.Create("a", 1))
	if got := v.count(); got != 1 {
		t.Fatalf("expected healthy observer to get the event, got %d", got)
	}
	if _, ok := c.Get("a"); !ok {
		t.Fatalf("expected entry to be applied")
	}
}

func TestConcurrentSubscribersConverge(t *testing.T) {
	c := New[string, int]("test")
	const writes = 2000

	var wg sync.WaitGroup
	views := make([]*view, 8)
	for i := range views {
		views[i] = newView()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := range writes {
			key := fmt.Sprintf("k%d", i%17)
			if i%5 == 4 {
				_ = c.Apply(change.Delete[string, int](key))
				continue
			}
			_ = c.Apply(change.Update(key, i))
		}
	}()
	for _, v := range views {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := c.Subscribe(v.observe); err != nil {
				t.Errorf("subscribe: %v", err)
			}
		}()
	}
	wg.Wait()

	want := c.Snapshot()
	for i, v := range views {
		if diff := cmp.Diff(want, v.snapshot()); diff != "" {
			t.Fatalf("view %d diverged (-snapshot +view):\n%s", i, diff)
		}
	}
}

func TestSnapshotIsACopy(t *testing.T) {
	c := New[string, int]("test")
	mustApply(t, c, change.Create("a", 1))

	snap := c.Snapshot()
	snap["a"] = 100
	snap["b"] = 2

	if v, _ := c.Get("a"); v != 1 {
		t.Fatalf("mutating snapshot leaked into cache: a=%d", v)
	}
	if c.Len() != 1 {
		t.Fatalf("expected 1 entry, got %d", c.Len())
	}
}

func TestClose(t *testing.T) {
	c := New[string, int]("test")
	mustApply(t, c, change.Create("a", 1))
	sub, err := c.Subscribe(func(change.Event[string, int]) {})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	c.Close()
	c.Close()

	if err := c.Apply(change.Create("b", 2)); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	if _, err := c.Subscribe(func(change.Event[string, int]) {}); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed on subscribe, got %v", err)
	}
	if got := c.Len(); got != 0 {
		t.Fatalf("expected entries to be discarded, got %d", got)
	}
	select {
	case <-sub.Done():
	case <-time.After(time.Second):
		t.Fatalf("expected subscription to be detached on close")
	}
}

func TestWatch(t *testing.T) {
	c := New[string, int]("test")
	mustApply(t, c, change.Create("a", 1))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events, err := c.Watch(ctx)
	if err != nil {
		t.Fatalf("watch: %v", err)
	}

	for i := range 100 {
		mustApply(t, c, change.Update("a", i+2))
	}

	got := recv(t, events)
	if got.Kind != change.KindCreate || got.Value != 1 {
		t.Fatalf("expected replayed create first, got %+v", got)
	}
	for i := range 100 {
		got = recv(t, events)
		if got.Value != i+2 {
			t.Fatalf("event %d: got value %d, want %d", i, got.Value, i+2)
		}
	}

	cancel()
	select {
	case _, ok := <-events:
		if ok {
			t.Fatalf("expected channel to be closed after cancel")
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for channel close")
	}
}

func TestWatchClosesWithCache(t *testing.T) {
	c := New[string, int]("test")
	events, err := c.Watch(context.Background())
	if err != nil {
		t.Fatalf("watch: %v", err)
	}
	c.Close()

	select {
	case _, ok := <-events:
		if ok {
			t.Fatalf("expected no events after close")
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for channel close")
	}
}

func recv(t *testing.T, ch <-chan change.Event[string, int]) change.Event[string, int] {
	t.Helper()
	select {
	case ev, ok := <-ch:
		if !ok {
			t.Fatalf("channel closed early")
		}
		return ev
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for event")
	}
	return change.Event[string, int]{}
}
