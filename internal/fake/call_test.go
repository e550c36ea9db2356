package fake

import "testing"

func TestCallRecorder(t *testing.T) {
	var r CallRecorder

	r.record("Open", "groups")
	r.record("List", "projects")
	r.record("Open", "nodes")

	if all := r.Calls(""); len(all) != 3 {
		t.Fatalf("expected 3 calls, got %d", len(all))
	}
	opens := r.Calls("Open")
	if len(opens) != 2 {
		t.Fatalf("expected 2 Open calls, got %d", len(opens))
	}
	if opens[1].Args[0] != "nodes" {
		t.Errorf("expected second Open arg 'nodes', got %v", opens[1].Args[0])
	}

	r.Reset()
	if all := r.Calls(""); len(all) != 0 {
		t.Fatalf("expected no calls after reset, got %d", len(all))
	}
}
