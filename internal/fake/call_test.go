package fake

import (
	"context"
	"errors"
	"slices"
	"testing"
)

func TestCallRecorder_Record(t *testing.T) {
	var r CallRecorder

	r.record("Foo", "a", 1)
	r.record("Bar", "b")
	r.record("Foo", "c")

	if len(r.Calls("")) != 3 {
		t.Fatalf("expected 3 calls, got %d", len(r.Calls("")))
	}
	foos := r.Calls("Foo")
	if len(foos) != 2 {
		t.Fatalf("expected 2 Foo calls, got %d", len(foos))
	}
	if foos[0].Args[0] != "a" {
		t.Errorf("expected first Foo arg 'a', got %v", foos[0].Args[0])
	}
	if r.Count("Baz") != 0 {
		t.Errorf("expected 0 Baz calls, got %d", r.Count("Baz"))
	}

	r.Reset()
	if len(r.Calls("")) != 0 {
		t.Errorf("expected 0 calls after reset, got %d", len(r.Calls("")))
	}
}

func TestSequence_SharedAcrossFakes(t *testing.T) {
	ctx := context.Background()
	var seq Sequence

	rt := NewRuntime()
	rt.Attach(&seq, "runtime")
	col := &Collector{}
	col.Attach(&seq, "collector")

	_ = col.StopCollecting(ctx)
	_ = rt.Shutdown(ctx)
	_ = col.StartCollecting(ctx)

	want := []string{"collector.StopCollecting", "runtime.Shutdown", "collector.StartCollecting"}
	if got := seq.Entries(); !slices.Equal(got, want) {
		t.Errorf("sequence: got %v, want %v", got, want)
	}
}

func TestFaults(t *testing.T) {
	ctx := context.Background()
	rt := NewRuntime()
	once := errors.New("once")
	always := errors.New("always")

	rt.FailOnce("Shutdown", once)
	rt.FailAlways("Shutdown", always)

	if err := rt.Shutdown(ctx); !errors.Is(err, once) {
		t.Errorf("first Shutdown: got %v, want once", err)
	}
	if err := rt.Shutdown(ctx); !errors.Is(err, always) {
		t.Errorf("second Shutdown: got %v, want always", err)
	}
	if !rt.Running() {
		t.Error("runtime should still be running after failed shutdowns")
	}

	rt.Clear()
	if err := rt.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown after Clear: %v", err)
	}
	if rt.Running() {
		t.Error("runtime should be stopped")
	}
}
