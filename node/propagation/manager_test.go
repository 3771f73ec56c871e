package propagation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"meshnode"
	"meshnode/internal/watch"
)

type topicSource struct {
	topic watch.Topic[meshnode.Announce]
}

func (s *topicSource) SubscribeAnnounces(ctx context.Context) <-chan meshnode.Announce {
	return s.topic.Subscribe(ctx)
}

type storedAnnounces []meshnode.Announce

func (s storedAnnounces) Announces(context.Context) ([]meshnode.Announce, error) { return s, nil }

type relayStore struct {
	mu     sync.Mutex
	relay  string
	writes int
	err    error
}

func (s *relayStore) Relay(context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.relay, nil
}

func (s *relayStore) SetRelay(_ context.Context, hash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.relay = hash
	s.writes++
	return nil
}

func (s *relayStore) get() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.relay
}

var t0 = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func prop(hash string, hops int, at time.Duration) meshnode.Announce {
	return meshnode.Announce{DestinationHash: hash, Aspect: meshnode.AspectPropagation, Hops: hops, ReceivedAt: t0.Add(at)}
}

func TestCompare(t *testing.T) {
	tests := []struct {
		name string
		a, b meshnode.Announce
		want int
	}{
		{"fewer hops wins", prop("a", 1, 0), prop("b", 2, time.Hour), -1},
		{"more recent wins", prop("a", 2, time.Hour), prop("b", 2, 0), -1},
		{"hash breaks ties", prop("b", 2, 0), prop("a", 2, 0), 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := compare(tt.a, tt.b); got != tt.want {
				t.Errorf("compare: got %d, want %d", got, tt.want)
			}
		})
	}
}

func TestManagerSeedsFromStore(t *testing.T) {
	relays := &relayStore{}
	stored := storedAnnounces{
		prop("far", 4, 0),
		prop("near", 1, 0),
		{DestinationHash: "chat", Aspect: meshnode.AspectDelivery, Hops: 0},
	}
	m := New(&topicSource{}, stored, relays)
	ctx := context.Background()

	if err := m.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer m.Stop(ctx)

	if m.Relay() != "near" || relays.get() != "near" {
		t.Errorf("relay: got %q (stored %q), want near", m.Relay(), relays.get())
	}
	if n := len(m.Candidates()); n != 2 {
		t.Errorf("candidates: got %d, want 2", n)
	}
}

func TestManagerFollowsLiveAnnounces(t *testing.T) {
	src := &topicSource{}
	relays := &relayStore{relay: "old"}
	m := New(src, nil, relays)
	ctx := context.Background()

	if err := m.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer m.Stop(ctx)
	if m.Relay() != "old" {
		t.Fatalf("relay should load from store, got %q", m.Relay())
	}

	src.topic.Publish(prop("a", 3, 0))
	src.topic.Publish(prop("b", 1, 0))

	deadline := time.Now().Add(2 * time.Second)
	for relays.get() != "b" {
		if time.Now().After(deadline) {
			t.Fatalf("relay: got %q, want b", relays.get())
		}
		time.Sleep(time.Millisecond)
	}
}

func TestManagerPersistFailure(t *testing.T) {
	relays := &relayStore{err: errors.New("read-only")}
	m := New(&topicSource{}, storedAnnounces{prop("a", 1, 0)}, relays)
	ctx := context.Background()

	if err := m.Start(ctx); err != nil {
		t.Fatalf("persist failure must not fail start: %v", err)
	}
	defer m.Stop(ctx)
	if m.Relay() != "" {
		t.Errorf("unpersisted relay should not be selected, got %q", m.Relay())
	}
}

func TestObserveKeepsNewest(t *testing.T) {
	m := New(&topicSource{}, nil, &relayStore{})

	if !m.observe(prop("a", 3, time.Hour)) {
		t.Fatal("first announce should be recorded")
	}
	if m.observe(prop("a", 1, 0)) {
		t.Error("older announce should be ignored")
	}
	if got := m.Candidates()[0].Hops; got != 3 {
		t.Errorf("hops: got %d, want 3", got)
	}
}
