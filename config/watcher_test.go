package config

import (
	"context"
	"path/filepath"
	"slices"
	"testing"
	"time"
)

func TestWatcherEmitsEffectiveChanges(t *testing.T) {
	path := filepath.Join(t.TempDir(), fileName)
	f := sampleFile()
	if err := f.Save(path); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	changes, err := NewWatcher(NewFileSource(path), WithDebounce(20*time.Millisecond)).Watch(ctx)
	if err != nil {
		t.Fatalf("Watch() error: %v", err)
	}

	// Disabled-only edit: no change.
	f.Interfaces[1].TargetHost = "elsewhere.example"
	if err := f.Save(path); err != nil {
		t.Fatal(err)
	}
	select {
	case c := <-changes:
		t.Fatalf("unexpected change %v", c.Interfaces.Names())
	case <-time.After(200 * time.Millisecond):
	}

	f.Interfaces[1].Enabled = true
	if err := f.Save(path); err != nil {
		t.Fatal(err)
	}
	select {
	case c := <-changes:
		if want := []string{"Local", "Hub", "Radio"}; !slices.Equal(c.Interfaces.Names(), want) {
			t.Errorf("changed interfaces = %v, want %v", c.Interfaces.Names(), want)
		}
		if c.OldHash == c.NewHash || c.NewHash != f.Hash() {
			t.Errorf("hashes old=%s new=%s", c.OldHash, c.NewHash)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no change emitted")
	}

	cancel()
	select {
	case _, ok := <-changes:
		if ok {
			t.Error("unexpected change after cancel")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("change stream not closed after cancel")
	}
}

func TestWatcherMissingDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "absent", fileName)
	if _, err := NewWatcher(NewFileSource(path)).Watch(context.Background()); err == nil {
		t.Fatal("Watch() should fail when the directory does not exist")
	}
}
