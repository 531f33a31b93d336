package joinqueue

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func newTestQueue(t *testing.T) *Queue {
	t.Helper()
	return New(filepath.Join(t.TempDir(), "channels_to_join.txt"))
}

func TestAppendAndDrain(t *testing.T) {
	q := newTestQueue(t)

	for _, name := range []string{"alpha", "beta", "gamma"} {
		if err := q.Append(name); err != nil {
			t.Fatalf("Append(%q): %v", name, err)
		}
	}

	got, err := q.Drain()
	if err != nil {
		t.Fatalf("Drain: %v", err)
	}
	want := []string{"alpha", "beta", "gamma"}
	if len(got) != len(want) {
		t.Fatalf("Drain returned %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Drain[%d] = %q, want %q", i, got[i], want[i])
		}
	}

	// File should be empty after a drain.
	got, err = q.Drain()
	if err != nil {
		t.Fatalf("second Drain: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("second Drain returned %v, want empty", got)
	}
}

func TestAppendDeduplicates(t *testing.T) {
	q := newTestQueue(t)

	if err := q.Append("somechannel"); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := q.Append("SomeChannel"); err != nil {
		t.Fatalf("Append duplicate: %v", err)
	}
	if err := q.Append("#somechannel"); err != nil {
		t.Fatalf("Append duplicate with hash: %v", err)
	}

	got, err := q.Drain()
	if err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if len(got) != 1 || got[0] != "somechannel" {
		t.Fatalf("Drain = %v, want [somechannel]", got)
	}
}

func TestAppendRejectsEmpty(t *testing.T) {
	q := newTestQueue(t)
	if err := q.Append("   "); err == nil {
		t.Fatal("Append of blank name succeeded, want error")
	}
}

func TestDrainMissingFile(t *testing.T) {
	q := newTestQueue(t)
	got, err := q.Drain()
	if err != nil {
		t.Fatalf("Drain on missing file: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("Drain = %v, want empty", got)
	}
}

func TestDrainDeduplicatesManualEdits(t *testing.T) {
	q := newTestQueue(t)
	// Simulate a hand-edited file with duplicates, casing, and blanks.
	content := "Alpha\n\nbeta\nalpha\n #beta \n"
	if err := os.WriteFile(q.Path(), []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	got, err := q.Drain()
	if err != nil {
		t.Fatalf("Drain: %v", err)
	}
	want := []string{"alpha", "beta"}
	if len(got) != len(want) {
		t.Fatalf("Drain = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Drain[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestWatchSignalsOnAppend(t *testing.T) {
	q := newTestQueue(t)
	ctx := t.Context()

	events := q.Watch(ctx)
	// Give the watcher a moment to register before writing.
	time.Sleep(50 * time.Millisecond)

	if err := q.Append("watched"); err != nil {
		t.Fatalf("Append: %v", err)
	}

	select {
	case <-events:
	case <-time.After(2 * time.Second):
		t.Fatal("no watch event after append")
	}
}
