package eventlog

import (
	"os"
	"reflect"
	"testing"
)

func TestAppendAndReplay(t *testing.T) {
	dir := t.TempDir()
	store, err := New(dir)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer store.Close()

	records := [][]byte{
		[]byte(`{"type":"shapeAdded"}`),
		[]byte(`{"type":"shapeRemoved"}`),
	}
	for _, r := range records {
		if err := store.Append("canvas1", r); err != nil {
			t.Fatalf("Append() error = %v", err)
		}
	}

	got, err := store.Replay("canvas1")
	if err != nil {
		t.Fatalf("Replay() error = %v", err)
	}
	if !reflect.DeepEqual(got, records) {
		t.Fatalf("Replay() = %v, want %v", got, records)
	}
}

func TestReplayMissingCanvasReturnsEmpty(t *testing.T) {
	dir := t.TempDir()
	store, err := New(dir)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer store.Close()

	got, err := store.Replay("does-not-exist")
	if err != nil {
		t.Fatalf("Replay() error = %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("Replay() = %v, want empty", got)
	}
}

func TestReplayDropsTruncatedTrailingRecord(t *testing.T) {
	dir := t.TempDir()
	store, err := New(dir)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer store.Close()

	if err := store.Append("canvas1", []byte(`{"type":"a"}`)); err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	// Append a record with no trailing newline by writing directly.
	f, err := os.OpenFile(store.Path("canvas1"), os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		t.Fatalf("open for raw append: %v", err)
	}
	if _, err := f.Write([]byte(`{"type":"truncat`)); err != nil {
		t.Fatalf("raw write: %v", err)
	}
	f.Close()

	got, err := store.Replay("canvas1")
	if err != nil {
		t.Fatalf("Replay() error = %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("Replay() returned %d records, want 1 (truncated trailing record should be dropped)", len(got))
	}
}
