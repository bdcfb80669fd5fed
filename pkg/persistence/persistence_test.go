package persistence

import (
	"errors"
	"testing"
)

type snapshot struct {
	Log     []string `persistence:"log"`
	Ignored int
	Nested  struct {
		History []string `persistence:"history"`
	}
}

func TestStoreSaveLoadDelete(t *testing.T) {
	svc := NewJSONFileService(t.TempDir())
	store := svc.NewStore("activity", "wallet/abc", "log")

	var out []string
	if err := store.Load(&out); !errors.Is(err, ErrNotExists) {
		t.Fatalf("expected ErrNotExists, got %v", err)
	}

	if err := store.Save([]string{"a", "b"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := store.Load(&out); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out) != 2 || out[0] != "a" {
		t.Errorf("unexpected data: %v", out)
	}

	if err := store.Delete(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := store.Delete(); err != nil {
		t.Fatalf("second delete should be a no-op: %v", err)
	}
	if err := store.Load(&out); !errors.Is(err, ErrNotExists) {
		t.Errorf("expected ErrNotExists after delete, got %v", err)
	}
}

func TestSaveLoadFields(t *testing.T) {
	svc := NewJSONFileService(t.TempDir())

	in := snapshot{Log: []string{"x"}, Ignored: 7}
	in.Nested.History = []string{"h1", "h2"}
	if err := SaveFields(&in, "activity", "default", svc); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var out snapshot
	if err := LoadFields(&out, "activity", "default", svc); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out.Log) != 1 || out.Log[0] != "x" {
		t.Errorf("log = %v", out.Log)
	}
	if len(out.Nested.History) != 2 {
		t.Errorf("history = %v", out.Nested.History)
	}
	if out.Ignored != 0 {
		t.Error("untagged field should not be persisted")
	}

	var missing snapshot
	missing.Log = []string{"keep"}
	if err := LoadFields(&missing, "activity", "other", svc); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(missing.Log) != 1 || missing.Log[0] != "keep" {
		t.Error("missing keys should leave fields untouched")
	}

	if err := SaveFields(snapshot{}, "activity", "x", svc); err == nil {
		t.Error("expected error for non-pointer")
	}
}
