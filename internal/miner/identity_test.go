package miner

import (
	"errors"
	"testing"
)

func entry(path, id string, isDir bool) *Entry {
	return &Entry{Path: path, ResourceID: id, IsDir: isDir}
}

func newTable(t *testing.T, entries ...*Entry) *IdentityTable {
	t.Helper()
	table := NewIdentityTable()
	for _, e := range entries {
		if err := table.Add(e); err != nil {
			t.Fatalf("Add(%s) error = %v", e.Path, err)
		}
	}
	return table
}

func paths(entries []*Entry) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Path)
	}
	return out
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestIdentityTable_AddRejectsConflicts(t *testing.T) {
	table := newTable(t, entry("/r", "id-1", true))

	tests := []struct {
		name string
		e    *Entry
	}{
		{name: "same path", e: entry("/r", "id-2", true)},
		{name: "same id", e: entry("/other", "id-1", false)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := table.Add(tt.e)
			var conflict *IdentityConflictError
			if !errors.As(err, &conflict) {
				t.Fatalf("Add() error = %v, want IdentityConflictError", err)
			}
		})
	}
	if table.Len() != 1 {
		t.Errorf("Len() = %d, want 1", table.Len())
	}
}

func TestIdentityTable_ContentID(t *testing.T) {
	e := entry("/r/a.txt", "id-1", false)
	table := newTable(t, e)

	table.SetContentID(e, "ie-1")
	if table.ByID("ie-1") != e {
		t.Error("ByID(content) did not find the entry")
	}
	table.SetContentID(e, "ie-2")
	if table.ByID("ie-1") != nil {
		t.Error("old content id still resolves")
	}

	table.Remove("/r/a.txt")
	if table.ByID("id-1") != nil || table.ByID("ie-2") != nil || table.Get("/r/a.txt") != nil {
		t.Error("Remove() left lookups behind")
	}
}

func TestIdentityTable_Subtree(t *testing.T) {
	table := newTable(t,
		entry("/r", "1", true),
		entry("/r/b", "2", true),
		entry("/r/b/z.txt", "3", false),
		entry("/r/a.txt", "4", false),
		entry("/r/bb.txt", "5", false),
	)

	got := paths(table.Subtree("/r/b"))
	want := []string{"/r/b", "/r/b/z.txt"}
	if !equalStrings(got, want) {
		t.Errorf("Subtree(/r/b) = %v, want %v", got, want)
	}

	got = paths(table.Subtree("/r"))
	want = []string{"/r", "/r/a.txt", "/r/b", "/r/bb.txt", "/r/b/z.txt"}
	if !equalStrings(got, want) {
		t.Errorf("Subtree(/r) = %v, want %v", got, want)
	}

	got = paths(table.Under("/r/b"))
	want = []string{"/r/b", "/r/b/z.txt"}
	if !equalStrings(got, want) {
		t.Errorf("Under(/r/b) = %v, want %v", got, want)
	}

	if table.Subtree("/missing") != nil {
		t.Error("Subtree of unknown path should be nil")
	}
}

func TestIdentityTable_Move(t *testing.T) {
	dir := entry("/r/old", "1", true)
	file := entry("/r/old/f.txt", "2", false)
	table := newTable(t, entry("/r", "0", true), dir, file)

	moved := table.Move("/r/old", "/r/new")
	if len(moved) != 2 {
		t.Fatalf("Move() returned %d entries, want 2", len(moved))
	}
	if table.Get("/r/new/f.txt") != file || file.Path != "/r/new/f.txt" {
		t.Errorf("file not re-keyed: %s", file.Path)
	}
	if table.Get("/r/old") != nil || table.Get("/r/old/f.txt") != nil {
		t.Error("old paths still resolve")
	}
	if table.ByID("2") != file {
		t.Error("id lookup lost after move")
	}
	if got := paths(table.Children("/r")); !equalStrings(got, []string{"/r/new"}) {
		t.Errorf("Children(/r) = %v", got)
	}
}

func TestStateLabel(t *testing.T) {
	tests := []struct {
		state  ExtractionState
		reason string
		label  string
		parsed ExtractionState
	}{
		{state: StatePending, label: "pending", parsed: StatePending},
		{state: StateInProgress, label: "in_progress", parsed: StatePending},
		{state: StateDone, label: "done", parsed: StateDone},
		{state: StateFailed, label: "failed", parsed: StateFailed},
		{state: StateFailed, reason: ReasonTimeout, label: "failed:timeout", parsed: StateFailed},
	}
	for _, tt := range tests {
		t.Run(tt.label, func(t *testing.T) {
			e := &Entry{State: tt.state, Reason: tt.reason}
			if got := e.StateLabel(); got != tt.label {
				t.Errorf("StateLabel() = %q, want %q", got, tt.label)
			}
			state, reason := ParseStateLabel(tt.label)
			if state != tt.parsed || reason != tt.reason {
				t.Errorf("ParseStateLabel(%q) = %v, %q", tt.label, state, reason)
			}
		})
	}
}
