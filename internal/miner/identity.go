package miner

import (
	"path/filepath"
	"sort"
	"strings"
)

// ExtractionState tracks content extraction for a file entry.
type ExtractionState int

const (
	StatePending ExtractionState = iota
	StateInProgress
	StateDone
	StateFailed
)

func (s ExtractionState) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateInProgress:
		return "in_progress"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Entry is the synchronizer's record of one indexed path.
type Entry struct {
	Path       string
	ResourceID string
	// ContentID is the InformationElement stored-as this entry, once
	// extraction has succeeded. It is kept across re-extraction.
	ContentID string
	ParentID  string
	SourceID  string

	Fingerprint  string
	State        ExtractionState
	Reason       string
	IsDir        bool
	TextEligible bool
	MIME         string
	Graph        string

	// touched is the synchronizer sequence number of the last event that
	// confirmed this entry on disk.
	touched uint64
}

// URI returns the entry's file:// URI.
func (e *Entry) URI() string {
	return URIFromPath(e.Path)
}

// StateLabel renders the persisted extraction state, e.g. "failed:timeout".
func (e *Entry) StateLabel() string {
	if e.State == StateFailed && e.Reason != "" {
		return "failed:" + e.Reason
	}
	return e.State.String()
}

// ParseStateLabel is the inverse of Entry.StateLabel. In-progress states
// come back as pending since no extraction survives a restart.
func ParseStateLabel(label string) (ExtractionState, string) {
	switch {
	case label == "done":
		return StateDone, ""
	case label == "failed":
		return StateFailed, ""
	case strings.HasPrefix(label, "failed:"):
		return StateFailed, strings.TrimPrefix(label, "failed:")
	default:
		return StatePending, ""
	}
}

// IdentityTable maps paths to resource identities. It is owned by the
// synchronizer goroutine and is not safe for concurrent use.
type IdentityTable struct {
	byPath   map[string]*Entry
	byID     map[string]*Entry
	children map[string]map[string]*Entry
}

func NewIdentityTable() *IdentityTable {
	return &IdentityTable{
		byPath:   make(map[string]*Entry),
		byID:     make(map[string]*Entry),
		children: make(map[string]map[string]*Entry),
	}
}

// Len returns the number of entries.
func (t *IdentityTable) Len() int { return len(t.byPath) }

// Get returns the entry for a path, or nil.
func (t *IdentityTable) Get(path string) *Entry { return t.byPath[path] }

// ByID returns the entry owning a DataObject or content resource id, or nil.
func (t *IdentityTable) ByID(id string) *Entry { return t.byID[id] }

// Add inserts an entry. Two entries never share a path or a resource id.
func (t *IdentityTable) Add(e *Entry) error {
	if existing, ok := t.byPath[e.Path]; ok {
		return &IdentityConflictError{URI: e.URI(), ResourceID: e.ResourceID, Existing: existing.ResourceID}
	}
	if existing, ok := t.byID[e.ResourceID]; ok {
		return &IdentityConflictError{URI: e.URI(), ResourceID: e.ResourceID, Existing: existing.URI()}
	}
	t.byPath[e.Path] = e
	t.byID[e.ResourceID] = e
	if e.ContentID != "" {
		t.byID[e.ContentID] = e
	}
	t.link(e)
	return nil
}

// SetContentID records the InformationElement of an entry.
func (t *IdentityTable) SetContentID(e *Entry, id string) {
	if e.ContentID != "" {
		delete(t.byID, e.ContentID)
	}
	e.ContentID = id
	if id != "" {
		t.byID[id] = e
	}
}

// Remove drops a single entry. Children are left in place.
func (t *IdentityTable) Remove(path string) {
	e, ok := t.byPath[path]
	if !ok {
		return
	}
	delete(t.byPath, path)
	delete(t.byID, e.ResourceID)
	if e.ContentID != "" {
		delete(t.byID, e.ContentID)
	}
	t.unlink(e)
}

// Children returns the direct children of a directory sorted by path.
func (t *IdentityTable) Children(path string) []*Entry {
	kids := t.children[path]
	out := make([]*Entry, 0, len(kids))
	for _, e := range kids {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

// Subtree returns the entry at path and all of its descendants, parents
// before children. It follows containment in the table, not the disk.
func (t *IdentityTable) Subtree(path string) []*Entry {
	root := t.byPath[path]
	if root == nil {
		return nil
	}
	out := []*Entry{root}
	for i := 0; i < len(out); i++ {
		if out[i].IsDir {
			out = append(out, t.Children(out[i].Path)...)
		}
	}
	return out
}

// Move re-keys the subtree at from to live under to and returns the moved
// entries, parents first.
func (t *IdentityTable) Move(from, to string) []*Entry {
	sub := t.Subtree(from)
	for _, e := range sub {
		delete(t.byPath, e.Path)
		t.unlink(e)
	}
	for _, e := range sub {
		e.Path = Reparent(e.Path, from, to)
		t.byPath[e.Path] = e
		t.link(e)
	}
	return sub
}

// All returns every entry sorted by path.
func (t *IdentityTable) All() []*Entry {
	out := make([]*Entry, 0, len(t.byPath))
	for _, e := range t.byPath {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

// Under returns every entry at or beneath dir sorted by path.
func (t *IdentityTable) Under(dir string) []*Entry {
	var out []*Entry
	for p, e := range t.byPath {
		if IsUnder(p, dir) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

func (t *IdentityTable) link(e *Entry) {
	dir := filepath.Dir(e.Path)
	kids := t.children[dir]
	if kids == nil {
		kids = make(map[string]*Entry)
		t.children[dir] = kids
	}
	kids[e.Path] = e
}

func (t *IdentityTable) unlink(e *Entry) {
	dir := filepath.Dir(e.Path)
	if kids := t.children[dir]; kids != nil {
		delete(kids, e.Path)
		if len(kids) == 0 {
			delete(t.children, dir)
		}
	}
}
