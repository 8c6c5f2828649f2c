package store

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/mattn/go-sqlite3"

	"fsgraph/internal/miner"
)

// newTestStore creates a migrated in-memory store indexing nie:plainTextContent.
func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	s, err := NewSQLiteStore(":memory:", Options{
		FullText:      []string{"nie:plainTextContent"},
		Stopwords:     []string{"the"},
		MinTermLength: 2,
	})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	if err := s.MigrateUp(); err != nil {
		s.Close()
		t.Fatalf("failed to migrate store: %v", err)
	}

	t.Cleanup(func() {
		s.Close()
	})
	return s
}

func patternAll() miner.Pattern { return miner.Pattern{} }

func mustUpdate(t *testing.T, s *SQLiteStore, mutations ...miner.Mutation) {
	t.Helper()
	if err := s.Update(context.Background(), mutations); err != nil {
		t.Fatalf("Update() error = %v", err)
	}
}

func objects(stmts []miner.Statement) []string {
	out := make([]string, 0, len(stmts))
	for _, st := range stmts {
		out = append(out, st.Object.Lexical)
	}
	return out
}

func TestSQLiteStore_InsertAndQuery(t *testing.T) {
	ctx := context.Background()

	t.Run("returns statements in insertion order with kinds", func(t *testing.T) {
		s := newTestStore(t)
		mustUpdate(t, s,
			miner.Insert("a", "nfo:fileName", miner.StringValue("one.txt"), "g"),
			miner.Insert("a", "nfo:fileSize", miner.IntValue(42), "g"),
			miner.Insert("a", "nfo:belongsToContainer", miner.RefValue("d"), "g"),
		)

		got, err := s.Query(ctx, miner.Pattern{Subject: "a"})
		if err != nil {
			t.Fatalf("Query() error = %v", err)
		}
		if len(got) != 3 {
			t.Fatalf("len = %d, want 3", len(got))
		}
		if got[1].Object.Kind != miner.KindInt || got[1].Object.Lexical != "42" {
			t.Errorf("fileSize = %+v", got[1].Object)
		}
		if got[2].Object.Kind != miner.KindRef || got[2].Graph != "g" {
			t.Errorf("container = %+v", got[2])
		}
	})

	t.Run("duplicate insert is ignored", func(t *testing.T) {
		s := newTestStore(t)
		ins := miner.Insert("a", "rdf:type", miner.RefValue("nfo:Folder"), "g")
		mustUpdate(t, s, ins, ins)
		got, _ := s.Query(ctx, miner.Pattern{Subject: "a"})
		if len(got) != 1 {
			t.Errorf("len = %d, want 1", len(got))
		}
	})

	t.Run("object pattern matches kind and lexical", func(t *testing.T) {
		s := newTestStore(t)
		mustUpdate(t, s,
			miner.Insert("a", "p", miner.StringValue("x"), "g"),
			miner.Insert("b", "p", miner.RefValue("x"), "g"),
		)
		ref := miner.RefValue("x")
		got, err := s.Query(ctx, miner.Pattern{Predicate: "p", Object: &ref})
		if err != nil {
			t.Fatalf("Query() error = %v", err)
		}
		if len(got) != 1 || got[0].Subject != "b" {
			t.Errorf("got %+v, want only b", got)
		}
	})
}

func TestSQLiteStore_Set(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	mustUpdate(t, s,
		miner.Insert("a", "tag", miner.StringValue("x"), "g1"),
		miner.Insert("a", "tag", miner.StringValue("y"), "g1"),
		miner.Insert("a", "tag", miner.StringValue("z"), "g2"),
	)
	mustUpdate(t, s, miner.Set("a", "tag", miner.StringValue("new"), "g1"))

	g1, _ := s.Query(ctx, miner.Pattern{Subject: "a", Graph: "g1"})
	if fmt.Sprint(objects(g1)) != "[new]" {
		t.Errorf("g1 objects = %v, want [new]", objects(g1))
	}
	g2, _ := s.Query(ctx, miner.Pattern{Subject: "a", Graph: "g2"})
	if fmt.Sprint(objects(g2)) != "[z]" {
		t.Errorf("g2 objects = %v, want [z]", objects(g2))
	}
}

func TestSQLiteStore_Remove(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name      string
		predicate string
		graph     string
		want      int
	}{
		{name: "everything about the subject", want: 0},
		{name: "one predicate in every graph", predicate: "p1", want: 1},
		{name: "one graph", graph: "g1", want: 1},
		{name: "one predicate in one graph", predicate: "p1", graph: "g1", want: 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestStore(t)
			mustUpdate(t, s,
				miner.Insert("a", "p1", miner.StringValue("x"), "g1"),
				miner.Insert("a", "p1", miner.StringValue("x"), "g2"),
				miner.Insert("a", "p2", miner.StringValue("x"), "g1"),
			)
			mustUpdate(t, s, miner.Remove("a", tt.predicate, tt.graph))
			got, _ := s.Query(ctx, miner.Pattern{Subject: "a"})
			if len(got) != tt.want {
				t.Errorf("remaining = %d, want %d", len(got), tt.want)
			}
		})
	}
}

func TestSQLiteStore_Delete(t *testing.T) {
	ctx := context.Background()

	t.Run("removes statements about and referring to the subject", func(t *testing.T) {
		s := newTestStore(t)
		mustUpdate(t, s,
			miner.Insert("file", "nie:url", miner.StringValue("file:///r/a.txt"), "fs"),
			miner.Insert("ie", "nie:isStoredAs", miner.RefValue("file"), "docs"),
			miner.Insert("ie", "nie:title", miner.StringValue("file"), "docs"),
		)
		mustUpdate(t, s, miner.Delete("file"))

		if ok, _ := s.Ask(ctx, miner.Pattern{Subject: "file"}); ok {
			t.Error("statements about file remain")
		}
		ref := miner.RefValue("file")
		if ok, _ := s.Ask(ctx, miner.Pattern{Object: &ref}); ok {
			t.Error("references to file remain")
		}
		str := miner.StringValue("file")
		if ok, _ := s.Ask(ctx, miner.Pattern{Object: &str}); !ok {
			t.Error("string literal equal to the id must not be deleted")
		}
	})

	t.Run("delete referrers cascades", func(t *testing.T) {
		s := newTestStore(t)
		mustUpdate(t, s,
			miner.Insert("file", "nie:url", miner.StringValue("file:///r/a.txt"), "fs"),
			miner.Insert("ie1", "nie:isStoredAs", miner.RefValue("file"), "docs"),
			miner.Insert("ie1", "nie:plainTextContent", miner.StringValue("hello world"), "docs"),
			miner.Insert("ie2", "nie:isStoredAs", miner.RefValue("file"), "pics"),
			miner.Insert("other", "nie:isStoredAs", miner.RefValue("elsewhere"), "docs"),
		)
		mustUpdate(t, s, miner.DeleteReferrers("nie:isStoredAs", "file"), miner.Delete("file"))

		got, _ := s.Query(ctx, patternAll())
		if len(got) != 1 || got[0].Subject != "other" {
			t.Errorf("remaining = %+v, want only other", got)
		}
		hits, _ := s.Search(ctx, "hello", 0)
		if len(hits) != 0 {
			t.Errorf("search after delete = %v, want none", hits)
		}
	})
}

func TestSQLiteStore_Search(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	mustUpdate(t, s,
		miner.Insert("ie1", "nie:plainTextContent", miner.StringValue("The Automobile is red"), "docs"),
		miner.Insert("ie2", "nie:plainTextContent", miner.StringValue("a red bicycle"), "docs"),
		miner.Insert("ie3", "nie:title", miner.StringValue("automobile"), "docs"),
	)

	tests := []struct {
		query string
		want  string
	}{
		{query: "automobile", want: "[ie1]"},
		{query: "AUTOMOBILE", want: "[ie1]"},
		{query: "red", want: "[ie1 ie2]"},
		{query: "red automobile", want: "[ie1]"},
		{query: "red truck", want: "[]"},
		{query: "the", want: "[]"},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			got, err := s.Search(ctx, tt.query, 0)
			if err != nil {
				t.Fatalf("Search() error = %v", err)
			}
			if fmt.Sprint(got) != tt.want {
				t.Errorf("Search(%q) = %v, want %s", tt.query, got, tt.want)
			}
		})
	}

	t.Run("limit", func(t *testing.T) {
		got, _ := s.Search(ctx, "red", 1)
		if len(got) != 1 {
			t.Errorf("len = %d, want 1", len(got))
		}
	})

	t.Run("reindexed on change", func(t *testing.T) {
		mustUpdate(t, s, miner.Set("ie2", "nie:plainTextContent", miner.StringValue("green automobile"), "docs"))
		got, _ := s.Search(ctx, "automobile", 0)
		if fmt.Sprint(got) != "[ie1 ie2]" {
			t.Errorf("Search = %v, want [ie1 ie2]", got)
		}
		got, _ = s.Search(ctx, "bicycle", 0)
		if len(got) != 0 {
			t.Errorf("stale terms remain: %v", got)
		}
	})
}

func TestSQLiteStore_Subscribe(t *testing.T) {
	s := newTestStore(t)
	events, cancel := s.Subscribe()
	defer cancel()

	mustUpdate(t, s, miner.Insert("a", "p", miner.StringValue("1"), "g"))
	mustUpdate(t, s, miner.Set("a", "p", miner.StringValue("2"), "g"))
	mustUpdate(t, s, miner.Delete("a"))
	mustUpdate(t, s, miner.Remove("never-existed", "", ""))

	want := []miner.GraphEvent{
		{Subject: "a", Kind: miner.GraphCreated},
		{Subject: "a", Kind: miner.GraphUpdated},
		{Subject: "a", Kind: miner.GraphDeleted},
	}
	for i, w := range want {
		select {
		case got := <-events:
			if got != w {
				t.Errorf("event %d = %+v, want %+v", i, got, w)
			}
		default:
			t.Fatalf("event %d missing", i)
		}
	}
	select {
	case ev := <-events:
		t.Errorf("unexpected event %+v", ev)
	default:
	}

	cancel()
	if _, ok := <-events; ok {
		t.Error("channel should be closed after cancel")
	}
}

func TestSQLiteStore_FailedUpdateIsAtomic(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	err := s.Update(ctx, []miner.Mutation{
		miner.Insert("a", "p", miner.StringValue("1"), "g"),
		{Op: miner.MutationOp(99)},
	})
	if err == nil {
		t.Fatal("Update() expected error for unknown op")
	}
	var se *miner.StoreError
	if !errors.As(err, &se) || se.Transient {
		t.Errorf("error = %v, want permanent *miner.StoreError", err)
	}
	if ok, _ := s.Ask(ctx, miner.Pattern{Subject: "a"}); ok {
		t.Error("partial update was committed")
	}
}

func TestStoreError(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		transient bool
	}{
		{name: "busy", err: sqlite3.Error{Code: sqlite3.ErrBusy}, transient: true},
		{name: "locked wrapped", err: fmt.Errorf("committing: %w", sqlite3.Error{Code: sqlite3.ErrLocked}), transient: true},
		{name: "constraint", err: sqlite3.Error{Code: sqlite3.ErrConstraint}},
		{name: "plain", err: errors.New("boom")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := miner.IsTransient(storeError(tt.err)); got != tt.transient {
				t.Errorf("IsTransient = %v, want %v", got, tt.transient)
			}
		})
	}
}

func TestSQLiteStore_BackupTo(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	mustUpdate(t, s, miner.Insert("a", "nie:plainTextContent", miner.StringValue("backup me"), "g"))

	dest := filepath.Join(t.TempDir(), "backup.db")
	if err := s.BackupTo(dest); err != nil {
		t.Fatalf("BackupTo() error = %v", err)
	}

	restored, err := NewSQLiteStore(dest, Options{FullText: []string{"nie:plainTextContent"}})
	if err != nil {
		t.Fatalf("opening backup: %v", err)
	}
	defer restored.Close()
	if err := restored.CheckMigrations(); err != nil {
		t.Errorf("backup schema: %v", err)
	}
	got, err := restored.Search(ctx, "backup", 0)
	if err != nil || len(got) != 1 {
		t.Errorf("Search on backup = %v, %v", got, err)
	}
}
