package extract

import (
	"context"
	"errors"
	"strings"
	"testing"

	"fsgraph/internal/miner"
	"fsgraph/internal/testutil"
)

func properties(set *miner.StatementSet) map[string]miner.Value {
	out := map[string]miner.Value{}
	for _, p := range set.Properties {
		out[p.Predicate] = p.Object
	}
	return out
}

func TestBuiltinExtractor_Text(t *testing.T) {
	fsmgr := testutil.NewMockFilesystemManager()
	fsmgr.AddFile("/r/car.txt", []byte("An automobile\nwith four wheels\n"))
	fsmgr.AddFile("/r/notes.md", []byte("intro\n# Shopping list\n- milk"))
	b := NewBuiltinExtractor(fsmgr, miner.DefaultVocabulary(), 1024)

	t.Run("plain text", func(t *testing.T) {
		set, err := b.Extract(context.Background(), miner.ExtractTask{Path: "/r/car.txt", MIME: "text/plain"})
		if err != nil {
			t.Fatalf("Extract() error = %v", err)
		}
		props := properties(set)
		if props["nie:plainTextContent"].Lexical != "An automobile\nwith four wheels\n" {
			t.Errorf("plainTextContent = %q", props["nie:plainTextContent"].Lexical)
		}
		if props["nfo:wordCount"] != miner.IntValue(5) {
			t.Errorf("wordCount = %v, want 5", props["nfo:wordCount"])
		}
		if props["nfo:lineCount"] != miner.IntValue(2) {
			t.Errorf("lineCount = %v, want 2", props["nfo:lineCount"])
		}
		if err := miner.DefaultSchema(miner.DefaultVocabulary()).Validate(set); err != nil {
			t.Errorf("builtin output fails the default schema: %v", err)
		}
	})

	t.Run("sniffs unknown type", func(t *testing.T) {
		set, err := b.Extract(context.Background(), miner.ExtractTask{Path: "/r/car.txt", MIME: genericMIME})
		if err != nil {
			t.Fatalf("Extract() error = %v", err)
		}
		if set.MIME != "text/plain" {
			t.Errorf("MIME = %q, want text/plain", set.MIME)
		}
	})

	t.Run("markdown title", func(t *testing.T) {
		set, err := b.Extract(context.Background(), miner.ExtractTask{Path: "/r/notes.md", MIME: "text/markdown"})
		if err != nil {
			t.Fatalf("Extract() error = %v", err)
		}
		if got := properties(set)["nie:title"].Lexical; got != "Shopping list" {
			t.Errorf("title = %q, want %q", got, "Shopping list")
		}
		if properties(set)["nfo:lineCount"] != miner.IntValue(3) {
			t.Errorf("lineCount = %v, want 3", properties(set)["nfo:lineCount"])
		}
	})
}

func TestBuiltinExtractor_Truncates(t *testing.T) {
	fsmgr := testutil.NewMockFilesystemManager()
	// "é" is two bytes; a five byte limit splits the third one.
	fsmgr.AddFile("/r/accents.txt", []byte("ééé"))
	b := NewBuiltinExtractor(fsmgr, miner.DefaultVocabulary(), 5)

	set, err := b.Extract(context.Background(), miner.ExtractTask{Path: "/r/accents.txt", MIME: "text/plain"})
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if got := properties(set)["nie:plainTextContent"].Lexical; got != "éé" {
		t.Errorf("plainTextContent = %q, want %q", got, "éé")
	}
}

func TestBuiltinExtractor_Failures(t *testing.T) {
	fsmgr := testutil.NewMockFilesystemManager()
	fsmgr.AddFile("/r/latin1.txt", []byte{'c', 'a', 'f', 0xe9})
	b := NewBuiltinExtractor(fsmgr, miner.DefaultVocabulary(), 1024)

	tests := []struct {
		name   string
		path   string
		reason string
	}{
		{"invalid utf-8", "/r/latin1.txt", miner.ReasonUnsupportedFormat},
		{"missing file", "/r/gone.txt", miner.ReasonCrash},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := b.Extract(context.Background(), miner.ExtractTask{Path: tt.path, MIME: "text/plain"})
			var xe *miner.ExtractionError
			if !errors.As(err, &xe) || xe.Reason != tt.reason {
				t.Fatalf("Extract() error = %v, want reason %s", err, tt.reason)
			}
		})
	}
}

func TestBuiltinExtractor_MediaTypes(t *testing.T) {
	fsmgr := testutil.NewMockFilesystemManager()
	fsmgr.AddFile("/r/blob", []byte(strings.Repeat("\x00", 16)))
	b := NewBuiltinExtractor(fsmgr, miner.DefaultVocabulary(), 1024)

	tests := []struct {
		mime string
		want string
	}{
		{"image/png", "nfo:Image"},
		{"audio/ogg", "nfo:Audio"},
		{"video/mp4", "nfo:Video"},
		{"application/pdf", "nfo:PaginatedTextDocument"},
		{"application/zip", "nfo:Archive"},
	}
	for _, tt := range tests {
		t.Run(tt.mime, func(t *testing.T) {
			set, err := b.Extract(context.Background(), miner.ExtractTask{Path: "/r/blob", MIME: tt.mime})
			if err != nil {
				t.Fatalf("Extract() error = %v", err)
			}
			if set.Types[len(set.Types)-1] != tt.want {
				t.Errorf("Types = %v, want %s", set.Types, tt.want)
			}
			if len(set.Properties) != 0 {
				t.Errorf("Properties = %v, want none", set.Properties)
			}
		})
	}
}
