package writeback

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"fsgraph/internal/miner"
)

func TestProcessWriter(t *testing.T) {
	dir := t.TempDir()
	log := filepath.Join(dir, "args")
	script := filepath.Join(dir, "write.sh")
	body := "#!/bin/sh\necho \"$@\" > " + log + "\n"
	if err := os.WriteFile(script, []byte(body), 0755); err != nil {
		t.Fatal(err)
	}

	w := NewProcessWriter(script, time.Second)
	props := []miner.Property{
		{Predicate: "nie:title", Object: miner.StringValue("Holiday")},
		{Predicate: "nao:hasTag", Object: miner.StringValue("beach")},
	}
	if err := w.Write(context.Background(), "/r/photo.jpg", props); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	got, err := os.ReadFile(log)
	if err != nil {
		t.Fatal(err)
	}
	want := "--file /r/photo.jpg --property nie:title=Holiday --property nao:hasTag=beach"
	if strings.TrimSpace(string(got)) != want {
		t.Errorf("args = %q, want %q", strings.TrimSpace(string(got)), want)
	}
}

func TestProcessWriter_Failure(t *testing.T) {
	script := filepath.Join(t.TempDir(), "write.sh")
	if err := os.WriteFile(script, []byte("#!/bin/sh\necho 'read-only file' >&2\nexit 1\n"), 0755); err != nil {
		t.Fatal(err)
	}
	err := NewProcessWriter(script, time.Second).Write(context.Background(), "/r/a.jpg", nil)
	if err == nil || !strings.Contains(err.Error(), "read-only file") {
		t.Fatalf("Write() error = %v, want stderr in message", err)
	}
}
