package journal

import (
	"context"
	"path/filepath"
	"testing"
)

func TestMarkProcessedOnce(t *testing.T) {
	t.Parallel()

	j, err := Open(Options{DSN: filepath.Join(t.TempDir(), "journal.sqlite")})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer j.Close()

	accepted, err := j.MarkProcessed(context.Background(), "evt:Ev01")
	if err != nil {
		t.Fatalf("MarkProcessed() error = %v", err)
	}
	if !accepted {
		t.Fatalf("MarkProcessed() accepted=false, want true for first delivery")
	}

	accepted, err = j.MarkProcessed(context.Background(), "evt:Ev01")
	if err != nil {
		t.Fatalf("MarkProcessed(second) error = %v", err)
	}
	if accepted {
		t.Fatalf("MarkProcessed(second) accepted=true, want false for redelivery")
	}
}

func TestSeen(t *testing.T) {
	t.Parallel()

	j, err := Open(Options{DSN: filepath.Join(t.TempDir(), "journal.sqlite")})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer j.Close()

	seen, err := j.Seen(context.Background(), "evt:Ev02")
	if err != nil {
		t.Fatalf("Seen() error = %v", err)
	}
	if seen {
		t.Fatalf("Seen() = true before MarkProcessed")
	}
	if _, err := j.MarkProcessed(context.Background(), "evt:Ev02"); err != nil {
		t.Fatalf("MarkProcessed() error = %v", err)
	}
	seen, err = j.Seen(context.Background(), "evt:Ev02")
	if err != nil {
		t.Fatalf("Seen() error = %v", err)
	}
	if !seen {
		t.Fatalf("Seen() = false after MarkProcessed")
	}
}

func TestOpenRequiresDSN(t *testing.T) {
	t.Parallel()

	if _, err := Open(Options{}); err == nil {
		t.Fatalf("expected error for empty dsn")
	}
}

func TestMarkProcessedRequiresKey(t *testing.T) {
	t.Parallel()

	j, err := Open(Options{DSN: filepath.Join(t.TempDir(), "journal.sqlite")})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer j.Close()

	if _, err := j.MarkProcessed(context.Background(), "  "); err == nil {
		t.Fatalf("expected error for empty key")
	}
}
