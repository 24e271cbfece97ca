package blob

import (
	"bytes"
	"context"
	"errors"
	"testing"
)

func newTestLocal(t *testing.T) *LocalStorage {
	t.Helper()
	l, err := NewLocalStorage(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalStorage: %v", err)
	}
	return l
}

func TestLocalRoundTrip(t *testing.T) {
	l := newTestLocal(t)
	ctx := context.Background()
	data := []byte("%PDF-1.7 scan")

	if err := l.Upload(ctx, "scans/1/exam.pdf", data, "application/pdf"); err != nil {
		t.Fatalf("Upload: %v", err)
	}
	got, err := l.Download(ctx, "scans/1/exam.pdf")
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Errorf("got %q, want %q", got, data)
	}

	// Overwrite replaces content.
	if err := l.Upload(ctx, "scans/1/exam.pdf", []byte("v2"), "application/pdf"); err != nil {
		t.Fatalf("Upload overwrite: %v", err)
	}
	got, _ = l.Download(ctx, "scans/1/exam.pdf")
	if string(got) != "v2" {
		t.Errorf("expected overwritten content, got %q", got)
	}
}

func TestLocalNotFound(t *testing.T) {
	l := newTestLocal(t)
	_, err := l.Download(context.Background(), "scans/missing.pdf")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestLocalRejectsEscapingRefs(t *testing.T) {
	l := newTestLocal(t)
	ctx := context.Background()
	for _, ref := range []string{"", "../outside.pdf", "scans/../../outside.pdf", "."} {
		t.Run(ref, func(t *testing.T) {
			if _, err := l.Download(ctx, ref); err == nil || errors.Is(err, ErrNotFound) {
				t.Errorf("Download(%q) should be rejected, got %v", ref, err)
			}
			if err := l.Upload(ctx, ref, []byte("x"), "application/pdf"); err == nil {
				t.Errorf("Upload(%q) should be rejected", ref)
			}
		})
	}
}

func TestLocalCancelledContext(t *testing.T) {
	l := newTestLocal(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := l.Download(ctx, "a.pdf"); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}
