package client

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"
)

func TestLocalStorageRoundTrip(t *testing.T) {
	ctx := context.Background()
	s, err := NewLocalStorage(t.TempDir(), "/files/")
	if err != nil {
		t.Fatalf("NewLocalStorage: %v", err)
	}

	url, err := s.Upload(ctx, "generated-stems/job/00-master.wav", strings.NewReader("RIFF"), "audio/wav")
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if url != "/files/generated-stems/job/00-master.wav" {
		t.Errorf("url = %q", url)
	}

	rc, err := s.Download(ctx, "generated-stems/job/00-master.wav")
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	data, _ := io.ReadAll(rc)
	rc.Close()
	if string(data) != "RIFF" {
		t.Errorf("data = %q", data)
	}

	if err := s.Delete(ctx, "generated-stems/job/00-master.wav"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Download(ctx, "generated-stems/job/00-master.wav"); !errors.Is(err, ErrObjectNotFound) {
		t.Errorf("expected ErrObjectNotFound, got %v", err)
	}
	if err := s.Delete(ctx, "generated-stems/job/00-master.wav"); err != nil {
		t.Errorf("second delete should be a no-op: %v", err)
	}
}

func TestLocalStorageRejectsEscapingKeys(t *testing.T) {
	s, err := NewLocalStorage(t.TempDir(), "")
	if err != nil {
		t.Fatal(err)
	}
	for _, key := range []string{"", "../outside.wav", "a/../../b", "/abs.wav", "a//b"} {
		if _, err := s.Upload(context.Background(), key, strings.NewReader("x"), "audio/wav"); err == nil {
			t.Errorf("Upload(%q) should fail", key)
		}
	}
}

func TestLocalStorageSignedURL(t *testing.T) {
	s, err := NewLocalStorage(t.TempDir(), "http://localhost:8000/files")
	if err != nil {
		t.Fatal(err)
	}
	url, err := s.GetSignedURL(context.Background(), "exports/j/j-stems.zip", time.Hour)
	if err != nil {
		t.Fatalf("GetSignedURL: %v", err)
	}
	if url != "http://localhost:8000/files/exports/j/j-stems.zip" {
		t.Errorf("url = %q", url)
	}
}

func TestContentDisposition(t *testing.T) {
	if got := contentDisposition("exports/job-1/job-1-stems.zip"); got != `attachment; filename="job-1-stems.zip"` {
		t.Errorf("export disposition = %q", got)
	}
	if got := contentDisposition("generated-stems/job-1/00-master.wav"); got != "" {
		t.Errorf("stem disposition = %q", got)
	}
}
