package local

import (
	"context"
	"errors"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"msgvault-backend/internal/shared/storage/object"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(t.TempDir(), "http://localhost:8080", "test-secret")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func tokenFrom(t *testing.T, link string) string {
	t.Helper()
	u, err := url.Parse(link)
	if err != nil {
		t.Fatalf("parse link: %v", err)
	}
	if u.Path != LinkPath {
		t.Fatalf("unexpected link path %q", u.Path)
	}
	return u.Query().Get("token")
}

func TestPutAndOpen(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	key := "image/1700000000000-abcd1234.jpg"
	if err := s.Put(ctx, key, []byte("jpeg-bytes"), "image/jpeg"); err != nil {
		t.Fatalf("Put: %v", err)
	}

	rc, err := s.Open(ctx, key)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer rc.Close()
	got, _ := io.ReadAll(rc)
	if string(got) != "jpeg-bytes" {
		t.Fatalf("unexpected body %q", got)
	}

	entries, err := os.ReadDir(filepath.Join(s.baseDir, "image"))
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".upload-") {
			t.Fatalf("temp file left behind: %s", e.Name())
		}
	}
}

func TestPutRejectsTraversal(t *testing.T) {
	s := newTestStore(t)
	err := s.Put(context.Background(), "../escape.txt", []byte("x"), "text/plain")
	if !errors.Is(err, object.ErrInvalidKey) {
		t.Fatalf("expected ErrInvalidKey, got %v", err)
	}
}

func TestSignedURLRoundTrip(t *testing.T) {
	s := newTestStore(t)
	key := "document/1700000000000-abcd1234.pdf"

	link, err := s.SignedURL(context.Background(), key, time.Hour)
	if err != nil {
		t.Fatalf("SignedURL: %v", err)
	}
	got, err := s.VerifyLink(tokenFrom(t, link))
	if err != nil {
		t.Fatalf("VerifyLink: %v", err)
	}
	if got != key {
		t.Fatalf("expected key %q, got %q", key, got)
	}
}

func TestVerifyLinkExpired(t *testing.T) {
	s := newTestStore(t)
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return base }

	link, err := s.SignedURL(context.Background(), "file/a.bin", time.Minute)
	if err != nil {
		t.Fatalf("SignedURL: %v", err)
	}

	s.now = func() time.Time { return base.Add(2 * time.Minute) }
	if _, err := s.VerifyLink(tokenFrom(t, link)); !errors.Is(err, ErrInvalidLink) {
		t.Fatalf("expected ErrInvalidLink, got %v", err)
	}
}

func TestVerifyLinkWrongSecret(t *testing.T) {
	s := newTestStore(t)
	other, err := New(t.TempDir(), "http://localhost:8080", "other-secret")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	link, err := other.SignedURL(context.Background(), "file/a.bin", time.Hour)
	if err != nil {
		t.Fatalf("SignedURL: %v", err)
	}
	if _, err := s.VerifyLink(tokenFrom(t, link)); !errors.Is(err, ErrInvalidLink) {
		t.Fatalf("expected ErrInvalidLink, got %v", err)
	}
}
