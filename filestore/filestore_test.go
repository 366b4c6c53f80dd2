package filestore

import (
	"errors"
	"io"
	"net/url"
	"strings"
	"testing"
	"time"
)

func testFileStore(t *testing.T, fs FileStore) {
	t.Helper()
	id, err := fs.Add("1.in", strings.NewReader("1 2\n"))
	if err != nil {
		t.Fatal(err)
	}
	name, r, err := fs.Open(id)
	if err != nil {
		t.Fatal(err)
	}
	b, _ := io.ReadAll(r)
	r.Close()
	if name != "1.in" || string(b) != "1 2\n" {
		t.Fatalf("Open() = %q, %q", name, b)
	}
	if l := fs.List(); len(l) != 1 || l[id] != "1.in" {
		t.Fatalf("List() = %v", l)
	}
	if !fs.Remove(id) {
		t.Fatal("Remove() = false")
	}
	if fs.Remove(id) {
		t.Fatal("second Remove() = true")
	}
	if _, _, err := fs.Open(id); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Open() after remove error = %v", err)
	}
}

func TestMemoryStore(t *testing.T) {
	testFileStore(t, NewFileMemoryStore())
}

func TestLocalStore(t *testing.T) {
	fs, err := NewFileLocalStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	testFileStore(t, fs)
	if _, _, err := fs.Open("../etc/passwd"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Open() escaped the store directory: %v", err)
	}
}

func TestSigner(t *testing.T) {
	s := NewSigner("secret", "http://gw.example/", time.Minute)
	now := time.Unix(1_700_000_000, 0)
	s.now = func() time.Time { return now }

	raw, err := s.SignDownloadURL("ABC")
	if err != nil {
		t.Fatal(err)
	}
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatal(err)
	}
	if u.Host != "gw.example" || u.Path != "/file/ABC" {
		t.Fatalf("signed url = %s", raw)
	}
	expires, sign := u.Query().Get("expires"), u.Query().Get("sign")
	if err := s.Verify("ABC", expires, sign); err != nil {
		t.Fatalf("Verify() = %v", err)
	}
	if err := s.Verify("ABD", expires, sign); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("Verify(other file) = %v", err)
	}
	if err := s.Verify("ABC", "9999999999", sign); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("Verify(extended expiry) = %v", err)
	}
	if err := NewSigner("other", "", 0).Verify("ABC", expires, sign); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("Verify(other secret) = %v", err)
	}

	now = now.Add(2 * time.Minute)
	if err := s.Verify("ABC", expires, sign); !errors.Is(err, ErrExpired) {
		t.Fatalf("Verify(expired) = %v", err)
	}
}
