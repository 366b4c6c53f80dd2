package identity

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/criyle/judge-gateway/types"
)

const testFile = `
workers:
  - name: judge-1
    key: key-1
  - name: judge-2
    key: key-2
    allowedHosts:
      - 10.0.0.0/8
      - 192.168.1.7
      - localhost
config:
  cpuAffinity: true
  threads: 4
`

func TestLoadFile(t *testing.T) {
	p := filepath.Join(t.TempDir(), "workers.yaml")
	if err := os.WriteFile(p, []byte(testFile), 0644); err != nil {
		t.Fatal(err)
	}
	f, err := LoadFile(p)
	if err != nil {
		t.Fatal(err)
	}
	if len(f.Workers) != 2 || f.Workers[1].Name != "judge-2" || len(f.Workers[1].AllowedHosts) != 3 {
		t.Fatalf("workers = %+v", f.Workers)
	}
	if f.Config["cpuAffinity"] != true {
		t.Fatalf("config = %+v", f.Config)
	}
}

func TestResolve(t *testing.T) {
	s, err := NewStatic([]types.WorkerIdentity{
		{Name: "judge-1", Key: "key-1"},
		{Name: "judge-2", Key: "key-2", AllowedHosts: []string{"10.0.0.0/8", "192.168.1.7", "localhost"}},
	})
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		key, addr string
		name      string
		err       error
	}{
		{"key-1", "1.2.3.4:5000", "judge-1", nil},
		{"key-2", "10.1.2.3:5000", "judge-2", nil},
		{"key-2", "192.168.1.7", "judge-2", nil},
		{"key-2", "localhost:80", "judge-2", nil},
		{"key-2", "192.168.1.8:80", "", ErrHostNotAllowed},
		{"key-3", "10.1.2.3:5000", "", ErrUnauthorized},
		{"", "10.1.2.3:5000", "", ErrUnauthorized},
	}
	for _, tc := range tests {
		id, err := s.Resolve(tc.key, tc.addr)
		if tc.err != nil {
			if !errors.Is(err, tc.err) {
				t.Errorf("Resolve(%q, %q) error = %v, want %v", tc.key, tc.addr, err, tc.err)
			}
			continue
		}
		if err != nil || id.Name != tc.name {
			t.Errorf("Resolve(%q, %q) = %v, %v, want %s", tc.key, tc.addr, id, err, tc.name)
		}
	}
}

func TestNewStaticRejectsDuplicates(t *testing.T) {
	if _, err := NewStatic([]types.WorkerIdentity{{Name: "a", Key: "k"}, {Name: "a", Key: "k2"}}); err == nil {
		t.Error("duplicated name accepted")
	}
	if _, err := NewStatic([]types.WorkerIdentity{{Name: "a", Key: "k"}, {Name: "b", Key: "k"}}); err == nil {
		t.Error("duplicated key accepted")
	}
	if _, err := NewStatic([]types.WorkerIdentity{{Name: "a"}}); err == nil {
		t.Error("empty key accepted")
	}
}
