// Package identity resolves worker credentials to worker identities
package identity

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"net"
	"os"

	"github.com/criyle/judge-gateway/types"
	"github.com/goccy/go-yaml"
)

var (
	// ErrUnauthorized is returned for an unknown credential
	ErrUnauthorized = errors.New("identity: unknown key")

	// ErrHostNotAllowed is returned when the credential is presented from a host outside its allow list
	ErrHostNotAllowed = errors.New("identity: host not allowed")
)

// File is the worker configuration file
type File struct {
	Workers []types.WorkerIdentity `yaml:"workers"`
	// Config is sent to every worker in the ready event
	Config map[string]any `yaml:"config"`
}

// LoadFile reads worker configuration from the yaml file
func LoadFile(p string) (*File, error) {
	d, err := os.ReadFile(p)
	if err != nil {
		return nil, err
	}
	var f File
	if err := yaml.Unmarshal(d, &f); err != nil {
		return nil, fmt.Errorf("parse %s: %w", p, err)
	}
	return &f, nil
}

type worker struct {
	identity types.WorkerIdentity
	nets     []*net.IPNet
	ips      []net.IP
	hosts    []string
}

// Static resolves credentials from a fixed identity list
type Static struct {
	workers []worker
}

// NewStatic validates identities and creates the resolver
func NewStatic(identities []types.WorkerIdentity) (*Static, error) {
	s := &Static{}
	names := make(map[string]bool)
	keys := make(map[string]bool)
	for _, id := range identities {
		if id.Name == "" || id.Key == "" {
			return nil, fmt.Errorf("identity: worker with empty name or key")
		}
		if names[id.Name] {
			return nil, fmt.Errorf("identity: duplicated worker name %q", id.Name)
		}
		if keys[id.Key] {
			return nil, fmt.Errorf("identity: duplicated key of worker %q", id.Name)
		}
		names[id.Name] = true
		keys[id.Key] = true

		w := worker{identity: id}
		for _, h := range id.AllowedHosts {
			if _, n, err := net.ParseCIDR(h); err == nil {
				w.nets = append(w.nets, n)
			} else if ip := net.ParseIP(h); ip != nil {
				w.ips = append(w.ips, ip)
			} else {
				w.hosts = append(w.hosts, h)
			}
		}
		s.workers = append(s.workers, w)
	}
	return s, nil
}

// Resolve returns the identity owning key, checking remoteAddr (host or host:port)
// against its allow list. An empty allow list accepts any host.
func (s *Static) Resolve(key, remoteAddr string) (*types.WorkerIdentity, error) {
	if key == "" {
		return nil, ErrUnauthorized
	}
	var found *worker
	for i := range s.workers {
		// compare every key so timing does not reveal the position
		if subtle.ConstantTimeCompare([]byte(s.workers[i].identity.Key), []byte(key)) == 1 {
			found = &s.workers[i]
		}
	}
	if found == nil {
		return nil, ErrUnauthorized
	}
	if !found.allows(remoteAddr) {
		return nil, fmt.Errorf("%w: %s from %s", ErrHostNotAllowed, found.identity.Name, remoteAddr)
	}
	id := found.identity
	return &id, nil
}

func (w *worker) allows(remoteAddr string) bool {
	if len(w.identity.AllowedHosts) == 0 {
		return true
	}
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host = remoteAddr
	}
	for _, h := range w.hosts {
		if h == host {
			return true
		}
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return false
	}
	for _, a := range w.ips {
		if a.Equal(ip) {
			return true
		}
	}
	for _, n := range w.nets {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}
