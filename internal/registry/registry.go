// Package registry loads the capability registry: the mapping from named
// capabilities (GraphExplorer, RunbookKB, ...) to the agent identifiers the
// runtime uses to invoke them. The registry is an explicitly loaded,
// read-only snapshot handed to the bridge at investigation start, re-read
// only when the backing file's modification time changes.
package registry

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Capability is one named delegated function the runtime can invoke.
type Capability struct {
	Name        string `json:"name"`
	AgentID     string `json:"agent_id"`
	Description string `json:"description,omitempty"`
}

// Snapshot is an immutable view of the registry at load time.
type Snapshot struct {
	Capabilities []Capability
	LoadedAt     time.Time

	modTime time.Time
}

// Names returns the capability names in file order.
func (s *Snapshot) Names() []string {
	names := make([]string, len(s.Capabilities))
	for i, c := range s.Capabilities {
		names[i] = c.Name
	}
	return names
}

// AgentID resolves a capability name, returning "" when unknown.
func (s *Snapshot) AgentID(name string) string {
	for _, c := range s.Capabilities {
		if c.Name == name {
			return c.AgentID
		}
	}
	return ""
}

// Registry serves snapshots of a JSON capability file with a cheap staleness
// check (stat + modtime comparison) instead of re-parsing per request.
// Concurrent reloads triggered by the same staleness observation are
// collapsed to a single read.
type Registry struct {
	path string

	mu   sync.RWMutex
	snap *Snapshot

	reload singleflight.Group
}

// New creates a registry backed by the JSON file at path. The file is not
// read until the first Snapshot call.
func New(path string) *Registry {
	return &Registry{path: path}
}

// Snapshot returns the current snapshot, reloading the file if its
// modification time changed since the last load.
func (r *Registry) Snapshot() (*Snapshot, error) {
	if r.path == "" {
		return nil, fmt.Errorf("registry: no capability file configured")
	}

	info, err := os.Stat(r.path)
	if err != nil {
		return nil, fmt.Errorf("registry: stat %s: %w", r.path, err)
	}

	r.mu.RLock()
	snap := r.snap
	r.mu.RUnlock()
	if snap != nil && snap.modTime.Equal(info.ModTime()) {
		return snap, nil
	}

	v, err, _ := r.reload.Do("load", func() (any, error) {
		return r.load(info.ModTime())
	})
	if err != nil {
		return nil, err
	}
	return v.(*Snapshot), nil
}

func (r *Registry) load(modTime time.Time) (*Snapshot, error) {
	raw, err := os.ReadFile(r.path)
	if err != nil {
		return nil, fmt.Errorf("registry: read %s: %w", r.path, err)
	}

	var capabilities []Capability
	if err := json.Unmarshal(raw, &capabilities); err != nil {
		return nil, fmt.Errorf("registry: parse %s: %w", r.path, err)
	}
	for i, c := range capabilities {
		if c.Name == "" || c.AgentID == "" {
			return nil, fmt.Errorf("registry: entry %d missing name or agent_id", i)
		}
	}

	snap := &Snapshot{
		Capabilities: capabilities,
		LoadedAt:     time.Now().UTC(),
		modTime:      modTime,
	}
	r.mu.Lock()
	r.snap = snap
	r.mu.Unlock()
	return snap, nil
}
