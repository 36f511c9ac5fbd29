// Package session persists the small state artifact shared between runs:
// the cached DVR session token plus the last handled alert reference.
package session

import (
	"encoding/json"
	"os"
	"sync"
	"time"
)

// Placeholder marks a session slot that has never held a real token.
const Placeholder = "<placeholder>"

// Artifact is the persisted cross-run state. The session token is a pure
// performance optimization; losing it just costs one extra login.
type Artifact struct {
	Session   string `json:"session"`
	Alert     string `json:"Alert"`
	Camera    string `json:"Camera"`
	Timestamp string `json:"Timestamp"`
}

// HasSession reports whether the artifact holds a candidate token worth
// validating.
func (a Artifact) HasSession() bool {
	return a.Session != "" && a.Session != Placeholder
}

// Store reads and writes the artifact file. Writes are atomic
// (tmp + rename) and serialized so concurrent runs cannot corrupt it.
type Store struct {
	path string
	mu   sync.Mutex
}

// NewStore creates a store backed by path.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Load returns the current artifact, or a fresh default when the file is
// missing or unreadable. Corruption is not fatal; the artifact only caches.
func (s *Store) Load() Artifact {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		return defaultArtifact()
	}
	var a Artifact
	if err := json.Unmarshal(data, &a); err != nil {
		return defaultArtifact()
	}
	return a
}

// Update merges fn's changes into the stored artifact and writes it back
// atomically.
func (s *Store) Update(fn func(*Artifact)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a := defaultArtifact()
	if data, err := os.ReadFile(s.path); err == nil {
		_ = json.Unmarshal(data, &a)
	}
	fn(&a)

	out, err := json.MarshalIndent(a, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, out, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

// SaveSession records a freshly obtained session token.
func (s *Store) SaveSession(session string) error {
	return s.Update(func(a *Artifact) { a.Session = session })
}

// SaveRun records the alert reference a run handled, for debug replays.
func (s *Store) SaveRun(handle, camera, timestamp string) error {
	return s.Update(func(a *Artifact) {
		a.Alert = handle
		a.Camera = camera
		a.Timestamp = timestamp
	})
}

func defaultArtifact() Artifact {
	return Artifact{
		Session:   Placeholder,
		Alert:     "@-1",
		Timestamp: time.Now().Format("1/2/2006 3:04:05PM"),
	}
}
