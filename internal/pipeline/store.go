package pipeline

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/jonboulle/clockwork"
)

// Store loads and saves a project's state document.
//
// Every save rewrites the whole document. Two processes saving the same
// store race and the later write wins.
type Store struct {
	path  string
	clock clockwork.Clock
}

// NewStore creates a Store for the state document at path. A nil clock uses
// the real clock.
func NewStore(path string, clock clockwork.Clock) *Store {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Store{path: path, clock: clock}
}

// Path returns the location of the state document.
func (s *Store) Path() string {
	return s.path
}

// Exists reports whether the state document has been written.
func (s *Store) Exists() bool {
	_, err := os.Stat(s.path)
	return err == nil
}

// Load reads the state document. A missing document yields a fresh state.
func (s *Store) Load() (*PipelineState, error) {
	var ps PipelineState
	if err := ReadYAML(s.path, &ps); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return New(s.clock.Now()), nil
		}
		return nil, fmt.Errorf("load state: %w", err)
	}
	ps.normalize()
	return &ps, nil
}

// Save stamps LastUpdated and writes the full document.
func (s *Store) Save(ps *PipelineState) error {
	ps.normalize()
	ps.LastUpdated = s.clock.Now().UTC().Format(time.RFC3339)
	if err := WriteYAML(s.path, ps, ""); err != nil {
		return fmt.Errorf("save state: %w", err)
	}
	return nil
}

// Update loads the state, applies fn and saves the result. Nothing is
// written when fn returns an error.
func (s *Store) Update(fn func(*PipelineState) error) (*PipelineState, error) {
	ps, err := s.Load()
	if err != nil {
		return nil, err
	}
	if err := fn(ps); err != nil {
		return nil, err
	}
	if err := s.Save(ps); err != nil {
		return nil, err
	}
	return ps, nil
}

// Reset replaces the stored document with a fresh one.
func (s *Store) Reset() (*PipelineState, error) {
	ps := New(s.clock.Now())
	if err := s.Save(ps); err != nil {
		return nil, err
	}
	return ps, nil
}

// Now returns the store clock's current time.
func (s *Store) Now() time.Time {
	return s.clock.Now()
}
