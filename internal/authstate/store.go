// Package authstate holds the signed-in student's credentials for the
// lifetime of the process. It is loaded once at start-up, written back on
// every mutation and wiped on logout.
package authstate

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// DefaultStudentID is sent in the x-student-id header when nobody is
// signed in, matching the helpdesk API's development fallback.
const DefaultStudentID = "student123"

type state struct {
	AccessToken string `json:"access_token,omitempty"`
	StudentID   string `json:"student_id,omitempty"`
}

type Store struct {
	path string

	mu sync.RWMutex
	st state
}

// Load reads persisted credentials from path. A missing file yields an
// empty store; an empty path keeps everything in memory.
func Load(path string) (*Store, error) {
	s := &Store{path: strings.TrimSpace(path)}
	if s.path == "" {
		return s, nil
	}
	raw, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read auth state: %w", err)
	}
	if len(strings.TrimSpace(string(raw))) == 0 {
		return s, nil
	}
	if err := json.Unmarshal(raw, &s.st); err != nil {
		return nil, fmt.Errorf("parse auth state %s: %w", s.path, err)
	}
	return s, nil
}

// Token returns the bearer token, or "" when signed out.
func (s *Store) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.AccessToken
}

// StudentID returns the stored student id or DefaultStudentID.
func (s *Store) StudentID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.st.StudentID == "" {
		return DefaultStudentID
	}
	return s.st.StudentID
}

func (s *Store) SetToken(token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.AccessToken = strings.TrimSpace(token)
	return s.persistLocked()
}

func (s *Store) SetStudentID(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.StudentID = strings.TrimSpace(id)
	return s.persistLocked()
}

// Clear signs out and removes the persisted file.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st = state{}
	if s.path == "" {
		return nil
	}
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("clear auth state: %w", err)
	}
	return nil
}

func (s *Store) persistLocked() error {
	if s.path == "" {
		return nil
	}
	raw, err := json.MarshalIndent(s.st, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal auth state: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("create auth state dir: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return fmt.Errorf("write auth state: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace auth state: %w", err)
	}
	return nil
}
