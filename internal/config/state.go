package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"
)

const stateFileName = "state.json"

// State is what the CLI remembers between runs. The engine never reads it;
// it only receives the resulting collection and limit.
type State struct {
	LastSetID     string         `json:"last_set_id,omitempty"`
	LastLimit     int            `json:"last_limit,omitempty"`
	LastInputFile string         `json:"last_input_file,omitempty"`
	Usage         map[string]int `json:"usage,omitempty"`
	UpdatedAt     time.Time      `json:"updated_at,omitempty"`

	path string
}

// LoadState reads the state blob at path. A missing file yields an empty
// state bound to path.
func LoadState(path string) (*State, error) {
	st := &State{path: path, Usage: map[string]int{}}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return st, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading state %s: %w", path, err)
	}
	if err := json.Unmarshal(data, st); err != nil {
		return nil, fmt.Errorf("parsing state %s: %w", path, err)
	}
	if st.Usage == nil {
		st.Usage = map[string]int{}
	}
	return st, nil
}

// LoadDefaultState reads the state blob from the config directory.
func LoadDefaultState() (*State, error) {
	path, err := GetStatePath()
	if err != nil {
		return nil, err
	}
	return LoadState(path)
}

// Path returns the file Save writes to.
func (s *State) Path() string { return s.path }

// RememberSet records a set-based run.
func (s *State) RememberSet(setID string, limit int) {
	s.LastSetID = setID
	s.LastLimit = limit
}

// RememberFile records a file-based run.
func (s *State) RememberFile(path string, limit int) {
	s.LastInputFile = path
	s.LastLimit = limit
}

// RecordUsage counts one run of the named command.
func (s *State) RecordUsage(command string) {
	if s.Usage == nil {
		s.Usage = map[string]int{}
	}
	s.Usage[command]++
}

// Commands returns the commands with usage counts, sorted by name.
func (s *State) Commands() []string {
	names := make([]string, 0, len(s.Usage))
	for name := range s.Usage {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Save writes the state atomically: a temp file in the same directory is
// renamed over the old one.
func (s *State) Save() error {
	if s.path == "" {
		return errors.New("no state path set")
	}
	s.UpdatedAt = time.Now().UTC()

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("marshalling state: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("creating state directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".state-*.json")
	if err != nil {
		return fmt.Errorf("creating temp state: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("writing state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("writing state: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("replacing state: %w", err)
	}
	return nil
}
