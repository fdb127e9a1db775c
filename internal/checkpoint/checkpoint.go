// Package checkpoint persists reconciliation progress so an interrupted run
// resumes where it stopped instead of reprocessing the whole source.
package checkpoint

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"

	"github.com/rotisserie/eris"
)

// State is the durable progress record for one source: the set of source
// identifiers already committed and the index of the last committed batch.
type State struct {
	path string

	RunID     string   `json:"run_id"`
	Source    string   `json:"source"`
	Applied   []string `json:"applied_eins"`
	LastBatch int      `json:"last_batch"`

	applied map[string]struct{}
}

// Load reads the checkpoint at path. A missing file yields a fresh state;
// reloading an existing one is idempotent.
func Load(path string) (*State, error) {
	st := &State{path: path, LastBatch: -1, applied: map[string]struct{}{}}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return st, nil
		}
		return nil, eris.Wrapf(err, "checkpoint: read %s", path)
	}
	if err := json.Unmarshal(data, st); err != nil {
		return nil, eris.Wrapf(err, "checkpoint: parse %s", path)
	}
	for _, ein := range st.Applied {
		st.applied[ein] = struct{}{}
	}
	return st, nil
}

// Fresh returns an empty state bound to path, discarding any prior file.
func Fresh(path string) *State {
	return &State{path: path, LastBatch: -1, applied: map[string]struct{}{}}
}

// IsApplied reports whether a source identifier was committed by a previous
// batch (possibly in a previous run).
func (s *State) IsApplied(ein string) bool {
	_, ok := s.applied[ein]
	return ok
}

// MarkApplied records the identifiers of a committed batch and advances the
// batch index.
func (s *State) MarkApplied(batchIndex int, eins []string) {
	for _, ein := range eins {
		s.applied[ein] = struct{}{}
	}
	s.LastBatch = batchIndex
}

// AppliedCount returns the number of committed identifiers.
func (s *State) AppliedCount() int {
	return len(s.applied)
}

// Save writes the state durably: temp file in the same directory, fsync,
// atomic rename.
func (s *State) Save() error {
	if s.path == "" {
		return nil
	}

	s.Applied = make([]string, 0, len(s.applied))
	for ein := range s.applied {
		s.Applied = append(s.Applied, ein)
	}
	sort.Strings(s.Applied)

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return eris.Wrap(err, "checkpoint: marshal")
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return eris.Wrapf(err, "checkpoint: mkdir %s", dir)
	}

	tmp, err := os.CreateTemp(dir, ".checkpoint-*")
	if err != nil {
		return eris.Wrap(err, "checkpoint: create temp")
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return eris.Wrap(err, "checkpoint: write temp")
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return eris.Wrap(err, "checkpoint: sync temp")
	}
	if err := tmp.Close(); err != nil {
		return eris.Wrap(err, "checkpoint: close temp")
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return eris.Wrapf(err, "checkpoint: rename to %s", s.path)
	}
	return nil
}
