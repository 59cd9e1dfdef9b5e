/*
Copyright 2024 The cfshare Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package policyconf

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/gravitational/trace"
	"github.com/sirupsen/logrus"
)

// Store owns policy.json and policy.ignore under a state directory. A
// read-modify-write always goes through writeLock and replaces
// policy.json with an atomic rename.
type Store struct {
	// StateDir is the directory containing policy.json and
	// policy.ignore.
	StateDir string

	// ProcessConfig is the process-wide config layer, below the
	// on-disk patch and above the built-in defaults in merge
	// precedence.
	ProcessConfig map[string]interface{}

	log logrus.FieldLogger

	writeLock sync.Mutex
}

// NewStore constructs a Store rooted at stateDir.
func NewStore(stateDir string, processConfig map[string]interface{}) *Store {
	return &Store{
		StateDir:      stateDir,
		ProcessConfig: processConfig,
		log:           logrus.WithField("component", "cfshare/policyconf"),
	}
}

func (s *Store) policyPath() string {
	return filepath.Join(s.StateDir, "policy.json")
}

func (s *Store) ignorePath() string {
	return filepath.Join(s.StateDir, "policy.ignore")
}

// ReadRaw returns the on-disk policy patch verbatim, or an empty map if
// no file exists yet.
func (s *Store) ReadRaw() (map[string]interface{}, error) {
	data, err := os.ReadFile(s.policyPath())
	if os.IsNotExist(err) {
		return map[string]interface{}{}, nil
	}
	if err != nil {
		return nil, trace.Wrap(err, "reading policy.json")
	}
	var raw map[string]interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, trace.Wrap(err, "parsing policy.json")
	}
	return raw, nil
}

// Load merges built-in defaults, the process-wide config, and the
// on-disk patch (highest precedence last), clamps/validates the
// result, and builds the ignore matcher.
func (s *Store) Load() (Policy, []string, *IgnoreMatcher, error) {
	raw, err := s.ReadRaw()
	if err != nil {
		return Policy{}, nil, nil, trace.Wrap(err)
	}

	defaultMap, err := toMap(Default())
	if err != nil {
		return Policy{}, nil, nil, trace.Wrap(err)
	}

	var warnings []string
	warn := func(msg string) { warnings = append(warnings, msg) }

	merged := deepMerge(defaultMap, s.ProcessConfig, warn)
	merged = deepMerge(merged, raw, warn)

	policy, clampWarnings, err := decode(merged)
	if err != nil {
		return Policy{}, nil, nil, trace.Wrap(err)
	}
	warnings = append(warnings, clampWarnings...)

	for _, w := range warnings {
		s.log.Warn(w)
	}

	matcher, err := s.buildIgnoreMatcher()
	if err != nil {
		return Policy{}, nil, nil, trace.Wrap(err)
	}

	return policy, warnings, matcher, nil
}

// WriteMerged read-modify-writes the on-disk patch: it merges patch
// onto the current raw file (same deep-merge rules as Load) and
// persists the result via a temp-file-then-rename swap.
func (s *Store) WriteMerged(patch map[string]interface{}) error {
	s.writeLock.Lock()
	defer s.writeLock.Unlock()

	current, err := s.ReadRaw()
	if err != nil {
		return trace.Wrap(err)
	}
	merged := deepMerge(current, patch, func(msg string) { s.log.Warn(msg) })

	data, err := json.MarshalIndent(merged, "", "  ")
	if err != nil {
		return trace.Wrap(err, "marshaling merged policy")
	}
	return trace.Wrap(atomicWriteFile(s.policyPath(), data, 0o600))
}

func toMap(v interface{}) (map[string]interface{}, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	var out map[string]interface{}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, trace.Wrap(err)
	}
	return out, nil
}

// atomicWriteFile writes data to a temp file in the same directory as
// path, then renames it into place so readers never observe a
// partial write.
func atomicWriteFile(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return trace.Wrap(err)
	}
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return trace.Wrap(err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return trace.Wrap(err)
	}
	if err := tmp.Close(); err != nil {
		return trace.Wrap(err)
	}
	if err := os.Chmod(tmpPath, perm); err != nil {
		return trace.Wrap(err)
	}
	return trace.Wrap(os.Rename(tmpPath, path))
}
