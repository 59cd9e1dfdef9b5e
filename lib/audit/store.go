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

package audit

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"
)

// Store owns audit.jsonl and sessions.json under stateDir.
type Store struct {
	stateDir string
	clock    clockwork.Clock
	log      logrus.FieldLogger

	writeMu sync.Mutex
}

// NewStore constructs a Store rooted at stateDir.
func NewStore(stateDir string, clock clockwork.Clock, log logrus.FieldLogger) *Store {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if log == nil {
		log = logrus.WithField(trace.Component, "audit")
	}
	return &Store{stateDir: stateDir, clock: clock, log: log}
}

func (s *Store) auditPath() string    { return filepath.Join(s.stateDir, "audit.jsonl") }
func (s *Store) snapshotPath() string { return filepath.Join(s.stateDir, "sessions.json") }
func (s *Store) exportsDir() string   { return filepath.Join(s.stateDir, "exports") }

// Emit appends an event to audit.jsonl. Append failures are logged
// and swallowed; an audit write never fails the operation it records.
func (s *Store) Emit(event, id, typ string, details map[string]interface{}) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	rec := Event{
		Ts:      FormatTimestamp(s.clock.Now()),
		Event:   event,
		ID:      id,
		Type:    typ,
		Details: details,
	}
	line, err := json.Marshal(rec)
	if err != nil {
		s.log.WithError(err).Error("failed to marshal audit event")
		emitFailures.Inc()
		return
	}

	if err := s.appendLine(line); err != nil {
		s.log.WithError(err).Error("failed to append audit event")
		emitFailures.Inc()
		return
	}
	eventsEmitted.WithLabelValues(event).Inc()
}

func (s *Store) appendLine(line []byte) error {
	if err := os.MkdirAll(s.stateDir, 0o700); err != nil {
		return trace.Wrap(err)
	}
	f, err := os.OpenFile(s.auditPath(), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return trace.Wrap(err)
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return trace.Wrap(err)
	}
	return nil
}

// WriteSnapshot atomically replaces sessions.json with entries.
func (s *Store) WriteSnapshot(entries []SnapshotEntry) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err := os.MkdirAll(s.stateDir, 0o700); err != nil {
		return trace.Wrap(err)
	}
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return trace.Wrap(err)
	}

	tmp, err := os.CreateTemp(s.stateDir, "sessions-*.json.tmp")
	if err != nil {
		return trace.Wrap(err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return trace.Wrap(err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return trace.Wrap(err)
	}
	if err := os.Rename(tmpPath, s.snapshotPath()); err != nil {
		os.Remove(tmpPath)
		return trace.Wrap(err)
	}
	sessionsGauge.Set(float64(len(entries)))
	return nil
}

// ReadSnapshot reads the last persisted snapshot, returning an empty
// slice if none exists yet.
func (s *Store) ReadSnapshot() ([]SnapshotEntry, error) {
	data, err := os.ReadFile(s.snapshotPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, trace.Wrap(err)
	}
	var entries []SnapshotEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, trace.Wrap(err)
	}
	return entries, nil
}

// readAllLines reads every line of audit.jsonl, parsing each as an
// Event and silently skipping malformed lines.
func (s *Store) readAllLines() ([]Event, error) {
	f, err := os.Open(s.auditPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, trace.Wrap(err)
	}
	defer f.Close()

	var events []Event
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
	for scanner.Scan() {
		var e Event
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			continue
		}
		events = append(events, e)
	}
	if err := scanner.Err(); err != nil {
		return nil, trace.Wrap(err)
	}
	return events, nil
}
