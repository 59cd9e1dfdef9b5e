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
	"time"

	"github.com/ystemsrx/openclaw-cfshare/lib/defaults"
)

// QueryFilters selects a subset of the audit log.
type QueryFilters struct {
	Event string
	ID    string
	Type  string
	Since string
	Until string
	Limit int
}

// Query reads audit.jsonl, applies filters, and returns at most the
// last Limit matching events, preserving file order.
func (s *Store) Query(f QueryFilters) ([]Event, error) {
	events, err := s.readAllLines()
	if err != nil {
		return nil, err
	}

	limit := f.Limit
	if limit <= 0 {
		limit = defaults.DefaultAuditQueryLimit
	}
	if limit > defaults.MaxAuditQueryLimit {
		limit = defaults.MaxAuditQueryLimit
	}

	var matched []Event
	for _, e := range events {
		if f.Event != "" && e.Event != f.Event {
			continue
		}
		if f.ID != "" && e.ID != f.ID {
			continue
		}
		if f.Type != "" && e.Type != f.Type {
			continue
		}
		if f.Since != "" && compareTimestamps(e.Ts, f.Since) < 0 {
			continue
		}
		if f.Until != "" && compareTimestamps(e.Ts, f.Until) > 0 {
			continue
		}
		matched = append(matched, e)
	}

	if len(matched) > limit {
		matched = matched[len(matched)-limit:]
	}
	return matched, nil
}

// compareTimestamps compares two ISO-8601 timestamps. It prefers
// numeric parsing; when either fails to parse it falls back to a
// lexical comparison, which is safe because fixed-offset ISO-8601 is
// lexicographically ordered.
func compareTimestamps(a, b string) int {
	ta, errA := time.Parse(time.RFC3339Nano, a)
	tb, errB := time.Parse(time.RFC3339Nano, b)
	if errA == nil && errB == nil {
		switch {
		case ta.Before(tb):
			return -1
		case ta.After(tb):
			return 1
		default:
			return 0
		}
	}
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}
