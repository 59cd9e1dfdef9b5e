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
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"

	"github.com/gravitational/trace"

	"github.com/ystemsrx/openclaw-cfshare/lib/defaults"
)

// Export runs Query with the maximum limit and writes the results as
// JSONL to outputPath, defaulting to
// <stateDir>/exports/audit-<base36-ms>.jsonl, then records an
// audit_exported event.
func (s *Store) Export(f QueryFilters, outputPath string) (string, int, error) {
	f.Limit = defaults.MaxAuditQueryLimit
	events, err := s.Query(f)
	if err != nil {
		return "", 0, trace.Wrap(err)
	}

	if outputPath == "" {
		outputPath = filepath.Join(s.exportsDir(), "audit-"+strconv.FormatInt(s.clock.Now().UnixMilli(), 36)+".jsonl")
	}
	if err := os.MkdirAll(filepath.Dir(outputPath), 0o700); err != nil {
		return "", 0, trace.Wrap(err)
	}

	out, err := os.OpenFile(outputPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return "", 0, trace.Wrap(err)
	}
	defer out.Close()

	enc := json.NewEncoder(out)
	for _, e := range events {
		if err := enc.Encode(e); err != nil {
			return "", 0, trace.Wrap(err)
		}
	}

	s.Emit(EventAuditExported, "", "", map[string]interface{}{
		"output_path": outputPath,
		"count":       len(events),
	})
	return outputPath, len(events), nil
}
