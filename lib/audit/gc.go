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
	"os"
	"path/filepath"
	"syscall"

	"github.com/gravitational/trace"
)

// GCResult summarizes one maintenance.run_gc pass.
type GCResult struct {
	RemovedWorkspaces []string
	SignaledPIDs      []int
}

// RunGC removes every workspace subdirectory not referenced by a live
// session and SIGTERMs any process recorded in the last snapshot that
// is still alive but no longer tracked.
func (s *Store) RunGC(workspacesRoot string, liveIDs map[string]bool, liveParentPIDs map[int]bool) (GCResult, error) {
	var result GCResult

	entries, err := os.ReadDir(workspacesRoot)
	if err != nil {
		if !os.IsNotExist(err) {
			return result, trace.Wrap(err)
		}
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if liveIDs[entry.Name()] {
			continue
		}
		path := filepath.Join(workspacesRoot, entry.Name())
		if err := os.RemoveAll(path); err != nil {
			continue
		}
		result.RemovedWorkspaces = append(result.RemovedWorkspaces, path)
	}

	snapshot, err := s.ReadSnapshot()
	if err != nil {
		return result, trace.Wrap(err)
	}
	for _, entry := range snapshot {
		if entry.ProcessPID == 0 || liveParentPIDs[entry.ProcessPID] {
			continue
		}
		if processAlive(entry.ProcessPID) {
			_ = syscall.Kill(entry.ProcessPID, syscall.SIGTERM)
			result.SignaledPIDs = append(result.SignaledPIDs, entry.ProcessPID)
		}
	}

	s.Emit(EventGCRun, "", "", map[string]interface{}{
		"removed_workspaces": len(result.RemovedWorkspaces),
		"signaled_pids":      len(result.SignaledPIDs),
	})
	return result, nil
}

// processAlive reports whether pid refers to a live process, using
// the kill(pid, 0) liveness probe.
func processAlive(pid int) bool {
	return syscall.Kill(pid, syscall.Signal(0)) == nil
}
