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
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
)

func TestEmitAndQueryRoundTrip(t *testing.T) {
	dir := t.TempDir()
	clock := clockwork.NewFakeClockAt(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	s := NewStore(dir, clock, nil)

	s.Emit(EventExposureStarted, "pt_1", "port", nil)
	clock.Advance(time.Minute)
	s.Emit(EventExposureStopped, "pt_1", "port", map[string]interface{}{"reason": "user_stop"})

	all, err := s.Query(QueryFilters{})
	require.NoError(t, err)
	require.Len(t, all, 2)

	started, err := s.Query(QueryFilters{Event: EventExposureStarted})
	require.NoError(t, err)
	require.Len(t, started, 1)
	require.Equal(t, "pt_1", started[0].ID)
}

func TestQuerySkipsMalformedLines(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(dir, clockwork.NewFakeClock(), nil)
	s.Emit(EventGCRun, "", "", nil)

	f, err := os.OpenFile(s.auditPath(), os.O_APPEND|os.O_WRONLY, 0o600)
	require.NoError(t, err)
	_, err = f.WriteString("not json\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	events, err := s.Query(QueryFilters{})
	require.NoError(t, err)
	require.Len(t, events, 1)
}

func TestQueryLimitTrimsOldest(t *testing.T) {
	dir := t.TempDir()
	clock := clockwork.NewFakeClock()
	s := NewStore(dir, clock, nil)
	for i := 0; i < 5; i++ {
		s.Emit(EventGCRun, "", "", nil)
		clock.Advance(time.Second)
	}
	events, err := s.Query(QueryFilters{Limit: 2})
	require.NoError(t, err)
	require.Len(t, events, 2)
	require.Equal(t, FormatTimestamp(clock.Now().Add(-2*time.Second)), events[0].Ts)
	require.Equal(t, FormatTimestamp(clock.Now().Add(-1*time.Second)), events[1].Ts)
}

func TestWriteSnapshotAtomicReplace(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(dir, clockwork.NewFakeClock(), nil)

	require.NoError(t, s.WriteSnapshot([]SnapshotEntry{{ID: "pt_1", Type: "port", Status: "running"}}))
	back, err := s.ReadSnapshot()
	require.NoError(t, err)
	require.Len(t, back, 1)
	require.Equal(t, "pt_1", back[0].ID)

	require.NoError(t, s.WriteSnapshot(nil))
	back2, err := s.ReadSnapshot()
	require.NoError(t, err)
	require.Empty(t, back2)

	leftovers, err := filepath.Glob(filepath.Join(dir, "sessions-*.json.tmp"))
	require.NoError(t, err)
	require.Empty(t, leftovers)
}

func TestExportWritesJSONLAndRecordsEvent(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(dir, clockwork.NewFakeClock(), nil)
	s.Emit(EventExposureStarted, "pt_1", "port", nil)

	path, count, err := s.Export(QueryFilters{}, "")
	require.NoError(t, err)
	require.Equal(t, 1, count)
	require.FileExists(t, path)

	events, err := s.Query(QueryFilters{Event: EventAuditExported})
	require.NoError(t, err)
	require.Len(t, events, 1)
}

func TestRunGCRemovesOrphanWorkspaces(t *testing.T) {
	dir := t.TempDir()
	workspaces := filepath.Join(dir, "workspaces")
	require.NoError(t, os.MkdirAll(filepath.Join(workspaces, "live"), 0o700))
	require.NoError(t, os.MkdirAll(filepath.Join(workspaces, "orphan"), 0o700))

	s := NewStore(dir, clockwork.NewFakeClock(), nil)
	result, err := s.RunGC(workspaces, map[string]bool{"live": true}, map[int]bool{})
	require.NoError(t, err)
	require.Len(t, result.RemovedWorkspaces, 1)
	require.DirExists(t, filepath.Join(workspaces, "live"))
	require.NoDirExists(t, filepath.Join(workspaces, "orphan"))
}
