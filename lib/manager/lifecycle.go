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

package manager

import (
	"context"
	"os"

	"golang.org/x/sync/errgroup"

	"github.com/ystemsrx/openclaw-cfshare/lib/audit"
	"github.com/ystemsrx/openclaw-cfshare/lib/session"
)

// terminate runs the guarded, single-transition critical section for
// a session: it wins the race to move s into a terminal
// status exactly once, then unwinds every resource s owns concurrently
// (tunnel child, origin server, workspace directory), records the
// audit event, and drops s from the live table. A racing caller whose
// TryTerminate loses treats the session as already gone; terminate
// reports false so Stop can surface "not_found" for that id.
func (m *Manager) terminate(ctx context.Context, s *session.Session, target session.Status, errMsg string) bool {
	if !s.TryTerminate(target, errMsg) {
		return false
	}

	// Cleanup functions (TTL cancel, origin close, tunnel terminate) are
	// independent of one another, so they run concurrently via an
	// errgroup; best-effort cleanup errors are logged, never
	// propagated.
	var g errgroup.Group
	for _, fn := range s.Cleanup {
		fn := fn
		g.Go(func() error { return fn() })
	}
	if err := g.Wait(); err != nil {
		s.AppendLog(session.ComponentManager, "cleanup error: "+err.Error(), m.cfg.Clock.Now())
	}

	if s.WorkspaceDir != "" {
		_ = os.RemoveAll(s.WorkspaceDir)
	}

	event := audit.EventExposureStopped
	reason := "user_stop"
	switch target {
	case session.StatusExpired:
		event = audit.EventExposureExpired
		reason = "ttl_expired"
	case session.StatusError:
		reason = "runtime_error"
	}
	if errMsg != "" {
		reason = errMsg
	}
	m.auditStore.Emit(event, s.Id, string(s.Type), map[string]interface{}{"reason": reason})

	m.table.Remove(s.Id)
	m.writeSnapshot()
	return true
}

// writeSnapshot persists the current table as the on-disk snapshot
// used by maintenance.run_gc and process restarts to reconcile live
// PIDs.
func (m *Manager) writeSnapshot() {
	snap := m.table.Snapshot()
	entries := make([]audit.SnapshotEntry, 0, len(snap))
	for _, s := range snap {
		entries = append(entries, audit.SnapshotEntry{
			ID:           s.Id,
			Type:         string(s.Type),
			Status:       string(s.Status()),
			ExpiresAt:    s.ExpiresAt,
			WorkspaceDir: s.WorkspaceDir,
			ProcessPID:   s.ProcessPID,
		})
	}
	_ = m.auditStore.WriteSnapshot(entries)
}

// armTTLTimer schedules s's expiry-triggered termination. The returned
// CloseFunc cancels the timer and is appended to s.Cleanup so a
// user-initiated stop never races a TTL firing after the fact.
func (m *Manager) armTTLTimer(s *session.Session) session.CloseFunc {
	timer := m.cfg.Clock.NewTimer(s.ExpiresAt.Sub(m.cfg.Clock.Now()))
	stop := make(chan struct{})
	go func() {
		select {
		case <-timer.Chan():
			m.terminate(context.Background(), s, session.StatusExpired, "")
		case <-stop:
			timer.Stop()
		}
	}()
	return func() error {
		close(stop)
		return nil
	}
}
