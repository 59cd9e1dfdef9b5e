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

	"github.com/ystemsrx/openclaw-cfshare/lib/defaults"
	"github.com/ystemsrx/openclaw-cfshare/lib/session"
)

// reaperLoop enumerates a table snapshot every tick and stops every
// running session past its expiry.
func (m *Manager) reaperLoop() {
	defer close(m.reaperDone)

	ticker := m.cfg.Clock.NewTicker(defaults.ReaperInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.Chan():
			m.reapOnce()
		case <-m.reaperStop:
			return
		}
	}
}

func (m *Manager) reapOnce() {
	now := m.cfg.Clock.Now()
	for _, s := range m.table.Snapshot() {
		if s.Status() != session.StatusRunning {
			continue
		}
		if !s.ExpiresAt.Before(now) && !s.ExpiresAt.Equal(now) {
			continue
		}
		m.terminate(context.Background(), s, session.StatusExpired, "")
	}
}
