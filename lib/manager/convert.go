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
	"github.com/ystemsrx/openclaw-cfshare/lib/origin"
	"github.com/ystemsrx/openclaw-cfshare/lib/policyconf"
	"github.com/ystemsrx/openclaw-cfshare/lib/session"
)

// toSessionManifest copies an origin-built manifest into the
// session-local shape held on Session.Manifest (lib/session cannot
// import lib/origin; see the type's doc comment).
func toSessionManifest(entries []origin.ManifestEntry) []session.ManifestEntry {
	out := make([]session.ManifestEntry, len(entries))
	for i, e := range entries {
		out[i] = session.ManifestEntry{
			Name:        e.Name,
			Size:        e.Size,
			Sha256:      e.Sha256,
			RelativeURL: e.RelativeURL,
			ModifiedAt:  e.ModifiedAt,
		}
	}
	return out
}

// toOriginManifest is the inverse conversion used when projecting a
// session's manifest back out through get(), applying the hard
// per-item pagination cap.
func toOriginManifest(entries []session.ManifestEntry, cap int) ([]origin.ManifestEntry, bool) {
	truncated := false
	if cap > 0 && len(entries) > cap {
		entries = entries[:cap]
		truncated = true
	}
	out := make([]origin.ManifestEntry, len(entries))
	for i, e := range entries {
		out[i] = origin.ManifestEntry{
			Name:        e.Name,
			Size:        e.Size,
			Sha256:      e.Sha256,
			RelativeURL: e.RelativeURL,
			ModifiedAt:  e.ModifiedAt,
		}
	}
	return out, truncated
}

// maskAccess projects a session's full AccessInfo down to the masked
// view returned by get().
func maskAccess(a session.AccessInfo, protectOrigin bool) AccessView {
	v := AccessView{Mode: a.Mode, ProtectOrigin: protectOrigin}
	switch policyconf.AccessMode(a.Mode) {
	case policyconf.AccessToken:
		v.MaskedToken = maskSecret(a.Token)
	case policyconf.AccessBasic:
		v.Username = a.Username
		v.MaskedPassword = maskSecret(a.Password)
	}
	return v
}

// toSessionInfo projects a live Session into the read-only SessionInfo
// returned across the public surface, capping its manifest to cap
// entries.
func (m *Manager) toSessionInfo(s *session.Session, cap int) (SessionInfo, bool) {
	manifest, truncated := toOriginManifest(s.Manifest, cap)
	return SessionInfo{
		ID:         s.Id,
		Type:       s.Type,
		Status:     s.Status(),
		CreatedAt:  s.CreatedAt,
		ExpiresAt:  s.ExpiresAt,
		SourcePort: s.SourcePort,
		PublicURL:  s.PublicURL,
		LocalURL:   s.LocalURL,
		Access:     maskAccess(s.Access, s.ProtectOrigin),
		Stats:      s.StatsSnapshot(),
		LastError:  s.LastError(),
		Manifest:   manifest,
		Truncated:  truncated,
	}, truncated
}
