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

// Package access implements the origin-side authorization, path
// allow-listing, and per-IP rate limiting shared by the reverse proxy
// and static file origins.
package access

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/ystemsrx/openclaw-cfshare/lib/policyconf"
)

// State is the immutable, per-origin snapshot of access control
// copied in at origin start time.
type State struct {
	Mode           policyconf.AccessMode
	Token          string
	Username       string
	Password       string
	ProtectOrigin  bool
	AllowlistPaths []string
}

// Allowed reports whether r carries valid credentials for s.
// Token/basic credentials are compared in constant time.
func (s *State) Allowed(r *http.Request) bool {
	if s.Mode == policyconf.AccessNone || !s.ProtectOrigin {
		return true
	}

	switch s.Mode {
	case policyconf.AccessToken:
		return s.tokenMatches(extractToken(r))
	case policyconf.AccessBasic:
		user, pass, ok := r.BasicAuth()
		if !ok {
			return false
		}
		return constantTimeEqual(user, s.Username) && constantTimeEqual(pass, s.Password)
	default:
		return true
	}
}

func (s *State) tokenMatches(candidate string) bool {
	if candidate == "" {
		return false
	}
	return constantTimeEqual(candidate, s.Token)
}

func extractToken(r *http.Request) string {
	if t := r.URL.Query().Get("token"); t != "" {
		return t
	}
	if t := r.Header.Get("X-Cfshare-Token"); t != "" {
		return t
	}
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return ""
}

func constantTimeEqual(a, b string) bool {
	if len(a) != len(b) {
		// Still run a comparison of equal (dummy) length so callers
		// cannot distinguish a length mismatch from a content
		// mismatch by timing.
		subtle.ConstantTimeCompare([]byte(a), []byte(a))
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// WriteUnauthorized writes the 401 JSON error response, with a
// WWW-Authenticate challenge in basic mode.
func (s *State) WriteUnauthorized(w http.ResponseWriter) {
	if s.Mode == policyconf.AccessBasic {
		w.Header().Set("WWW-Authenticate", `Basic realm="cfshare"`)
	}
	writeJSONError(w, http.StatusUnauthorized, "unauthorized", nil)
}

// PathAllowed reports whether reqPath is permitted by the allow-list.
// An empty allow-list permits everything.
func (s *State) PathAllowed(reqPath string) bool {
	if len(s.AllowlistPaths) == 0 {
		return true
	}
	for _, prefix := range s.AllowlistPaths {
		if reqPath == prefix || strings.HasPrefix(reqPath, prefix+"/") {
			return true
		}
	}
	return false
}

// WritePathNotAllowed writes the 403 JSON error response.
func WritePathNotAllowed(w http.ResponseWriter, path string) {
	writeJSONError(w, http.StatusForbidden, "path_not_allowed", map[string]interface{}{"path": path})
}

func writeJSONError(w http.ResponseWriter, status int, kind string, extra map[string]interface{}) {
	body := map[string]interface{}{"error": kind}
	for k, v := range extra {
		body[k] = v
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
