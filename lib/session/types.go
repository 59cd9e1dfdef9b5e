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

// Package session holds the Session data model: the state
// machine, the bounded log ring buffer, the monotonic stats counters,
// and the table that owns every live session's OS resources.
package session

import (
	"sync"
	"time"
)

// Type distinguishes a port exposure from a files exposure.
type Type string

const (
	TypePort  Type = "port"
	TypeFiles Type = "files"
)

// Status is one node of the session lifecycle's acyclic state graph.
type Status string

const (
	StatusStarting Status = "starting"
	StatusRunning  Status = "running"
	StatusStopped  Status = "stopped"
	StatusError    Status = "error"
	StatusExpired  Status = "expired"
)

// Terminal reports whether s is one of the three terminal states.
func (s Status) Terminal() bool {
	switch s {
	case StatusStopped, StatusError, StatusExpired:
		return true
	}
	return false
}

// Component identifies the origin of a log line.
type Component string

const (
	ComponentTunnel  Component = "tunnel"
	ComponentOrigin  Component = "origin"
	ComponentManager Component = "manager"
)

// ManifestEntry is the session-side copy of a catalogued workspace
// file. It duplicates origin.ManifestEntry's
// shape rather than importing lib/origin, keeping this package a leaf
// with no dependency on the HTTP-serving layer above it.
type ManifestEntry struct {
	Name        string    `json:"name"`
	Size        int64     `json:"size"`
	Sha256      string    `json:"sha256"`
	RelativeURL string    `json:"relative_url"`
	ModifiedAt  time.Time `json:"modified_at"`
}

// LogEntry is one line in a session's ring buffer.
type LogEntry struct {
	Ts        time.Time `json:"ts"`
	Component Component `json:"component"`
	Line      string    `json:"line"`
}

// AccessInfo describes how a session is protected. Secrets are never
// exposed in full outside the process; the manager's get projection
// returns the masked form (AccessView's MaskedToken/MaskedPassword).
type AccessInfo struct {
	Mode     string `json:"mode"`
	Token    string `json:"token,omitempty"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
}

// Stats are a session's monotonic usage counters. Every field is
// mutated only through Session's locked accessors.
type Stats struct {
	Requests     int64     `json:"requests"`
	Downloads    int64     `json:"downloads"`
	BytesSent    int64     `json:"bytes_sent"`
	LastAccessAt time.Time `json:"last_access_at"`
}

// CloseFunc stops an origin or tunnel resource; it is idempotent.
type CloseFunc func() error

// Session is one exposure. Fields set at creation (Id, Type, CreatedAt,
// ExpiresAt, SourcePort, WorkspaceDir, Access) are immutable after
// Insert. Status/Stats/Logs are guarded by mu and accessed only
// through the methods below so that HTTP handlers never need the
// table-wide lock.
type Session struct {
	mu sync.Mutex

	Id        string
	Type      Type
	CreatedAt time.Time
	ExpiresAt time.Time

	SourcePort int
	OriginPort int

	WorkspaceDir string

	Access        AccessInfo
	ProtectOrigin bool
	MaxDownloads  int

	PublicURL string
	LocalURL  string

	// Presentation and Mode are set at creation for a files exposure;
	// Manifest is set once during bring-up, after Insert. None of the
	// three is mutated afterward.
	Manifest     []ManifestEntry
	Presentation string
	Mode         string

	// AllowlistPaths mirrors the access-control snapshot handed to the
	// origin, kept here too so get() can report it without reaching
	// into the origin.
	AllowlistPaths []string

	status    Status
	lastError string

	stats Stats
	logs  []LogEntry

	// Cleanup is filled in by the lifecycle manager with the close
	// functions for everything the session owns: the tunnel child, the
	// origin/proxy servers, and the workspace directory removal. It is
	// invoked exactly once, inside the guarded terminal transition.
	Cleanup []CloseFunc

	// ProcessPID is the tunnel agent's PID, recorded for the snapshot
	// and for maintenance.run_gc liveness checks.
	ProcessPID int
}

// New constructs a session in the "starting" state.
func New(id string, typ Type, createdAt time.Time, ttl time.Duration) *Session {
	return &Session{
		Id:        id,
		Type:      typ,
		CreatedAt: createdAt,
		ExpiresAt: createdAt.Add(ttl),
		status:    StatusStarting,
	}
}

// Status returns the current status under lock.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// LastError returns the last recorded runtime error message, if any.
func (s *Session) LastError() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastError
}

// SetRunning transitions starting -> running. Returns false if the
// session was not in "starting" (e.g. a racing terminal transition
// already fired).
func (s *Session) SetRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != StatusStarting {
		return false
	}
	s.status = StatusRunning
	return true
}

// TryTerminate moves the session into a terminal status exactly once.
// It returns true the first time it is called for any given session;
// subsequent calls (from a racing TTL timer, reaper, child-exit
// listener, or user stop) return false, which callers must treat as
// not_found: the transition has already happened.
func (s *Session) TryTerminate(target Status, errMsg string) bool {
	if !target.Terminal() {
		panic("TryTerminate requires a terminal status")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status.Terminal() {
		return false
	}
	s.status = target
	if errMsg != "" {
		s.lastError = errMsg
	}
	return true
}

// IncrRequest bumps stats.requests and last-access time.
func (s *Session) IncrRequest(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats.Requests++
	s.stats.LastAccessAt = now
}

// IncrDownload bumps stats.downloads/bytesSent and reports the new
// download count plus whether maxDownloads (if set) has been reached.
func (s *Session) IncrDownload(bytesSent int64, now time.Time) (downloads int64, limitReached bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats.Downloads++
	s.stats.BytesSent += bytesSent
	s.stats.LastAccessAt = now
	if s.MaxDownloads > 0 && s.stats.Downloads >= int64(s.MaxDownloads) {
		return s.stats.Downloads, true
	}
	return s.stats.Downloads, false
}

// AddBytesSent records bytes streamed by a non-download response (e.g.
// a proxied request body).
func (s *Session) AddBytesSent(n int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats.BytesSent += n
}

// StatsSnapshot returns a copy of the current counters.
func (s *Session) StatsSnapshot() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

const maxLogLines = 4000

// AppendLog appends a line to the bounded ring buffer, dropping the
// oldest entry once len(logs) would exceed maxLogLines.
func (s *Session) AppendLog(component Component, line string, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs = append(s.logs, LogEntry{Ts: now, Component: component, Line: line})
	if len(s.logs) > maxLogLines {
		s.logs = s.logs[len(s.logs)-maxLogLines:]
	}
}

// LogsSnapshot returns a copy of the current log lines.
func (s *Session) LogsSnapshot() []LogEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]LogEntry, len(s.logs))
	copy(out, s.logs)
	return out
}
