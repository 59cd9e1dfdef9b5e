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

// Package audit implements the append-only event log and session
// snapshot persisted under the state directory.
package audit

import "time"

// Event kinds.
const (
	EventExposureStarted = "exposure_started"
	EventExposureStopped = "exposure_stopped"
	EventExposureExpired = "exposure_expired"
	EventPolicyUpdated   = "policy_updated"
	EventGCRun           = "gc_run"
	EventAuditExported   = "audit_exported"
)

// Event is one append-only audit record.
type Event struct {
	Ts      string                 `json:"ts"`
	Event   string                 `json:"event"`
	ID      string                 `json:"id,omitempty"`
	Type    string                 `json:"type,omitempty"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// SnapshotEntry is one element of sessions.json.
type SnapshotEntry struct {
	ID           string    `json:"id"`
	Type         string    `json:"type"`
	Status       string    `json:"status"`
	ExpiresAt    time.Time `json:"expiresAt"`
	WorkspaceDir string    `json:"workspaceDir,omitempty"`
	ProcessPID   int       `json:"processPid,omitempty"`
}

// FormatTimestamp renders t as ISO-8601 with millisecond precision and
// a fixed numeric offset.
func FormatTimestamp(t time.Time) string {
	return t.Format("2006-01-02T15:04:05.000Z07:00")
}
