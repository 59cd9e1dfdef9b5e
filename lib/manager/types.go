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
	"time"

	"github.com/ystemsrx/openclaw-cfshare/lib/origin"
	"github.com/ystemsrx/openclaw-cfshare/lib/session"
)

// ExposePortRequest is the input to ExposePort.
type ExposePortRequest struct {
	Port           int
	TTLSeconds     int
	Access         string // "token", "basic", "none", or "" to use policy default
	AllowlistPaths []string
	MaxDownloads   int
	ProtectOrigin  *bool
}

// ExposeFilesRequest is the input to ExposeFiles.
type ExposeFilesRequest struct {
	Inputs         []string
	TTLSeconds     int
	Access         string
	Zip            bool
	Presentation   string
	MaxDownloads   int
	AllowlistPaths []string
	ProtectOrigin  *bool
}

// SessionInfo is the read-only projection of a Session returned to
// callers.
type SessionInfo struct {
	ID        string         `json:"id"`
	Type      session.Type   `json:"type"`
	Status    session.Status `json:"status"`
	CreatedAt time.Time      `json:"created_at"`
	ExpiresAt time.Time      `json:"expires_at"`

	SourcePort int    `json:"source_port,omitempty"`
	PublicURL  string `json:"public_url"`
	LocalURL   string `json:"local_url,omitempty"`

	Access AccessView `json:"access"`

	Stats     session.Stats `json:"stats"`
	LastError string        `json:"last_error,omitempty"`

	Manifest  []origin.ManifestEntry `json:"manifest,omitempty"`
	Truncated bool                   `json:"manifest_truncated,omitempty"`

	PublicProbe *PublicProbeResult `json:"public_probe,omitempty"`
}

// PublicProbeResult is the outcome of the optional probe_public HEAD
// request against a session's public URL.
type PublicProbeResult struct {
	Ok     bool   `json:"ok"`
	Status int    `json:"status,omitempty"`
	Error  string `json:"error,omitempty"`
}

// AccessView is the masked form of AccessInfo returned to callers.
type AccessView struct {
	Mode           string `json:"mode"`
	MaskedToken    string `json:"masked_token,omitempty"`
	Username       string `json:"username,omitempty"`
	MaskedPassword string `json:"masked_password,omitempty"`
	ProtectOrigin  bool   `json:"protect_origin"`
}

// StopResult reports the outcome of one Stop call.
type StopResult struct {
	Stopped []string          `json:"stopped"`
	Failed  map[string]string `json:"failed"`
	Cleaned []string          `json:"cleaned"`
}

// SessionFilter is the third input shape Get accepts: a predicate
// over the live table instead of explicit ids.
// Empty fields match everything.
type SessionFilter struct {
	Status string `json:"status,omitempty"`
	Type   string `json:"type,omitempty"`
}

// GetRequest selects which sessions Get returns and how they are
// projected. Exactly one of ID/IDs/All/Filter is
// expected; Fields optionally projects each result down to the named
// top-level JSON fields.
type GetRequest struct {
	ID          string
	IDs         []string
	All         bool
	Filter      *SessionFilter
	Fields      []string
	ProbePublic bool
}

// GetResult is Get's selection plus the top-level truncation flag set
// when the selection itself was capped. Projected is populated
// instead of Sessions when the request named explicit fields.
type GetResult struct {
	Sessions  []SessionInfo            `json:"sessions,omitempty"`
	Projected []map[string]interface{} `json:"projected,omitempty"`
	Truncated bool                     `json:"truncated,omitempty"`
}

// StopRequest selects which sessions Stop terminates.
type StopRequest struct {
	ID  string
	IDs []string
	All bool
}

// LogsRequest selects a window of one or more sessions' log ring
// buffers.
type LogsRequest struct {
	ID           string
	IDs          []string
	All          bool
	Lines        int
	SinceSeconds int
	Component    string
}
