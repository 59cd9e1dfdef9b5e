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

// Package defaults contains default constants used across the
// exposure manager and its supporting packages.
package defaults

import "time"

const (
	// MinTTL is the lowest TTL a session may be clamped to.
	MinTTL = 60 * time.Second

	// DefaultTTL is used when a policy specifies no default.
	DefaultTTL = 30 * time.Minute

	// MaxTTL is used when a policy specifies no maximum.
	MaxTTL = 24 * time.Hour

	// LocalProbeTimeout bounds probeLocalPort.
	LocalProbeTimeout = 1200 * time.Millisecond

	// TunnelReadyTimeout bounds how long the supervisor waits for a
	// public URL to appear on the agent's stdout/stderr.
	TunnelReadyTimeout = 30 * time.Second

	// TunnelTerminateGrace is the delay between SIGTERM and SIGKILL when
	// tearing down the tunnel agent.
	TunnelTerminateGrace = 2500 * time.Millisecond

	// TunnelSpawnAttempts is the number of times the supervisor will
	// retry spawning the agent before giving up.
	TunnelSpawnAttempts = 2

	// PublicURLProbeTimeout bounds the optional HEAD probe issued by
	// get(probe_public: true).
	PublicURLProbeTimeout = 3 * time.Second

	// ReaperInterval is how often the reaper scans the session table
	// for expired sessions.
	ReaperInterval = 30 * time.Second

	// MaxLogLines is the capacity of a session's ring buffer of log
	// entries.
	MaxLogLines = 4000

	// MaxAuditQueryLimit bounds auditQuery's limit parameter.
	MaxAuditQueryLimit = 10_000

	// DefaultAuditQueryLimit is used when no limit is supplied.
	DefaultAuditQueryLimit = 500

	// MaxLogsQueryLines bounds the logs() query's line count.
	MaxLogsQueryLines = 1000

	// MinRateLimitWindow and MaxRateLimitWindow bound
	// Policy.RateLimit.WindowMs.
	MinRateLimitWindow = 1000 * time.Millisecond
	MaxRateLimitWindow = 3_600_000 * time.Millisecond

	// MinRateLimitRequests and MaxRateLimitRequests bound
	// Policy.RateLimit.MaxRequests.
	MinRateLimitRequests = 1
	MaxRateLimitRequests = 100_000

	// MaxGetItemsSingle and MaxGetItemsMulti bound the get() manifest
	// pagination.
	MaxGetItemsSingle = 200
	MaxGetItemsMulti  = 20

	// MaxGetSelection caps how many sessions a single get() call may
	// select before the top-level truncation flag is raised.
	MaxGetSelection = 200

	// DefaultAgentBinary is resolved via exec.LookPath unless the
	// policy supplies an absolute path.
	DefaultAgentBinary = "cloudflared"

	// BundleFilename is the name of the zip-mode bundle file, excluded
	// from its own manifest entry's content.
	BundleFilename = "_cfshare_bundle.zip"

	// BasicAuthUsername is the fixed username used for basic-auth
	// sessions; only the password is randomized.
	BasicAuthUsername = "cfshare"
)
