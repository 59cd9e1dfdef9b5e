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

// Package manager implements the ExposureManager: the public surface
// (C9) and the session lifecycle (C7) that ties together policy,
// access control, the two origin kinds, and the tunnel supervisor.
package manager

import "fmt"

// Kind is a signalled error kind.
type Kind string

const (
	KindInvalidInput     Kind = "invalid_input"
	KindPolicyViolation  Kind = "policy_violation"
	KindNotFound         Kind = "not_found"
	KindLocalUnreachable Kind = "local_unreachable"
	KindAgentNotFound    Kind = "agent_not_found"
	KindTunnelStartup    Kind = "tunnel_startup_failure"
	KindAgentExitWhileUp Kind = "agent_exit_while_running"
	KindInternal         Kind = "internal_error"
)

// Error carries a Kind alongside a human-readable message, so callers
// can switch on Kind without a distinct Go type per failure mode.
type Error struct {
	Kind    Kind
	Message string
}

func (e *Error) Error() string { return e.Message }

// Errorf builds an *Error of the given kind.
func Errorf(kind Kind, format string, args ...interface{}) error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// KindOf extracts the Kind from err, defaulting to internal_error for
// errors that did not originate from this package.
func KindOf(err error) Kind {
	if e, ok := err.(*Error); ok {
		return e.Kind
	}
	return KindInternal
}
