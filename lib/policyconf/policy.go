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

// Package policyconf loads, merges, clamps and persists the operator
// policy that governs every exposure, and builds the path-ignore
// matcher used when copying files into a workspace.
package policyconf

import "time"

// AccessMode is the recognized set of per-exposure access controls.
type AccessMode string

const (
	AccessToken AccessMode = "token"
	AccessBasic AccessMode = "basic"
	AccessNone  AccessMode = "none"
)

// IPVersion is the edge IP version passed to the tunnel agent.
type IPVersion string

const (
	IPv4   IPVersion = "4"
	IPv6   IPVersion = "6"
	IPAuto IPVersion = "auto"
)

// TunnelProtocol is the transport protocol passed to the tunnel agent.
type TunnelProtocol string

const (
	ProtocolHTTP2 TunnelProtocol = "http2"
	ProtocolQUIC  TunnelProtocol = "quic"
	ProtocolAuto  TunnelProtocol = "auto"
)

// TunnelPolicy configures the external quick-tunnel agent.
type TunnelPolicy struct {
	EdgeIPVersion IPVersion      `json:"edgeIpVersion" mapstructure:"edgeIpVersion"`
	Protocol      TunnelProtocol `json:"protocol" mapstructure:"protocol"`
	// AgentPath overrides the binary resolved via PATH.
	AgentPath string `json:"agentPath,omitempty" mapstructure:"agentPath"`
}

// RateLimitPolicy configures the origin's per-IP fixed-window limiter.
type RateLimitPolicy struct {
	Enabled     bool `json:"enabled" mapstructure:"enabled"`
	WindowMs    int  `json:"windowMs" mapstructure:"windowMs"`
	MaxRequests int  `json:"maxRequests" mapstructure:"maxRequests"`
}

// Policy is the full set of recognized, bounded operator settings.
//
// Field names match the on-disk JSON patch format; Merge/clamp/validate
// never add unrecognized keys back into the effective policy.
type Policy struct {
	DefaultTTLSeconds        int             `json:"defaultTtlSeconds" mapstructure:"defaultTtlSeconds"`
	MaxTTLSeconds            int             `json:"maxTtlSeconds" mapstructure:"maxTtlSeconds"`
	DefaultExposePortAccess  AccessMode      `json:"defaultExposePortAccess" mapstructure:"defaultExposePortAccess"`
	DefaultExposeFilesAccess AccessMode      `json:"defaultExposeFilesAccess" mapstructure:"defaultExposeFilesAccess"`
	BlockedPorts             []int           `json:"blockedPorts" mapstructure:"blockedPorts"`
	AllowedPathRoots         []string        `json:"allowedPathRoots" mapstructure:"allowedPathRoots"`
	Tunnel                   TunnelPolicy    `json:"tunnel" mapstructure:"tunnel"`
	RateLimit                RateLimitPolicy `json:"rateLimit" mapstructure:"rateLimit"`
}

// blockedPortSet is a fast-lookup view of BlockedPorts.
func (p *Policy) blockedPortSet() map[int]struct{} {
	set := make(map[int]struct{}, len(p.BlockedPorts))
	for _, port := range p.BlockedPorts {
		set[port] = struct{}{}
	}
	return set
}

// IsPortBlocked reports whether port is disallowed by policy.
func (p *Policy) IsPortBlocked(port int) bool {
	_, blocked := p.blockedPortSet()[port]
	return blocked
}

// EffectiveTTL clamps requested to [MinTTL, MaxTTLSeconds].
func (p *Policy) EffectiveTTL(requestedSeconds int) time.Duration {
	min := 60
	max := p.MaxTTLSeconds
	if requestedSeconds <= 0 {
		requestedSeconds = p.DefaultTTLSeconds
	}
	if requestedSeconds < min {
		requestedSeconds = min
	}
	if requestedSeconds > max {
		requestedSeconds = max
	}
	return time.Duration(requestedSeconds) * time.Second
}

// Default returns the built-in defaults, the lowest-precedence layer
// of the policy merge.
func Default() Policy {
	return Policy{
		DefaultTTLSeconds:        1800,
		MaxTTLSeconds:            86400,
		DefaultExposePortAccess:  AccessToken,
		DefaultExposeFilesAccess: AccessToken,
		BlockedPorts:             []int{22, 25, 3389},
		AllowedPathRoots:         nil,
		Tunnel: TunnelPolicy{
			EdgeIPVersion: IPAuto,
			Protocol:      ProtocolAuto,
		},
		RateLimit: RateLimitPolicy{
			Enabled:     true,
			WindowMs:    60_000,
			MaxRequests: 600,
		},
	}
}
