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

package policyconf

import (
	"fmt"

	"github.com/gravitational/trace"
	"github.com/mitchellh/mapstructure"
)

// topLevelKeys and nestedKeys describe the recognized shape of a policy
// patch. Anything outside this shape is dropped with a warning rather
// than silently retained, per the "Dynamic config objects" design note.
var topLevelKeys = map[string]bool{
	"defaultTtlSeconds":        true,
	"maxTtlSeconds":            true,
	"defaultExposePortAccess":  true,
	"defaultExposeFilesAccess": true,
	"blockedPorts":             true,
	"allowedPathRoots":         true,
	"tunnel":                   true,
	"rateLimit":                true,
}

var nestedKeys = map[string]map[string]bool{
	"tunnel": {
		"edgeIpVersion": true,
		"protocol":      true,
		"agentPath":     true,
	},
	"rateLimit": {
		"enabled":     true,
		"windowMs":    true,
		"maxRequests": true,
	},
}

// deepMerge merges patch onto base. Nested objects named in nestedKeys
// are merged key-by-key; everything else (including lists like
// blockedPorts/allowedPathRoots) is shallow-replaced. Unknown keys are
// dropped and reported via warn.
func deepMerge(base map[string]interface{}, patch map[string]interface{}, warn func(string)) map[string]interface{} {
	out := make(map[string]interface{}, len(base))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range patch {
		if !topLevelKeys[k] {
			if warn != nil {
				warn(fmt.Sprintf("ignoring unrecognized policy key %q", k))
			}
			continue
		}
		if allowed, ok := nestedKeys[k]; ok {
			patchObj, patchIsObj := v.(map[string]interface{})
			baseObj, _ := out[k].(map[string]interface{})
			if !patchIsObj {
				out[k] = v
				continue
			}
			merged := make(map[string]interface{}, len(baseObj))
			for bk, bv := range baseObj {
				merged[bk] = bv
			}
			for pk, pv := range patchObj {
				if !allowed[pk] {
					if warn != nil {
						warn(fmt.Sprintf("ignoring unrecognized policy key %q.%q", k, pk))
					}
					continue
				}
				merged[pk] = pv
			}
			out[k] = merged
			continue
		}
		out[k] = v
	}
	return out
}

// decode turns a merged generic map into a typed Policy, then clamps
// numeric fields and validates enums, emitting a warning and falling
// back to the built-in default for anything invalid.
func decode(merged map[string]interface{}) (Policy, []string, error) {
	policy := Default()
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &policy,
		WeaklyTypedInput: true,
		TagName:          "mapstructure",
	})
	if err != nil {
		return Policy{}, nil, trace.Wrap(err)
	}
	if err := dec.Decode(merged); err != nil {
		return Policy{}, nil, trace.Wrap(err, "decoding merged policy")
	}

	var warnings []string
	def := Default()
	warn := func(msg string) { warnings = append(warnings, msg) }

	if policy.MaxTTLSeconds < 60 {
		warn(fmt.Sprintf("maxTtlSeconds %d below minimum, clamped to 60", policy.MaxTTLSeconds))
		policy.MaxTTLSeconds = 60
	}
	if policy.DefaultTTLSeconds < 60 {
		policy.DefaultTTLSeconds = 60
	}
	if policy.DefaultTTLSeconds > policy.MaxTTLSeconds {
		policy.DefaultTTLSeconds = policy.MaxTTLSeconds
	}

	if !validAccessMode(policy.DefaultExposePortAccess) {
		warn(fmt.Sprintf("invalid defaultExposePortAccess %q, falling back to default", policy.DefaultExposePortAccess))
		policy.DefaultExposePortAccess = def.DefaultExposePortAccess
	}
	if !validAccessMode(policy.DefaultExposeFilesAccess) {
		warn(fmt.Sprintf("invalid defaultExposeFilesAccess %q, falling back to default", policy.DefaultExposeFilesAccess))
		policy.DefaultExposeFilesAccess = def.DefaultExposeFilesAccess
	}
	if !validIPVersion(policy.Tunnel.EdgeIPVersion) {
		warn(fmt.Sprintf("invalid tunnel.edgeIpVersion %q, falling back to default", policy.Tunnel.EdgeIPVersion))
		policy.Tunnel.EdgeIPVersion = def.Tunnel.EdgeIPVersion
	}
	if !validProtocol(policy.Tunnel.Protocol) {
		warn(fmt.Sprintf("invalid tunnel.protocol %q, falling back to default", policy.Tunnel.Protocol))
		policy.Tunnel.Protocol = def.Tunnel.Protocol
	}

	if policy.RateLimit.WindowMs < 1000 {
		policy.RateLimit.WindowMs = 1000
	}
	if policy.RateLimit.WindowMs > 3_600_000 {
		policy.RateLimit.WindowMs = 3_600_000
	}
	if policy.RateLimit.MaxRequests < 1 {
		policy.RateLimit.MaxRequests = 1
	}
	if policy.RateLimit.MaxRequests > 100_000 {
		policy.RateLimit.MaxRequests = 100_000
	}

	return policy, warnings, nil
}

func validAccessMode(m AccessMode) bool {
	switch m {
	case AccessToken, AccessBasic, AccessNone:
		return true
	}
	return false
}

func validIPVersion(v IPVersion) bool {
	switch v {
	case IPv4, IPv6, IPAuto:
		return true
	}
	return false
}

func validProtocol(p TunnelProtocol) bool {
	switch p {
	case ProtocolHTTP2, ProtocolQUIC, ProtocolAuto:
		return true
	}
	return false
}
