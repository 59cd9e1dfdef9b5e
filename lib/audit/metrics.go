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

package audit

import "github.com/prometheus/client_golang/prometheus"

var (
	eventsEmitted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cfshare",
			Subsystem: "audit",
			Name:      "events_emitted_total",
			Help:      "Number of audit events appended, by event kind.",
		},
		[]string{"event"},
	)

	emitFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "cfshare",
			Subsystem: "audit",
			Name:      "emit_failures_total",
			Help:      "Number of audit events that failed to append to disk.",
		},
	)

	sessionsGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "cfshare",
			Subsystem: "audit",
			Name:      "sessions_in_snapshot",
			Help:      "Number of sessions recorded in the last snapshot write.",
		},
	)
)

// RegisterMetrics registers the audit package's collectors with reg.
// Call once per process; safe to skip in tests that do not care about
// metrics.
func RegisterMetrics(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{eventsEmitted, emitFailures, sessionsGauge} {
		if err := reg.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}
