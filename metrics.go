// Copyright (C) 2024  wwhai
//
// This program is free software; you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation; either version 2 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License along
// with this program; if not, see <https://www.gnu.org/licenses/>.

package regsim

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Role labels used on every metric.
const (
	RoleHost   = "host"
	RoleDevice = "device"
	RoleMaster = "master"
	RoleSlave  = "slave"
)

var (
	registerOnce sync.Once

	requestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "regsim",
			Subsystem: "engine",
			Name:      "requests_total",
			Help:      "Requests issued by masters or received by slaves.",
		},
		[]string{"role"},
	)
	responsesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "regsim",
			Subsystem: "engine",
			Name:      "responses_total",
			Help:      "Responses sent by slaves or received by masters.",
		},
		[]string{"role"},
	)
	errorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "regsim",
			Subsystem: "engine",
			Name:      "errors_total",
			Help:      "Error responses by kind.",
		},
		[]string{"role", "kind"},
	)
	outcomesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "regsim",
			Subsystem: "correlator",
			Name:      "outcomes_total",
			Help:      "Resolved requests by outcome.",
		},
		[]string{"role", "outcome"},
	)
	roundTrip = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "regsim",
			Subsystem: "correlator",
			Name:      "round_trip_seconds",
			Help:      "Time from request to matched response.",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 3},
		},
		[]string{"role"},
	)
	framesDroppedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "regsim",
			Subsystem: "stream",
			Name:      "frames_dropped_total",
			Help:      "Complete frames discarded because they failed to decode.",
		},
		[]string{"role"},
	)
	connectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "regsim",
			Subsystem: "stream",
			Name:      "connections_total",
			Help:      "Connection state changes.",
		},
		[]string{"role", "state"},
	)
)

// RegisterMetrics registers the collectors with the default registry once.
func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(requestsTotal, responsesTotal, errorsTotal, outcomesTotal,
			roundTrip, framesDroppedTotal, connectionsTotal)
	})
}

func recordRequest(role string)  { requestsTotal.WithLabelValues(role).Inc() }
func recordResponse(role string) { responsesTotal.WithLabelValues(role).Inc() }

func recordError(role, kind string) {
	errorsTotal.WithLabelValues(role, kind).Inc()
}

func recordOutcome(role string, c Completion) {
	outcomesTotal.WithLabelValues(role, c.Outcome.String()).Inc()
	if c.Outcome == Matched {
		roundTrip.WithLabelValues(role).Observe(c.Elapsed.Seconds())
	}
}

func recordDropped(role string, n int) {
	if n > 0 {
		framesDroppedTotal.WithLabelValues(role).Add(float64(n))
	}
}

func recordConnection(role, state string) {
	connectionsTotal.WithLabelValues(role, state).Inc()
}
