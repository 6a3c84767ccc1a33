/*
 * Copyright 2025 tomoncle.
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package database

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "roam_db"

// Metrics groups the Prometheus collectors of the persistence layer. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	migrationsApplied  prometheus.Counter
	migrationRuns      *prometheus.CounterVec
	repairs            prometheus.Counter
	initializations    *prometheus.CounterVec
	initDuration       prometheus.Histogram
	handlesOpen        prometheus.Gauge
	handleAcquisitions *prometheus.CounterVec
	slowQueries        *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg. A nil reg
// leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		migrationsApplied: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "migrations_applied_total",
			Help:      "Number of migration scripts executed successfully.",
		}),
		migrationRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "migration_runs_total",
			Help:      "Number of migration runs by result.",
		}, []string{"result"}),
		repairs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "history_repairs_total",
			Help:      "Number of migration history repairs performed.",
		}),
		initializations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "initializations_total",
			Help:      "Number of connection factory initializations by result.",
		}, []string{"result"}),
		initDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "initialization_duration_seconds",
			Help:      "Time spent resolving, migrating and building the connection factory.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
		handlesOpen: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "handles_open",
			Help:      "Number of data-access handles currently checked out.",
		}),
		handleAcquisitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "handle_acquisitions_total",
			Help:      "Number of handle acquisitions by result.",
		}, []string{"result"}),
		slowQueries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "slow_queries_total",
			Help:      "Number of queries slower than the configured threshold.",
		}, []string{"operation"}),
	}

	if reg != nil {
		reg.MustRegister(
			m.migrationsApplied,
			m.migrationRuns,
			m.repairs,
			m.initializations,
			m.initDuration,
			m.handlesOpen,
			m.handleAcquisitions,
			m.slowQueries,
		)
	}
	return m
}

func resultLabel(err error) string {
	if err != nil {
		return "failure"
	}
	return "success"
}

func (m *Metrics) observeMigrationRun(executed int, err error) {
	if m == nil {
		return
	}
	m.migrationRuns.WithLabelValues(resultLabel(err)).Inc()
	m.migrationsApplied.Add(float64(executed))
}

func (m *Metrics) observeRepair() {
	if m == nil {
		return
	}
	m.repairs.Inc()
}

func (m *Metrics) observeInit(start time.Time, err error) {
	if m == nil {
		return
	}
	m.initializations.WithLabelValues(resultLabel(err)).Inc()
	m.initDuration.Observe(time.Since(start).Seconds())
}

func (m *Metrics) observeHandleAcquired(err error) {
	if m == nil {
		return
	}
	m.handleAcquisitions.WithLabelValues(resultLabel(err)).Inc()
	if err == nil {
		m.handlesOpen.Inc()
	}
}

func (m *Metrics) observeHandleReleased() {
	if m == nil {
		return
	}
	m.handlesOpen.Dec()
}

func (m *Metrics) observeSlowQuery(operation string) {
	if m == nil {
		return
	}
	m.slowQueries.WithLabelValues(operation).Inc()
}
