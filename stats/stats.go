/*
Copyright (c) Clockwerk.io and its affiliates.

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

// Package stats counts what the engine does and exposes it to Prometheus.
package stats

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	ptp "github.com/clockwerk-io/ptpd/protocol"
)

// Stats holds the engine counters and gauges
type Stats struct {
	registry *prometheus.Registry

	rx        *prometheus.CounterVec
	rxDropped *prometheus.CounterVec
	portState *prometheus.GaugeVec
	offset    prometheus.Gauge
	pathDelay prometheus.Gauge
	bmcaRuns  prometheus.Counter
}

// NewStats creates counters registered on a fresh registry
func NewStats() *Stats {
	s := &Stats{
		registry: prometheus.NewRegistry(),
		rx: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ptpd_rx_packets_total",
			Help: "Received PTP packets by message type",
		}, []string{"type"}),
		rxDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ptpd_rx_dropped_total",
			Help: "Dropped inbound packets by reason",
		}, []string{"reason"}),
		portState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "ptpd_port_state",
			Help: "Port state enum value per port",
		}, []string{"port"}),
		offset: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ptpd_offset_ns",
			Help: "Offset from master in nanoseconds",
		}),
		pathDelay: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ptpd_mean_path_delay_ns",
			Help: "Mean path delay in nanoseconds",
		}),
		bmcaRuns: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ptpd_bmca_runs_total",
			Help: "Number of BMCA evaluations",
		}),
	}
	s.registry.MustRegister(s.rx, s.rxDropped, s.portState, s.offset, s.pathDelay, s.bmcaRuns)
	return s
}

// IncRX counts one received packet
func (s *Stats) IncRX(t ptp.MessageType) {
	s.rx.WithLabelValues(t.String()).Inc()
}

// IncRXDropped counts one dropped packet
func (s *Stats) IncRXDropped(reason string) {
	s.rxDropped.WithLabelValues(reason).Inc()
}

// SetPortState records the state of a port
func (s *Stats) SetPortState(port string, state ptp.PortState) {
	s.portState.WithLabelValues(port).Set(float64(state))
}

// SetSyncState records the latest synchronization results
func (s *Stats) SetSyncState(offsetNS, pathDelayNS float64) {
	s.offset.Set(offsetNS)
	s.pathDelay.Set(pathDelayNS)
}

// IncBMCARuns counts one BMCA evaluation
func (s *Stats) IncBMCARuns() {
	s.bmcaRuns.Inc()
}

// Handler returns the text exposition handler
func (s *Stats) Handler() http.Handler {
	return promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})
}
