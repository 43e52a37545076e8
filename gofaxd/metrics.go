// This file is part of the GOfax.IP project - https://github.com/gonicus/gofaxip
// Copyright (C) 2014 GONICUS GmbH, Germany - http://www.gonicus.de
//
// This program is free software; you can redistribute it and/or
// modify it under the terms of the GNU General Public License
// as published by the Free Software Foundation; version 2
// of the License.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program; if not, write to the Free Software
// Foundation, Inc., 51 Franklin Street, Fifth Floor, Boston, MA  02110-1301, USA.

package main

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gonicus/gofaxmodem/gofaxlib/modem"
)

var allStates = []modem.ServerState{
	modem.BASE, modem.RUNNING, modem.MODEMWAIT, modem.LOCKWAIT, modem.GETTYWAIT,
	modem.SENDING, modem.ANSWERING, modem.RECEIVING, modem.LISTENING,
}

// Metrics counts the calls handled by one modem
type Metrics struct {
	reg prometheus.Gatherer

	Calls     *prometheus.CounterVec
	Rejected  prometheus.Counter
	Documents *prometheus.CounterVec
	Pages     prometheus.Counter
	State     *prometheus.GaugeVec
	Wedged    prometheus.Gauge
}

// NewMetrics registers the modem metrics with a new registry
func NewMetrics(device string) *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	labels := prometheus.Labels{"device": device}

	m := &Metrics{
		reg: reg,
		Calls: factory.NewCounterVec(prometheus.CounterOpts{
			Name:        "gofaxmodem_calls_total",
			Help:        "Incoming calls by type of answer",
			ConstLabels: labels,
		}, []string{"type"}),
		Rejected: factory.NewCounter(prometheus.CounterOpts{
			Name:        "gofaxmodem_calls_rejected_total",
			Help:        "Incoming calls rejected by caller id",
			ConstLabels: labels,
		}),
		Documents: factory.NewCounterVec(prometheus.CounterOpts{
			Name:        "gofaxmodem_received_documents_total",
			Help:        "Received documents by outcome",
			ConstLabels: labels,
		}, []string{"result"}),
		Pages: factory.NewCounter(prometheus.CounterOpts{
			Name:        "gofaxmodem_received_pages_total",
			Help:        "Received pages",
			ConstLabels: labels,
		}),
		State: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name:        "gofaxmodem_server_state",
			Help:        "Current modem server state, 1 for the active state",
			ConstLabels: labels,
		}, []string{"state"}),
		Wedged: factory.NewGauge(prometheus.GaugeOpts{
			Name:        "gofaxmodem_wedged",
			Help:        "1 if the modem could not be set up and was given up",
			ConstLabels: labels,
		}),
	}
	m.SetState(modem.BASE)
	return m
}

// SetState marks st as the current state
func (m *Metrics) SetState(st modem.ServerState) {
	for _, s := range allStates {
		v := 0.0
		if s == st {
			v = 1
		}
		m.State.WithLabelValues(s.String()).Set(v)
	}
}

// Handler serves the metrics in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}
