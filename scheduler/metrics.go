// Copyright (C) 2019-2024, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package scheduler

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ava-labs/avalanchego/utils/wrappers"
)

const metricsNamespace = "scheduler"

type metrics struct {
	numScheduled,
	numCanceled,
	numDispatched,
	numFailed,
	numPostponed,
	numDropped,
	numFunded,
	numRedeemed,
	numRescheduled prometheus.Counter

	blockWeight prometheus.Gauge
}

func newMetrics(registerer prometheus.Registerer) (*metrics, error) {
	errs := wrappers.Errs{}
	m := &metrics{
		numScheduled:   newEventMetric("scheduled", registerer, &errs),
		numCanceled:    newEventMetric("canceled", registerer, &errs),
		numDispatched:  newEventMetric("dispatched", registerer, &errs),
		numFailed:      newEventMetric("failed", registerer, &errs),
		numPostponed:   newEventMetric("postponed", registerer, &errs),
		numDropped:     newEventMetric("dropped", registerer, &errs),
		numFunded:      newEventMetric("funded", registerer, &errs),
		numRedeemed:    newEventMetric("redeemed", registerer, &errs),
		numRescheduled: newEventMetric("rescheduled", registerer, &errs),
		blockWeight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "block_weight",
			Help:      "Weight consumed by the last processed agenda",
		}),
	}
	errs.Add(registerer.Register(m.blockWeight))
	return m, errs.Err
}

func newEventMetric(
	name string,
	registerer prometheus.Registerer,
	errs *wrappers.Errs,
) prometheus.Counter {
	counter := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      fmt.Sprintf("%s_tasks", name),
		Help:      fmt.Sprintf("Number of %s tasks", name),
	})
	errs.Add(registerer.Register(counter))
	return counter
}

func (m *metrics) observe(events []Event) {
	for _, e := range events {
		switch e.Kind {
		case Scheduled:
			m.numScheduled.Inc()
		case Canceled:
			m.numCanceled.Inc()
		case Dispatched:
			m.numDispatched.Inc()
			if e.Err != nil {
				m.numFailed.Inc()
			}
		case Postponed:
			m.numPostponed.Inc()
		case Dropped:
			m.numDropped.Inc()
		case Funded:
			m.numFunded.Inc()
		case Redeemed:
			m.numRedeemed.Inc()
		case Rescheduled:
			m.numRescheduled.Inc()
		}
	}
}
