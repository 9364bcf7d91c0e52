// Copyright (c) 2022 Blockwatch Data Inc.
// Author: alex@blockwatch.cc

package main

import (
	"net/http"

	evbus "github.com/asaskevich/EventBus"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"blockwatch.cc/alarmclock/pkg/alarm"
	"blockwatch.cc/alarmclock/pkg/factory"
)

// Metrics counts request lifecycle events seen on the ledger bus.
type Metrics struct {
	registry *prometheus.Registry

	Created    *prometheus.CounterVec
	Claims     prometheus.Counter
	Executions *prometheus.CounterVec
	Aborts     *prometheus.CounterVec
	Cancels    prometheus.Counter
	Height     prometheus.Gauge
	Tracked    prometheus.Gauge
}

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		Created: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "alarm",
			Name:      "requests_created_total",
			Help:      "Total number of scheduled requests created",
		}, []string{"unit"}),
		Claims: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "alarm",
			Name:      "claims_total",
			Help:      "Total number of successful claims",
		}),
		Executions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "alarm",
			Name:      "executions_total",
			Help:      "Total number of executions",
		}, []string{"result"}), // result: success/failed
		Aborts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "alarm",
			Name:      "aborts_total",
			Help:      "Total number of aborted execution attempts",
		}, []string{"reason"}),
		Cancels: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "alarm",
			Name:      "cancellations_total",
			Help:      "Total number of cancelled requests",
		}),
		Height: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "alarm",
			Subsystem: "ledger",
			Name:      "height",
			Help:      "Current block height",
		}),
		Tracked: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "alarm",
			Subsystem: "tracker",
			Name:      "requests",
			Help:      "Number of unresolved requests being tracked",
		}),
	}
	m.registry.MustRegister(m.Created, m.Claims, m.Executions, m.Aborts, m.Cancels, m.Height, m.Tracked)
	return m
}

func (m *Metrics) Subscribe(bus evbus.Bus) error {
	handlers := map[string]interface{}{
		factory.TopicNewRequest: func(ev factory.NewRequestEvent) {
			m.Created.WithLabelValues(ev.Unit.String()).Inc()
		},
		alarm.TopicClaimed: func(alarm.ClaimedEvent) {
			m.Claims.Inc()
		},
		alarm.TopicExecuted: func(ev alarm.ExecutedEvent) {
			result := "success"
			if !ev.Success {
				result = "failed"
			}
			m.Executions.WithLabelValues(result).Inc()
		},
		alarm.TopicAborted: func(ev alarm.AbortedEvent) {
			m.Aborts.WithLabelValues(ev.Reason.String()).Inc()
		},
		alarm.TopicCancelled: func(alarm.CancelledEvent) {
			m.Cancels.Inc()
		},
	}
	for topic, fn := range handlers {
		if err := bus.Subscribe(topic, fn); err != nil {
			return err
		}
	}
	return nil
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
