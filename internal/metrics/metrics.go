// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package metrics collects exchange and poll statistics for Prometheus.
package metrics

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"

	"github.com/ffutop/modbus-master/internal/snapshot"
	"github.com/ffutop/modbus-master/modbus"
)

// Collector implements the client's exchange observer and a poll sink.
type Collector struct {
	registry    *prometheus.Registry
	exchanges   *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	lastSuccess prometheus.Gauge
	registers   *prometheus.GaugeVec
}

// NewCollector creates a Collector with its own registry.
func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		exchanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "modbus_exchanges_total",
			Help: "Modbus exchanges by operation and result.",
		}, []string{"op", "result"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "modbus_exchange_duration_seconds",
			Help:    "Time spent on one Modbus exchange, including waiting for the line.",
			Buckets: []float64{.01, .025, .05, .1, .25, .5, 1, 2.5},
		}, []string{"op"}),
		lastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "modbus_poll_last_success_timestamp_seconds",
			Help: "Unix time of the last successful poll.",
		}),
		registers: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "modbus_holding_register_value",
			Help: "Last polled value of a holding register.",
		}, []string{"address"}),
	}
	c.registry.MustRegister(c.exchanges, c.duration, c.lastSuccess, c.registers)
	return c
}

// ObserveExchange records one exchange. The result label is the error kind.
func (c *Collector) ObserveExchange(op string, elapsed time.Duration, err error) {
	c.exchanges.WithLabelValues(op, modbus.Kind(err)).Inc()
	c.duration.WithLabelValues(op).Observe(elapsed.Seconds())
}

// Consume records a successful poll.
func (c *Collector) Consume(_ context.Context, s snapshot.Snapshot) error {
	c.lastSuccess.Set(float64(s.Time.UnixNano()) / 1e9)
	for i, v := range s.Values {
		c.registers.WithLabelValues(strconv.Itoa(int(s.Start) + i)).Set(float64(v))
	}
	return nil
}

// Push sends everything collected so far to a Prometheus Pushgateway,
// replacing the previous push of job.
func (c *Collector) Push(ctx context.Context, url, job string) error {
	err := push.New(url, job).Gatherer(c.registry).PushContext(ctx)
	if err != nil {
		return fmt.Errorf("push metrics to %s: %w", url, err)
	}
	slog.Debug("metrics pushed", "url", url, "job", job)
	return nil
}
