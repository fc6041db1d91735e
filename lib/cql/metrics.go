/*
 * cqld
 * Copyright (C) 2025  Gravitational, Inc.
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 */

package cql

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/gravitational/cqld"
)

// Reporter receives duration samples from the dispatcher and size updates
// from the processor pool. Implementations must not block the calling code
// path.
type Reporter interface {
	// ObserveGetProcessor records how long acquiring a processor took.
	ObserveGetProcessor(d time.Duration)
	// ObserveProcessRequest records how long a call took from processor
	// acquisition until the response was sent.
	ObserveProcessRequest(d time.Duration)
	// ObserveQueueResponse records how long serializing and queueing the
	// response took.
	ObserveQueueResponse(d time.Duration)
	// SetPoolSize records the current processor pool size.
	SetPoolSize(n int)
}

var (
	timeToGetProcessor = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: cqld.MetricNamespace,
			Subsystem: "service",
			Name:      "time_to_get_processor_seconds",
			Help:      "Time spent acquiring a query processor from the pool",
			// lowest bucket of upper bound 1us with factor 2,
			// highest bucket 1us * 2^23 ~= 8.4 sec
			Buckets: prometheus.ExponentialBuckets(1e-6, 2, 24),
		},
	)

	timeToProcessRequest = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: cqld.MetricNamespace,
			Subsystem: "service",
			Name:      "time_to_process_request_seconds",
			Help:      "Time from processor acquisition until the response was sent",
			Buckets:   prometheus.ExponentialBuckets(1e-6, 2, 24),
		},
	)

	timeToQueueResponse = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: cqld.MetricNamespace,
			Subsystem: "service",
			Name:      "time_to_queue_response_seconds",
			Help:      "Time spent serializing and queueing a response",
			Buckets:   prometheus.ExponentialBuckets(1e-6, 2, 24),
		},
	)

	// The pool never shrinks, so a runaway gauge is how operators detect a
	// leak from stuck processors.
	processorPoolSize = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: cqld.MetricNamespace,
			Subsystem: "service",
			Name:      "processor_pool_size",
			Help:      "Current number of query processors in the pool",
		},
	)
)

func init() {
	prometheus.MustRegister(
		timeToGetProcessor,
		timeToProcessRequest,
		timeToQueueResponse,
		processorPoolSize,
	)
}

// promReporter reports samples to the package prometheus collectors.
type promReporter struct{}

// NewPrometheusReporter returns a Reporter backed by the registered
// prometheus collectors.
func NewPrometheusReporter() Reporter {
	return promReporter{}
}

func (promReporter) ObserveGetProcessor(d time.Duration) {
	timeToGetProcessor.Observe(d.Seconds())
}

func (promReporter) ObserveProcessRequest(d time.Duration) {
	timeToProcessRequest.Observe(d.Seconds())
}

func (promReporter) ObserveQueueResponse(d time.Duration) {
	timeToQueueResponse.Observe(d.Seconds())
}

func (promReporter) SetPoolSize(n int) {
	processorPoolSize.Set(float64(n))
}
