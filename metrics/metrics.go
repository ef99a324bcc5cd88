// Copyright 2025 The contributors of Blockapi.
// This file is part of Blockapi, a blocking LLM API under the MIT License.
// SPDX-License-Identifier: MIT

// Package metrics exposes the Prometheus metrics of the API.
//
// Metrics:
//   - <ns>_http_requests_total: requests by route, method and status
//   - <ns>_http_request_duration_seconds: request latency by route
//   - <ns>_generation_duration_seconds: engine generation latency by outcome
//   - <ns>_prompt_tokens: token counts computed by /api/v1/token-count
//
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/LM4eu/blockapi/gie"
)

// Metrics holds the collectors and their registry.
type Metrics struct {
	registry           *prometheus.Registry
	requestsTotal      *prometheus.CounterVec
	requestDuration    *prometheus.HistogramVec
	generationDuration *prometheus.HistogramVec
	promptTokens       prometheus.Histogram
}

// New creates and registers the collectors in a dedicated registry.
func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = "blockapi"
	}

	m := &Metrics{
		registry: prometheus.NewRegistry(),

		requestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"route", "method", "status"},
		),

		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "Duration of HTTP requests in seconds",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
			},
			[]string{"route"},
		),

		generationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "generation_duration_seconds",
				Help:      "Duration of engine generations in seconds",
				Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
			},
			[]string{"outcome"},
		),

		promptTokens: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "prompt_tokens",
				Help:      "Number of tokens of the prompts sent to token-count",
				Buckets:   prometheus.ExponentialBuckets(16, 2, 10), // 16 to 8192
			},
		),
	}

	m.registry.MustRegister(
		m.requestsTotal,
		m.requestDuration,
		m.generationDuration,
		m.promptTokens,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

// Handler serves the metrics in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the registry holding the collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Middleware records the count and latency of every request.
// The status of a failed request is the one gie.HTTPErrorHandler will write.
func (m *Metrics) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if m == nil {
				return next(c)
			}

			start := time.Now()
			err := next(c)

			status := c.Response().Status
			if err != nil {
				status = gie.FromError(err).Code.HTTPStatus()
			}

			route := c.Path()
			if route == "" {
				route = "unmatched"
			}

			m.requestsTotal.WithLabelValues(route, c.Request().Method, strconv.Itoa(status)).Inc()
			m.requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
			return err
		}
	}
}

// ObserveGeneration records the duration of one engine generation.
func (m *Metrics) ObserveGeneration(success bool, d time.Duration) {
	if m == nil {
		return
	}
	outcome := "success"
	if !success {
		outcome = "error"
	}
	m.generationDuration.WithLabelValues(outcome).Observe(d.Seconds())
}

// ObserveTokenCount records the token count of a prompt.
func (m *Metrics) ObserveTokenCount(n int) {
	if m == nil {
		return
	}
	m.promptTokens.Observe(float64(n))
}
