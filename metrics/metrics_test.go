// Copyright 2025 The contributors of Blockapi.
// This file is part of Blockapi, a blocking LLM API under the MIT License.
// SPDX-License-Identifier: MIT

package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/LM4eu/blockapi/gie"
)

func TestMiddlewareCountsRequests(t *testing.T) {
	t.Parallel()

	m := New("test")
	e := echo.New()
	e.HTTPErrorHandler = gie.HTTPErrorHandler
	e.Use(m.Middleware())
	e.GET("/ok", func(c echo.Context) error { return c.NoContent(http.StatusOK) })
	e.GET("/bad", func(echo.Context) error { return gie.New(gie.Invalid, "bad") })

	for _, path := range []string{"/ok", "/ok", "/bad"} {
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, http.NoBody))
	}

	require.InDelta(t, 2, testutil.ToFloat64(m.requestsTotal.WithLabelValues("/ok", "GET", "200")), 0)
	require.InDelta(t, 1, testutil.ToFloat64(m.requestsTotal.WithLabelValues("/bad", "GET", "400")), 0)
}

func TestMiddlewareCountsPanics(t *testing.T) {
	t.Parallel()

	m := New("test")
	e := echo.New()
	e.HTTPErrorHandler = gie.HTTPErrorHandler
	e.Use(m.Middleware())
	e.Use(middleware.Recover())
	e.GET("/panic", func(echo.Context) error { panic("boom") })

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/panic", http.NoBody))
	require.Equal(t, http.StatusInternalServerError, rec.Code)

	require.InDelta(t, 1, testutil.ToFloat64(m.requestsTotal.WithLabelValues("/panic", "GET", "500")), 0)
}

func TestObserve(t *testing.T) {
	t.Parallel()

	m := New("")
	m.ObserveGeneration(true, time.Second)
	m.ObserveGeneration(false, time.Millisecond)
	m.ObserveTokenCount(42)

	n, err := testutil.GatherAndCount(m.Registry(), "blockapi_generation_duration_seconds", "blockapi_prompt_tokens")
	require.NoError(t, err)
	require.Equal(t, 3, n) // two outcomes + one histogram

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", http.NoBody))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "blockapi_prompt_tokens_bucket")
	require.Contains(t, rec.Body.String(), `blockapi_generation_duration_seconds_count{outcome="success"} 1`)
}

func TestNilMetrics(t *testing.T) {
	t.Parallel()

	var m *Metrics
	m.ObserveGeneration(true, time.Second)
	m.ObserveTokenCount(1)

	e := echo.New()
	e.Use(m.Middleware())
	e.GET("/", func(c echo.Context) error { return c.NoContent(http.StatusNoContent) })
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", http.NoBody))
	require.Equal(t, http.StatusNoContent, rec.Code)
}
