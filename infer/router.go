// Copyright 2025 The contributors of Blockapi.
// This file is part of Blockapi, a blocking LLM API under the MIT License.
// SPDX-License-Identifier: MIT

// Package infer serves the blocking text-generation API.
package infer

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/labstack/gommon/log"

	"github.com/LM4eu/blockapi/conf"
	"github.com/LM4eu/blockapi/engine"
	"github.com/LM4eu/blockapi/gic"
	"github.com/LM4eu/blockapi/gie"
	"github.com/LM4eu/blockapi/metrics"
)

// Infer handles the API requests and forwards them to the engine.
type Infer struct {
	Cfg        *conf.Cfg
	Engine     engine.Engine
	Dispatcher *Dispatcher
	Metrics    *metrics.Metrics // nil when disabled
}

// New creates the API handlers on top of the engine.
// m may be nil.
func New(cfg *conf.Cfg, eng engine.Engine, m *metrics.Metrics) *Infer {
	return &Infer{
		Cfg:        cfg,
		Engine:     eng,
		Dispatcher: NewDispatcher(eng),
		Metrics:    m,
	}
}

// NewEcho creates the HTTP router: /api/v1/{model,generate,token-count}
// and /metrics when enabled.
func (inf *Infer) NewEcho() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.JSONSerializer = jsonSerializer{}
	e.HTTPErrorHandler = gie.HTTPErrorHandler

	// Middleware request ID, also stored in the request context for the logs
	e.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		Generator: gic.GenReqID,
		RequestIDHandler: func(c echo.Context, id string) {
			ctx := gic.WithReqID(c.Request().Context(), id)
			c.SetRequest(c.Request().WithContext(ctx))
		},
	}))

	// Middleware logger
	if inf.Cfg.Verbose {
		e.Use(middleware.LoggerWithConfig(middleware.LoggerConfig{
			Format: "${method} ${status} ${uri}  ${latency_human} ${remote_ip} ${id} ${error}\n",
		}))
	}

	if l, ok := e.Logger.(*log.Logger); ok {
		l.SetHeader("[${time_rfc3339}] ${level}")
	}

	// metrics wraps Recover to count the panics as 500
	e.Use(inf.Metrics.Middleware())
	e.Use(middleware.Recover())

	if inf.Cfg.BodyLimit != "" {
		e.Use(middleware.BodyLimit(inf.Cfg.BodyLimit))
	}

	// Middleware CORS
	if inf.Cfg.Origins != "" {
		e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
			AllowOrigins:  strings.Split(inf.Cfg.Origins, ","),
			AllowHeaders:  []string{echo.HeaderOrigin, echo.HeaderContentType},
			AllowMethods:  []string{http.MethodGet, http.MethodOptions, http.MethodPost},
			ExposeHeaders: []string{echo.HeaderXRequestID},
		}))
	}

	url := "https://" + inf.Cfg.Addr()

	grp := e.Group("/api/v1")
	grp.GET("/model", inf.modelHandler)
	grp.POST("/generate", inf.generateHandler)
	grp.POST("/token-count", inf.tokenCountHandler)
	slog.Info("Listen GET  " + url + "/api/v1/model")
	slog.Info("Listen POST " + url + "/api/v1/generate")
	slog.Info("Listen POST " + url + "/api/v1/token-count")

	if inf.Cfg.Metrics && inf.Metrics != nil {
		e.GET("/metrics", echo.WrapHandler(inf.Metrics.Handler()))
		slog.Info("Listen GET  " + url + "/metrics")
	}

	return e
}
