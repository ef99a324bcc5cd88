// Copyright 2025 The contributors of Blockapi.
// This file is part of Blockapi, a blocking LLM API under the MIT License.
// SPDX-License-Identifier: MIT

package gie

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/LM4eu/blockapi/gic"
)

// HTTPErrorHandler is the centralized echo error handler.
// It converts any error into a gie.Error and writes it as JSON
// with the HTTP status deduced from the error code.
func HTTPErrorHandler(err error, c echo.Context) {
	// the echo logger middleware already handled it
	if c.Response().Committed {
		return
	}

	giErr := FromError(err)
	status := giErr.Code.HTTPStatus()

	ctx := c.Request().Context()
	if status >= http.StatusInternalServerError {
		gic.LogCtxAwareError(ctx, "Request failed", giErr)
	} else {
		gic.Logger(ctx).DebugContext(ctx, "Request rejected", "status", status, "err", giErr)
	}

	if c.Request().Method == http.MethodHead {
		err = c.NoContent(status)
	} else {
		err = c.JSON(status, giErr)
	}
	if err != nil {
		gic.LogCtxAwareError(ctx, "Cannot write error response", err)
	}
}

// FromError converts err into a gie.Error.
// The echo errors (unknown route, wrong method, body limit...) are mapped to their gie codes.
// A wrong method on a known path is reported as NotFound.
func FromError(err error) *Error {
	var giErr *Error
	if errors.As(err, &giErr) {
		return giErr
	}

	var he *echo.HTTPError
	if errors.As(err, &he) {
		msg := http.StatusText(he.Code)
		if m, ok := he.Message.(string); ok {
			msg = m
		}
		cause := he.Internal
		if cause == nil {
			cause = err
		}
		switch he.Code {
		case http.StatusNotFound, http.StatusMethodNotAllowed:
			return Wrap(cause, NotFound, http.StatusText(http.StatusNotFound))
		case http.StatusRequestEntityTooLarge:
			return Wrap(cause, TooLarge, msg)
		case http.StatusLengthRequired:
			return Wrap(cause, LengthRequired, msg)
		case http.StatusRequestTimeout:
			return Wrap(cause, Timeout, msg)
		}
		if he.Code >= http.StatusBadRequest && he.Code < http.StatusInternalServerError {
			return Wrap(cause, Invalid, msg, "status", he.Code)
		}
		return Wrap(cause, ServerErr, msg, "status", he.Code)
	}

	return Wrap(err, ServerErr, "internal server error")
}
