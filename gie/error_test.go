// Copyright 2025 The contributors of Blockapi.
// This file is part of Blockapi, a blocking LLM API under the MIT License.
// SPDX-License-Identifier: MIT

package gie

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/require"
)

func TestWrapKeepsCauseAndParams(t *testing.T) {
	t.Parallel()

	cause := errors.New("boom")
	err := Wrap(cause, InferErr, "engine failed", "model", "llama", "attempt")

	require.ErrorIs(t, err, cause)
	require.Equal(t, InferErr, err.Code)
	require.Equal(t, "llama", err.Data.Params["model"])
	require.Equal(t, "attempt", err.Data.Params["!BADKEY"])
	require.Equal(t, "boom", err.Data.Reason)
	require.Contains(t, err.Data.Function, "TestWrapKeepsCauseAndParams")
	require.Contains(t, err.Error(), "engine failed")
	require.Contains(t, err.Error(), "cause: boom")
}

func TestHTTPStatus(t *testing.T) {
	t.Parallel()

	cases := map[Code]int{
		Invalid:        http.StatusBadRequest,
		NotFound:       http.StatusNotFound,
		LengthRequired: http.StatusLengthRequired,
		TooLarge:       http.StatusRequestEntityTooLarge,
		Timeout:        http.StatusRequestTimeout,
		InferErr:       http.StatusInternalServerError,
		ConfigErr:      http.StatusInternalServerError,
		ServerErr:      http.StatusInternalServerError,
	}
	for code, want := range cases {
		require.Equal(t, want, code.HTTPStatus(), "code %d", code)
	}
}

func TestFromErrorMapsEchoErrors(t *testing.T) {
	t.Parallel()

	require.Equal(t, NotFound, FromError(echo.ErrNotFound).Code)
	require.Equal(t, NotFound, FromError(echo.ErrMethodNotAllowed).Code)
	require.Equal(t, TooLarge, FromError(echo.ErrStatusRequestEntityTooLarge).Code)
	require.Equal(t, Invalid, FromError(echo.ErrBadRequest).Code)
	require.Equal(t, ServerErr, FromError(errors.New("plain")).Code)

	orig := New(Invalid, "bad prompt")
	require.Same(t, orig, FromError(orig))
}

func TestHTTPErrorHandlerWritesJSON(t *testing.T) {
	t.Parallel()

	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/generate", strings.NewReader(""))
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	HTTPErrorHandler(New(Invalid, "prompt is required"), c)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Header().Get(echo.HeaderContentType), echo.MIMEApplicationJSON)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "prompt is required", body["msg"])
	require.InDelta(t, float64(Invalid), body["code"], 0)
}

// newInvalid stands for an error helper.
func newInvalid(msg string) *Error {
	return NewSkip(1, Invalid, msg)
}

func TestNewSkipRecordsHelperCaller(t *testing.T) {
	t.Parallel()

	err := newInvalid("bad")
	require.Contains(t, err.Data.Function, "TestNewSkipRecordsHelperCaller")
	require.NotContains(t, err.Data.Function, "newInvalid")
}
