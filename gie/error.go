// Copyright 2025 The contributors of Blockapi.
// This file is part of Blockapi, a blocking LLM API under the MIT License.
// SPDX-License-Identifier: MIT

// Package gie implements the error returned by the blockapi endpoints,
// shaped as the error object specified in JSON-RPC 2.0:
// https://www.jsonrpc.org/specification#error_object
//
//	code must be a number
//	 -32768 to -32000  Reserved for pre-defined errors:
//	 -32700            Parse error, the server received an invalid JSON, or had an issue while parsing the JSON text
//	 -32603            Internal JSON-RPC error
//	 -32602            Invalid method parameters
//	 -32601            Method not found, the method does not exist or is not available
//	 -32600            Invalid Request, the JSON sent is not a valid Request object
//	 -32099 to -32000  Implementation-defined server-errors
//
//	msg  string providing a short description of the error (one concise single sentence).
//
//	data     optional, any type, additional information about the error.
package gie

import (
	"errors"
	"fmt"
	"net/http"
	"runtime"
	"strconv"
	"time"
)

type (
	// Error implements the error structure defined in JSON-RPC 2.0.
	Error struct {
		Data    Data   `json:"data,omitempty"`
		Message string `json:"msg,omitempty"`
		Code    Code   `json:"code,omitempty"`
	}

	Data struct {
		Time     time.Time      `json:"time,omitempty"`
		Cause    error          `json:"-"`
		Reason   string         `json:"cause,omitempty"`
		Params   map[string]any `json:"params,omitempty"`
		Function string         `json:"function,omitempty"`
		FileLine string         `json:"file_line,omitempty"`
	}

	// Code represents the type of error.
	Code int
)

const (
	// Invalid indicates validation errors.
	Invalid Code = iota + -32149
	// ConfigErr indicates configuration errors.
	ConfigErr
	// InferErr indicates inference-related errors (engine failure, empty generation).
	InferErr
	// ServerErr indicates server-related errors.
	ServerErr
	// Timeout indicates timeout-related errors.
	Timeout
	// NotFound indicates resource not found errors.
	NotFound
	// LengthRequired occurs when a request body comes without Content-Length.
	LengthRequired
	// TooLarge occurs when a request body exceeds the configured limit.
	TooLarge
)

// New creates a new gie.Error.
func New(code Code, msg string, args ...any) *Error {
	return wrap(0, nil, code, msg, args...)
}

// NewSkip is New for error helpers: the recorded caller is
// skip frames above the function calling NewSkip.
func NewSkip(skip int, code Code, msg string, args ...any) *Error {
	return wrap(skip, nil, code, msg, args...)
}

// Wrap an existing error.
func Wrap(err error, code Code, msg string, args ...any) *Error {
	return wrap(0, err, code, msg, args...)
}

//nolint:revive // wrap is the common function for New() and Wrap().
func wrap(skip int, cause error, code Code, msg string, args ...any) *Error {
	err := &Error{
		Code:    code,
		Message: msg,
		Data: Data{
			Time:  time.Now(),
			Cause: cause,
		},
	}

	if cause != nil {
		err.Data.Reason = cause.Error()
	}

	var pcs [1]uintptr
	runtime.Callers(3+skip, pcs[:]) // skip [runtime.Callers, wrap, New/NewSkip/Wrap] + skip
	if pcs[0] != 0 {
		fs := runtime.CallersFrames([]uintptr{pcs[0]})
		f, _ := fs.Next()
		err.Data.Function = f.Function
		err.Data.FileLine = f.File
		if f.Line != 0 {
			err.Data.FileLine += ":" + strconv.Itoa(f.Line)
		}
	}

	if len(args) > 0 {
		err.Data.Params = make(map[string]any, (len(args)+1)/2)
	}
	for len(args) > 0 {
		var key string
		var val any
		key, val, args = getPairRest(args)
		err.Data.Params[key] = val
	}

	return err
}

func getPairRest(args []any) (key string, val any, rest []any) {
	if len(args) == 1 {
		return "!BADKEY", args[0], nil
	}
	key, ok := args[0].(string)
	if !ok {
		key = fmt.Sprint(args[0])
	}
	return key, args[1], args[2:]
}

// Error implements the error interface.
func (e *Error) Error() string {
	str := e.Message + " (" + strconv.Itoa(int(e.Code)) + ")"
	for key, val := range e.Data.Params {
		str += " " + key + "=" + fmt.Sprint(val)
	}
	if e.Data.Cause != nil {
		str += " cause: " + e.Data.Cause.Error()
	}
	if e.Data.Function != "" {
		str += " in " + e.Data.Function
	}
	if e.Data.FileLine != "" {
		str += " " + e.Data.FileLine
	}
	if !e.Data.Time.IsZero() {
		str += " " + e.Data.Time.Format("2006-01-02 15:04:05.999")
	}
	return str
}

// Unwrap returns the underlying error for error unwrapping.
func (e *Error) Unwrap() error {
	return e.Data.Cause
}

// HTTPStatus deduces the HTTP status code from the error code.
func (c Code) HTTPStatus() int {
	switch c {
	case Invalid:
		return http.StatusBadRequest
	case NotFound:
		return http.StatusNotFound
	case LengthRequired:
		return http.StatusLengthRequired
	case TooLarge:
		return http.StatusRequestEntityTooLarge
	case Timeout:
		return http.StatusRequestTimeout
	case ConfigErr, InferErr, ServerErr:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// CodeOf returns the code of the outermost gie.Error in the chain,
// or ServerErr when err is not a gie.Error.
func CodeOf(err error) Code {
	var giErr *Error
	if errors.As(err, &giErr) {
		return giErr.Code
	}
	return ServerErr
}
