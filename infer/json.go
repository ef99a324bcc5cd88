// Copyright 2025 The contributors of Blockapi.
// This file is part of Blockapi, a blocking LLM API under the MIT License.
// SPDX-License-Identifier: MIT

package infer

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/goccy/go-json"
	"github.com/labstack/echo/v4"
)

// jsonSerializer implements echo.JSONSerializer using goccy/go-json.
type jsonSerializer struct{}

// Serialize writes i as JSON into the response.
func (jsonSerializer) Serialize(c echo.Context, i any, indent string) error {
	enc := json.NewEncoder(c.Response())
	if indent != "" {
		enc.SetIndent("", indent)
	}
	return enc.Encode(i)
}

// Deserialize decodes the request body into i.
// Malformed JSON, type mismatches and data after the JSON value are reported as 400.
func (jsonSerializer) Deserialize(c echo.Context, i any) error {
	dec := json.NewDecoder(c.Request().Body)
	err := dec.Decode(i)
	if err == nil {
		err = noExtraData(dec)
	}

	var ute *json.UnmarshalTypeError
	if errors.As(err, &ute) {
		msg := fmt.Sprintf("Unmarshal type error: expected=%v, got=%v, field=%v, offset=%v", ute.Type, ute.Value, ute.Field, ute.Offset)
		return echo.NewHTTPError(http.StatusBadRequest, msg).SetInternal(err)
	}

	var se *json.SyntaxError
	if errors.As(err, &se) {
		msg := fmt.Sprintf("Syntax error: offset=%v, error=%v", se.Offset, se.Error())
		return echo.NewHTTPError(http.StatusBadRequest, msg).SetInternal(err)
	}

	return err
}

// noExtraData checks only whitespace follows the decoded value.
func noExtraData(dec *json.Decoder) error {
	var extra json.RawMessage
	err := dec.Decode(&extra)
	if errors.Is(err, io.EOF) {
		return nil
	}
	if err == nil {
		err = errors.New("extra data after the JSON value")
	}
	var se *json.SyntaxError
	if errors.As(err, &se) || errors.Is(err, echo.ErrStatusRequestEntityTooLarge) {
		return err
	}
	return echo.NewHTTPError(http.StatusBadRequest, "Syntax error: "+err.Error()).SetInternal(err)
}
