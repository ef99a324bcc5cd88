// Copyright 2025 The contributors of Blockapi.
// This file is part of Blockapi, a blocking LLM API under the MIT License.
// SPDX-License-Identifier: MIT

package infer

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/LM4eu/blockapi/gic"
	"github.com/LM4eu/blockapi/gie"
)

// modelHandler returns the name of the loaded model, as is.
func (inf *Infer) modelHandler(c echo.Context) error {
	ctx := c.Request().Context()

	name, err := inf.Engine.ModelName(ctx)
	if err != nil {
		return engineErr(err, "cannot get the model name")
	}

	return c.JSON(http.StatusOK, ModelResponse{Result: name})
}

// generateHandler runs the generation to completion and returns the sanitized answer.
func (inf *Infer) generateHandler(c echo.Context) error {
	ctx := c.Request().Context()

	body, err := decodeBody(c)
	if err != nil {
		return err
	}

	prompt, err := getPrompt(body)
	if err != nil {
		return err
	}
	delete(body, promptKey)

	params, stops, err := Build(ctx, body)
	if err != nil {
		return err
	}

	start := time.Now()
	raw, err := inf.Dispatcher.Run(ctx, prompt, &params, stops)
	inf.Metrics.ObserveGeneration(err == nil, time.Since(start))
	if err != nil {
		return err
	}

	text := Extract(raw, prompt)

	if inf.Cfg.Verbose {
		gic.Logger(ctx).InfoContext(ctx, "Generated", "prompt_len", len(prompt), "raw_len", len(raw), "text_len", len(text),
			"duration", time.Since(start).String())
	}

	return c.JSON(http.StatusOK, GenerateResponse{Results: []TextResult{{Text: text}}})
}

// tokenCountHandler returns the number of tokens the prompt encodes to.
func (inf *Infer) tokenCountHandler(c echo.Context) error {
	ctx := c.Request().Context()

	body, err := decodeBody(c)
	if err != nil {
		return err
	}

	prompt, err := getPrompt(body)
	if err != nil {
		return err
	}

	tokens, err := inf.Engine.Encode(ctx, prompt)
	if err != nil {
		return engineErr(err, "cannot tokenize the prompt")
	}

	inf.Metrics.ObserveTokenCount(len(tokens))

	return c.JSON(http.StatusOK, TokenCountResponse{Results: []TokenResult{{Tokens: len(tokens)}}})
}

// decodeBody reads the whole JSON object of the request body.
// A body without Content-Length (chunked) is refused.
func decodeBody(c echo.Context) (map[string]any, error) {
	req := c.Request()
	if req.ContentLength < 0 {
		return nil, gie.New(gie.LengthRequired, "Content-Length header is required")
	}
	if req.ContentLength == 0 {
		return nil, gie.New(gie.Invalid, "empty body, expected a JSON object")
	}

	body := map[string]any{}
	err := c.Echo().JSONSerializer.Deserialize(c, &body)
	switch {
	case err == nil:
		return body, nil
	case errors.Is(err, echo.ErrStatusRequestEntityTooLarge):
		return nil, err
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		return nil, gie.Wrap(err, gie.Invalid, "truncated JSON body")
	}

	var he *echo.HTTPError
	if errors.As(err, &he) {
		msg, _ := he.Message.(string)
		return nil, gie.Wrap(err, gie.Invalid, "malformed JSON body", "detail", msg)
	}
	return nil, gie.Wrap(err, gie.Invalid, "cannot decode the JSON body")
}

// getPrompt returns the mandatory string "prompt".
func getPrompt(body map[string]any) (string, error) {
	val, ok := body[promptKey]
	if !ok {
		return "", gie.New(gie.Invalid, "missing mandatory field: prompt")
	}
	prompt, ok := val.(string)
	if !ok {
		return "", wrongType(promptKey, "a string", val)
	}
	return prompt, nil
}
