// Copyright 2025 The contributors of Blockapi.
// This file is part of Blockapi, a blocking LLM API under the MIT License.
// SPDX-License-Identifier: MIT

package infer

import (
	"context"
	"errors"

	"github.com/LM4eu/blockapi/engine"
	"github.com/LM4eu/blockapi/gie"
)

// ErrEmptyGeneration occurs when the engine produces no output at all.
var ErrEmptyGeneration = errors.New("engine produced no output")

// Dispatcher drives the engine generation to completion.
// It does not stream: Run returns once the engine sequence is exhausted.
type Dispatcher struct {
	gen engine.Generator
}

// NewDispatcher creates a Dispatcher using the given engine.
func NewDispatcher(gen engine.Generator) *Dispatcher {
	return &Dispatcher{gen: gen}
}

// Run folds the engine output sequence, keeping only its last element,
// and returns the text of that element.
// No element, or a nil last element, is an ErrEmptyGeneration.
func (d *Dispatcher) Run(ctx context.Context, prompt string, params *engine.Parameters, stoppingStrings []string) (string, error) {
	var last engine.Output
	n := 0

	for out, err := range d.gen.GenerateReply(ctx, prompt, params, stoppingStrings) {
		if err != nil {
			return "", engineErr(err, "generation failed", "outputs", n)
		}
		last = out
		n++
	}

	if last == nil {
		return "", gie.Wrap(ErrEmptyGeneration, gie.InferErr, "empty generation", "outputs", n)
	}

	return engine.TextOf(last), nil
}

// engineErr keeps the gie.Error from the engine as is,
// and wraps any other error as an inference error.
func engineErr(err error, msg string, args ...any) error {
	var giErr *gie.Error
	if errors.As(err, &giErr) {
		return err
	}
	return gie.Wrap(err, gie.InferErr, msg, args...)
}
