// Copyright 2025 The contributors of Blockapi.
// This file is part of Blockapi, a blocking LLM API under the MIT License.
// SPDX-License-Identifier: MIT

// Package engine defines the contract of the inference engine
// and provides a client of the llama.cpp llama-server.
package engine

import (
	"context"
	"iter"
)

type (
	// Encoder converts a text into its token ids.
	Encoder interface {
		Encode(ctx context.Context, text string) ([]int, error)
	}

	// Generator produces a lazy and finite sequence of outputs,
	// each element superseding the previous one.
	// An error element terminates the sequence.
	Generator interface {
		GenerateReply(ctx context.Context, prompt string, params *Parameters, stoppingStrings []string) iter.Seq2[Output, error]
	}

	// ModelNamer reports the currently loaded model.
	ModelNamer interface {
		ModelName(ctx context.Context) (string, error)
	}

	// Engine is the full inference engine consumed by the API.
	Engine interface {
		Encoder
		Generator
		ModelNamer
	}

	// Output is one element produced by a Generator.
	// The only implementations are PlainText and StructuredText.
	Output interface {
		text() string
	}

	// PlainText is an output made of the answer only.
	PlainText string

	// StructuredText is an output carrying the answer and engine metadata
	// (timings, number of predicted tokens, stop reason...).
	StructuredText struct {
		Meta map[string]any
		Text string
	}
)

func (p PlainText) text() string { return string(p) }

func (s StructuredText) text() string { return s.Text }

// TextOf returns the answer carried by an output.
func TextOf(o Output) string {
	if o == nil {
		return ""
	}
	return o.text()
}
