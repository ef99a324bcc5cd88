// Copyright 2025 The contributors of Blockapi.
// This file is part of Blockapi, a blocking LLM API under the MIT License.
// SPDX-License-Identifier: MIT

package infer

import (
	"context"
	"iter"
	"strings"
	"sync"

	"github.com/LM4eu/blockapi/engine"
)

// fakeEngine replays its outputs and records the last generation call.
type fakeEngine struct {
	err     error
	model   string
	panic   bool
	outputs []engine.Output

	mu     sync.Mutex
	prompt string
	params *engine.Parameters
	stops  []string
}

func (f *fakeEngine) Encode(_ context.Context, text string) ([]int, error) {
	if f.err != nil {
		return nil, f.err
	}
	ids := []int{}
	for i := range strings.Fields(text) {
		ids = append(ids, i)
	}
	return ids, nil
}

func (f *fakeEngine) ModelName(context.Context) (string, error) {
	if f.panic {
		panic("engine crashed")
	}
	return f.model, f.err
}

func (f *fakeEngine) GenerateReply(_ context.Context, prompt string, params *engine.Parameters, stops []string) iter.Seq2[engine.Output, error] {
	f.mu.Lock()
	f.prompt = prompt
	f.params = params
	f.stops = stops
	f.mu.Unlock()

	return func(yield func(engine.Output, error) bool) {
		for _, out := range f.outputs {
			if !yield(out, nil) {
				return
			}
		}
		if f.err != nil {
			yield(nil, f.err)
		}
	}
}
