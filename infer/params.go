// Copyright 2025 The contributors of Blockapi.
// This file is part of Blockapi, a blocking LLM API under the MIT License.
// SPDX-License-Identifier: MIT

package infer

import (
	"context"
	"fmt"
	"maps"
	"math"
	"slices"

	"github.com/LM4eu/blockapi/engine"
	"github.com/LM4eu/blockapi/gie"
	"github.com/LM4eu/blockapi/gic"
)

// stoppingStringsKey is the override key returned apart from the Parameters.
const stoppingStringsKey = "stopping_strings"

// setter assigns an override value to its field in the Parameters.
type setter func(p *engine.Parameters, key string, val any) error

// setters lists the recognized override keys.
var setters = map[string]setter{
	"max_new_tokens":             intRange(-1, math.MaxInt32, func(p *engine.Parameters) *int { return &p.MaxNewTokens }),
	"do_sample":                  boolField(func(p *engine.Parameters) *bool { return &p.DoSample }),
	"temperature":                floatField(func(p *engine.Parameters) *float64 { return &p.Temperature }),
	"top_p":                      floatField(func(p *engine.Parameters) *float64 { return &p.TopP }),
	"typical_p":                  floatField(func(p *engine.Parameters) *float64 { return &p.TypicalP }),
	"repetition_penalty":         floatField(func(p *engine.Parameters) *float64 { return &p.RepetitionPenalty }),
	"top_k":                      intField(func(p *engine.Parameters) *int { return &p.TopK }),
	"min_length":                 intField(func(p *engine.Parameters) *int { return &p.MinLength }),
	"no_repeat_ngram_size":       intField(func(p *engine.Parameters) *int { return &p.NoRepeatNgramSize }),
	"num_beams":                  intField(func(p *engine.Parameters) *int { return &p.NumBeams }),
	"penalty_alpha":              floatField(func(p *engine.Parameters) *float64 { return &p.PenaltyAlpha }),
	"length_penalty":             floatField(func(p *engine.Parameters) *float64 { return &p.LengthPenalty }),
	"early_stopping":             boolField(func(p *engine.Parameters) *bool { return &p.EarlyStopping }),
	"seed":                       intRange(-1, math.MaxUint32, func(p *engine.Parameters) *int { return &p.Seed }),
	"add_bos_token":              boolField(func(p *engine.Parameters) *bool { return &p.AddBOSToken }),
	"truncation_length":          intField(func(p *engine.Parameters) *int { return &p.TruncationLength }),
	"ban_eos_token":              boolField(func(p *engine.Parameters) *bool { return &p.BanEOSToken }),
	"skip_special_tokens":        boolField(func(p *engine.Parameters) *bool { return &p.SkipSpecialTokens }),
	"encoder_repetition_penalty": floatField(func(p *engine.Parameters) *float64 { return &p.EncoderRepetitionPenalty }),
	"custom_stopping_strings":    stringField(func(p *engine.Parameters) *string { return &p.CustomStoppingStrings }),
}

// Build starts from the default Parameters, applies the overrides key by key,
// and returns the stopping strings apart.
// Unrecognized keys are ignored. A recognized key with a value
// of the wrong type is a validation error.
func Build(ctx context.Context, overrides map[string]any) (engine.Parameters, []string, error) {
	params := engine.DefaultParameters()
	stops := engine.DefaultStoppingStrings()

	for _, key := range slices.Sorted(maps.Keys(overrides)) {
		val := overrides[key]

		if key == stoppingStringsKey {
			s, err := toStrings(key, val)
			if err != nil {
				return params, stops, err
			}
			stops = s
			continue
		}

		set, ok := setters[key]
		if !ok {
			gic.Logger(ctx).DebugContext(ctx, "Ignore unrecognized parameter", "key", key)
			continue
		}

		err := set(&params, key, val)
		if err != nil {
			return params, stops, err
		}
	}

	_, err := engine.ParseCustomStoppingStrings(params.CustomStoppingStrings)
	if err != nil {
		return params, stops, err
	}

	return params, stops, nil
}

func intField(field func(*engine.Parameters) *int) setter {
	return intRange(math.MinInt32, math.MaxInt32, field)
}

// intRange accepts the integers from lo to hi (inclusive).
func intRange(lo, hi int64, field func(*engine.Parameters) *int) setter {
	return func(p *engine.Parameters, key string, val any) error {
		i, ok := toInt(val)
		if !ok {
			return wrongType(key, "an integer", val)
		}
		if i < lo || i > hi {
			return gie.New(gie.Invalid, "parameter "+key+" out of range", "key", key, "value", val, "min", lo, "max", hi)
		}
		*field(p) = int(i)
		return nil
	}
}

func floatField(field func(*engine.Parameters) *float64) setter {
	return func(p *engine.Parameters, key string, val any) error {
		f, ok := toFloat(val)
		if !ok {
			return wrongType(key, "a number", val)
		}
		*field(p) = f
		return nil
	}
}

func boolField(field func(*engine.Parameters) *bool) setter {
	return func(p *engine.Parameters, key string, val any) error {
		b, ok := val.(bool)
		if !ok {
			return wrongType(key, "a boolean", val)
		}
		*field(p) = b
		return nil
	}
}

func stringField(field func(*engine.Parameters) *string) setter {
	return func(p *engine.Parameters, key string, val any) error {
		s, ok := val.(string)
		if !ok {
			return wrongType(key, "a string", val)
		}
		*field(p) = s
		return nil
	}
}

// toInt accepts the JSON numbers without fractional part
// that a float64 holds exactly.
func toInt(val any) (int64, bool) {
	switch v := val.(type) {
	case int:
		return int64(v), true
	case int64:
		return v, true
	case float64:
		if v != math.Trunc(v) || math.Abs(v) > 1<<53 {
			return 0, false
		}
		return int64(v), true
	default:
		return 0, false
	}
}

func toFloat(val any) (float64, bool) {
	switch v := val.(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	default:
		return 0, false
	}
}

// toStrings accepts an array of strings, null means no stopping string.
func toStrings(key string, val any) ([]string, error) {
	switch v := val.(type) {
	case nil:
		return []string{}, nil
	case []string:
		return slices.Clone(v), nil
	case []any:
		stops := make([]string, len(v))
		for i, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, gie.New(gie.Invalid, "stopping_strings must contain only strings", "index", i, "value", item)
			}
			stops[i] = s
		}
		return stops, nil
	default:
		return nil, wrongType(key, "an array of strings", val)
	}
}

// wrongType records the function calling it as the error origin.
func wrongType(key, want string, val any) error {
	return gie.NewSkip(1, gie.Invalid, "parameter "+key+" must be "+want, "key", key, "type", fmt.Sprintf("%T", val), "value", val)
}
