// Copyright 2025 The contributors of Blockapi.
// This file is part of Blockapi, a blocking LLM API under the MIT License.
// SPDX-License-Identifier: MIT

package engine

import (
	"github.com/tidwall/gjson"

	"github.com/LM4eu/blockapi/gie"
)

// Parameters holds every generation option handed to the engine.
// The stopping strings are not part of it: they are passed apart.
type Parameters struct {
	CustomStoppingStrings    string  `json:"custom_stopping_strings"`
	MaxNewTokens             int     `json:"max_new_tokens"`
	TopK                     int     `json:"top_k"`
	MinLength                int     `json:"min_length"`
	NoRepeatNgramSize        int     `json:"no_repeat_ngram_size"`
	NumBeams                 int     `json:"num_beams"`
	Seed                     int     `json:"seed"`
	TruncationLength         int     `json:"truncation_length"`
	Temperature              float64 `json:"temperature"`
	TopP                     float64 `json:"top_p"`
	TypicalP                 float64 `json:"typical_p"`
	RepetitionPenalty        float64 `json:"repetition_penalty"`
	PenaltyAlpha             float64 `json:"penalty_alpha"`
	LengthPenalty            float64 `json:"length_penalty"`
	EncoderRepetitionPenalty float64 `json:"encoder_repetition_penalty"`
	DoSample                 bool    `json:"do_sample"`
	EarlyStopping            bool    `json:"early_stopping"`
	AddBOSToken              bool    `json:"add_bos_token"`
	BanEOSToken              bool    `json:"ban_eos_token"`
	SkipSpecialTokens        bool    `json:"skip_special_tokens"`
}

// DefaultStoppingStrings returns a fresh copy of the built-in stop sequence list.
func DefaultStoppingStrings() []string {
	return []string{"Human:"}
}

// DefaultParameters returns the generation defaults.
func DefaultParameters() Parameters {
	return Parameters{
		MaxNewTokens:             1000,
		DoSample:                 true,
		Temperature:              0.1,
		TopP:                     0.1,
		TypicalP:                 1,
		RepetitionPenalty:        1.18,
		TopK:                     40,
		MinLength:                0,
		NoRepeatNgramSize:        0,
		NumBeams:                 1,
		PenaltyAlpha:             0,
		LengthPenalty:            1,
		EarlyStopping:            false,
		Seed:                     -1,
		AddBOSToken:              true,
		TruncationLength:         2048,
		BanEOSToken:              false,
		SkipSpecialTokens:        true,
		EncoderRepetitionPenalty: 1,
		CustomStoppingStrings:    "",
	}
}

// ParseCustomStoppingStrings parses a comma-separated list of quoted strings
// such as `"\n", "###"` into its strings.
func ParseCustomStoppingStrings(s string) ([]string, error) {
	list := "[" + s + "]"
	if !gjson.Valid(list) {
		return nil, gie.New(gie.Invalid, "custom_stopping_strings must be a comma-separated list of double-quoted strings", "value", s)
	}

	items := gjson.Parse(list).Array()
	stops := make([]string, 0, len(items))
	for i, item := range items {
		if item.Type != gjson.String {
			return nil, gie.New(gie.Invalid, "custom_stopping_strings element must be a string", "index", i, "value", item.Raw)
		}
		stops = append(stops, item.String())
	}
	return stops, nil
}
