// Copyright 2025 The contributors of Blockapi.
// This file is part of Blockapi, a blocking LLM API under the MIT License.
// SPDX-License-Identifier: MIT

package infer

type (
	// ModelResponse is the body of GET /api/v1/model.
	ModelResponse struct {
		Result string `json:"result"`
	}

	// GenerateResponse is the body of POST /api/v1/generate.
	GenerateResponse struct {
		Results []TextResult `json:"results"`
	}

	// TextResult holds one sanitized answer.
	TextResult struct {
		Text string `json:"text"`
	}

	// TokenCountResponse is the body of POST /api/v1/token-count.
	TokenCountResponse struct {
		Results []TokenResult `json:"results"`
	}

	// TokenResult holds the number of tokens of one prompt.
	TokenResult struct {
		Tokens int `json:"tokens"`
	}
)

// promptKey is the only body key that is not a generation parameter.
const promptKey = "prompt"
