// Copyright 2025 The contributors of Blockapi.
// This file is part of Blockapi, a blocking LLM API under the MIT License.
// SPDX-License-Identifier: MIT

package infer

import "strings"

// Conversation turn markers found in the raw generated text.
const (
	assistantMarker = "### Assistant:"
	humanMarker     = "### Human" // also covers "### Human:"
)

// Extract removes every occurrence of the prompt from the raw answer,
// strips the assistant marker at the start of lines
// and drops the lines starting with a human marker.
func Extract(raw, prompt string) string {
	text := strings.ReplaceAll(raw, prompt, "")

	lines := strings.Split(text, "\n")
	kept := make([]string, 0, len(lines))

	for _, line := range lines {
		if rest, ok := strings.CutPrefix(line, assistantMarker); ok {
			line = strings.TrimSpace(rest)
		} else if strings.HasPrefix(line, humanMarker) {
			continue
		}
		kept = append(kept, line)
	}

	return strings.Join(kept, "\n")
}
