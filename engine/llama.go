// Copyright 2025 The contributors of Blockapi.
// This file is part of Blockapi, a blocking LLM API under the MIT License.
// SPDX-License-Identifier: MIT

package engine

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"iter"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/LM4eu/blockapi/gie"
)

// maxSSELine is the largest "data:" line accepted from llama-server.
const maxSSELine = 4 << 20

// metaKeys are copied from the last llama-server chunk into StructuredText.Meta.
var metaKeys = []string{
	"tokens_predicted", "tokens_evaluated", "stop_type", "stopping_word", "truncated", "timings",
}

// Llama is an Engine backed by a llama.cpp llama-server.
// Llama is safe for concurrent use.
type Llama struct {
	Client  *http.Client
	baseURL string
	model   string
}

// NewLlama creates a llama-server client.
// When model is not empty, it is reported as the loaded model name
// instead of asking llama-server.
func NewLlama(baseURL, model string) (*Llama, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, gie.Wrap(err, gie.ConfigErr, "invalid llama-server URL", "url", baseURL)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, gie.New(gie.ConfigErr, "llama-server URL must be http or https", "url", baseURL)
	}
	if u.Host == "" {
		return nil, gie.New(gie.ConfigErr, "llama-server URL without host", "url", baseURL)
	}

	return &Llama{
		// no timeout: a generation lasts as long as the engine needs
		Client:  &http.Client{},
		baseURL: u.String(),
		model:   model,
	}, nil
}

// Encode returns the token ids of text, including the BOS token.
func (l *Llama) Encode(ctx context.Context, text string) ([]int, error) {
	return l.tokenize(ctx, text, true)
}

// ModelName returns the configured model name,
// or the first model listed by llama-server.
func (l *Llama) ModelName(ctx context.Context) (string, error) {
	if l.model != "" {
		return l.model, nil
	}

	body, err := l.call(ctx, http.MethodGet, "/v1/models", nil)
	if err != nil {
		return "", err
	}

	id := gjson.GetBytes(body, "data.0.id")
	if !id.Exists() {
		return "", gie.New(gie.InferErr, "llama-server reports no loaded model", "response", string(body))
	}
	return id.String(), nil
}

// GenerateReply streams a completion from llama-server.
// Each element is the cumulative answer so far;
// the last one is a StructuredText with the generation metadata.
func (l *Llama) GenerateReply(ctx context.Context, prompt string, params *Parameters, stoppingStrings []string) iter.Seq2[Output, error] {
	return func(yield func(Output, error) bool) {
		body, err := l.completionBody(ctx, prompt, params, stoppingStrings)
		if err != nil {
			yield(nil, err)
			return
		}

		resp, err := l.send(ctx, http.MethodPost, "/completion", body)
		if err != nil {
			yield(nil, err)
			return
		}
		defer resp.Body.Close()

		var answer strings.Builder
		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), maxSSELine)

		for scanner.Scan() {
			line := scanner.Bytes()

			if msg, ok := bytes.CutPrefix(line, []byte("error:")); ok {
				yield(nil, gie.New(gie.InferErr, "llama-server stream error", "error", string(bytes.TrimSpace(msg))))
				return
			}

			data, ok := bytes.CutPrefix(line, []byte("data:"))
			if !ok {
				continue // blank separator or SSE comment
			}
			data = bytes.TrimSpace(data)
			if string(data) == "[DONE]" {
				return
			}
			if !gjson.ValidBytes(data) {
				yield(nil, gie.New(gie.InferErr, "malformed chunk from llama-server", "chunk", string(data)))
				return
			}

			answer.WriteString(gjson.GetBytes(data, "content").String())

			if gjson.GetBytes(data, "stop").Bool() {
				yield(StructuredText{Text: answer.String(), Meta: chunkMeta(data)}, nil)
				return
			}
			if !yield(PlainText(answer.String()), nil) {
				return
			}
		}

		err = scanner.Err()
		if err != nil {
			yield(nil, gie.Wrap(err, gie.InferErr, "cannot read llama-server stream"))
		}
	}
}

// completionBody builds the JSON body of llama-server /completion.
// The prompt is tokenized here to honor add_bos_token and to truncate
// the prompt to truncation_length - max_new_tokens (keeping the end).
func (l *Llama) completionBody(ctx context.Context, prompt string, params *Parameters, stoppingStrings []string) ([]byte, error) {
	tokens, err := l.tokenize(ctx, prompt, params.AddBOSToken)
	if err != nil {
		return nil, err
	}

	// max_new_tokens = -1 means "until EOS or context full"
	maxLen := params.TruncationLength - max(params.MaxNewTokens, 0)
	if maxLen > 0 && len(tokens) > maxLen {
		slog.DebugContext(ctx, "Truncate prompt", "tokens", len(tokens), "keep", maxLen)
		tokens = tokens[len(tokens)-maxLen:]
	}

	custom, err := ParseCustomStoppingStrings(params.CustomStoppingStrings)
	if err != nil {
		return nil, err
	}
	stop := make([]string, 0, len(stoppingStrings)+len(custom))
	stop = append(stop, stoppingStrings...)
	stop = append(stop, custom...)

	temperature := params.Temperature
	if !params.DoSample {
		temperature = 0 // greedy
	}

	fields := []struct {
		val  any
		path string
	}{
		{tokens, "prompt"},
		{params.MaxNewTokens, "n_predict"},
		{temperature, "temperature"},
		{params.TopP, "top_p"},
		{params.TypicalP, "typical_p"},
		{params.TopK, "top_k"},
		{params.RepetitionPenalty, "repeat_penalty"},
		{params.Seed, "seed"},
		{params.BanEOSToken, "ignore_eos"},
		{stop, "stop"},
		{true, "stream"},
	}

	body := []byte("{}")
	for _, f := range fields {
		body, err = sjson.SetBytes(body, f.path, f.val)
		if err != nil {
			return nil, gie.Wrap(err, gie.ServerErr, "cannot build llama-server request", "field", f.path)
		}
	}

	return body, nil
}

func (l *Llama) tokenize(ctx context.Context, text string, addSpecial bool) ([]int, error) {
	req, err := sjson.SetBytes([]byte("{}"), "content", text)
	if err == nil {
		req, err = sjson.SetBytes(req, "add_special", addSpecial)
	}
	if err != nil {
		return nil, gie.Wrap(err, gie.ServerErr, "cannot build llama-server tokenize request")
	}

	body, err := l.call(ctx, http.MethodPost, "/tokenize", req)
	if err != nil {
		return nil, err
	}

	result := gjson.GetBytes(body, "tokens")
	if !result.IsArray() {
		return nil, gie.New(gie.InferErr, "llama-server tokenize response without tokens", "response", string(body))
	}

	items := result.Array()
	tokens := make([]int, len(items))
	for i, item := range items {
		tokens[i] = int(item.Int())
	}
	return tokens, nil
}

// call sends a request and returns the whole response body.
func (l *Llama) call(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	resp, err := l.send(ctx, method, path, body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, gie.Wrap(err, gie.InferErr, "cannot read llama-server response", "path", path)
	}
	return data, nil
}

// send sends a request and checks the response status.
// The caller must close the response body.
func (l *Llama) send(ctx context.Context, method, path string, body []byte) (*http.Response, error) {
	var reader io.Reader = http.NoBody
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, l.baseURL+path, reader)
	if err != nil {
		return nil, gie.Wrap(err, gie.ServerErr, "cannot create llama-server request", "path", path)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := l.Client.Do(req)
	if err != nil {
		return nil, gie.Wrap(err, gie.InferErr, "llama-server unreachable", "url", l.baseURL+path)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, gie.New(gie.InferErr, "llama-server error", "path", path, "status", resp.StatusCode, "body", string(msg))
	}

	return resp, nil
}

func chunkMeta(data []byte) map[string]any {
	meta := make(map[string]any, len(metaKeys))
	for _, key := range metaKeys {
		v := gjson.GetBytes(data, key)
		if v.Exists() {
			meta[key] = v.Value()
		}
	}
	return meta
}
