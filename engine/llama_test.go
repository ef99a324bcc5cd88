// Copyright 2025 The contributors of Blockapi.
// This file is part of Blockapi, a blocking LLM API under the MIT License.
// SPDX-License-Identifier: MIT

package engine

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/LM4eu/blockapi/gie"
)

// fakeLlama emulates the llama-server endpoints used by Llama.
type fakeLlama struct {
	completion []byte // last /completion request body
	chunks     []string
	tokens     int // number of tokens returned by /tokenize
	mu         sync.Mutex
	status     int // status of /completion, 200 when zero
}

func (f *fakeLlama) handler(t *testing.T) http.Handler {
	t.Helper()
	mux := http.NewServeMux()

	mux.HandleFunc("POST /tokenize", func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		ids := make([]string, f.tokens)
		for i := range ids {
			ids[i] = fmt.Sprint(i + 1)
		}
		if !gjson.GetBytes(body, "add_special").Bool() && len(ids) > 0 {
			ids = ids[1:] // no BOS
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"tokens":[`+strings.Join(ids, ",")+`]}`)
	})

	mux.HandleFunc("POST /completion", func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		f.mu.Lock()
		f.completion = body
		f.mu.Unlock()
		if f.status != 0 {
			http.Error(w, "model is loading", f.status)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		for _, c := range f.chunks {
			_, _ = io.WriteString(w, c+"\n\n")
		}
	})

	mux.HandleFunc("GET /v1/models", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"object":"list","data":[{"id":"qwen2.5-7b-instruct-q4_k_m.gguf"}]}`)
	})

	return mux
}

func (f *fakeLlama) lastCompletion() []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.completion
}

func newTestLlama(t *testing.T, f *fakeLlama, model string) *Llama {
	t.Helper()
	srv := httptest.NewServer(f.handler(t))
	t.Cleanup(srv.Close)
	l, err := NewLlama(srv.URL+"/", model)
	require.NoError(t, err)
	return l
}

func collect(t *testing.T, seq func(func(Output, error) bool)) ([]Output, error) {
	t.Helper()
	var outs []Output
	for o, err := range seq {
		if err != nil {
			return outs, err
		}
		outs = append(outs, o)
	}
	return outs, nil
}

func TestNewLlamaRejectsBadURL(t *testing.T) {
	t.Parallel()

	for _, u := range []string{"localhost:8080", "ftp://host", "http://", "%zz"} {
		_, err := NewLlama(u, "")
		require.Error(t, err, u)
		require.Equal(t, gie.ConfigErr, gie.CodeOf(err), u)
	}
}

func TestEncode(t *testing.T) {
	t.Parallel()

	l := newTestLlama(t, &fakeLlama{tokens: 7}, "")
	tokens, err := l.Encode(context.Background(), "Hello world")
	require.NoError(t, err)
	require.Equal(t, []int{1, 2, 3, 4, 5, 6, 7}, tokens)
}

func TestModelName(t *testing.T) {
	t.Parallel()

	l := newTestLlama(t, &fakeLlama{}, "")
	name, err := l.ModelName(context.Background())
	require.NoError(t, err)
	require.Equal(t, "qwen2.5-7b-instruct-q4_k_m.gguf", name)

	l = newTestLlama(t, &fakeLlama{}, "my-model")
	name, err = l.ModelName(context.Background())
	require.NoError(t, err)
	require.Equal(t, "my-model", name)
}

func TestGenerateReplyCumulative(t *testing.T) {
	t.Parallel()

	f := &fakeLlama{
		tokens: 3,
		chunks: []string{
			`data: {"content":"Hel","stop":false}`,
			`data: {"content":"lo","stop":false}`,
			`data: {"content":"!","stop":true,"tokens_predicted":3,"stop_type":"word","timings":{"predicted_n":3}}`,
		},
	}
	l := newTestLlama(t, f, "")
	params := DefaultParameters()

	outs, err := collect(t, l.GenerateReply(context.Background(), "Hi", &params, []string{"Human:"}))
	require.NoError(t, err)
	require.Len(t, outs, 3)
	require.Equal(t, PlainText("Hel"), outs[0])
	require.Equal(t, PlainText("Hello"), outs[1])

	last, ok := outs[2].(StructuredText)
	require.True(t, ok)
	require.Equal(t, "Hello!", last.Text)
	require.Equal(t, "word", last.Meta["stop_type"])
	require.Contains(t, last.Meta, "timings")

	body := f.lastCompletion()
	require.True(t, gjson.GetBytes(body, "stream").Bool())
	require.Equal(t, int64(1000), gjson.GetBytes(body, "n_predict").Int())
	require.Equal(t, int64(40), gjson.GetBytes(body, "top_k").Int())
	require.InDelta(t, 1.18, gjson.GetBytes(body, "repeat_penalty").Float(), 1e-9)
	require.Equal(t, int64(-1), gjson.GetBytes(body, "seed").Int())
	require.JSONEq(t, `["Human:"]`, gjson.GetBytes(body, "stop").Raw)
	require.JSONEq(t, `[1,2,3]`, gjson.GetBytes(body, "prompt").Raw)
}

func TestGenerateReplyOptions(t *testing.T) {
	t.Parallel()

	f := &fakeLlama{tokens: 10, chunks: []string{`data: {"content":"ok","stop":true}`}}
	l := newTestLlama(t, f, "")

	params := DefaultParameters()
	params.DoSample = false
	params.AddBOSToken = false
	params.BanEOSToken = true
	params.TruncationLength = 8
	params.MaxNewTokens = 3
	params.CustomStoppingStrings = `"###", "\n\n"`

	outs, err := collect(t, l.GenerateReply(context.Background(), "long prompt", &params, nil))
	require.NoError(t, err)
	require.Len(t, outs, 1)
	require.Equal(t, "ok", TextOf(outs[0]))

	body := f.lastCompletion()
	require.InDelta(t, 0, gjson.GetBytes(body, "temperature").Float(), 0)
	require.True(t, gjson.GetBytes(body, "ignore_eos").Bool())
	// 9 tokens without BOS, keep the last 8-3=5
	require.JSONEq(t, `[6,7,8,9,10]`, gjson.GetBytes(body, "prompt").Raw)
	require.JSONEq(t, `["###","\n\n"]`, gjson.GetBytes(body, "stop").Raw)
}

func TestGenerateReplyUpstreamError(t *testing.T) {
	t.Parallel()

	l := newTestLlama(t, &fakeLlama{tokens: 2, status: http.StatusServiceUnavailable}, "")
	params := DefaultParameters()

	outs, err := collect(t, l.GenerateReply(context.Background(), "Hi", &params, nil))
	require.Empty(t, outs)
	require.Error(t, err)
	require.Equal(t, gie.InferErr, gie.CodeOf(err))
	require.Contains(t, err.Error(), "model is loading")
}

func TestGenerateReplyStreamError(t *testing.T) {
	t.Parallel()

	f := &fakeLlama{tokens: 2, chunks: []string{
		`data: {"content":"par","stop":false}`,
		`error: {"code":500,"message":"context shift disabled"}`,
	}}
	l := newTestLlama(t, f, "")
	params := DefaultParameters()

	outs, err := collect(t, l.GenerateReply(context.Background(), "Hi", &params, nil))
	require.Len(t, outs, 1)
	require.Error(t, err)
	require.Contains(t, err.Error(), "context shift disabled")
}

func TestGenerateReplyEmptyStream(t *testing.T) {
	t.Parallel()

	l := newTestLlama(t, &fakeLlama{tokens: 2}, "")
	params := DefaultParameters()

	outs, err := collect(t, l.GenerateReply(context.Background(), "Hi", &params, nil))
	require.NoError(t, err)
	require.Empty(t, outs)
}

func TestParseCustomStoppingStrings(t *testing.T) {
	t.Parallel()

	stops, err := ParseCustomStoppingStrings("")
	require.NoError(t, err)
	require.Empty(t, stops)

	stops, err = ParseCustomStoppingStrings(`"\n", "### Human:"`)
	require.NoError(t, err)
	require.Equal(t, []string{"\n", "### Human:"}, stops)

	_, err = ParseCustomStoppingStrings(`'single'`)
	require.Error(t, err)

	_, err = ParseCustomStoppingStrings(`"a", 3`)
	require.Error(t, err)
	require.Equal(t, gie.Invalid, gie.CodeOf(err))
}

func TestTextOf(t *testing.T) {
	t.Parallel()

	require.Equal(t, "plain", TextOf(PlainText("plain")))
	require.Equal(t, "structured", TextOf(StructuredText{Text: "structured", Meta: map[string]any{"n": 1}}))
	require.Empty(t, TextOf(nil))
}
