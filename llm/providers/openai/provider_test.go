package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/flowengine/llm"
)

func sseServer(t *testing.T, frames []string, captured *map[string]any) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			http.NotFound(w, r)
			return
		}
		if captured != nil {
			body := map[string]any{}
			_ = json.NewDecoder(r.Body).Decode(&body)
			*captured = body
		}
		w.Header().Set("Content-Type", "text/event-stream")
		for _, f := range frames {
			fmt.Fprintf(w, "data: %s\n\n", f)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
}

func chunkJSON(content, reasoning, finish string) string {
	delta := map[string]any{"role": "assistant", "content": content}
	if reasoning != "" {
		delta["reasoning_content"] = reasoning
	}
	choice := map[string]any{"index": 0, "delta": delta}
	if finish != "" {
		choice["finish_reason"] = finish
	}
	b, _ := json.Marshal(map[string]any{
		"id":      "chatcmpl-1",
		"object":  "chat.completion.chunk",
		"created": 1,
		"model":   "gpt-4o-mini",
		"choices": []any{choice},
	})
	return string(b)
}

func TestProvider_StreamCollectsDeltas(t *testing.T) {
	var body map[string]any
	srv := sseServer(t, []string{
		chunkJSON("", "plan ", ""),
		chunkJSON("Hel", "", ""),
		chunkJSON("lo", "", "stop"),
	}, &body)
	defer srv.Close()

	p := New(Config{APIKey: "k", BaseURL: srv.URL + "/v1", Model: "gpt-4o-mini"}, zap.NewNop())
	resp, err := llm.Collect(context.Background(), p, &llm.ChatRequest{
		Messages:    []llm.Message{{Role: llm.RoleSystem, Content: "be brief"}, {Role: llm.RoleUser, Content: "hi"}},
		Temperature: 0.5,
		MaxTokens:   64,
	}, nil)
	require.NoError(t, err)

	assert.Equal(t, "Hello", resp.Content)
	assert.Equal(t, "plan ", resp.ReasoningContent)
	assert.Equal(t, "stop", resp.FinishReason)

	assert.Equal(t, "gpt-4o-mini", body["model"])
	assert.Equal(t, true, body["stream"])
	msgs, ok := body["messages"].([]any)
	require.True(t, ok)
	assert.Len(t, msgs, 2)
}

func TestProvider_StreamRejectsEmptyMessages(t *testing.T) {
	p := New(Config{APIKey: "k"}, nil)
	_, err := p.Stream(context.Background(), &llm.ChatRequest{})

	var llmErr *llm.Error
	require.ErrorAs(t, err, &llmErr)
	assert.Equal(t, llm.ErrInvalidRequest, llmErr.Code)
}

func TestProvider_UpstreamErrorIsMapped(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"slow down","type":"rate_limit"}}`))
	}))
	defer srv.Close()

	p := New(Config{APIKey: "k", BaseURL: srv.URL, Model: "m"}, nil)
	_, err := llm.Collect(context.Background(), p, &llm.ChatRequest{
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "hi"}},
	}, nil)
	require.Error(t, err)

	var llmErr *llm.Error
	require.ErrorAs(t, err, &llmErr)
	assert.Equal(t, llm.ErrRateLimited, llmErr.Code)
	assert.True(t, llmErr.Retryable)
	assert.Equal(t, http.StatusTooManyRequests, llmErr.HTTPStatus)
}

func TestReasoningDelta(t *testing.T) {
	assert.Equal(t, "", reasoningDelta(`{"content":"x"}`))
	assert.Equal(t, "why", reasoningDelta(`{"content":"","reasoning_content":"why"}`))
	assert.Equal(t, "", reasoningDelta(`{"reasoning_content":`))
}
