package knowledge

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/flowengine/config"
	"github.com/BaSui01/flowengine/internal/ctxkeys"
	"github.com/BaSui01/flowengine/types"
)

func TestClient_TopK(t *testing.T) {
	var got TopKRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chunk/query", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"code":0,"sid":"s1","data":{"results":[{"content":"a","score":0.9},{"content":"b","score":0.4}]}}`))
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL + "/", Timeout: time.Second}, nil)
	resp, err := c.TopK(context.Background(), &TopKRequest{
		Query:     "what",
		TopN:      2,
		RagType:   RagTypeAIUI,
		RepoIDs:   []string{"r1"},
		Threshold: 0.3,
	})
	require.NoError(t, err)
	assert.Equal(t, 0, resp.Code)
	assert.Equal(t, "s1", resp.SID)
	require.Len(t, resp.Results, 2)
	assert.Equal(t, "a", resp.Results[0]["content"])

	assert.Equal(t, "what", got.Query)
	assert.Equal(t, 2, got.TopN)
	assert.Equal(t, []string{"r1"}, got.RepoIDs)
}

func TestClient_TopK_PropagatesRunHeaders(t *testing.T) {
	var header http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header = r.Header.Clone()
		_, _ = w.Write([]byte(`{"code":0,"data":{"results":[]}}`))
	}))
	defer srv.Close()

	ctx := ctxkeys.WithNodeID(ctxkeys.WithRun(context.Background(), "run-9", "flow-9"), "knowledge-base::3")
	_, err := NewClient(Config{BaseURL: srv.URL}, nil).TopK(ctx, &TopKRequest{Query: "q"})
	require.NoError(t, err)
	assert.Equal(t, "run-9", header.Get(ctxkeys.HeaderRunID))
	assert.Equal(t, "flow-9", header.Get(ctxkeys.HeaderFlowID))
	assert.Equal(t, "knowledge-base::3", header.Get(ctxkeys.HeaderNodeID))
}

func TestClient_TopK_BusinessErrorIsReturnedInBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"code":11002,"message":"repo not found"}`))
	}))
	defer srv.Close()

	resp, err := NewClient(Config{BaseURL: srv.URL}, nil).TopK(context.Background(), &TopKRequest{Query: "q"})
	require.NoError(t, err)
	assert.Equal(t, 11002, resp.Code)
	assert.Equal(t, "repo not found", resp.Message)
	assert.Empty(t, resp.Results)
}

func TestClient_TopK_HTTPErrors(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		retryable bool
	}{
		{"bad request", http.StatusBadRequest, false},
		{"server error", http.StatusServiceUnavailable, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte("oops"))
			}))
			defer srv.Close()

			_, err := NewClient(Config{BaseURL: srv.URL}, nil).TopK(context.Background(), &TopKRequest{Query: "q"})
			require.Error(t, err)
			assert.True(t, types.IsCode(err, types.ErrKnowledgeRequest))
			assert.Equal(t, tt.retryable, types.IsRetryable(err))
			assert.Contains(t, err.Error(), "oops")
		})
	}
}

func TestClient_TopK_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := NewClient(Config{BaseURL: url, Timeout: time.Second}, nil).TopK(context.Background(), &TopKRequest{Query: "q"})
	require.Error(t, err)
	assert.True(t, types.IsRetryable(err))
}

func TestConfigFrom(t *testing.T) {
	cfg := ConfigFrom(config.DefaultKnowledgeConfig())
	assert.Equal(t, "http://localhost:8000", cfg.BaseURL)
	assert.Equal(t, 30*time.Second, cfg.Timeout)
}
