package ollama

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/taskforge-ai/taskforge/llm"
)

func fastRetry() llm.RetryPolicy {
	return llm.RetryPolicy{
		MaxRetries:        3,
		InitialDelay:      time.Millisecond,
		MaxDelay:          2 * time.Millisecond,
		MaxTimeout:        5 * time.Second,
		BackoffMultiplier: 2.0,
		TimeoutMultiplier: 1.5,
	}
}

func newTestProvider(t *testing.T, handler http.Handler) *Provider {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(func(o *Options) {
		o.BaseURL = srv.URL
		o.Retry = fastRetry()
		o.Timeout = 2 * time.Second
	})
}

func tagsHandler(names ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		type model struct {
			Name string `json:"name"`
		}
		resp := struct {
			Models []model `json:"models"`
		}{}
		for _, n := range names {
			resp.Models = append(resp.Models, model{Name: n})
		}
		json.NewEncoder(w).Encode(resp)
	}
}

func TestGenerateSuccess(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/tags", tagsHandler("deepseek-coder:6.7b"))
	mux.HandleFunc("/api/generate", func(w http.ResponseWriter, r *http.Request) {
		var req generateRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "deepseek-coder:6.7b", req.Model)
		assert.False(t, req.Stream)
		assert.Contains(t, req.Options, "temperature")
		assert.Contains(t, req.Options, "num_predict")
		json.NewEncoder(w).Encode(generateResponse{Response: "func main() {}", Done: true, EvalCount: 12})
	})
	p := newTestProvider(t, mux)

	resp := p.Generate(context.Background(), llm.NewGenerationRequest("write main", func(r *llm.GenerationRequest) {
		r.ModelName = "deepseek-coder"
	}))
	require.False(t, resp.Failed())
	assert.Equal(t, "func main() {}", resp.Text)
	assert.Equal(t, "deepseek-coder:6.7b", resp.ModelName)
	assert.Equal(t, 12, resp.TokenCount)
	assert.Equal(t, llm.FinishReasonStop, resp.FinishReason)
}

func TestGenerateRetriesServerErrors(t *testing.T) {
	var generateCalls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/api/tags", tagsHandler("mistral:latest"))
	mux.HandleFunc("/api/generate", func(w http.ResponseWriter, r *http.Request) {
		generateCalls.Add(1)
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	})
	p := newTestProvider(t, mux)

	resp := p.Generate(context.Background(), llm.NewGenerationRequest("hi"))
	require.True(t, resp.Failed())
	assert.Equal(t, llm.FinishReasonError, resp.FinishReason)
	assert.Equal(t, int32(4), generateCalls.Load(), "expected MaxRetries+1 attempts")
}

func TestGenerateDoesNotRetryClientErrors(t *testing.T) {
	var generateCalls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/api/tags", tagsHandler("mistral:latest"))
	mux.HandleFunc("/api/generate", func(w http.ResponseWriter, r *http.Request) {
		generateCalls.Add(1)
		http.Error(w, "bad model", http.StatusNotFound)
	})
	p := newTestProvider(t, mux)

	resp := p.Generate(context.Background(), llm.NewGenerationRequest("hi"))
	require.True(t, resp.Failed())
	assert.Equal(t, int32(1), generateCalls.Load())
}

func TestGenerateEmptyResponseIsError(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/tags", tagsHandler("mistral:latest"))
	mux.HandleFunc("/api/generate", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(generateResponse{Response: "   ", Done: true})
	})
	p := newTestProvider(t, mux)

	resp := p.Generate(context.Background(), llm.NewGenerationRequest("hi"))
	require.True(t, resp.Failed())
	assert.Contains(t, resp.Error, "empty response")
}

func TestGenerateEstimatesTokensWhenCountMissing(t *testing.T) {
	text := "abcdefgh" // 8 ASCII chars -> 2 tokens
	mux := http.NewServeMux()
	mux.HandleFunc("/api/tags", tagsHandler("mistral:latest"))
	mux.HandleFunc("/api/generate", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(generateResponse{Response: text, Done: true})
	})
	p := newTestProvider(t, mux)

	resp := p.Generate(context.Background(), llm.NewGenerationRequest("hi"))
	require.False(t, resp.Failed())
	assert.Equal(t, 2, resp.TokenCount)
}

func TestEstimateTokens(t *testing.T) {
	assert.Equal(t, 0, estimateTokens(""))
	assert.Equal(t, 2, estimateTokens("abcdefgh"))
	// non-ASCII counts one token per rune
	assert.Equal(t, 3, estimateTokens("日本語"))
	assert.Equal(t, 5, estimateTokens("abcdefgh日本語"))
}

func TestGenerateStream(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/tags", tagsHandler("mistral:latest"))
	mux.HandleFunc("/api/generate", func(w http.ResponseWriter, r *http.Request) {
		var req generateRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.True(t, req.Stream)
		fmt.Fprintln(w, `{"response":"Hello","done":false}`)
		fmt.Fprintln(w, `not json at all`)
		fmt.Fprintln(w, `{"response":" world","done":false}`)
		fmt.Fprintln(w, `{"response":"","done":true}`)
	})
	p := newTestProvider(t, mux)

	fragments, errCh := p.GenerateStream(context.Background(), llm.NewGenerationRequest("hi"))
	var got string
	for f := range fragments {
		got += f
	}
	assert.NoError(t, <-errCh)
	assert.Equal(t, "Hello world", got)
}

func TestGenerateStreamBackendError(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/tags", tagsHandler("mistral:latest"))
	mux.HandleFunc("/api/generate", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, `{"error":"model crashed"}`)
	})
	p := newTestProvider(t, mux)

	fragments, errCh := p.GenerateStream(context.Background(), llm.NewGenerationRequest("hi"))
	for range fragments {
	}
	err := <-errCh
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model crashed")
}

func TestModelResolution(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/tags", tagsHandler("nomic-embed-text:latest", "deepseek-coder:6.7b-instruct", "llama2:13b"))
	p := newTestProvider(t, mux)

	ctx := context.Background()
	assert.Equal(t, "deepseek-coder:6.7b-instruct", p.resolveModel(ctx, "deepseek-coder"))
	assert.Equal(t, "llama2:13b", p.resolveModel(ctx, "llama2"))
	// embedding tags never resolve for generation
	assert.Equal(t, "", p.resolveModel(ctx, "nomic-embed-text"))

	// resolution is idempotent against an unchanged catalog
	assert.Equal(t, "deepseek-coder:6.7b-instruct", p.resolveModel(ctx, "deepseek-coder"))
}

func TestSelectBestModelPrefersConfiguredPriority(t *testing.T) {
	srv := httptest.NewServer(tagsHandler("llama2:13b", "mistral:latest"))
	t.Cleanup(srv.Close)
	p := New(func(o *Options) {
		o.BaseURL = srv.URL
		o.Retry = fastRetry()
		o.ModelConfig = map[string]ModelConfig{
			"llama2":  {Priority: 1},
			"mistral": {Priority: 2},
		}
	})

	assert.Equal(t, "llama2:13b", p.selectBestModel(context.Background()))
}

func TestSelectBestModelSkipsDisabled(t *testing.T) {
	srv := httptest.NewServer(tagsHandler("llama2:13b", "mistral:latest"))
	t.Cleanup(srv.Close)
	p := New(func(o *Options) {
		o.BaseURL = srv.URL
		o.Retry = fastRetry()
		o.ModelConfig = map[string]ModelConfig{
			"llama2":  {Priority: 1, Disabled: true},
			"mistral": {Priority: 2},
		}
	})

	assert.Equal(t, "mistral:latest", p.selectBestModel(context.Background()))
}

func TestSelectBestModelFallbackOrder(t *testing.T) {
	srv := httptest.NewServer(tagsHandler("codellama:7b", "mistral:latest"))
	t.Cleanup(srv.Close)
	p := New(func(o *Options) {
		o.BaseURL = srv.URL
		o.Retry = fastRetry()
	})

	// mistral precedes codellama in the fixed fallback preference
	assert.Equal(t, "mistral:latest", p.selectBestModel(context.Background()))
}

func TestListModelsAvailability(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/tags", tagsHandler("mistral:latest"))
	p := newTestProvider(t, mux)

	models := p.ListModels(context.Background())
	require.NotEmpty(t, models)
	byName := make(map[string]llm.ModelInfo, len(models))
	for _, m := range models {
		byName[m.Name] = m
	}
	assert.True(t, byName["mistral"].Available)
	assert.False(t, byName["llama2"].Available)
	assert.False(t, byName["deepseek-coder"].Available)
}

func TestModelListCache(t *testing.T) {
	var tagCalls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/api/tags", func(w http.ResponseWriter, r *http.Request) {
		tagCalls.Add(1)
		tagsHandler("mistral:latest")(w, r)
	})
	p := newTestProvider(t, mux)

	ctx := context.Background()
	_, err := p.availableModels(ctx)
	require.NoError(t, err)
	_, err = p.availableModels(ctx)
	require.NoError(t, err)
	assert.Equal(t, int32(1), tagCalls.Load(), "second read must hit the cache")

	p.InvalidateCache()
	_, err = p.availableModels(ctx)
	require.NoError(t, err)
	assert.Equal(t, int32(2), tagCalls.Load())
}

func TestIsHealthy(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/tags", tagsHandler())
	p := newTestProvider(t, mux)
	assert.True(t, p.IsHealthy(context.Background()))

	down := New(func(o *Options) {
		o.BaseURL = "http://127.0.0.1:1"
		o.Retry = fastRetry()
	})
	assert.False(t, down.IsHealthy(context.Background()))
}

func TestGenerateNoModelsAvailable(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/tags", tagsHandler())
	p := newTestProvider(t, mux)

	resp := p.Generate(context.Background(), llm.NewGenerationRequest("hi"))
	require.True(t, resp.Failed())
	assert.Contains(t, resp.Error, "no models available")
}
