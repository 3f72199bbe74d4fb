// Package ollama implements llm.Provider against a local Ollama daemon.
//
// The provider owns the wire protocol (generate + tags endpoints, NDJSON
// streaming), transient-failure retry with exponential backoff, a TTL-cached
// live model list, and the mapping from logical model names to whatever tags
// the daemon actually serves.
package ollama

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/taskforge-ai/taskforge/llm"
	"github.com/taskforge-ai/taskforge/logging"
)

// ModelConfig maps one logical model name to live catalog tags.
type ModelConfig struct {
	// Patterns are substrings matched case-insensitively against live tags.
	// Defaults to the logical name itself.
	Patterns []string
	// Priority orders automatic selection; lower wins.
	Priority int
	// Disabled excludes the model from automatic selection.
	Disabled bool
}

// Options configures the Ollama provider.
type Options struct {
	// BaseURL of the Ollama daemon.
	BaseURL string
	// Timeout is the base per-attempt request timeout; it grows per retry
	// attempt according to the retry policy.
	Timeout time.Duration
	// Retry controls backoff for transient failures.
	Retry llm.RetryPolicy
	// ModelConfig maps logical model names to patterns and priorities.
	ModelConfig map[string]ModelConfig
	// CacheTTL bounds how long the live model list is reused.
	CacheTTL time.Duration
	// HTTPClient overrides the transport (tests).
	HTTPClient *http.Client
	// Logger receives request and resolution logs.
	Logger logging.Logger
}

// Provider talks to one Ollama backend. Safe for concurrent use.
type Provider struct {
	baseURL     string
	timeout     time.Duration
	retry       llm.RetryPolicy
	modelConfig map[string]ModelConfig
	cacheTTL    time.Duration
	client      *http.Client
	logger      logging.Logger

	catalog map[string]llm.ModelInfo

	// live model list cache: single writer refresh, many readers, TTL guarded.
	cacheMu    sync.RWMutex
	liveModels []string
	cacheTime  time.Time
}

// New constructs an Ollama provider with optional overrides.
func New(optFns ...func(o *Options)) *Provider {
	opts := Options{
		BaseURL:  "http://localhost:11434",
		Timeout:  60 * time.Second,
		Retry:    llm.DefaultRetryPolicy(),
		CacheTTL: 5 * time.Minute,
		Logger:   logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	return &Provider{
		baseURL:     strings.TrimRight(opts.BaseURL, "/"),
		timeout:     opts.Timeout,
		retry:       opts.Retry,
		modelConfig: opts.ModelConfig,
		cacheTTL:    opts.CacheTTL,
		client:      client,
		logger:      opts.Logger,
		catalog:     defaultCatalog(),
	}
}

// defaultCatalog describes the OSS models the provider knows how to route to.
func defaultCatalog() map[string]llm.ModelInfo {
	return map[string]llm.ModelInfo{
		"deepseek-coder": {
			Name:              "deepseek-coder",
			DisplayName:       "DeepSeek Coder",
			Type:              llm.ModelTypeCode,
			Capabilities:      []llm.Capability{llm.CapabilityCodeGeneration, llm.CapabilityTextGeneration, llm.CapabilityQuestionAnswering},
			MaxTokens:         4096,
			ContextLength:     16384,
			ParameterSize:     "6.7B",
			MemoryRequirement: "8GB",
			Description:       "High-performing open model specialized for code generation",
			PerformanceScore:  0.9,
		},
		"llama2": {
			Name:              "llama2",
			DisplayName:       "Llama 2",
			Type:              llm.ModelTypeGeneral,
			Capabilities:      []llm.Capability{llm.CapabilityTextGeneration, llm.CapabilityQuestionAnswering, llm.CapabilitySummarization},
			MaxTokens:         4096,
			ContextLength:     8192,
			ParameterSize:     "7B",
			MemoryRequirement: "6GB",
			Description:       "Meta's general purpose open model",
			PerformanceScore:  0.7,
		},
		"mistral": {
			Name:              "mistral",
			DisplayName:       "Mistral",
			Type:              llm.ModelTypeGeneral,
			Capabilities:      []llm.Capability{llm.CapabilityTextGeneration, llm.CapabilityQuestionAnswering},
			MaxTokens:         4096,
			ContextLength:     8192,
			ParameterSize:     "7B",
			MemoryRequirement: "6GB",
			Description:       "Compact, high quality general model",
			PerformanceScore:  0.8,
		},
		"codellama": {
			Name:              "codellama",
			DisplayName:       "Code Llama",
			Type:              llm.ModelTypeCode,
			Capabilities:      []llm.Capability{llm.CapabilityCodeGeneration, llm.CapabilityTextGeneration},
			MaxTokens:         4096,
			ContextLength:     16384,
			ParameterSize:     "7B",
			MemoryRequirement: "8GB",
			Description:       "Meta's code generation model",
			PerformanceScore:  0.75,
		},
		"nomic-embed-text": {
			Name:              "nomic-embed-text",
			DisplayName:       "Nomic Embed Text",
			Type:              llm.ModelTypeEmbedding,
			Capabilities:      []llm.Capability{llm.CapabilityEmbedding},
			MaxTokens:         8192,
			ContextLength:     8192,
			ParameterSize:     "137M",
			MemoryRequirement: "1GB",
			Description:       "Embedding model; never used for text generation",
			PerformanceScore:  0.6,
		},
	}
}

// fallbackOrder is the fixed preference used when no configured pattern
// matches the live catalog.
var fallbackOrder = []string{"deepseek-coder", "mistral", "llama2", "codellama"}

// wire types

type generateRequest struct {
	Model   string                 `json:"model"`
	Prompt  string                 `json:"prompt"`
	Stream  bool                   `json:"stream"`
	Options map[string]interface{} `json:"options"`
}

type generateResponse struct {
	Response   string `json:"response"`
	Done       bool   `json:"done"`
	DoneReason string `json:"done_reason,omitempty"`
	EvalCount  int    `json:"eval_count,omitempty"`
	Error      string `json:"error,omitempty"`
}

type tagsResponse struct {
	Models []struct {
		Name string `json:"name"`
	} `json:"models"`
}

func buildOptions(cfg llm.GenerationConfig) map[string]interface{} {
	opts := map[string]interface{}{
		"temperature": cfg.Temperature,
		"top_p":       cfg.TopP,
		"top_k":       cfg.TopK,
		"num_predict": cfg.MaxTokens,
	}
	if len(cfg.StopSequences) > 0 {
		opts["stop"] = cfg.StopSequences
	}
	if cfg.Seed != nil {
		opts["seed"] = *cfg.Seed
	}
	return opts
}

// Generate implements llm.Provider. After exhausting retries it returns an
// error-bearing response; it never returns an error value.
func (p *Provider) Generate(ctx context.Context, req llm.GenerationRequest) llm.GenerationResponse {
	start := time.Now()

	modelName, err := p.targetModel(ctx, req.ModelName)
	if err != nil {
		return llm.ErrorResponse(req.ModelName, time.Since(start), err)
	}

	payload, err := json.Marshal(generateRequest{
		Model:   modelName,
		Prompt:  req.Prompt,
		Stream:  false,
		Options: buildOptions(req.Config),
	})
	if err != nil {
		return llm.ErrorResponse(modelName, time.Since(start), fmt.Errorf("encode request: %w", err))
	}

	body, err := p.requestWithRetry(ctx, http.MethodPost, p.baseURL+"/api/generate", payload)
	if err != nil {
		p.logger.Warn("generation request failed", "model", modelName, "error", err)
		return llm.ErrorResponse(modelName, time.Since(start), err)
	}

	var result generateResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return llm.ErrorResponse(modelName, time.Since(start), fmt.Errorf("decode response: %w", err))
	}
	if result.Error != "" {
		return llm.ErrorResponse(modelName, time.Since(start), fmt.Errorf("backend error: %s", result.Error))
	}
	if strings.TrimSpace(result.Response) == "" {
		return llm.ErrorResponse(modelName, time.Since(start), fmt.Errorf("backend returned an empty response"))
	}

	tokens := result.EvalCount
	if tokens == 0 {
		tokens = estimateTokens(result.Response)
	}
	finish := llm.FinishReasonStop
	if result.DoneReason == "length" {
		finish = llm.FinishReasonLength
	}
	elapsed := time.Since(start)
	p.logger.Debug("generation succeeded", "model", modelName, "tokens", tokens, "elapsed", elapsed)
	return llm.GenerationResponse{
		Text:         result.Response,
		ModelName:    modelName,
		Elapsed:      elapsed,
		TokenCount:   tokens,
		FinishReason: finish,
	}
}

// GenerateStream implements llm.Provider. Fragments are decoded from the
// daemon's newline-delimited JSON stream; the terminal object has done=true.
func (p *Provider) GenerateStream(ctx context.Context, req llm.GenerationRequest) (<-chan string, <-chan error) {
	fragments := make(chan string, 16)
	errCh := make(chan error, 1)

	go func() {
		defer close(fragments)
		defer close(errCh)

		modelName, err := p.targetModel(ctx, req.ModelName)
		if err != nil {
			errCh <- err
			return
		}

		payload, err := json.Marshal(generateRequest{
			Model:   modelName,
			Prompt:  req.Prompt,
			Stream:  true,
			Options: buildOptions(req.Config),
		})
		if err != nil {
			errCh <- fmt.Errorf("encode request: %w", err)
			return
		}

		body, err := p.openStream(ctx, payload)
		if err != nil {
			errCh <- err
			return
		}
		defer body.Close()

		scanner := bufio.NewScanner(body)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := bytes.TrimSpace(scanner.Bytes())
			if len(line) == 0 {
				continue
			}
			var chunk generateResponse
			if err := json.Unmarshal(line, &chunk); err != nil {
				continue // tolerate malformed interleaved lines
			}
			if chunk.Error != "" {
				errCh <- fmt.Errorf("backend error: %s", chunk.Error)
				return
			}
			if chunk.Response != "" {
				select {
				case <-ctx.Done():
					errCh <- ctx.Err()
					return
				case fragments <- chunk.Response:
				}
			}
			if chunk.Done {
				return
			}
		}
		if err := scanner.Err(); err != nil {
			errCh <- fmt.Errorf("stream read: %w", err)
		}
	}()

	return fragments, errCh
}

// openStream establishes the streaming request, retrying connection and 5xx
// failures. Once the stream is open the retry budget no longer applies.
func (p *Provider) openStream(ctx context.Context, payload []byte) (io.ReadCloser, error) {
	var body io.ReadCloser
	err := llm.DoWithRetry(ctx, p.retry, func(attempt int) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/generate", bytes.NewReader(payload))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		resp, err := p.client.Do(req)
		if err != nil {
			return err
		}
		if resp.StatusCode != http.StatusOK {
			detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			resp.Body.Close()
			return &llm.StatusError{Status: resp.StatusCode, Body: string(detail)}
		}
		body = resp.Body
		return nil
	})
	if err != nil {
		return nil, err
	}
	return body, nil
}

// ListModels implements llm.Provider. Availability reflects the live catalog:
// a definition is available when at least one live tag matches its patterns.
func (p *Provider) ListModels(ctx context.Context) []llm.ModelInfo {
	live, err := p.availableModels(ctx)
	if err != nil {
		p.logger.Warn("model list refresh failed", "error", err)
	}
	names := make([]string, 0, len(p.catalog))
	for name := range p.catalog {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]llm.ModelInfo, 0, len(names))
	for _, name := range names {
		info := p.catalog[name]
		info.Available = matchPattern(p.patternsFor(name), live) != ""
		out = append(out, info)
	}
	return out
}

// ModelInfo implements llm.Provider; lookup is by logical catalog name.
func (p *Provider) ModelInfo(name string) (llm.ModelInfo, bool) {
	info, ok := p.catalog[name]
	return info, ok
}

// IsHealthy implements llm.Provider: a 200 from the tags endpoint means the
// daemon is up. Single attempt; probes must stay cheap.
func (p *Provider) IsHealthy(ctx context.Context) bool {
	probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, p.baseURL+"/api/tags", nil)
	if err != nil {
		return false
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// targetModel resolves the physical model for a request: an explicit logical
// name goes through alias patterns (falling back to the raw name so
// unconfigured tags still work), an empty name selects automatically.
func (p *Provider) targetModel(ctx context.Context, requested string) (string, error) {
	if requested != "" {
		if actual := p.resolveModel(ctx, requested); actual != "" {
			return actual, nil
		}
		return requested, nil
	}
	if actual := p.selectBestModel(ctx); actual != "" {
		return actual, nil
	}
	return "", fmt.Errorf("no models available")
}

// resolveModel maps a logical name onto a live tag by substring pattern,
// skipping embedding-only tags. Resolution is deterministic for an unchanged
// catalog.
func (p *Provider) resolveModel(ctx context.Context, logical string) string {
	live, err := p.availableModels(ctx)
	if err != nil || len(live) == 0 {
		return ""
	}
	return matchPattern(p.patternsFor(logical), live)
}

// selectBestModel picks the live model to use when no explicit name is given:
// configured models in priority order, then the fixed fallback preference,
// then any live non-embedding tag.
func (p *Provider) selectBestModel(ctx context.Context) string {
	live, err := p.availableModels(ctx)
	if err != nil || len(live) == 0 {
		return ""
	}

	type candidate struct {
		name     string
		priority int
	}
	var enabled []candidate
	for name, cfg := range p.modelConfig {
		if cfg.Disabled {
			continue
		}
		enabled = append(enabled, candidate{name: name, priority: cfg.Priority})
	}
	sort.Slice(enabled, func(i, j int) bool {
		if enabled[i].priority != enabled[j].priority {
			return enabled[i].priority < enabled[j].priority
		}
		return enabled[i].name < enabled[j].name
	})
	for _, c := range enabled {
		if actual := matchPattern(p.patternsFor(c.name), live); actual != "" {
			p.logger.Debug("model selected", "logical", c.name, "actual", actual)
			return actual
		}
	}

	for _, name := range fallbackOrder {
		if actual := matchPattern(p.patternsFor(name), live); actual != "" {
			return actual
		}
	}

	for _, tag := range live {
		if !isEmbeddingTag(tag) {
			p.logger.Warn("using unconfigured model", "model", tag)
			return tag
		}
	}
	return ""
}

// patternsFor returns the configured substring patterns for a logical name,
// defaulting to the name itself.
func (p *Provider) patternsFor(logical string) []string {
	if cfg, ok := p.modelConfig[logical]; ok && len(cfg.Patterns) > 0 {
		return cfg.Patterns
	}
	return []string{logical}
}

// matchPattern returns the first live tag containing one of the patterns
// (case-insensitive), skipping embedding-only tags.
func matchPattern(patterns, live []string) string {
	for _, pattern := range patterns {
		needle := strings.ToLower(pattern)
		for _, tag := range live {
			if isEmbeddingTag(tag) {
				continue
			}
			if strings.Contains(strings.ToLower(tag), needle) {
				return tag
			}
		}
	}
	return ""
}

func isEmbeddingTag(tag string) bool {
	return strings.Contains(strings.ToLower(tag), "embed")
}

// availableModels returns the live tag list, served from a TTL cache. A
// single writer refreshes while readers take copies; the TTL check avoids a
// write lock on every read.
func (p *Provider) availableModels(ctx context.Context) ([]string, error) {
	p.cacheMu.RLock()
	if p.liveModels != nil && time.Since(p.cacheTime) < p.cacheTTL {
		models := make([]string, len(p.liveModels))
		copy(models, p.liveModels)
		p.cacheMu.RUnlock()
		return models, nil
	}
	p.cacheMu.RUnlock()

	p.cacheMu.Lock()
	defer p.cacheMu.Unlock()
	// Another caller may have refreshed while we waited for the lock.
	if p.liveModels != nil && time.Since(p.cacheTime) < p.cacheTTL {
		models := make([]string, len(p.liveModels))
		copy(models, p.liveModels)
		return models, nil
	}

	body, err := p.requestWithRetry(ctx, http.MethodGet, p.baseURL+"/api/tags", nil)
	if err != nil {
		return nil, err
	}
	var tags tagsResponse
	if err := json.Unmarshal(body, &tags); err != nil {
		return nil, fmt.Errorf("decode tags: %w", err)
	}
	models := make([]string, 0, len(tags.Models))
	for _, m := range tags.Models {
		models = append(models, m.Name)
	}
	p.liveModels = models
	p.cacheTime = time.Now()

	out := make([]string, len(models))
	copy(out, models)
	return out, nil
}

// InvalidateCache drops the live model cache, forcing the next read to
// refresh. Used after the daemon's catalog is known to have changed.
func (p *Provider) InvalidateCache() {
	p.cacheMu.Lock()
	defer p.cacheMu.Unlock()
	p.liveModels = nil
	p.cacheTime = time.Time{}
}

// requestWithRetry performs one buffered HTTP exchange under the retry
// policy. The per-attempt timeout grows geometrically with the attempt index.
func (p *Provider) requestWithRetry(ctx context.Context, method, url string, payload []byte) ([]byte, error) {
	var body []byte
	err := llm.DoWithRetry(ctx, p.retry, func(attempt int) error {
		attemptCtx, cancel := context.WithTimeout(ctx, p.retry.AttemptTimeout(p.timeout, attempt))
		defer cancel()

		var reader io.Reader
		if payload != nil {
			reader = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(attemptCtx, method, url, reader)
		if err != nil {
			return err
		}
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		resp, err := p.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		if resp.StatusCode != http.StatusOK {
			return &llm.StatusError{Status: resp.StatusCode, Body: strings.TrimSpace(string(data))}
		}
		body = data
		return nil
	})
	if err != nil {
		return nil, err
	}
	return body, nil
}

// estimateTokens approximates token count from text length when the backend
// omits counts: ASCII runs about 4 chars per token, everything else about 1.
func estimateTokens(text string) int {
	ascii := 0
	other := 0
	for _, r := range text {
		if r < 128 {
			ascii++
		} else {
			other++
		}
	}
	return ascii/4 + other
}
