// Package anthropic implements llm.Provider using the Anthropic Messages API.
package anthropic

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/taskforge-ai/taskforge/llm"
	"github.com/taskforge-ai/taskforge/logging"
)

// Options configure the Anthropic provider.
type Options struct {
	// DefaultModel is used when a request names no model.
	DefaultModel string
	// APIKey overrides the environment-provided key.
	APIKey string
	// Logger receives request logs.
	Logger logging.Logger
}

// Provider wraps the Anthropic API behind the generic llm.Provider interface.
type Provider struct {
	client  anthropic.Client
	catalog map[string]llm.ModelInfo
	opts    Options
}

// New creates an Anthropic provider using the official client.
func New(optFns ...func(o *Options)) *Provider {
	opts := Options{
		DefaultModel: string(anthropic.ModelClaude3_5Sonnet20241022),
		Logger:       logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	var clientOpts []option.RequestOption
	if opts.APIKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(opts.APIKey))
	}
	return &Provider{
		client:  anthropic.NewClient(clientOpts...),
		catalog: defaultCatalog(),
		opts:    opts,
	}
}

func defaultCatalog() map[string]llm.ModelInfo {
	return map[string]llm.ModelInfo{
		string(anthropic.ModelClaude3_5Sonnet20241022): {
			Name:             string(anthropic.ModelClaude3_5Sonnet20241022),
			DisplayName:      "Claude 3.5 Sonnet",
			Type:             llm.ModelTypeChat,
			Capabilities:     []llm.Capability{llm.CapabilityTextGeneration, llm.CapabilityCodeGeneration, llm.CapabilityQuestionAnswering, llm.CapabilitySummarization, llm.CapabilityTranslation, llm.CapabilityFunctionCalling},
			MaxTokens:        8192,
			ContextLength:    200000,
			Description:      "Balanced Claude model for general and coding work",
			PerformanceScore: 0.95,
		},
		string(anthropic.ModelClaude3_5HaikuLatest): {
			Name:             string(anthropic.ModelClaude3_5HaikuLatest),
			DisplayName:      "Claude 3.5 Haiku",
			Type:             llm.ModelTypeChat,
			Capabilities:     []llm.Capability{llm.CapabilityTextGeneration, llm.CapabilityQuestionAnswering, llm.CapabilitySummarization},
			MaxTokens:        8192,
			ContextLength:    200000,
			Description:      "Fast low-latency Claude model",
			PerformanceScore: 0.8,
		},
	}
}

func (p *Provider) buildParams(req llm.GenerationRequest) anthropic.MessageNewParams {
	model := req.ModelName
	if model == "" {
		model = p.opts.DefaultModel
	}
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: int64(req.Config.MaxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt)),
		},
		Temperature: anthropic.Float(req.Config.Temperature),
	}
	if len(req.Config.StopSequences) > 0 {
		params.StopSequences = req.Config.StopSequences
	}
	return params
}

// Generate implements llm.Provider. SDK errors are encoded into the response.
func (p *Provider) Generate(ctx context.Context, req llm.GenerationRequest) llm.GenerationResponse {
	start := time.Now()
	params := p.buildParams(req)

	resp, err := p.client.Messages.New(ctx, params)
	if err != nil {
		p.opts.Logger.Warn("anthropic request failed", "model", params.Model, "error", err)
		return llm.ErrorResponse(string(params.Model), time.Since(start), fmt.Errorf("anthropic api error: %w", err))
	}

	var sb strings.Builder
	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			sb.WriteString(block.AsText().Text)
		}
	}
	text := sb.String()
	if text == "" {
		return llm.ErrorResponse(string(params.Model), time.Since(start), fmt.Errorf("empty completion"))
	}

	finish := llm.FinishReasonStop
	if resp.StopReason == "max_tokens" {
		finish = llm.FinishReasonLength
	}
	return llm.GenerationResponse{
		Text:         text,
		ModelName:    string(resp.Model),
		Elapsed:      time.Since(start),
		TokenCount:   int(resp.Usage.OutputTokens),
		FinishReason: finish,
	}
}

// GenerateStream implements llm.Provider. The Messages API call itself is
// non-streaming; the completed text is delivered as a single fragment so
// callers see the same channel contract as other providers.
func (p *Provider) GenerateStream(ctx context.Context, req llm.GenerationRequest) (<-chan string, <-chan error) {
	fragments := make(chan string, 1)
	errCh := make(chan error, 1)

	go func() {
		defer close(fragments)
		defer close(errCh)

		resp := p.Generate(ctx, req)
		if resp.Failed() {
			errCh <- resp.Err()
			return
		}
		select {
		case <-ctx.Done():
			errCh <- ctx.Err()
		case fragments <- resp.Text:
		}
	}()

	return fragments, errCh
}

// ListModels implements llm.Provider; availability reflects a live probe.
func (p *Provider) ListModels(ctx context.Context) []llm.ModelInfo {
	healthy := p.IsHealthy(ctx)
	out := make([]llm.ModelInfo, 0, len(p.catalog))
	for _, info := range p.catalog {
		info.Available = healthy
		out = append(out, info)
	}
	return out
}

// ModelInfo implements llm.Provider.
func (p *Provider) ModelInfo(name string) (llm.ModelInfo, bool) {
	info, ok := p.catalog[name]
	return info, ok
}

// IsHealthy implements llm.Provider by listing models on the API.
func (p *Provider) IsHealthy(ctx context.Context) bool {
	probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	_, err := p.client.Models.List(probeCtx, anthropic.ModelListParams{})
	return err == nil
}
