// Package openai implements llm.Provider using the OpenAI Chat Completions
// API (including streaming). It adapts TaskForge's prompt-based generation
// requests into the SDK's message format and back.
package openai

import (
	"context"
	"fmt"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/taskforge-ai/taskforge/llm"
	"github.com/taskforge-ai/taskforge/logging"
)

// Options configure the OpenAI provider. Fields intentionally mirror a
// minimal subset of Chat Completion parameters; extend via functional
// options without breaking callers.
type Options struct {
	// DefaultModel is used when a request names no model.
	DefaultModel string
	// APIKey overrides the environment-provided key.
	APIKey string
	// Logger receives request logs.
	Logger logging.Logger
}

// Provider wraps the OpenAI API behind the generic llm.Provider interface.
type Provider struct {
	client  openai.Client
	catalog map[string]llm.ModelInfo
	opts    Options
}

// New creates an OpenAI provider using the official client.
func New(optFns ...func(o *Options)) *Provider {
	opts := Options{
		DefaultModel: openai.ChatModelGPT4oMini,
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
		client:  openai.NewClient(clientOpts...),
		catalog: defaultCatalog(),
		opts:    opts,
	}
}

func defaultCatalog() map[string]llm.ModelInfo {
	return map[string]llm.ModelInfo{
		openai.ChatModelGPT4o: {
			Name:             openai.ChatModelGPT4o,
			DisplayName:      "GPT-4o",
			Type:             llm.ModelTypeChat,
			Capabilities:     []llm.Capability{llm.CapabilityTextGeneration, llm.CapabilityCodeGeneration, llm.CapabilityQuestionAnswering, llm.CapabilitySummarization, llm.CapabilityTranslation, llm.CapabilityFunctionCalling},
			MaxTokens:        16384,
			ContextLength:    128000,
			Description:      "OpenAI flagship multimodal chat model",
			PerformanceScore: 0.97,
		},
		openai.ChatModelGPT4oMini: {
			Name:             openai.ChatModelGPT4oMini,
			DisplayName:      "GPT-4o mini",
			Type:             llm.ModelTypeChat,
			Capabilities:     []llm.Capability{llm.CapabilityTextGeneration, llm.CapabilityCodeGeneration, llm.CapabilityQuestionAnswering, llm.CapabilitySummarization, llm.CapabilityFunctionCalling},
			MaxTokens:        16384,
			ContextLength:    128000,
			Description:      "Cost efficient small chat model",
			PerformanceScore: 0.85,
		},
	}
}

func (p *Provider) buildParams(req llm.GenerationRequest) openai.ChatCompletionNewParams {
	model := req.ModelName
	if model == "" {
		model = p.opts.DefaultModel
	}
	params := openai.ChatCompletionNewParams{
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(req.Prompt),
		},
		Model:               model,
		Temperature:         openai.Float(req.Config.Temperature),
		TopP:                openai.Float(req.Config.TopP),
		MaxCompletionTokens: openai.Int(int64(req.Config.MaxTokens)),
	}
	if req.Config.Seed != nil {
		params.Seed = openai.Int(int64(*req.Config.Seed))
	}
	return params
}

// Generate implements llm.Provider. SDK errors are encoded into the response.
func (p *Provider) Generate(ctx context.Context, req llm.GenerationRequest) llm.GenerationResponse {
	start := time.Now()
	params := p.buildParams(req)

	resp, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		p.opts.Logger.Warn("openai request failed", "model", params.Model, "error", err)
		return llm.ErrorResponse(params.Model, time.Since(start), fmt.Errorf("openai api error: %w", err))
	}
	if len(resp.Choices) == 0 {
		return llm.ErrorResponse(params.Model, time.Since(start), fmt.Errorf("no choices returned"))
	}

	choice := resp.Choices[0]
	if choice.Message.Content == "" {
		return llm.ErrorResponse(params.Model, time.Since(start), fmt.Errorf("empty completion"))
	}
	finish := llm.FinishReasonStop
	if choice.FinishReason == "length" {
		finish = llm.FinishReasonLength
	}
	return llm.GenerationResponse{
		Text:         choice.Message.Content,
		ModelName:    resp.Model,
		Elapsed:      time.Since(start),
		TokenCount:   int(resp.Usage.CompletionTokens),
		FinishReason: finish,
	}
}

// GenerateStream implements llm.Provider using the SDK's streaming API.
func (p *Provider) GenerateStream(ctx context.Context, req llm.GenerationRequest) (<-chan string, <-chan error) {
	fragments := make(chan string, 16)
	errCh := make(chan error, 1)

	go func() {
		defer close(fragments)
		defer close(errCh)

		stream := p.client.Chat.Completions.NewStreaming(ctx, p.buildParams(req))
		for stream.Next() {
			chunk := stream.Current()
			for _, choice := range chunk.Choices {
				if choice.Delta.Content == "" {
					continue
				}
				select {
				case <-ctx.Done():
					errCh <- ctx.Err()
					return
				case fragments <- choice.Delta.Content:
				}
			}
		}
		if err := stream.Err(); err != nil {
			errCh <- fmt.Errorf("openai streaming error: %w", err)
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
	_, err := p.client.Models.List(probeCtx)
	return err == nil
}
