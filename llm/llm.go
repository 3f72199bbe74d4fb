package llm

import (
	"context"
	"fmt"
	"time"
)

// ModelType classifies what a model is primarily built for.
type ModelType string

const (
	// ModelTypeGeneral marks general purpose models.
	ModelTypeGeneral ModelType = "general"
	// ModelTypeCode marks code generation / analysis models.
	ModelTypeCode ModelType = "code"
	// ModelTypeChat marks conversational models.
	ModelTypeChat ModelType = "chat"
	// ModelTypeInstruction marks instruction following models.
	ModelTypeInstruction ModelType = "instruction"
	// ModelTypeEmbedding marks embedding-only models.
	ModelTypeEmbedding ModelType = "embedding"
)

// Capability tags what a model can do. Used for routing.
type Capability string

const (
	// CapabilityTextGeneration is free-form text generation.
	CapabilityTextGeneration Capability = "text_generation"
	// CapabilityCodeGeneration is source code generation.
	CapabilityCodeGeneration Capability = "code_generation"
	// CapabilityQuestionAnswering is question answering.
	CapabilityQuestionAnswering Capability = "question_answering"
	// CapabilitySummarization is text summarization.
	CapabilitySummarization Capability = "summarization"
	// CapabilityTranslation is language translation.
	CapabilityTranslation Capability = "translation"
	// CapabilityEmbedding is embedding vector generation.
	CapabilityEmbedding Capability = "embedding"
	// CapabilityFunctionCalling is structured function calling.
	CapabilityFunctionCalling Capability = "function_calling"
)

// ModelInfo describes one model served by a provider. A ProviderClient writes
// it on catalog refresh; everything else treats it as read-only.
type ModelInfo struct {
	Name              string       `json:"name"`
	DisplayName       string       `json:"display_name"`
	Type              ModelType    `json:"type"`
	Capabilities      []Capability `json:"capabilities"`
	MaxTokens         int          `json:"max_tokens"`
	ContextLength     int          `json:"context_length"`
	ParameterSize     string       `json:"parameter_size"`     // "7B", "13B", ...
	MemoryRequirement string       `json:"memory_requirement"` // "4GB", "8GB", ...
	Description       string       `json:"description"`
	Available         bool         `json:"is_available"`
	PerformanceScore  float64      `json:"performance_score"` // 0.0-1.0
}

// HasCapability reports whether the model advertises the given capability.
func (m ModelInfo) HasCapability(c Capability) bool {
	for _, cap := range m.Capabilities {
		if cap == c {
			return true
		}
	}
	return false
}

// GenerationConfig carries the sampling parameters for one generation call.
type GenerationConfig struct {
	Temperature   float64  `json:"temperature"`
	TopP          float64  `json:"top_p"`
	TopK          int      `json:"top_k"`
	MaxTokens     int      `json:"max_tokens"`
	StopSequences []string `json:"stop,omitempty"`
	Seed          *int     `json:"seed,omitempty"`
	Stream        bool     `json:"stream,omitempty"`
}

// DefaultGenerationConfig returns the baseline sampling configuration.
func DefaultGenerationConfig() GenerationConfig {
	return GenerationConfig{
		Temperature: 0.7,
		TopP:        0.9,
		TopK:        40,
		MaxTokens:   1000,
	}
}

// GenerationRequest is an immutable value describing one generation call.
// ModelName is optional; when empty the service picks the best available model.
type GenerationRequest struct {
	Prompt    string                 `json:"prompt"`
	ModelName string                 `json:"model,omitempty"`
	Config    GenerationConfig       `json:"config"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// NewGenerationRequest builds a request with default sampling configuration.
func NewGenerationRequest(prompt string, optFns ...func(r *GenerationRequest)) GenerationRequest {
	req := GenerationRequest{Prompt: prompt, Config: DefaultGenerationConfig()}
	for _, fn := range optFns {
		fn(&req)
	}
	return req
}

// Finish reasons reported on GenerationResponse.
const (
	// FinishReasonStop marks a normal completion.
	FinishReasonStop = "stop"
	// FinishReasonLength marks truncation at the token limit.
	FinishReasonLength = "length"
	// FinishReasonError marks a failed generation; Error carries the detail.
	FinishReasonError = "error"
)

// GenerationResponse is always returned by Generate, even on failure.
// Invariant: either Text is non-empty with FinishReason != "error", or Error
// is non-empty with FinishReason == "error".
type GenerationResponse struct {
	Text         string                 `json:"text"`
	ModelName    string                 `json:"model_name"`
	Elapsed      time.Duration          `json:"generation_time"`
	TokenCount   int                    `json:"token_count"`
	FinishReason string                 `json:"finish_reason"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
	Error        string                 `json:"error,omitempty"`
}

// Failed reports whether the response encodes an error outcome.
func (r GenerationResponse) Failed() bool {
	return r.FinishReason == FinishReasonError || r.Error != ""
}

// Err returns the encoded failure as an error, or nil on success.
func (r GenerationResponse) Err() error {
	if !r.Failed() {
		return nil
	}
	return fmt.Errorf("generation failed (model %s): %s", r.ModelName, r.Error)
}

// ErrorResponse builds a failed GenerationResponse for the given model.
func ErrorResponse(modelName string, elapsed time.Duration, err error) GenerationResponse {
	if modelName == "" {
		modelName = "unknown"
	}
	return GenerationResponse{
		ModelName:    modelName,
		Elapsed:      elapsed,
		FinishReason: FinishReasonError,
		Error:        err.Error(),
	}
}

// Provider is one model backend. Implementations own transport, retry and
// model-name resolution. Generate never returns an error value: transport
// failures are encoded into the response after retries exhaust.
type Provider interface {
	// Generate performs a non-streaming generation call.
	Generate(ctx context.Context, req GenerationRequest) GenerationResponse

	// GenerateStream performs a streaming call, emitting text fragments on
	// the first channel. The fragment channel is finite and non-restartable;
	// it closes on backend completion or after an error is delivered on the
	// second channel.
	GenerateStream(ctx context.Context, req GenerationRequest) (<-chan string, <-chan error)

	// ListModels returns the provider's current model catalog. Side-effect
	// free for callers; implementations may refresh an internal TTL cache.
	ListModels(ctx context.Context) []ModelInfo

	// ModelInfo returns catalog metadata for a single model.
	ModelInfo(name string) (ModelInfo, bool)

	// IsHealthy probes the backend. Must be cheap and side-effect free.
	IsHealthy(ctx context.Context) bool
}

// MockProvider is a lightweight in-memory Provider useful for tests & examples.
type MockProvider struct {
	models    []ModelInfo
	responses map[string]string
	healthy   bool
	failWith  error
}

// NewMockProvider constructs a MockProvider serving the given models.
func NewMockProvider(models ...ModelInfo) *MockProvider {
	if len(models) == 0 {
		models = []ModelInfo{{
			Name:             "mock-model",
			DisplayName:      "Mock Model",
			Type:             ModelTypeGeneral,
			Capabilities:     []Capability{CapabilityTextGeneration, CapabilityQuestionAnswering},
			MaxTokens:        4096,
			ContextLength:    8192,
			Available:        true,
			PerformanceScore: 0.5,
		}}
	}
	return &MockProvider{
		models:    models,
		responses: make(map[string]string),
		healthy:   true,
	}
}

// AddResponse registers a deterministic canned completion for an input prompt.
func (m *MockProvider) AddResponse(prompt, response string) { m.responses[prompt] = response }

// SetHealthy toggles the health probe outcome.
func (m *MockProvider) SetHealthy(healthy bool) { m.healthy = healthy }

// FailWith makes every Generate call return an error-bearing response.
func (m *MockProvider) FailWith(err error) { m.failWith = err }

// Generate implements Provider with canned or echoed responses.
func (m *MockProvider) Generate(_ context.Context, req GenerationRequest) GenerationResponse {
	start := time.Now()
	if m.failWith != nil {
		return ErrorResponse(m.resolvedName(req), time.Since(start), m.failWith)
	}
	text := m.responses[req.Prompt]
	if text == "" {
		text = fmt.Sprintf("Mock response to: %s", req.Prompt)
	}
	return GenerationResponse{
		Text:         text,
		ModelName:    m.resolvedName(req),
		Elapsed:      time.Since(start),
		TokenCount:   len(text) / 4,
		FinishReason: FinishReasonStop,
	}
}

// GenerateStream implements Provider; emits word-sized fragments then closes.
func (m *MockProvider) GenerateStream(ctx context.Context, req GenerationRequest) (<-chan string, <-chan error) {
	fragments := make(chan string, 16)
	errCh := make(chan error, 1)
	go func() {
		defer close(fragments)
		defer close(errCh)
		if m.failWith != nil {
			errCh <- m.failWith
			return
		}
		resp := m.Generate(ctx, req)
		for _, r := range resp.Text {
			select {
			case <-ctx.Done():
				errCh <- ctx.Err()
				return
			case fragments <- string(r):
			}
		}
	}()
	return fragments, errCh
}

// ListModels implements Provider.
func (m *MockProvider) ListModels(context.Context) []ModelInfo {
	out := make([]ModelInfo, len(m.models))
	copy(out, m.models)
	return out
}

// ModelInfo implements Provider.
func (m *MockProvider) ModelInfo(name string) (ModelInfo, bool) {
	for _, mi := range m.models {
		if mi.Name == name {
			return mi, true
		}
	}
	return ModelInfo{}, false
}

// IsHealthy implements Provider.
func (m *MockProvider) IsHealthy(context.Context) bool { return m.healthy }

func (m *MockProvider) resolvedName(req GenerationRequest) string {
	if req.ModelName != "" {
		return req.ModelName
	}
	return m.models[0].Name
}
