package llm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewGenerationRequestDefaults(t *testing.T) {
	req := NewGenerationRequest("hello")
	assert.Equal(t, "hello", req.Prompt)
	assert.Empty(t, req.ModelName)
	assert.Equal(t, 0.7, req.Config.Temperature)
	assert.Equal(t, 0.9, req.Config.TopP)
	assert.Equal(t, 40, req.Config.TopK)
	assert.Equal(t, 1000, req.Config.MaxTokens)
}

func TestNewGenerationRequestOverrides(t *testing.T) {
	req := NewGenerationRequest("hello", func(r *GenerationRequest) {
		r.ModelName = "llama2"
		r.Config.Temperature = 0.2
	})
	assert.Equal(t, "llama2", req.ModelName)
	assert.Equal(t, 0.2, req.Config.Temperature)
}

func TestErrorResponse(t *testing.T) {
	resp := ErrorResponse("m", time.Second, errors.New("boom"))
	assert.True(t, resp.Failed())
	assert.Equal(t, FinishReasonError, resp.FinishReason)
	assert.Empty(t, resp.Text)
	require.Error(t, resp.Err())
	assert.Contains(t, resp.Err().Error(), "boom")

	unnamed := ErrorResponse("", 0, errors.New("boom"))
	assert.Equal(t, "unknown", unnamed.ModelName)
}

func TestResponseErrNilOnSuccess(t *testing.T) {
	resp := GenerationResponse{Text: "ok", FinishReason: FinishReasonStop}
	assert.False(t, resp.Failed())
	assert.NoError(t, resp.Err())
}

func TestModelInfoHasCapability(t *testing.T) {
	m := ModelInfo{Capabilities: []Capability{CapabilityCodeGeneration}}
	assert.True(t, m.HasCapability(CapabilityCodeGeneration))
	assert.False(t, m.HasCapability(CapabilityEmbedding))
}

func TestMockProviderCannedAndEcho(t *testing.T) {
	mock := NewMockProvider()
	mock.AddResponse("ping", "pong")

	resp := mock.Generate(context.Background(), NewGenerationRequest("ping"))
	assert.Equal(t, "pong", resp.Text)

	echo := mock.Generate(context.Background(), NewGenerationRequest("other"))
	assert.Contains(t, echo.Text, "other")
}

func TestMockProviderStreamReassembles(t *testing.T) {
	mock := NewMockProvider()
	mock.AddResponse("ping", "pong")

	fragments, errCh := mock.GenerateStream(context.Background(), NewGenerationRequest("ping"))
	var got string
	for f := range fragments {
		got += f
	}
	assert.NoError(t, <-errCh)
	assert.Equal(t, "pong", got)
}
