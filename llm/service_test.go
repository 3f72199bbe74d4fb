package llm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// panicProvider blows up in its health probe to exercise sweep containment.
type panicProvider struct{ *MockProvider }

func (p *panicProvider) IsHealthy(context.Context) bool { panic("backend exploded") }

func TestServiceRoutesExplicitModel(t *testing.T) {
	svc := NewService()
	svc.RegisterProvider("mock", NewMockProvider(ModelInfo{
		Name: "special", Available: true, PerformanceScore: 0.4,
	}))

	resp := svc.Generate(context.Background(), NewGenerationRequest("hi", func(r *GenerationRequest) {
		r.ModelName = "special"
	}))
	require.False(t, resp.Failed())
	assert.Equal(t, "special", resp.ModelName)
}

func TestServicePicksBestAvailable(t *testing.T) {
	svc := NewService()
	svc.RegisterProvider("weak", NewMockProvider(ModelInfo{Name: "weak-model", Available: true, PerformanceScore: 0.3}))
	svc.RegisterProvider("strong", NewMockProvider(ModelInfo{Name: "strong-model", Available: true, PerformanceScore: 0.9}))

	resp := svc.Generate(context.Background(), NewGenerationRequest("hi"))
	require.False(t, resp.Failed())
	assert.Equal(t, "strong-model", resp.ModelName)
}

func TestServiceNoProviderYieldsErrorResponse(t *testing.T) {
	svc := NewService()

	resp := svc.Generate(context.Background(), NewGenerationRequest("hi"))
	require.True(t, resp.Failed())
	assert.Equal(t, FinishReasonError, resp.FinishReason)
	assert.Contains(t, resp.Error, "no available provider")
	assert.Empty(t, resp.Text)
}

func TestServiceResponseInvariant(t *testing.T) {
	svc := NewService()
	svc.RegisterProvider("mock", NewMockProvider())

	ok := svc.Generate(context.Background(), NewGenerationRequest("hello"))
	assert.NotEmpty(t, ok.Text)
	assert.Empty(t, ok.Error)
	assert.NotEqual(t, FinishReasonError, ok.FinishReason)

	failing := NewMockProvider(ModelInfo{Name: "broken", Available: true, PerformanceScore: 1.0})
	failing.FailWith(errors.New("backend down"))
	svc.RegisterProvider("broken", failing)

	bad := svc.Generate(context.Background(), NewGenerationRequest("hello"))
	assert.Empty(t, bad.Text)
	assert.NotEmpty(t, bad.Error)
	assert.Equal(t, FinishReasonError, bad.FinishReason)
}

func TestServiceGenerateStreamRoutingFailure(t *testing.T) {
	svc := NewService()

	fragments, errCh := svc.GenerateStream(context.Background(), NewGenerationRequest("hi"))
	for range fragments {
		t.Fatal("no fragments expected")
	}
	err := <-errCh
	assert.ErrorIs(t, err, ErrNoProvider)
}

func TestServiceGenerateStreamDelivery(t *testing.T) {
	svc := NewService()
	mock := NewMockProvider()
	mock.AddResponse("ping", "pong")
	svc.RegisterProvider("mock", mock)

	fragments, errCh := svc.GenerateStream(context.Background(), NewGenerationRequest("ping"))
	var got string
	for f := range fragments {
		got += f
	}
	assert.NoError(t, <-errCh)
	assert.Equal(t, "pong", got)
}

func TestServiceStatusIsolatesUnhealthyProvider(t *testing.T) {
	svc := NewService()
	healthy := NewMockProvider(ModelInfo{Name: "up", Available: true, PerformanceScore: 0.5})
	sick := NewMockProvider(ModelInfo{Name: "down", Available: true, PerformanceScore: 0.5})
	sick.SetHealthy(false)
	svc.RegisterProvider("healthy", healthy)
	svc.RegisterProvider("sick", sick)

	status := svc.Status(context.Background())
	assert.False(t, status.ServiceHealthy)
	assert.True(t, status.Providers["healthy"].Healthy)
	assert.False(t, status.Providers["sick"].Healthy)
	assert.Equal(t, 2, status.TotalModels)
}

func TestSweepMarksFailedProviderUnavailable(t *testing.T) {
	svc := NewService()
	mock := NewMockProvider(ModelInfo{Name: "m", Available: true, PerformanceScore: 0.5})
	svc.RegisterProvider("mock", mock)

	mock.SetHealthy(false)
	svc.sweep(context.Background())

	_, _, ok := svc.registry.BestAvailable()
	assert.False(t, ok, "catalog must be unavailable after failed sweep")

	mock.SetHealthy(true)
	svc.sweep(context.Background())
	_, _, ok = svc.registry.BestAvailable()
	assert.True(t, ok, "recovery sweep must restore availability")
}

func TestSweepContainsPanickingProvider(t *testing.T) {
	svc := NewService()
	svc.RegisterProvider("stable", NewMockProvider(ModelInfo{Name: "m", Available: true, PerformanceScore: 0.5}))
	svc.RegisterProvider("volatile", &panicProvider{NewMockProvider()})

	assert.NotPanics(t, func() { svc.sweep(context.Background()) })

	status := svc.Status(context.Background())
	assert.False(t, status.Providers["volatile"].Healthy)
	assert.True(t, status.Providers["stable"].Healthy)
}

func TestServiceStartStop(t *testing.T) {
	svc := NewService(func(o *ServiceOptions) {
		o.HealthCheckInterval = 10 * time.Millisecond
	})
	svc.RegisterProvider("mock", NewMockProvider())

	require.NoError(t, svc.Start(context.Background()))
	assert.Error(t, svc.Start(context.Background()), "second start must fail")

	time.Sleep(30 * time.Millisecond)
	svc.Stop()
	svc.Stop() // idempotent
}

func TestUnregisterProviderDropsCatalog(t *testing.T) {
	svc := NewService()
	svc.RegisterProvider("mock", NewMockProvider())
	require.NotEmpty(t, svc.ListAllModels())

	svc.UnregisterProvider("mock")
	assert.Empty(t, svc.ListAllModels())

	resp := svc.Generate(context.Background(), NewGenerationRequest("hi"))
	assert.True(t, resp.Failed())
}

func TestGetModelInfo(t *testing.T) {
	svc := NewService()
	svc.RegisterProvider("mock", NewMockProvider(ModelInfo{Name: "m", Available: true, MaxTokens: 4096}))

	info, ok := svc.GetModelInfo("m")
	require.True(t, ok)
	assert.Equal(t, 4096, info.MaxTokens)

	_, ok = svc.GetModelInfo("nope")
	assert.False(t, ok)
}
