package agent

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/taskforge-ai/taskforge/llm"
)

func newTestService(mock *llm.MockProvider) *llm.Service {
	svc := llm.NewService()
	svc.RegisterProvider("mock", mock)
	return svc
}

func sampleTask() Task {
	return Task{
		ID:          "t1",
		Title:       "Build parser",
		Description: "Parse config files",
		Priority:    2,
		Context:     map[string]any{},
	}
}

func TestDecodeObjectStripsFences(t *testing.T) {
	obj, ok := decodeObject("```json\n{\"a\": 1}\n```")
	require.True(t, ok)
	assert.Equal(t, float64(1), obj["a"])

	obj, ok = decodeObject(`{"b": "x"}`)
	require.True(t, ok)
	assert.Equal(t, "x", obj["b"])

	_, ok = decodeObject("plain prose, no JSON here")
	assert.False(t, ok)
}

func TestDecodeList(t *testing.T) {
	list, ok := decodeList(`[{"title":"one"},{"title":"two"}]`)
	require.True(t, ok)
	assert.Len(t, list, 2)

	_, ok = decodeList(`{"not":"a list"}`)
	assert.False(t, ok)
}

func TestCoordinatorFallsBackOnUnparseableOutput(t *testing.T) {
	// MockProvider echoes prose, which never parses as JSON.
	c := NewCoordinator(newTestService(llm.NewMockProvider()))

	out, err := c.Execute(context.Background(), sampleTask(), map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, "coordination", out["type"])
	assert.Equal(t, "coordinated", out["status"])

	subtasks, ok := out["subtasks"].([]any)
	require.True(t, ok)
	require.Len(t, subtasks, 1)
	first := subtasks[0].(map[string]any)
	assert.Contains(t, first["title"], "Build parser")

	plan, ok := out["coordination_plan"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "sequential", plan["execution_order"])
}

func TestCoordinatorParsesStructuredOutput(t *testing.T) {
	svc := llm.NewService()
	svc.RegisterProvider("static", &staticProvider{text: `[{"title":"step","priority":1}]`})
	c := NewCoordinator(svc)

	out, err := c.Execute(context.Background(), sampleTask(), nil)
	require.NoError(t, err)
	subtasks := out["subtasks"].([]any)
	require.Len(t, subtasks, 1)
	assert.Equal(t, "step", subtasks[0].(map[string]any)["title"])
	// the plan completion is an array too, so the object fallback applies
	plan := out["coordination_plan"].(map[string]any)
	assert.Equal(t, "sequential", plan["execution_order"])
}

// staticProvider returns the same text for every call.
type staticProvider struct{ text string }

func (s *staticProvider) Generate(_ context.Context, req llm.GenerationRequest) llm.GenerationResponse {
	return llm.GenerationResponse{Text: s.text, ModelName: "static", FinishReason: llm.FinishReasonStop}
}

func (s *staticProvider) GenerateStream(ctx context.Context, req llm.GenerationRequest) (<-chan string, <-chan error) {
	fragments := make(chan string, 1)
	errCh := make(chan error, 1)
	fragments <- s.text
	close(fragments)
	close(errCh)
	return fragments, errCh
}

func (s *staticProvider) ListModels(context.Context) []llm.ModelInfo {
	return []llm.ModelInfo{{Name: "static", Available: true, PerformanceScore: 1.0}}
}

func (s *staticProvider) ModelInfo(name string) (llm.ModelInfo, bool) {
	if name == "static" {
		return llm.ModelInfo{Name: "static", Available: true}, true
	}
	return llm.ModelInfo{}, false
}

func (s *staticProvider) IsHealthy(context.Context) bool { return true }

func TestAnalyzerFallbacks(t *testing.T) {
	a := NewAnalyzer(newTestService(llm.NewMockProvider()))

	out, err := a.Execute(context.Background(), sampleTask(), nil)
	require.NoError(t, err)
	assert.Equal(t, "analysis", out["type"])

	analysis := out["analysis"].(map[string]any)
	assert.Contains(t, analysis, "functional_requirements")

	risks := out["risks"].([]any)
	require.Len(t, risks, 1)
	assert.Equal(t, "unknown", risks[0].(map[string]any)["type"])

	// recommendations come from line splitting, so the echo text shows up
	recs := out["recommendations"].([]string)
	assert.NotEmpty(t, recs)
}

func TestAnalyzerRecommendationLimit(t *testing.T) {
	text := ""
	for i := 0; i < 15; i++ {
		text += "- do a thing\n"
	}
	svc := llm.NewService()
	svc.RegisterProvider("static", &staticProvider{text: text})
	a := NewAnalyzer(svc)

	recs, err := a.recommend(context.Background(), sampleTask(), nil, nil)
	require.NoError(t, err)
	assert.Len(t, recs, 10)
}

func TestExecutorBranchesOnTaskType(t *testing.T) {
	e := NewExecutor(newTestService(llm.NewMockProvider()))

	out, err := e.Execute(context.Background(), sampleTask(), map[string]any{"task_type": TaskTypeCodeGeneration, "language": "go"})
	require.NoError(t, err)
	assert.Equal(t, TaskTypeCodeGeneration, out["task_type"])
	result := out["result"].(map[string]any)
	assert.Equal(t, "go", result["language"])
	assert.Equal(t, "generated", result["status"])

	out, err = e.Execute(context.Background(), sampleTask(), map[string]any{"task_type": TaskTypeContentCreation})
	require.NoError(t, err)
	result = out["result"].(map[string]any)
	assert.Equal(t, "created", result["status"])
	assert.Equal(t, "document", result["content_type"])

	out, err = e.Execute(context.Background(), sampleTask(), nil)
	require.NoError(t, err)
	assert.Equal(t, TaskTypeGeneral, out["task_type"])
	result = out["result"].(map[string]any)
	assert.Equal(t, "executed", result["status"])
}

func TestReviewerFallbackPayloads(t *testing.T) {
	r := NewReviewer(newTestService(llm.NewMockProvider()))

	out, err := r.Execute(context.Background(), sampleTask(), map[string]any{
		"review_type":   ReviewTypeCode,
		"target_result": map[string]any{"code": "print(1)", "language": "python"},
	})
	require.NoError(t, err)
	assert.Equal(t, ReviewTypeCode, out["review_type"])
	review := out["review"].(map[string]any)
	assert.Equal(t, 7, review["overall_score"])

	out, err = r.Execute(context.Background(), sampleTask(), nil)
	require.NoError(t, err)
	assert.Equal(t, ReviewTypeQuality, out["review_type"])
}

func TestTransportFailurePropagates(t *testing.T) {
	mock := llm.NewMockProvider()
	mock.FailWith(errors.New("backend down"))
	e := NewExecutor(newTestService(mock))

	_, err := e.Execute(context.Background(), sampleTask(), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "execution failed")
}

func TestMetricsAccumulate(t *testing.T) {
	e := NewExecutor(newTestService(llm.NewMockProvider()))
	assert.Equal(t, 0, e.Metrics().TasksCompleted)

	_, err := e.Execute(context.Background(), sampleTask(), nil)
	require.NoError(t, err)
	_, err = e.Execute(context.Background(), sampleTask(), nil)
	require.NoError(t, err)

	m := e.Metrics()
	assert.Equal(t, 2, m.TasksCompleted)
	assert.False(t, m.LastActivity.IsZero())
}

func TestRolesAndIDs(t *testing.T) {
	svc := newTestService(llm.NewMockProvider())
	assert.Equal(t, RoleCoordinator, NewCoordinator(svc).Role())
	assert.Equal(t, RoleAnalyzer, NewAnalyzer(svc).Role())
	assert.Equal(t, RoleExecutor, NewExecutor(svc).Role())
	assert.Equal(t, RoleReviewer, NewReviewer(svc).Role())

	custom := NewExecutor(svc, func(o *Options) { o.ID = "exec-42" })
	assert.Equal(t, "exec-42", custom.ID())
}
