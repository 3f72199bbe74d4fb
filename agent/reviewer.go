package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/taskforge-ai/taskforge/llm"
)

// Review type values recognized by the Reviewer in the stage context under
// the "review_type" key. Anything else runs the quality branch.
const (
	ReviewTypeCode    = "code"
	ReviewTypeContent = "content"
	ReviewTypeQuality = "quality"
)

// Reviewer assesses the result of the execution stage.
type Reviewer struct {
	base
}

// NewReviewer constructs the review stage agent.
func NewReviewer(svc *llm.Service, optFns ...func(o *Options)) *Reviewer {
	return &Reviewer{base: newBase(RoleReviewer, svc, optFns...)}
}

// Execute implements Agent. The stage context supplies the execution output
// under "target_result". Output keys: type, review_type, review, agent_id.
func (r *Reviewer) Execute(ctx context.Context, task Task, stageContext map[string]any) (map[string]any, error) {
	start := time.Now()
	reviewType := stringFrom(stageContext, "review_type", ReviewTypeQuality)
	target, _ := stageContext["target_result"].(map[string]any)

	var (
		review map[string]any
		err    error
	)
	switch reviewType {
	case ReviewTypeCode:
		review, err = r.reviewCode(ctx, target)
	case ReviewTypeContent:
		review, err = r.reviewContent(ctx, target)
	default:
		review, err = r.reviewQuality(ctx, target, stageContext)
	}
	if err != nil {
		return nil, fmt.Errorf("review failed: %w", err)
	}

	r.recordCompletion(time.Since(start))
	return map[string]any{
		"type":        "review",
		"review_type": reviewType,
		"review":      review,
		"agent_id":    r.id,
	}, nil
}

func (r *Reviewer) reviewCode(ctx context.Context, target map[string]any) (map[string]any, error) {
	code := stringFrom(target, "code", "")
	language := stringFrom(target, "language", "python")

	prompt := fmt.Sprintf("Review the following %s code:\n\n```%s\n%s\n```\n\n"+`Review from these angles and answer as a JSON object:
- code_quality: code quality (1-10)
- readability: readability (1-10)
- security: security (1-10)
- performance: performance (1-10)
- issues: list of issues
- suggestions: list of improvement suggestions
- overall_score: overall score (1-10)`, language, language, code)

	text, err := r.generate(ctx, prompt, 0.4, 1200)
	if err != nil {
		return nil, err
	}
	if review, ok := decodeObject(text); ok {
		return review, nil
	}
	return map[string]any{
		"code_quality":  7,
		"readability":   7,
		"security":      7,
		"performance":   7,
		"issues":        []any{"Review parsing failed"},
		"suggestions":   []any{"Manual review recommended"},
		"overall_score": 7,
	}, nil
}

func (r *Reviewer) reviewContent(ctx context.Context, target map[string]any) (map[string]any, error) {
	content := stringFrom(target, "content", "")
	contentType := stringFrom(target, "content_type", "document")

	prompt := fmt.Sprintf(`Review the following %s:

%s

Review from these angles and answer as a JSON object:
- clarity: clarity (1-10)
- accuracy: accuracy (1-10)
- completeness: completeness (1-10)
- engagement: engagement (1-10)
- issues: list of issues
- suggestions: list of improvement suggestions
- overall_score: overall score (1-10)`, contentType, content)

	text, err := r.generate(ctx, prompt, 0.5, 1000)
	if err != nil {
		return nil, err
	}
	if review, ok := decodeObject(text); ok {
		return review, nil
	}
	return map[string]any{
		"clarity":       7,
		"accuracy":      7,
		"completeness":  7,
		"engagement":    7,
		"issues":        []any{"Review parsing failed"},
		"suggestions":   []any{"Manual review recommended"},
		"overall_score": 7,
	}, nil
}

func (r *Reviewer) reviewQuality(ctx context.Context, target map[string]any, stageContext map[string]any) (map[string]any, error) {
	prompt := fmt.Sprintf(`Review the following work result from a quality standpoint:

Result: %s
Context: %s

Review from these angles and answer as a JSON object:
- completeness: completeness (1-10)
- accuracy: accuracy (1-10)
- efficiency: efficiency (1-10)
- reliability: reliability (1-10)
- issues: list of issues
- suggestions: list of improvement suggestions
- overall_score: overall score (1-10)`, compactJSON(target), compactJSON(stageContext))

	text, err := r.generate(ctx, prompt, 0.5, 1000)
	if err != nil {
		return nil, err
	}
	if review, ok := decodeObject(text); ok {
		return review, nil
	}
	return map[string]any{
		"completeness":  7,
		"accuracy":      7,
		"efficiency":    7,
		"reliability":   7,
		"issues":        []any{"Review parsing failed"},
		"suggestions":   []any{"Manual review recommended"},
		"overall_score": 7,
	}, nil
}
