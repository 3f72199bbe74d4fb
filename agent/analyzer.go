package agent

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/taskforge-ai/taskforge/llm"
)

// Analyzer produces a requirements analysis, a risk assessment and a list of
// recommendations for a task.
type Analyzer struct {
	base
}

// NewAnalyzer constructs the analysis stage agent.
func NewAnalyzer(svc *llm.Service, optFns ...func(o *Options)) *Analyzer {
	return &Analyzer{base: newBase(RoleAnalyzer, svc, optFns...)}
}

// Execute implements Agent. Output keys: type, analysis, risks,
// recommendations, agent_id.
func (a *Analyzer) Execute(ctx context.Context, task Task, stageContext map[string]any) (map[string]any, error) {
	start := time.Now()

	analysis, err := a.analyzeRequirements(ctx, task, stageContext)
	if err != nil {
		return nil, fmt.Errorf("analysis failed: %w", err)
	}
	risks, err := a.assessRisks(ctx, task)
	if err != nil {
		return nil, fmt.Errorf("analysis failed: %w", err)
	}
	recommendations, err := a.recommend(ctx, task, analysis, risks)
	if err != nil {
		return nil, fmt.Errorf("analysis failed: %w", err)
	}

	a.recordCompletion(time.Since(start))
	return map[string]any{
		"type":            "analysis",
		"analysis":        analysis,
		"risks":           risks,
		"recommendations": recommendations,
		"agent_id":        a.id,
	}, nil
}

func (a *Analyzer) analyzeRequirements(ctx context.Context, task Task, stageContext map[string]any) (map[string]any, error) {
	prompt := fmt.Sprintf(`Perform a requirements analysis for the following task:

Task: %s
Description: %s
Context: %s

Analyze from these angles and answer as a JSON object:
- functional_requirements: functional requirements
- non_functional_requirements: non-functional requirements
- constraints: constraints
- assumptions: assumptions
- success_criteria: success criteria`, task.Title, task.Description, compactJSON(stageContext))

	text, err := a.generate(ctx, prompt, 0.6, 1200)
	if err != nil {
		return nil, err
	}
	if analysis, ok := decodeObject(text); ok {
		return analysis, nil
	}
	return map[string]any{
		"functional_requirements":     []any{"Basic task execution"},
		"non_functional_requirements": []any{"Reliability", "Performance"},
		"constraints":                 []any{"Time", "Resources"},
		"assumptions":                 []any{"Standard environment"},
		"success_criteria":            []any{"Task completion"},
	}, nil
}

func (a *Analyzer) assessRisks(ctx context.Context, task Task) ([]any, error) {
	prompt := fmt.Sprintf(`Assess the risks of the following task:

Task: %s
Description: %s

Evaluate each risk and answer as a JSON array with:
- type: kind of risk
- description: risk description
- probability: probability (0.0-1.0)
- impact: impact (1-5)
- mitigation: mitigation`, task.Title, task.Description)

	text, err := a.generate(ctx, prompt, 0.7, 1000)
	if err != nil {
		return nil, err
	}
	if risks, ok := decodeList(text); ok {
		return risks, nil
	}
	return []any{map[string]any{
		"type":        "unknown",
		"description": "Risk assessment failed",
		"probability": 0.5,
		"impact":      3,
		"mitigation":  "Monitor closely",
	}}, nil
}

// recommend extracts at most ten recommendations from a free-form completion,
// one per non-empty line, skipping markdown headings.
func (a *Analyzer) recommend(ctx context.Context, task Task, analysis map[string]any, risks []any) ([]string, error) {
	prompt := fmt.Sprintf(`Generate recommendations based on the task analysis and risk assessment:

Task: %s
Analysis: %s
Risks: %s

Produce a list of concrete, actionable recommendations.`, task.Title, compactJSON(analysis), compactJSON(risks))

	text, err := a.generate(ctx, prompt, 0.7, 800)
	if err != nil {
		return nil, err
	}

	var recommendations []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		recommendations = append(recommendations, line)
		if len(recommendations) == 10 {
			break
		}
	}
	return recommendations, nil
}
