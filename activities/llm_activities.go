package activities

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/temporal"

	"newton/knowledge"
	"newton/services"
	"newton/shared"
)

const (
	ActivityName_PlanScene     = "PlanSceneActivity"
	ActivityName_DeriveSpec    = "DeriveSpecActivity"
	ActivityName_WriteArtifact = "WriteArtifactActivity"
)

// KnowledgeBase is the read side of the knowledge store used while generating.
type KnowledgeBase interface {
	FindKnowledge(ctx context.Context, text string, threshold float64) (*knowledge.KnowledgeMatch, error)
	Retrieve(ctx context.Context, namespace, text string, k int) ([]knowledge.Document, error)
}

// LLMActivities runs the director, architect, physicist and coder roles.
type LLMActivities struct {
	Generator          services.Generator
	Knowledge          KnowledgeBase // optional
	KnowledgeThreshold float64
	ReferenceTopK      int
}

func NewLLMActivities(gen services.Generator, kb KnowledgeBase, knowledgeThreshold float64, referenceTopK int) *LLMActivities {
	return &LLMActivities{Generator: gen, Knowledge: kb, KnowledgeThreshold: knowledgeThreshold, ReferenceTopK: referenceTopK}
}

// PlanSceneActivity asks the director for a visual vision and the architect
// for a numbered implementation plan.
func (a *LLMActivities) PlanSceneActivity(ctx context.Context, requestText string) (*shared.PlanSceneResult, error) {
	logger := activity.GetLogger(ctx)

	raw, err := a.Generator.Generate(ctx, services.RoleDirector.SystemPrompt(), "Create a visual vision for: "+requestText)
	if err != nil {
		return nil, fmt.Errorf("PlanSceneActivity director failed: %w", err)
	}
	vision := services.StripCodeFences(raw)
	var parsed map[string]any
	if err := json.Unmarshal([]byte(vision), &parsed); err != nil {
		logger.Warn("Director returned non-JSON vision, using raw text", "Error", err)
	} else if pretty, err := json.MarshalIndent(parsed, "", "  "); err == nil {
		vision = string(pretty)
	}

	user := fmt.Sprintf("USER REQUEST: %s\n\nDIRECTOR'S VISION:\n%s\n\nWrite the implementation plan.", requestText, vision)
	plan, err := a.Generator.Generate(ctx, services.RoleArchitect.SystemPrompt(), user)
	if err != nil {
		return nil, fmt.Errorf("PlanSceneActivity architect failed: %w", err)
	}
	plan = strings.TrimSpace(plan)
	if plan == "" {
		return nil, temporal.NewNonRetryableApplicationError("architect produced an empty plan", "EmptyPlan", nil)
	}
	logger.Info("Scene planned", "PlanLength", len(plan))
	return &shared.PlanSceneResult{Vision: vision, Plan: plan}, nil
}

// DeriveSpecActivity asks the physicist for the principle and equations,
// grounded on the closest stored physics concept when one is close enough.
func (a *LLMActivities) DeriveSpecActivity(ctx context.Context, input shared.DeriveSpecInput) (*shared.PhysicsSpec, error) {
	logger := activity.GetLogger(ctx)

	var b strings.Builder
	fmt.Fprintf(&b, "USER REQUEST: %s\n\nVISUAL PLAN:\n%s\n", input.RequestText, input.Plan)

	match := a.lookupKnowledge(ctx, input.RequestText)
	if match != nil {
		logger.Info("Grounding on stored physics concept", "Concept", match.Concept, "Score", match.Score)
		fmt.Fprintf(&b, "\nMATCHED FORMULAS (%s):\n%s\nVARIABLES: %s\n", match.Concept, match.Metadata["latex_equations"], match.Metadata["variables"])
	}

	raw, err := a.Generator.Generate(ctx, services.RolePhysicist.SystemPrompt(), b.String())
	if err != nil {
		return nil, fmt.Errorf("DeriveSpecActivity failed: %w", err)
	}

	var spec shared.PhysicsSpec
	if err := json.Unmarshal([]byte(services.StripCodeFences(raw)), &spec); err != nil || spec.Principle == "" {
		logger.Warn("Physicist returned an unusable spec, using placeholder", "Error", err)
		spec = placeholderSpec()
	}
	if len(spec.Equations) == 0 && match != nil {
		var eqs []string
		if json.Unmarshal([]byte(match.Metadata["latex_equations"]), &eqs) == nil {
			spec.Equations = eqs
		}
	}
	if spec.Placement == "" {
		spec.Placement = "top_right"
	}
	return &spec, nil
}

func placeholderSpec() shared.PhysicsSpec {
	return shared.PhysicsSpec{
		Principle:   "General Physics",
		Explanation: "A visual demonstration of the requested phenomenon.",
		Variables:   map[string]string{},
		Placement:   "top_right",
	}
}

func (a *LLMActivities) lookupKnowledge(ctx context.Context, text string) *knowledge.KnowledgeMatch {
	if a.Knowledge == nil {
		return nil
	}
	m, err := a.Knowledge.FindKnowledge(ctx, text, a.KnowledgeThreshold)
	if err != nil {
		activity.GetLogger(ctx).Warn("Physics knowledge lookup failed", "Error", err)
		return nil
	}
	return m
}

// WriteArtifactActivity asks the coder for the scene source.
func (a *LLMActivities) WriteArtifactActivity(ctx context.Context, input shared.WriteArtifactInput) (string, error) {
	logger := activity.GetLogger(ctx)

	var b strings.Builder
	fmt.Fprintf(&b, "USER REQUEST: %s\n\nIMPLEMENTATION PLAN:\n%s\n", input.RequestText, input.Plan)
	if s := input.Spec; s != nil {
		fmt.Fprintf(&b, "\nPHYSICS:\nPrinciple: %s\nExplanation: %s\nPlacement: %s\nEquations:\n", s.Principle, s.Explanation, s.Placement)
		for _, eq := range s.Equations {
			fmt.Fprintf(&b, "- %s\n", eq)
		}
		if len(s.Variables) > 0 {
			vars, _ := json.Marshal(s.Variables)
			fmt.Fprintf(&b, "Variables: %s\n", vars)
		}
	}
	if refs := a.references(ctx, input.RequestText+"\n"+input.Plan); len(refs) > 0 {
		b.WriteString("\nREFERENCE DOCUMENTATION:\n")
		for _, d := range refs {
			fmt.Fprintf(&b, "---\n%s\n", d.Text)
		}
	}

	raw, err := a.Generator.Generate(ctx, services.RoleCoder.SystemPrompt(), b.String())
	if err != nil {
		return "", fmt.Errorf("WriteArtifactActivity failed: %w", err)
	}
	code := services.StripCodeFences(raw)
	if code == "" {
		return "", temporal.NewNonRetryableApplicationError("coder produced no code", "EmptyArtifact", nil)
	}
	logger.Info("Artifact written", "Length", len(code))
	return code, nil
}

func (a *LLMActivities) references(ctx context.Context, text string) []knowledge.Document {
	if a.Knowledge == nil || a.ReferenceTopK <= 0 {
		return nil
	}
	docs, err := a.Knowledge.Retrieve(ctx, knowledge.NamespaceReferences, text, a.ReferenceTopK)
	if err != nil {
		activity.GetLogger(ctx).Warn("Reference lookup failed, continuing without docs", "Error", err)
		return nil
	}
	return docs
}
