// Package healer repairs a failing artifact with exactly one generator call,
// reusing the strategy of a similar past fix when the knowledge store has one.
package healer

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"newton/knowledge"
	"newton/services"
	"newton/shared"
)

// lookupTail is how much of the end of the logs is matched against past errors.
const lookupTail = 500

// FixFinder looks up past fixes. *knowledge.Store satisfies it.
type FixFinder interface {
	FindSimilar(ctx context.Context, errorText string, threshold float64) (*shared.FixMatch, error)
}

type Request struct {
	Artifact      string
	ExecutionLogs string
	RetryCount    int
	HealLimit     int
}

type Result struct {
	Artifact   string
	FixMethod  shared.FixMethod
	ErrorKind  shared.ErrorKind // MaxRetriesExceeded when no attempt was made
	Similarity float64

	LinesAdded   int
	LinesRemoved int
}

type Healer struct {
	gen       services.Generator
	fixes     FixFinder
	threshold float64
	logger    *slog.Logger
}

func New(gen services.Generator, fixes FixFinder, threshold float64, logger *slog.Logger) *Healer {
	if threshold <= 0 {
		threshold = knowledge.DefaultFixThreshold
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Healer{gen: gen, fixes: fixes, threshold: threshold, logger: logger}
}

// Heal returns a repaired artifact. When RetryCount has reached HealLimit it
// makes no call and returns the artifact unchanged with MaxRetriesExceeded.
func (h *Healer) Heal(ctx context.Context, req Request) (Result, error) {
	if req.RetryCount >= req.HealLimit {
		h.logger.Warn("Heal limit reached", "retry_count", req.RetryCount, "heal_limit", req.HealLimit)
		return Result{Artifact: req.Artifact, FixMethod: shared.FixMethodNone, ErrorKind: shared.ErrorKindMaxRetriesExceeded}, nil
	}

	match := h.lookup(ctx, shared.Tail(req.ExecutionLogs, lookupTail))

	var (
		prompt string
		method shared.FixMethod
		score  float64
	)
	if match != nil {
		h.logger.Info("Using strategy from a similar past fix", "error_id", match.ErrorID, "similarity", match.Similarity)
		prompt = strategyPrompt(req, match)
		method = shared.FixMethodRetrieved
		score = match.Similarity
	} else {
		prompt = repairPrompt(req)
		method = shared.FixMethodGenerated
	}

	out, err := h.gen.Generate(ctx, services.RoleHealer.SystemPrompt(), prompt)
	if err != nil {
		return Result{}, fmt.Errorf("heal attempt %d: %w", req.RetryCount+1, err)
	}
	added, removed := services.CountChangedLines(req.Artifact, out)
	h.logger.Info("Healed artifact", "fix_method", method, "lines_added", added, "lines_removed", removed)
	return Result{Artifact: out, FixMethod: method, Similarity: score, LinesAdded: added, LinesRemoved: removed}, nil
}

// lookup degrades to no match on store errors.
func (h *Healer) lookup(ctx context.Context, errorText string) *shared.FixMatch {
	if h.fixes == nil || strings.TrimSpace(errorText) == "" {
		return nil
	}
	m, err := h.fixes.FindSimilar(ctx, errorText, h.threshold)
	if err != nil {
		h.logger.Warn("Fix lookup failed, generating from scratch", "error", err)
		return nil
	}
	return m
}

func repairPrompt(req Request) string {
	var b strings.Builder
	b.WriteString("The following Manim scene failed to render.\n\n")
	b.WriteString("ERROR LOG:\n")
	b.WriteString(shared.Tail(req.ExecutionLogs, 3000))
	b.WriteString("\n\nBROKEN CODE:\n")
	b.WriteString(req.Artifact)
	b.WriteString("\n\nReturn the complete fixed code.")
	return b.String()
}

func strategyPrompt(req Request, m *shared.FixMatch) string {
	var b strings.Builder
	b.WriteString("ERROR ENCOUNTERED:\n")
	b.WriteString(shared.Tail(req.ExecutionLogs, 1000))
	fmt.Fprintf(&b, "\n\nSIMILAR PAST ERROR (solved, similarity %.2f):\n", m.Similarity)
	b.WriteString(m.OriginalErrorText)
	b.WriteString("\n\nCHANGES THAT FIXED IT:\n")
	if m.OriginalArtifact != "" {
		b.WriteString(services.DiffArtifacts(m.OriginalArtifact, m.FixedArtifact))
	}
	b.WriteString("\nCODE THAT WORKED:\n")
	b.WriteString(m.FixedArtifact)
	b.WriteString("\n\nTASK:\nApply the same fix strategy to the broken code below. ")
	b.WriteString("Adapt it to this scene rather than copying the past code.\n\n")
	b.WriteString("BROKEN CODE:\n")
	b.WriteString(req.Artifact)
	return b.String()
}
