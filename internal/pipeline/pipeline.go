package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/tripdesk/replyd/internal/htmlcheck"
)

// gateThreshold is the minimum confidence a gating stage (analysis, draft)
// must reach for the run to continue. Advisory stages are never gated.
const gateThreshold = 0.5

// Pipeline sequences the five stages in strict order: analysis, draft,
// verification, hallucination check, final review. Each stage's network call
// completes before the next stage starts, because each stage's prompt embeds
// the prior stage's parsed payload. A Pipeline holds no per-run state and is
// safe for concurrent use.
type Pipeline struct {
	analysis      *AnalysisStage
	draft         *DraftStage
	verify        *VerifyStage
	hallucination *HallucinationStage
	review        *ReviewStage
}

// New wires a Pipeline. The fast client serves the classification and check
// stages; the deep client serves drafting and final review.
func New(fast, deep Completer) *Pipeline {
	return &Pipeline{
		analysis:      NewAnalysisStage(fast),
		draft:         NewDraftStage(deep),
		verify:        NewVerifyStage(fast),
		hallucination: NewHallucinationStage(fast),
		review:        NewReviewStage(deep),
	}
}

// Run executes one pipeline invocation. It always returns a Run: every
// StageResult produced is collected regardless of success, aborts are
// recorded with a reason, and a panic anywhere inside is converted into a
// failed Run carrying an opaque identifier rather than escaping to the
// caller.
func (p *Pipeline) Run(ctx context.Context, msg InboundMessage, mctx *Context) (run Run) {
	start := time.Now()
	run.ID = uuid.New().String()

	defer func() {
		if r := recover(); r != nil {
			slog.Error("pipeline panic", "run_id", run.ID, "panic", r)
			run.Success = false
			run.FinalDraft = nil
			run.AbortReason = "internal error (run " + run.ID + ")"
		}
		run.TotalDurationMs = time.Since(start).Milliseconds()
		run.AverageConfidence = averageConfidence(run.StageResults)
	}()

	// 1. Content analysis (gating).
	analysisRes, analysis := p.analysis.Analyze(ctx, msg, mctx)
	run.StageResults = append(run.StageResults, analysisRes)
	if analysisRes.Confidence < gateThreshold {
		run.AbortReason = "content analysis confidence below threshold"
		return run
	}

	// 2. Draft generation (gating).
	draftRes, draft := p.draft.Generate(ctx, msg, analysis, mctx)
	if !draftRes.Failed() {
		draft.Body, draftRes = sanitizeDraft(draft.Body, draftRes)
		draftRes.Payload = draft
	}
	run.StageResults = append(run.StageResults, draftRes)
	if draftRes.Confidence < gateThreshold {
		run.AbortReason = "draft generation confidence below threshold"
		return run
	}

	// 3-4. Advisory checks; recorded, never abort.
	verifyRes, _ := p.verify.Verify(ctx, msg, draft, analysis)
	run.StageResults = append(run.StageResults, verifyRes)

	hallucinationRes, _ := p.hallucination.Detect(ctx, msg, draft, mctx)
	run.StageResults = append(run.StageResults, hallucinationRes)

	// 5. Final review: the only decision point. A failed review fails the
	// run closed — approval is never the default.
	reviewRes, decision := p.review.Review(ctx, msg, draft, run.StageResults)
	run.StageResults = append(run.StageResults, reviewRes)
	if reviewRes.Failed() {
		run.AbortReason = "final review produced no trustworthy decision"
		return run
	}

	run.Success = true
	if decision.Recommendation == RecommendApprove {
		approved := draft
		run.FinalDraft = &approved
	}

	slog.Debug("pipeline run complete",
		"run_id", run.ID,
		"recommendation", decision.Recommendation,
		"stages", len(run.StageResults),
	)
	return run
}

// sanitizeDraft strips unsafe HTML from the draft body. Malformed HTML is a
// suggestion on the draft stage result, not a failure.
func sanitizeDraft(body string, res StageResult) (string, StageResult) {
	clean, modified, err := htmlcheck.Sanitize(body)
	if err != nil {
		res.Suggestions = append(res.Suggestions, "Draft body HTML could not be parsed; review before sending")
		return body, res
	}
	if modified {
		res.Suggestions = append(res.Suggestions, "Stripped unsafe HTML from draft body")
	}
	return clean, res
}

// averageConfidence is the arithmetic mean over the stages that actually ran.
// Partial runs shrink the denominator; they are not zero-padded.
func averageConfidence(results []StageResult) float64 {
	if len(results) == 0 {
		return 0
	}
	var sum float64
	for _, r := range results {
		sum += r.Confidence
	}
	return sum / float64(len(results))
}
