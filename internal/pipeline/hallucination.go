package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/tripdesk/replyd/internal/completion"
)

const (
	hallucinationFailureIssue = "Failed to check draft for hallucinations"

	// The stage is confident in its own detection accuracy regardless of what
	// it finds: finding problems does not lower this stage's confidence.
	hallucinationConfidenceClean    = 0.95
	hallucinationConfidenceFindings = 0.9

	// Near-deterministic sampling: fact checking should not be creative.
	hallucinationTemperature = 0.1
	hallucinationMaxTokens   = 800
)

// HallucinationStage flags draft claims not traceable to the original
// message or supplied context. Advisory only, but the highest-scrutiny stage:
// its findings weigh heavily in the final review.
type HallucinationStage struct {
	client Completer
}

// NewHallucinationStage creates the hallucination-detection stage.
func NewHallucinationStage(client Completer) *HallucinationStage {
	return &HallucinationStage{client: client}
}

// Detect runs the stage under the uniform StageResult contract.
func (s *HallucinationStage) Detect(ctx context.Context, original InboundMessage, draft DraftPayload, mctx *Context) (StageResult, HallucinationPayload) {
	start := time.Now()

	var payload HallucinationPayload
	err := completeJSON(ctx, s.client, hallucinationSystemPrompt, hallucinationUserPrompt(original, draft, mctx), completion.Options{
		Temperature: hallucinationTemperature,
		MaxTokens:   hallucinationMaxTokens,
	}, &payload)
	if err != nil {
		return failureResult(StageHallucination, hallucinationFailureIssue, err, start), HallucinationPayload{}
	}

	// More than one unverified claim always reads as high risk, whatever the
	// model self-reported.
	if payload.Detected && len(payload.UnverifiedClaims) > 1 {
		payload.RiskLevel = "high"
	}
	if payload.RiskLevel == "" {
		payload.RiskLevel = "low"
	}

	confidence := hallucinationConfidenceClean
	var result StageResult
	if payload.Detected {
		confidence = hallucinationConfidenceFindings
		result = successResult(StageHallucination, payload, confidence, start)
		for _, c := range payload.UnverifiedClaims {
			result.Issues = append(result.Issues, "Unverified claim: "+c)
		}
		for _, a := range payload.UnsupportedAssumptions {
			result.Suggestions = append(result.Suggestions, "Unsupported assumption: "+a)
		}
	} else {
		result = successResult(StageHallucination, payload, confidence, start)
	}
	return result, payload
}

func hallucinationUserPrompt(original InboundMessage, draft DraftPayload, mctx *Context) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Original email:\nFrom: %s\nSubject: %s\n\n%s\n", original.Sender, original.Subject, original.Body)
	sb.WriteString(contextSection(mctx))
	fmt.Fprintf(&sb, "\n[Drafted Reply Body]\n%s\n", draft.Body)
	return sb.String()
}
