package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/tripdesk/replyd/internal/completion"
)

const (
	reviewFailureIssue = "Failed to complete final review"

	// Fixed heuristic, see analysisConfidence. The 1-10 final_score stays in
	// the payload; it does not feed the success gate.
	reviewConfidence = 0.9

	reviewTemperature = 0.2
	reviewMaxTokens   = 1200
)

// ReviewStage is the terminal quality gate: it aggregates every earlier
// stage's confidence, issues, and suggestions into one verdict. A failed
// review means no trustworthy decision was reached — the orchestrator treats
// that as "do not send", never as approval.
type ReviewStage struct {
	client Completer
}

// NewReviewStage creates the final-review stage.
func NewReviewStage(client Completer) *ReviewStage {
	return &ReviewStage{client: client}
}

// Review runs the stage under the uniform StageResult contract.
func (s *ReviewStage) Review(ctx context.Context, original InboundMessage, draft DraftPayload, prior []StageResult) (StageResult, FinalDecision) {
	start := time.Now()

	var payload FinalDecision
	err := completeJSON(ctx, s.client, reviewSystemPrompt, reviewUserPrompt(original, draft, prior), completion.Options{
		Temperature: reviewTemperature,
		MaxTokens:   reviewMaxTokens,
	}, &payload)
	if err != nil {
		return failureResult(StageReview, reviewFailureIssue, err, start), FinalDecision{}
	}

	switch payload.Recommendation {
	case RecommendApprove, RecommendRevise, RecommendReject:
	default:
		return failureResult(StageReview, reviewFailureIssue, fmt.Errorf("unknown recommendation %q", payload.Recommendation), start), FinalDecision{}
	}
	// Keep the boolean consistent with the recommendation; the latter wins.
	payload.Approved = payload.Recommendation == RecommendApprove

	result := successResult(StageReview, payload, reviewConfidence, start)
	result.Issues = append(result.Issues, payload.CriticalIssues...)
	result.Suggestions = append(result.Suggestions, payload.MinorIssues...)
	return result, payload
}

func reviewUserPrompt(original InboundMessage, draft DraftPayload, prior []StageResult) string {
	draftJSON, _ := json.Marshal(draft)

	var sb strings.Builder
	fmt.Fprintf(&sb, "Original email:\nFrom: %s\nSubject: %s\n\n%s\n", original.Sender, original.Subject, original.Body)
	fmt.Fprintf(&sb, "\n[Drafted Reply]\n%s\n", draftJSON)

	sb.WriteString("\n[Earlier Checks]\n")
	for _, r := range prior {
		fmt.Fprintf(&sb, "- %s: confidence %.2f", r.Stage, r.Confidence)
		if len(r.Issues) > 0 {
			fmt.Fprintf(&sb, "; issues: %s", strings.Join(r.Issues, "; "))
		}
		if len(r.Suggestions) > 0 {
			fmt.Fprintf(&sb, "; suggestions: %s", strings.Join(r.Suggestions, "; "))
		}
		sb.WriteString("\n")
	}
	return sb.String()
}
