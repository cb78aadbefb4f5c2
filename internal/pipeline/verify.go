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
	verifyFailureIssue = "Failed to verify email draft"

	verifyTemperature = 0.2
	verifyMaxTokens   = 800
)

// VerifyStage cross-checks a draft against the original message: is every
// extracted question answered, is the tone right. Advisory only — its
// findings feed the final review but never abort the run.
type VerifyStage struct {
	client Completer
}

// NewVerifyStage creates the verification stage.
func NewVerifyStage(client Completer) *VerifyStage {
	return &VerifyStage{client: client}
}

// Verify runs the stage under the uniform StageResult contract. On success
// the result's Confidence is the model's overall quality score normalized to
// 0-1, so this stage's confidence carries real signal unlike the fixed
// constants elsewhere.
func (s *VerifyStage) Verify(ctx context.Context, original InboundMessage, draft DraftPayload, analysis AnalysisPayload) (StageResult, VerificationPayload) {
	start := time.Now()

	var payload VerificationPayload
	err := completeJSON(ctx, s.client, verificationSystemPrompt, verifyUserPrompt(original, draft, analysis), completion.Options{
		Temperature: verifyTemperature,
		MaxTokens:   verifyMaxTokens,
	}, &payload)
	if err != nil {
		return failureResult(StageVerification, verifyFailureIssue, err, start), VerificationPayload{}
	}
	if payload.OverallQuality < 1 || payload.OverallQuality > 10 {
		return failureResult(StageVerification, verifyFailureIssue, fmt.Errorf("overall_quality %v out of range", payload.OverallQuality), start), VerificationPayload{}
	}

	result := successResult(StageVerification, payload, payload.OverallQuality/10, start)
	for _, p := range payload.MissedPoints {
		result.Issues = append(result.Issues, "Unaddressed: "+p)
	}
	if !payload.ToneAppropriate {
		result.Suggestions = append(result.Suggestions, "Adjust tone to match the client's sentiment")
	}
	return result, payload
}

func verifyUserPrompt(original InboundMessage, draft DraftPayload, analysis AnalysisPayload) string {
	draftJSON, _ := json.Marshal(draft)
	questionsJSON, _ := json.Marshal(analysis.Questions)

	var sb strings.Builder
	fmt.Fprintf(&sb, "Original email:\nFrom: %s\nSubject: %s\n\n%s\n", original.Sender, original.Subject, original.Body)
	fmt.Fprintf(&sb, "\n[Client Questions]\n%s\n", questionsJSON)
	fmt.Fprintf(&sb, "\n[Drafted Reply]\n%s\n", draftJSON)
	return sb.String()
}
