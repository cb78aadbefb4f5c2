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
	draftFailureIssue = "Failed to generate email draft"

	// Fixed heuristic, see analysisConfidence.
	draftConfidence = 0.85

	draftTemperature = 0.7
	draftMaxTokens   = 1500
)

// DraftStage produces a candidate reply. It consumes the analysis payload,
// not the raw message alone — tone and strategy come from upstream, which is
// why the orchestrator never invokes this stage without a trusted analysis.
type DraftStage struct {
	client Completer
}

// NewDraftStage creates the draft-generation stage.
func NewDraftStage(client Completer) *DraftStage {
	return &DraftStage{client: client}
}

// Generate runs the stage under the uniform StageResult contract.
func (s *DraftStage) Generate(ctx context.Context, msg InboundMessage, analysis AnalysisPayload, mctx *Context) (StageResult, DraftPayload) {
	start := time.Now()

	var payload DraftPayload
	err := completeJSON(ctx, s.client, draftSystemPrompt, draftUserPrompt(msg, analysis, mctx), completion.Options{
		Temperature: draftTemperature,
		MaxTokens:   draftMaxTokens,
	}, &payload)
	if err != nil {
		return failureResult(StageDraft, draftFailureIssue, err, start), DraftPayload{}
	}
	if payload.Subject == "" || payload.Body == "" {
		return failureResult(StageDraft, draftFailureIssue, fmt.Errorf("payload missing subject or body"), start), DraftPayload{}
	}

	return successResult(StageDraft, payload, draftConfidence, start), payload
}

func draftUserPrompt(msg InboundMessage, analysis AnalysisPayload, mctx *Context) string {
	analysisJSON, _ := json.Marshal(analysis)

	var sb strings.Builder
	fmt.Fprintf(&sb, "Client email:\nFrom: %s\nSubject: %s\n\n%s\n", msg.Sender, msg.Subject, msg.Body)
	fmt.Fprintf(&sb, "\n[Content Analysis]\n%s\n", analysisJSON)
	sb.WriteString(contextSection(mctx))
	return sb.String()
}
