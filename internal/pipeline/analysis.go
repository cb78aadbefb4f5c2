package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/tripdesk/replyd/internal/completion"
)

const (
	analysisFailureIssue = "Failed to analyze email content"

	// Fixed heuristic, not derived from any model signal. Kept as a constant
	// deliberately: the gate threshold assumes a successful analysis scores
	// well above it.
	analysisConfidence = 0.9

	analysisTemperature = 0.3
	analysisMaxTokens   = 800
)

// AnalysisStage classifies an inbound message: type, sentiment, urgency,
// topics, explicit questions, action items, tone, and a response strategy.
type AnalysisStage struct {
	client Completer
}

// NewAnalysisStage creates the content-analysis stage.
func NewAnalysisStage(client Completer) *AnalysisStage {
	return &AnalysisStage{client: client}
}

// Analyze runs the stage. It always returns a StageResult; on completion or
// parse failure the result carries Confidence 0 and a populated Issues slice.
func (s *AnalysisStage) Analyze(ctx context.Context, msg InboundMessage, mctx *Context) (StageResult, AnalysisPayload) {
	start := time.Now()

	var payload AnalysisPayload
	err := completeJSON(ctx, s.client, analysisSystemPrompt, analysisUserPrompt(msg, mctx), completion.Options{
		Temperature: analysisTemperature,
		MaxTokens:   analysisMaxTokens,
	}, &payload)
	if err != nil {
		return failureResult(StageAnalysis, analysisFailureIssue, err, start), AnalysisPayload{}
	}
	if payload.MessageType == "" || payload.Sentiment == "" {
		return failureResult(StageAnalysis, analysisFailureIssue, fmt.Errorf("payload missing required fields"), start), AnalysisPayload{}
	}

	return successResult(StageAnalysis, payload, analysisConfidence, start), payload
}

func analysisUserPrompt(msg InboundMessage, mctx *Context) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "From: %s\nSubject: %s\n\n%s\n", msg.Sender, msg.Subject, msg.Body)
	sb.WriteString(contextSection(mctx))
	return sb.String()
}
