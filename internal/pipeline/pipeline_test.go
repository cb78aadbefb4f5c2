package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/tripdesk/replyd/internal/completion"
)

// stageMock routes completion calls to per-stage canned responses, keyed off
// a marker phrase in each stage's system prompt, and records call counts and
// received user prompts.
type stageMock struct {
	calls   map[string]int
	prompts map[string][]string
	respond map[string]func(user string) (string, error)
}

func newStageMock() *stageMock {
	return &stageMock{
		calls:   make(map[string]int),
		prompts: make(map[string][]string),
		respond: make(map[string]func(string) (string, error)),
	}
}

func stageFor(system string) string {
	switch {
	case strings.Contains(system, "content-analysis engine"):
		return StageAnalysis
	case strings.Contains(system, "reply composer"):
		return StageDraft
	case strings.Contains(system, "quality checker"):
		return StageVerification
	case strings.Contains(system, "fact checker"):
		return StageHallucination
	case strings.Contains(system, "final reviewer"):
		return StageReview
	}
	return "unknown"
}

func (m *stageMock) Complete(ctx context.Context, system, user string, opts completion.Options) (string, error) {
	stage := stageFor(system)
	m.calls[stage]++
	m.prompts[stage] = append(m.prompts[stage], user)
	if fn, ok := m.respond[stage]; ok {
		return fn(user)
	}
	return defaultResponse(stage), nil
}

func defaultResponse(stage string) string {
	switch stage {
	case StageAnalysis:
		return `{"message_type":"inquiry","sentiment":"neutral","urgency":"medium","topics":["Tokyo","pricing"],"questions":["What's the cost for 2 passengers to Tokyo?"],"action_items":["send a quote"],"tone":"curious","recommended_strategy":"ANSWER-PRICING-FIRST"}`
	case StageDraft:
		return `{"subject":"Re: Pricing question","body":"<p>Thank you for asking about Tokyo. We will prepare a quote for 2 passengers.</p>","tone":"friendly","key_points":["pricing for 2 passengers"],"call_to_action":"Reply to confirm your travel dates"}`
	case StageVerification:
		return `{"is_complete":true,"addressed_questions":["What's the cost for 2 passengers to Tokyo?"],"missed_points":[],"tone_appropriate":true,"overall_quality":9}`
	case StageHallucination:
		return `{"hallucinations_detected":false,"unverified_claims":[],"unsupported_assumptions":[],"risk_level":"low"}`
	case StageReview:
		return `{"approved":true,"final_score":9,"critical_issues":[],"minor_issues":[],"recommendation":"approve"}`
	}
	return `{}`
}

func testMessage() InboundMessage {
	return InboundMessage{
		Subject: "Pricing question",
		Body:    "What's the cost for 2 passengers to Tokyo?",
		Sender:  "client@example.com",
	}
}

func runWith(mock *stageMock, mctx *Context) Run {
	p := New(mock, mock)
	return p.Run(context.Background(), testMessage(), mctx)
}

func TestRun_FullSuccess(t *testing.T) {
	mock := newStageMock()
	run := runWith(mock, nil)

	if !run.Success {
		t.Errorf("Success = false, want true (abort reason %q)", run.AbortReason)
	}
	if run.FinalDraft == nil {
		t.Fatal("FinalDraft is nil, want approved draft")
	}
	if run.FinalDraft.Subject != "Re: Pricing question" {
		t.Errorf("FinalDraft.Subject = %q", run.FinalDraft.Subject)
	}
	if len(run.StageResults) != 5 {
		t.Fatalf("StageResults length = %d, want 5", len(run.StageResults))
	}

	// 0.9 + 0.85 + 0.9 + 0.95 + 0.9 over five stages.
	want := (analysisConfidence + draftConfidence + 0.9 + hallucinationConfidenceClean + reviewConfidence) / 5
	if diff := run.AverageConfidence - want; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("AverageConfidence = %v, want %v", run.AverageConfidence, want)
	}
}

func TestRun_AnalysisFailureAborts(t *testing.T) {
	mock := newStageMock()
	mock.respond[StageAnalysis] = func(string) (string, error) {
		return "", errors.New("upstream down")
	}

	run := runWith(mock, nil)

	if run.Success {
		t.Error("Success = true, want false")
	}
	if run.FinalDraft != nil {
		t.Error("FinalDraft should be nil on abort")
	}
	if len(run.StageResults) != 1 {
		t.Fatalf("StageResults length = %d, want 1", len(run.StageResults))
	}
	res := run.StageResults[0]
	if res.Confidence != 0 {
		t.Errorf("Confidence = %v, want 0", res.Confidence)
	}
	if len(res.Issues) != 1 || res.Issues[0] != "Failed to analyze email content" {
		t.Errorf("Issues = %v", res.Issues)
	}
	if mock.calls[StageDraft] != 0 {
		t.Errorf("draft stage was invoked %d times after analysis failure", mock.calls[StageDraft])
	}
	if run.AbortReason == "" {
		t.Error("AbortReason should be set on abort")
	}
}

func TestRun_DraftFailureAbortsBeforeVerification(t *testing.T) {
	mock := newStageMock()
	mock.respond[StageDraft] = func(string) (string, error) {
		return "", errors.New("network failure")
	}

	run := runWith(mock, nil)

	if run.Success {
		t.Error("Success = true, want false")
	}
	if len(run.StageResults) != 2 {
		t.Fatalf("StageResults length = %d, want 2", len(run.StageResults))
	}
	draftRes := run.StageResults[1]
	if draftRes.Confidence != 0 {
		t.Errorf("draft Confidence = %v, want 0", draftRes.Confidence)
	}
	if len(draftRes.Issues) != 1 || draftRes.Issues[0] != "Failed to generate email draft" {
		t.Errorf("draft Issues = %v", draftRes.Issues)
	}
	if mock.calls[StageVerification] != 0 {
		t.Error("verification ran after draft failure")
	}
}

func TestRun_RejectedDraftStillSucceeds(t *testing.T) {
	mock := newStageMock()
	mock.respond[StageHallucination] = func(string) (string, error) {
		return `{"hallucinations_detected":true,"unverified_claims":["price of $999","free upgrade"],"unsupported_assumptions":[],"risk_level":"medium"}`, nil
	}
	mock.respond[StageReview] = func(string) (string, error) {
		return `{"approved":false,"final_score":3,"critical_issues":["ungrounded pricing"],"minor_issues":[],"recommendation":"reject"}`, nil
	}

	run := runWith(mock, nil)

	// The pipeline executed correctly even though the email must not be sent.
	if !run.Success {
		t.Errorf("Success = false, want true: the review itself completed")
	}
	if run.FinalDraft != nil {
		t.Error("FinalDraft should be nil when recommendation is reject")
	}
	if len(run.StageResults) != 5 {
		t.Errorf("StageResults length = %d, want 5", len(run.StageResults))
	}
}

func TestRun_ReviewFailureFailsClosed(t *testing.T) {
	mock := newStageMock()
	mock.respond[StageReview] = func(string) (string, error) {
		return "", errors.New("review call failed")
	}

	run := runWith(mock, nil)

	if run.Success {
		t.Error("Success = true, want false when review produced no decision")
	}
	if run.FinalDraft != nil {
		t.Error("FinalDraft must be nil when review failed, regardless of earlier stages")
	}
	if len(run.StageResults) != 5 {
		t.Errorf("StageResults length = %d, want 5", len(run.StageResults))
	}
}

func TestRun_DraftPromptCarriesAnalysisPayload(t *testing.T) {
	mock := newStageMock()
	runWith(mock, nil)

	if len(mock.prompts[StageDraft]) == 0 {
		t.Fatal("draft stage received no prompt")
	}
	// The analysis marker strategy must flow into the draft prompt verbatim.
	if !strings.Contains(mock.prompts[StageDraft][0], "ANSWER-PRICING-FIRST") {
		t.Error("draft prompt does not embed the analysis payload")
	}
}

func TestRun_AverageOverExecutedStagesOnly(t *testing.T) {
	mock := newStageMock()
	mock.respond[StageDraft] = func(string) (string, error) {
		return "", errors.New("boom")
	}

	run := runWith(mock, nil)

	// Two stages ran: analysis (0.9) and draft (0). Mean over 2, not 5.
	want := analysisConfidence / 2
	if diff := run.AverageConfidence - want; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("AverageConfidence = %v, want %v", run.AverageConfidence, want)
	}
}

func TestRun_MalformedStageOutputNeverPanics(t *testing.T) {
	for _, stage := range []string{StageAnalysis, StageDraft, StageVerification, StageHallucination, StageReview} {
		t.Run(stage, func(t *testing.T) {
			mock := newStageMock()
			mock.respond[stage] = func(string) (string, error) {
				return "definitely { not json", nil
			}

			run := runWith(mock, nil)

			for _, res := range run.StageResults {
				if res.Stage == stage {
					if res.Confidence != 0 {
						t.Errorf("stage %s Confidence = %v, want 0", stage, res.Confidence)
					}
					if len(res.Issues) == 0 {
						t.Errorf("stage %s has no Issues on failure", stage)
					}
					return
				}
			}
			t.Errorf("no StageResult recorded for %s", stage)
		})
	}
}

func TestRun_PanicConvertedToFailedRun(t *testing.T) {
	mock := newStageMock()
	mock.respond[StageVerification] = func(string) (string, error) {
		panic("programming error")
	}

	run := runWith(mock, nil)

	if run.Success {
		t.Error("Success = true after panic")
	}
	if run.FinalDraft != nil {
		t.Error("FinalDraft should be nil after panic")
	}
	if !strings.Contains(run.AbortReason, "internal error") {
		t.Errorf("AbortReason = %q, want opaque internal error marker", run.AbortReason)
	}
}

func TestRun_SanitizesDraftHTML(t *testing.T) {
	mock := newStageMock()
	mock.respond[StageDraft] = func(string) (string, error) {
		return `{"subject":"Re: Hi","body":"<p>Hello</p><script>alert(1)</script>","tone":"friendly","key_points":["greeting"]}`, nil
	}

	run := runWith(mock, nil)

	if run.FinalDraft == nil {
		t.Fatal("FinalDraft is nil")
	}
	if strings.Contains(run.FinalDraft.Body, "script") {
		t.Errorf("script survived sanitation: %q", run.FinalDraft.Body)
	}

	draftRes := run.StageResults[1]
	found := false
	for _, s := range draftRes.Suggestions {
		if strings.Contains(s, "Stripped unsafe HTML") {
			found = true
		}
	}
	if !found {
		t.Errorf("expected sanitation suggestion, got %v", draftRes.Suggestions)
	}
}

func TestRun_ContextFlowsIntoPrompts(t *testing.T) {
	mock := newStageMock()
	mctx := &Context{
		ClientID:    "client-7",
		Preferences: map[string]string{"signature": "Safe travels, Dana"},
		Documents:   []string{"Itinerary NRT-123: 2 passengers, Tokyo, departing June 3"},
	}

	runWith(mock, mctx)

	draftPrompt := mock.prompts[StageDraft][0]
	if !strings.Contains(draftPrompt, "Safe travels, Dana") {
		t.Error("draft prompt missing agent preference")
	}
	if !strings.Contains(draftPrompt, "Itinerary NRT-123") {
		t.Error("draft prompt missing client document")
	}
	hallPrompt := mock.prompts[StageHallucination][0]
	if !strings.Contains(hallPrompt, "Itinerary NRT-123") {
		t.Error("hallucination prompt missing grounding document")
	}
}

func TestDecisionSurvivesJSONRoundTrip(t *testing.T) {
	mock := newStageMock()
	run := runWith(mock, nil)

	decision, ok := run.Decision()
	if !ok {
		t.Fatal("expected a decision on the in-process run")
	}

	b, err := json.Marshal(run)
	if err != nil {
		t.Fatalf("marshaling run: %v", err)
	}
	var decoded Run
	if err := json.Unmarshal(b, &decoded); err != nil {
		t.Fatalf("unmarshaling run: %v", err)
	}

	got, ok := decoded.Decision()
	if !ok {
		t.Fatal("expected a decision after the round trip")
	}
	if got.Recommendation != decision.Recommendation {
		t.Errorf("recommendation = %q, want %q", got.Recommendation, decision.Recommendation)
	}
	if got.FinalScore != decision.FinalScore {
		t.Errorf("final score = %v, want %v", got.FinalScore, decision.FinalScore)
	}
}
