package pipeline

import (
	"context"
	"strings"
	"testing"

	"github.com/tripdesk/replyd/internal/completion"
)

// scriptedCompleter returns canned responses in order.
type scriptedCompleter struct {
	responses []string
	errs      []error
	calls     int
	received  []string
}

func (c *scriptedCompleter) Complete(ctx context.Context, system, user string, opts completion.Options) (string, error) {
	i := c.calls
	c.calls++
	c.received = append(c.received, user)
	var err error
	if i < len(c.errs) {
		err = c.errs[i]
	}
	var resp string
	if i < len(c.responses) {
		resp = c.responses[i]
	}
	return resp, err
}

func TestStripFence(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"bare json", `{"a":1}`, `{"a":1}`},
		{"fenced", "```json\n{\"a\":1}\n```", `{"a":1}`},
		{"fenced no lang", "```\n{\"a\":1}\n```", `{"a":1}`},
		{"leading whitespace", "  {\"a\":1}  ", `{"a":1}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := stripFence(tt.in); got != tt.want {
				t.Errorf("stripFence(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestCompleteJSON_RepromptsOnceOnParseFailure(t *testing.T) {
	c := &scriptedCompleter{
		responses: []string{"not json at all", `{"message_type":"inquiry"}`},
	}

	var out AnalysisPayload
	err := completeJSON(context.Background(), c, "sys", "user", completion.Options{Temperature: 0.3}, &out)
	if err != nil {
		t.Fatalf("completeJSON returned error: %v", err)
	}
	if c.calls != 2 {
		t.Errorf("calls = %d, want 2", c.calls)
	}
	if !strings.Contains(c.received[1], "ONLY a single valid JSON object") {
		t.Errorf("retry prompt missing JSON-only instruction: %q", c.received[1])
	}
	if out.MessageType != "inquiry" {
		t.Errorf("payload not populated from retry: %+v", out)
	}
}

func TestCompleteJSON_SecondParseFailureIsError(t *testing.T) {
	c := &scriptedCompleter{
		responses: []string{"garbage", "still garbage"},
	}

	var out AnalysisPayload
	if err := completeJSON(context.Background(), c, "sys", "user", completion.Options{}, &out); err == nil {
		t.Fatal("expected error after two parse failures")
	}
	if c.calls != 2 {
		t.Errorf("calls = %d, want exactly 2 (no heuristic fallback chain)", c.calls)
	}
}

func TestAnalyze_MissingRequiredFields(t *testing.T) {
	c := &scriptedCompleter{
		responses: []string{`{"topics":["tokyo"]}`, `{"topics":["tokyo"]}`},
	}

	res, _ := NewAnalysisStage(c).Analyze(context.Background(), testMessage(), nil)
	if !res.Failed() {
		t.Error("expected failure result for payload missing message_type")
	}
	if len(res.Issues) != 1 || res.Issues[0] != "Failed to analyze email content" {
		t.Errorf("Issues = %v", res.Issues)
	}
}

func TestVerify_QualityDrivesConfidence(t *testing.T) {
	c := &scriptedCompleter{
		responses: []string{`{"is_complete":false,"addressed_questions":[],"missed_points":["cost question"],"tone_appropriate":true,"overall_quality":6}`},
	}

	res, payload := NewVerifyStage(c).Verify(context.Background(), testMessage(), DraftPayload{Subject: "Re", Body: "<p>hi</p>"}, AnalysisPayload{})
	if res.Failed() {
		t.Fatalf("unexpected failure: %v", res.Issues)
	}
	if res.Confidence != 0.6 {
		t.Errorf("Confidence = %v, want 0.6 (overall_quality normalized)", res.Confidence)
	}
	if payload.OverallQuality != 6 {
		t.Errorf("OverallQuality = %v, want 6", payload.OverallQuality)
	}
	if len(res.Issues) != 1 || !strings.Contains(res.Issues[0], "cost question") {
		t.Errorf("missed points should surface as issues: %v", res.Issues)
	}
}

func TestVerify_QualityOutOfRange(t *testing.T) {
	c := &scriptedCompleter{
		responses: []string{`{"overall_quality":0}`, `{"overall_quality":0}`},
	}

	res, _ := NewVerifyStage(c).Verify(context.Background(), testMessage(), DraftPayload{}, AnalysisPayload{})
	if !res.Failed() {
		t.Error("expected failure for out-of-range quality score")
	}
}

func TestDetect_EscalatesRiskOnMultipleClaims(t *testing.T) {
	c := &scriptedCompleter{
		responses: []string{`{"hallucinations_detected":true,"unverified_claims":["$999 fare","free lounge access"],"unsupported_assumptions":[],"risk_level":"low"}`},
	}

	res, payload := NewHallucinationStage(c).Detect(context.Background(), testMessage(), DraftPayload{Body: "<p>x</p>"}, nil)
	if payload.RiskLevel != "high" {
		t.Errorf("RiskLevel = %q, want high with more than one unverified claim", payload.RiskLevel)
	}
	if res.Confidence != hallucinationConfidenceFindings {
		t.Errorf("Confidence = %v, want %v — findings do not shake this stage's confidence in itself", res.Confidence, hallucinationConfidenceFindings)
	}
	if len(res.Issues) != 2 {
		t.Errorf("Issues = %v, want one per unverified claim", res.Issues)
	}
}

func TestDetect_CleanDraftGetsHigherConfidence(t *testing.T) {
	c := &scriptedCompleter{
		responses: []string{`{"hallucinations_detected":false,"unverified_claims":[],"unsupported_assumptions":[],"risk_level":"low"}`},
	}

	res, _ := NewHallucinationStage(c).Detect(context.Background(), testMessage(), DraftPayload{Body: "<p>x</p>"}, nil)
	if res.Confidence != hallucinationConfidenceClean {
		t.Errorf("Confidence = %v, want %v", res.Confidence, hallucinationConfidenceClean)
	}
}

func TestReview_UnknownRecommendationFails(t *testing.T) {
	c := &scriptedCompleter{
		responses: []string{`{"recommendation":"maybe","final_score":5}`, `{"recommendation":"maybe","final_score":5}`},
	}

	res, _ := NewReviewStage(c).Review(context.Background(), testMessage(), DraftPayload{}, nil)
	if !res.Failed() {
		t.Error("expected failure for unknown recommendation")
	}
}

func TestReview_ApprovedFollowsRecommendation(t *testing.T) {
	c := &scriptedCompleter{
		responses: []string{`{"approved":true,"final_score":8,"critical_issues":[],"minor_issues":["greeting slightly stiff"],"recommendation":"revise"}`},
	}

	res, decision := NewReviewStage(c).Review(context.Background(), testMessage(), DraftPayload{}, nil)
	if res.Failed() {
		t.Fatalf("unexpected failure: %v", res.Issues)
	}
	// The recommendation wins over an inconsistent approved flag.
	if decision.Approved {
		t.Error("Approved = true, want false for revise recommendation")
	}
	if len(res.Suggestions) != 1 {
		t.Errorf("minor issues should surface as suggestions: %v", res.Suggestions)
	}
}

func TestReview_PromptAggregatesPriorFindings(t *testing.T) {
	c := &scriptedCompleter{
		responses: []string{`{"recommendation":"approve","final_score":9,"approved":true}`},
	}

	prior := []StageResult{
		{Stage: StageVerification, Confidence: 0.6, Issues: []string{"Unaddressed: refund policy"}},
		{Stage: StageHallucination, Confidence: 0.9, Suggestions: []string{"Unsupported assumption: window seats"}},
	}
	NewReviewStage(c).Review(context.Background(), testMessage(), DraftPayload{Subject: "Re"}, prior)

	prompt := c.received[0]
	if !strings.Contains(prompt, "Unaddressed: refund policy") {
		t.Error("review prompt missing verification issue")
	}
	if !strings.Contains(prompt, "window seats") {
		t.Error("review prompt missing hallucination suggestion")
	}
}
