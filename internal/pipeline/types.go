package pipeline

import (
	"encoding/json"
	"fmt"
	"time"
)

// InboundMessage is the client email the pipeline drafts a reply to.
// It is never mutated by any stage.
type InboundMessage struct {
	Subject    string   `json:"subject"`
	Body       string   `json:"body"`
	Sender     string   `json:"sender"`
	Recipients []string `json:"recipients,omitempty"`
	ThreadID   string   `json:"thread_id,omitempty"`
}

// Validate rejects messages that cannot be drafted against.
func (m InboundMessage) Validate() error {
	if m.Subject == "" {
		return fmt.Errorf("missing subject")
	}
	if m.Body == "" {
		return fmt.Errorf("missing body")
	}
	return nil
}

// Context is optional auxiliary data supplied by the caller: CRM identifiers,
// agent preferences, earlier messages in the thread, and excerpts from stored
// client documents. Read-only for all stages.
type Context struct {
	ClientID      string            `json:"client_id,omitempty"`
	RequestID     string            `json:"request_id,omitempty"`
	Preferences   map[string]string `json:"preferences,omitempty"`
	PriorMessages []InboundMessage  `json:"prior_messages,omitempty"`
	Documents     []string          `json:"documents,omitempty"`
}

// Stage names as they appear in StageResult.Stage and in persisted audit rows.
const (
	StageAnalysis      = "content_analysis"
	StageDraft         = "draft_generation"
	StageVerification  = "verification"
	StageHallucination = "hallucination_check"
	StageReview        = "final_review"
)

// StageResult is the uniform output contract for every stage. A stage never
// lets an error escape its public entry point: failure is a StageResult with
// Confidence 0 and a populated Issues slice.
type StageResult struct {
	Stage       string    `json:"stage"`
	Payload     any       `json:"payload"`
	Confidence  float64   `json:"confidence"`
	ProducedAt  time.Time `json:"produced_at"`
	DurationMs  int64     `json:"duration_ms"`
	Issues      []string  `json:"issues,omitempty"`
	Suggestions []string  `json:"suggestions,omitempty"`
}

// Failed reports whether the stage hit its uniform failure contract.
func (r StageResult) Failed() bool {
	return r.Confidence == 0
}

// AnalysisPayload is the content-analysis stage output.
type AnalysisPayload struct {
	MessageType string   `json:"message_type"`
	Sentiment   string   `json:"sentiment"`
	Urgency     string   `json:"urgency"`
	Topics      []string `json:"topics"`
	Questions   []string `json:"questions"`
	ActionItems []string `json:"action_items"`
	Tone        string   `json:"tone"`
	Strategy    string   `json:"recommended_strategy"`
}

// DraftPayload is a candidate reply. Body is HTML.
type DraftPayload struct {
	Subject      string   `json:"subject"`
	Body         string   `json:"body"`
	Tone         string   `json:"tone"`
	KeyPoints    []string `json:"key_points"`
	CallToAction string   `json:"call_to_action,omitempty"`
}

// VerificationPayload is the advisory completeness/tone check output.
type VerificationPayload struct {
	IsComplete         bool     `json:"is_complete"`
	AddressedQuestions []string `json:"addressed_questions"`
	MissedPoints       []string `json:"missed_points"`
	ToneAppropriate    bool     `json:"tone_appropriate"`
	OverallQuality     float64  `json:"overall_quality"`
}

// HallucinationPayload flags draft claims not grounded in the original
// message or supplied context.
type HallucinationPayload struct {
	Detected               bool     `json:"hallucinations_detected"`
	UnverifiedClaims       []string `json:"unverified_claims"`
	UnsupportedAssumptions []string `json:"unsupported_assumptions"`
	RiskLevel              string   `json:"risk_level"`
}

// Final review recommendations.
const (
	RecommendApprove = "approve"
	RecommendRevise  = "revise"
	RecommendReject  = "reject"
)

// FinalDecision is the terminal quality-gate verdict.
type FinalDecision struct {
	Approved       bool          `json:"approved"`
	FinalScore     float64       `json:"final_score"`
	CriticalIssues []string      `json:"critical_issues"`
	MinorIssues    []string      `json:"minor_issues"`
	Recommendation string        `json:"recommendation"`
	RevisedDraft   *DraftPayload `json:"revised_draft,omitempty"`
}

// Run is the aggregate result of one pipeline invocation. FinalDraft is nil
// unless the final review recommended approval — nil means the caller must
// not auto-send without human intervention.
type Run struct {
	ID                string        `json:"id"`
	Success           bool          `json:"success"`
	AbortReason       string        `json:"abort_reason,omitempty"`
	StageResults      []StageResult `json:"stage_results"`
	FinalDraft        *DraftPayload `json:"final_draft"`
	TotalDurationMs   int64         `json:"total_duration_ms"`
	AverageConfidence float64       `json:"average_confidence"`
}

// Decision returns the final-review verdict when that stage produced one.
// The payload is a FinalDecision for an in-process run; a run that has
// round-tripped through JSON carries it as a generic map, so that shape is
// re-decoded rather than dropped.
func (r Run) Decision() (FinalDecision, bool) {
	for _, sr := range r.StageResults {
		if sr.Stage != StageReview || sr.Failed() {
			continue
		}
		switch p := sr.Payload.(type) {
		case FinalDecision:
			return p, true
		case map[string]any:
			b, err := json.Marshal(p)
			if err != nil {
				return FinalDecision{}, false
			}
			var d FinalDecision
			if err := json.Unmarshal(b, &d); err != nil {
				return FinalDecision{}, false
			}
			return d, true
		}
	}
	return FinalDecision{}, false
}
