package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/tripdesk/replyd/internal/completion"
)

// Completer is the single abstraction point every stage uses to call the
// text-completion service.
type Completer interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string, opts completion.Options) (string, error)
}

const retryInstruction = "\n\nYour previous reply was not valid JSON. Return ONLY a single valid JSON object matching the requested schema, with no prose, code fences, or markdown."

// completeJSON calls the completion service and unmarshals the reply into v.
// If the first reply does not parse, it re-prompts exactly once with an
// explicit JSON-only instruction. There is no heuristic fallback chain: a
// second parse failure is an error.
func completeJSON(ctx context.Context, c Completer, system, user string, opts completion.Options, v any) error {
	raw, err := c.Complete(ctx, system, user, opts)
	if err != nil {
		return err
	}

	if err := json.Unmarshal([]byte(stripFence(raw)), v); err == nil {
		return nil
	}
	slog.Debug("stage output did not parse, re-prompting once")

	raw, err = c.Complete(ctx, system, user+retryInstruction, opts)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(stripFence(raw)), v); err != nil {
		return fmt.Errorf("parsing stage output: %w", err)
	}
	return nil
}

// stripFence removes a surrounding markdown code fence, if present. Models
// occasionally wrap JSON in ```json ... ``` despite instructions.
func stripFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.Index(s, "\n"); i >= 0 {
		s = s[i+1:] // drop the language tag line
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// successResult builds the uniform StageResult for a stage that produced a
// usable payload.
func successResult(stage string, payload any, confidence float64, start time.Time) StageResult {
	return StageResult{
		Stage:      stage,
		Payload:    payload,
		Confidence: confidence,
		ProducedAt: time.Now().UTC(),
		DurationMs: time.Since(start).Milliseconds(),
	}
}

// failureResult builds the uniform StageResult for a stage that could not
// produce a usable payload. Confidence 0 is the failure marker the
// orchestrator gates on.
func failureResult(stage, issue string, err error, start time.Time) StageResult {
	slog.Warn("stage failed", "stage", stage, "error", err)
	return StageResult{
		Stage:      stage,
		Payload:    map[string]any{},
		Confidence: 0,
		ProducedAt: time.Now().UTC(),
		DurationMs: time.Since(start).Milliseconds(),
		Issues:     []string{issue},
	}
}

// contextSection renders the caller-supplied context for inclusion in a
// stage prompt. Returns "" when there is nothing to add.
func contextSection(mctx *Context) string {
	if mctx == nil {
		return ""
	}

	var sb strings.Builder
	if len(mctx.Preferences) > 0 {
		sb.WriteString("\n[Agent Preferences]\n")
		for k, v := range mctx.Preferences {
			fmt.Fprintf(&sb, "- %s: %s\n", k, v)
		}
	}
	if len(mctx.PriorMessages) > 0 {
		sb.WriteString("\n[Earlier Messages In Thread]\n")
		for _, m := range mctx.PriorMessages {
			fmt.Fprintf(&sb, "From %s — %s:\n%s\n\n", m.Sender, m.Subject, m.Body)
		}
	}
	if len(mctx.Documents) > 0 {
		sb.WriteString("\n[Client Documents]\n")
		for _, d := range mctx.Documents {
			sb.WriteString(d)
			sb.WriteString("\n\n")
		}
	}
	return sb.String()
}
