package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/tripdesk/replyd/internal/archive"
	"github.com/tripdesk/replyd/internal/pipeline"
	"github.com/tripdesk/replyd/internal/storage"
)

const (
	maxRequestBodySize  = 1 << 20  // 1MB
	maxDocumentBodySize = 10 << 20 // 10MB, base64 PDFs are bulky
)

// Runner abstracts the reply pipeline for the API layer.
type Runner interface {
	Run(ctx context.Context, msg pipeline.InboundMessage, mctx *pipeline.Context) pipeline.Run
}

// ContextFetcher abstracts memory-context assembly.
type ContextFetcher interface {
	Fetch(ctx context.Context, clientID, requestID, threadID string) (*pipeline.Context, error)
}

// Deps holds what the HTTP surface needs.
type Deps struct {
	Store   *storage.Store
	Runner  Runner
	Memory  ContextFetcher // optional; nil disables context lookup
	Actions *ActionSet
	Limiter *RateLimiter // optional; nil disables throttling
	Token   string
}

// ReplyRequest is the pipeline invocation body. Context may be supplied
// inline; when absent, it is assembled from stored client history.
type ReplyRequest struct {
	OriginalEmail pipeline.InboundMessage `json:"original_email"`
	ClientID      string                  `json:"client_id,omitempty"`
	RequestID     string                  `json:"request_id,omitempty"`
	Context       *pipeline.Context       `json:"context,omitempty"`
}

// NewHandler builds the full HTTP surface: health, the pipeline entry
// point, action dispatch, and the bearer-authed management routes.
func NewHandler(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))
		if deps.Limiter != nil {
			r.Use(deps.Limiter.Middleware)
		}
		r.Post("/v1/replies", handleDraftReply(deps))
		r.Post("/v1/actions", handleDispatchAction(deps))
	})

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))
		mountManage(r, deps)
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{"status": "ok"})
}

func handleDraftReply(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

		var req ReplyRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if err := req.OriginalEmail.Validate(); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid original_email: %v", err)
			return
		}

		run := runReply(r.Context(), deps, req)
		writeJSON(w, run)
	}
}

// runReply resolves context, executes the pipeline, and persists the
// exchange. Persistence failures are logged, never surfaced: the caller
// already paid for the run and gets its result regardless.
func runReply(ctx context.Context, deps Deps, req ReplyRequest) pipeline.Run {
	mctx := req.Context
	if mctx == nil && deps.Memory != nil && (req.ClientID != "" || req.OriginalEmail.ThreadID != "") {
		fetched, err := deps.Memory.Fetch(ctx, req.ClientID, req.RequestID, req.OriginalEmail.ThreadID)
		if err != nil {
			slog.Warn("memory context unavailable", "error", err)
		} else {
			mctx = fetched
		}
	}

	run := deps.Runner.Run(ctx, req.OriginalEmail, mctx)

	if deps.Store != nil {
		if err := saveRun(deps.Store, req, run); err != nil {
			slog.Error("failed to persist exchange", "run_id", run.ID, "error", err)
		}
	}
	return run
}

func saveRun(store *storage.Store, req ReplyRequest, run pipeline.Run) error {
	recipients, err := json.Marshal(req.OriginalEmail.Recipients)
	if err != nil {
		return fmt.Errorf("marshaling recipients: %w", err)
	}
	runJSON, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("marshaling run: %w", err)
	}

	e := storage.Exchange{
		ID:                run.ID,
		ClientID:          req.ClientID,
		RequestID:         req.RequestID,
		ThreadID:          req.OriginalEmail.ThreadID,
		Subject:           req.OriginalEmail.Subject,
		Body:              req.OriginalEmail.Body,
		Sender:            req.OriginalEmail.Sender,
		Recipients:        string(recipients),
		Success:           run.Success,
		AverageConfidence: run.AverageConfidence,
		RunJSON:           string(runJSON),
		CreatedAt:         time.Now().UTC(),
	}
	if run.FinalDraft != nil {
		e.DraftSubject = run.FinalDraft.Subject
		e.DraftBody = run.FinalDraft.Body
	}
	if decision, ok := run.Decision(); ok {
		e.Recommendation = decision.Recommendation
		e.FinalScore = decision.FinalScore
	}
	if err := store.SaveExchange(e); err != nil {
		return fmt.Errorf("saving exchange: %w", err)
	}

	payload, err := json.Marshal(archive.Payload{ExchangeID: e.ID, Run: run})
	if err != nil {
		return fmt.Errorf("marshaling archive payload: %w", err)
	}
	job := storage.Job{
		ID:          uuid.New().String(),
		Type:        archive.JobType,
		PayloadJSON: string(payload),
	}
	if err := store.EnqueueJob(job); err != nil {
		return fmt.Errorf("enqueueing archive job: %w", err)
	}
	return nil
}

type actionRequest struct {
	Action string          `json:"action"`
	Params json.RawMessage `json:"params"`
}

func handleDispatchAction(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

		var req actionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.Action == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "action is required")
			return
		}

		result, err := deps.Actions.Dispatch(r.Context(), req.Action, req.Params)
		var unknown ErrUnknownAction
		if errors.As(err, &unknown) {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "action %s failed: %v", req.Action, err)
			return
		}

		writeJSON(w, map[string]any{"action": req.Action, "result": result})
	}
}

// NewDefaultActions wires the closed action set against the live deps.
func NewDefaultActions(deps Deps) (*ActionSet, error) {
	return NewActionSet(map[string]ActionFunc{
		ActionDraftReply: func(ctx context.Context, params json.RawMessage) (any, error) {
			var req ReplyRequest
			if err := json.Unmarshal(params, &req); err != nil {
				return nil, fmt.Errorf("invalid params: %w", err)
			}
			if err := req.OriginalEmail.Validate(); err != nil {
				return nil, fmt.Errorf("invalid original_email: %w", err)
			}
			return runReply(ctx, deps, req), nil
		},
		ActionSaveExchange: func(ctx context.Context, params json.RawMessage) (any, error) {
			var p struct {
				Request ReplyRequest `json:"request"`
				Run     pipeline.Run `json:"run"`
			}
			if err := json.Unmarshal(params, &p); err != nil {
				return nil, fmt.Errorf("invalid params: %w", err)
			}
			if p.Run.ID == "" {
				return nil, fmt.Errorf("run.id is required")
			}
			if err := saveRun(deps.Store, p.Request, p.Run); err != nil {
				return nil, err
			}
			return map[string]string{"id": p.Run.ID, "status": "saved"}, nil
		},
		ActionFetchContext: func(ctx context.Context, params json.RawMessage) (any, error) {
			var p struct {
				ClientID  string `json:"client_id"`
				RequestID string `json:"request_id"`
				ThreadID  string `json:"thread_id"`
			}
			if err := json.Unmarshal(params, &p); err != nil {
				return nil, fmt.Errorf("invalid params: %w", err)
			}
			if deps.Memory == nil {
				return nil, fmt.Errorf("memory context not configured")
			}
			return deps.Memory.Fetch(ctx, p.ClientID, p.RequestID, p.ThreadID)
		},
	})
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func parseIntParam(r *http.Request, name string, def, max int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return def
	}
	if max > 0 && n > max {
		return max
	}
	return n
}
