package api

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/tripdesk/replyd/internal/docparse"
	"github.com/tripdesk/replyd/internal/storage"
)

func mountManage(r chi.Router, deps Deps) {
	r.Get("/v1/exchanges", handleListExchanges(deps))
	r.Get("/v1/exchanges/{id}", handleGetExchange(deps))
	r.Post("/v1/documents", handleAddDocument(deps))
	r.Get("/v1/documents", handleListDocuments(deps))
	r.Delete("/v1/documents/{id}", handleDeleteDocument(deps))
	r.Get("/v1/preferences", handleGetPreferences(deps))
	r.Patch("/v1/preferences", handlePatchPreferences(deps))
}

type exchangeSummary struct {
	ID                string  `json:"id"`
	ClientID          string  `json:"client_id,omitempty"`
	ThreadID          string  `json:"thread_id,omitempty"`
	Subject           string  `json:"subject"`
	Sender            string  `json:"sender"`
	Recommendation    string  `json:"recommendation,omitempty"`
	FinalScore        float64 `json:"final_score,omitempty"`
	Success           bool    `json:"success"`
	AverageConfidence float64 `json:"average_confidence"`
	CreatedAt         string  `json:"created_at"`
}

func summarizeExchange(e storage.Exchange) exchangeSummary {
	return exchangeSummary{
		ID:                e.ID,
		ClientID:          e.ClientID,
		ThreadID:          e.ThreadID,
		Subject:           e.Subject,
		Sender:            e.Sender,
		Recommendation:    e.Recommendation,
		FinalScore:        e.FinalScore,
		Success:           e.Success,
		AverageConfidence: e.AverageConfidence,
		CreatedAt:         e.CreatedAt.Format(time.RFC3339),
	}
}

func handleListExchanges(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := parseIntParam(r, "limit", 20, 100)

		var (
			exchanges []storage.Exchange
			err       error
		)
		switch {
		case r.URL.Query().Get("client_id") != "":
			exchanges, err = deps.Store.ListExchangesByClient(r.URL.Query().Get("client_id"), limit)
		case r.URL.Query().Get("thread_id") != "":
			exchanges, err = deps.Store.ListExchangesByThread(r.URL.Query().Get("thread_id"), limit)
		default:
			exchanges, err = deps.Store.ListExchanges(limit)
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list exchanges: %v", err)
			return
		}

		summaries := make([]exchangeSummary, len(exchanges))
		for i, e := range exchanges {
			summaries[i] = summarizeExchange(e)
		}
		writeJSON(w, summaries)
	}
}

func handleGetExchange(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		exchange, err := deps.Store.GetExchange(id)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "exchange not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get exchange: %v", err)
			return
		}

		audits, err := deps.Store.ListStageAudits(id)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list stage audits: %v", err)
			return
		}

		var run json.RawMessage
		if exchange.RunJSON != "" {
			run = json.RawMessage(exchange.RunJSON)
		}
		writeJSON(w, map[string]any{
			"exchange":      summarizeExchange(exchange),
			"draft_subject": exchange.DraftSubject,
			"draft_body":    exchange.DraftBody,
			"run":           run,
			"stage_audits":  audits,
		})
	}
}

// DocumentRequest carries a client context document. Content is plain text
// unless kind is "pdf", in which case it is base64 and the text is extracted
// before storage.
type DocumentRequest struct {
	ClientID string `json:"client_id"`
	Title    string `json:"title"`
	Content  string `json:"content"`
	Source   string `json:"source"`
	Kind     string `json:"kind"`
}

func handleAddDocument(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxDocumentBodySize)
		defer r.Body.Close()

		var req DocumentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.Content == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "content is required")
			return
		}
		if req.Kind == "" {
			req.Kind = "text"
		}

		content := req.Content
		if req.Kind == "pdf" {
			raw, err := base64.StdEncoding.DecodeString(req.Content)
			if err != nil {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid base64 content")
				return
			}
			text, err := docparse.ExtractPDF(raw)
			if err != nil {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "failed to extract pdf text: %v", err)
				return
			}
			content = text
		}

		doc := storage.Document{
			ID:        uuid.New().String(),
			ClientID:  req.ClientID,
			Title:     req.Title,
			Content:   content,
			Source:    req.Source,
			Kind:      req.Kind,
			CreatedAt: time.Now().UTC(),
		}
		if err := deps.Store.SaveDocument(doc); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to save document: %v", err)
			return
		}

		writeJSON(w, map[string]string{"id": doc.ID, "status": "stored"})
	}
}

func handleListDocuments(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := parseIntParam(r, "limit", 20, 100)

		var (
			docs []storage.Document
			err  error
		)
		if clientID := r.URL.Query().Get("client_id"); clientID != "" {
			docs, err = deps.Store.ListDocumentsByClient(clientID, limit)
		} else {
			docs, err = deps.Store.ListDocuments(limit)
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list documents: %v", err)
			return
		}
		if docs == nil {
			docs = []storage.Document{}
		}
		writeJSON(w, docs)
	}
}

func handleDeleteDocument(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		err := deps.Store.DeleteDocument(id)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "document not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to delete document: %v", err)
			return
		}
		writeJSON(w, map[string]string{"status": "deleted"})
	}
}

func handleGetPreferences(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		prefs, err := deps.Store.AllPreferences()
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get preferences: %v", err)
			return
		}
		writeJSON(w, prefs)
	}
}

func handlePatchPreferences(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

		var fields map[string]string
		if err := json.NewDecoder(r.Body).Decode(&fields); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		for key, value := range fields {
			if err := deps.Store.SetPreference(key, value); err != nil {
				httpError(w, http.StatusInternalServerError, "api_error", "failed to set preference %q: %v", key, err)
				return
			}
		}
		writeJSON(w, map[string]string{"status": "updated"})
	}
}
