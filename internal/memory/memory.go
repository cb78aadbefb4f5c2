// Package memory assembles the auxiliary context a pipeline run draws on:
// earlier messages in the thread or from the client, agent preferences, and
// stored client documents.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/tripdesk/replyd/internal/pipeline"
	"github.com/tripdesk/replyd/internal/storage"
)

const (
	defaultPriorMessages = 5
	defaultDocuments     = 3
	maxDocumentExcerpt   = 2000
)

// ContextStore is the slice of storage the provider reads.
type ContextStore interface {
	ListExchangesByClient(clientID string, limit int) ([]storage.Exchange, error)
	ListExchangesByThread(threadID string, limit int) ([]storage.Exchange, error)
	ListDocumentsByClient(clientID string, limit int) ([]storage.Document, error)
	AllPreferences() (map[string]string, error)
}

// Provider loads pipeline context from the CRM store.
type Provider struct {
	store ContextStore
}

// NewProvider creates a Provider backed by the given store.
func NewProvider(store ContextStore) *Provider {
	return &Provider{store: store}
}

// Fetch loads prior messages, preferences, and document excerpts for the
// given identifiers. The three reads run concurrently. Fetch degrades
// gracefully: a failed read is logged and its section left empty — an
// incomplete context must never block a pipeline run.
func (p *Provider) Fetch(ctx context.Context, clientID, requestID, threadID string) (*pipeline.Context, error) {
	out := &pipeline.Context{
		ClientID:  clientID,
		RequestID: requestID,
	}

	g, _ := errgroup.WithContext(ctx)

	g.Go(func() error {
		prefs, err := p.store.AllPreferences()
		if err != nil {
			slog.Warn("memory: failed to load preferences", "error", err)
			return nil
		}
		out.Preferences = prefs
		return nil
	})

	g.Go(func() error {
		exchanges, err := p.priorExchanges(clientID, threadID)
		if err != nil {
			slog.Warn("memory: failed to load prior exchanges", "error", err)
			return nil
		}
		for _, e := range exchanges {
			out.PriorMessages = append(out.PriorMessages, exchangeMessage(e))
		}
		return nil
	})

	g.Go(func() error {
		if clientID == "" {
			return nil
		}
		docs, err := p.store.ListDocumentsByClient(clientID, defaultDocuments)
		if err != nil {
			slog.Warn("memory: failed to load documents", "error", err)
			return nil
		}
		for _, d := range docs {
			out.Documents = append(out.Documents, excerpt(d))
		}
		return nil
	})

	// Readers swallow their own errors; Wait only synchronizes.
	g.Wait()
	return out, nil
}

// priorExchanges prefers thread history over general client history.
func (p *Provider) priorExchanges(clientID, threadID string) ([]storage.Exchange, error) {
	if threadID != "" {
		return p.store.ListExchangesByThread(threadID, defaultPriorMessages)
	}
	if clientID != "" {
		return p.store.ListExchangesByClient(clientID, defaultPriorMessages)
	}
	return nil, nil
}

func exchangeMessage(e storage.Exchange) pipeline.InboundMessage {
	var recipients []string
	if e.Recipients != "" {
		json.Unmarshal([]byte(e.Recipients), &recipients)
	}
	return pipeline.InboundMessage{
		Subject:    e.Subject,
		Body:       e.Body,
		Sender:     e.Sender,
		Recipients: recipients,
		ThreadID:   e.ThreadID,
	}
}

func excerpt(d storage.Document) string {
	content := d.Content
	if len(content) > maxDocumentExcerpt {
		content = content[:maxDocumentExcerpt]
	}
	return fmt.Sprintf("%s:\n%s", d.Title, content)
}
