package api

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
)

// Action names accepted by the dispatch endpoint. The set is closed: a
// handler map is validated against it at construction time, so an
// unregistered or unknown action can never be invoked.
const (
	ActionDraftReply   = "draft_reply"
	ActionSaveExchange = "save_exchange"
	ActionFetchContext = "fetch_context"
)

var knownActions = map[string]bool{
	ActionDraftReply:   true,
	ActionSaveExchange: true,
	ActionFetchContext: true,
}

// ActionFunc executes one named action against raw JSON parameters.
type ActionFunc func(ctx context.Context, params json.RawMessage) (any, error)

// ActionSet is a validated action name to handler table.
type ActionSet struct {
	handlers map[string]ActionFunc
}

// NewActionSet builds the dispatch table. Every known action must have a
// handler and no handler may target an unknown action.
func NewActionSet(handlers map[string]ActionFunc) (*ActionSet, error) {
	for name := range handlers {
		if !knownActions[name] {
			return nil, fmt.Errorf("unknown action %q", name)
		}
	}
	for name := range knownActions {
		if handlers[name] == nil {
			return nil, fmt.Errorf("no handler for action %q", name)
		}
	}
	return &ActionSet{handlers: handlers}, nil
}

// ErrUnknownAction reports a dispatch against a name outside the closed set.
type ErrUnknownAction struct {
	Name string
}

func (e ErrUnknownAction) Error() string {
	return fmt.Sprintf("unknown action %q", e.Name)
}

// Dispatch runs the named action.
func (s *ActionSet) Dispatch(ctx context.Context, name string, params json.RawMessage) (any, error) {
	fn, ok := s.handlers[name]
	if !ok {
		return nil, ErrUnknownAction{Name: name}
	}
	return fn(ctx, params)
}

// Names lists the registered actions in stable order.
func (s *ActionSet) Names() []string {
	names := make([]string, 0, len(s.handlers))
	for name := range s.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
