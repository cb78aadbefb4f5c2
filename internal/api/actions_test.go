package api

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
)

func noopAction(ctx context.Context, params json.RawMessage) (any, error) {
	return nil, nil
}

func fullActionMap() map[string]ActionFunc {
	return map[string]ActionFunc{
		ActionDraftReply:   noopAction,
		ActionSaveExchange: noopAction,
		ActionFetchContext: noopAction,
	}
}

func TestNewActionSetRejectsUnknownName(t *testing.T) {
	handlers := fullActionMap()
	handlers["send_email"] = noopAction

	if _, err := NewActionSet(handlers); err == nil {
		t.Fatal("expected error for unknown action name")
	}
}

func TestNewActionSetRequiresAllHandlers(t *testing.T) {
	handlers := fullActionMap()
	delete(handlers, ActionFetchContext)

	if _, err := NewActionSet(handlers); err == nil {
		t.Fatal("expected error for missing handler")
	}
}

func TestDispatchUnknownName(t *testing.T) {
	set, err := NewActionSet(fullActionMap())
	if err != nil {
		t.Fatalf("building action set: %v", err)
	}

	_, err = set.Dispatch(context.Background(), "send_email", nil)
	var unknown ErrUnknownAction
	if !errors.As(err, &unknown) {
		t.Fatalf("expected ErrUnknownAction, got %v", err)
	}
	if unknown.Name != "send_email" {
		t.Errorf("expected name in error, got %q", unknown.Name)
	}
}

func TestDispatchRoutesToHandler(t *testing.T) {
	called := ""
	handlers := fullActionMap()
	handlers[ActionFetchContext] = func(ctx context.Context, params json.RawMessage) (any, error) {
		called = string(params)
		return map[string]string{"ok": "yes"}, nil
	}

	set, err := NewActionSet(handlers)
	if err != nil {
		t.Fatalf("building action set: %v", err)
	}

	result, err := set.Dispatch(context.Background(), ActionFetchContext, json.RawMessage(`{"client_id":"c1"}`))
	if err != nil {
		t.Fatalf("dispatch failed: %v", err)
	}
	if called != `{"client_id":"c1"}` {
		t.Errorf("handler did not receive params: %q", called)
	}
	if m, ok := result.(map[string]string); !ok || m["ok"] != "yes" {
		t.Errorf("unexpected result: %+v", result)
	}
}

func TestNamesSorted(t *testing.T) {
	set, err := NewActionSet(fullActionMap())
	if err != nil {
		t.Fatalf("building action set: %v", err)
	}

	names := set.Names()
	want := []string{ActionDraftReply, ActionFetchContext, ActionSaveExchange}
	if len(names) != len(want) {
		t.Fatalf("expected %d names, got %d", len(want), len(names))
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("names[%d] = %q, want %q", i, names[i], want[i])
		}
	}
}
