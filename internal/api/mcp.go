package api

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/tripdesk/replyd/internal/pipeline"
	"github.com/tripdesk/replyd/internal/storage"
)

// NewMCPServer creates an MCP server exposing the reply pipeline and the
// CRM collaborators as tools, for agent frontends speaking MCP over stdio.
func NewMCPServer(deps Deps) *server.MCPServer {
	s := server.NewMCPServer(
		"replyd",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("replyd — travel agency email reply drafting with staged quality review."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("draft_reply",
			mcp.WithDescription("Run the reply pipeline against an inbound client email and return the run verdict with any approved draft."),
			mcp.WithString("subject", mcp.Description("Email subject"), mcp.Required()),
			mcp.WithString("body", mcp.Description("Email body"), mcp.Required()),
			mcp.WithString("sender", mcp.Description("Sender address")),
			mcp.WithString("client_id", mcp.Description("CRM client identifier, enables stored context lookup")),
			mcp.WithString("thread_id", mcp.Description("Email thread identifier")),
		),
		mcpDraftReply(deps),
	)

	s.AddTool(
		mcp.NewTool("add_document",
			mcp.WithDescription("Store a client context document (itinerary, booking confirmation, notes) for future draft grounding."),
			mcp.WithString("title", mcp.Description("Document title")),
			mcp.WithString("content", mcp.Description("Plain text content"), mcp.Required()),
			mcp.WithString("client_id", mcp.Description("CRM client identifier")),
		),
		mcpAddDocument(deps),
	)

	s.AddTool(
		mcp.NewTool("set_preference",
			mcp.WithDescription("Update an agent drafting preference (e.g. signature, tone)."),
			mcp.WithString("key", mcp.Description("Preference key"), mcp.Required()),
			mcp.WithString("value", mcp.Description("Value to set"), mcp.Required()),
		),
		mcpSetPreference(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"crm://recent-exchanges",
			"Recent Exchanges",
			mcp.WithResourceDescription("Most recent email exchanges with pipeline verdicts, as JSON"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceRecent(deps),
	)

	return s
}

func mcpDraftReply(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		subject, err := req.RequireString("subject")
		if err != nil {
			return mcpError("subject is required"), nil
		}
		body, err := req.RequireString("body")
		if err != nil {
			return mcpError("body is required"), nil
		}

		replyReq := ReplyRequest{
			OriginalEmail: pipeline.InboundMessage{
				Subject:  subject,
				Body:     body,
				Sender:   req.GetString("sender", ""),
				ThreadID: req.GetString("thread_id", ""),
			},
			ClientID: req.GetString("client_id", ""),
		}
		if err := replyReq.OriginalEmail.Validate(); err != nil {
			return mcpError(fmt.Sprintf("invalid email: %v", err)), nil
		}

		run := runReply(ctx, deps, replyReq)

		b, err := json.Marshal(run)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal run: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpAddDocument(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		content, err := req.RequireString("content")
		if err != nil {
			return mcpError("content is required"), nil
		}

		doc := storage.Document{
			ID:        uuid.New().String(),
			ClientID:  req.GetString("client_id", ""),
			Title:     req.GetString("title", ""),
			Content:   content,
			Source:    "mcp",
			Kind:      "text",
			CreatedAt: time.Now().UTC(),
		}
		if err := deps.Store.SaveDocument(doc); err != nil {
			return mcpError(fmt.Sprintf("failed to save document: %v", err)), nil
		}

		return mcpText(fmt.Sprintf("Stored document %s", doc.ID)), nil
	}
}

func mcpSetPreference(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		key, err := req.RequireString("key")
		if err != nil {
			return mcpError("key is required"), nil
		}
		value, err := req.RequireString("value")
		if err != nil {
			return mcpError("value is required"), nil
		}

		if err := deps.Store.SetPreference(key, value); err != nil {
			return mcpError(fmt.Sprintf("failed to set preference: %v", err)), nil
		}
		return mcpText(fmt.Sprintf("Set %s = %s", key, value)), nil
	}
}

func mcpResourceRecent(deps Deps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		exchanges, err := deps.Store.ListExchanges(10)
		if err != nil {
			return nil, fmt.Errorf("failed to list exchanges: %w", err)
		}

		summaries := make([]exchangeSummary, len(exchanges))
		for i, e := range exchanges {
			if utf8.RuneCountInString(e.Subject) > 200 {
				runes := []rune(e.Subject)
				e.Subject = string(runes[:200]) + "..."
			}
			summaries[i] = summarizeExchange(e)
		}

		b, err := json.Marshal(summaries)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal exchanges: %w", err)
		}

		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(message string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		IsError: true,
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: message},
		},
	}
}
