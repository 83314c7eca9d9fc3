package api

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/crmpilot/internal/apperr"
	"github.com/kalambet/crmpilot/internal/assist"
	"github.com/kalambet/crmpilot/internal/storage"
)

// CustomerLister is the read side the MCP resources use.
type CustomerLister interface {
	ListCustomers(ctx context.Context, userID string, page storage.Page) ([]storage.Customer, error)
}

// MCPDeps holds dependencies for the MCP server. Every tool acts as UserID.
type MCPDeps struct {
	Store     CustomerLister
	Assistant Assistant // optional; if nil, the AI tools return an error
	UserID    string
}

// NewMCPServer creates an MCP server with the assistant tools and the
// customer list resource registered.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"crmpilot",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("crmpilot: CRM customer insights, follow-up suggestions and interaction summaries."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("generate_insights",
			mcp.WithDescription("Analyze a customer's recent interactions and return short insights."),
			mcp.WithString("customer_id", mcp.Description("Customer ID"), mcp.Required()),
		),
		mcpCustomerIntent(deps, func(id string) assist.Intent { return assist.GenerateInsights{CustomerID: id} }),
	)

	s.AddTool(
		mcp.NewTool("suggest_tasks",
			mcp.WithDescription("Suggest one or two follow-up actions for a customer."),
			mcp.WithString("customer_id", mcp.Description("Customer ID"), mcp.Required()),
		),
		mcpCustomerIntent(deps, func(id string) assist.Intent { return assist.SuggestTasks{CustomerID: id} }),
	)

	s.AddTool(
		mcp.NewTool("summarize_interaction",
			mcp.WithDescription("Summarize interaction notes into two or three key points."),
			mcp.WithString("details", mcp.Description("Free-text interaction notes"), mcp.Required()),
		),
		mcpSummarize(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"crm://customers",
			"Customers",
			mcp.WithResourceDescription("The user's customers as JSON"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceCustomers(deps),
	)

	return s
}

func mcpCustomerIntent(deps MCPDeps, build func(customerID string) assist.Intent) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("customer_id")
		if err != nil || id == "" {
			return mcpError("customer_id is required"), nil
		}
		return mcpRun(ctx, deps, build(id)), nil
	}
}

func mcpSummarize(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		details, err := req.RequireString("details")
		if err != nil {
			return mcpError("details is required"), nil
		}
		return mcpRun(ctx, deps, assist.SummarizeInteraction{Details: details}), nil
	}
}

func mcpRun(ctx context.Context, deps MCPDeps, in assist.Intent) *mcp.CallToolResult {
	if deps.Assistant == nil {
		return mcpError("AI assistance is not configured")
	}
	res, err := deps.Assistant.Run(ctx, deps.UserID, in)
	if err != nil {
		return mcpError(apperr.PublicMessage(err))
	}
	return mcpText(res.Text)
}

func mcpResourceCustomers(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		customers, err := deps.Store.ListCustomers(ctx, deps.UserID, storage.Page{})
		if err != nil {
			return nil, fmt.Errorf("failed to list customers: %w", err)
		}

		b, err := json.Marshal(customers)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal customers: %w", err)
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

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
