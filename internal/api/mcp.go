package api

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/cybermentor/internal/ingest"
	"github.com/kalambet/cybermentor/internal/retrieval"
	"github.com/kalambet/cybermentor/internal/router"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Router    Asker
	Retriever Searcher
	Store     Store
}

// NewMCPServer creates an MCP server with the cybermentor tools and
// resources registered.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"cybermentor",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("cybermentor: penetration testing advisor backed by a local security knowledge base."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("ask",
			mcp.WithDescription("Ask the pentest advisor. Depending on the request it answers from the knowledge base, produces a staged test plan, or runs nmap, sqlmap or dirsearch."),
			mcp.WithString("question", mcp.Description("The request in natural language"), mcp.Required()),
			mcp.WithArray("sources", mcp.Description("Optional source names to restrict the knowledge base to")),
		),
		mcpAsk(deps),
	)

	s.AddTool(
		mcp.NewTool("search_knowledge",
			mcp.WithDescription("Search the knowledge base. Vulnerability identifiers such as CVE-2021-41773 are matched exactly before semantic results."),
			mcp.WithString("query", mcp.Description("Search query"), mcp.Required()),
			mcp.WithArray("sources", mcp.Description("Optional source names to restrict the search to")),
		),
		mcpSearch(deps),
	)

	s.AddTool(
		mcp.NewTool("add_knowledge",
			mcp.WithDescription("Queue text or a web page for indexing into the knowledge base."),
			mcp.WithString("source", mcp.Description("Source name, e.g. owasp-top10.md")),
			mcp.WithString("content", mcp.Description("Text to index")),
			mcp.WithString("url", mcp.Description("URL to fetch and index instead of content")),
			mcp.WithString("summary", mcp.Description("Optional short description of the source")),
		),
		mcpAddKnowledge(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"sources://list",
			"Knowledge Sources",
			mcp.WithResourceDescription("Indexed knowledge sources as JSON"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceSources(deps),
	)

	return s
}

func sourcesArg(req mcp.CallToolRequest) []retrieval.Source {
	names := req.GetStringSlice("sources", nil)
	out := make([]retrieval.Source, 0, len(names))
	for _, n := range names {
		out = append(out, retrieval.Source{Name: n})
	}
	return out
}

func mcpAsk(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		question, err := req.RequireString("question")
		if err != nil {
			return mcpError("question is required"), nil
		}

		resp, err := deps.Router.Route(ctx, router.Request{
			UserInput:       question,
			SelectedSources: sourcesArg(req),
		})
		if err != nil {
			return mcpError(fmt.Sprintf("ask failed: %v", err)), nil
		}

		if resp.Strategy == router.StrategyPipeline {
			b, err := json.Marshal(resp.Plan)
			if err != nil {
				return mcpError(fmt.Sprintf("failed to marshal plan: %v", err)), nil
			}
			return mcpText(string(b)), nil
		}
		return mcpText(resp.Text()), nil
	}
}

func mcpSearch(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query, err := req.RequireString("query")
		if err != nil {
			return mcpError("query is required"), nil
		}

		res, err := deps.Retriever.Retrieve(ctx, query, sourcesArg(req))
		if err != nil {
			return mcpError(fmt.Sprintf("search failed: %v", err)), nil
		}
		if res.NoMatchingSources {
			return mcpText(retrieval.NoResultsText), nil
		}

		b, err := json.Marshal(toChunkResults(res))
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal results: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpAddKnowledge(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := ingest.Submit(ctx, deps.Store, ingest.Request{
			Source:  req.GetString("source", ""),
			Content: req.GetString("content", ""),
			URL:     req.GetString("url", ""),
			Summary: req.GetString("summary", ""),
		})
		if err != nil {
			return mcpError(err.Error()), nil
		}
		return mcpText(fmt.Sprintf("Queued indexing job %s", id)), nil
	}
}

func mcpResourceSources(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		sources, err := deps.Store.ListSources(ctx, "")
		if err != nil {
			return nil, fmt.Errorf("failed to list sources: %w", err)
		}

		out := make([]sourceResult, len(sources))
		for i, s := range sources {
			out[i] = toSourceResult(s)
		}
		b, err := json.Marshal(out)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal sources: %w", err)
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
