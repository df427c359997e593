package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"
)

type statusInput struct{}

type searchInput struct {
	Query   string            `json:"query" jsonschema:"Free-text query matched against indexed documents"`
	Filters map[string]string `json:"filters,omitempty" jsonschema:"Metadata equality filters, e.g. {\"file_type\": \"python\"}"`
}

type enforceInput struct {
	FilePath string `json:"file_path,omitempty" jsonschema:"File to scan and fix, relative to the platform root. Empty scans the whole root."`
}

type queryInput struct {
	Query  string         `json:"query" jsonschema:"Store-native query: SQL for sqlite stores, a table name for memory stores, free text for vector stores"`
	Params map[string]any `json:"params,omitempty" jsonschema:"Query parameters. Set collection plus routing_key to route to a single store; otherwise the query fans out to every online store."`
}

type jobInput struct {
	Input  string `json:"input" jsonschema:"Path of the file the worker processes"`
	Output string `json:"output,omitempty" jsonschema:"Output directory. Empty uses a temporary directory."`
}

func (s *Server) registerTools(enableJobs bool) {
	addTool(s, &mcp.Tool{
		Name:        "federated_status",
		Description: "Report platform state, store availability, search index size and rule remediation counters.",
	}, func(ctx context.Context, _ statusInput) (any, string, error) {
		st, err := s.daemon.Status(ctx)
		if err != nil {
			return nil, "", err
		}
		return st, fmt.Sprintf("Platform %s: %d/%d stores online, %d documents indexed",
			st.Status, st.DatabasesOnline, st.DatabasesTotal, st.SearchStats.TotalDocuments), nil
	})

	addTool(s, &mcp.Tool{
		Name:        "federated_search",
		Description: "Search the sharded document index. Results are ranked by score across all shards.",
	}, func(ctx context.Context, args searchInput) (any, string, error) {
		if strings.TrimSpace(args.Query) == "" {
			return nil, "", fmt.Errorf("query is required")
		}
		results, err := s.daemon.Search(ctx, args.Query, args.Filters)
		if err != nil {
			return nil, "", err
		}
		return results, fmt.Sprintf("Found %d results for %q", len(results), args.Query), nil
	})

	addTool(s, &mcp.Tool{
		Name:        "federated_enforce",
		Description: "Scan files for rule violations and apply available fixes in place.",
	}, func(ctx context.Context, args enforceInput) (any, string, error) {
		outcome, err := s.daemon.Enforce(ctx, args.FilePath)
		if err != nil {
			return nil, "", err
		}
		return outcome, fmt.Sprintf("Fixed %d, failed %d, skipped %d", outcome.Fixed, outcome.Failed, outcome.Skipped), nil
	})

	addTool(s, &mcp.Tool{
		Name:        "federated_query",
		Description: "Run a query against the store federation, either routed to one store or fanned out to all online stores.",
	}, func(ctx context.Context, args queryInput) (any, string, error) {
		if strings.TrimSpace(args.Query) == "" {
			return nil, "", fmt.Errorf("query is required")
		}
		rows, err := s.daemon.Query(ctx, args.Query, args.Params)
		if err != nil {
			return nil, "", err
		}
		return rows, fmt.Sprintf("%d rows", len(rows)), nil
	})

	if !enableJobs {
		return
	}
	addTool(s, &mcp.Tool{
		Name:        "federated_run_job",
		Description: "Run the configured external worker on an input file and return its structured result.",
	}, func(ctx context.Context, args jobInput) (any, string, error) {
		if strings.TrimSpace(args.Input) == "" {
			return nil, "", fmt.Errorf("input is required")
		}
		res, err := s.daemon.RunJob(ctx, args.Input, args.Output)
		if err != nil {
			return nil, "", err
		}
		if !res.Success {
			return res, fmt.Sprintf("Job %s failed: %s", res.JobID, res.Error), nil
		}
		return res, fmt.Sprintf("Job %s produced %d files", res.JobID, len(res.OutputFiles)), nil
	})
}

// addTool registers fn with metrics and renders its value as a summary line
// followed by indented JSON.
func addTool[In any](s *Server, tool *mcp.Tool, fn func(ctx context.Context, args In) (any, string, error)) {
	mcp.AddTool(s.mcp, tool, func(ctx context.Context, _ *mcp.CallToolRequest, args In) (*mcp.CallToolResult, any, error) {
		start := time.Now()
		s.metrics.IncrementActive(ctx, tool.Name)
		out, summary, err := fn(ctx, args)
		s.metrics.DecrementActive(ctx, tool.Name)
		s.metrics.RecordInvocation(ctx, tool.Name, time.Since(start), err)
		if err != nil {
			s.logger.Warn(ctx, "tool call failed", zap.String("tool", tool.Name), zap.Error(err))
			return nil, nil, err
		}

		data, err := json.MarshalIndent(out, "", "  ")
		if err != nil {
			return nil, nil, fmt.Errorf("encode result: %w", err)
		}
		return &mcp.CallToolResult{
			Content: []mcp.Content{
				&mcp.TextContent{Text: summary},
				&mcp.TextContent{Text: string(data)},
			},
		}, nil, nil
	})
}
