package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/guillermoBallester/agentproxy/internal/core/domain"
	"github.com/guillermoBallester/agentproxy/internal/core/service"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// Server metadata
const (
	serverName         = "agentproxy"
	serverInstructions = "agentproxy gates SQL issued by agents. Call sql_preview first: it checks the " +
		"statement against tenant isolation and table policies and records an approval without running it. " +
		"Then call sql_commit with the same sql, actor and tenant_id plus the returned preview_id to execute it."
)

// Tool names
const (
	toolPreview        = "sql_preview"
	toolCommit         = "sql_commit"
	toolQueriesGet     = "queries_get"
	toolPolicyDescribe = "policy_describe"
	toolSchemaDescribe = "schema_describe"
)

// Tool descriptions
const (
	descPreview = "Validate a single SQL statement against the active policy without executing it. " +
		"UPDATE and DELETE need a WHERE clause. Unless tenant_id is \"*\", the statement must reference the tenant column. " +
		"Per-table rules may restrict operations, require filter columns, or deny columns. " +
		"On success returns a preview_id to pass to sql_commit."

	descCommit = "Validate and execute a single SQL statement. The statement is re-checked from scratch. " +
		"Pass the preview_id returned by sql_preview to commit that exact preview; " +
		"the sql, actor and tenant_id must match it and a preview can be committed only once. " +
		"Returns rows_affected and committed_at."

	descQueriesGet = "Fetch the stored record of a previewed or committed statement by its preview_id."

	descPolicyDescribe = "Describe the active table policies: allowed operations, required filters, denied columns and conditions."

	descSchemaDescribe = "List the tables and columns of the connected database. " +
		"Columns denied by policy are flagged so you can avoid them."

	descSQLParam       = "A single SQL statement (SELECT, INSERT, UPDATE or DELETE)"
	descActorParam     = "Identity of the agent issuing the statement"
	descTenantParam    = "Tenant the statement runs for, or \"*\" to skip tenant enforcement"
	descPreviewIDParam = "preview_id returned by sql_preview"
)

func RegisterTools(s *server.MCPServer, query *service.QueryService, logger *slog.Logger) {
	s.AddTool(
		mcp.NewTool(toolPreview,
			mcp.WithDescription(descPreview),
			mcp.WithString("sql", mcp.Required(), mcp.Description(descSQLParam)),
			mcp.WithString("actor", mcp.Required(), mcp.Description(descActorParam)),
			mcp.WithString("tenant_id", mcp.Required(), mcp.Description(descTenantParam)),
		),
		previewHandler(query, logger),
	)

	s.AddTool(
		mcp.NewTool(toolCommit,
			mcp.WithDescription(descCommit),
			mcp.WithString("sql", mcp.Required(), mcp.Description(descSQLParam)),
			mcp.WithString("actor", mcp.Required(), mcp.Description(descActorParam)),
			mcp.WithString("tenant_id", mcp.Required(), mcp.Description(descTenantParam)),
			mcp.WithString("preview_id", mcp.Description(descPreviewIDParam)),
		),
		commitHandler(query, logger),
	)

	s.AddTool(
		mcp.NewTool(toolQueriesGet,
			mcp.WithDescription(descQueriesGet),
			mcp.WithString("id", mcp.Required(), mcp.Description(descPreviewIDParam)),
		),
		queriesGetHandler(query, logger),
	)

	s.AddTool(
		mcp.NewTool(toolPolicyDescribe,
			mcp.WithDescription(descPolicyDescribe),
		),
		policyDescribeHandler(query),
	)

	s.AddTool(
		mcp.NewTool(toolSchemaDescribe,
			mcp.WithDescription(descSchemaDescribe),
		),
		schemaDescribeHandler(query, logger),
	)
}

// sqlRequest reads the statement arguments shared by preview and commit.
func sqlRequest(request mcp.CallToolRequest) (domain.SQLRequest, error) {
	args := request.GetArguments()
	sql, ok := args["sql"].(string)
	if !ok || sql == "" {
		return domain.SQLRequest{}, fmt.Errorf("sql is required")
	}
	actor, _ := args["actor"].(string)
	tenantID, _ := args["tenant_id"].(string)
	previewID, _ := args["preview_id"].(string)

	return domain.SQLRequest{
		SQL:       sql,
		Context:   domain.QueryContext{Actor: actor, TenantID: tenantID},
		PreviewID: previewID,
	}, nil
}

func previewHandler(query *service.QueryService, logger *slog.Logger) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		req, err := sqlRequest(request)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		ctx = service.WithToolName(ctx, toolPreview)
		resp, err := query.Preview(ctx, req)
		if err != nil {
			return mcp.NewToolResultError(service.SanitizeError(ctx, logger, err, toolPreview)), nil
		}
		return jsonResult(resp)
	}
}

func commitHandler(query *service.QueryService, logger *slog.Logger) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		req, err := sqlRequest(request)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		ctx = service.WithToolName(ctx, toolCommit)
		resp, err := query.Commit(ctx, req)
		if err != nil {
			return mcp.NewToolResultError(service.SanitizeError(ctx, logger, err, toolCommit)), nil
		}
		return jsonResult(resp)
	}
}

func queriesGetHandler(query *service.QueryService, logger *slog.Logger) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, ok := request.GetArguments()["id"].(string)
		if !ok || id == "" {
			return mcp.NewToolResultError("id is required"), nil
		}

		rec, err := query.Get(ctx, id)
		if err != nil {
			return mcp.NewToolResultError(service.SanitizeError(ctx, logger, err, toolQueriesGet)), nil
		}
		return jsonResult(rec)
	}
}

func policyDescribeHandler(query *service.QueryService) server.ToolHandlerFunc {
	return func(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return jsonResult(query.Policy())
	}
}

func schemaDescribeHandler(query *service.QueryService, logger *slog.Logger) server.ToolHandlerFunc {
	return func(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		tables, err := query.DescribeSchema(ctx)
		if err != nil {
			return mcp.NewToolResultError(service.SanitizeError(ctx, logger, err, toolSchemaDescribe)), nil
		}
		return jsonResult(tables)
	}
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal results: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}
