package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/guillermoBallester/agentproxy/internal/audit"
	"github.com/guillermoBallester/agentproxy/internal/core/domain"
	"github.com/guillermoBallester/agentproxy/internal/core/port"
	"github.com/guillermoBallester/agentproxy/internal/core/service"
	"github.com/guillermoBallester/agentproxy/internal/store"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- mock StatementExecutor ---

type mockExecutor struct {
	rows    int64
	err     error
	lastSQL string // captures the SQL passed to Execute
}

func (m *mockExecutor) Execute(_ context.Context, sql string) (int64, error) {
	m.lastSQL = sql
	return m.rows, m.err
}

// --- mock SchemaDescriber ---

type mockDescriber struct {
	tables []port.TableSchema
	err    error
}

func (m *mockDescriber) DescribeSchema(context.Context) ([]port.TableSchema, error) {
	return m.tables, m.err
}

// --- helpers ---

func callTool(t *testing.T, s *server.MCPServer, toolName string, args map[string]any) *mcp.CallToolResult {
	t.Helper()
	ctx := context.Background()
	session := server.NewInProcessSession("test", nil)
	require.NoError(t, s.RegisterSession(ctx, session))
	sessionCtx := s.WithContext(ctx, session)

	// Initialize session.
	initBytes, _ := json.Marshal(map[string]any{
		"jsonrpc": "2.0", "id": "init", "method": "initialize",
		"params": map[string]any{
			"protocolVersion": "2025-03-26",
			"capabilities":    map[string]any{},
			"clientInfo":      map[string]any{"name": "test", "version": "1.0"},
		},
	})
	s.HandleMessage(sessionCtx, initBytes)

	// Call tool.
	reqBytes, _ := json.Marshal(map[string]any{
		"jsonrpc": "2.0", "id": "call-1", "method": "tools/call",
		"params": map[string]any{
			"name":      toolName,
			"arguments": args,
		},
	})
	resp := s.HandleMessage(sessionCtx, reqBytes)
	respBytes, _ := json.Marshal(resp)

	var rpc struct {
		Result *mcp.CallToolResult       `json:"result"`
		Error  *struct{ Message string } `json:"error,omitempty"`
	}
	require.NoError(t, json.Unmarshal(respBytes, &rpc))
	require.Nil(t, rpc.Error, "unexpected RPC error: %v", rpc.Error)
	require.NotNil(t, rpc.Result)
	return rpc.Result
}

func toolText(result *mcp.CallToolResult) string {
	if len(result.Content) == 0 {
		return ""
	}
	tc, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		return ""
	}
	return tc.Text
}

func testPolicy(t *testing.T) *domain.PolicyConfig {
	t.Helper()
	cond, err := domain.NewCondition(`request.actor.startsWith("agent:")`)
	require.NoError(t, err)
	return &domain.PolicyConfig{Tables: map[string]domain.TablePolicy{
		"users": {
			AllowOps:    []domain.Operation{domain.OpSelect, domain.OpUpdate},
			DenyColumns: []string{"ssn"},
			Condition:   cond,
		},
	}}
}

func newQueryService(t *testing.T, executor *mockExecutor, describer *mockDescriber) *service.QueryService {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	var opts []service.Option
	if executor != nil {
		opts = append(opts, service.WithExecutor(executor))
	}
	if describer != nil {
		opts = append(opts, service.WithDescriber(describer))
	}
	return service.NewQueryService(
		domain.NewPgQueryAnalyzer(),
		domain.NewRuleEvaluator(""),
		testPolicy(t),
		store.NewMemoryStore(),
		audit.NoopAuditor{},
		logger,
		opts...,
	)
}

func setupServer(t *testing.T, executor *mockExecutor, describer *mockDescriber) *server.MCPServer {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s := server.NewMCPServer("test", "0.1.0", server.WithToolCapabilities(true))
	RegisterTools(s, newQueryService(t, executor, describer), logger)
	return s
}

func stmtArgs(sql string) map[string]any {
	return map[string]any{"sql": sql, "actor": "agent:test", "tenant_id": "t1"}
}

func decode[T any](t *testing.T, result *mcp.CallToolResult) T {
	t.Helper()
	require.False(t, result.IsError, "unexpected tool error: %s", toolText(result))
	var v T
	require.NoError(t, json.Unmarshal([]byte(toolText(result)), &v))
	return v
}

// --- tests ---

func TestPreview_HappyPath(t *testing.T) {
	executor := &mockExecutor{}
	s := setupServer(t, executor, nil)

	result := callTool(t, s, toolPreview, stmtArgs("SELECT id FROM users WHERE tenant_id = 't1'"))
	resp := decode[domain.PreviewResponse](t, result)

	assert.True(t, resp.OK)
	assert.NotEmpty(t, resp.PreviewID)
	assert.Equal(t, domain.OpSelect, resp.Operation)
	assert.Equal(t, []string{"users"}, resp.Tables)
	assert.Empty(t, resp.Warnings)
	assert.Empty(t, executor.lastSQL, "preview must not execute")
}

func TestPreview_DryRunWarning(t *testing.T) {
	s := setupServer(t, nil, nil)

	resp := decode[domain.PreviewResponse](t, callTool(t, s, toolPreview, stmtArgs("SELECT id FROM users WHERE tenant_id = 't1'")))
	assert.Equal(t, []string{service.DryRunWarning}, resp.Warnings)
}

func TestPreview_MissingSQL(t *testing.T) {
	s := setupServer(t, nil, nil)

	result := callTool(t, s, toolPreview, map[string]any{"actor": "a", "tenant_id": "t1"})
	assert.True(t, result.IsError)
	assert.Contains(t, toolText(result), "sql is required")
}

func TestPreview_Rejections(t *testing.T) {
	s := setupServer(t, nil, nil)

	tests := map[string]struct {
		sql      string
		contains string
	}{
		"missing where":   {"DELETE FROM users", "WHERE clause"},
		"missing tenant":  {"SELECT id FROM users", "tenant filter missing"},
		"op not allowed":  {"DELETE FROM users WHERE tenant_id = 't1'", "operation not allowed"},
		"denied column":   {"SELECT ssn FROM users WHERE tenant_id = 't1'", "ssn"},
		"multi statement": {"SELECT 1; SELECT 2", "only single-statement"},
		"destructive":     {"DROP TABLE users", "destructive"},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			result := callTool(t, s, toolPreview, stmtArgs(tt.sql))
			assert.True(t, result.IsError)
			assert.Contains(t, toolText(result), tt.contains)
		})
	}
}

func TestPreview_ConditionNotMet(t *testing.T) {
	s := setupServer(t, nil, nil)

	result := callTool(t, s, toolPreview, map[string]any{
		"sql": "SELECT id FROM users WHERE tenant_id = 't1'", "actor": "human", "tenant_id": "t1",
	})
	assert.True(t, result.IsError)
	assert.Contains(t, toolText(result), "policy condition not satisfied")
}

func TestCommit_BoundToPreview(t *testing.T) {
	executor := &mockExecutor{rows: 3}
	s := setupServer(t, executor, nil)
	sql := "UPDATE users SET name = 'x' WHERE tenant_id = 't1'"

	preview := decode[domain.PreviewResponse](t, callTool(t, s, toolPreview, stmtArgs(sql)))

	args := stmtArgs(sql)
	args["preview_id"] = preview.PreviewID
	commit := decode[domain.CommitResponse](t, callTool(t, s, toolCommit, args))

	assert.True(t, commit.OK)
	assert.Equal(t, preview.PreviewID, commit.PreviewID)
	assert.Equal(t, int64(3), commit.RowsAffected)
	assert.False(t, commit.CommittedAt.IsZero())
	assert.Equal(t, sql, executor.lastSQL)

	// Second commit of the same preview is a conflict.
	result := callTool(t, s, toolCommit, args)
	assert.True(t, result.IsError)
	assert.Contains(t, toolText(result), "already committed")

	rec := decode[domain.QueryRecord](t, callTool(t, s, toolQueriesGet, map[string]any{"id": preview.PreviewID}))
	assert.Equal(t, domain.StatusCommitted, rec.Status)
	assert.Equal(t, int64(3), rec.RowsAffected)
}

func TestCommit_WithoutPreviewID(t *testing.T) {
	executor := &mockExecutor{rows: 1}
	s := setupServer(t, executor, nil)

	commit := decode[domain.CommitResponse](t, callTool(t, s, toolCommit, stmtArgs("UPDATE users SET name = 'x' WHERE tenant_id = 't1' AND id = 1")))
	assert.NotEmpty(t, commit.PreviewID)
	assert.Equal(t, int64(1), commit.RowsAffected)
}

func TestCommit_UnknownPreview(t *testing.T) {
	s := setupServer(t, &mockExecutor{}, nil)

	args := stmtArgs("SELECT id FROM users WHERE tenant_id = 't1'")
	args["preview_id"] = "0190c7a4-0000-7000-8000-000000000000"
	result := callTool(t, s, toolCommit, args)
	assert.True(t, result.IsError)
	assert.Contains(t, toolText(result), "preview not found")
}

func TestCommit_BackendErrorSanitized(t *testing.T) {
	executor := &mockExecutor{err: fmt.Errorf("relation OID 12345 vanished")}
	s := setupServer(t, executor, nil)

	result := callTool(t, s, toolCommit, stmtArgs("SELECT id FROM users WHERE tenant_id = 't1'"))
	assert.True(t, result.IsError)
	assert.Contains(t, toolText(result), "internal error")
	assert.NotContains(t, toolText(result), "OID")
}

func TestQueriesGet(t *testing.T) {
	s := setupServer(t, nil, nil)
	preview := decode[domain.PreviewResponse](t, callTool(t, s, toolPreview, stmtArgs("SELECT id FROM users WHERE tenant_id = 't1'")))

	rec := decode[domain.QueryRecord](t, callTool(t, s, toolQueriesGet, map[string]any{"id": preview.PreviewID}))
	assert.Equal(t, preview.PreviewID, rec.ID)
	assert.Equal(t, domain.StatusPreviewed, rec.Status)
	assert.Equal(t, "agent:test", rec.Actor)

	result := callTool(t, s, toolQueriesGet, map[string]any{"id": "missing"})
	assert.True(t, result.IsError)
	assert.Contains(t, toolText(result), "not found")

	result = callTool(t, s, toolQueriesGet, map[string]any{})
	assert.True(t, result.IsError)
	assert.Contains(t, toolText(result), "id is required")
}

func TestPolicyDescribe(t *testing.T) {
	s := setupServer(t, nil, nil)

	var policy map[string]map[string]map[string]any
	require.NoError(t, json.Unmarshal([]byte(toolText(callTool(t, s, toolPolicyDescribe, nil))), &policy))

	users := policy["tables"]["users"]
	assert.Equal(t, []any{"select", "update"}, users["allow_ops"])
	assert.Equal(t, []any{"ssn"}, users["deny_columns"])
	assert.Equal(t, `request.actor.startsWith("agent:")`, users["condition"])
}

func TestSchemaDescribe(t *testing.T) {
	describer := &mockDescriber{tables: []port.TableSchema{
		{Schema: "public", Name: "users", Columns: []port.ColumnSchema{{Name: "id", DataType: "integer"}}},
	}}
	s := setupServer(t, &mockExecutor{}, describer)

	tables := decode[[]port.TableSchema](t, callTool(t, s, toolSchemaDescribe, nil))
	require.Len(t, tables, 1)
	assert.Equal(t, "users", tables[0].Name)
}

func TestSchemaDescribe_DryRun(t *testing.T) {
	s := setupServer(t, nil, nil)

	result := callTool(t, s, toolSchemaDescribe, nil)
	assert.True(t, result.IsError)
	assert.Contains(t, toolText(result), "no database configured")
}

func TestSchemaDescribe_ErrorSanitized(t *testing.T) {
	s := setupServer(t, &mockExecutor{}, &mockDescriber{err: fmt.Errorf("permission denied for pg_class")})

	result := callTool(t, s, toolSchemaDescribe, nil)
	assert.True(t, result.IsError)
	assert.Contains(t, toolText(result), "internal error")
}

// --- hooks ---

type recordingInst struct {
	port.NoopInstrumentation
	toolCalls int
}

func (r *recordingInst) RecordToolDuration(context.Context, float64) { r.toolCalls++ }

func TestNewServer_HooksLogToolCalls(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	inst := &recordingInst{}
	s := NewServer("test", newQueryService(t, nil, nil), logger, nil, inst)

	callTool(t, s, toolPreview, stmtArgs("SELECT id FROM users WHERE tenant_id = 't1'"))
	callTool(t, s, toolPreview, stmtArgs("DELETE FROM users"))

	logs := buf.String()
	assert.Contains(t, logs, `"msg":"tool call"`)
	assert.Contains(t, logs, `"mcp.tool":"sql_preview"`)
	assert.Contains(t, logs, `"level":"WARN"`)
	assert.Contains(t, logs, `"rejected":true`)
	assert.Equal(t, 2, inst.toolCalls)
}
