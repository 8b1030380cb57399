package mcp

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/guillermoBallester/agentproxy/internal/core/port"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// callState holds per-request timing and span data.
type callState struct {
	start time.Time
	span  trace.Span
}

// callKey scopes a JSON-RPC request id to its client session. Sessions on
// the streamable HTTP transport each number their requests from 1.
type callKey struct {
	session string
	id      any
}

func keyFor(ctx context.Context, id any) callKey {
	k := callKey{id: id}
	if session := server.ClientSessionFromContext(ctx); session != nil {
		k.session = session.SessionID()
	}
	return k
}

// ToolCallHooks creates MCP hooks that log tool calls and optionally record
// OTel spans and tool duration. A tool result flagged IsError is a rejected
// call, not a server fault, so it is logged at warn level with its message.
func ToolCallHooks(logger *slog.Logger, tracer trace.Tracer, inst port.Instrumentation) *server.Hooks {
	hooks := &server.Hooks{}
	var calls sync.Map // callKey -> *callState

	finish := func(ctx context.Context, id any) (time.Duration, trace.Span) {
		v, ok := calls.LoadAndDelete(keyFor(ctx, id))
		if !ok {
			return 0, nil
		}
		state := v.(*callState)
		duration := time.Since(state.start)
		if inst != nil {
			inst.RecordToolDuration(ctx, float64(duration.Milliseconds()))
		}
		return duration, state.span
	}

	hooks.AddBeforeCallTool(func(ctx context.Context, id any, req *mcp.CallToolRequest) {
		state := &callState{start: time.Now()}

		if tracer != nil {
			_, span := tracer.Start(ctx, "mcp.tools.call",
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(
					attribute.String("mcp.tool", req.Params.Name),
				),
			)
			state.span = span
		}

		calls.Store(keyFor(ctx, id), state)
	})

	hooks.AddAfterCallTool(func(ctx context.Context, id any, req *mcp.CallToolRequest, result any) {
		duration, span := finish(ctx, id)

		attrs := []slog.Attr{
			slog.String("rpc.method", "tools/call"),
			slog.String("mcp.tool", req.Params.Name),
			slog.Duration("duration", duration),
		}

		r, ok := result.(*mcp.CallToolResult)
		rejected := ok && r.IsError
		if rejected {
			msg := resultText(r)
			attrs = append(attrs, slog.Bool("rejected", true), slog.String("error.message", msg))
			if span != nil {
				span.SetStatus(codes.Error, msg)
			}
		}

		level := slog.LevelInfo
		if rejected {
			level = slog.LevelWarn
		}
		logger.LogAttrs(ctx, level, "tool call", attrs...)

		if span != nil {
			span.End()
		}
	})

	hooks.AddOnError(func(ctx context.Context, id any, method mcp.MCPMethod, message any, err error) {
		duration, span := finish(ctx, id)

		toolName := ""
		if req, ok := message.(*mcp.CallToolRequest); ok {
			toolName = req.Params.Name
		}
		if toolName != "" {
			logger.LogAttrs(ctx, slog.LevelError, "tool call failed",
				slog.String("rpc.method", string(method)),
				slog.String("mcp.tool", toolName),
				slog.Duration("duration", duration),
				slog.String("error.message", err.Error()),
			)
		}

		if span != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			span.End()
		}
	})

	return hooks
}

func resultText(r *mcp.CallToolResult) string {
	for _, c := range r.Content {
		if tc, ok := c.(mcp.TextContent); ok {
			return tc.Text
		}
	}
	return "tool returned error"
}
