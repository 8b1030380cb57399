package mcp

import (
	"log/slog"

	"github.com/guillermoBallester/agentproxy/internal/core/port"
	"github.com/guillermoBallester/agentproxy/internal/core/service"
	"github.com/mark3labs/mcp-go/server"
	"go.opentelemetry.io/otel/trace"
)

// NewServer creates an MCPServer with the query tools and logging hooks.
// tracer and inst may be nil.
func NewServer(version string, query *service.QueryService, logger *slog.Logger, tracer trace.Tracer, inst port.Instrumentation) *server.MCPServer {
	s := server.NewMCPServer(
		serverName,
		version,
		server.WithToolCapabilities(false),
		server.WithInstructions(serverInstructions),
		server.WithHooks(ToolCallHooks(logger, tracer, inst)),
	)

	RegisterTools(s, query, logger)

	return s
}
