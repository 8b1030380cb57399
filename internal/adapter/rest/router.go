// Package rest exposes the query service over HTTP with chi. The MCP server
// is mounted at /mcp using the streamable HTTP transport.
package rest

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/guillermoBallester/agentproxy/internal/core/service"
	"github.com/mark3labs/mcp-go/server"
)

// maxBodyBytes bounds request bodies; a statement larger than this is not a
// statement an agent should be sending.
const maxBodyBytes = 1 << 20

// NewRouter builds the HTTP handler. Every route except /health requires the
// bearer token. mcpServer may be nil, in which case /mcp is not mounted.
func NewRouter(query *service.QueryService, mcpServer *server.MCPServer, bearerToken string, logger *slog.Logger) http.Handler {
	h := &handlers{query: query, logger: logger}

	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler { return recoveryMiddleware(next, logger) })
	r.Use(limitBodyMiddleware)

	r.Get("/health", healthHandler)

	r.Group(func(r chi.Router) {
		r.Use(func(next http.Handler) http.Handler { return bearerAuthMiddleware(next, bearerToken) })

		r.Post("/sql/preview", h.preview)
		r.Post("/sql/commit", h.commit)
		r.Get("/queries/{id}", h.getQuery)
		r.Get("/policy", h.policy)
		r.Get("/schema", h.schema)

		if mcpServer != nil {
			r.Handle("/mcp", server.NewStreamableHTTPServer(mcpServer))
		}
	})

	return r
}
