package rest

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/guillermoBallester/agentproxy/internal/core/domain"
	"github.com/guillermoBallester/agentproxy/internal/core/service"
)

type handlers struct {
	query  *service.QueryService
	logger *slog.Logger
}

func healthHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (h *handlers) preview(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeSQLRequest(w, r)
	if !ok {
		return
	}
	ctx := service.WithToolName(r.Context(), "POST /sql/preview")
	resp, err := h.query.Preview(ctx, req)
	if err != nil {
		h.fail(w, r, err, "preview")
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *handlers) commit(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeSQLRequest(w, r)
	if !ok {
		return
	}
	ctx := service.WithToolName(r.Context(), "POST /sql/commit")
	resp, err := h.query.Commit(ctx, req)
	if err != nil {
		h.fail(w, r, err, "commit")
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *handlers) getQuery(w http.ResponseWriter, r *http.Request) {
	rec, err := h.query.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err, "get query")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h *handlers) policy(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.query.Policy())
}

func (h *handlers) schema(w http.ResponseWriter, r *http.Request) {
	tables, err := h.query.DescribeSchema(r.Context())
	if err != nil {
		h.fail(w, r, err, "describe schema")
		return
	}
	writeJSON(w, http.StatusOK, tables)
}

// decodeSQLRequest reads the body and writes a 400 when it is unusable.
func decodeSQLRequest(w http.ResponseWriter, r *http.Request) (domain.SQLRequest, bool) {
	var req domain.SQLRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return req, false
		}
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return req, false
	}
	if req.SQL == "" {
		writeError(w, http.StatusBadRequest, "sql is required")
		return req, false
	}
	return req, true
}

func (h *handlers) fail(w http.ResponseWriter, r *http.Request, err error, op string) {
	writeError(w, statusFor(err), service.SanitizeError(r.Context(), h.logger, err, op))
}

// statusFor maps an error class to its HTTP status.
func statusFor(err error) int {
	switch domain.Classify(err) {
	case domain.ClassClient:
		return http.StatusBadRequest
	case domain.ClassNotFound:
		return http.StatusNotFound
	case domain.ClassConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, domain.ErrorResponse{OK: false, Error: msg})
}
