package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/soyeahso/oracle/internal/agent"
	"github.com/soyeahso/oracle/internal/domain"
	"github.com/soyeahso/oracle/internal/llm"
)

// HealthResponse is returned by health endpoints. The public HTTP endpoint
// only populates Status; the authenticated RPC handler populates all fields.
type HealthResponse struct {
	Status    string   `json:"status"`
	Version   string   `json:"version,omitempty"`
	Clients   int      `json:"clients,omitempty"`
	Providers []string `json:"providers,omitempty"`
	Uptime    string   `json:"uptime,omitempty"`
}

// handleHealth returns the server health status. Only status is exposed
// publicly; detailed info is available via the authenticated RPC health method.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

// handleNotFound returns a 404 for unknown routes.
func handleNotFound(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusNotFound, map[string]string{
		"error": "not found",
		"path":  r.URL.Path,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeJSONError writes the {"error": ...} body HTTP clients expect.
func writeJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// httpStatus maps a relay or orchestrator error to an HTTP status.
func httpStatus(err error) int {
	var (
		verr *domain.ValidationError
		ierr *domain.InvariantError
		nf   *domain.NotFoundError
		cerr *llm.ConfigurationError
		perr *llm.ProviderError
		terr *llm.TransportError
	)
	switch {
	case errors.As(err, &verr), errors.As(err, &ierr), errors.As(err, &cerr):
		return http.StatusBadRequest
	case errors.As(err, &nf):
		return http.StatusNotFound
	case errors.Is(err, agent.ErrTurnInFlight), errors.Is(err, agent.ErrInterjected):
		return http.StatusConflict
	case errors.As(err, &perr):
		if perr.Code >= 400 && perr.Code < 600 {
			return perr.Code
		}
		return http.StatusBadGateway
	case errors.As(err, &terr), errors.Is(err, agent.ErrEmptyCompletion):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// errorCode maps an error to an RPC error code.
func errorCode(err error) string {
	var (
		verr *domain.ValidationError
		ierr *domain.InvariantError
		nf   *domain.NotFoundError
		cerr *llm.ConfigurationError
		perr *llm.ProviderError
		terr *llm.TransportError
	)
	switch {
	case errors.As(err, &verr), errors.As(err, &ierr):
		return "invalid_params"
	case errors.As(err, &nf):
		return "not_found"
	case errors.Is(err, agent.ErrTurnInFlight):
		return "conflict"
	case errors.Is(err, agent.ErrInterjected), errors.Is(err, context.Canceled):
		return "interjected"
	case errors.As(err, &perr), errors.Is(err, agent.ErrEmptyCompletion):
		return "provider_error"
	case errors.As(err, &cerr), errors.As(err, &terr):
		return "unavailable"
	default:
		return "internal"
	}
}

// RequestHandler processes an incoming RPC request frame from a client.
type RequestHandler func(ctx *RequestContext)

// RequestContext carries everything a handler needs.
type RequestContext struct {
	Client *Client
	Frame  Frame
	Server *Server
}

// Context is cancelled when the requesting client disconnects.
func (rc *RequestContext) Context() context.Context {
	return rc.Client.Context()
}

// Respond sends a success response.
func (rc *RequestContext) Respond(payload any) {
	if err := rc.Client.Respond(rc.Frame.ID, payload); err != nil {
		rc.Server.log.Warn().Err(err).Str("method", rc.Frame.Method).Msg("failed to send response")
	}
}

// RespondError sends an error response.
func (rc *RequestContext) RespondError(code, message string) {
	rc.Client.RespondError(rc.Frame.ID, ErrorShape{
		Code:    code,
		Message: message,
	})
}

// Fail responds with the code errorCode assigns to err.
func (rc *RequestContext) Fail(err error) {
	code := errorCode(err)
	rc.Client.RespondError(rc.Frame.ID, ErrorShape{
		Code:      code,
		Message:   err.Error(),
		Retryable: code == "conflict" || code == "unavailable",
	})
}

// Params unmarshals the request params into the given target.
func (rc *RequestContext) Params(target any) error {
	if rc.Frame.Params == nil {
		return nil
	}
	return json.Unmarshal(rc.Frame.Params, target)
}
