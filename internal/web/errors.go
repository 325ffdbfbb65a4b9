package web

// errors.go provides unified error response handling for the web layer.
//
// Every failure leaves the server the same way:
//  1. Handler encounters an error
//  2. Calls s.fail(w, r, err), which picks the status with core.StatusCode
//  3. Error is mapped via core.MapError to get a user-friendly message
//  4. Technical error + context is logged with the request ID for correlation
//  5. The JSON ErrorResponse is written, with per-field details for
//     validation failures

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/JonMunkholm/membergen/internal/core"
	"github.com/JonMunkholm/membergen/internal/logging"
)

// maxBodyBytes caps JSON request bodies.
const maxBodyBytes = 1 << 20

// ErrorResponse represents the JSON structure for API error responses.
// Includes both machine-readable (Code) and human-readable (Message, Action) fields.
type ErrorResponse struct {
	Error   string              `json:"error"`
	Message string              `json:"message"`
	Action  string              `json:"action,omitempty"`
	Code    string              `json:"code"`
	Details []core.FieldProblem `json:"details,omitempty"`
}

// fail responds with the status the error taxonomy assigns to err.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	s.respondError(w, r, err, core.StatusCode(err))
}

// respondError logs the technical error server-side and writes the
// user-facing JSON body.
func (s *Server) respondError(w http.ResponseWriter, r *http.Request, err error, statusCode int) {
	userMsg := core.MapError(err)

	logger := logging.WithFields(r.Context(),
		"path", r.URL.Path,
		"method", r.Method,
		"status", statusCode,
		"code", userMsg.Code,
		"error", err.Error(),
	)
	if statusCode >= http.StatusInternalServerError {
		logger.Error("request error")
	} else {
		logger.Info("request rejected")
	}

	resp := ErrorResponse{
		Error:   userMsg.Message,
		Message: userMsg.Message,
		Action:  userMsg.Action,
		Code:    userMsg.Code,
	}
	var ve *core.ValidationError
	if errors.As(err, &ve) {
		resp.Details = ve.Problems
	}
	writeJSONStatus(w, statusCode, resp)
}

// writeJSON encodes v as a 200 response.
func writeJSON(w http.ResponseWriter, v any) {
	writeJSONStatus(w, http.StatusOK, v)
}

// writeJSONStatus encodes v with the given status.
// Encoding errors are only logged since headers are already sent.
func writeJSONStatus(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("json encode error", "error", err)
	}
}

// decodeJSON reads a JSON request body into dst.
//
// Syntax errors and empty bodies are ErrMalformedRequest (400). A value of
// the wrong JSON type, or one its type rejects (a bad date), is a
// ValidationError (422) naming the attribute. Unknown keys are ignored.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	err := dec.Decode(dst)
	if err == nil {
		if dec.More() {
			return fmt.Errorf("%w: trailing data after JSON value", core.ErrMalformedRequest)
		}
		return nil
	}

	var (
		syntaxErr *json.SyntaxError
		typeErr   *json.UnmarshalTypeError
		sizeErr   *http.MaxBytesError
	)
	switch {
	case errors.Is(err, io.EOF):
		return fmt.Errorf("%w: empty body", core.ErrMalformedRequest)
	case errors.As(err, &syntaxErr), errors.Is(err, io.ErrUnexpectedEOF):
		return fmt.Errorf("%w: %w", core.ErrMalformedRequest, err)
	case errors.As(err, &sizeErr):
		return fmt.Errorf("%w: body exceeds %d bytes", core.ErrMalformedRequest, sizeErr.Limit)
	case errors.As(err, &typeErr):
		field := typeErr.Field
		if field == "" {
			field = "body"
		}
		return core.NewValidationError(core.FieldProblem{
			Field:   field,
			Message: fmt.Sprintf("expected %s, got %s", typeErr.Type, typeErr.Value),
		})
	default:
		return core.NewValidationError(core.FieldProblem{Field: "body", Message: err.Error()})
	}
}
