// Package transport contains the HTTP router, middleware chain, and the
// request handlers through which the UI drives the console.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/pitabwire/vigil/internal/observability"
	"github.com/pitabwire/vigil/model"
)

// maxBodyBytes bounds request bodies. Plugin code is the largest payload.
const maxBodyBytes = 4 << 20

// statusForCode maps ErrorEnvelope codes to HTTP status codes.
var statusForCode = map[string]int{
	model.ErrBadRequest:         http.StatusBadRequest,
	model.ErrNotFound:           http.StatusNotFound,
	model.ErrConflict:           http.StatusConflict,
	model.ErrValidationError:    http.StatusUnprocessableEntity,
	model.ErrInvalidTransition:  http.StatusConflict,
	model.ErrInternalError:      http.StatusInternalServerError,
	model.ErrBackendUnavailable: http.StatusBadGateway,
	model.ErrBackendTimeout:     http.StatusGatewayTimeout,
	model.ErrCommandFailed:      http.StatusBadGateway,
	model.ErrCommandRejected:    http.StatusBadGateway,
	model.ErrStreamTimeout:      http.StatusGatewayTimeout,
}

type errorResponse struct {
	Error *model.ErrorEnvelope `json:"error"`
}

// WriteJSON writes a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	if body != nil {
		_ = json.NewEncoder(w).Encode(body)
	}
}

// WriteRaw writes an already encoded JSON payload. A nil payload is sent as
// JSON null.
func WriteRaw(w http.ResponseWriter, status int, raw json.RawMessage) {
	if len(raw) == 0 {
		raw = json.RawMessage("null")
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	_, _ = w.Write(raw)
}

// WriteError writes err as an ErrorEnvelope with the matching HTTP status.
// Context deadlines become BACKEND_TIMEOUT; any other error that does not
// carry an envelope is logged and reported as a generic 500.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	ee := toEnvelope(r.Context(), err)

	status := statusForCode[ee.Code]
	if status == 0 {
		status = http.StatusInternalServerError
	}
	WriteJSON(w, status, errorResponse{Error: ee})
}

func toEnvelope(ctx context.Context, err error) *model.ErrorEnvelope {
	var ee *model.ErrorEnvelope
	switch {
	case errors.As(err, &ee):
		// Copy so the shared error value is not mutated.
		cp := *ee
		ee = &cp
	case errors.Is(err, context.DeadlineExceeded):
		ee = model.NewBackendTimeoutError()
	default:
		observability.RequestLogger(ctx, zap.L()).Error("unhandled error", zap.Error(err))
		ee = model.NewInternalError()
	}
	if ee.TraceID == "" {
		ee.TraceID = observability.TraceIDFromContext(ctx)
	}
	return ee
}

// WriteNotFound writes a 404 error response.
func WriteNotFound(w http.ResponseWriter, r *http.Request, msg string) {
	WriteError(w, r, model.NewNotFoundError(msg))
}

// decodeBody reads a JSON request body into v. An empty body leaves v
// untouched when optional is set.
func decodeBody(r *http.Request, v any, optional bool) error {
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) && optional {
			return nil
		}
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return model.NewBadRequestError("request body too large")
		}
		return model.NewBadRequestError("invalid JSON body")
	}
	return nil
}
