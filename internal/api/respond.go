package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-capacity-engine/internal/apperr"
)

type ErrorResponse struct {
	Error     string            `json:"error"`
	Message   string            `json:"message"`
	Fields    map[string]string `json:"fields,omitempty"`
	RequestID string            `json:"request_id,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func statusOf(k apperr.Kind) int {
	switch k {
	case apperr.KindValidation:
		return http.StatusBadRequest
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// writeError maps err onto the error taxonomy. Internal errors are logged
// with their cause and answered with a generic message.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	ae := apperr.As(err)
	status := statusOf(ae.Kind)
	reqID := GetRequestID(r.Context())

	resp := ErrorResponse{
		Error:     ae.Code,
		Message:   ae.Message,
		Fields:    ae.Fields,
		RequestID: reqID,
	}
	if status == http.StatusInternalServerError {
		zerolog.Ctx(r.Context()).Error().Err(err).Str("request_id", reqID).Msg("request failed")
		resp.Error = "internal_error"
		resp.Message = "internal server error"
	}

	writeJSON(w, status, resp)
}

type defaulter interface {
	applyDefaults()
}

// decode reads a JSON body into dst, fills its defaults and validates it.
func decode(r *http.Request, v *Validator, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return apperr.Validation("invalid_request_body", "request body is required")
		}
		var ute *json.UnmarshalTypeError
		if errors.As(err, &ute) {
			return apperr.ValidationFields(map[string]string{ute.Field: "has the wrong type"})
		}
		return apperr.Validation("invalid_request_body", "could not parse JSON")
	}
	if d, ok := dst.(defaulter); ok {
		d.applyDefaults()
	}
	return v.Struct(dst)
}

func uuidParam(r *http.Request, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		return uuid.Nil, apperr.ValidationFields(map[string]string{name: "must be a valid UUID"})
	}
	return id, nil
}

// intQuery returns the query parameter as an int, or def when absent.
func intQuery(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, apperr.ValidationFields(map[string]string{name: "must be a non-negative integer"})
	}
	return n, nil
}
