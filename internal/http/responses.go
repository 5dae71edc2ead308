package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/parsascontentcorner/grokgate/internal/models"
	"github.com/parsascontentcorner/grokgate/internal/service"
)

// ErrorResponse is the body of every non-2xx reply.
type ErrorResponse struct {
	Error   string            `json:"error"`
	Message string            `json:"message"`
	Details map[string]string `json:"details,omitempty"`
}

const maxBodyBytes = 1 << 20

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func (h *Handlers) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Error("failed to write response", zap.Error(err))
	}
}

func (h *Handlers) writeError(w http.ResponseWriter, status int, code, message string, details map[string]string) {
	h.writeJSON(w, status, ErrorResponse{Error: code, Message: message, Details: details})
}

// decodeAndValidate reads a JSON body into dst and runs its validate tags.
// It writes the 400 itself and returns false on failure.
func (h *Handlers) decodeAndValidate(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		h.writeError(w, http.StatusBadRequest, "bad_request", fmt.Sprintf("Invalid JSON body: %v", err), nil)
		return false
	}

	if err := h.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			h.writeError(w, http.StatusBadRequest, "validation_failed", "Validation failed", validationDetails(verrs))
			return false
		}
		h.writeError(w, http.StatusBadRequest, "bad_request", err.Error(), nil)
		return false
	}
	return true
}

func validationDetails(errs validator.ValidationErrors) map[string]string {
	fields := make(map[string]string, len(errs))
	for _, err := range errs {
		field := err.Field()
		switch err.Tag() {
		case "required":
			fields[field] = fmt.Sprintf("%s is required", field)
		case "min":
			fields[field] = fmt.Sprintf("%s must be at least %s", field, err.Param())
		case "max":
			fields[field] = fmt.Sprintf("%s must be at most %s", field, err.Param())
		case "oneof":
			fields[field] = fmt.Sprintf("%s must be one of: %s", field, err.Param())
		case "numeric":
			fields[field] = fmt.Sprintf("%s must be numeric", field)
		default:
			fields[field] = fmt.Sprintf("%s validation failed on '%s' tag", field, err.Tag())
		}
	}
	return fields
}

// handleServiceError maps domain and store errors to HTTP responses.
func (h *Handlers) handleServiceError(w http.ResponseWriter, err error) {
	switch {
	case service.IsNotFound(err),
		errors.Is(err, models.ErrRecordNotFound),
		errors.Is(err, models.ErrAdminNotFound):
		h.writeError(w, http.StatusNotFound, "not_found", notFoundMessage(err), nil)

	case service.IsInvalidState(err), errors.Is(err, models.ErrNotPending):
		h.writeError(w, http.StatusConflict, "invalid_state", "Message not pending", nil)

	case service.IsValidation(err):
		h.writeError(w, http.StatusBadRequest, "validation_failed", err.Error(), nil)

	case service.IsUpstream(err):
		h.logger.Warn("upstream failure", zap.Error(err))
		h.writeError(w, http.StatusBadGateway, "bad_gateway", "The AI service call failed", nil)

	default:
		h.logger.Error("internal server error", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "internal_error", "An internal error occurred", nil)
	}
}

func notFoundMessage(err error) string {
	if errors.Is(err, models.ErrAdminNotFound) {
		return "Admin not found"
	}
	return "Message not found"
}
