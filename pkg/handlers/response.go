package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/datasaki/datasaki-engine/pkg/apperrors"
	"github.com/datasaki/datasaki-engine/pkg/logging"
)

// maxBodyBytes bounds request bodies; bulk writes are the largest payloads.
const maxBodyBytes = 32 << 20

// ApiResponse wraps data in the envelope every API route returns.
type ApiResponse struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
	Message string `json:"message,omitempty"`
}

// ErrorResponse writes a JSON error response and returns any encoding error.
func ErrorResponse(w http.ResponseWriter, statusCode int, errorCode, message string) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	return json.NewEncoder(w).Encode(map[string]string{
		"error":   errorCode,
		"message": message,
	})
}

// WriteJSON writes a JSON response and returns any encoding error.
func WriteJSON(w http.ResponseWriter, statusCode int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	if statusCode != http.StatusOK {
		w.WriteHeader(statusCode)
	}
	return json.NewEncoder(w).Encode(data)
}

// writeData writes data in a successful ApiResponse envelope.
func writeData(w http.ResponseWriter, statusCode int, data any, logger *zap.Logger) {
	if err := WriteJSON(w, statusCode, ApiResponse{Success: true, Data: data}); err != nil {
		logger.Error("Failed to encode response", zap.Error(err))
	}
}

// writeMessage writes a successful ApiResponse carrying only a message.
func writeMessage(w http.ResponseWriter, message string, logger *zap.Logger) {
	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Message: message}); err != nil {
		logger.Error("Failed to encode response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, statusCode int, errorCode, message string, logger *zap.Logger) {
	if err := ErrorResponse(w, statusCode, errorCode, message); err != nil {
		logger.Error("Failed to write error response", zap.Error(err))
	}
}

// errorStatus maps an error kind to its HTTP status and error code.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, apperrors.ErrValidation):
		return http.StatusBadRequest, "validation_error"
	case errors.Is(err, apperrors.ErrUnauthorized):
		return http.StatusUnauthorized, "unauthorized"
	case errors.Is(err, apperrors.ErrForbidden):
		return http.StatusForbidden, "forbidden"
	case errors.Is(err, apperrors.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, apperrors.ErrConflict):
		return http.StatusConflict, "conflict"
	case errors.Is(err, apperrors.ErrCredentialsKeyMismatch):
		return http.StatusInternalServerError, "credentials_key_mismatch"
	case errors.Is(err, apperrors.ErrBackend):
		return http.StatusBadGateway, "backend_error"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

// writeServiceError logs err and writes the response for its kind. Internal
// errors are not echoed to the client.
func writeServiceError(w http.ResponseWriter, err error, action string, logger *zap.Logger) {
	status, code := errorStatus(err)
	message := logging.Error(err)

	switch {
	case status == http.StatusInternalServerError && code == "internal_error":
		logger.Error("Failed to "+action, zap.String("error", message))
		message = fmt.Sprintf("Failed to %s", action)
	case status >= http.StatusInternalServerError:
		logger.Error("Failed to "+action, zap.String("error", message))
	default:
		logger.Debug("Request rejected",
			zap.String("action", action),
			zap.Int("status", status),
			zap.String("error", message))
	}
	writeError(w, status, code, message, logger)
}

// decodeBody reads a JSON request body into dst. It writes the 400 response
// itself and returns false when the body is unusable.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any, logger *zap.Logger) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			writeError(w, http.StatusBadRequest, "invalid_request", "Request body is required", logger)
			return false
		}
		logger.Debug("Invalid request body", zap.Error(err))
		writeError(w, http.StatusBadRequest, "invalid_request", "Invalid request body", logger)
		return false
	}
	return true
}
