package handlers

import (
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/datasaki/datasaki-engine/pkg/auth"
)

// ParseConnectorID extracts and validates the connector ID from the request path.
// Returns the parsed UUID and true on success, or uuid.Nil and false on error
// (after writing an error response).
// Expects path parameter: id
func ParseConnectorID(w http.ResponseWriter, r *http.Request, logger *zap.Logger) (uuid.UUID, bool) {
	return parseUUID(w, r, "id", "invalid_connector_id", "Invalid connector ID format", logger)
}

// ParseDatasetID extracts the numeric dataset ID from the path parameter id.
func ParseDatasetID(w http.ResponseWriter, r *http.Request, logger *zap.Logger) (int64, bool) {
	return parseInt64(w, r, "id", "invalid_dataset_id", "Invalid dataset ID format", logger)
}

// ParseTransformationID extracts the numeric transformation ID from the path parameter tid.
func ParseTransformationID(w http.ResponseWriter, r *http.Request, logger *zap.Logger) (int64, bool) {
	return parseInt64(w, r, "tid", "invalid_transformation_id", "Invalid transformation ID format", logger)
}

// ParseLLMConfigID extracts the numeric LLM configuration ID from the path parameter id.
func ParseLLMConfigID(w http.ResponseWriter, r *http.Request, logger *zap.Logger) (int64, bool) {
	return parseInt64(w, r, "id", "invalid_llm_config_id", "Invalid LLM configuration ID format", logger)
}

// ParsePaging reads the skip and limit query parameters. Absent values are
// returned as zero so the service applies its defaults; range checks are the
// service's job.
func ParsePaging(w http.ResponseWriter, r *http.Request, logger *zap.Logger) (skip, limit int, ok bool) {
	if skip, ok = queryInt(w, r, "skip", logger); !ok {
		return 0, 0, false
	}
	if limit, ok = queryInt(w, r, "limit", logger); !ok {
		return 0, 0, false
	}
	return skip, limit, true
}

// currentUser resolves the authenticated user or writes a 401.
func currentUser(w http.ResponseWriter, r *http.Request, logger *zap.Logger) (uuid.UUID, bool) {
	userID, err := auth.UserIDFromContext(r.Context())
	if err != nil {
		writeServiceError(w, err, "resolve user", logger)
		return uuid.Nil, false
	}
	return userID, true
}

func parseUUID(w http.ResponseWriter, r *http.Request, pathParam, errorCode, errorMessage string, logger *zap.Logger) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue(pathParam))
	if err != nil {
		writeError(w, http.StatusBadRequest, errorCode, errorMessage, logger)
		return uuid.Nil, false
	}
	return id, true
}

func parseInt64(w http.ResponseWriter, r *http.Request, pathParam, errorCode, errorMessage string, logger *zap.Logger) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue(pathParam), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, errorCode, errorMessage, logger)
		return 0, false
	}
	return id, true
}

func queryInt(w http.ResponseWriter, r *http.Request, name string, logger *zap.Logger) (int, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_"+name, "Query parameter "+name+" must be an integer", logger)
		return 0, false
	}
	return v, true
}
