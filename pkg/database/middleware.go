package database

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/datasaki/datasaki-engine/pkg/auth"
)

// WithScope creates middleware that holds one pooled connection for the request.
// When auth middleware ran first, the connection is attributed to the token subject.
// The connection is released after the handler returns, whatever the outcome.
func WithScope(db *DB, logger *zap.Logger) func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			var scope *Scope
			var err error

			if claims, ok := auth.GetClaims(r.Context()); ok && claims.Subject != "" {
				scope, err = db.WithUser(r.Context(), claims.Subject)
			} else {
				scope, err = db.WithoutUser(r.Context())
			}
			if err != nil {
				logger.Error("Failed to acquire database connection",
					zap.String("path", r.URL.Path),
					zap.Error(err))
				writeError(w, http.StatusInternalServerError, "database_error", "Database connection error")
				return
			}
			defer scope.Close()

			next(w, r.WithContext(SetScope(r.Context(), scope)))
		}
	}
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, statusCode int, errorCode, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":   errorCode,
		"message": message,
	})
}
