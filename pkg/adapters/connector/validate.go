package connector

import (
	"github.com/datasaki/datasaki-engine/pkg/apperrors"
)

// ValidatePort rejects a non-numeric or out of range port in connection details.
func ValidatePort(p Params) error {
	if p.URI != "" && !HasValue(p.Details, "port") {
		return nil
	}
	port, err := Int(p.Details, "port", 0)
	if err != nil {
		return apperrors.NewValidationError("port", "must be an integer")
	}
	if port < 1 || port > 65535 {
		return apperrors.NewValidationError("port", "must be between 1 and 65535")
	}
	return nil
}
