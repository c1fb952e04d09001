package auth

import (
	"errors"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

// Common authentication errors.
var (
	ErrMissingAuthorization = errors.New("missing authorization")
	ErrInvalidAuthFormat    = errors.New("invalid authorization header format")
	ErrUnsupportedToken     = errors.New("unsupported token signing method")
)

// AuthService defines the interface for authentication operations.
type AuthService interface {
	// ValidateRequest extracts and validates a JWT from the request.
	// It checks for the token in:
	//   1. Cookie named TokenCookieName (browser clients)
	//   2. Authorization header with "Bearer" scheme (API clients)
	// Returns the validated claims, the raw token string, or an error.
	ValidateRequest(r *http.Request) (*Claims, string, error)
}

type authService struct {
	local     TokenValidator
	federated TokenValidator
	logger    *zap.Logger
}

// NewAuthService creates an AuthService. local validates self-issued HS256
// tokens; federated, which may be nil, validates RS256 tokens.
func NewAuthService(local, federated TokenValidator, logger *zap.Logger) AuthService {
	return &authService{
		local:     local,
		federated: federated,
		logger:    logger,
	}
}

func (s *authService) ValidateRequest(r *http.Request) (*Claims, string, error) {
	tokenString, tokenSource, err := s.extract(r)
	if err != nil {
		return nil, "", err
	}

	claims, err := s.validate(tokenString)
	if err != nil {
		s.logger.Debug("JWT validation failed",
			zap.Error(err),
			zap.String("path", r.URL.Path),
			zap.String("token_source", tokenSource))
		return nil, "", err
	}
	return claims, tokenString, nil
}

func (s *authService) extract(r *http.Request) (string, string, error) {
	if cookie, err := r.Cookie(TokenCookieName); err == nil && cookie.Value != "" {
		return cookie.Value, "cookie", nil
	}

	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return "", "", ErrMissingAuthorization
	}

	parts := strings.Fields(authHeader)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		s.logger.Debug("Invalid Authorization header format",
			zap.String("path", r.URL.Path))
		return "", "", ErrInvalidAuthFormat
	}
	return parts[1], "header", nil
}

// validate routes the token by its alg header.
func (s *authService) validate(tokenString string) (*Claims, error) {
	token, _, err := jwt.NewParser().ParseUnverified(tokenString, &Claims{})
	if err != nil {
		return nil, err
	}

	switch token.Method.(type) {
	case *jwt.SigningMethodHMAC:
		return s.local.ValidateToken(tokenString)
	case *jwt.SigningMethodRSA:
		if s.federated == nil {
			return nil, ErrUnsupportedToken
		}
		return s.federated.ValidateToken(tokenString)
	default:
		return nil, ErrUnsupportedToken
	}
}

var _ AuthService = (*authService)(nil)
