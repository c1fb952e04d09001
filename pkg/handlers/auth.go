package handlers

import (
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/datasaki/datasaki-engine/pkg/auth"
	"github.com/datasaki/datasaki-engine/pkg/models"
	"github.com/datasaki/datasaki-engine/pkg/services"
)

// ScopeMiddleware attaches per-request resources (a database scope) to a handler.
type ScopeMiddleware func(http.HandlerFunc) http.HandlerFunc

// RegisterRequest is the body of POST /api/auth/register.
type RegisterRequest struct {
	Name        string `json:"name"`
	Email       string `json:"email"`
	Password    string `json:"password"`
	CompanyName string `json:"company_name,omitempty"`
	Industry    string `json:"industry,omitempty"`
	Size        string `json:"size,omitempty"`
}

// LoginRequest is the body of POST /api/auth/login.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginResponse carries the issued token and the signed-in user.
type LoginResponse struct {
	*auth.AccessToken
	User *models.User `json:"user"`
}

// GoogleLoginResponse is returned to clients that ask for the consent URL
// instead of being redirected.
type GoogleLoginResponse struct {
	AuthURL string `json:"auth_url"`
}

// AuthHandler serves registration, login and the Google OAuth flow.
type AuthHandler struct {
	identity       services.IdentityService
	google         auth.GoogleOAuth
	cookieSettings auth.CookieSettings
	logger         *zap.Logger
}

// NewAuthHandler creates an AuthHandler. google may be nil when Google sign-in
// is not configured; its routes then answer 404.
func NewAuthHandler(identity services.IdentityService, google auth.GoogleOAuth, cookieSettings auth.CookieSettings, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{
		identity:       identity,
		google:         google,
		cookieSettings: cookieSettings,
		logger:         logger.Named("auth-handler"),
	}
}

// RegisterRoutes registers the auth routes.
func (h *AuthHandler) RegisterRoutes(mux *http.ServeMux, authMiddleware *auth.Middleware, scope ScopeMiddleware) {
	mux.HandleFunc("POST /api/auth/register", scope(h.Register))
	mux.HandleFunc("POST /api/auth/login", scope(h.Login))
	mux.HandleFunc("GET /api/auth/me", authMiddleware.RequireAuth(scope(h.Me)))
	mux.HandleFunc("GET /api/auth/google/login", h.GoogleLogin)
	mux.HandleFunc("GET /api/auth/google/callback", scope(h.GoogleCallback))
}

// Register handles POST /api/auth/register.
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if !decodeBody(w, r, &req, h.logger) {
		return
	}

	user, err := h.identity.Register(r.Context(), services.Registration{
		Name:        req.Name,
		Email:       req.Email,
		Password:    req.Password,
		CompanyName: req.CompanyName,
		Industry:    req.Industry,
		Size:        req.Size,
	})
	if err != nil {
		writeServiceError(w, err, "register user", h.logger)
		return
	}
	writeData(w, http.StatusCreated, user, h.logger)
}

// Login handles POST /api/auth/login. The token is returned in the body and
// also set as a cookie for browser clients.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if !decodeBody(w, r, &req, h.logger) {
		return
	}

	token, user, err := h.identity.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		writeServiceError(w, err, "log in", h.logger)
		return
	}
	auth.SetTokenCookie(w, token.AccessToken, token.ExpiresAt, h.cookieSettings)
	writeData(w, http.StatusOK, LoginResponse{AccessToken: token, User: user}, h.logger)
}

// Me handles GET /api/auth/me.
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r, h.logger)
	if !ok {
		return
	}
	user, err := h.identity.Me(r.Context(), userID)
	if err != nil {
		writeServiceError(w, err, "load user", h.logger)
		return
	}
	writeData(w, http.StatusOK, user, h.logger)
}

// GoogleLogin handles GET /api/auth/google/login.
// A random state is kept in the signed session cookie. Browsers are redirected
// to Google; clients sending Accept: application/json get the URL instead.
func (h *AuthHandler) GoogleLogin(w http.ResponseWriter, r *http.Request) {
	if h.google == nil {
		writeError(w, http.StatusNotFound, "google_oauth_disabled", "Google sign-in is not configured", h.logger)
		return
	}

	state, err := auth.NewState()
	if err != nil {
		h.logger.Error("Failed to generate OAuth state", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal_error", "Failed to start Google sign-in", h.logger)
		return
	}

	session, err := auth.GetSession(r)
	if err != nil {
		// A tampered or stale cookie yields a fresh session alongside the error.
		h.logger.Debug("Discarding unreadable OAuth session", zap.Error(err))
	}
	session.Values[auth.SessionKeyState] = state
	if redirect := r.URL.Query().Get("redirect"); isLocalPath(redirect) {
		session.Values[auth.SessionKeyOriginalURL] = redirect
	} else {
		delete(session.Values, auth.SessionKeyOriginalURL)
	}
	if err := auth.SaveSession(r, w, session); err != nil {
		h.logger.Error("Failed to save OAuth session", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal_error", "Failed to start Google sign-in", h.logger)
		return
	}

	authURL := h.google.AuthCodeURL(state)
	if strings.Contains(r.Header.Get("Accept"), "application/json") {
		writeData(w, http.StatusOK, GoogleLoginResponse{AuthURL: authURL}, h.logger)
		return
	}
	http.Redirect(w, r, authURL, http.StatusFound)
}

// GoogleCallback handles GET /api/auth/google/callback.
func (h *AuthHandler) GoogleCallback(w http.ResponseWriter, r *http.Request) {
	if h.google == nil {
		writeError(w, http.StatusNotFound, "google_oauth_disabled", "Google sign-in is not configured", h.logger)
		return
	}

	query := r.URL.Query()
	if oauthErr := query.Get("error"); oauthErr != "" {
		h.logger.Info("Google sign-in declined", zap.String("error", oauthErr))
		writeError(w, http.StatusUnauthorized, "oauth_denied", "Google sign-in was not completed", h.logger)
		return
	}

	session, err := auth.GetSession(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_state", "OAuth session is missing or expired", h.logger)
		return
	}
	expected, _ := session.Values[auth.SessionKeyState].(string)
	if expected == "" || query.Get("state") != expected {
		h.logger.Warn("OAuth state mismatch")
		writeError(w, http.StatusBadRequest, "invalid_state", "OAuth state does not match", h.logger)
		return
	}
	code := query.Get("code")
	if code == "" {
		writeError(w, http.StatusBadRequest, "missing_code", "Authorization code is required", h.logger)
		return
	}

	originalURL, _ := session.Values[auth.SessionKeyOriginalURL].(string)
	auth.ClearSessionValues(session)
	if err := auth.SaveSession(r, w, session); err != nil {
		h.logger.Warn("Failed to clear OAuth session", zap.Error(err))
	}

	profile, err := h.google.Exchange(r.Context(), code)
	if err != nil {
		h.logger.Error("Google code exchange failed", zap.Error(err))
		writeError(w, http.StatusBadGateway, "oauth_exchange_failed", "Failed to complete Google sign-in", h.logger)
		return
	}

	token, user, err := h.identity.LoginWithGoogle(r.Context(), profile)
	if err != nil {
		writeServiceError(w, err, "sign in with Google", h.logger)
		return
	}
	auth.SetTokenCookie(w, token.AccessToken, token.ExpiresAt, h.cookieSettings)

	if originalURL != "" {
		http.Redirect(w, r, originalURL, http.StatusFound)
		return
	}
	writeData(w, http.StatusOK, LoginResponse{AccessToken: token, User: user}, h.logger)
}

// isLocalPath accepts only same-origin paths so the callback cannot be used
// as an open redirect.
func isLocalPath(p string) bool {
	return strings.HasPrefix(p, "/") && !strings.HasPrefix(p, "//") && !strings.Contains(p, "\\")
}
