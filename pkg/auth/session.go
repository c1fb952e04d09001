package auth

import (
	"crypto/sha256"
	"net/http"

	"github.com/gorilla/sessions"
)

// Store is the global session store for OAuth flows.
// It holds the state parameter and the original URL between the redirect to
// the provider and the callback.
var Store *sessions.CookieStore

// SessionName is the name of the OAuth session cookie.
const SessionName = "oauth-session"

// Session value keys.
const (
	SessionKeyState       = "state"
	SessionKeyOriginalURL = "original_url"
)

// InitSessionStore initializes the cookie-based session store.
//
// The secret is SHA-256 hashed to derive a 32-byte signing key and must be
// consistent across restarts and replicas. Sessions expire after ten minutes.
// SameSite is Lax because the callback is a cross-site top-level navigation.
func InitSessionStore(secret string, settings CookieSettings) {
	key := sha256.Sum256([]byte(secret))

	Store = sessions.NewCookieStore(key[:])
	Store.Options = &sessions.Options{
		Path:     "/",
		Domain:   settings.Domain,
		MaxAge:   600,
		HttpOnly: true,
		Secure:   settings.Secure,
		SameSite: http.SameSiteLaxMode,
	}
}

// GetSession retrieves the OAuth session from the request.
// Creates a new session if one doesn't exist.
func GetSession(r *http.Request) (*sessions.Session, error) {
	return Store.Get(r, SessionName)
}

// SaveSession saves the session to the response.
func SaveSession(r *http.Request, w http.ResponseWriter, session *sessions.Session) error {
	return session.Save(r, w)
}

// ClearSessionValues removes OAuth-related values from the session.
// Called after the callback completes.
func ClearSessionValues(session *sessions.Session) {
	delete(session.Values, SessionKeyState)
	delete(session.Values, SessionKeyOriginalURL)
}
