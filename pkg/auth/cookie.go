package auth

import (
	"net/http"
	"net/url"
	"time"
)

// TokenCookieName carries the access token for browser clients.
const TokenCookieName = "datasaki_token"

// CookieSettings contains cookie security settings derived from base URL.
type CookieSettings struct {
	// Secure indicates whether the cookie should only be sent over HTTPS.
	Secure bool
	// Domain is the cookie domain scope; empty isolates to the serving host.
	Domain string
}

// DeriveCookieSettings determines cookie security settings from the base URL.
//   - http://localhost:8000 → Secure: false
//   - https://app.example.com → Secure: true
//
// configCookieDomain, when set, scopes the cookie to that domain.
func DeriveCookieSettings(baseURL string, configCookieDomain string) CookieSettings {
	parsedURL, err := url.Parse(baseURL)
	if err != nil || baseURL == "" {
		// Safe defaults for invalid URLs
		return CookieSettings{Secure: true, Domain: configCookieDomain}
	}

	secure := parsedURL.Scheme != "http"
	hostname := parsedURL.Hostname()
	if hostname == "localhost" || hostname == "127.0.0.1" {
		return CookieSettings{Secure: secure, Domain: ""}
	}
	return CookieSettings{Secure: secure, Domain: configCookieDomain}
}

// SetTokenCookie stores token for browser clients until expires.
func SetTokenCookie(w http.ResponseWriter, token string, expires time.Time, settings CookieSettings) {
	http.SetCookie(w, &http.Cookie{
		Name:     TokenCookieName,
		Value:    token,
		Path:     "/",
		Domain:   settings.Domain,
		Expires:  expires,
		HttpOnly: true,
		Secure:   settings.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}
