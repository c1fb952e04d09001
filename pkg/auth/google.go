package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	googleoauth2 "google.golang.org/api/oauth2/v2"
	"google.golang.org/api/option"
)

// GoogleUser is the profile returned by Google's userinfo endpoint.
type GoogleUser struct {
	Email         string
	Name          string
	Picture       string
	VerifiedEmail bool
}

// GoogleOAuth performs the authorization-code flow against Google.
type GoogleOAuth interface {
	// AuthCodeURL returns the consent URL carrying state.
	AuthCodeURL(state string) string
	// Exchange trades code for a token and fetches the user's profile.
	Exchange(ctx context.Context, code string) (*GoogleUser, error)
}

type googleOAuth struct {
	config *oauth2.Config
}

// NewGoogleOAuth creates a client for the given OAuth application.
func NewGoogleOAuth(clientID, clientSecret, redirectURI string) GoogleOAuth {
	return &googleOAuth{
		config: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURI,
			Endpoint:     google.Endpoint,
			Scopes: []string{
				googleoauth2.OpenIDScope,
				googleoauth2.UserinfoEmailScope,
				googleoauth2.UserinfoProfileScope,
			},
		},
	}
}

func (g *googleOAuth) AuthCodeURL(state string) string {
	return g.config.AuthCodeURL(state, oauth2.AccessTypeOnline)
}

func (g *googleOAuth) Exchange(ctx context.Context, code string) (*GoogleUser, error) {
	token, err := g.config.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange authorization code: %w", err)
	}

	svc, err := googleoauth2.NewService(ctx, option.WithTokenSource(g.config.TokenSource(ctx, token)))
	if err != nil {
		return nil, fmt.Errorf("failed to create userinfo client: %w", err)
	}
	info, err := svc.Userinfo.Get().Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("failed to fetch userinfo: %w", err)
	}

	user := &GoogleUser{
		Email:   info.Email,
		Name:    info.Name,
		Picture: info.Picture,
	}
	if info.VerifiedEmail != nil {
		user.VerifiedEmail = *info.VerifiedEmail
	}
	return user, nil
}

// NewState returns a random OAuth state value.
func NewState() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate state: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
