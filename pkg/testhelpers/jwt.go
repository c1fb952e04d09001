// Package testhelpers provides utilities for testing datasaki-engine components.
package testhelpers

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TestTokenSecret is the HS256 secret tests configure the token validator with.
const TestTokenSecret = "test-token-secret-at-least-32-bytes!"

// GenerateTestToken signs an HS256 access token for sub with the given email and roles.
func GenerateTestToken(sub, email string, roles ...string) string {
	if len(roles) == 0 {
		roles = []string{"user"}
	}
	claims := jwt.MapClaims{
		"iss":   "datasaki-engine",
		"sub":   sub,
		"email": email,
		"roles": roles,
		"iat":   time.Now().Unix(),
		"exp":   time.Now().Add(time.Hour).Unix(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(TestTokenSecret))
	if err != nil {
		panic(err)
	}
	return signed
}

// GenerateTestTokenWithBearer returns the token with a "Bearer " prefix for the Authorization header.
func GenerateTestTokenWithBearer(sub, email string, roles ...string) string {
	return "Bearer " + GenerateTestToken(sub, email, roles...)
}
