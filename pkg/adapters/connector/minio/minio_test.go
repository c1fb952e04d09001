package minio

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/datasaki/datasaki-engine/pkg/adapters/connector"
	"github.com/datasaki/datasaki-engine/pkg/apperrors"
)

func TestEndpoint(t *testing.T) {
	tests := []struct {
		in         string
		want       string
		wantSecure bool
	}{
		{"minio.internal:9100", "minio.internal:9100", false},
		{"minio.internal", "minio.internal:9000", false},
		{"https://files.example.com:443/", "files.example.com:443", true},
		{"http://minio.internal:9000", "minio.internal:9000", false},
	}
	for _, tt := range tests {
		got, secure, err := Endpoint(connector.Params{Details: map[string]any{"endpoint": tt.in}})
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
		assert.Equal(t, tt.wantSecure, secure, tt.in)
	}
}

func TestEndpoint_Invalid(t *testing.T) {
	for _, in := range []string{"", "host:99999", "host/path"} {
		_, _, err := Endpoint(connector.Params{Details: map[string]any{"endpoint": in}})
		assert.True(t, errors.Is(err, apperrors.ErrValidation), in)
	}
}

func TestOpen_ReturnsObjectBackend(t *testing.T) {
	capability, err := Open(context.Background(), connector.Params{Details: map[string]any{
		"endpoint": "minio.internal:9000", "bucket": "raw", "access_key": "k", "secret_key": "s", "prefix": "landing",
	}}, zap.NewNop())
	require.NoError(t, err)
	backend, ok := capability.(*connector.ObjectBackend)
	require.True(t, ok)
	assert.Equal(t, "landing", backend.Prefix)
	require.NoError(t, capability.Close())
}

func TestRegistration_RequiresCredentials(t *testing.T) {
	reg := Registration()
	assert.Equal(t, connector.FamilyCloud, reg.Info.Family)
	assert.Contains(t, reg.Info.RequiredFields, "secret_key")
}
