package auth

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseClaims(t *testing.T) {
	signed, err := signHS256(testSigningKey, "iss", "id-1",
		Principal{UserID: "u9", Email: "u9@example.com", Role: "guest", TenantID: "EAST"}, epoch, time.Hour)
	require.NoError(t, err)

	tests := []struct {
		name    string
		raw     string
		code    string
		subject string
	}{
		{name: "valid", raw: signed, subject: "u9"},
		{name: "empty", raw: "", code: ErrTokenInvalid},
		{name: "garbage", raw: "not-a-jwt", code: ErrTokenMalformed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			claims, err := ParseClaims(tt.raw)
			if tt.code != "" {
				require.Error(t, err)
				assert.True(t, IsAuthError(err, tt.code), err.Error())
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.subject, claims.Subject)
			assert.Equal(t, "EAST", claims.Principal().TenantID)
		})
	}
}

func TestParseClaimsRequiresSubject(t *testing.T) {
	signed, err := signHS256(testSigningKey, "iss", "id", Principal{}, epoch, time.Hour)
	require.NoError(t, err)

	_, err = ParseClaims(signed)
	assert.True(t, IsAuthError(err, ErrTokenInvalid))
}

func TestAuthErrorFormattingAndMatching(t *testing.T) {
	cause := errors.New("connection refused")
	err := WrapError(ErrRefreshFailed, "identity provider did not issue a token", cause, nil)

	assert.Equal(t, "AUTH_REFRESH_FAILED: identity provider did not issue a token (caused by: connection refused)", err.Error())
	assert.Equal(t, ErrRefreshFailed, err.ErrorCode())
	assert.ErrorIs(t, err, cause)

	wrapped := fmt.Errorf("get items: %w", err)
	assert.True(t, IsAuthError(wrapped, ErrRefreshFailed))
	assert.False(t, IsAuthError(wrapped, ErrNotAuthenticated))
	assert.Equal(t, ErrRefreshFailed, Code(wrapped))
	assert.Equal(t, "", Code(cause))

	plain := NewError(ErrAuthRejected, "unauthorized", nil)
	assert.Equal(t, "AUTH_REJECTED: unauthorized", plain.Error())
}
