package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUserId(t *testing.T) {
	tcases := []struct {
		name     string
		ctx      context.Context
		userId   int
		expected bool
	}{
		{
			name:     "no user ID",
			ctx:      context.Background(),
			expected: false,
		},
		{
			name:     "user ID set",
			ctx:      WithUserId(context.Background(), 42),
			userId:   42,
			expected: true,
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			userId, ok := UserId(tc.ctx)
			assert.Equal(t, tc.expected, ok, "expected UserId to return %v", tc.expected)
			assert.Equal(t, tc.userId, userId, "expected UserId to return %d", tc.userId)
		})
	}
}

func Test_tokenFromRequest(t *testing.T) {
	tcases := []struct {
		name     string
		cookie   string
		header   string
		expected string
		wantErr  bool
	}{
		{
			name:     "cookie",
			cookie:   "cookie-token",
			expected: "cookie-token",
		},
		{
			name:     "bearer header",
			header:   "Bearer header-token",
			expected: "header-token",
		},
		{
			name:     "cookie wins over header",
			cookie:   "cookie-token",
			header:   "Bearer header-token",
			expected: "cookie-token",
		},
		{
			name:    "basic auth is ignored",
			header:  "Basic dXNlcjpwYXNz",
			wantErr: true,
		},
		{
			name:    "empty bearer",
			header:  "Bearer ",
			wantErr: true,
		},
		{
			name:    "nothing",
			wantErr: true,
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tc.cookie != "" {
				req.AddCookie(&http.Cookie{Name: tokenCookieKey, Value: tc.cookie})
			}
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}

			token, err := tokenFromRequest(req)
			if tc.wantErr {
				assert.ErrorIs(t, err, errMissingToken)
				return
			}

			assert.NoError(t, err)
			assert.Equal(t, tc.expected, token)
		})
	}
}

func Test_extractUserIdFromToken(t *testing.T) {
	app := &SwapChatApp{signingKey: testSigningKey}

	valid, err := IssueToken(42, time.Hour, testSigningKey)
	require.NoError(t, err)

	otherKey, err := IssueToken(42, time.Hour, []byte("another-key"))
	require.NoError(t, err)

	expired, err := IssueToken(42, -time.Minute, testSigningKey)
	require.NoError(t, err)

	noUser, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		expClaim: time.Now().Add(time.Hour).Unix(),
	}).SignedString(testSigningKey)
	require.NoError(t, err)

	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{
		userIdClaim: 42,
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	tcases := []struct {
		name    string
		token   string
		userId  int
		wantErr bool
	}{
		{name: "valid", token: valid, userId: 42},
		{name: "signed with another key", token: otherKey, wantErr: true},
		{name: "expired", token: expired, wantErr: true},
		{name: "missing user id claim", token: noUser, wantErr: true},
		{name: "unsigned", token: unsigned, wantErr: true},
		{name: "garbage", token: "not-a-jwt", wantErr: true},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			userId, err := app.extractUserIdFromToken(tc.token)
			if tc.wantErr {
				assert.Error(t, err)
				return
			}

			assert.NoError(t, err)
			assert.Equal(t, tc.userId, userId)
		})
	}
}
