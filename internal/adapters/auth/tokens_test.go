package auth

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "0123456789abcdef-test"

func fixedClock(at time.Time) func() time.Time {
	return func() time.Time { return at }
}

func TestIssueVerifyRoundTrip(t *testing.T) {
	now := time.Date(2026, 2, 21, 12, 0, 0, 0, time.UTC)
	tokens, err := NewTokens(TokensConfig{Secret: testSecret, TTL: time.Hour, Now: fixedClock(now)})
	require.NoError(t, err)

	raw, claims, err := tokens.Issue(" alice ")
	require.NoError(t, err)
	assert.Equal(t, "alice", claims.Subject)
	assert.Equal(t, DefaultIssuer, claims.Issuer)
	assert.NotEmpty(t, claims.ID)
	assert.True(t, now.Add(time.Hour).Equal(claims.ExpiresAt.Time))

	username, err := tokens.Verify(raw)
	require.NoError(t, err)
	assert.Equal(t, "alice", username)

	_, second, err := tokens.Issue("alice")
	require.NoError(t, err)
	assert.NotEqual(t, claims.ID, second.ID)
}

func TestVerifyRejects(t *testing.T) {
	now := time.Date(2026, 2, 21, 12, 0, 0, 0, time.UTC)
	tokens, err := NewTokens(TokensConfig{Secret: testSecret, TTL: time.Minute, Now: fixedClock(now)})
	require.NoError(t, err)
	raw, _, err := tokens.Issue("alice")
	require.NoError(t, err)

	later, err := NewTokens(TokensConfig{Secret: testSecret, Now: fixedClock(now.Add(2 * time.Minute))})
	require.NoError(t, err)
	_, err = later.Verify(raw)
	require.ErrorIs(t, err, ErrInvalidToken)
	require.ErrorIs(t, err, jwt.ErrTokenExpired)

	other, err := NewTokens(TokensConfig{Secret: "another-secret-value", Now: fixedClock(now)})
	require.NoError(t, err)
	_, err = other.Verify(raw)
	require.ErrorIs(t, err, ErrInvalidToken)

	foreign, err := NewTokens(TokensConfig{Secret: testSecret, Issuer: "someone-else", Now: fixedClock(now)})
	require.NoError(t, err)
	_, err = foreign.Verify(raw)
	require.ErrorIs(t, err, ErrInvalidToken)

	_, err = tokens.Verify("not-a-jwt")
	require.ErrorIs(t, err, ErrInvalidToken)
	_, err = tokens.Verify(" ")
	require.ErrorIs(t, err, ErrMissingToken)

	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{Subject: "alice"}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = tokens.Verify(unsigned)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestNewTokensValidatesSecret(t *testing.T) {
	_, err := NewTokens(TokensConfig{Secret: "short"})
	require.Error(t, err)
}

func TestBearerToken(t *testing.T) {
	cases := []struct {
		header string
		want   string
		err    error
	}{
		{"Bearer abc.def", "abc.def", nil},
		{"bearer   abc", "abc", nil},
		{"", "", ErrMissingToken},
		{"Basic abc", "", ErrMissingToken},
		{"Bearer", "", ErrMissingToken},
	}
	for _, tc := range cases {
		req := httptest.NewRequest("GET", "/", nil)
		if tc.header != "" {
			req.Header.Set("Authorization", tc.header)
		}
		got, err := BearerToken(req)
		if tc.err != nil {
			assert.ErrorIs(t, err, tc.err, tc.header)
			continue
		}
		require.NoError(t, err, tc.header)
		assert.Equal(t, tc.want, got)
	}
}
