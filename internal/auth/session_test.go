package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parsascontentcorner/grokgate/internal/models"
	"github.com/parsascontentcorner/grokgate/internal/testutil"
)

var testIdentity = models.AdminIdentity{
	DiscordUserID: "1001",
	Username:      "mod",
	Avatar:        "abc",
}

func TestSessionManager_IssueAndParse(t *testing.T) {
	sm := NewSessionManager(testutil.GenerateSigningKey(), time.Hour)

	token, expiresAt, err := sm.Issue(testIdentity)
	require.NoError(t, err)
	assert.NotEmpty(t, token)
	testutil.AssertTimeAlmostEqual(t, time.Now().Add(time.Hour), expiresAt, 2*time.Second)

	claims, err := sm.Parse(token)
	require.NoError(t, err)
	assert.Equal(t, testIdentity, claims.Identity())
	assert.NotEmpty(t, claims.ID)
	assert.Equal(t, sessionIssuer, claims.Issuer)
}

func TestSessionManager_UniqueIDs(t *testing.T) {
	sm := NewSessionManager(testutil.GenerateSigningKey(), time.Hour)

	a, _, err := sm.Issue(testIdentity)
	require.NoError(t, err)
	b, _, err := sm.Issue(testIdentity)
	require.NoError(t, err)

	ca, err := sm.Parse(a)
	require.NoError(t, err)
	cb, err := sm.Parse(b)
	require.NoError(t, err)
	assert.NotEqual(t, ca.ID, cb.ID)
}

func TestSessionManager_RequiresUser(t *testing.T) {
	sm := NewSessionManager(testutil.GenerateSigningKey(), time.Hour)

	_, _, err := sm.Issue(models.AdminIdentity{Username: "nobody"})
	assert.Error(t, err)
}

func TestSessionManager_Expired(t *testing.T) {
	sm := NewSessionManager(testutil.GenerateSigningKey(), time.Hour)

	token, _, err := sm.Issue(testIdentity)
	require.NoError(t, err)

	sm.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	_, err = sm.Parse(token)
	assert.True(t, errors.Is(err, ErrTokenExpired))
}

func TestSessionManager_Invalid(t *testing.T) {
	sm := NewSessionManager(testutil.GenerateSigningKey(), time.Hour)
	other := NewSessionManager(testutil.GenerateSigningKey(), time.Hour)

	foreign, _, err := other.Issue(testIdentity)
	require.NoError(t, err)

	none := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{Subject: "1001", Issuer: sessionIssuer})
	unsigned, err := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	for name, token := range map[string]string{
		"garbage":   "not.a.token",
		"wrong key": foreign,
		"alg none":  unsigned,
		"empty":     "",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := sm.Parse(token)
			assert.True(t, errors.Is(err, ErrInvalidToken), "got %v", err)
		})
	}
}
