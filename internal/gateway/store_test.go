package gateway

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreConsume(t *testing.T) {
	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	s := NewStore()
	s.Put("login", "+15550001", "123456", now.Add(time.Minute))

	assert.False(t, s.Consume("login", "+15550001", "000000", now), "wrong code")
	assert.False(t, s.Consume("other", "+15550001", "123456", now), "wrong session")
	assert.False(t, s.Consume("login", "+15550002", "123456", now), "wrong phone")

	require.True(t, s.Consume("login", "+15550001", "123456", now))
	assert.False(t, s.Consume("login", "+15550001", "123456", now), "single use")
	assert.Zero(t, s.Len())
}

func TestStoreExpired(t *testing.T) {
	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	s := NewStore()
	s.Put("login", "+15550001", "123456", now.Add(time.Minute))

	assert.False(t, s.Consume("login", "+15550001", "123456", now.Add(time.Minute)))
	assert.Zero(t, s.Len(), "expired entry is dropped on lookup")
}

func TestStoreReplace(t *testing.T) {
	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	s := NewStore()
	s.Put("login", "+15550001", "111111", now.Add(time.Minute))
	s.Put("login", "+15550001", "222222", now.Add(time.Minute))

	assert.False(t, s.Consume("login", "+15550001", "111111", now))
	assert.True(t, s.Consume("login", "+15550001", "222222", now))
}

func TestStorePrune(t *testing.T) {
	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	s := NewStore()
	s.Put("a", "1", "1111", now.Add(-time.Second))
	s.Put("b", "1", "1111", now)
	s.Put("c", "1", "1111", now.Add(time.Second))

	assert.Equal(t, 2, s.Prune(now))
	assert.Equal(t, 1, s.Len())
}

func TestHashCodeDoesNotContainCode(t *testing.T) {
	h := hashCode("login", "+15550001", "482193")
	assert.Len(t, h, 64)
	assert.NotContains(t, h, "482193")
}

func TestNextPrune(t *testing.T) {
	ref := time.Date(2025, 3, 1, 10, 0, 30, 0, time.UTC)

	next, err := NextPrune(DefaultPruneSchedule, ref)
	require.NoError(t, err)
	assert.True(t, time.Date(2025, 3, 1, 10, 1, 0, 0, time.UTC).Equal(next), next)

	next, err = NextPrune("*/15 * * * *", ref)
	require.NoError(t, err)
	assert.True(t, time.Date(2025, 3, 1, 10, 15, 0, 0, time.UTC).Equal(next), next)

	_, err = NextPrune("not a cron", ref)
	assert.ErrorContains(t, err, "invalid cron expression")
}

func TestTokenIssuer(t *testing.T) {
	issuer := NewTokenIssuer("secret", time.Hour)
	now := time.Now()

	token, err := issuer.Issue("+15550001", "login", now)
	require.NoError(t, err)

	claims, err := issuer.Validate(token)
	require.NoError(t, err)
	assert.Equal(t, "+15550001", claims.Subject)
	assert.Equal(t, "login", claims.SessionID)
	assert.NotEmpty(t, claims.ID)
	assert.WithinDuration(t, now.Add(time.Hour), claims.ExpiresAt.Time, time.Second)

	_, err = NewTokenIssuer("other", time.Hour).Validate(token)
	assert.Error(t, err)
}

func TestTokenIssuerExpired(t *testing.T) {
	issuer := NewTokenIssuer("secret", time.Minute)
	token, err := issuer.Issue("+15550001", "login", time.Now().Add(-time.Hour))
	require.NoError(t, err)

	_, err = issuer.Validate(token)
	assert.Error(t, err)
}

func TestPhoneRegion(t *testing.T) {
	assert.Equal(t, "GB", phoneRegion("+442071838750"))
	assert.Equal(t, "GB", phoneRegion("442071838750"))
	assert.Equal(t, "unknown", phoneRegion("not a phone"))
}
