package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parsascontentcorner/grokgate/internal/models"
)

// RecordGetter reads one request record.
type RecordGetter interface {
	GetMessage(ctx context.Context, id int64) (*models.RequestRecord, error)
}

// UsageGetter reads today's usage.
type UsageGetter interface {
	GetUsage(ctx context.Context, guildID, userID string) (*models.Usage, error)
}

// AssertRecordStatus loads a record and checks its status and error code.
func AssertRecordStatus(t *testing.T, store RecordGetter, id int64, status models.RequestStatus, errorCode string) *models.RequestRecord {
	t.Helper()

	rec, err := store.GetMessage(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, status, rec.Status, "status of record %d", id)
	assert.Equal(t, errorCode, rec.ErrorCode.String, "error code of record %d", id)
	return rec
}

// AssertUsage checks today's user and guild counters.
func AssertUsage(t *testing.T, store UsageGetter, guildID, userID string, user, guild models.UsageCounters) {
	t.Helper()

	usage, err := store.GetUsage(context.Background(), guildID, userID)
	require.NoError(t, err)
	assert.Equal(t, user, usage.UserCounters(), "user usage")
	assert.Equal(t, guild, usage.Guild, "guild usage")
}

// AssertStateEqual compares two OAuth states.
func AssertStateEqual(t *testing.T, expected, actual *models.OAuthState) {
	t.Helper()

	assert.Equal(t, expected.State, actual.State, "State should match")
	assert.Equal(t, expected.RedirectTo, actual.RedirectTo, "RedirectTo should match")
	AssertTimeAlmostEqual(t, expected.ExpiresAt, actual.ExpiresAt, 2*time.Second)
}

// AssertTimeAlmostEqual checks if two times are within a specified delta.
func AssertTimeAlmostEqual(t *testing.T, expected, actual time.Time, delta time.Duration) {
	t.Helper()

	diff := expected.Sub(actual)
	if diff < 0 {
		diff = -diff
	}

	assert.True(t,
		diff <= delta,
		"Times should be within %v of each other. Expected: %v, Actual: %v, Diff: %v",
		delta, expected, actual, diff,
	)
}
