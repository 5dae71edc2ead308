package database

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parsascontentcorner/grokgate/internal/models"
)

func generateOAuthState(ttl time.Duration) *models.OAuthState {
	return &models.OAuthState{
		State:      uuid.NewString(),
		RedirectTo: "/dashboard",
		ExpiresAt:  time.Now().Add(ttl),
	}
}

func TestCreateOAuthState_Success(t *testing.T) {
	skipWithoutDocker(t)
	ctx := context.Background()
	db, cleanup, err := setupTestDB(ctx)
	require.NoError(t, err)
	defer cleanup()

	state := generateOAuthState(10 * time.Minute)
	require.NoError(t, db.CreateOAuthState(ctx, state))
	assert.False(t, state.CreatedAt.IsZero())
}

func TestValidateAndDeleteOAuthState_SingleUse(t *testing.T) {
	skipWithoutDocker(t)
	ctx := context.Background()
	db, cleanup, err := setupTestDB(ctx)
	require.NoError(t, err)
	defer cleanup()

	state := generateOAuthState(10 * time.Minute)
	require.NoError(t, db.CreateOAuthState(ctx, state))

	got, err := db.ValidateAndDeleteOAuthState(ctx, state.State)
	require.NoError(t, err)
	assert.Equal(t, "/dashboard", got.RedirectTo)

	_, err = db.ValidateAndDeleteOAuthState(ctx, state.State)
	assert.ErrorIs(t, err, models.ErrStateNotFound)
}

func TestValidateAndDeleteOAuthState_Expired(t *testing.T) {
	skipWithoutDocker(t)
	ctx := context.Background()
	db, cleanup, err := setupTestDB(ctx)
	require.NoError(t, err)
	defer cleanup()

	state := generateOAuthState(-time.Minute)
	require.NoError(t, db.CreateOAuthState(ctx, state))

	_, err = db.ValidateAndDeleteOAuthState(ctx, state.State)
	assert.ErrorIs(t, err, models.ErrStateExpired)
}

func TestValidateAndDeleteOAuthState_Concurrent(t *testing.T) {
	skipWithoutDocker(t)
	ctx := context.Background()
	db, cleanup, err := setupTestDB(ctx)
	require.NoError(t, err)
	defer cleanup()

	state := generateOAuthState(10 * time.Minute)
	require.NoError(t, db.CreateOAuthState(ctx, state))

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		success int
	)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := db.ValidateAndDeleteOAuthState(ctx, state.State); err == nil {
				mu.Lock()
				success++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, success)
}

func TestCleanupExpiredStates(t *testing.T) {
	skipWithoutDocker(t)
	ctx := context.Background()
	db, cleanup, err := setupTestDB(ctx)
	require.NoError(t, err)
	defer cleanup()

	require.NoError(t, db.CreateOAuthState(ctx, generateOAuthState(-time.Hour)))
	require.NoError(t, db.CreateOAuthState(ctx, generateOAuthState(-time.Minute)))
	live := generateOAuthState(time.Hour)
	require.NoError(t, db.CreateOAuthState(ctx, live))

	deleted, err := db.CleanupExpiredStates(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), deleted)

	_, err = db.ValidateAndDeleteOAuthState(ctx, live.State)
	assert.NoError(t, err)
}

func TestUsage_IncrementsUserAndGuild(t *testing.T) {
	skipWithoutDocker(t)
	ctx := context.Background()
	db, cleanup, err := setupTestDB(ctx)
	require.NoError(t, err)
	defer cleanup()

	usage, err := db.GetUsage(ctx, "guild-1", "user-1")
	require.NoError(t, err)
	assert.Equal(t, models.UsageCounters{}, usage.UserCounters())
	assert.Equal(t, models.UsageCounters{}, usage.Guild)

	require.NoError(t, db.IncrementDailyChatUsage(ctx, "guild-1", "user-1", 150))
	require.NoError(t, db.IncrementDailyChatUsage(ctx, "guild-1", "user-2", 50))
	require.NoError(t, db.IncrementDailyImageUsage(ctx, "guild-1", "user-1", 1))
	require.NoError(t, db.IncrementDailyChatUsage(ctx, "guild-1", "user-1", 0))

	usage, err = db.GetUsage(ctx, "guild-1", "user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(150), usage.UserCounters().ChatTokensUsed)
	assert.Equal(t, int64(1), usage.UserCounters().ImagesGenerated)
	assert.Equal(t, int64(200), usage.Guild.ChatTokensUsed)
	assert.Equal(t, int64(1), usage.Guild.ImagesGenerated)

	guildOnly, err := db.GetUsage(ctx, "guild-1", "")
	require.NoError(t, err)
	assert.Nil(t, guildOnly.User)
	assert.Equal(t, int64(200), guildOnly.Guild.ChatTokensUsed)

	assert.Error(t, db.IncrementDailyChatUsage(ctx, "guild-1", "user-1", -5))
}

func TestUsage_ScopedToUTCDay(t *testing.T) {
	skipWithoutDocker(t)
	ctx := context.Background()
	db, cleanup, err := setupTestDB(ctx)
	require.NoError(t, err)
	defer cleanup()

	yesterday := time.Now().UTC().Add(-24 * time.Hour)
	db.SetClock(func() time.Time { return yesterday })
	require.NoError(t, db.IncrementDailyImageUsage(ctx, "guild-1", "user-1", 3))

	db.SetClock(time.Now)
	usage, err := db.GetUsage(ctx, "guild-1", "user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), usage.UserCounters().ImagesGenerated)
	assert.Equal(t, models.UsageDay(time.Now()), usage.Day)
}

func TestAdmins(t *testing.T) {
	skipWithoutDocker(t)
	ctx := context.Background()
	db, cleanup, err := setupTestDB(ctx)
	require.NoError(t, err)
	defer cleanup()

	isAdmin, err := db.IsAdmin(ctx, "user-1", "guild-1")
	require.NoError(t, err)
	assert.False(t, isAdmin)

	admin := &models.AdminUser{DiscordUserID: "user-1", GuildID: "guild-1"}
	require.NoError(t, db.AddAdmin(ctx, admin))
	assert.Equal(t, models.AdminRoleAdmin, admin.Role)
	require.NoError(t, db.AddAdmin(ctx, &models.AdminUser{DiscordUserID: "user-1", GuildID: "guild-2", Role: models.AdminRoleOwner}))

	isAdmin, err = db.IsAdmin(ctx, "user-1", "guild-1")
	require.NoError(t, err)
	assert.True(t, isAdmin)

	admins, err := db.ListAdmins(ctx, "guild-2")
	require.NoError(t, err)
	require.Len(t, admins, 1)
	assert.Equal(t, models.AdminRoleOwner, admins[0].Role)

	guilds, err := db.GuildsForAdmin(ctx, "user-1")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"guild-1", "guild-2"}, guilds)

	require.NoError(t, db.RemoveAdmin(ctx, "user-1", "guild-1"))
	assert.ErrorIs(t, db.RemoveAdmin(ctx, "user-1", "guild-1"), models.ErrAdminNotFound)
}

func TestAnalytics(t *testing.T) {
	skipWithoutDocker(t)
	ctx := context.Background()
	db, cleanup, err := setupTestDB(ctx)
	require.NoError(t, err)
	defer cleanup()

	empty, err := db.Analytics(ctx, "guild-1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), empty.TotalRequests)
	assert.Empty(t, empty.TopUsers)

	answered := newRecord("guild-1", "user-1", "one question", models.StatusAutoResponded)
	answered.TotalTokens.Int64, answered.TotalTokens.Valid = 100, true
	_, err = db.RecordMessage(ctx, answered)
	require.NoError(t, err)
	_, err = db.RecordMessage(ctx, newRecord("guild-1", "user-1", "two question", models.StatusPendingApproval))
	require.NoError(t, err)
	img := newRecord("guild-1", "user-2", "a picture", models.StatusAutoResponded)
	img.CommandType = models.CommandImage
	_, err = db.RecordMessage(ctx, img)
	require.NoError(t, err)

	a, err := db.Analytics(ctx, "guild-1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), a.TotalRequests)
	assert.Equal(t, int64(2), a.AskRequests)
	assert.Equal(t, int64(1), a.ImageRequests)
	assert.Equal(t, int64(100), a.TotalTokens)
	assert.Equal(t, int64(1), a.PendingCount)
	require.Len(t, a.TopUsers, 2)
	assert.Equal(t, "user-1", a.TopUsers[0].UserID)
	assert.Equal(t, int64(2), a.TopUsers[0].Requests)
	assert.Len(t, a.ByStatus, 2)
}
