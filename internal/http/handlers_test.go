package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/parsascontentcorner/grokgate/internal/auth"
	"github.com/parsascontentcorner/grokgate/internal/models"
	"github.com/parsascontentcorner/grokgate/internal/permissions"
	"github.com/parsascontentcorner/grokgate/internal/service"
	"github.com/parsascontentcorner/grokgate/internal/testutil"
)

const (
	guildID   = "900000000000000001"
	adminID   = "100000000000000001"
	outsider  = "100000000000000002"
	requester = "100000000000000003"
)

type fakeLogin struct {
	result *auth.LoginResult
	err    error
	begun  []string
}

func (f *fakeLogin) BeginLogin(_ context.Context, redirectTo string) (string, error) {
	f.begun = append(f.begun, redirectTo)
	return "https://discord.com/oauth2/authorize?state=abc", nil
}

func (f *fakeLogin) HandleCallback(_ context.Context, code, state string) (*auth.LoginResult, error) {
	return f.result, f.err
}

type apiFixture struct {
	store    *testutil.MemoryStore
	ai       *testutil.FakeAI
	notifier *testutil.FakeNotifier
	sessions *auth.SessionManager
	login    *fakeLogin
	handlers *Handlers
	router   http.Handler
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()

	f := &apiFixture{
		store:    testutil.NewMemoryStore(),
		ai:       testutil.NewFakeAI(),
		notifier: &testutil.FakeNotifier{},
		sessions: auth.NewSessionManager(testutil.GenerateSigningKey(), time.Hour),
		login:    &fakeLogin{},
	}
	workflow := service.NewWorkflow(f.store, f.ai, f.notifier, 5.0, zap.NewNop())
	f.handlers = NewHandlers(f.store, workflow, f.login, f.sessions, zap.NewNop())
	f.router = NewRouter(f.handlers, []string{"http://localhost:3000"})

	require.NoError(t, f.store.AddAdmin(context.Background(), testutil.GenerateAdmin(adminID, guildID)))
	return f
}

func (f *apiFixture) token(t *testing.T, userID string) string {
	t.Helper()
	token, _, err := f.sessions.Issue(models.AdminIdentity{DiscordUserID: userID, Username: "user-" + userID})
	require.NoError(t, err)
	return token
}

func (f *apiFixture) do(t *testing.T, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func (f *apiFixture) pending(t *testing.T, kind models.CommandKind, content string) int64 {
	t.Helper()
	id, err := f.store.RecordMessage(context.Background(), testutil.GeneratePendingRecord(guildID, requester, kind, content))
	require.NoError(t, err)
	return id
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v), rec.Body.String())
}

func TestHealth(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"ok":true}`, rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get("Content-Type"))
}

func TestAuthentication(t *testing.T) {
	f := newAPIFixture(t)
	other := auth.NewSessionManager(testutil.GenerateSigningKey(), time.Hour)
	foreign, _, err := other.Issue(models.AdminIdentity{DiscordUserID: adminID})
	require.NoError(t, err)

	tests := []struct {
		name   string
		header string
	}{
		{"missing header", ""},
		{"wrong scheme", "Basic abc"},
		{"garbage token", "Bearer nonsense"},
		{"foreign key", "Bearer " + foreign},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/guilds", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			f.router.ServeHTTP(rec, req)

			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			var body ErrorResponse
			decode(t, rec, &body)
			assert.Equal(t, "unauthorized", body.Error)
		})
	}
}

func TestGuildAdminRequired(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodGet, "/api/guilds/"+guildID+"/config", f.token(t, outsider), nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/guilds/"+guildID+"/config", f.token(t, adminID), nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMeAndGuilds(t *testing.T) {
	f := newAPIFixture(t)
	token := f.token(t, adminID)

	rec := f.do(t, http.MethodGet, "/auth/me", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var identity models.AdminIdentity
	decode(t, rec, &identity)
	assert.Equal(t, adminID, identity.DiscordUserID)

	rec = f.do(t, http.MethodGet, "/api/guilds", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"guilds":["`+guildID+`"]}`, rec.Body.String())

	rec = f.do(t, http.MethodGet, "/api/guilds", f.token(t, outsider), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"guilds":[]}`, rec.Body.String())
}

func TestConfigEndpoints(t *testing.T) {
	f := newAPIFixture(t)
	token := f.token(t, adminID)
	path := "/api/guilds/" + guildID + "/config"

	rec := f.do(t, http.MethodGet, path, token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var cfg models.GuildConfig
	decode(t, rec, &cfg)
	assert.Equal(t, guildID, cfg.GuildID)
	assert.False(t, cfg.AutoApproveEnabled)

	rec = f.do(t, http.MethodPost, path, token, map[string]interface{}{
		"auto_approve_enabled": true,
		"ask_max_per_window":   9,
		"temperature":          1.5,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	decode(t, rec, &cfg)
	assert.True(t, cfg.AutoApproveEnabled)
	assert.Equal(t, 9, cfg.AskMaxPerWindow)
	assert.Equal(t, 1.5, cfg.Temperature)

	stored, err := f.store.GetGuildConfig(context.Background(), guildID)
	require.NoError(t, err)
	assert.True(t, stored.AutoApproveEnabled)
	// untouched fields keep their values
	assert.Equal(t, models.DefaultGuildConfig(guildID, 4000).ImageMaxPerWindow, stored.ImageMaxPerWindow)
}

func TestConfigValidation(t *testing.T) {
	f := newAPIFixture(t)
	token := f.token(t, adminID)
	path := "/api/guilds/" + guildID + "/config"

	tests := []struct {
		name  string
		body  interface{}
		field string
	}{
		{"window below one", map[string]interface{}{"ask_window_seconds": 0}, "ask_window_seconds"},
		{"negative limit", map[string]interface{}{"user_daily_image_limit": -1}, "user_daily_image_limit"},
		{"temperature too high", map[string]interface{}{"temperature": 2.5}, "temperature"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(t, http.MethodPost, path, token, tt.body)
			require.Equal(t, http.StatusBadRequest, rec.Code)
			var body ErrorResponse
			decode(t, rec, &body)
			assert.Equal(t, "validation_failed", body.Error)
			assert.Contains(t, body.Details, tt.field)
		})
	}

	t.Run("empty update", func(t *testing.T) {
		rec := f.do(t, http.MethodPost, path, token, map[string]interface{}{})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("unknown field", func(t *testing.T) {
		rec := f.do(t, http.MethodPost, path, token, map[string]interface{}{"bogus": 1})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestPendingAndHistory(t *testing.T) {
	f := newAPIFixture(t)
	token := f.token(t, adminID)
	f.pending(t, models.CommandAsk, "what is go")
	f.pending(t, models.CommandImage, "a gopher")

	rec := f.do(t, http.MethodGet, "/api/guilds/"+guildID+"/pending", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var records []map[string]interface{}
	decode(t, rec, &records)
	assert.Len(t, records, 2)
	assert.Equal(t, "pending_approval", records[0]["status"])

	rec = f.do(t, http.MethodGet, "/api/guilds/"+guildID+"/history?command_type=image", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	decode(t, rec, &records)
	require.Len(t, records, 1)
	assert.Equal(t, "image", records[0]["command_type"])

	for _, query := range []string{"limit=abc", "status=done", "command_type=video"} {
		rec = f.do(t, http.MethodGet, "/api/guilds/"+guildID+"/history?"+query, token, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code, query)
	}
}

func TestUsageAndAnalytics(t *testing.T) {
	f := newAPIFixture(t)
	token := f.token(t, adminID)
	f.store.SetUsage(guildID, requester, models.UsageCounters{ChatTokensUsed: 120, ImagesGenerated: 1})
	f.store.SetUsage(guildID, "", models.UsageCounters{ChatTokensUsed: 500, ImagesGenerated: 3})

	rec := f.do(t, http.MethodGet, "/api/guilds/"+guildID+"/usage?user_id="+requester, token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var usage models.Usage
	decode(t, rec, &usage)
	require.NotNil(t, usage.User)
	assert.Equal(t, int64(120), usage.User.ChatTokensUsed)
	assert.Equal(t, int64(3), usage.Guild.ImagesGenerated)

	f.pending(t, models.CommandAsk, "q")
	rec = f.do(t, http.MethodGet, "/api/guilds/"+guildID+"/analytics", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var analytics map[string]interface{}
	decode(t, rec, &analytics)
	assert.Equal(t, float64(1), analytics["pending_count"])
}

func TestAdminManagement(t *testing.T) {
	f := newAPIFixture(t)
	token := f.token(t, adminID)
	base := "/api/guilds/" + guildID + "/admins"

	rec := f.do(t, http.MethodPost, base, token, map[string]string{"discord_user_id": outsider})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	ok, err := f.store.IsAdmin(context.Background(), outsider, guildID)
	require.NoError(t, err)
	assert.True(t, ok)

	rec = f.do(t, http.MethodGet, base, token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Admins []models.AdminUser `json:"admins"`
	}
	decode(t, rec, &list)
	assert.Len(t, list.Admins, 2)

	rec = f.do(t, http.MethodPost, base, token, map[string]string{"discord_user_id": "not-a-number"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodDelete, base+"/"+outsider, token, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodDelete, base+"/"+outsider, token, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestResolveApproval_Manual(t *testing.T) {
	f := newAPIFixture(t)
	id := f.pending(t, models.CommandAsk, "is this allowed?")
	path := "/api/approvals/" + strconv.FormatInt(id, 10)

	rec := f.do(t, http.MethodPost, path, f.token(t, adminID), map[string]string{
		"decision":             "manual",
		"manual_reply_content": "Yes it is.",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp ApprovalResponse
	decode(t, rec, &resp)
	assert.Equal(t, models.StatusApprovedManual, resp.Status)
	assert.Equal(t, "Yes it is.", resp.Reply)
	assert.NotEmpty(t, resp.DeliveryID)

	stored := testutil.AssertRecordStatus(t, f.store, id, models.StatusApprovedManual, "")
	assert.Equal(t, adminID, stored.ApprovedByAdminID.String)

	// the second decision conflicts
	rec = f.do(t, http.MethodPost, path, f.token(t, adminID), map[string]string{"decision": "reject"})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestResolveApproval_Grok(t *testing.T) {
	f := newAPIFixture(t)
	id := f.pending(t, models.CommandAsk, "explain channels")

	rec := f.do(t, http.MethodPost, "/api/approvals/"+strconv.FormatInt(id, 10), f.token(t, adminID),
		map[string]string{"decision": "grok"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp ApprovalResponse
	decode(t, rec, &resp)
	assert.Equal(t, models.StatusApprovedGrok, resp.Status)
	assert.Equal(t, "ok", resp.Reply)
	assert.Equal(t, 1, f.ai.ChatCalls)
}

func TestResolveApproval_GrokFailure(t *testing.T) {
	f := newAPIFixture(t)
	f.ai.ChatErr = errors.New("grok down")
	id := f.pending(t, models.CommandAsk, "explain channels")

	rec := f.do(t, http.MethodPost, "/api/approvals/"+strconv.FormatInt(id, 10), f.token(t, adminID),
		map[string]string{"decision": "grok"})
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	testutil.AssertRecordStatus(t, f.store, id, models.StatusError, service.GrokErrorCode)
}

func TestResolveApproval_Errors(t *testing.T) {
	f := newAPIFixture(t)
	id := f.pending(t, models.CommandAsk, "hello")
	path := "/api/approvals/" + strconv.FormatInt(id, 10)

	tests := []struct {
		name   string
		path   string
		token  string
		body   interface{}
		status int
	}{
		{"bad id", "/api/approvals/abc", f.token(t, adminID), map[string]string{"decision": "grok"}, http.StatusBadRequest},
		{"missing record", "/api/approvals/999", f.token(t, adminID), map[string]string{"decision": "grok"}, http.StatusNotFound},
		{"not an admin", path, f.token(t, outsider), map[string]string{"decision": "grok"}, http.StatusForbidden},
		{"unknown decision", path, f.token(t, adminID), map[string]string{"decision": "maybe"}, http.StatusBadRequest},
		{"missing decision", path, f.token(t, adminID), map[string]string{}, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(t, http.MethodPost, tt.path, tt.token, tt.body)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
		})
	}

	// nothing above changed the record
	testutil.AssertRecordStatus(t, f.store, id, models.StatusPendingApproval, "")
	assert.Equal(t, 0, f.ai.Calls())
}

func TestGetPermissions(t *testing.T) {
	f := newAPIFixture(t)
	token := f.token(t, adminID)
	path := "/api/guilds/" + guildID + "/permissions"

	rec := f.do(t, http.MethodGet, path, token, nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	platform := &testutil.FakePlatform{
		Roles: []*discordgo.Role{
			{ID: guildID, Permissions: 0},
			{ID: "role-mod", Permissions: int64(permissions.ModerateMembers | permissions.ManageNicknames)},
		},
		Member: &discordgo.Member{User: &discordgo.User{ID: "bot"}, Roles: []string{"role-mod"}},
	}
	f.handlers.SetPermissions(permissions.NewResolver(platform, zap.NewNop()))

	rec = f.do(t, http.MethodGet, path, token, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Permissions struct {
			Unrestricted bool   `json:"unrestricted"`
			Bitmask      string `json:"bitmask"`
		} `json:"permissions"`
		FunFeatures  bool `json:"fun_features"`
		GuildManager bool `json:"guild_manager"`
	}
	decode(t, rec, &resp)
	assert.False(t, resp.Permissions.Unrestricted)
	assert.Equal(t, strconv.FormatUint(permissions.ModerateMembers|permissions.ManageNicknames, 10), resp.Permissions.Bitmask)
	assert.True(t, resp.FunFeatures)
	assert.False(t, resp.GuildManager)

	// unknown channel fails closed
	rec = f.do(t, http.MethodGet, path+"?channel_id=missing", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	decode(t, rec, &resp)
	assert.False(t, resp.FunFeatures)
}

func TestLoginAndCallback(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodGet, "/auth/login?redirect_to=/guilds/1", "", nil)
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Contains(t, rec.Header().Get("Location"), "discord.com/oauth2/authorize")
	assert.Equal(t, []string{"/guilds/1"}, f.login.begun)

	rec = f.do(t, http.MethodGet, "/auth/callback?error=access_denied", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodGet, "/auth/callback?code=abc", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	f.login.err = auth.ErrLoginFailed
	rec = f.do(t, http.MethodGet, "/auth/callback?code=abc&state=xyz", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	f.login.err = nil
	f.login.result = &auth.LoginResult{
		Token:      "signed",
		Identity:   models.AdminIdentity{DiscordUserID: adminID},
		RedirectTo: "/",
	}
	rec = f.do(t, http.MethodGet, "/auth/callback?code=abc&state=xyz", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var result auth.LoginResult
	decode(t, rec, &result)
	assert.Equal(t, "signed", result.Token)
}

func TestCORSPreflight(t *testing.T) {
	f := newAPIFixture(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/guilds", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", "GET")
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	assert.Equal(t, "http://localhost:3000", rec.Header().Get("Access-Control-Allow-Origin"))
}
