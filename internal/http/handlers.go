package http

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/parsascontentcorner/grokgate/internal/auth"
	"github.com/parsascontentcorner/grokgate/internal/models"
	"github.com/parsascontentcorner/grokgate/internal/permissions"
	"github.com/parsascontentcorner/grokgate/internal/service"
)

// Store is the persistence the admin API reads and writes.
type Store interface {
	Health(ctx context.Context) error
	IsAdmin(ctx context.Context, userID, guildID string) (bool, error)
	GuildsForAdmin(ctx context.Context, userID string) ([]string, error)
	AddAdmin(ctx context.Context, admin *models.AdminUser) error
	RemoveAdmin(ctx context.Context, userID, guildID string) error
	ListAdmins(ctx context.Context, guildID string) ([]*models.AdminUser, error)
	GetGuildConfig(ctx context.Context, guildID string) (*models.GuildConfig, error)
	UpdateGuildConfig(ctx context.Context, guildID string, update *models.ConfigUpdate) (*models.GuildConfig, error)
	GetMessage(ctx context.Context, id int64) (*models.RequestRecord, error)
	PendingMessages(ctx context.Context, guildID string) ([]*models.RequestRecord, error)
	History(ctx context.Context, guildID string, filter models.HistoryFilter) ([]*models.RequestRecord, error)
	Analytics(ctx context.Context, guildID string) (*models.Analytics, error)
	GetUsage(ctx context.Context, guildID, userID string) (*models.Usage, error)
}

// Approver resolves pending requests.
type Approver interface {
	ResolveApproval(ctx context.Context, recordID int64, decision models.Decision, adminID string) (*service.Resolution, error)
}

// PermissionCalculator resolves the bot's effective permissions.
type PermissionCalculator interface {
	CalculatePermissions(ctx context.Context, guildID, channelID string) permissions.Permissions
}

// LoginFlow runs the Discord OAuth login.
type LoginFlow interface {
	BeginLogin(ctx context.Context, redirectTo string) (string, error)
	HandleCallback(ctx context.Context, code, state string) (*auth.LoginResult, error)
}

// SessionVerifier checks Bearer session tokens.
type SessionVerifier interface {
	Parse(token string) (*auth.Claims, error)
}

// Handlers contains all HTTP handlers
type Handlers struct {
	store     Store
	approvals Approver
	perms     PermissionCalculator
	login     LoginFlow
	sessions  SessionVerifier
	validate  *validator.Validate
	logger    *zap.Logger
}

// NewHandlers creates a new handlers instance
func NewHandlers(store Store, approvals Approver, login LoginFlow, sessions SessionVerifier, logger *zap.Logger) *Handlers {
	return &Handlers{
		store:     store,
		approvals: approvals,
		login:     login,
		sessions:  sessions,
		validate:  newValidator(),
		logger:    logger,
	}
}

// SetPermissions enables the permissions endpoint. Without it the endpoint
// answers 503.
func (h *Handlers) SetPermissions(p PermissionCalculator) {
	h.perms = p
}

// Health reports database reachability.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Health(r.Context()); err != nil {
		h.logger.Error("health check failed", zap.Error(err))
		h.writeJSON(w, http.StatusServiceUnavailable, map[string]bool{"ok": false})
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// Login redirects the browser to Discord's consent screen.
func (h *Handlers) Login(w http.ResponseWriter, r *http.Request) {
	authURL, err := h.login.BeginLogin(r.Context(), r.URL.Query().Get("redirect_to"))
	if err != nil {
		h.logger.Error("failed to start login", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "internal_error", "Failed to start login", nil)
		return
	}
	http.Redirect(w, r, authURL, http.StatusFound)
}

// Callback handles the OAuth callback from Discord
func (h *Handlers) Callback(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	if errParam := query.Get("error"); errParam != "" {
		h.logger.Warn("oauth error from discord",
			zap.String("error", errParam),
			zap.String("description", query.Get("error_description")),
		)
		h.writeError(w, http.StatusBadRequest, "oauth_error", "Discord returned an error: "+errParam, nil)
		return
	}

	code := query.Get("code")
	state := query.Get("state")
	if code == "" || state == "" {
		h.writeError(w, http.StatusBadRequest, "bad_request", "Missing required parameters (code or state)", nil)
		return
	}

	result, err := h.login.HandleCallback(r.Context(), code, state)
	if err != nil {
		h.logger.Warn("failed to handle oauth callback", zap.Error(err))
		h.writeError(w, http.StatusUnauthorized, "authentication_failed", "Failed to complete authentication. Please try again.", nil)
		return
	}

	h.writeJSON(w, http.StatusOK, result)
}

// Me returns the identity behind the session token.
func (h *Handlers) Me(w http.ResponseWriter, r *http.Request) {
	identity, _ := IdentityFromContext(r.Context())
	h.writeJSON(w, http.StatusOK, identity)
}

// ListGuilds returns the guilds the caller administers.
func (h *Handlers) ListGuilds(w http.ResponseWriter, r *http.Request) {
	identity, _ := IdentityFromContext(r.Context())

	guilds, err := h.store.GuildsForAdmin(r.Context(), identity.DiscordUserID)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}
	if guilds == nil {
		guilds = []string{}
	}
	h.writeJSON(w, http.StatusOK, map[string][]string{"guilds": guilds})
}

// GetConfig returns the guild's policy config.
func (h *Handlers) GetConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.store.GetGuildConfig(r.Context(), chi.URLParam(r, "guildID"))
	if err != nil {
		h.handleServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, cfg)
}

// UpdateConfig merges the provided fields into the guild's config.
func (h *Handlers) UpdateConfig(w http.ResponseWriter, r *http.Request) {
	var update models.ConfigUpdate
	if !h.decodeAndValidate(w, r, &update) {
		return
	}
	if update.IsEmpty() {
		h.writeError(w, http.StatusBadRequest, "bad_request", "No config fields provided", nil)
		return
	}

	guildID := chi.URLParam(r, "guildID")
	cfg, err := h.store.UpdateGuildConfig(r.Context(), guildID, &update)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	identity, _ := IdentityFromContext(r.Context())
	h.logger.Info("guild config changed",
		zap.String("guild_id", guildID),
		zap.String("admin_id", identity.DiscordUserID),
	)
	h.writeJSON(w, http.StatusOK, cfg)
}

// ListPending returns the approval queue.
func (h *Handlers) ListPending(w http.ResponseWriter, r *http.Request) {
	records, err := h.store.PendingMessages(r.Context(), chi.URLParam(r, "guildID"))
	if err != nil {
		h.handleServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, nonNilRecords(records))
}

// ListHistory returns logged requests filtered by status and command type.
func (h *Handlers) ListHistory(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := models.HistoryFilter{Limit: 50}

	if raw := query.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "bad_request", "limit must be an integer", nil)
			return
		}
		filter.Limit = limit
	}
	if raw := query.Get("status"); raw != "" {
		status, err := models.ParseRequestStatus(raw)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "bad_request", err.Error(), nil)
			return
		}
		filter.Status = status
	}
	if raw := query.Get("command_type"); raw != "" {
		kind, err := models.ParseCommandKind(raw)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "bad_request", err.Error(), nil)
			return
		}
		filter.CommandType = kind
	}
	filter.Normalize()

	records, err := h.store.History(r.Context(), chi.URLParam(r, "guildID"), filter)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, nonNilRecords(records))
}

// GetAnalytics returns request and spend aggregates for the guild.
func (h *Handlers) GetAnalytics(w http.ResponseWriter, r *http.Request) {
	analytics, err := h.store.Analytics(r.Context(), chi.URLParam(r, "guildID"))
	if err != nil {
		h.handleServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, analytics)
}

// GetUsage returns today's counters, for one user when user_id is given.
func (h *Handlers) GetUsage(w http.ResponseWriter, r *http.Request) {
	usage, err := h.store.GetUsage(r.Context(), chi.URLParam(r, "guildID"), r.URL.Query().Get("user_id"))
	if err != nil {
		h.handleServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, usage)
}

// PermissionsResponse describes what the bot may do in a guild or channel.
type PermissionsResponse struct {
	GuildID      string                  `json:"guild_id"`
	ChannelID    string                  `json:"channel_id,omitempty"`
	Permissions  permissions.Permissions `json:"permissions"`
	FunFeatures  bool                    `json:"fun_features"`
	GuildManager bool                    `json:"guild_manager"`
}

// GetPermissions resolves the bot's permissions, narrowed to channel_id when given.
func (h *Handlers) GetPermissions(w http.ResponseWriter, r *http.Request) {
	if h.perms == nil {
		h.writeError(w, http.StatusServiceUnavailable, "platform_unavailable", "The Discord bot is not connected", nil)
		return
	}

	guildID := chi.URLParam(r, "guildID")
	channelID := r.URL.Query().Get("channel_id")
	perms := h.perms.CalculatePermissions(r.Context(), guildID, channelID)

	h.writeJSON(w, http.StatusOK, PermissionsResponse{
		GuildID:      guildID,
		ChannelID:    channelID,
		Permissions:  perms,
		FunFeatures:  permissions.FunFeatures(perms),
		GuildManager: permissions.IsGuildManager(perms),
	})
}

// ListAdmins returns the guild's admins.
func (h *Handlers) ListAdmins(w http.ResponseWriter, r *http.Request) {
	admins, err := h.store.ListAdmins(r.Context(), chi.URLParam(r, "guildID"))
	if err != nil {
		h.handleServiceError(w, err)
		return
	}
	if admins == nil {
		admins = []*models.AdminUser{}
	}
	h.writeJSON(w, http.StatusOK, map[string][]*models.AdminUser{"admins": admins})
}

// AddAdminRequest is the body of POST /admins.
type AddAdminRequest struct {
	DiscordUserID string `json:"discord_user_id" validate:"required,numeric,max=32"`
}

// AddAdmin grants admin access to another Discord user.
func (h *Handlers) AddAdmin(w http.ResponseWriter, r *http.Request) {
	var req AddAdminRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}

	guildID := chi.URLParam(r, "guildID")
	admin := &models.AdminUser{
		DiscordUserID: req.DiscordUserID,
		GuildID:       guildID,
		Role:          models.AdminRoleAdmin,
	}
	if err := h.store.AddAdmin(r.Context(), admin); err != nil {
		h.handleServiceError(w, err)
		return
	}

	identity, _ := IdentityFromContext(r.Context())
	h.logger.Info("admin added",
		zap.String("guild_id", guildID),
		zap.String("discord_id", req.DiscordUserID),
		zap.String("added_by", identity.DiscordUserID),
	)
	h.writeJSON(w, http.StatusCreated, map[string]string{"status": "added", "discord_user_id": req.DiscordUserID})
}

// RemoveAdmin revokes admin access.
func (h *Handlers) RemoveAdmin(w http.ResponseWriter, r *http.Request) {
	guildID := chi.URLParam(r, "guildID")
	userID := chi.URLParam(r, "adminUserID")

	if err := h.store.RemoveAdmin(r.Context(), userID, guildID); err != nil {
		h.handleServiceError(w, err)
		return
	}

	h.logger.Info("admin removed", zap.String("guild_id", guildID), zap.String("discord_id", userID))
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "removed"})
}

// ApprovalRequest is the body of POST /api/approvals/{messageID}.
type ApprovalRequest struct {
	Decision           string `json:"decision" validate:"required,oneof=grok manual reject"`
	ManualReplyContent string `json:"manual_reply_content" validate:"max=2000"`
	Reason             string `json:"reason" validate:"max=2000"`
}

// ApprovalResponse reports the resolved status and the reply sent.
type ApprovalResponse struct {
	ID         int64                `json:"id"`
	Status     models.RequestStatus `json:"status"`
	Reply      string               `json:"reply"`
	ImageURL   string               `json:"image_url,omitempty"`
	DeliveryID string               `json:"delivery_id,omitempty"`
}

// ResolveApproval applies an admin decision to a pending request. The caller
// must administer the request's guild.
func (h *Handlers) ResolveApproval(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "messageID"), 10, 64)
	if err != nil || id <= 0 {
		h.writeError(w, http.StatusBadRequest, "bad_request", "messageID must be a positive integer", nil)
		return
	}

	rec, err := h.store.GetMessage(r.Context(), id)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}
	if !h.authorize(w, r, rec.GuildID) {
		return
	}

	var req ApprovalRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}
	decision, err := models.ParseDecision(req.Decision, req.ManualReplyContent, req.Reason)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "bad_request", err.Error(), nil)
		return
	}

	identity, _ := IdentityFromContext(r.Context())
	res, err := h.approvals.ResolveApproval(r.Context(), id, decision, identity.DiscordUserID)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	resp := ApprovalResponse{
		ID:       res.RecordID,
		Status:   res.Status,
		Reply:    res.Reply,
		ImageURL: res.ImageURL,
	}
	if res.Delivery != nil {
		resp.DeliveryID = res.Delivery.ID
	}
	h.writeJSON(w, http.StatusOK, resp)
}

func nonNilRecords(records []*models.RequestRecord) []*models.RequestRecord {
	if records == nil {
		return []*models.RequestRecord{}
	}
	return records
}
