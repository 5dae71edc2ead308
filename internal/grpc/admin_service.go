package grpc

import (
	"context"
	"errors"
	"math"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/parsascontentcorner/grokgate/internal/models"
	"github.com/parsascontentcorner/grokgate/internal/permissions"
	"github.com/parsascontentcorner/grokgate/internal/service"
)

// Store is the persistence AdminServer reads.
type Store interface {
	IsAdmin(ctx context.Context, userID, guildID string) (bool, error)
	GetMessage(ctx context.Context, id int64) (*models.RequestRecord, error)
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

// AdminServer implements AdminService.
type AdminServer struct {
	store     Store
	approvals Approver
	perms     PermissionCalculator
	logger    *zap.Logger
}

// NewAdminServer creates the admin service. perms may be nil when the bot
// is not connected; GetPermissions then answers Unavailable.
func NewAdminServer(store Store, approvals Approver, perms PermissionCalculator, logger *zap.Logger) *AdminServer {
	return &AdminServer{
		store:     store,
		approvals: approvals,
		perms:     perms,
		logger:    logger,
	}
}

// ResolveApproval takes {message_id, decision, manual_reply_content?, reason?}.
func (s *AdminServer) ResolveApproval(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	fields := req.GetFields()

	idValue, ok := fields["message_id"]
	if !ok {
		return nil, status.Error(codes.InvalidArgument, "message_id is required")
	}
	id := idValue.GetNumberValue()
	if id <= 0 || id != math.Trunc(id) || id >= math.MaxInt64 {
		return nil, status.Error(codes.InvalidArgument, "message_id must be a positive integer")
	}
	recordID := int64(id)

	rec, err := s.store.GetMessage(ctx, recordID)
	if err != nil {
		return nil, toStatus(err)
	}
	identity, err := s.authorize(ctx, rec.GuildID)
	if err != nil {
		return nil, err
	}

	decision, err := models.ParseDecision(
		stringField(fields, "decision"),
		stringField(fields, "manual_reply_content"),
		stringField(fields, "reason"),
	)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	res, err := s.approvals.ResolveApproval(ctx, recordID, decision, identity.DiscordUserID)
	if err != nil {
		return nil, toStatus(err)
	}

	out := map[string]interface{}{
		"id":        float64(res.RecordID),
		"status":    string(res.Status),
		"reply":     res.Reply,
		"image_url": res.ImageURL,
	}
	if res.Delivery != nil {
		out["delivery_id"] = res.Delivery.ID
	}
	return newStruct(out)
}

// GetPermissions takes {guild_id, channel_id?}.
func (s *AdminServer) GetPermissions(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	guildID := stringField(req.GetFields(), "guild_id")
	if guildID == "" {
		return nil, status.Error(codes.InvalidArgument, "guild_id is required")
	}
	if _, err := s.authorize(ctx, guildID); err != nil {
		return nil, err
	}
	if s.perms == nil {
		return nil, status.Error(codes.Unavailable, "the Discord bot is not connected")
	}

	channelID := stringField(req.GetFields(), "channel_id")
	perms := s.perms.CalculatePermissions(ctx, guildID, channelID)

	return newStruct(map[string]interface{}{
		"guild_id":      guildID,
		"channel_id":    channelID,
		"unrestricted":  perms.IsUnrestricted(),
		"bitmask":       perms.String(),
		"fun_features":  permissions.FunFeatures(perms),
		"guild_manager": permissions.IsGuildManager(perms),
	})
}

// GetUsage takes {guild_id, user_id?}.
func (s *AdminServer) GetUsage(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	guildID := stringField(req.GetFields(), "guild_id")
	if guildID == "" {
		return nil, status.Error(codes.InvalidArgument, "guild_id is required")
	}
	if _, err := s.authorize(ctx, guildID); err != nil {
		return nil, err
	}

	usage, err := s.store.GetUsage(ctx, guildID, stringField(req.GetFields(), "user_id"))
	if err != nil {
		return nil, toStatus(err)
	}

	out := map[string]interface{}{
		"day":                    usage.Day.Format(time.DateOnly),
		"guild_chat_tokens_used": float64(usage.Guild.ChatTokensUsed),
		"guild_images_generated": float64(usage.Guild.ImagesGenerated),
	}
	if usage.User != nil {
		out["user_chat_tokens_used"] = float64(usage.User.ChatTokensUsed)
		out["user_images_generated"] = float64(usage.User.ImagesGenerated)
	}
	return newStruct(out)
}

func (s *AdminServer) authorize(ctx context.Context, guildID string) (models.AdminIdentity, error) {
	identity, ok := identityFrom(ctx)
	if !ok {
		return identity, status.Error(codes.Unauthenticated, "missing admin identity")
	}
	isAdmin, err := s.store.IsAdmin(ctx, identity.DiscordUserID, guildID)
	if err != nil {
		return identity, toStatus(err)
	}
	if !isAdmin {
		return identity, status.Error(codes.PermissionDenied, "not an admin for this guild")
	}
	return identity, nil
}

func stringField(fields map[string]*structpb.Value, key string) string {
	if v, ok := fields[key]; ok {
		return v.GetStringValue()
	}
	return ""
}

func newStruct(m map[string]interface{}) (*structpb.Struct, error) {
	out, err := structpb.NewStruct(m)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "failed to encode response: %v", err)
	}
	return out, nil
}

// toStatus maps domain and store errors to gRPC status codes.
func toStatus(err error) error {
	switch {
	case service.IsNotFound(err), errors.Is(err, models.ErrRecordNotFound):
		return status.Error(codes.NotFound, "message not found")
	case service.IsInvalidState(err), errors.Is(err, models.ErrNotPending):
		return status.Error(codes.FailedPrecondition, "message not pending")
	case service.IsValidation(err):
		return status.Error(codes.InvalidArgument, err.Error())
	case service.IsUpstream(err):
		return status.Error(codes.Unavailable, "the AI service call failed")
	default:
		return status.Error(codes.Internal, "internal error")
	}
}
