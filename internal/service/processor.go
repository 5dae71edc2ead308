package service

import (
	"context"
	"database/sql"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/parsascontentcorner/grokgate/internal/grok"
	"github.com/parsascontentcorner/grokgate/internal/models"
	"github.com/parsascontentcorner/grokgate/internal/policy"
)

// Request is one inbound !ask or !image command.
type Request struct {
	GuildID          string
	ChannelID        string
	UserID           string
	DiscordMessageID string
	Content          string
	IsAdmin          bool
}

// Result is what the caller replies with. Err holds the upstream failure,
// if any, for operators; the user only sees Reply.
type Result struct {
	Reply    string
	RecordID int64
	Status   models.RequestStatus
	ImageURL string
	Err      error
}

// Processor runs validator, duplicate detector, rate limiter, budget tracker
// and approval gate, in that order, before calling the AI service. The first
// stage that refuses ends the request with a recorded auto_responded row.
type Processor struct {
	store      Store
	ai         AI
	duplicates *policy.DuplicateDetector
	limiter    *policy.RateLimiter
	budgets    *policy.BudgetTracker
	price      decimal.Decimal
	logger     *zap.Logger
}

// NewProcessor creates a processor. pricePerMillion is the USD price of one
// million chat tokens.
func NewProcessor(store Store, ai AI, pricePerMillion float64, logger *zap.Logger) *Processor {
	return &Processor{
		store:      store,
		ai:         ai,
		duplicates: policy.NewDuplicateDetector(store),
		limiter:    policy.NewRateLimiter(store),
		budgets:    policy.NewBudgetTracker(store),
		price:      decimal.NewFromFloat(pricePerMillion),
		logger:     logger,
	}
}

// ProcessChat handles an !ask command.
func (p *Processor) ProcessChat(ctx context.Context, req Request) (*Result, error) {
	return p.process(ctx, models.CommandAsk, req)
}

// ProcessImage handles an !image command.
func (p *Processor) ProcessImage(ctx context.Context, req Request) (*Result, error) {
	return p.process(ctx, models.CommandImage, req)
}

func (p *Processor) process(ctx context.Context, kind models.CommandKind, req Request) (*Result, error) {
	cfg, err := p.store.GetGuildConfig(ctx, req.GuildID)
	if err != nil {
		return nil, storeError("load guild config", err)
	}

	if v := policy.ValidatePrompt(req.Content, cfg.MaxPromptChars); !v.OK {
		return p.refuse(ctx, kind, req, string(v.Reason), v.Reply)
	}

	dup, err := p.duplicates.IsDuplicate(ctx, req.GuildID, req.UserID, req.Content, cfg.DuplicateWindow())
	if err != nil {
		return nil, storeError("duplicate check", err)
	}
	if dup {
		return p.refuse(ctx, kind, req, policy.DuplicateErrorCode, policy.DuplicateReply(kind))
	}

	limit, err := p.limiter.Check(ctx, policy.Key{GuildID: req.GuildID, UserID: req.UserID, Kind: kind}, policy.RuleFor(cfg, kind))
	if err != nil {
		return nil, storeError("rate limit check", err)
	}
	if !limit.Allowed {
		return p.refuse(ctx, kind, req, policy.RateLimitedErrorCode, limit.Reply)
	}

	budget, err := p.budgets.Check(ctx, kind, req.GuildID, req.UserID, cfg)
	if err != nil {
		return nil, storeError("budget check", err)
	}
	if !budget.Allowed {
		return p.refuse(ctx, kind, req, budget.ErrorCode, budget.Reply)
	}

	if policy.RequiresApproval(cfg, req.IsAdmin) {
		rec := p.newRecord(kind, req, models.StatusPendingApproval)
		rec.NeedsApproval = true
		id, err := p.store.RecordMessage(ctx, rec)
		if err != nil {
			return nil, storeError("record pending request", err)
		}
		p.logger.Info("request queued for approval",
			zap.Int64("record_id", id),
			zap.String("guild_id", req.GuildID),
			zap.String("command", string(kind)),
		)
		return &Result{Reply: policy.PendingReply(kind), RecordID: id, Status: models.StatusPendingApproval}, nil
	}

	if kind == models.CommandImage {
		return p.runImage(ctx, req)
	}
	return p.runChat(ctx, cfg, req)
}

func (p *Processor) newRecord(kind models.CommandKind, req Request, status models.RequestStatus) *models.RequestRecord {
	rec := &models.RequestRecord{
		GuildID:     req.GuildID,
		ChannelID:   req.ChannelID,
		UserID:      req.UserID,
		CommandType: kind,
		UserContent: req.Content,
		Status:      status,
	}
	if req.DiscordMessageID != "" {
		rec.DiscordMessageID = sql.NullString{String: req.DiscordMessageID, Valid: true}
	}
	return rec
}

// refuse records a policy rejection. It is a normal outcome, not an error.
func (p *Processor) refuse(ctx context.Context, kind models.CommandKind, req Request, code, reply string) (*Result, error) {
	rec := p.newRecord(kind, req, models.StatusAutoResponded)
	rec.ErrorCode = sql.NullString{String: code, Valid: true}
	rec.ErrorDetail = sql.NullString{String: reply, Valid: true}

	id, err := p.store.RecordMessage(ctx, rec)
	if err != nil {
		return nil, storeError("record refused request", err)
	}

	p.logger.Debug("request refused",
		zap.Int64("record_id", id),
		zap.String("guild_id", req.GuildID),
		zap.String("user_id", req.UserID),
		zap.String("error_code", code),
	)
	return &Result{Reply: reply, RecordID: id, Status: models.StatusAutoResponded}, nil
}

func (p *Processor) upstreamFailure(ctx context.Context, kind models.CommandKind, req Request, cause error) (*Result, error) {
	rec := p.newRecord(kind, req, models.StatusError)
	rec.ErrorCode = sql.NullString{String: GrokErrorCode, Valid: true}
	rec.ErrorDetail = sql.NullString{String: cause.Error(), Valid: true}

	id, err := p.store.RecordMessage(ctx, rec)
	if err != nil {
		return nil, storeError("record failed request", err)
	}

	p.logger.Warn("grok call failed",
		zap.Int64("record_id", id),
		zap.String("guild_id", req.GuildID),
		zap.String("command", string(kind)),
		zap.Error(cause),
	)

	reply := ChatFailureReply
	if kind == models.CommandImage {
		reply = ImageFailureReply
	}
	return &Result{
		Reply:    reply,
		RecordID: id,
		Status:   models.StatusError,
		Err:      NewDomainError(ErrorTypeUpstream, "AI service call failed", cause),
	}, nil
}

func (p *Processor) runChat(ctx context.Context, cfg *models.GuildConfig, req Request) (*Result, error) {
	res, err := p.ai.Chat(ctx, grok.ChatRequest{
		SystemPrompt: cfg.SystemPrompt,
		UserContent:  req.Content,
		Temperature:  cfg.Temperature,
		MaxTokens:    cfg.MaxCompletionTokens,
	})
	if err != nil {
		return p.upstreamFailure(ctx, models.CommandAsk, req, err)
	}

	rec := p.newRecord(models.CommandAsk, req, models.StatusAutoResponded)
	rec.RequestPayload = chatPayload(p.ai.ChatModel(), cfg.MaxCompletionTokens)
	rec.ResponseContent = sql.NullString{String: res.Content, Valid: true}
	rec.PromptTokens = sql.NullInt64{Int64: res.Usage.PromptTokens, Valid: true}
	rec.CompletionTokens = sql.NullInt64{Int64: res.Usage.CompletionTokens, Valid: true}
	rec.TotalTokens = sql.NullInt64{Int64: res.Usage.TotalTokens, Valid: true}
	rec.EstimatedCostUSD = estimateCost(res.Usage.TotalTokens, p.price)

	id, err := p.store.RecordMessage(ctx, rec)
	if err != nil {
		return nil, storeError("record chat response", err)
	}

	if res.Usage.TotalTokens > 0 {
		if err := p.store.IncrementDailyChatUsage(ctx, req.GuildID, req.UserID, res.Usage.TotalTokens); err != nil {
			return nil, storeError("increment chat usage", err)
		}
	}

	return &Result{Reply: res.Content, RecordID: id, Status: models.StatusAutoResponded}, nil
}

func (p *Processor) runImage(ctx context.Context, req Request) (*Result, error) {
	res, err := p.ai.GenerateImage(ctx, req.Content)
	if err != nil {
		return p.upstreamFailure(ctx, models.CommandImage, req, err)
	}

	rec := p.newRecord(models.CommandImage, req, models.StatusAutoResponded)
	rec.RequestPayload = imagePayload(p.ai.ImageModel())
	rec.ImageURLs = res.URLs

	id, err := p.store.RecordMessage(ctx, rec)
	if err != nil {
		return nil, storeError("record image response", err)
	}

	if err := p.store.IncrementDailyImageUsage(ctx, req.GuildID, req.UserID, 1); err != nil {
		return nil, storeError("increment image usage", err)
	}

	url := firstURL(res.URLs)
	reply := url
	if reply == "" {
		reply = ImageNoURLReply
	}
	return &Result{Reply: reply, RecordID: id, Status: models.StatusAutoResponded, ImageURL: url}, nil
}
