package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/parsascontentcorner/grokgate/internal/grok"
	"github.com/parsascontentcorner/grokgate/internal/models"
)

// Resolution is the outcome of an admin decision. Reply is what the approver
// sees; for an image it is the first URL, while the requester gets
// ApprovedImageContent with the image embedded. Delivery tracks the post to
// the requester.
type Resolution struct {
	RecordID int64
	Status   models.RequestStatus
	Reply    string
	ImageURL string
	Delivery *Delivery
}

const defaultDeliveryTimeout = 15 * time.Second

// Delivery is an in-flight reply post. Its failure never rolls back the
// status change that preceded it.
type Delivery struct {
	ID   string
	done chan struct{}
	err  error
}

// Done is closed when the post finished.
func (d *Delivery) Done() <-chan struct{} {
	return d.done
}

// Wait blocks until the post finished or ctx ends.
func (d *Delivery) Wait(ctx context.Context) error {
	select {
	case <-d.done:
		return d.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Workflow resolves pending_approval records.
type Workflow struct {
	store           Store
	ai              AI
	notifier        Notifier
	price           decimal.Decimal
	deliveryTimeout time.Duration
	logger          *zap.Logger
}

// NewWorkflow creates an approval workflow.
func NewWorkflow(store Store, ai AI, notifier Notifier, pricePerMillion float64, logger *zap.Logger) *Workflow {
	return &Workflow{
		store:           store,
		ai:              ai,
		notifier:        notifier,
		price:           decimal.NewFromFloat(pricePerMillion),
		deliveryTimeout: defaultDeliveryTimeout,
		logger:          logger,
	}
}

// SetDeliveryTimeout bounds how long a reply post may take.
func (w *Workflow) SetDeliveryTimeout(d time.Duration) {
	w.deliveryTimeout = d
}

// ResolveApproval applies an admin decision to a pending record. A missing
// record yields a not_found error and a terminal one an invalid_state error;
// neither mutates anything. A failed AI call moves the record to error and
// returns an upstream error to the approver without notifying the requester.
func (w *Workflow) ResolveApproval(ctx context.Context, recordID int64, decision models.Decision, adminID string) (*Resolution, error) {
	rec, err := w.store.GetMessage(ctx, recordID)
	if err != nil {
		return nil, storeError("load message", err)
	}
	if !rec.IsPending() {
		return nil, NewDomainError(ErrorTypeInvalidState, "message not pending",
			fmt.Errorf("message %d is %s", recordID, rec.Status))
	}

	switch d := decision.(type) {
	case models.GrokDecision:
		return w.resolveGrok(ctx, rec, adminID)
	case models.ManualDecision:
		text := d.ReplyText()
		err := w.store.UpdateMessageStatus(ctx, rec.ID, &models.StatusUpdate{
			Status:             models.StatusApprovedManual,
			Decision:           models.DecisionManual,
			ApprovedByAdminID:  adminID,
			ManualReplyContent: text,
		})
		if err != nil {
			return nil, storeError("resolve manual", err)
		}
		return w.resolved(ctx, rec, models.StatusApprovedManual, text, ""), nil
	case models.RejectDecision:
		text := d.ReplyText()
		err := w.store.UpdateMessageStatus(ctx, rec.ID, &models.StatusUpdate{
			Status:            models.StatusRejected,
			Decision:          models.DecisionReject,
			ApprovedByAdminID: adminID,
			ErrorDetail:       text,
		})
		if err != nil {
			return nil, storeError("resolve reject", err)
		}
		return w.resolved(ctx, rec, models.StatusRejected, text, ""), nil
	case nil:
		return nil, NewDomainError(ErrorTypeValidation, "decision is required", nil)
	default:
		return nil, NewDomainError(ErrorTypeValidation, fmt.Sprintf("unsupported decision %T", decision), nil)
	}
}

func (w *Workflow) resolveGrok(ctx context.Context, rec *models.RequestRecord, adminID string) (*Resolution, error) {
	if rec.CommandType == models.CommandImage {
		return w.resolveGrokImage(ctx, rec, adminID)
	}

	cfg, err := w.store.GetGuildConfig(ctx, rec.GuildID)
	if err != nil {
		return nil, storeError("load guild config", err)
	}

	res, err := w.ai.Chat(ctx, grok.ChatRequest{
		SystemPrompt: cfg.SystemPrompt,
		UserContent:  rec.UserContent,
		Temperature:  cfg.Temperature,
		MaxTokens:    cfg.MaxCompletionTokens,
	})
	if err != nil {
		return nil, w.failGrok(ctx, rec, adminID, err)
	}

	// Commit first so a concurrent resolution that lost the race never counts usage.
	err = w.store.UpdateMessageStatus(ctx, rec.ID, &models.StatusUpdate{
		Status:            models.StatusApprovedGrok,
		Decision:          models.DecisionGrok,
		ApprovedByAdminID: adminID,
		ResponseContent:   res.Content,
		Usage:             &res.Usage,
		EstimatedCostUSD:  estimateCost(res.Usage.TotalTokens, w.price),
	})
	if err != nil {
		return nil, storeError("resolve grok", err)
	}

	if res.Usage.TotalTokens > 0 {
		if err := w.store.IncrementDailyChatUsage(ctx, rec.GuildID, rec.UserID, res.Usage.TotalTokens); err != nil {
			return nil, storeError("increment chat usage", err)
		}
	}

	return w.resolved(ctx, rec, models.StatusApprovedGrok, res.Content, ""), nil
}

func (w *Workflow) resolveGrokImage(ctx context.Context, rec *models.RequestRecord, adminID string) (*Resolution, error) {
	res, err := w.ai.GenerateImage(ctx, rec.UserContent)
	if err != nil {
		return nil, w.failGrok(ctx, rec, adminID, err)
	}

	err = w.store.UpdateMessageStatus(ctx, rec.ID, &models.StatusUpdate{
		Status:            models.StatusApprovedGrok,
		Decision:          models.DecisionGrok,
		ApprovedByAdminID: adminID,
		ImageURLs:         res.URLs,
	})
	if err != nil {
		return nil, storeError("resolve grok image", err)
	}

	if err := w.store.IncrementDailyImageUsage(ctx, rec.GuildID, rec.UserID, 1); err != nil {
		return nil, storeError("increment image usage", err)
	}

	url := firstURL(res.URLs)
	resolution := w.resolved(ctx, rec, models.StatusApprovedGrok, ApprovedImageContent, url)
	resolution.Reply = url
	return resolution, nil
}

// failGrok moves the record to error and returns the upstream error for the approver.
func (w *Workflow) failGrok(ctx context.Context, rec *models.RequestRecord, adminID string, cause error) error {
	w.logger.Warn("approved grok call failed",
		zap.Int64("record_id", rec.ID),
		zap.String("admin_id", adminID),
		zap.Error(cause),
	)

	err := w.store.UpdateMessageStatus(ctx, rec.ID, &models.StatusUpdate{
		Status:            models.StatusError,
		Decision:          models.DecisionGrok,
		ApprovedByAdminID: adminID,
		ErrorCode:         GrokErrorCode,
		ErrorDetail:       cause.Error(),
	})
	if err != nil {
		return storeError("record grok failure", err)
	}
	return NewDomainError(ErrorTypeUpstream, "AI service call failed", cause)
}

func (w *Workflow) resolved(ctx context.Context, rec *models.RequestRecord, status models.RequestStatus, reply, imageURL string) *Resolution {
	w.logger.Info("approval resolved",
		zap.Int64("record_id", rec.ID),
		zap.String("guild_id", rec.GuildID),
		zap.String("status", string(status)),
	)
	return &Resolution{
		RecordID: rec.ID,
		Status:   status,
		Reply:    reply,
		ImageURL: imageURL,
		Delivery: w.deliver(ctx, rec, reply, imageURL),
	}
}

// deliver posts the reply in the background. The post outlives the caller's
// context so that an HTTP handler returning does not cancel it.
func (w *Workflow) deliver(ctx context.Context, rec *models.RequestRecord, content, embedURL string) *Delivery {
	d := &Delivery{ID: uuid.NewString(), done: make(chan struct{})}
	if w.notifier == nil {
		close(d.done)
		return d
	}

	sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.deliveryTimeout)
	go func() {
		defer close(d.done)
		defer cancel()

		d.err = w.notifier.SendMessage(sendCtx, rec.ChannelID, content, rec.UserID, embedURL)
		if d.err != nil {
			w.logger.Error("failed to deliver approval reply",
				zap.String("delivery_id", d.ID),
				zap.Int64("record_id", rec.ID),
				zap.String("channel_id", rec.ChannelID),
				zap.Error(d.err),
			)
			return
		}
		w.logger.Debug("approval reply delivered",
			zap.String("delivery_id", d.ID),
			zap.Int64("record_id", rec.ID),
		)
	}()
	return d
}
