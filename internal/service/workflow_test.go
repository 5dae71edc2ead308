package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/parsascontentcorner/grokgate/internal/models"
	"github.com/parsascontentcorner/grokgate/internal/testutil"
)

type workflowFixture struct {
	store    *testutil.MemoryStore
	ai       *testutil.FakeAI
	notifier *testutil.FakeNotifier
	wf       *Workflow
}

func newWorkflowFixture(t *testing.T) *workflowFixture {
	t.Helper()
	f := &workflowFixture{
		store:    testutil.NewMemoryStore(),
		ai:       testutil.NewFakeAI(),
		notifier: &testutil.FakeNotifier{},
	}
	f.wf = NewWorkflow(f.store, f.ai, f.notifier, 5.0, zap.NewNop())
	return f
}

func (f *workflowFixture) pending(t *testing.T, kind models.CommandKind, content string) int64 {
	t.Helper()
	id, err := f.store.RecordMessage(context.Background(), &models.RequestRecord{
		GuildID:       testGuild,
		ChannelID:     "channel-9",
		UserID:        testUser,
		CommandType:   kind,
		UserContent:   content,
		Status:        models.StatusPendingApproval,
		NeedsApproval: true,
	})
	require.NoError(t, err)
	return id
}

func waitDelivery(t *testing.T, res *Resolution) error {
	t.Helper()
	require.NotNil(t, res.Delivery)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	return res.Delivery.Wait(ctx)
}

func TestResolveApproval_Reject(t *testing.T) {
	f := newWorkflowFixture(t)
	ctx := context.Background()
	id := f.pending(t, models.CommandAsk, "is this allowed")

	res, err := f.wf.ResolveApproval(ctx, id, models.RejectDecision{Reason: "off-topic"}, "admin-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusRejected, res.Status)
	assert.Equal(t, "off-topic", res.Reply)
	require.NoError(t, waitDelivery(t, res))

	rec, err := f.store.GetMessage(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusRejected, rec.Status)
	assert.Equal(t, "reject", rec.Decision.String)
	assert.Equal(t, "admin-1", rec.ApprovedByAdminID.String)

	sent := f.notifier.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, testutil.SentMessage{ChannelID: "channel-9", Content: "off-topic", MentionUserID: testUser}, sent[0])

	// terminal: a second decision fails without side effects
	_, err = f.wf.ResolveApproval(ctx, id, models.ManualDecision{Reply: "changed my mind"}, "admin-2")
	assert.True(t, IsInvalidState(err))
	assert.ErrorIs(t, err, ErrNotPending)

	rec, err = f.store.GetMessage(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusRejected, rec.Status)
	assert.Equal(t, "admin-1", rec.ApprovedByAdminID.String)
	assert.Len(t, f.notifier.Sent(), 1)
}

func TestResolveApproval_DefaultTexts(t *testing.T) {
	f := newWorkflowFixture(t)
	ctx := context.Background()

	res, err := f.wf.ResolveApproval(ctx, f.pending(t, models.CommandAsk, "first pending question"), models.ManualDecision{}, "admin-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusApprovedManual, res.Status)
	assert.Equal(t, models.DefaultManualReply, res.Reply)
	require.NoError(t, waitDelivery(t, res))

	res, err = f.wf.ResolveApproval(ctx, f.pending(t, models.CommandAsk, "second pending question"), models.RejectDecision{}, "admin-1")
	require.NoError(t, err)
	assert.Equal(t, models.DefaultRejectReply, res.Reply)
	require.NoError(t, waitDelivery(t, res))

	assert.Zero(t, f.ai.Calls())
}

func TestResolveApproval_Manual(t *testing.T) {
	f := newWorkflowFixture(t)
	ctx := context.Background()
	id := f.pending(t, models.CommandImage, "draw something rude")

	res, err := f.wf.ResolveApproval(ctx, id, models.ManualDecision{Reply: "Draw it yourself."}, "admin-1")
	require.NoError(t, err)
	require.NoError(t, waitDelivery(t, res))

	rec, err := f.store.GetMessage(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusApprovedManual, rec.Status)
	assert.Equal(t, "Draw it yourself.", rec.ManualReplyContent.String)
	assert.Zero(t, f.ai.Calls())
}

func TestResolveApproval_GrokChat(t *testing.T) {
	f := newWorkflowFixture(t)
	ctx := context.Background()
	id := f.pending(t, models.CommandAsk, "explain monads briefly")

	res, err := f.wf.ResolveApproval(ctx, id, models.GrokDecision{}, "admin-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusApprovedGrok, res.Status)
	assert.Equal(t, "ok", res.Reply)
	require.NoError(t, waitDelivery(t, res))

	rec, err := f.store.GetMessage(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusApprovedGrok, rec.Status)
	assert.Equal(t, "grok", rec.Decision.String)
	assert.Equal(t, "ok", rec.ResponseContent.String)
	assert.Equal(t, int64(42), rec.TotalTokens.Int64)
	assert.True(t, rec.EstimatedCostUSD.Valid)

	usage, err := f.store.GetUsage(ctx, testGuild, testUser)
	require.NoError(t, err)
	assert.Equal(t, int64(42), usage.UserCounters().ChatTokensUsed)

	sent := f.notifier.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "ok", sent[0].Content)
	assert.Equal(t, testUser, sent[0].MentionUserID)
	assert.Empty(t, sent[0].EmbedURL)
}

func TestResolveApproval_GrokImage(t *testing.T) {
	f := newWorkflowFixture(t)
	ctx := context.Background()
	id := f.pending(t, models.CommandImage, "a castle at dusk")

	res, err := f.wf.ResolveApproval(ctx, id, models.GrokDecision{}, "admin-1")
	require.NoError(t, err)
	assert.Equal(t, "https://img.example/generated.png", res.Reply)
	assert.Equal(t, "https://img.example/generated.png", res.ImageURL)
	require.NoError(t, waitDelivery(t, res))

	sent := f.notifier.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, ApprovedImageContent, sent[0].Content)
	assert.Equal(t, "https://img.example/generated.png", sent[0].EmbedURL)

	usage, err := f.store.GetUsage(ctx, testGuild, testUser)
	require.NoError(t, err)
	assert.Equal(t, int64(1), usage.Guild.ImagesGenerated)
}

func TestResolveApproval_GrokFailure(t *testing.T) {
	f := newWorkflowFixture(t)
	f.ai.ChatErr = errors.New("upstream exploded")
	ctx := context.Background()
	id := f.pending(t, models.CommandAsk, "explain monads briefly")

	res, err := f.wf.ResolveApproval(ctx, id, models.GrokDecision{}, "admin-1")
	assert.Nil(t, res)
	assert.True(t, IsUpstream(err))
	assert.ErrorIs(t, err, ErrUpstream)

	rec, err := f.store.GetMessage(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusError, rec.Status)
	assert.Equal(t, GrokErrorCode, rec.ErrorCode.String)
	assert.Contains(t, rec.ErrorDetail.String, "upstream exploded")

	assert.Empty(t, f.notifier.Sent(), "requester is not notified")

	usage, err := f.store.GetUsage(ctx, testGuild, testUser)
	require.NoError(t, err)
	assert.Zero(t, usage.Guild.ChatTokensUsed)
}

func TestResolveApproval_NotFound(t *testing.T) {
	f := newWorkflowFixture(t)

	_, err := f.wf.ResolveApproval(context.Background(), 999, models.GrokDecision{}, "admin-1")
	assert.True(t, IsNotFound(err))
	assert.ErrorIs(t, err, ErrRecordNotFound)
	assert.Zero(t, f.ai.Calls())
}

func TestResolveApproval_AutoRespondedIsTerminal(t *testing.T) {
	f := newWorkflowFixture(t)
	ctx := context.Background()
	id, err := f.store.RecordMessage(ctx, &models.RequestRecord{
		GuildID: testGuild, ChannelID: "c", UserID: testUser,
		CommandType: models.CommandAsk, UserContent: "answered already",
		Status: models.StatusAutoResponded,
	})
	require.NoError(t, err)

	_, err = f.wf.ResolveApproval(ctx, id, models.GrokDecision{}, "admin-1")
	assert.True(t, IsInvalidState(err))
	assert.Zero(t, f.ai.Calls())
}

func TestResolveApproval_NilDecision(t *testing.T) {
	f := newWorkflowFixture(t)
	id := f.pending(t, models.CommandAsk, "explain monads briefly")

	_, err := f.wf.ResolveApproval(context.Background(), id, nil, "admin-1")
	assert.True(t, IsValidation(err))
}

func TestResolveApproval_DeliveryFailureKeepsState(t *testing.T) {
	f := newWorkflowFixture(t)
	f.notifier.Err = errors.New("missing access")
	ctx := context.Background()
	id := f.pending(t, models.CommandAsk, "explain monads briefly")

	res, err := f.wf.ResolveApproval(ctx, id, models.ManualDecision{Reply: "no"}, "admin-1")
	require.NoError(t, err)

	err = waitDelivery(t, res)
	assert.EqualError(t, err, "missing access")

	rec, err := f.store.GetMessage(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusApprovedManual, rec.Status)
}

func TestResolveApproval_StoreUpdateError(t *testing.T) {
	f := newWorkflowFixture(t)
	id := f.pending(t, models.CommandAsk, "explain monads briefly")
	f.store.FailUpdate = errors.New("deadlock detected")

	_, err := f.wf.ResolveApproval(context.Background(), id, models.RejectDecision{}, "admin-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "deadlock detected")
	assert.Empty(t, f.notifier.Sent())
}

func TestDelivery_WaitRespectsContext(t *testing.T) {
	d := &Delivery{done: make(chan struct{})}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, d.Wait(ctx), context.Canceled)
}

func TestDomainError(t *testing.T) {
	err := NewDomainError(ErrorTypeNotFound, "message not found", models.ErrRecordNotFound)
	assert.ErrorIs(t, err, ErrRecordNotFound)
	assert.ErrorIs(t, err, models.ErrRecordNotFound)
	assert.False(t, errors.Is(err, ErrNotPending))
	assert.Equal(t, "not_found: message not found (message not found)", err.Error())

	assert.True(t, IsInvalidState(storeError("x", models.ErrNotPending)))
	assert.True(t, IsNotFound(storeError("x", models.ErrRecordNotFound)))
	assert.True(t, hasType(storeError("x", errors.New("boom")), ErrorTypeInternal))
}
