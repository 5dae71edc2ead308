package testutil

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/parsascontentcorner/grokgate/internal/models"
)

type usageKey struct {
	guildID string
	userID  string
	day     time.Time
}

// MemoryStore is an in-memory stand-in for database.DB with the same
// semantics: defaults on first config read, conditional status updates,
// UTC-day usage rows. Fail* fields inject errors.
type MemoryStore struct {
	mu sync.Mutex

	configs  map[string]*models.GuildConfig
	records  []*models.RequestRecord
	usage    map[usageKey]*models.UsageCounters
	admins   map[string]*models.AdminUser
	states   map[string]*models.OAuthState
	nextID   int64
	now      func() time.Time
	maxChars int

	FailRecord error
	FailUpdate error
	FailUsage  error
}

// NewMemoryStore returns an empty store using the real clock.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		configs:  make(map[string]*models.GuildConfig),
		usage:    make(map[usageKey]*models.UsageCounters),
		admins:   make(map[string]*models.AdminUser),
		states:   make(map[string]*models.OAuthState),
		now:      time.Now,
		maxChars: 4000,
	}
}

// SetClock overrides the time source.
func (s *MemoryStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func adminKey(userID, guildID string) string {
	return guildID + "/" + userID
}

// GetGuildConfig returns a copy of the guild's config, creating defaults.
func (s *MemoryStore) GetGuildConfig(_ context.Context, guildID string) (*models.GuildConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cfg, ok := s.configs[guildID]
	if !ok {
		cfg = models.DefaultGuildConfig(guildID, s.maxChars)
		cfg.CreatedAt = s.now()
		cfg.UpdatedAt = cfg.CreatedAt
		s.configs[guildID] = cfg
	}
	out := *cfg
	return &out, nil
}

// UpsertGuildConfig stores cfg as the guild's config.
func (s *MemoryStore) UpsertGuildConfig(_ context.Context, cfg *models.GuildConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := *cfg
	stored.UpdatedAt = s.now()
	if existing, ok := s.configs[cfg.GuildID]; ok {
		stored.CreatedAt = existing.CreatedAt
	} else {
		stored.CreatedAt = stored.UpdatedAt
	}
	s.configs[cfg.GuildID] = &stored
	cfg.CreatedAt, cfg.UpdatedAt = stored.CreatedAt, stored.UpdatedAt
	return nil
}

// UpdateGuildConfig merges update into the stored config.
func (s *MemoryStore) UpdateGuildConfig(ctx context.Context, guildID string, update *models.ConfigUpdate) (*models.GuildConfig, error) {
	current, err := s.GetGuildConfig(ctx, guildID)
	if err != nil {
		return nil, err
	}
	merged := update.Merge(current)
	if err := s.UpsertGuildConfig(ctx, merged); err != nil {
		return nil, err
	}
	return merged, nil
}

// ListGuilds returns every guild with a config or a record.
func (s *MemoryStore) ListGuilds(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[string]struct{})
	for id := range s.configs {
		seen[id] = struct{}{}
	}
	for _, r := range s.records {
		seen[r.GuildID] = struct{}{}
	}
	guilds := make([]string, 0, len(seen))
	for id := range seen {
		guilds = append(guilds, id)
	}
	sort.Strings(guilds)
	return guilds, nil
}

// RecordMessage appends a record in an initial state.
func (s *MemoryStore) RecordMessage(_ context.Context, rec *models.RequestRecord) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.FailRecord != nil {
		return 0, s.FailRecord
	}
	if !rec.Status.IsInitial() {
		return 0, fmt.Errorf("cannot record message with status %q", rec.Status)
	}

	s.nextID++
	stored := *rec
	stored.ID = s.nextID
	stored.CreatedAt = s.now()
	stored.UpdatedAt = stored.CreatedAt
	if len(stored.RequestPayload) == 0 {
		stored.RequestPayload = json.RawMessage("{}")
	}
	if stored.ImageURLs == nil {
		stored.ImageURLs = pq.StringArray{}
	}
	s.records = append(s.records, &stored)

	rec.ID, rec.CreatedAt, rec.UpdatedAt = stored.ID, stored.CreatedAt, stored.UpdatedAt
	return stored.ID, nil
}

func (s *MemoryStore) find(id int64) *models.RequestRecord {
	for _, r := range s.records {
		if r.ID == id {
			return r
		}
	}
	return nil
}

// GetMessage returns a copy of the record.
func (s *MemoryStore) GetMessage(_ context.Context, id int64) (*models.RequestRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r := s.find(id)
	if r == nil {
		return nil, models.ErrRecordNotFound
	}
	out := *r
	return &out, nil
}

// UpdateMessageStatus resolves a pending record.
func (s *MemoryStore) UpdateMessageStatus(_ context.Context, id int64, update *models.StatusUpdate) error {
	if err := update.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.FailUpdate != nil {
		return s.FailUpdate
	}
	r := s.find(id)
	if r == nil {
		return models.ErrRecordNotFound
	}
	if !r.IsPending() {
		return models.ErrNotPending
	}

	r.Status = update.Status
	setString(&r.Decision, string(update.Decision))
	setString(&r.ApprovedByAdminID, update.ApprovedByAdminID)
	setString(&r.ErrorCode, update.ErrorCode)
	setString(&r.ErrorDetail, update.ErrorDetail)
	setString(&r.ResponseContent, update.ResponseContent)
	setString(&r.ManualReplyContent, update.ManualReplyContent)
	if len(update.ImageURLs) > 0 {
		r.ImageURLs = pq.StringArray(update.ImageURLs)
	}
	if update.Usage != nil {
		r.PromptTokens = sql.NullInt64{Int64: update.Usage.PromptTokens, Valid: true}
		r.CompletionTokens = sql.NullInt64{Int64: update.Usage.CompletionTokens, Valid: true}
		r.TotalTokens = sql.NullInt64{Int64: update.Usage.TotalTokens, Valid: true}
	}
	if update.EstimatedCostUSD.Valid {
		r.EstimatedCostUSD = update.EstimatedCostUSD
	}
	r.UpdatedAt = s.now()
	return nil
}

func setString(dst *sql.NullString, v string) {
	if v != "" {
		*dst = sql.NullString{String: v, Valid: true}
	}
}

// CountRecent counts the user's records of kind inside window.
func (s *MemoryStore) CountRecent(_ context.Context, guildID, userID string, kind models.CommandKind, window time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().Add(-window)
	count := 0
	for _, r := range s.records {
		if r.GuildID == guildID && r.UserID == userID && r.CommandType == kind && !r.CreatedAt.Before(cutoff) {
			count++
		}
	}
	return count, nil
}

// HasRecentDuplicate reports identical content inside window.
func (s *MemoryStore) HasRecentDuplicate(_ context.Context, guildID, userID, content string, window time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().Add(-window)
	for _, r := range s.records {
		if r.GuildID == guildID && r.UserID == userID && r.UserContent == content && !r.CreatedAt.Before(cutoff) {
			return true, nil
		}
	}
	return false, nil
}

// PendingMessages lists pending records oldest first.
func (s *MemoryStore) PendingMessages(_ context.Context, guildID string) ([]*models.RequestRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := []*models.RequestRecord{}
	for _, r := range s.records {
		if r.GuildID == guildID && r.IsPending() {
			c := *r
			out = append(out, &c)
		}
	}
	return out, nil
}

// History lists records newest first.
func (s *MemoryStore) History(_ context.Context, guildID string, filter models.HistoryFilter) ([]*models.RequestRecord, error) {
	filter.Normalize()

	s.mu.Lock()
	defer s.mu.Unlock()

	out := []*models.RequestRecord{}
	for i := len(s.records) - 1; i >= 0 && len(out) < filter.Limit; i-- {
		r := s.records[i]
		if r.GuildID != guildID {
			continue
		}
		if filter.Status != "" && r.Status != filter.Status {
			continue
		}
		if filter.CommandType != "" && r.CommandType != filter.CommandType {
			continue
		}
		c := *r
		out = append(out, &c)
	}
	return out, nil
}

// RecentMessages lists the newest limit records.
func (s *MemoryStore) RecentMessages(ctx context.Context, guildID string, limit int) ([]*models.RequestRecord, error) {
	return s.History(ctx, guildID, models.HistoryFilter{Limit: limit})
}

// GetUsage returns today's counters.
func (s *MemoryStore) GetUsage(_ context.Context, guildID, userID string) (*models.Usage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.FailUsage != nil {
		return nil, s.FailUsage
	}
	day := models.UsageDay(s.now())
	usage := &models.Usage{Day: day}
	if c, ok := s.usage[usageKey{guildID, "", day}]; ok {
		usage.Guild = *c
	}
	if userID != "" {
		usage.User = &models.UsageCounters{}
		if c, ok := s.usage[usageKey{guildID, userID, day}]; ok {
			*usage.User = *c
		}
	}
	return usage, nil
}

// IncrementDailyChatUsage adds tokens to the user and guild rows.
func (s *MemoryStore) IncrementDailyChatUsage(_ context.Context, guildID, userID string, tokens int64) error {
	return s.increment(guildID, userID, func(c *models.UsageCounters) { c.ChatTokensUsed += tokens }, tokens)
}

// IncrementDailyImageUsage adds count to the user and guild rows.
func (s *MemoryStore) IncrementDailyImageUsage(_ context.Context, guildID, userID string, count int64) error {
	return s.increment(guildID, userID, func(c *models.UsageCounters) { c.ImagesGenerated += count }, count)
}

func (s *MemoryStore) increment(guildID, userID string, apply func(*models.UsageCounters), amount int64) error {
	if amount < 0 {
		return fmt.Errorf("usage counters cannot be decremented (got %d)", amount)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	day := models.UsageDay(s.now())
	for _, scope := range []string{userID, ""} {
		k := usageKey{guildID, scope, day}
		c, ok := s.usage[k]
		if !ok {
			c = &models.UsageCounters{}
			s.usage[k] = c
		}
		apply(c)
	}
	return nil
}

// SetUsage overwrites today's counters for one scope; userID "" is the guild row.
func (s *MemoryStore) SetUsage(guildID, userID string, counters models.UsageCounters) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.usage[usageKey{guildID, userID, models.UsageDay(s.now())}] = &counters
}

// Analytics summarizes the guild's records.
func (s *MemoryStore) Analytics(_ context.Context, guildID string) (*models.Analytics, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a := &models.Analytics{
		GuildID:       guildID,
		EstimatedCost: decimal.Zero,
		ByStatus:      []models.StatusCount{},
		TopUsers:      []models.UserActivity{},
		GeneratedAt:   s.now().UTC(),
	}
	byStatus := map[models.RequestStatus]int64{}
	byUser := map[string]int64{}
	for _, r := range s.records {
		if r.GuildID != guildID {
			continue
		}
		a.TotalRequests++
		if r.CommandType == models.CommandImage {
			a.ImageRequests++
		} else {
			a.AskRequests++
		}
		a.TotalTokens += r.TotalTokens.Int64
		if r.EstimatedCostUSD.Valid {
			a.EstimatedCost = a.EstimatedCost.Add(r.EstimatedCostUSD.Decimal)
		}
		if r.IsPending() {
			a.PendingCount++
		}
		byStatus[r.Status]++
		byUser[r.UserID]++
	}
	for st, n := range byStatus {
		a.ByStatus = append(a.ByStatus, models.StatusCount{Status: st, Count: n})
	}
	sort.Slice(a.ByStatus, func(i, j int) bool { return a.ByStatus[i].Status < a.ByStatus[j].Status })
	for u, n := range byUser {
		a.TopUsers = append(a.TopUsers, models.UserActivity{UserID: u, Requests: n})
	}
	sort.Slice(a.TopUsers, func(i, j int) bool {
		if a.TopUsers[i].Requests != a.TopUsers[j].Requests {
			return a.TopUsers[i].Requests > a.TopUsers[j].Requests
		}
		return a.TopUsers[i].UserID < a.TopUsers[j].UserID
	})
	if len(a.TopUsers) > 10 {
		a.TopUsers = a.TopUsers[:10]
	}
	return a, nil
}

// IsAdmin reports an admin_users row.
func (s *MemoryStore) IsAdmin(_ context.Context, userID, guildID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.admins[adminKey(userID, guildID)]
	return ok, nil
}

// AddAdmin grants admin access.
func (s *MemoryStore) AddAdmin(_ context.Context, admin *models.AdminUser) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if admin.Role == "" {
		admin.Role = models.AdminRoleAdmin
	}
	key := adminKey(admin.DiscordUserID, admin.GuildID)
	if existing, ok := s.admins[key]; ok {
		admin.CreatedAt = existing.CreatedAt
	} else {
		admin.CreatedAt = s.now()
	}
	stored := *admin
	s.admins[key] = &stored
	return nil
}

// RemoveAdmin revokes admin access.
func (s *MemoryStore) RemoveAdmin(_ context.Context, userID, guildID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := adminKey(userID, guildID)
	if _, ok := s.admins[key]; !ok {
		return models.ErrAdminNotFound
	}
	delete(s.admins, key)
	return nil
}

// ListAdmins returns the guild's admins.
func (s *MemoryStore) ListAdmins(_ context.Context, guildID string) ([]*models.AdminUser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := []*models.AdminUser{}
	for _, a := range s.admins {
		if a.GuildID == guildID {
			c := *a
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DiscordUserID < out[j].DiscordUserID })
	return out, nil
}

// GuildsForAdmin lists the guilds the user administers.
func (s *MemoryStore) GuildsForAdmin(_ context.Context, userID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := []string{}
	for _, a := range s.admins {
		if a.DiscordUserID == userID {
			out = append(out, a.GuildID)
		}
	}
	sort.Strings(out)
	return out, nil
}

// CreateOAuthState stores a login state.
func (s *MemoryStore) CreateOAuthState(_ context.Context, state *models.OAuthState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	state.CreatedAt = s.now()
	stored := *state
	s.states[state.State] = &stored
	return nil
}

// ValidateAndDeleteOAuthState consumes a login state.
func (s *MemoryStore) ValidateAndDeleteOAuthState(_ context.Context, state string) (*models.OAuthState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.states[state]
	if !ok {
		return nil, models.ErrStateNotFound
	}
	delete(s.states, state)
	if st.ExpiresAt.Before(s.now()) {
		return nil, models.ErrStateExpired
	}
	return st, nil
}

// Health always succeeds.
func (s *MemoryStore) Health(_ context.Context) error {
	return nil
}
