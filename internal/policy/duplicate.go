package policy

import (
	"context"
	"fmt"
	"time"

	"github.com/parsascontentcorner/grokgate/internal/models"
)

// DuplicateErrorCode is recorded on requests rejected as repeats.
const DuplicateErrorCode = "duplicate"

// HistoryStore answers windowed questions about committed request records.
type HistoryStore interface {
	HasRecentDuplicate(ctx context.Context, guildID, userID, content string, window time.Duration) (bool, error)
	CountRecent(ctx context.Context, guildID, userID string, kind models.CommandKind, window time.Duration) (int, error)
}

// DuplicateDetector rejects content a user already sent within a window.
// It reads only committed records, so two identical requests racing each
// other can both pass.
type DuplicateDetector struct {
	store HistoryStore
}

// NewDuplicateDetector creates a detector backed by store.
func NewDuplicateDetector(store HistoryStore) *DuplicateDetector {
	return &DuplicateDetector{store: store}
}

// IsDuplicate reports whether (guild, user, content) was recorded within window.
func (d *DuplicateDetector) IsDuplicate(ctx context.Context, guildID, userID, content string, window time.Duration) (bool, error) {
	if window <= 0 {
		return false, nil
	}
	dup, err := d.store.HasRecentDuplicate(ctx, guildID, userID, content, window)
	if err != nil {
		return false, fmt.Errorf("duplicate check: %w", err)
	}
	return dup, nil
}

// DuplicateReply is the user-facing text for a repeated request.
func DuplicateReply(kind models.CommandKind) string {
	if kind == models.CommandImage {
		return "You already asked for that image. Chill."
	}
	return "You literally just asked that. Wait a bit."
}
