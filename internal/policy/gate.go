package policy

import "github.com/parsascontentcorner/grokgate/internal/models"

// RequiresApproval reports whether a request that passed every check must
// wait for an admin. Admins skip the queue only when the guild lets them.
func RequiresApproval(cfg *models.GuildConfig, isAdmin bool) bool {
	return cfg.AutoApproveEnabled && !(cfg.AdminBypassAutoApprove && isAdmin)
}

// PendingReply is the text sent while a request waits for approval.
func PendingReply(kind models.CommandKind) string {
	if kind == models.CommandImage {
		return "Image request queued for admin approval."
	}
	return "Your request is waiting for an admin to approve."
}
