// Package auth holds the user-permission policy for the chat front-end.
package auth

import (
	"strconv"
	"strings"
)

// PolicyService manages user permissions for the bot. Admins may ingest and
// delete documents; the allowlist gates who may ask questions at all.
type PolicyService struct {
	adminUserIDs   map[int64]bool
	allowedUserIDs map[int64]bool // empty means everyone is allowed
}

// NewPolicyService parses comma-separated ID lists from configuration.
// Malformed entries are skipped.
func NewPolicyService(adminUserIDsStr, allowedUserIDsStr string) *PolicyService {
	return &PolicyService{
		adminUserIDs:   parseIDList(adminUserIDsStr),
		allowedUserIDs: parseIDList(allowedUserIDsStr),
	}
}

func parseIDList(s string) map[int64]bool {
	ids := make(map[int64]bool)
	if s == "" {
		return ids
	}
	for _, idStr := range strings.Split(s, ",") {
		id, err := strconv.ParseInt(strings.TrimSpace(idStr), 10, 64)
		if err == nil {
			ids[id] = true
		}
	}
	return ids
}

// IsAdmin checks if a user may manage the document index.
func (p *PolicyService) IsAdmin(userID int64) bool {
	return p.adminUserIDs[userID]
}

// IsAllowed checks if a user may query the bot. An empty allowlist admits
// everyone; admins are always allowed.
func (p *PolicyService) IsAllowed(userID int64) bool {
	if len(p.allowedUserIDs) == 0 {
		return true
	}
	if p.IsAdmin(userID) {
		return true
	}
	return p.allowedUserIDs[userID]
}
