package access

import "time"

// ResolveStatus derives the effective invitation status at the given instant.
// The stored status is a cache that goes stale as time passes; every read
// feeding an access decision must go through here. Revocation is terminal and
// never overridden by the window.
func ResolveStatus(inv Invitation, now time.Time) Status {
	if inv.Status == StatusRevoked {
		return StatusRevoked
	}
	if now.Before(inv.ValidFrom) {
		return StatusPending
	}
	if !now.Before(inv.ValidTo) {
		return StatusExpired
	}
	return StatusActive
}
