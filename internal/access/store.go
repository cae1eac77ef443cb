package access

import (
	"context"
	"time"
)

// ScanEventFilter narrows ListScanEvents. Zero values mean "no constraint".
type ScanEventFilter struct {
	InvitationID string
	GuardID      string
	FailedOnly   bool
	Since        time.Time
	Limit        int
}

// Store is the durable state behind the verification engine. Implementations
// must make the get-or-create and consume operations atomic per invitation:
// two concurrent callers may not both insert a fresh secret, and an OTP may
// not be accepted twice.
type Store interface {
	CreateInvitation(ctx context.Context, inv Invitation) error
	GetInvitation(ctx context.Context, id string) (Invitation, error)
	// ListInvitations returns invitations for an organization (all when
	// orgNodeID is empty). No status filtering happens here: the stored
	// status is a cache, so callers resolve against the clock first.
	ListInvitations(ctx context.Context, orgNodeID string) ([]Invitation, error)
	UpdateInvitationStatus(ctx context.Context, id string, status Status) error
	// DeleteInvitation removes the invitation together with its QR sessions
	// and OTPs. Scan events are retained: the audit trail outlives the
	// invitation.
	DeleteInvitation(ctx context.Context, id string) error
	// InvitationsForGuest returns the guest's non-revoked invitations,
	// ordered by ascending security level. Revocation is the only stored
	// status that is authoritative; callers resolve the rest against the
	// clock.
	InvitationsForGuest(ctx context.Context, guestID string) ([]Invitation, error)

	CreateGuest(ctx context.Context, g Guest) error
	GetGuest(ctx context.Context, id string) (Guest, error)
	FindGuestByPhone(ctx context.Context, phone string) (Guest, error)
	UpdateGuestName(ctx context.Context, id, name string) error

	CreateGuard(ctx context.Context, g Guard) error
	GetGuard(ctx context.Context, id string) (Guard, error)

	CreateOrgNode(ctx context.Context, n OrgNode) error
	GetOrgNode(ctx context.Context, id string) (OrgNode, error)

	// GetOrCreateQRSession returns the most recent unexpired session for the
	// candidate's invitation, or persists and returns the candidate when none
	// is valid. The read and the conditional insert are one atomic step.
	GetOrCreateQRSession(ctx context.Context, candidate QRSession, now time.Time) (QRSession, error)
	// FindQRSession locates a session by invitation and exact secret,
	// regardless of expiry; the caller decides between "invalid" and
	// "expired".
	FindQRSession(ctx context.Context, invitationID, secret string) (QRSession, error)
	LatestQRSession(ctx context.Context, invitationID string) (QRSession, error)

	// GetOrCreateOTP mirrors GetOrCreateQRSession for unverified OTPs.
	GetOrCreateOTP(ctx context.Context, candidate OTP, now time.Time) (OTP, error)
	// ReplaceOTP discards any unverified OTPs for the invitation and persists
	// the candidate, atomically. Used by the tier-4 hand-off so exactly one
	// code is live.
	ReplaceOTP(ctx context.Context, candidate OTP) (OTP, error)
	// ConsumeOTP atomically marks the matching unverified OTP as verified.
	// An already-consumed or absent code is OTPWrongCode, a matched but
	// stale one is OTPExpired.
	ConsumeOTP(ctx context.Context, invitationID, code string, now time.Time) (OTPOutcome, error)

	AppendScanEvent(ctx context.Context, ev ScanEvent) error
	ListScanEvents(ctx context.Context, f ScanEventFilter) ([]ScanEvent, error)
}

// OTPOutcome is the result of a ConsumeOTP attempt.
type OTPOutcome int

const (
	OTPWrongCode OTPOutcome = iota
	OTPExpired
	OTPAccepted
)
