package access

import (
	"errors"
	"time"
)

// SecurityLevel is one of four escalating verification strengths fixed on the
// invitation at creation time.
type SecurityLevel int

const (
	LevelQR         SecurityLevel = 1 // guest QR only
	LevelQROTP      SecurityLevel = 2 // guest QR + OTP
	LevelGuardToken SecurityLevel = 3 // guard-signed token
	LevelGuardOTP   SecurityLevel = 4 // guard-signed token + OTP
)

func (l SecurityLevel) Valid() bool { return l >= LevelQR && l <= LevelGuardOTP }

// RequiresOTP reports whether the level completes through a second factor.
func (l SecurityLevel) RequiresOTP() bool { return l == LevelQROTP || l == LevelGuardOTP }

// UsesGuardToken reports whether the level is verified through the guard-token
// endpoint instead of the guest QR endpoint.
func (l SecurityLevel) UsesGuardToken() bool { return l == LevelGuardToken || l == LevelGuardOTP }

// Status is the invitation lifecycle state. The stored value is a cache; any
// access decision recomputes it via ResolveStatus.
type Status string

const (
	StatusPending Status = "pending"
	StatusActive  Status = "active"
	StatusExpired Status = "expired"
	StatusRevoked Status = "revoked"
)

// GuardStatus mirrors the personnel roster state.
type GuardStatus string

const (
	GuardActive   GuardStatus = "active"
	GuardDisabled GuardStatus = "disabled"
)

// Invitation grants one guest entry to a site for a bounded window.
type Invitation struct {
	ID            string        `json:"id"`
	GuestID       string        `json:"guest_id"`
	EmployeeName  string        `json:"employee_name"`
	EmployeePhone string        `json:"employee_phone"`
	ValidFrom     time.Time     `json:"valid_from"`
	ValidTo       time.Time     `json:"valid_to"`
	SecurityLevel SecurityLevel `json:"security_level"`
	Status        Status        `json:"status"`
	OrgNodeID     string        `json:"org_node_id"`
	CreatedAt     time.Time     `json:"created_at"`
}

// Guest is a visitor identified by phone number.
type Guest struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Phone     string    `json:"phone"`
	CreatedAt time.Time `json:"created_at"`
}

// Guard is a member of on-site security personnel.
type Guard struct {
	ID        string      `json:"id"`
	Username  string      `json:"username"`
	Status    GuardStatus `json:"status"`
	OrgNodeID string      `json:"org_node_id"`
	CreatedAt time.Time   `json:"created_at"`
}

// OrgNode is one unit in the organization tree. ParentID is empty for roots.
type OrgNode struct {
	ID       string `json:"id"`
	ParentID string `json:"parent_id,omitempty"`
	Name     string `json:"name"`
	Type     string `json:"type"`
}

// QRSession is a rotating secret bound to one invitation. Rotation inserts a
// new row; rows are never updated in place.
type QRSession struct {
	ID           string    `json:"id"`
	InvitationID string    `json:"invitation_id"`
	Secret       string    `json:"secret"`
	ExpiresAt    time.Time `json:"expires_at"`
	CreatedAt    time.Time `json:"created_at"`
}

// OTP is a single-use 6-digit code bound to one invitation. Verified flips
// false to true exactly once.
type OTP struct {
	ID           string    `json:"id"`
	InvitationID string    `json:"invitation_id"`
	Code         string    `json:"code"`
	ExpiresAt    time.Time `json:"expires_at"`
	Verified     bool      `json:"verified"`
	CreatedAt    time.Time `json:"created_at"`
}

// ScanEvent is one immutable audit record. GuardID is empty for
// guest-initiated attempts. FailureReason is set iff Success is false.
type ScanEvent struct {
	ID            string        `json:"id"`
	InvitationID  string        `json:"invitation_id"`
	GuardID       string        `json:"guard_id,omitempty"`
	SecurityLevel SecurityLevel `json:"security_level"`
	Success       bool          `json:"success"`
	FailureReason string        `json:"failure_reason,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
}

// Decision is the outcome of one verification attempt.
type Decision string

const (
	DecisionAccepted   Decision = "accepted"
	DecisionPendingOTP Decision = "pending_second_factor"
	DecisionRejected   Decision = "rejected"
)

// IssuedQR is what the guest display page renders.
type IssuedQR struct {
	Secret    string    `json:"secret"`
	ExpiresAt time.Time `json:"expires_at"`
}

// IssuedOTP is shown to the guest to relay to the guard.
type IssuedOTP struct {
	Code      string    `json:"code"`
	ExpiresAt time.Time `json:"expires_at"`
}

// InvitationSummary is the display metadata attached to successful results.
type InvitationSummary struct {
	ID            string        `json:"id"`
	GuestName     string        `json:"guest_name,omitempty"`
	GuestPhone    string        `json:"guest_phone,omitempty"`
	EmployeeName  string        `json:"employee_name"`
	EmployeePhone string        `json:"employee_phone"`
	SecurityLevel SecurityLevel `json:"security_level"`
	ValidFrom     time.Time     `json:"valid_from"`
	ValidTo       time.Time     `json:"valid_to"`
	OrgName       string        `json:"org_name,omitempty"`
	OrgType       string        `json:"org_type,omitempty"`
}

// GuardSummary identifies the guard involved in a guard-token scan.
type GuardSummary struct {
	Username string `json:"username"`
	OrgName  string `json:"org_name,omitempty"`
}

// VerificationResult is the tagged outcome of a scan or OTP verification.
// Reason is set for rejections; Message for accepted/pending outcomes. OTP is
// populated only on the tier-4 pending hand-off shown to the guest.
type VerificationResult struct {
	Decision      Decision           `json:"decision"`
	Message       string             `json:"message,omitempty"`
	Reason        string             `json:"reason,omitempty"`
	SecurityLevel SecurityLevel      `json:"security_level"`
	IsPreApproved bool               `json:"is_pre_approved"`
	Invitation    *InvitationSummary `json:"invitation,omitempty"`
	Guard         *GuardSummary      `json:"guard,omitempty"`
	OTP           *IssuedOTP         `json:"otp,omitempty"`
}

var (
	ErrInvitationNotFound = errors.New("invitation not found")
	ErrGuestNotFound      = errors.New("guest not found")
	ErrGuardNotFound      = errors.New("guard not found")
	ErrGuardDisabled      = errors.New("guard is disabled")
	ErrOrgNodeNotFound    = errors.New("organization node not found")
	ErrNoActiveInvitation = errors.New("no active invitation for guest")
	ErrQRSessionNotFound  = errors.New("qr session not found")
	ErrInvalidInput       = errors.New("invalid input")

	// Window rejections surfaced by the guest credential endpoints, where
	// there is no scan attempt to audit yet.
	ErrInvitationRevoked      = errors.New("invitation has been revoked")
	ErrInvitationExpired      = errors.New("invitation has expired")
	ErrInvitationNotYetActive = errors.New("invitation is not yet active")

	// ErrOTPNotRequired is returned when requesting an OTP for a level that
	// never completes through one.
	ErrOTPNotRequired = errors.New("security level does not use an OTP")
)
