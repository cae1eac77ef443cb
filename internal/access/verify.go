package access

import (
	"context"
	"fmt"

	"github.com/doutyacodes/knockster-org/internal/guardtoken"
	"github.com/doutyacodes/knockster-org/internal/ids"
)

// Rejection reasons recorded on scan events and returned to callers. Alerts
// classification keys off these strings, so they are part of the contract.
const (
	ReasonInvitationNotFound = "invitation not found"
	ReasonInvitationRevoked  = "invitation revoked"
	ReasonTimeExpired        = "time expired"
	ReasonNotYetValid        = "not yet valid"
	ReasonInvalidQR          = "invalid QR session"
	ReasonQRExpired          = "QR code expired"
	ReasonWrongMethod        = "wrong verification method for this security level"
	ReasonInvalidOTP         = "invalid OTP code"
	ReasonOTPExpired         = "OTP expired"
	ReasonOTPNotRequired     = "OTP not required for this security level"
)

// GuestQRScan is a guard scanning the rotating QR on a guest's phone.
type GuestQRScan struct {
	InvitationID string
	Secret       string
	GuardID      string
}

// GuardTokenScan is a guest scanning the signed token on a guard's device.
type GuardTokenScan struct {
	Token   string
	GuestID string
}

// OTPVerification completes a tier 2 or tier 4 attempt.
type OTPVerification struct {
	InvitationID string
	Code         string
	GuardID      string
}

// ScanGuestQR runs the tier 1/2 verification path. Every terminal decision
// appends exactly one scan event before the caller sees the result; the tier
// 2 pending hand-off is completed (and audited) by VerifyOTP.
func (s *Service) ScanGuestQR(ctx context.Context, scan GuestQRScan) (VerificationResult, error) {
	guard, err := s.store.GetGuard(ctx, scan.GuardID)
	if err != nil {
		return VerificationResult{}, err
	}

	inv, err := s.store.GetInvitation(ctx, scan.InvitationID)
	if err == ErrInvitationNotFound {
		return s.reject(ctx, scan.InvitationID, guard.ID, 0, ReasonInvitationNotFound)
	}
	if err != nil {
		return VerificationResult{}, err
	}

	if res, rejected, err := s.checkInvitationWindow(ctx, inv, guard.ID); rejected || err != nil {
		return res, err
	}

	if inv.SecurityLevel.UsesGuardToken() {
		return s.reject(ctx, inv.ID, guard.ID, inv.SecurityLevel, ReasonWrongMethod)
	}

	session, err := s.store.FindQRSession(ctx, inv.ID, scan.Secret)
	if err == ErrQRSessionNotFound {
		return s.reject(ctx, inv.ID, guard.ID, inv.SecurityLevel, ReasonInvalidQR)
	}
	if err != nil {
		return VerificationResult{}, err
	}
	if !session.ExpiresAt.After(s.now()) {
		return s.reject(ctx, inv.ID, guard.ID, inv.SecurityLevel, ReasonQRExpired)
	}

	summary := s.invitationSummary(ctx, inv)
	preApproved := s.isPreApproved(ctx, guard.OrgNodeID, inv.OrgNodeID)

	if inv.SecurityLevel == LevelQROTP {
		// Pending is not terminal: no scan event until the OTP decision.
		return VerificationResult{
			Decision:      DecisionPendingOTP,
			Message:       "OTP verification required - level 2",
			SecurityLevel: inv.SecurityLevel,
			IsPreApproved: preApproved,
			Invitation:    summary,
		}, nil
	}

	if err := s.recordScan(ctx, inv.ID, guard.ID, inv.SecurityLevel, true, ""); err != nil {
		return VerificationResult{}, err
	}
	return VerificationResult{
		Decision:      DecisionAccepted,
		Message:       "access granted - level 1",
		SecurityLevel: inv.SecurityLevel,
		IsPreApproved: preApproved,
		Invitation:    summary,
	}, nil
}

// ScanGuardToken runs the tier 3/4 verification path. The presented token is
// verified before any storage read; a forged or stale token is an input
// error, not a scan attempt, because no invitation is identified yet.
func (s *Service) ScanGuardToken(ctx context.Context, scan GuardTokenScan) (VerificationResult, error) {
	claims, err := s.signer.Verify(scan.Token, s.now())
	if err != nil {
		return VerificationResult{}, err
	}

	guard, err := s.store.GetGuard(ctx, claims.GuardID)
	if err != nil {
		return VerificationResult{}, err
	}
	if guard.Status == GuardDisabled {
		return VerificationResult{}, ErrGuardDisabled
	}

	inv, err := s.highestActiveInvitation(ctx, scan.GuestID)
	if err != nil {
		return VerificationResult{}, err
	}

	if res, rejected, err := s.checkInvitationWindow(ctx, inv, guard.ID); rejected || err != nil {
		return res, err
	}

	if !inv.SecurityLevel.UsesGuardToken() {
		return s.reject(ctx, inv.ID, guard.ID, inv.SecurityLevel, ReasonWrongMethod)
	}

	summary := s.invitationSummary(ctx, inv)
	guardSummary := s.guardSummary(ctx, guard)
	preApproved := s.isPreApproved(ctx, guard.OrgNodeID, inv.OrgNodeID)

	if inv.SecurityLevel == LevelGuardOTP {
		now := s.now()
		// Invalidate any earlier unverified code so the guard only ever sees
		// the one on the guest's screen.
		otp, err := s.store.ReplaceOTP(ctx, OTP{
			ID:           ids.New(),
			InvitationID: inv.ID,
			Code:         newOTPCode(),
			ExpiresAt:    now.Add(s.cfg.OTPTTL),
			CreatedAt:    now,
		})
		if err != nil {
			return VerificationResult{}, err
		}
		return VerificationResult{
			Decision:      DecisionPendingOTP,
			Message:       "show this code to the security guard",
			SecurityLevel: inv.SecurityLevel,
			IsPreApproved: preApproved,
			Invitation:    summary,
			Guard:         guardSummary,
			OTP:           &IssuedOTP{Code: otp.Code, ExpiresAt: otp.ExpiresAt},
		}, nil
	}

	if err := s.recordScan(ctx, inv.ID, guard.ID, inv.SecurityLevel, true, ""); err != nil {
		return VerificationResult{}, err
	}
	return VerificationResult{
		Decision:      DecisionAccepted,
		Message:       "access granted - level 3",
		SecurityLevel: inv.SecurityLevel,
		IsPreApproved: preApproved,
		Invitation:    summary,
		Guard:         guardSummary,
	}, nil
}

// VerifyOTP completes a tier 2 or 4 attempt. The check-then-mark transition
// is a single atomic store operation, so a code can be accepted at most once
// even under concurrent verification.
func (s *Service) VerifyOTP(ctx context.Context, req OTPVerification) (VerificationResult, error) {
	guard, err := s.store.GetGuard(ctx, req.GuardID)
	if err != nil {
		return VerificationResult{}, err
	}

	inv, err := s.store.GetInvitation(ctx, req.InvitationID)
	if err == ErrInvitationNotFound {
		return s.reject(ctx, req.InvitationID, guard.ID, 0, ReasonInvitationNotFound)
	}
	if err != nil {
		return VerificationResult{}, err
	}

	if res, rejected, err := s.checkInvitationWindow(ctx, inv, guard.ID); rejected || err != nil {
		return res, err
	}

	if !inv.SecurityLevel.RequiresOTP() {
		return s.reject(ctx, inv.ID, guard.ID, inv.SecurityLevel, ReasonOTPNotRequired)
	}

	outcome, err := s.store.ConsumeOTP(ctx, inv.ID, req.Code, s.now())
	if err != nil {
		return VerificationResult{}, err
	}
	switch outcome {
	case OTPWrongCode:
		return s.reject(ctx, inv.ID, guard.ID, inv.SecurityLevel, ReasonInvalidOTP)
	case OTPExpired:
		return s.reject(ctx, inv.ID, guard.ID, inv.SecurityLevel, ReasonOTPExpired)
	}

	if err := s.recordScan(ctx, inv.ID, guard.ID, inv.SecurityLevel, true, ""); err != nil {
		return VerificationResult{}, err
	}
	return VerificationResult{
		Decision:      DecisionAccepted,
		Message:       fmt.Sprintf("access granted - level %d", inv.SecurityLevel),
		SecurityLevel: inv.SecurityLevel,
		IsPreApproved: s.isPreApproved(ctx, guard.OrgNodeID, inv.OrgNodeID),
		Invitation:    s.invitationSummary(ctx, inv),
		Guard:         s.guardSummary(ctx, guard),
	}, nil
}

// checkInvitationWindow applies the status checks shared by all scan paths.
// rejected=true means res carries a terminal rejection (already audited).
func (s *Service) checkInvitationWindow(ctx context.Context, inv Invitation, guardID string) (res VerificationResult, rejected bool, err error) {
	switch ResolveStatus(inv, s.now()) {
	case StatusRevoked:
		res, err = s.reject(ctx, inv.ID, guardID, inv.SecurityLevel, ReasonInvitationRevoked)
		return res, true, err
	case StatusExpired:
		res, err = s.reject(ctx, inv.ID, guardID, inv.SecurityLevel, ReasonTimeExpired)
		return res, true, err
	case StatusPending:
		res, err = s.reject(ctx, inv.ID, guardID, inv.SecurityLevel, ReasonNotYetValid)
		return res, true, err
	}
	return VerificationResult{}, false, nil
}

// highestActiveInvitation resolves the guest's invitations and picks the one
// with the strongest security level among those active right now. The stored
// status is never trusted here: an invitation created before its window opens
// sits at pending in storage for its whole life, so activity is recomputed
// from the window on every scan.
func (s *Service) highestActiveInvitation(ctx context.Context, guestID string) (Invitation, error) {
	invs, err := s.store.InvitationsForGuest(ctx, guestID)
	if err != nil {
		return Invitation{}, err
	}
	now := s.now()
	var best Invitation
	var found bool
	for _, inv := range invs {
		if ResolveStatus(inv, now) != StatusActive {
			continue
		}
		if !found || inv.SecurityLevel > best.SecurityLevel {
			best = inv
			found = true
		}
	}
	if !found {
		return Invitation{}, ErrNoActiveInvitation
	}
	return best, nil
}

// reject records the failed attempt and returns the rejection. The audit
// write is not best-effort: if it fails the whole verification fails, since
// an unaudited decision is worse than a denied entry.
func (s *Service) reject(ctx context.Context, invitationID, guardID string, level SecurityLevel, reason string) (VerificationResult, error) {
	if err := s.recordScan(ctx, invitationID, guardID, level, false, reason); err != nil {
		return VerificationResult{}, err
	}
	return VerificationResult{
		Decision:      DecisionRejected,
		Reason:        reason,
		SecurityLevel: level,
	}, nil
}

func (s *Service) recordScan(ctx context.Context, invitationID, guardID string, level SecurityLevel, success bool, reason string) error {
	ev := ScanEvent{
		ID:            ids.New(),
		InvitationID:  invitationID,
		GuardID:       guardID,
		SecurityLevel: level,
		Success:       success,
		FailureReason: reason,
		CreatedAt:     s.now(),
	}
	if err := s.store.AppendScanEvent(ctx, ev); err != nil {
		return fmt.Errorf("append scan event: %w", err)
	}
	return nil
}

func (s *Service) invitationSummary(ctx context.Context, inv Invitation) *InvitationSummary {
	summary := &InvitationSummary{
		ID:            inv.ID,
		EmployeeName:  inv.EmployeeName,
		EmployeePhone: inv.EmployeePhone,
		SecurityLevel: inv.SecurityLevel,
		ValidFrom:     inv.ValidFrom,
		ValidTo:       inv.ValidTo,
	}
	if guest, err := s.store.GetGuest(ctx, inv.GuestID); err == nil {
		summary.GuestName = guest.Name
		summary.GuestPhone = guest.Phone
	}
	if org, err := s.store.GetOrgNode(ctx, inv.OrgNodeID); err == nil {
		summary.OrgName = org.Name
		summary.OrgType = org.Type
	}
	return summary
}

func (s *Service) guardSummary(ctx context.Context, guard Guard) *GuardSummary {
	gs := &GuardSummary{Username: guard.Username}
	if org, err := s.store.GetOrgNode(ctx, guard.OrgNodeID); err == nil {
		gs.OrgName = org.Name
	}
	return gs
}

// IsInputError reports whether an error from the engine stems from the
// presented token rather than system state, so transports can map it to a
// client error without auditing.
func IsInputError(err error) bool {
	return err == guardtoken.ErrInvalidToken || err == guardtoken.ErrTokenExpired
}
