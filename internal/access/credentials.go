package access

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"math/big"

	"github.com/doutyacodes/knockster-org/internal/ids"
)

// checkWindow rejects credential requests for invitations outside their
// validity window. These are guest-page errors, not scan attempts, so no
// scan event is written here.
func checkWindow(inv Invitation, status Status) error {
	switch status {
	case StatusRevoked:
		return ErrInvitationRevoked
	case StatusExpired:
		return ErrInvitationExpired
	case StatusPending:
		return ErrInvitationNotYetActive
	}
	return nil
}

// RequestQR returns the currently valid rotating secret for the invitation,
// minting a new one only when none is live. Calling twice inside the TTL
// window returns the same secret, so a guest refreshing the access page does
// not see the code change.
func (s *Service) RequestQR(ctx context.Context, invitationID string) (IssuedQR, error) {
	inv, err := s.store.GetInvitation(ctx, invitationID)
	if err != nil {
		return IssuedQR{}, err
	}
	now := s.now()
	if err := checkWindow(inv, ResolveStatus(inv, now)); err != nil {
		return IssuedQR{}, err
	}

	candidate := QRSession{
		ID:           ids.New(),
		InvitationID: inv.ID,
		Secret:       newQRSecret(),
		ExpiresAt:    now.Add(s.cfg.QRTTL),
		CreatedAt:    now,
	}
	session, err := s.store.GetOrCreateQRSession(ctx, candidate, now)
	if err != nil {
		return IssuedQR{}, err
	}
	return IssuedQR{Secret: session.Secret, ExpiresAt: session.ExpiresAt}, nil
}

// RequestOTP returns the live unverified OTP for a tier 2/4 invitation,
// minting a new code only when none is valid. Same idempotent-reuse policy
// as RequestQR.
func (s *Service) RequestOTP(ctx context.Context, invitationID string) (IssuedOTP, error) {
	inv, err := s.store.GetInvitation(ctx, invitationID)
	if err != nil {
		return IssuedOTP{}, err
	}
	if !inv.SecurityLevel.RequiresOTP() {
		return IssuedOTP{}, ErrOTPNotRequired
	}
	now := s.now()
	if err := checkWindow(inv, ResolveStatus(inv, now)); err != nil {
		return IssuedOTP{}, err
	}

	candidate := OTP{
		ID:           ids.New(),
		InvitationID: inv.ID,
		Code:         newOTPCode(),
		ExpiresAt:    now.Add(s.cfg.OTPTTL),
		CreatedAt:    now,
	}
	otp, err := s.store.GetOrCreateOTP(ctx, candidate, now)
	if err != nil {
		return IssuedOTP{}, err
	}
	return IssuedOTP{Code: otp.Code, ExpiresAt: otp.ExpiresAt}, nil
}

// newQRSecret mints 128 bits of entropy, hex encoded.
func newQRSecret() string {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		panic(fmt.Sprintf("access: crypto/rand unavailable: %v", err))
	}
	return hex.EncodeToString(b[:])
}

var otpModulus = big.NewInt(1_000_000)

// newOTPCode mints a uniformly random 6-digit code. Collisions across
// invitations are acceptable; verification is scoped by invitation id.
func newOTPCode() string {
	n, err := rand.Int(rand.Reader, otpModulus)
	if err != nil {
		panic(fmt.Sprintf("access: crypto/rand unavailable: %v", err))
	}
	return fmt.Sprintf("%06d", n.Int64())
}
