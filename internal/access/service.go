package access

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/doutyacodes/knockster-org/internal/guardtoken"
	"github.com/doutyacodes/knockster-org/internal/ids"
)

// Config tunes the verification engine. Zero values fall back to defaults.
type Config struct {
	QRTTL       time.Duration // rotating QR secret lifetime, default 300s
	OTPTTL      time.Duration // second-factor code lifetime, default 300s
	MaxOrgDepth int           // hierarchy walk cap, default 10
}

const (
	defaultQRTTL       = 5 * time.Minute
	defaultOTPTTL      = 5 * time.Minute
	defaultMaxOrgDepth = 10
)

func (c Config) withDefaults() Config {
	if c.QRTTL <= 0 {
		c.QRTTL = defaultQRTTL
	}
	if c.OTPTTL <= 0 {
		c.OTPTTL = defaultOTPTTL
	}
	if c.MaxOrgDepth <= 0 {
		c.MaxOrgDepth = defaultMaxOrgDepth
	}
	return c
}

// Service is the multi-tier access verification engine. It orchestrates the
// store and the guard-token signer but holds no request state of its own;
// concurrency correctness lives in the store's atomic operations.
type Service struct {
	store  Store
	signer *guardtoken.Signer
	cfg    Config
	now    func() time.Time
}

// Option configures Service construction.
type Option func(*Service)

// WithClock overrides the time source. Intended for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService builds the engine over the given store and guard-token signer.
func NewService(store Store, signer *guardtoken.Signer, cfg Config, opts ...Option) *Service {
	s := &Service{
		store:  store,
		signer: signer,
		cfg:    cfg.withDefaults(),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateInvitationParams is the admin-facing invitation request.
type CreateInvitationParams struct {
	EmployeeName  string
	EmployeePhone string
	GuestName     string
	GuestPhone    string
	ValidFrom     time.Time
	ValidTo       time.Time
	SecurityLevel SecurityLevel
	OrgNodeID     string
}

func (p CreateInvitationParams) validate() error {
	switch {
	case strings.TrimSpace(p.EmployeeName) == "",
		strings.TrimSpace(p.EmployeePhone) == "",
		strings.TrimSpace(p.GuestName) == "",
		strings.TrimSpace(p.GuestPhone) == "",
		strings.TrimSpace(p.OrgNodeID) == "":
		return fmt.Errorf("%w: all fields are required", ErrInvalidInput)
	case !p.SecurityLevel.Valid():
		return fmt.Errorf("%w: security level must be between 1 and 4", ErrInvalidInput)
	case !p.ValidFrom.Before(p.ValidTo):
		return fmt.Errorf("%w: valid_to must be after valid_from", ErrInvalidInput)
	}
	return nil
}

// CreateInvitation registers an invitation, finding or creating the guest by
// phone. The initial status is computed from the window, never supplied.
func (s *Service) CreateInvitation(ctx context.Context, p CreateInvitationParams) (Invitation, Guest, error) {
	if err := p.validate(); err != nil {
		return Invitation{}, Guest{}, err
	}
	now := s.now()

	guest, err := s.store.FindGuestByPhone(ctx, strings.TrimSpace(p.GuestPhone))
	switch {
	case err == nil:
		if guest.Name != p.GuestName {
			if err := s.store.UpdateGuestName(ctx, guest.ID, p.GuestName); err != nil {
				return Invitation{}, Guest{}, err
			}
			guest.Name = p.GuestName
		}
	case err == ErrGuestNotFound:
		guest = Guest{
			ID:        ids.New(),
			Name:      strings.TrimSpace(p.GuestName),
			Phone:     strings.TrimSpace(p.GuestPhone),
			CreatedAt: now,
		}
		if err := s.store.CreateGuest(ctx, guest); err != nil {
			return Invitation{}, Guest{}, err
		}
	default:
		return Invitation{}, Guest{}, err
	}

	inv := Invitation{
		ID:            ids.New(),
		GuestID:       guest.ID,
		EmployeeName:  strings.TrimSpace(p.EmployeeName),
		EmployeePhone: strings.TrimSpace(p.EmployeePhone),
		ValidFrom:     p.ValidFrom.UTC(),
		ValidTo:       p.ValidTo.UTC(),
		SecurityLevel: p.SecurityLevel,
		OrgNodeID:     p.OrgNodeID,
		CreatedAt:     now,
	}
	inv.Status = ResolveStatus(inv, now)
	if err := s.store.CreateInvitation(ctx, inv); err != nil {
		return Invitation{}, Guest{}, err
	}
	return inv, guest, nil
}

// GetInvitation loads an invitation with its status freshly resolved.
func (s *Service) GetInvitation(ctx context.Context, id string) (Invitation, error) {
	inv, err := s.store.GetInvitation(ctx, id)
	if err != nil {
		return Invitation{}, err
	}
	inv.Status = ResolveStatus(inv, s.now())
	return inv, nil
}

// ListInvitations returns invitations for an organization. Statuses are
// resolved against the clock before the status filter applies, so a stored
// pending row whose window has opened lists as active and a stale active row
// lists as expired.
func (s *Service) ListInvitations(ctx context.Context, orgNodeID string, status Status) ([]Invitation, error) {
	invs, err := s.store.ListInvitations(ctx, orgNodeID)
	if err != nil {
		return nil, err
	}
	now := s.now()
	res := invs[:0]
	for i := range invs {
		invs[i].Status = ResolveStatus(invs[i], now)
		if status != "" && invs[i].Status != status {
			continue
		}
		res = append(res, invs[i])
	}
	return res, nil
}

// RevokeInvitation performs the one-way revoke transition. Revoking an
// already revoked invitation is a no-op.
func (s *Service) RevokeInvitation(ctx context.Context, id string) error {
	if _, err := s.store.GetInvitation(ctx, id); err != nil {
		return err
	}
	return s.store.UpdateInvitationStatus(ctx, id, StatusRevoked)
}

// PurgeInvitation deletes the invitation and cascades its QR sessions and
// OTPs. Scan events are preserved.
func (s *Service) PurgeInvitation(ctx context.Context, id string) error {
	return s.store.DeleteInvitation(ctx, id)
}

// GetGuest exposes guest lookup to the API layer.
func (s *Service) GetGuest(ctx context.Context, id string) (Guest, error) {
	return s.store.GetGuest(ctx, id)
}

// GetGuard exposes guard lookup to the API layer.
func (s *Service) GetGuard(ctx context.Context, id string) (Guard, error) {
	return s.store.GetGuard(ctx, id)
}

// LatestQRSession returns the most recent QR session for admin detail views.
func (s *Service) LatestQRSession(ctx context.Context, invitationID string) (QRSession, error) {
	return s.store.LatestQRSession(ctx, invitationID)
}

// ListScanEvents is the read-only audit query used by dashboards.
func (s *Service) ListScanEvents(ctx context.Context, f ScanEventFilter) ([]ScanEvent, error) {
	return s.store.ListScanEvents(ctx, f)
}

// IssueGuardToken signs the payload a guard displays for tier 3/4 scans.
func (s *Service) IssueGuardToken(ctx context.Context, guardID string) (string, Guard, error) {
	guard, err := s.store.GetGuard(ctx, guardID)
	if err != nil {
		return "", Guard{}, err
	}
	if guard.Status == GuardDisabled {
		return "", Guard{}, ErrGuardDisabled
	}
	token, err := s.signer.Sign(guard.ID, guard.OrgNodeID, s.now())
	if err != nil {
		return "", Guard{}, err
	}
	return token, guard, nil
}
