package access

import (
	"context"
	"crypto/subtle"
	"sort"
	"sync"
	"time"
)

// InMemory implements Store with in-process concurrency safety. It backs
// tests and DSN-less development runs; production uses the Postgres store.
type InMemory struct {
	mu          sync.Mutex
	invitations map[string]*Invitation
	guests      map[string]*Guest
	guards      map[string]*Guard
	orgs        map[string]*OrgNode
	qrSessions  map[string][]QRSession // invitationID -> sessions, oldest first
	otps        map[string][]*OTP      // invitationID -> codes, oldest first
	events      []ScanEvent
}

// NewInMemory creates an empty store.
func NewInMemory() *InMemory {
	return &InMemory{
		invitations: make(map[string]*Invitation),
		guests:      make(map[string]*Guest),
		guards:      make(map[string]*Guard),
		orgs:        make(map[string]*OrgNode),
		qrSessions:  make(map[string][]QRSession),
		otps:        make(map[string][]*OTP),
	}
}

var _ Store = (*InMemory)(nil)

func (s *InMemory) CreateInvitation(ctx context.Context, inv Invitation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := inv
	s.invitations[inv.ID] = &cp
	return nil
}

func (s *InMemory) GetInvitation(ctx context.Context, id string) (Invitation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inv, ok := s.invitations[id]
	if !ok {
		return Invitation{}, ErrInvitationNotFound
	}
	return *inv, nil
}

func (s *InMemory) ListInvitations(ctx context.Context, orgNodeID string) ([]Invitation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var res []Invitation
	for _, inv := range s.invitations {
		if orgNodeID != "" && inv.OrgNodeID != orgNodeID {
			continue
		}
		res = append(res, *inv)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].CreatedAt.After(res[j].CreatedAt) })
	return res, nil
}

func (s *InMemory) UpdateInvitationStatus(ctx context.Context, id string, status Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	inv, ok := s.invitations[id]
	if !ok {
		return ErrInvitationNotFound
	}
	inv.Status = status
	return nil
}

func (s *InMemory) DeleteInvitation(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.invitations[id]; !ok {
		return ErrInvitationNotFound
	}
	delete(s.invitations, id)
	delete(s.qrSessions, id)
	delete(s.otps, id)
	// Scan events stay: the audit trail outlives the invitation.
	return nil
}

func (s *InMemory) InvitationsForGuest(ctx context.Context, guestID string) ([]Invitation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var res []Invitation
	for _, inv := range s.invitations {
		if inv.GuestID == guestID && inv.Status != StatusRevoked {
			res = append(res, *inv)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].SecurityLevel < res[j].SecurityLevel })
	return res, nil
}

func (s *InMemory) CreateGuest(ctx context.Context, g Guest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := g
	s.guests[g.ID] = &cp
	return nil
}

func (s *InMemory) GetGuest(ctx context.Context, id string) (Guest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.guests[id]
	if !ok {
		return Guest{}, ErrGuestNotFound
	}
	return *g, nil
}

func (s *InMemory) FindGuestByPhone(ctx context.Context, phone string) (Guest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, g := range s.guests {
		if g.Phone == phone {
			return *g, nil
		}
	}
	return Guest{}, ErrGuestNotFound
}

func (s *InMemory) UpdateGuestName(ctx context.Context, id, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.guests[id]
	if !ok {
		return ErrGuestNotFound
	}
	g.Name = name
	return nil
}

func (s *InMemory) CreateGuard(ctx context.Context, g Guard) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := g
	s.guards[g.ID] = &cp
	return nil
}

func (s *InMemory) GetGuard(ctx context.Context, id string) (Guard, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.guards[id]
	if !ok {
		return Guard{}, ErrGuardNotFound
	}
	return *g, nil
}

func (s *InMemory) CreateOrgNode(ctx context.Context, n OrgNode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := n
	s.orgs[n.ID] = &cp
	return nil
}

func (s *InMemory) GetOrgNode(ctx context.Context, id string) (OrgNode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.orgs[id]
	if !ok {
		return OrgNode{}, ErrOrgNodeNotFound
	}
	return *n, nil
}

func (s *InMemory) GetOrCreateQRSession(ctx context.Context, candidate QRSession, now time.Time) (QRSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sessions := s.qrSessions[candidate.InvitationID]
	if n := len(sessions); n > 0 {
		latest := sessions[n-1]
		if latest.ExpiresAt.After(now) {
			return latest, nil
		}
	}
	s.qrSessions[candidate.InvitationID] = append(sessions, candidate)
	return candidate, nil
}

func (s *InMemory) FindQRSession(ctx context.Context, invitationID, secret string) (QRSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sessions := s.qrSessions[invitationID]
	for i := len(sessions) - 1; i >= 0; i-- {
		if subtleEqual(sessions[i].Secret, secret) {
			return sessions[i], nil
		}
	}
	return QRSession{}, ErrQRSessionNotFound
}

func (s *InMemory) LatestQRSession(ctx context.Context, invitationID string) (QRSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sessions := s.qrSessions[invitationID]
	if len(sessions) == 0 {
		return QRSession{}, ErrQRSessionNotFound
	}
	return sessions[len(sessions)-1], nil
}

func (s *InMemory) GetOrCreateOTP(ctx context.Context, candidate OTP, now time.Time) (OTP, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	otps := s.otps[candidate.InvitationID]
	for i := len(otps) - 1; i >= 0; i-- {
		if !otps[i].Verified && otps[i].ExpiresAt.After(now) {
			return *otps[i], nil
		}
	}
	cp := candidate
	s.otps[candidate.InvitationID] = append(otps, &cp)
	return candidate, nil
}

func (s *InMemory) ReplaceOTP(ctx context.Context, candidate OTP) (OTP, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var kept []*OTP
	for _, o := range s.otps[candidate.InvitationID] {
		if o.Verified {
			kept = append(kept, o)
		}
	}
	cp := candidate
	s.otps[candidate.InvitationID] = append(kept, &cp)
	return candidate, nil
}

func (s *InMemory) ConsumeOTP(ctx context.Context, invitationID, code string, now time.Time) (OTPOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	otps := s.otps[invitationID]
	for i := len(otps) - 1; i >= 0; i-- {
		o := otps[i]
		if o.Verified || !subtleEqual(o.Code, code) {
			continue
		}
		if !o.ExpiresAt.After(now) {
			return OTPExpired, nil
		}
		o.Verified = true
		return OTPAccepted, nil
	}
	return OTPWrongCode, nil
}

func (s *InMemory) AppendScanEvent(ctx context.Context, ev ScanEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return nil
}

func (s *InMemory) ListScanEvents(ctx context.Context, f ScanEventFilter) ([]ScanEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var res []ScanEvent
	for i := len(s.events) - 1; i >= 0; i-- {
		ev := s.events[i]
		if f.InvitationID != "" && ev.InvitationID != f.InvitationID {
			continue
		}
		if f.GuardID != "" && ev.GuardID != f.GuardID {
			continue
		}
		if f.FailedOnly && ev.Success {
			continue
		}
		if !f.Since.IsZero() && ev.CreatedAt.Before(f.Since) {
			continue
		}
		res = append(res, ev)
		if f.Limit > 0 && len(res) >= f.Limit {
			break
		}
	}
	return res, nil
}

// subtleEqual compares secrets without leaking match position through timing.
func subtleEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
