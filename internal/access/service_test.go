package access

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestCreateInvitationReusesGuestByPhone(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addOrg("org1", "")

	_, g1, err := f.svc.CreateInvitation(ctx, CreateInvitationParams{
		EmployeeName:  "Host",
		EmployeePhone: "+70000000000",
		GuestName:     "Aidos",
		GuestPhone:    "+77010000001",
		ValidFrom:     f.clock,
		ValidTo:       f.clock.Add(time.Hour),
		SecurityLevel: LevelQR,
		OrgNodeID:     "org1",
	})
	if err != nil {
		t.Fatal(err)
	}
	_, g2, err := f.svc.CreateInvitation(ctx, CreateInvitationParams{
		EmployeeName:  "Host",
		EmployeePhone: "+70000000000",
		GuestName:     "Aidos K.",
		GuestPhone:    "+77010000001",
		ValidFrom:     f.clock,
		ValidTo:       f.clock.Add(time.Hour),
		SecurityLevel: LevelQR,
		OrgNodeID:     "org1",
	})
	if err != nil {
		t.Fatal(err)
	}
	if g1.ID != g2.ID {
		t.Fatalf("same phone must resolve to one guest: %s vs %s", g1.ID, g2.ID)
	}
	if g2.Name != "Aidos K." {
		t.Fatalf("guest name not refreshed: %q", g2.Name)
	}
	stored, err := f.store.GetGuest(ctx, g1.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.Name != "Aidos K." {
		t.Fatalf("stored guest name = %q", stored.Name)
	}
}

func TestCreateInvitationValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addOrg("org1", "")

	base := CreateInvitationParams{
		EmployeeName:  "Host",
		EmployeePhone: "+70000000000",
		GuestName:     "Guest",
		GuestPhone:    "+77010000002",
		ValidFrom:     f.clock,
		ValidTo:       f.clock.Add(time.Hour),
		SecurityLevel: LevelQR,
		OrgNodeID:     "org1",
	}

	cases := []struct {
		name   string
		mutate func(*CreateInvitationParams)
	}{
		{"empty guest phone", func(p *CreateInvitationParams) { p.GuestPhone = " " }},
		{"empty employee name", func(p *CreateInvitationParams) { p.EmployeeName = "" }},
		{"level zero", func(p *CreateInvitationParams) { p.SecurityLevel = 0 }},
		{"level five", func(p *CreateInvitationParams) { p.SecurityLevel = 5 }},
		{"inverted window", func(p *CreateInvitationParams) { p.ValidFrom, p.ValidTo = p.ValidTo, p.ValidFrom }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := base
			tc.mutate(&p)
			if _, _, err := f.svc.CreateInvitation(ctx, p); !errors.Is(err, ErrInvalidInput) {
				t.Fatalf("err = %v, want ErrInvalidInput", err)
			}
		})
	}
}

func TestInvitationStatusComputedAtCreation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addOrg("org1", "")

	future, _, err := f.svc.CreateInvitation(ctx, CreateInvitationParams{
		EmployeeName:  "Host",
		EmployeePhone: "+70000000000",
		GuestName:     "Guest",
		GuestPhone:    "+77010000003",
		ValidFrom:     f.clock.Add(time.Hour),
		ValidTo:       f.clock.Add(2 * time.Hour),
		SecurityLevel: LevelQR,
		OrgNodeID:     "org1",
	})
	if err != nil {
		t.Fatal(err)
	}
	if future.Status != StatusPending {
		t.Fatalf("status = %s, want pending", future.Status)
	}

	// Reads recompute the status as the window opens.
	f.advance(90 * time.Minute)
	got, err := f.svc.GetInvitation(ctx, future.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != StatusActive {
		t.Fatalf("status = %s, want active", got.Status)
	}
}

func TestRevokeInvitationIsOneWay(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addOrg("org1", "")
	inv, _ := f.invite(LevelQR, "org1")

	if err := f.svc.RevokeInvitation(ctx, inv.ID); err != nil {
		t.Fatal(err)
	}
	if err := f.svc.RevokeInvitation(ctx, inv.ID); err != nil {
		t.Fatalf("second revoke must be a no-op, got %v", err)
	}
	got, _ := f.svc.GetInvitation(ctx, inv.ID)
	if got.Status != StatusRevoked {
		t.Fatalf("status = %s", got.Status)
	}

	// Still revoked long after the window would have expired.
	f.advance(3 * time.Hour)
	got, _ = f.svc.GetInvitation(ctx, inv.ID)
	if got.Status != StatusRevoked {
		t.Fatalf("status after window = %s, want revoked", got.Status)
	}
}

func TestPurgeInvitationKeepsScanEvents(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addOrg("org1", "")
	f.addGuard("g1", "org1", GuardActive)
	inv, _ := f.invite(LevelQR, "org1")

	qr, _ := f.svc.RequestQR(ctx, inv.ID)
	if _, err := f.svc.ScanGuestQR(ctx, GuestQRScan{InvitationID: inv.ID, Secret: qr.Secret, GuardID: "g1"}); err != nil {
		t.Fatal(err)
	}
	if err := f.svc.PurgeInvitation(ctx, inv.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.GetInvitation(ctx, inv.ID); err != ErrInvitationNotFound {
		t.Fatalf("err = %v, want ErrInvitationNotFound", err)
	}
	if _, err := f.store.LatestQRSession(ctx, inv.ID); err != ErrQRSessionNotFound {
		t.Fatalf("qr sessions must be purged, got %v", err)
	}
	if evs := f.events(inv.ID); len(evs) != 1 {
		t.Fatalf("audit trail must survive the purge, got %d events", len(evs))
	}
}

func TestListInvitationsFilters(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addOrg("org1", "")
	f.addOrg("org2", "")

	a, _ := f.invite(LevelQR, "org1")
	b, _ := f.invite(LevelQR, "org1")
	f.invite(LevelQR, "org2")
	if err := f.svc.RevokeInvitation(ctx, b.ID); err != nil {
		t.Fatal(err)
	}

	active, err := f.svc.ListInvitations(ctx, "org1", StatusActive)
	if err != nil {
		t.Fatal(err)
	}
	if len(active) != 1 || active[0].ID != a.ID {
		t.Fatalf("unexpected active set: %#v", active)
	}
	all, err := f.svc.ListInvitations(ctx, "org1", "")
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 {
		t.Fatalf("want 2 invitations for org1, got %d", len(all))
	}
}

func TestListInvitationsFiltersOnResolvedStatus(t *testing.T) {
	// The status filter must apply after resolving against the clock: a row
	// stored pending lists as active once its window opens, and a row stored
	// active lists as expired once the window closes.
	f := newFixture(t)
	ctx := context.Background()
	f.addOrg("org1", "")

	stale, _ := f.invite(LevelQR, "org1") // one-hour window from now

	f.phones++
	upcoming, _, err := f.svc.CreateInvitation(ctx, CreateInvitationParams{
		EmployeeName:  "Host Employee",
		EmployeePhone: "+70000000000",
		GuestName:     "Visiting Guest",
		GuestPhone:    fmt.Sprintf("+7701%07d", f.phones),
		ValidFrom:     f.clock.Add(2 * time.Hour),
		ValidTo:       f.clock.Add(4 * time.Hour),
		SecurityLevel: LevelQR,
		OrgNodeID:     "org1",
	})
	if err != nil {
		t.Fatal(err)
	}
	if stale.Status != StatusActive || upcoming.Status != StatusPending {
		t.Fatalf("stored statuses = %s/%s", stale.Status, upcoming.Status)
	}

	f.advance(3 * time.Hour) // stale's window closed, upcoming's opened

	active, err := f.svc.ListInvitations(ctx, "org1", StatusActive)
	if err != nil {
		t.Fatal(err)
	}
	if len(active) != 1 || active[0].ID != upcoming.ID {
		t.Fatalf("unexpected active set: %#v", active)
	}
	expired, err := f.svc.ListInvitations(ctx, "org1", StatusExpired)
	if err != nil {
		t.Fatal(err)
	}
	if len(expired) != 1 || expired[0].ID != stale.ID {
		t.Fatalf("unexpected expired set: %#v", expired)
	}
}

func TestIssueGuardToken(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addOrg("org1", "")
	f.addGuard("g1", "org1", GuardActive)

	token, guard, err := f.svc.IssueGuardToken(ctx, "g1")
	if err != nil {
		t.Fatal(err)
	}
	if guard.ID != "g1" {
		t.Fatalf("guard = %#v", guard)
	}
	claims, err := f.signer.Verify(token, f.clock)
	if err != nil {
		t.Fatal(err)
	}
	if claims.GuardID != "g1" || claims.OrgNodeID != "org1" {
		t.Fatalf("claims = %#v", claims)
	}

	if _, _, err := f.svc.IssueGuardToken(ctx, "ghost"); err != ErrGuardNotFound {
		t.Fatalf("err = %v, want ErrGuardNotFound", err)
	}
}
