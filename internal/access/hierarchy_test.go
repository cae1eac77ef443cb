package access

import (
	"context"
	"testing"
)

func TestIsPreApproved(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// company -> branch -> floor; "other" is a separate root.
	f.addOrg("company", "")
	f.addOrg("branch", "company")
	f.addOrg("floor", "branch")
	f.addOrg("other", "")

	cases := []struct {
		name      string
		guardOrg  string
		inviteOrg string
		want      bool
	}{
		{"same node", "branch", "branch", true},
		{"direct parent", "branch", "floor", true},
		{"grandparent", "company", "floor", true},
		{"child of invite org", "floor", "branch", false},
		{"sibling root", "other", "floor", false},
		{"unknown guard org", "ghost", "floor", false},
		{"unknown invite org", "company", "ghost", false},
		{"empty ids", "", "", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := f.svc.isPreApproved(ctx, tc.guardOrg, tc.inviteOrg); got != tc.want {
				t.Fatalf("isPreApproved(%q, %q) = %v, want %v", tc.guardOrg, tc.inviteOrg, got, tc.want)
			}
		})
	}
}

func TestIsPreApprovedDepthCap(t *testing.T) {
	f := newFixtureConfig(t, Config{MaxOrgDepth: 2})
	ctx := context.Background()

	f.addOrg("root", "")
	f.addOrg("a", "root")
	f.addOrg("b", "a")
	f.addOrg("c", "b")

	if !f.svc.isPreApproved(ctx, "a", "c") {
		t.Fatal("ancestor within the cap should be reachable")
	}
	if f.svc.isPreApproved(ctx, "root", "c") {
		t.Fatal("ancestor beyond the cap must resolve to not pre-approved")
	}
}

func TestPreApprovalNeverGates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addOrg("site", "")
	f.addOrg("elsewhere", "")
	f.addGuard("g1", "elsewhere", GuardActive)
	inv, _ := f.invite(LevelQR, "site")

	qr, _ := f.svc.RequestQR(ctx, inv.ID)
	res, err := f.svc.ScanGuestQR(ctx, GuestQRScan{InvitationID: inv.ID, Secret: qr.Secret, GuardID: "g1"})
	if err != nil {
		t.Fatal(err)
	}
	if res.Decision != DecisionAccepted {
		t.Fatalf("cross-org scan must still be accepted, got %#v", res)
	}
	if res.IsPreApproved {
		t.Fatal("unrelated org must not be pre-approved")
	}
}
