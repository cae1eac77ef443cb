package access

import (
	"context"
	"testing"
	"time"
)

func TestRequestQRReusesLiveSecret(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addOrg("org1", "")
	inv, _ := f.invite(LevelQR, "org1")

	first, err := f.svc.RequestQR(ctx, inv.ID)
	if err != nil {
		t.Fatal(err)
	}
	f.advance(time.Minute)
	second, err := f.svc.RequestQR(ctx, inv.ID)
	if err != nil {
		t.Fatal(err)
	}
	if first.Secret != second.Secret {
		t.Fatal("refresh inside the TTL must return the same secret")
	}

	f.advance(5 * time.Minute) // past the first secret's TTL
	third, err := f.svc.RequestQR(ctx, inv.ID)
	if err != nil {
		t.Fatal(err)
	}
	if third.Secret == first.Secret {
		t.Fatal("expired secret must rotate")
	}
	if !third.ExpiresAt.After(f.clock) {
		t.Fatalf("fresh secret already expired: %v", third.ExpiresAt)
	}
}

func TestRequestQRWindowChecks(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addOrg("org1", "")

	t.Run("revoked", func(t *testing.T) {
		inv, _ := f.invite(LevelQR, "org1")
		if err := f.svc.RevokeInvitation(ctx, inv.ID); err != nil {
			t.Fatal(err)
		}
		if _, err := f.svc.RequestQR(ctx, inv.ID); err != ErrInvitationRevoked {
			t.Fatalf("err = %v, want ErrInvitationRevoked", err)
		}
	})

	t.Run("expired", func(t *testing.T) {
		inv, _ := f.invite(LevelQR, "org1")
		f.advance(2 * time.Hour)
		if _, err := f.svc.RequestQR(ctx, inv.ID); err != ErrInvitationExpired {
			t.Fatalf("err = %v, want ErrInvitationExpired", err)
		}
		f.advance(-2 * time.Hour)
	})

	t.Run("not yet active", func(t *testing.T) {
		inv, _, err := f.svc.CreateInvitation(ctx, CreateInvitationParams{
			EmployeeName:  "Host",
			EmployeePhone: "+70000000000",
			GuestName:     "Guest",
			GuestPhone:    "+77019990001",
			ValidFrom:     f.clock.Add(time.Hour),
			ValidTo:       f.clock.Add(2 * time.Hour),
			SecurityLevel: LevelQR,
			OrgNodeID:     "org1",
		})
		if err != nil {
			t.Fatal(err)
		}
		if _, err := f.svc.RequestQR(ctx, inv.ID); err != ErrInvitationNotYetActive {
			t.Fatalf("err = %v, want ErrInvitationNotYetActive", err)
		}
	})

	t.Run("unknown invitation", func(t *testing.T) {
		if _, err := f.svc.RequestQR(ctx, "missing"); err != ErrInvitationNotFound {
			t.Fatalf("err = %v, want ErrInvitationNotFound", err)
		}
	})
}

func TestRequestOTP(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addOrg("org1", "")

	t.Run("level gating", func(t *testing.T) {
		inv, _ := f.invite(LevelQR, "org1")
		if _, err := f.svc.RequestOTP(ctx, inv.ID); err != ErrOTPNotRequired {
			t.Fatalf("err = %v, want ErrOTPNotRequired", err)
		}
	})

	t.Run("reuse and rotation", func(t *testing.T) {
		inv, _ := f.invite(LevelQROTP, "org1")
		first, err := f.svc.RequestOTP(ctx, inv.ID)
		if err != nil {
			t.Fatal(err)
		}
		if len(first.Code) != 6 {
			t.Fatalf("code = %q, want 6 digits", first.Code)
		}
		second, err := f.svc.RequestOTP(ctx, inv.ID)
		if err != nil {
			t.Fatal(err)
		}
		if first.Code != second.Code {
			t.Fatal("live code must be reused, not rotated")
		}

		f.advance(6 * time.Minute)
		third, err := f.svc.RequestOTP(ctx, inv.ID)
		if err != nil {
			t.Fatal(err)
		}
		if !third.ExpiresAt.After(f.clock) {
			t.Fatalf("fresh code already expired: %v", third.ExpiresAt)
		}
		f.advance(-6 * time.Minute)
	})

	t.Run("verified code is not reissued", func(t *testing.T) {
		f.addGuard("g1", "org1", GuardActive)
		inv, _ := f.invite(LevelQROTP, "org1")
		first, _ := f.svc.RequestOTP(ctx, inv.ID)
		if _, err := f.svc.VerifyOTP(ctx, OTPVerification{InvitationID: inv.ID, Code: first.Code, GuardID: "g1"}); err != nil {
			t.Fatal(err)
		}
		second, err := f.svc.RequestOTP(ctx, inv.ID)
		if err != nil {
			t.Fatal(err)
		}
		if second.Code == first.Code {
			t.Fatal("consumed code must not come back")
		}
	})
}
