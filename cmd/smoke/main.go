// Command smoke runs an end-to-end verification flow against a running API:
// create a level 2 invitation, scan the guest QR, confirm the OTP and check
// the audit trail. It expects the seed data (guard-lobby, org-hq) unless
// overridden via environment.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/doutyacodes/knockster-org/internal/client"
)

func main() {
	baseURL := envOr("KNOCKSTER_API_URL", "http://localhost:8080")
	guardID := envOr("KNOCKSTER_SMOKE_GUARD", "guard-lobby")
	orgID := envOr("KNOCKSTER_SMOKE_ORG", "org-hq")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	admin := client.New(baseURL)
	if err := admin.Authenticate(ctx, "smoke-admin", []string{"orgadmin"}); err != nil {
		log.Fatalf("admin token: %v", err)
	}
	guard := client.New(baseURL)
	if err := guard.Authenticate(ctx, guardID, []string{"guard"}); err != nil {
		log.Fatalf("guard token: %v", err)
	}

	now := time.Now().UTC()
	inv, _, err := admin.CreateInvitation(ctx, client.CreateInvitationParams{
		EmployeeName:  "Smoke Host",
		EmployeePhone: "+77010000000",
		GuestName:     "Smoke Guest",
		GuestPhone:    fmt.Sprintf("+7702%07d", now.UnixNano()%1e7),
		ValidFrom:     now.Add(-time.Minute),
		ValidTo:       now.Add(time.Hour),
		SecurityLevel: 2,
		OrgNodeID:     orgID,
	})
	if err != nil {
		log.Fatalf("create invitation: %v", err)
	}

	display, err := admin.GuestQR(ctx, inv.ID)
	if err != nil {
		log.Fatalf("guest qr: %v", err)
	}
	if display.OTP == nil {
		log.Fatalf("level 2 display returned no OTP")
	}

	res, err := guard.ScanGuestQR(ctx, inv.ID, display.QR.Secret)
	if err != nil {
		log.Fatalf("scan guest qr: %v", err)
	}
	if string(res.Decision) != "pending_second_factor" {
		log.Fatalf("expected pending decision, got %s (%s)", res.Decision, res.Reason)
	}

	res, err = guard.VerifyOTP(ctx, inv.ID, display.OTP.Code)
	if err != nil {
		log.Fatalf("verify otp: %v", err)
	}
	if string(res.Decision) != "accepted" {
		log.Fatalf("expected accepted, got %s (%s)", res.Decision, res.Reason)
	}

	events, err := admin.ScanEvents(ctx, inv.ID, 10)
	if err != nil {
		log.Fatalf("scan events: %v", err)
	}
	if len(events) != 1 || !events[0].Success {
		log.Fatalf("audit trail mismatch: %d events", len(events))
	}

	fmt.Printf("✅ smoke test passed: invitation=%s guard=%s\n", inv.ID, guardID)
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
