// Command simulate drives synthetic visitor traffic against a running API:
// each worker creates invitations from a generated scenario and walks them
// through the full verification flow, printing decision stats at the end.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"time"

	"github.com/doutyacodes/knockster-org/internal/client"
	"github.com/doutyacodes/knockster-org/internal/sim"
)

func main() {
	var (
		baseURL     = flag.String("base-url", "http://localhost:8080", "API base URL")
		workers     = flag.Int("workers", 4, "Concurrent worker count")
		duration    = flag.Duration("duration", 2*time.Minute, "Duration of the simulation")
		guardID     = flag.String("guard", "guard-lobby", "Guard id used for scans (must exist in the store)")
		openAIModel = flag.String("openai-model", "gpt-4o-mini", "OpenAI model for summaries (optional)")
	)
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	log.Printf("Launching simulation: base=%s workers=%d duration=%s", *baseURL, *workers, *duration)

	admin := client.New(*baseURL)
	if err := admin.Authenticate(ctx, "sim-admin", []string{"orgadmin"}); err != nil {
		log.Fatalf("admin token: %v", err)
	}
	guard := client.New(*baseURL)
	if err := guard.Authenticate(ctx, *guardID, []string{"guard"}); err != nil {
		log.Fatalf("guard token: %v", err)
	}
	// Guest devices scan guard tokens with their own role.
	guest := client.New(*baseURL)
	if err := guest.Authenticate(ctx, "sim-guest-device", []string{"guest"}); err != nil {
		log.Fatalf("guest token: %v", err)
	}

	var (
		mu       sync.Mutex
		counter  sim.Counter
		failures int64
	)

	var wg sync.WaitGroup
	deadline := time.Now().Add(*duration)

	for i := 0; i < *workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			gen := sim.NewGenerator(time.Now().UnixNano() + int64(id*9973))
			rnd := rand.New(rand.NewSource(int64(id) + 1))
			for time.Now().Before(deadline) {
				select {
				case <-ctx.Done():
					return
				default:
				}
				visit := gen.NextVisit()
				decision, err := runVisit(ctx, admin, guard, guest, visit, id, rnd)
				if err != nil {
					atomic.AddInt64(&failures, 1)
					log.Printf("worker %d: %v", id, err)
					time.Sleep(200 * time.Millisecond)
					continue
				}
				mu.Lock()
				counter.Add(visit, decision)
				mu.Unlock()
				time.Sleep(time.Duration(50+rnd.Intn(120)) * time.Millisecond)
			}
		}(i)
	}

	wg.Wait()

	log.Printf("Run complete: %d visits (accepted=%d pending=%d rejected=%d, accept rate %.0f%%), %d transport failures",
		counter.Visits, counter.Accepted, counter.Pending, counter.Rejected, counter.AcceptRate()*100, failures)

	if key := os.Getenv("OPENAI_API_KEY"); key != "" && counter.Visits > 0 {
		summary, err := sim.Summarize(ctx, sim.SummaryStats{
			Visits:   counter.Visits,
			Accepted: counter.Accepted,
			Rejected: counter.Rejected,
			Duration: *duration,
		}, sim.SummaryRequest{APIKey: key, Model: *openAIModel})
		if err != nil {
			log.Printf("AI summary error: %v", err)
		} else {
			log.Println("AI Executive Summary:")
			log.Println(summary)
		}
	} else {
		log.Println("Set OPENAI_API_KEY to enable AI narrative summaries.")
	}
}

// runVisit creates an invitation for the visit and walks the verification
// path its security level demands, returning the final decision.
func runVisit(ctx context.Context, admin, guard, guest *client.Client, visit sim.Visit, worker int, rnd *rand.Rand) (string, error) {
	now := time.Now().UTC()
	inv, invGuest, err := admin.CreateInvitation(ctx, client.CreateInvitationParams{
		EmployeeName:  visit.EmployeeName,
		EmployeePhone: "+77010000000",
		GuestName:     visit.GuestName,
		GuestPhone:    fmt.Sprintf("+77%02d%07d", worker, rnd.Intn(1e7)),
		ValidFrom:     now.Add(-time.Minute),
		ValidTo:       now.Add(time.Hour),
		SecurityLevel: visit.SecurityLevel,
		OrgNodeID:     visit.OrgNodeID,
	})
	if err != nil {
		return "", fmt.Errorf("create invitation: %w", err)
	}

	switch visit.SecurityLevel {
	case 1, 2:
		display, err := admin.GuestQR(ctx, inv.ID)
		if err != nil {
			return "", fmt.Errorf("guest qr: %w", err)
		}
		scan, err := guard.ScanGuestQR(ctx, inv.ID, display.QR.Secret)
		if err != nil {
			return "", fmt.Errorf("scan guest qr: %w", err)
		}
		if string(scan.Decision) != "pending_second_factor" {
			return string(scan.Decision), nil
		}
		if display.OTP == nil {
			return "", fmt.Errorf("no OTP on level %d display", visit.SecurityLevel)
		}
		final, err := guard.VerifyOTP(ctx, inv.ID, display.OTP.Code)
		if err != nil {
			return "", fmt.Errorf("verify otp: %w", err)
		}
		return string(final.Decision), nil
	default:
		token, _, err := guard.GuardQR(ctx)
		if err != nil {
			return "", fmt.Errorf("guard qr: %w", err)
		}
		scan, err := guest.ScanGuardToken(ctx, token, invGuest.ID)
		if err != nil {
			return "", fmt.Errorf("scan guard token: %w", err)
		}
		if string(scan.Decision) != "pending_second_factor" {
			return string(scan.Decision), nil
		}
		if scan.OTP == nil {
			return "", fmt.Errorf("no OTP on level %d scan", visit.SecurityLevel)
		}
		final, err := guard.VerifyOTP(ctx, inv.ID, scan.OTP.Code)
		if err != nil {
			return "", fmt.Errorf("verify otp: %w", err)
		}
		return string(final.Decision), nil
	}
}
