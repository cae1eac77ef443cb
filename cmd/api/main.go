package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/doutyacodes/knockster-org/internal/access"
	"github.com/doutyacodes/knockster-org/internal/guardtoken"
	"github.com/doutyacodes/knockster-org/internal/httpapi"
	"github.com/doutyacodes/knockster-org/internal/obs"
	"github.com/doutyacodes/knockster-org/internal/store/pg"
	"github.com/doutyacodes/knockster-org/internal/stream"
)

var (
	version = "0.3.0"
	commit  = "none" // set via -ldflags at build time
)

func main() {
	obs.Init()
	obs.InitBuildInfo(version, commit)

	// Storage: Postgres when a DSN is configured, in-memory otherwise.
	var (
		store access.Store
		db    *sql.DB
	)
	if dsn := os.Getenv("KNOCKSTER_PG_DSN"); dsn != "" {
		pgStore, err := pg.Open(dsn)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		store = pgStore
		db = pgStore.DB()
	} else {
		log.Println("KNOCKSTER_PG_DSN not set, using in-memory store")
		store = access.NewInMemory()
	}

	guardKey := os.Getenv("KNOCKSTER_GUARD_TOKEN_SECRET")
	if guardKey == "" {
		log.Fatal("KNOCKSTER_GUARD_TOKEN_SECRET is required")
	}
	signer, err := guardtoken.NewSigner([]byte(guardKey), guardtoken.DefaultTTL)
	if err != nil {
		log.Fatalf("guard token signer: %v", err)
	}

	cfg := access.Config{
		QRTTL:       envDuration("KNOCKSTER_QR_TTL_SECONDS"),
		OTPTTL:      envDuration("KNOCKSTER_OTP_TTL_SECONDS"),
		MaxOrgDepth: envInt("KNOCKSTER_ORG_MAX_DEPTH"),
	}
	svc := access.NewService(store, signer, cfg)

	api := httpapi.New(httpapi.ReadyProbe{DB: db}, version, svc, stream.New())

	addr := os.Getenv("KNOCKSTER_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      0, // SSE streams stay open
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting knockster-api %s on %s", version, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(ctx)
	if db != nil {
		_ = db.Close()
	}
	log.Println("Stopped")
}

func envDuration(key string) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return 0
	}
	secs, err := strconv.Atoi(raw)
	if err != nil || secs <= 0 {
		log.Fatalf("%s must be a positive integer of seconds, got %q", key, raw)
	}
	return time.Duration(secs) * time.Second
}

func envInt(key string) int {
	raw := os.Getenv(key)
	if raw == "" {
		return 0
	}
	val, err := strconv.Atoi(raw)
	if err != nil || val <= 0 {
		log.Fatalf("%s must be a positive integer, got %q", key, raw)
	}
	return val
}
