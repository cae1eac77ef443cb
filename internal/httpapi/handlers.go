package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"time"

	"github.com/doutyacodes/knockster-org/internal/access"
	"github.com/doutyacodes/knockster-org/internal/obs"
	"github.com/doutyacodes/knockster-org/internal/stream"
)

// ReadyProbe reports readiness (DB ping when a handle is attached).
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// API is the HTTP layer over the verification engine.
type API struct {
	mux        *http.ServeMux
	readyProbe ReadyProbe
	version    string
	svc        *access.Service
	feed       *stream.Stream

	rateBurst  int
	ratePerSec int
}

func New(rp ReadyProbe, version string, svc *access.Service, feed *stream.Stream) *API {
	a := &API{
		mux:        http.NewServeMux(),
		readyProbe: rp,
		version:    version,
		svc:        svc,
		feed:       feed,
		rateBurst:  20,
		ratePerSec: 10,
	}

	// health/ready/info
	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.HandleFunc("/v1/info", a.Info)

	// auth
	a.mux.HandleFunc("/v1/auth/token", a.handleAuthToken)

	// invitation lifecycle (orgadmin)
	a.mux.Handle("/v1/invitations", RequireRole(roleOrgAdmin)(http.HandlerFunc(a.handleInvitationsCollection)))
	a.mux.Handle("/v1/invitations/", RequireRole(roleOrgAdmin)(http.HandlerFunc(a.handleInvitationResource)))

	// guest display endpoints, no auth: the invitation id is the capability
	a.mux.HandleFunc("/v1/guest/invitations/", a.handleGuestInvitation)

	// scan paths
	a.mux.Handle("/v1/scans/guest-qr", RequireRole(roleGuard)(http.HandlerFunc(a.handleScanGuestQR)))
	a.mux.Handle("/v1/scans/verify-otp", RequireRole(roleGuard)(http.HandlerFunc(a.handleVerifyOTP)))
	a.mux.Handle("/v1/scans/guard-token", RequireRole(roleGuest)(http.HandlerFunc(a.handleScanGuardToken)))
	a.mux.Handle("/v1/guard/qr", RequireRole(roleGuard)(http.HandlerFunc(a.handleGuardQR)))

	// audit surface (orgadmin)
	a.mux.Handle("/v1/scan-events", RequireRole(roleOrgAdmin)(http.HandlerFunc(a.handleScanEvents)))
	a.mux.Handle("/v1/alerts", RequireRole(roleOrgAdmin)(http.HandlerFunc(a.handleAlerts)))
	a.mux.Handle("/v1/scans/stream", RequireRole(roleOrgAdmin)(http.HandlerFunc(a.Stream)))

	// Prometheus metrics
	a.mux.Handle("/metrics", obs.Handler())

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return a
}

// Handler assembles the middleware chain around the mux.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.mux
	h = a.withAuth(h)
	h = MaxBodyBytes(h, 1<<20)
	h = RateLimit(h, a.rateBurst, a.ratePerSec)
	h = CORS(h)
	h = SecurityHeaders(h)
	h = LoggingJSON(h)
	h = RequestID(h)
	return obs.Instrument(h)
}

// --- Handlers ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "knockster-api",
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    "knockster-api",
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
