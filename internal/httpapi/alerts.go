package httpapi

import (
	"net/http"
	"strings"
	"time"

	"github.com/doutyacodes/knockster-org/internal/access"
)

// Alert classifications surfaced on the security dashboard.
const (
	AlertInvalidQR           = "INVALID_QR"
	AlertOTPFailure          = "OTP_FAILURE"
	AlertExpiration          = "EXPIRATION"
	AlertUnauthorizedAttempt = "UNAUTHORIZED_ATTEMPT"
)

type alert struct {
	Classification string           `json:"classification"`
	Severity       string           `json:"severity"`
	Event          access.ScanEvent `json:"event"`
}

// classifyFailure buckets a rejection reason for the dashboard.
func classifyFailure(reason string) (classification, severity string) {
	switch reason {
	case access.ReasonInvalidQR, access.ReasonQRExpired:
		return AlertInvalidQR, "medium"
	case access.ReasonInvalidOTP, access.ReasonOTPExpired:
		return AlertOTPFailure, "medium"
	case access.ReasonTimeExpired, access.ReasonNotYetValid:
		return AlertExpiration, "low"
	default:
		// Unknown invitations, revoked invitations and wrong-method probes
		// all look like someone trying doors they were not given.
		return AlertUnauthorizedAttempt, "high"
	}
}

func (a *API) handleAlerts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}

	var since time.Time
	now := time.Now().UTC()
	switch window := strings.TrimSpace(r.URL.Query().Get("window")); window {
	case "", "all":
	case "today":
		since = now.Truncate(24 * time.Hour)
	case "week":
		since = now.AddDate(0, 0, -7)
	default:
		writeError(w, r, http.StatusBadRequest, "window must be one of all, today, week")
		return
	}

	limit, err := parsePositiveInt(r.URL.Query().Get("limit"), 100, 1, 1000)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	events, err := a.svc.ListScanEvents(r.Context(), access.ScanEventFilter{
		FailedOnly: true,
		Since:      since,
		Limit:      limit,
	})
	if err != nil {
		handleAccessError(w, r, err)
		return
	}

	alerts := make([]alert, 0, len(events))
	for _, ev := range events {
		classification, severity := classifyFailure(ev.FailureReason)
		alerts = append(alerts, alert{
			Classification: classification,
			Severity:       severity,
			Event:          ev,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items": alerts,
		"as_of": now,
	})
}
