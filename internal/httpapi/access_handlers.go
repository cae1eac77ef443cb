package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/doutyacodes/knockster-org/internal/access"
	"github.com/doutyacodes/knockster-org/internal/audit"
	"github.com/doutyacodes/knockster-org/internal/auth"
	"github.com/doutyacodes/knockster-org/internal/guardtoken"
	"github.com/doutyacodes/knockster-org/internal/obs"
	"github.com/doutyacodes/knockster-org/internal/stream"
)

type createInvitationRequest struct {
	EmployeeName  string    `json:"employee_name"`
	EmployeePhone string    `json:"employee_phone"`
	GuestName     string    `json:"guest_name"`
	GuestPhone    string    `json:"guest_phone"`
	ValidFrom     time.Time `json:"valid_from"`
	ValidTo       time.Time `json:"valid_to"`
	SecurityLevel int       `json:"security_level"`
	OrgNodeID     string    `json:"org_node_id"`
}

type invitationResponse struct {
	Invitation access.Invitation `json:"invitation"`
	Guest      access.Guest      `json:"guest"`
}

type invitationDetailResponse struct {
	Invitation access.Invitation  `json:"invitation"`
	Guest      *access.Guest      `json:"guest,omitempty"`
	ActiveQR   *access.QRSession  `json:"active_qr,omitempty"`
	LastScans  []access.ScanEvent `json:"last_scans"`
}

type guestQRResponse struct {
	InvitationID  string            `json:"invitation_id"`
	SecurityLevel int               `json:"security_level"`
	QR            access.IssuedQR   `json:"qr"`
	OTP           *access.IssuedOTP `json:"otp,omitempty"`
}

type guestStatusResponse struct {
	InvitationID string            `json:"invitation_id"`
	Status       access.Status     `json:"status"`
	LastScan     *access.ScanEvent `json:"last_scan,omitempty"`
}

type guestQRScanRequest struct {
	InvitationID string `json:"invitation_id"`
	Secret       string `json:"secret"`
}

type guardTokenScanRequest struct {
	Token   string `json:"token"`
	GuestID string `json:"guest_id"`
}

type verifyOTPRequest struct {
	InvitationID string `json:"invitation_id"`
	Code         string `json:"code"`
}

type guardQRResponse struct {
	Token string       `json:"token"`
	Guard access.Guard `json:"guard"`
}

func (a *API) handleInvitationsCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		a.createInvitation(w, r)
	case http.MethodGet:
		a.listInvitations(w, r)
	default:
		methodNotAllowed(w, r, http.MethodPost, http.MethodGet)
	}
}

func (a *API) createInvitation(w http.ResponseWriter, r *http.Request) {
	var req createInvitationRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	inv, guest, err := a.svc.CreateInvitation(r.Context(), access.CreateInvitationParams{
		EmployeeName:  req.EmployeeName,
		EmployeePhone: req.EmployeePhone,
		GuestName:     req.GuestName,
		GuestPhone:    req.GuestPhone,
		ValidFrom:     req.ValidFrom,
		ValidTo:       req.ValidTo,
		SecurityLevel: access.SecurityLevel(req.SecurityLevel),
		OrgNodeID:     req.OrgNodeID,
	})
	if err != nil {
		handleAccessError(w, r, err)
		return
	}

	_ = audit.LogEvent(r.Context(), "invitation.create", map[string]any{
		"invitation_id":  inv.ID,
		"guest_id":       guest.ID,
		"security_level": int(inv.SecurityLevel),
		"org_node_id":    inv.OrgNodeID,
	})

	w.Header().Set("Location", "/v1/invitations/"+inv.ID)
	writeJSON(w, http.StatusCreated, invitationResponse{Invitation: inv, Guest: guest})
}

func (a *API) listInvitations(w http.ResponseWriter, r *http.Request) {
	status := access.Status(strings.TrimSpace(r.URL.Query().Get("status")))
	switch status {
	case "", access.StatusPending, access.StatusActive, access.StatusExpired, access.StatusRevoked:
	default:
		writeError(w, r, http.StatusBadRequest, "unknown status filter")
		return
	}
	invs, err := a.svc.ListInvitations(r.Context(), strings.TrimSpace(r.URL.Query().Get("org_node_id")), status)
	if err != nil {
		handleAccessError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": invs})
}

func (a *API) handleInvitationResource(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/v1/invitations/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}

	switch r.Method {
	case http.MethodGet:
		a.getInvitation(w, r, id)
	case http.MethodPatch:
		a.revokeInvitation(w, r, id)
	case http.MethodDelete:
		a.purgeInvitation(w, r, id)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPatch, http.MethodDelete)
	}
}

func (a *API) getInvitation(w http.ResponseWriter, r *http.Request, id string) {
	inv, err := a.svc.GetInvitation(r.Context(), id)
	if err != nil {
		handleAccessError(w, r, err)
		return
	}
	resp := invitationDetailResponse{Invitation: inv}
	if guest, err := a.svc.GetGuest(r.Context(), inv.GuestID); err == nil {
		resp.Guest = &guest
	}
	if qr, err := a.svc.LatestQRSession(r.Context(), inv.ID); err == nil {
		resp.ActiveQR = &qr
	}
	scans, err := a.svc.ListScanEvents(r.Context(), access.ScanEventFilter{InvitationID: inv.ID, Limit: 10})
	if err != nil {
		handleAccessError(w, r, err)
		return
	}
	resp.LastScans = scans
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) revokeInvitation(w http.ResponseWriter, r *http.Request, id string) {
	if err := a.svc.RevokeInvitation(r.Context(), id); err != nil {
		handleAccessError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "invitation.revoke", map[string]any{"invitation_id": id})
	inv, err := a.svc.GetInvitation(r.Context(), id)
	if err != nil {
		handleAccessError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"invitation": inv})
}

func (a *API) purgeInvitation(w http.ResponseWriter, r *http.Request, id string) {
	if err := a.svc.PurgeInvitation(r.Context(), id); err != nil {
		handleAccessError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "invitation.purge", map[string]any{"invitation_id": id})
	w.WriteHeader(http.StatusNoContent)
}

// handleGuestInvitation serves the unauthenticated guest display endpoints:
// GET /v1/guest/invitations/{id}/qr and GET /v1/guest/invitations/{id}/status.
func (a *API) handleGuestInvitation(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	rest := strings.TrimPrefix(r.URL.Path, "/v1/guest/invitations/")
	id, action, ok := strings.Cut(rest, "/")
	if !ok || id == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	switch action {
	case "qr":
		a.guestQR(w, r, id)
	case "status":
		a.guestStatus(w, r, id)
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

func (a *API) guestQR(w http.ResponseWriter, r *http.Request, id string) {
	inv, err := a.svc.GetInvitation(r.Context(), id)
	if err != nil {
		handleAccessError(w, r, err)
		return
	}
	qr, err := a.svc.RequestQR(r.Context(), id)
	if err != nil {
		handleAccessError(w, r, err)
		return
	}
	resp := guestQRResponse{
		InvitationID:  inv.ID,
		SecurityLevel: int(inv.SecurityLevel),
		QR:            qr,
	}
	if inv.SecurityLevel.RequiresOTP() {
		otp, err := a.svc.RequestOTP(r.Context(), id)
		if err != nil {
			handleAccessError(w, r, err)
			return
		}
		resp.OTP = &otp
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) guestStatus(w http.ResponseWriter, r *http.Request, id string) {
	inv, err := a.svc.GetInvitation(r.Context(), id)
	if err != nil {
		handleAccessError(w, r, err)
		return
	}
	resp := guestStatusResponse{InvitationID: inv.ID, Status: inv.Status}
	scans, err := a.svc.ListScanEvents(r.Context(), access.ScanEventFilter{InvitationID: inv.ID, Limit: 1})
	if err != nil {
		handleAccessError(w, r, err)
		return
	}
	if len(scans) > 0 {
		resp.LastScan = &scans[0]
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleScanGuestQR(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req guestQRScanRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.InvitationID) == "" || strings.TrimSpace(req.Secret) == "" {
		writeError(w, r, http.StatusBadRequest, "invitation_id and secret are required")
		return
	}

	guardID, _ := auth.UserIDFromContext(r.Context())
	res, err := a.svc.ScanGuestQR(r.Context(), access.GuestQRScan{
		InvitationID: strings.TrimSpace(req.InvitationID),
		Secret:       strings.TrimSpace(req.Secret),
		GuardID:      guardID,
	})
	if err != nil {
		handleAccessError(w, r, err)
		return
	}
	a.finishScan(r, "scan.guest_qr", req.InvitationID, guardID, res)
	writeJSON(w, http.StatusOK, res)
}

func (a *API) handleScanGuardToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req guardTokenScanRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Token) == "" || strings.TrimSpace(req.GuestID) == "" {
		writeError(w, r, http.StatusBadRequest, "token and guest_id are required")
		return
	}

	res, err := a.svc.ScanGuardToken(r.Context(), access.GuardTokenScan{
		Token:   strings.TrimSpace(req.Token),
		GuestID: strings.TrimSpace(req.GuestID),
	})
	if err != nil {
		handleAccessError(w, r, err)
		return
	}
	invitationID := ""
	if res.Invitation != nil {
		invitationID = res.Invitation.ID
	}
	a.finishScan(r, "scan.guard_token", invitationID, "", res)
	writeJSON(w, http.StatusOK, res)
}

func (a *API) handleVerifyOTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req verifyOTPRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.InvitationID) == "" || strings.TrimSpace(req.Code) == "" {
		writeError(w, r, http.StatusBadRequest, "invitation_id and code are required")
		return
	}

	guardID, _ := auth.UserIDFromContext(r.Context())
	res, err := a.svc.VerifyOTP(r.Context(), access.OTPVerification{
		InvitationID: strings.TrimSpace(req.InvitationID),
		Code:         strings.TrimSpace(req.Code),
		GuardID:      guardID,
	})
	if err != nil {
		handleAccessError(w, r, err)
		return
	}
	a.finishScan(r, "scan.verify_otp", req.InvitationID, guardID, res)
	writeJSON(w, http.StatusOK, res)
}

// finishScan records metrics, the audit line and the live feed update all
// verification endpoints share.
func (a *API) finishScan(r *http.Request, event, invitationID, guardID string, res access.VerificationResult) {
	obs.ObserveScan(int(res.SecurityLevel), string(res.Decision))
	_ = audit.LogEvent(r.Context(), event, map[string]any{
		"invitation_id":  invitationID,
		"decision":       string(res.Decision),
		"reason":         res.Reason,
		"security_level": int(res.SecurityLevel),
		"pre_approved":   res.IsPreApproved,
	})
	if a.feed != nil {
		a.feed.Publish(stream.FromResult(invitationID, guardID, res, time.Now().UTC()))
	}
}

func (a *API) handleGuardQR(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	guardID, _ := auth.UserIDFromContext(r.Context())
	token, guard, err := a.svc.IssueGuardToken(r.Context(), guardID)
	if err != nil {
		handleAccessError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "guard.token.issue", map[string]any{"guard_id": guard.ID})
	writeJSON(w, http.StatusOK, guardQRResponse{Token: token, Guard: guard})
}

func (a *API) handleScanEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	filter, err := scanEventFilterFromQuery(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	events, err := a.svc.ListScanEvents(r.Context(), filter)
	if err != nil {
		handleAccessError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": events})
}

func scanEventFilterFromQuery(r *http.Request) (access.ScanEventFilter, error) {
	q := r.URL.Query()
	limit, err := parsePositiveInt(q.Get("limit"), 100, 1, 1000)
	if err != nil {
		return access.ScanEventFilter{}, err
	}
	filter := access.ScanEventFilter{
		InvitationID: strings.TrimSpace(q.Get("invitation_id")),
		GuardID:      strings.TrimSpace(q.Get("guard_id")),
		FailedOnly:   q.Get("failed_only") == "true",
		Limit:        limit,
	}
	if raw := strings.TrimSpace(q.Get("since")); raw != "" {
		since, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return access.ScanEventFilter{}, errors.New("since must be RFC3339")
		}
		filter.Since = since
	}
	return filter, nil
}

func parsePositiveInt(raw string, def, min, max int) (int, error) {
	if strings.TrimSpace(raw) == "" {
		return def, nil
	}
	val, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errors.New("limit must be an integer")
	}
	if val < min || val > max {
		return 0, errors.New("limit must be between 1 and 1000")
	}
	return val, nil
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, 1<<20)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}

func handleAccessError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, access.ErrInvalidInput),
		errors.Is(err, guardtoken.ErrInvalidToken),
		errors.Is(err, guardtoken.ErrTokenExpired):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, access.ErrGuardDisabled):
		writeError(w, r, http.StatusForbidden, err.Error())
	case errors.Is(err, access.ErrInvitationNotFound),
		errors.Is(err, access.ErrGuestNotFound),
		errors.Is(err, access.ErrGuardNotFound),
		errors.Is(err, access.ErrOrgNodeNotFound),
		errors.Is(err, access.ErrQRSessionNotFound),
		errors.Is(err, access.ErrNoActiveInvitation):
		writeError(w, r, http.StatusNotFound, err.Error())
	case errors.Is(err, access.ErrInvitationRevoked),
		errors.Is(err, access.ErrInvitationExpired),
		errors.Is(err, access.ErrInvitationNotYetActive),
		errors.Is(err, access.ErrOTPNotRequired):
		writeError(w, r, http.StatusConflict, err.Error())
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
}
