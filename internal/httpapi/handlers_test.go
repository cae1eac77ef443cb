package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/doutyacodes/knockster-org/internal/access"
	"github.com/doutyacodes/knockster-org/internal/auth"
	"github.com/doutyacodes/knockster-org/internal/guardtoken"
	"github.com/doutyacodes/knockster-org/internal/stream"
)

type apiClient struct {
	baseURL string
	client  *http.Client
	store   *access.InMemory
	t       *testing.T
}

func newTestAPI(t *testing.T) *apiClient {
	t.Helper()

	t.Setenv("KNOCKSTER_AUTH_SECRET", "test-secret")
	auth.ResetSecretForTests()

	signer, err := guardtoken.NewSigner([]byte("test-guard-key"), time.Minute)
	if err != nil {
		t.Fatalf("new signer: %v", err)
	}
	store := access.NewInMemory()
	svc := access.NewService(store, signer, access.Config{})

	api := New(ReadyProbe{}, "test", svc, stream.New())
	api.rateBurst = 100
	api.ratePerSec = 100

	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)

	return &apiClient{
		baseURL: srv.URL,
		client:  srv.Client(),
		store:   store,
		t:       t,
	}
}

func (c *apiClient) seedOrgAndGuard(orgID, guardID string) {
	c.t.Helper()
	ctx := context.Background()
	if err := c.store.CreateOrgNode(ctx, access.OrgNode{ID: orgID, Name: "Test Site", Type: "company"}); err != nil {
		c.t.Fatalf("seed org: %v", err)
	}
	if err := c.store.CreateGuard(ctx, access.Guard{ID: guardID, Username: "test.guard", Status: access.GuardActive, OrgNodeID: orgID}); err != nil {
		c.t.Fatalf("seed guard: %v", err)
	}
}

func (c *apiClient) do(method, path string, body any, headers map[string]string) *http.Response {
	c.t.Helper()
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			c.t.Fatalf("marshal body: %v", err)
		}
	}
	req, err := http.NewRequest(method, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.t.Fatalf("do request: %v", err)
	}
	return resp
}

func (c *apiClient) post(path string, body any, headers map[string]string) *http.Response {
	return c.do(http.MethodPost, path, body, headers)
}

func (c *apiClient) get(path string, params url.Values, headers map[string]string) *http.Response {
	c.t.Helper()
	u, err := url.Parse(c.baseURL + path)
	if err != nil {
		c.t.Fatalf("parse url: %v", err)
	}
	if params != nil {
		u.RawQuery = params.Encode()
	}
	req, err := http.NewRequest(http.MethodGet, u.String(), nil)
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.t.Fatalf("get request: %v", err)
	}
	return resp
}

func (c *apiClient) obtainToken(user string, roles []string) map[string]string {
	c.t.Helper()
	resp := c.post("/v1/auth/token", map[string]any{
		"user":  user,
		"roles": roles,
	}, nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		c.t.Fatalf("unexpected token status: %d", resp.StatusCode)
	}
	var payload tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		c.t.Fatalf("decode token response: %v", err)
	}
	if payload.Token == "" {
		c.t.Fatalf("empty token issued")
	}
	return map[string]string{"Authorization": "Bearer " + payload.Token}
}

func decode[T any](t *testing.T, r *http.Response) T {
	t.Helper()
	defer r.Body.Close()
	var v T
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

func (c *apiClient) createInvitation(headers map[string]string, level int, guestPhone string) map[string]any {
	c.t.Helper()
	now := time.Now().UTC()
	resp := c.post("/v1/invitations", map[string]any{
		"employee_name":  "Host Employee",
		"employee_phone": "+70000000000",
		"guest_name":     "Visiting Guest",
		"guest_phone":    guestPhone,
		"valid_from":     now.Add(-time.Minute).Format(time.RFC3339),
		"valid_to":       now.Add(time.Hour).Format(time.RFC3339),
		"security_level": level,
		"org_node_id":    "org1",
	}, headers)
	if resp.StatusCode != http.StatusCreated {
		c.t.Fatalf("create invitation status: %d", resp.StatusCode)
	}
	return decode[map[string]any](c.t, resp)
}

func TestInvitationLifecycle(t *testing.T) {
	api := newTestAPI(t)
	api.seedOrgAndGuard("org1", "guard-1")
	admin := api.obtainToken("admin-1", []string{"orgadmin"})

	created := api.createInvitation(admin, 1, "+77010000001")
	inv := created["invitation"].(map[string]any)
	id := inv["id"].(string)
	if inv["status"] != "active" {
		t.Fatalf("status = %v, want active", inv["status"])
	}

	// Detail view.
	resp := api.get("/v1/invitations/"+id, nil, admin)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("detail status: %d", resp.StatusCode)
	}
	detail := decode[map[string]any](t, resp)
	if detail["invitation"].(map[string]any)["id"] != id {
		t.Fatalf("detail mismatch: %v", detail)
	}

	// List filtered by org.
	resp = api.get("/v1/invitations", url.Values{"org_node_id": {"org1"}}, admin)
	list := decode[map[string]any](t, resp)
	if len(list["items"].([]any)) != 1 {
		t.Fatalf("unexpected list: %v", list)
	}

	// Revoke via PATCH.
	resp = api.do(http.MethodPatch, "/v1/invitations/"+id, nil, admin)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("revoke status: %d", resp.StatusCode)
	}
	revoked := decode[map[string]any](t, resp)
	if revoked["invitation"].(map[string]any)["status"] != "revoked" {
		t.Fatalf("revoke result: %v", revoked)
	}

	// Purge via DELETE.
	resp = api.do(http.MethodDelete, "/v1/invitations/"+id, nil, admin)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("purge status: %d", resp.StatusCode)
	}
	resp = api.get("/v1/invitations/"+id, nil, admin)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 after purge, got %d", resp.StatusCode)
	}
}

func TestLevel1ScanFlow(t *testing.T) {
	api := newTestAPI(t)
	api.seedOrgAndGuard("org1", "guard-1")
	admin := api.obtainToken("admin-1", []string{"orgadmin"})
	guard := api.obtainToken("guard-1", []string{"guard"})

	created := api.createInvitation(admin, 1, "+77010000002")
	id := created["invitation"].(map[string]any)["id"].(string)

	// The guest display endpoint needs no credentials.
	resp := api.get("/v1/guest/invitations/"+id+"/qr", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("guest qr status: %d", resp.StatusCode)
	}
	qrResp := decode[map[string]any](t, resp)
	secret := qrResp["qr"].(map[string]any)["secret"].(string)
	if qrResp["otp"] != nil {
		t.Fatalf("level 1 must not issue an OTP: %v", qrResp)
	}

	resp = api.post("/v1/scans/guest-qr", map[string]any{
		"invitation_id": id,
		"secret":        secret,
	}, guard)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("scan status: %d", resp.StatusCode)
	}
	res := decode[map[string]any](t, resp)
	if res["decision"] != "accepted" {
		t.Fatalf("decision = %v (%v)", res["decision"], res["reason"])
	}

	// The attempt is visible on the audit surface.
	resp = api.get("/v1/scan-events", url.Values{"invitation_id": {id}}, admin)
	events := decode[map[string]any](t, resp)
	if len(events["items"].([]any)) != 1 {
		t.Fatalf("unexpected events: %v", events)
	}

	// The guest status endpoint reflects the decision.
	resp = api.get("/v1/guest/invitations/"+id+"/status", nil, nil)
	status := decode[map[string]any](t, resp)
	last := status["last_scan"].(map[string]any)
	if last["success"] != true {
		t.Fatalf("unexpected status payload: %v", status)
	}
}

func TestLevel2ScanFlow(t *testing.T) {
	api := newTestAPI(t)
	api.seedOrgAndGuard("org1", "guard-1")
	admin := api.obtainToken("admin-1", []string{"orgadmin"})
	guard := api.obtainToken("guard-1", []string{"guard"})

	created := api.createInvitation(admin, 2, "+77010000003")
	id := created["invitation"].(map[string]any)["id"].(string)

	resp := api.get("/v1/guest/invitations/"+id+"/qr", nil, nil)
	qrResp := decode[map[string]any](t, resp)
	secret := qrResp["qr"].(map[string]any)["secret"].(string)
	code := qrResp["otp"].(map[string]any)["code"].(string)

	resp = api.post("/v1/scans/guest-qr", map[string]any{
		"invitation_id": id,
		"secret":        secret,
	}, guard)
	pending := decode[map[string]any](t, resp)
	if pending["decision"] != "pending_second_factor" {
		t.Fatalf("decision = %v", pending["decision"])
	}

	resp = api.post("/v1/scans/verify-otp", map[string]any{
		"invitation_id": id,
		"code":          code,
	}, guard)
	final := decode[map[string]any](t, resp)
	if final["decision"] != "accepted" || final["message"] != "access granted - level 2" {
		t.Fatalf("unexpected final result: %v", final)
	}
}

func TestLevel4ScanFlow(t *testing.T) {
	api := newTestAPI(t)
	api.seedOrgAndGuard("org1", "guard-1")
	admin := api.obtainToken("admin-1", []string{"orgadmin"})
	guard := api.obtainToken("guard-1", []string{"guard"})
	guest := api.obtainToken("guest-user", []string{"guest"})

	created := api.createInvitation(admin, 4, "+77010000004")
	id := created["invitation"].(map[string]any)["id"].(string)
	guestID := created["guest"].(map[string]any)["id"].(string)

	// The guard device displays a signed token.
	resp := api.get("/v1/guard/qr", nil, guard)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("guard qr status: %d", resp.StatusCode)
	}
	guardQR := decode[map[string]any](t, resp)
	token := guardQR["token"].(string)

	// The guest scans it.
	resp = api.post("/v1/scans/guard-token", map[string]any{
		"token":    token,
		"guest_id": guestID,
	}, guest)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("guard-token scan status: %d", resp.StatusCode)
	}
	pending := decode[map[string]any](t, resp)
	if pending["decision"] != "pending_second_factor" {
		t.Fatalf("decision = %v (%v)", pending["decision"], pending["reason"])
	}
	code := pending["otp"].(map[string]any)["code"].(string)

	// The guard keys in the code from the guest's screen.
	resp = api.post("/v1/scans/verify-otp", map[string]any{
		"invitation_id": id,
		"code":          code,
	}, guard)
	final := decode[map[string]any](t, resp)
	if final["decision"] != "accepted" || final["message"] != "access granted - level 4" {
		t.Fatalf("unexpected final result: %v", final)
	}
}

func TestAlertsClassifyFailures(t *testing.T) {
	api := newTestAPI(t)
	api.seedOrgAndGuard("org1", "guard-1")
	admin := api.obtainToken("admin-1", []string{"orgadmin"})
	guard := api.obtainToken("guard-1", []string{"guard"})

	resp := api.post("/v1/scans/guest-qr", map[string]any{
		"invitation_id": "no-such-invitation",
		"secret":        "whatever",
	}, guard)
	rejected := decode[map[string]any](t, resp)
	if rejected["decision"] != "rejected" {
		t.Fatalf("decision = %v", rejected["decision"])
	}

	resp = api.get("/v1/alerts", url.Values{"window": {"week"}}, admin)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("alerts status: %d", resp.StatusCode)
	}
	alerts := decode[map[string]any](t, resp)
	items := alerts["items"].([]any)
	if len(items) != 1 {
		t.Fatalf("unexpected alerts: %v", alerts)
	}
	first := items[0].(map[string]any)
	if first["classification"] != AlertUnauthorizedAttempt || first["severity"] != "high" {
		t.Fatalf("unexpected classification: %v", first)
	}
}

func TestAPIEnforcesAuthAndRoles(t *testing.T) {
	api := newTestAPI(t)
	api.seedOrgAndGuard("org1", "guard-1")

	resp := api.post("/v1/invitations", map[string]any{}, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}

	guard := api.obtainToken("guard-1", []string{"guard"})
	resp = api.post("/v1/invitations", map[string]any{}, guard)
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 for wrong role, got %d", resp.StatusCode)
	}
}

func TestTokenEndpointValidation(t *testing.T) {
	api := newTestAPI(t)

	resp := api.post("/v1/auth/token", map[string]any{"user": ""}, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}

	resp = api.post("/v1/auth/token", map[string]any{"user": "u", "roles": []string{"superuser"}}, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown role, got %d", resp.StatusCode)
	}
}
