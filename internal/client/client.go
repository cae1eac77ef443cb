// Package client is a typed HTTP client for the knockster API, used by the
// smoke and simulation tools.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/doutyacodes/knockster-org/internal/access"
)

// APIError carries the status and error message of a failed call.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d: %s", e.Status, e.Message)
}

type Client struct {
	baseURL string
	http    *http.Client
	token   string
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// New creates a client for the API at baseURL (no trailing slash required).
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Authenticate obtains a bearer token for the given user and stores it for
// subsequent calls.
func (c *Client) Authenticate(ctx context.Context, user string, roles []string) error {
	var out struct {
		Token string `json:"token"`
	}
	err := c.call(ctx, http.MethodPost, "/v1/auth/token", map[string]any{
		"user":  user,
		"roles": roles,
	}, &out)
	if err != nil {
		return err
	}
	c.token = out.Token
	return nil
}

// Token returns the currently held bearer token.
func (c *Client) Token() string { return c.token }

type CreateInvitationParams struct {
	EmployeeName  string    `json:"employee_name"`
	EmployeePhone string    `json:"employee_phone"`
	GuestName     string    `json:"guest_name"`
	GuestPhone    string    `json:"guest_phone"`
	ValidFrom     time.Time `json:"valid_from"`
	ValidTo       time.Time `json:"valid_to"`
	SecurityLevel int       `json:"security_level"`
	OrgNodeID     string    `json:"org_node_id"`
}

func (c *Client) CreateInvitation(ctx context.Context, params CreateInvitationParams) (access.Invitation, access.Guest, error) {
	var out struct {
		Invitation access.Invitation `json:"invitation"`
		Guest      access.Guest      `json:"guest"`
	}
	err := c.call(ctx, http.MethodPost, "/v1/invitations", params, &out)
	return out.Invitation, out.Guest, err
}

// GuestQR is the guest display payload: the rotating QR plus, for levels with
// a second factor, the current OTP.
type GuestQR struct {
	InvitationID  string            `json:"invitation_id"`
	SecurityLevel int               `json:"security_level"`
	QR            access.IssuedQR   `json:"qr"`
	OTP           *access.IssuedOTP `json:"otp,omitempty"`
}

func (c *Client) GuestQR(ctx context.Context, invitationID string) (GuestQR, error) {
	var out GuestQR
	err := c.call(ctx, http.MethodGet, "/v1/guest/invitations/"+invitationID+"/qr", nil, &out)
	return out, err
}

func (c *Client) ScanGuestQR(ctx context.Context, invitationID, secret string) (access.VerificationResult, error) {
	var out access.VerificationResult
	err := c.call(ctx, http.MethodPost, "/v1/scans/guest-qr", map[string]string{
		"invitation_id": invitationID,
		"secret":        secret,
	}, &out)
	return out, err
}

func (c *Client) ScanGuardToken(ctx context.Context, token, guestID string) (access.VerificationResult, error) {
	var out access.VerificationResult
	err := c.call(ctx, http.MethodPost, "/v1/scans/guard-token", map[string]string{
		"token":    token,
		"guest_id": guestID,
	}, &out)
	return out, err
}

func (c *Client) VerifyOTP(ctx context.Context, invitationID, code string) (access.VerificationResult, error) {
	var out access.VerificationResult
	err := c.call(ctx, http.MethodPost, "/v1/scans/verify-otp", map[string]string{
		"invitation_id": invitationID,
		"code":          code,
	}, &out)
	return out, err
}

func (c *Client) GuardQR(ctx context.Context) (string, access.Guard, error) {
	var out struct {
		Token string       `json:"token"`
		Guard access.Guard `json:"guard"`
	}
	err := c.call(ctx, http.MethodGet, "/v1/guard/qr", nil, &out)
	return out.Token, out.Guard, err
}

func (c *Client) ScanEvents(ctx context.Context, invitationID string, limit int) ([]access.ScanEvent, error) {
	var out struct {
		Items []access.ScanEvent `json:"items"`
	}
	path := "/v1/scan-events?invitation_id=" + invitationID
	if limit > 0 {
		path += "&limit=" + strconv.Itoa(limit)
	}
	err := c.call(ctx, http.MethodGet, path, nil, &out)
	return out.Items, err
}

func (c *Client) call(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var apiErr struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		if apiErr.Error == "" {
			apiErr.Error = resp.Status
		}
		return &APIError{Status: resp.StatusCode, Message: apiErr.Error}
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
