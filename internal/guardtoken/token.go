package guardtoken

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// payloadType distinguishes guard tokens from other QR payloads a guest
// camera might pick up.
const payloadType = "guard_token"

// DefaultTTL bounds how long a displayed guard token stays verifiable. The
// token embeds its issue time, so a captured payload cannot be replayed later.
const DefaultTTL = 2 * time.Minute

var (
	ErrInvalidToken = errors.New("guardtoken: invalid token")
	ErrTokenExpired = errors.New("guardtoken: token expired")
)

// Claims is the verified content of a guard token.
type Claims struct {
	GuardID   string
	OrgNodeID string
	IssuedAt  time.Time
}

type payload struct {
	GuardID   string `json:"guard_id"`
	OrgNodeID string `json:"org_node_id"`
	IssuedAt  int64  `json:"issued_at"`
	Type      string `json:"type"`
	Signature string `json:"signature"`
}

// Signer mints and verifies HMAC-signed guard tokens. The key is dedicated to
// guard tokens and must not be shared with the JWT auth secret.
type Signer struct {
	key []byte
	ttl time.Duration
}

// NewSigner builds a Signer. A zero ttl falls back to DefaultTTL.
func NewSigner(key []byte, ttl time.Duration) (*Signer, error) {
	if len(key) == 0 {
		return nil, errors.New("guardtoken: signing key is required")
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Signer{key: key, ttl: ttl}, nil
}

// Sign produces the JSON token string a guard displays as a QR code.
func (s *Signer) Sign(guardID, orgNodeID string, now time.Time) (string, error) {
	guardID = strings.TrimSpace(guardID)
	orgNodeID = strings.TrimSpace(orgNodeID)
	if guardID == "" || orgNodeID == "" {
		return "", errors.New("guardtoken: guard and organization ids are required")
	}
	issued := now.UTC().Unix()
	p := payload{
		GuardID:   guardID,
		OrgNodeID: orgNodeID,
		IssuedAt:  issued,
		Type:      payloadType,
		Signature: s.signature(guardID, orgNodeID, issued),
	}
	data, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("guardtoken: marshal payload: %w", err)
	}
	return string(data), nil
}

// Verify checks the signature and freshness of a presented token.
func (s *Signer) Verify(token string, now time.Time) (Claims, error) {
	var p payload
	if err := json.Unmarshal([]byte(token), &p); err != nil {
		return Claims{}, ErrInvalidToken
	}
	if p.Type != payloadType || p.GuardID == "" || p.OrgNodeID == "" {
		return Claims{}, ErrInvalidToken
	}
	expected := s.signature(p.GuardID, p.OrgNodeID, p.IssuedAt)
	if !hmac.Equal([]byte(expected), []byte(p.Signature)) {
		return Claims{}, ErrInvalidToken
	}
	issuedAt := time.Unix(p.IssuedAt, 0).UTC()
	now = now.UTC()
	// Allow a small clock skew for guard devices slightly ahead of the server.
	if issuedAt.After(now.Add(5 * time.Second)) {
		return Claims{}, ErrInvalidToken
	}
	if now.Sub(issuedAt) > s.ttl {
		return Claims{}, ErrTokenExpired
	}
	return Claims{GuardID: p.GuardID, OrgNodeID: p.OrgNodeID, IssuedAt: issuedAt}, nil
}

func (s *Signer) signature(guardID, orgNodeID string, issuedAt int64) string {
	mac := hmac.New(sha256.New, s.key)
	fmt.Fprintf(mac, "%s|%s|%d", guardID, orgNodeID, issuedAt)
	return hex.EncodeToString(mac.Sum(nil))
}
