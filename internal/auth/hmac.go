// Package auth signs and verifies the player tokens presented when a websocket observer joins.
package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrInvalidToken indicates the token failed signature checks or had malformed structure.
	ErrInvalidToken = errors.New("invalid token")
	// ErrExpiredToken signals that the token's expiry is in the past.
	ErrExpiredToken = errors.New("token expired")
)

const tokenHeader = `{"alg":"HS256","typ":"JWT"}`

// PlayerClaims identifies a player and the loadout they asked for at join time.
type PlayerClaims struct {
	PlayerID   string
	Name       string
	Team       string
	Projectile string
	Ability    string
	ExpiresAt  time.Time
	IssuedAt   time.Time
}

type claimsPayload struct {
	Subject    string `json:"sub"`
	Name       string `json:"name,omitempty"`
	Team       string `json:"team,omitempty"`
	Projectile string `json:"proj,omitempty"`
	Ability    string `json:"abl,omitempty"`
	Expires    int64  `json:"exp"`
	Issued     int64  `json:"iat"`
}

// Signer issues and verifies compact JWT-style HS256 player tokens.
type Signer struct {
	secret []byte
	now    func() time.Time
	leeway time.Duration
}

// NewSigner constructs a signer for the shared secret with the given clock skew allowance.
func NewSigner(secret string, leeway time.Duration) (*Signer, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, errors.New("hmac secret must not be empty")
	}
	if leeway < 0 {
		leeway = 0
	}
	return &Signer{secret: []byte(secret), now: time.Now, leeway: leeway}, nil
}

// WithClock overrides the signer clock.
func (s *Signer) WithClock(clock func() time.Time) {
	if clock == nil {
		return
	}
	s.now = clock
}

// Issue mints a token for the player valid for ttl.
func (s *Signer) Issue(claims PlayerClaims, ttl time.Duration) (string, error) {
	if s == nil || len(s.secret) == 0 {
		return "", errors.New("signer not initialised")
	}
	if strings.TrimSpace(claims.PlayerID) == "" {
		return "", errors.New("player id required")
	}
	if ttl <= 0 {
		return "", errors.New("token ttl must be positive")
	}
	now := s.now()
	payload, err := json.Marshal(claimsPayload{
		Subject:    claims.PlayerID,
		Name:       claims.Name,
		Team:       claims.Team,
		Projectile: claims.Projectile,
		Ability:    claims.Ability,
		Expires:    now.Add(ttl).Unix(),
		Issued:     now.Unix(),
	})
	if err != nil {
		return "", fmt.Errorf("encode claims: %w", err)
	}
	signingInput := encodeSegment([]byte(tokenHeader)) + "." + encodeSegment(payload)
	return signingInput + "." + encodeSegment(s.sign([]byte(signingInput))), nil
}

// Verify parses the token, validates signature and expiry and returns the embedded claims.
func (s *Signer) Verify(token string) (*PlayerClaims, error) {
	if s == nil || len(s.secret) == 0 {
		return nil, errors.New("signer not initialised")
	}
	parts := strings.Split(strings.TrimSpace(token), ".")
	if len(parts) != 3 {
		return nil, ErrInvalidToken
	}

	//1.- Reject anything not signed with HS256 before touching the payload.
	headerBytes, err := decodeSegment(parts[0])
	if err != nil {
		return nil, ErrInvalidToken
	}
	var header struct {
		Algorithm string `json:"alg"`
	}
	if err := json.Unmarshal(headerBytes, &header); err != nil {
		return nil, ErrInvalidToken
	}
	if header.Algorithm != "HS256" {
		return nil, fmt.Errorf("%w: unexpected algorithm %q", ErrInvalidToken, header.Algorithm)
	}

	//2.- Compare signatures in constant time.
	signature, err := decodeSegment(parts[2])
	if err != nil {
		return nil, ErrInvalidToken
	}
	if !hmac.Equal(signature, s.sign([]byte(parts[0]+"."+parts[1]))) {
		return nil, ErrInvalidToken
	}

	//3.- Decode the claims and enforce expiry with leeway.
	payloadBytes, err := decodeSegment(parts[1])
	if err != nil {
		return nil, ErrInvalidToken
	}
	var payload claimsPayload
	if err := json.Unmarshal(payloadBytes, &payload); err != nil {
		return nil, ErrInvalidToken
	}
	if strings.TrimSpace(payload.Subject) == "" || payload.Expires <= 0 {
		return nil, ErrInvalidToken
	}
	expiresAt := time.Unix(payload.Expires, 0)
	if expiresAt.Add(s.leeway).Before(s.now()) {
		return nil, ErrExpiredToken
	}
	return &PlayerClaims{
		PlayerID:   payload.Subject,
		Name:       payload.Name,
		Team:       payload.Team,
		Projectile: payload.Projectile,
		Ability:    payload.Ability,
		ExpiresAt:  expiresAt,
		IssuedAt:   time.Unix(payload.Issued, 0),
	}, nil
}

func (s *Signer) sign(payload []byte) []byte {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write(payload)
	return mac.Sum(nil)
}

func encodeSegment(raw []byte) string { return base64.RawURLEncoding.EncodeToString(raw) }

func decodeSegment(segment string) ([]byte, error) {
	return base64.RawURLEncoding.DecodeString(segment)
}
