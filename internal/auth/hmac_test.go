package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"strings"
	"testing"
	"time"
)

func fixedSigner(t *testing.T, secret string, leeway time.Duration, now time.Time) *Signer {
	t.Helper()
	signer, err := NewSigner(secret, leeway)
	if err != nil {
		t.Fatalf("NewSigner: %v", err)
	}
	signer.WithClock(func() time.Time { return now })
	return signer
}

func TestSignerRoundTripsLoadout(t *testing.T) {
	now := time.Unix(1700000000, 0)
	signer := fixedSigner(t, "secret", time.Second, now)

	token, err := signer.Issue(PlayerClaims{PlayerID: "p-7", Name: "Nova", Team: "B", Projectile: "Homing", Ability: "Parry"}, time.Minute)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	claims, err := signer.Verify(token)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if claims.PlayerID != "p-7" || claims.Team != "B" || claims.Projectile != "Homing" || claims.Ability != "Parry" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
	if !claims.ExpiresAt.Equal(now.Add(time.Minute)) {
		t.Fatalf("unexpected expiry %s", claims.ExpiresAt)
	}
}

func TestSignerRejectsExpiredToken(t *testing.T) {
	issuedAt := time.Unix(1700000000, 0)
	token, err := fixedSigner(t, "secret", 0, issuedAt).Issue(PlayerClaims{PlayerID: "p-7"}, time.Second)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	later := fixedSigner(t, "secret", 0, issuedAt.Add(5*time.Second))
	if _, err := later.Verify(token); !errors.Is(err, ErrExpiredToken) {
		t.Fatalf("expected ErrExpiredToken, got %v", err)
	}
}

func TestSignerRejectsForeignSignature(t *testing.T) {
	now := time.Unix(1700000000, 0)
	token, err := fixedSigner(t, "other-secret", 0, now).Issue(PlayerClaims{PlayerID: "p-7"}, time.Minute)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if _, err := fixedSigner(t, "secret", 0, now).Verify(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestSignerRejectsOtherAlgorithms(t *testing.T) {
	now := time.Unix(1700000000, 0)
	signer := fixedSigner(t, "secret", 0, now)
	header := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"none"}`))
	payload := base64.RawURLEncoding.EncodeToString([]byte(`{"sub":"p-7","exp":1800000000}`))
	mac := hmac.New(sha256.New, []byte("secret"))
	mac.Write([]byte(header + "." + payload))
	token := header + "." + payload + "." + base64.RawURLEncoding.EncodeToString(mac.Sum(nil))

	_, err := signer.Verify(token)
	if !errors.Is(err, ErrInvalidToken) || !strings.Contains(err.Error(), "none") {
		t.Fatalf("expected algorithm rejection, got %v", err)
	}
}

func TestIssueRequiresPlayer(t *testing.T) {
	signer := fixedSigner(t, "secret", 0, time.Unix(1700000000, 0))
	if _, err := signer.Issue(PlayerClaims{}, time.Minute); err == nil {
		t.Fatalf("expected an error without a player id")
	}
}
