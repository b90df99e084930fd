package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestSignVerifyRoundTrip(t *testing.T) {
	s, err := NewSigner("secret", "dev")
	if err != nil {
		t.Fatalf("NewSigner: %v", err)
	}

	token, err := s.Sign(Claims{Username: "alice", Role: "viewer"})
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	claims, err := s.Verify(token)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if claims.Identity() != "alice" || claims.Role != "viewer" {
		t.Fatalf("unexpected claims %+v", claims)
	}
}

func TestIdentityFallsBackToSubject(t *testing.T) {
	c := Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: "bob"}}
	if c.Identity() != "bob" {
		t.Fatalf("expected bob, got %q", c.Identity())
	}
}

func TestVerifyRejectsExpired(t *testing.T) {
	s, _ := NewSigner("secret", "dev")
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return base }

	token, err := s.Sign(Claims{Username: "alice", RegisteredClaims: jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(base.Add(time.Minute)),
	}})
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	s.now = func() time.Time { return base.Add(time.Hour) }
	if _, err := s.Verify(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestVerifyRejectsForeignSecret(t *testing.T) {
	a, _ := NewSigner("a", "dev")
	b, _ := NewSigner("b", "dev")
	token, err := a.Sign(Claims{Username: "alice"})
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if _, err := b.Verify(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestNewSignerRequiresSecretInProduction(t *testing.T) {
	if _, err := NewSigner("", "production"); !errors.Is(err, ErrMissingSecret) {
		t.Fatalf("expected ErrMissingSecret, got %v", err)
	}
	if _, err := NewSigner("", "dev"); err != nil {
		t.Fatalf("dev should fall back to a default secret: %v", err)
	}
}
