package auth

import (
	"strings"
	"testing"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
)

func TestServiceTokenRoundTrip(t *testing.T) {
	manager := NewServiceTokenManager("service-secret")
	token, err := manager.Sign("sales-api", ServiceRole)
	if err != nil {
		t.Fatalf("sign failed: %v", err)
	}

	actor, err := manager.Parse(token)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if actor.Subject != "sales-api" || actor.Role != ServiceRole {
		t.Fatalf("unexpected actor %+v", actor)
	}
}

func TestParseRejectsWrongIssuerAndSecret(t *testing.T) {
	other := NewTokenManager("service-secret", "someone-else", time.Minute)
	token, err := other.Sign("x", "service")
	if err != nil {
		t.Fatalf("sign failed: %v", err)
	}
	if _, err := NewServiceTokenManager("service-secret").Parse(token); err == nil {
		t.Fatalf("expected issuer mismatch to be rejected")
	}

	forged, _ := NewServiceTokenManager("wrong-secret").Sign("x", "service")
	if _, err := NewServiceTokenManager("service-secret").Parse(forged); err == nil {
		t.Fatalf("expected token signed with another secret to be rejected")
	}
}

func TestParseRejectsNoneAlgorithm(t *testing.T) {
	claims := jwtlib.MapClaims{"sub": "x", "iss": ServiceIssuer, "exp": time.Now().Add(time.Minute).Unix()}
	token := jwtlib.NewWithClaims(jwtlib.SigningMethodNone, claims)
	raw, err := token.SignedString(jwtlib.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign none failed: %v", err)
	}
	if _, err := NewServiceTokenManager("service-secret").Parse(raw); err == nil {
		t.Fatalf("expected alg=none token to be rejected")
	}
}

func TestEmptySecretDisablesAuth(t *testing.T) {
	if NewTokenManager("  ", "", time.Hour) != nil {
		t.Fatalf("expected nil manager for empty secret")
	}
}

func TestPINIsHashedAndStillValidates(t *testing.T) {
	guard, err := NewPINGuard("654321")
	if err != nil {
		t.Fatalf("new guard failed: %v", err)
	}
	if guard.hash == "654321" || !strings.HasPrefix(guard.hash, "$2") {
		t.Fatalf("expected pin to be stored as bcrypt hash, got %q", guard.hash)
	}
	if !guard.Validate("654321") {
		t.Fatalf("expected pin validation to succeed")
	}
	if guard.Validate("111111") || guard.Validate("") {
		t.Fatalf("expected wrong pin to fail")
	}

	prehashed, err := NewPINGuard(guard.hash)
	if err != nil || !prehashed.Validate("654321") {
		t.Fatalf("expected bcrypt hash input to be accepted as is")
	}

	none, err := NewPINGuard("")
	if err != nil || none != nil {
		t.Fatalf("expected nil guard for empty pin")
	}
}
