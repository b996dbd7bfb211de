package realtime

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func signTestToken(t *testing.T, secret []byte, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return token
}

func TestJWTVerifier_RejectsShortSecret(t *testing.T) {
	t.Parallel()

	if _, err := NewJWTVerifier([]byte("too-short"), ""); err == nil {
		t.Fatalf("expected short secret rejection")
	}
}

func TestJWTVerifier_ValidToken(t *testing.T) {
	t.Parallel()

	secret := []byte(strings.Repeat("s", 32))
	v, err := NewJWTVerifier(secret, "")
	if err != nil {
		t.Fatalf("NewJWTVerifier: %v", err)
	}

	token := signTestToken(t, secret, jwt.MapClaims{
		"sub":  "user-1",
		"name": "Raider One",
		"exp":  time.Now().Add(time.Hour).Unix(),
	})

	id, err := v.Verify(context.Background(), token)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if id.UserID != "user-1" || id.DisplayName != "Raider One" {
		t.Fatalf("unexpected identity: %+v", id)
	}
}

func TestJWTVerifier_NameDefaultsToSubject(t *testing.T) {
	t.Parallel()

	secret := []byte(strings.Repeat("s", 32))
	v, _ := NewJWTVerifier(secret, "")

	token := signTestToken(t, secret, jwt.MapClaims{
		"sub": "user-2",
		"exp": time.Now().Add(time.Hour).Unix(),
	})

	id, err := v.Verify(context.Background(), token)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if id.DisplayName != "user-2" {
		t.Fatalf("expected display name fallback to subject, got %q", id.DisplayName)
	}
}

func TestJWTVerifier_Rejections(t *testing.T) {
	t.Parallel()

	secret := []byte(strings.Repeat("s", 32))
	other := []byte(strings.Repeat("x", 32))
	v, _ := NewJWTVerifier(secret, "speranza")

	cases := []struct {
		name  string
		token string
	}{
		{name: "empty", token: ""},
		{name: "garbage", token: "not.a.jwt"},
		{name: "wrong signature", token: signTestToken(t, other, jwt.MapClaims{
			"sub": "user-1", "iss": "speranza", "exp": time.Now().Add(time.Hour).Unix(),
		})},
		{name: "expired", token: signTestToken(t, secret, jwt.MapClaims{
			"sub": "user-1", "iss": "speranza", "exp": time.Now().Add(-time.Hour).Unix(),
		})},
		{name: "wrong issuer", token: signTestToken(t, secret, jwt.MapClaims{
			"sub": "user-1", "iss": "someone-else", "exp": time.Now().Add(time.Hour).Unix(),
		})},
		{name: "missing subject", token: signTestToken(t, secret, jwt.MapClaims{
			"iss": "speranza", "exp": time.Now().Add(time.Hour).Unix(),
		})},
	}

	for _, tc := range cases {
		if _, err := v.Verify(context.Background(), tc.token); err != ErrTokenInvalid {
			t.Fatalf("%s: expected ErrTokenInvalid, got %v", tc.name, err)
		}
	}
}

func TestInsecureDevVerifier(t *testing.T) {
	t.Parallel()

	var v InsecureDevVerifier

	id, err := v.Verify(context.Background(), "alice:Alice A")
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if id.UserID != "alice" || id.DisplayName != "Alice A" {
		t.Fatalf("unexpected identity: %+v", id)
	}

	id, err = v.Verify(context.Background(), "bob")
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if id.UserID != "bob" || id.DisplayName != "bob" {
		t.Fatalf("expected name fallback, got %+v", id)
	}

	if _, err := v.Verify(context.Background(), ""); err != ErrTokenInvalid {
		t.Fatalf("expected ErrTokenInvalid for empty token, got %v", err)
	}
}
