package realtime

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// ErrTokenInvalid covers every token rejection reason (missing, malformed,
// bad signature, expired). The reasons are deliberately not distinguished
// to the client.
var ErrTokenInvalid = errors.New("realtime: invalid token")

// Identity is the verified caller extracted from a bearer token.
type Identity struct {
	UserID      string
	DisplayName string
}

// TokenVerifier authenticates a handshake bearer token. The platform's auth
// subsystem owns token issuance; the gateway only verifies.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (Identity, error)
}

// JWTVerifier verifies HS256-signed JWTs carrying the user id in the
// subject claim and the display name in "name".
type JWTVerifier struct {
	secret []byte
	issuer string
}

const minJWTSecretBytes = 32

// NewJWTVerifier constructs a verifier. The secret must be at least 32
// bytes; silently accepting a weak secret is not an option. An empty issuer
// disables issuer checking.
func NewJWTVerifier(secret []byte, issuer string) (*JWTVerifier, error) {
	if len(secret) < minJWTSecretBytes {
		return nil, fmt.Errorf("realtime: jwt secret too short (min %d bytes)", minJWTSecretBytes)
	}
	return &JWTVerifier{secret: secret, issuer: issuer}, nil
}

type sessionClaims struct {
	DisplayName string `json:"name"`
	jwt.RegisteredClaims
}

// Verify parses and validates the token's signature and expiration.
func (v *JWTVerifier) Verify(_ context.Context, token string) (Identity, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	parsed, err := jwt.ParseWithClaims(token, &sessionClaims{}, func(*jwt.Token) (any, error) {
		return v.secret, nil
	}, opts...)
	if err != nil || !parsed.Valid {
		return Identity{}, ErrTokenInvalid
	}

	claims, ok := parsed.Claims.(*sessionClaims)
	if !ok || strings.TrimSpace(claims.Subject) == "" {
		return Identity{}, ErrTokenInvalid
	}

	name := strings.TrimSpace(claims.DisplayName)
	if name == "" {
		name = claims.Subject
	}
	return Identity{UserID: claims.Subject, DisplayName: name}, nil
}

// InsecureDevVerifier accepts tokens of the form "userID" or
// "userID:displayName" without any verification. Dev-only escape hatch;
// never enable it outside local development.
type InsecureDevVerifier struct{}

// Verify splits the token into user id and display name.
func (InsecureDevVerifier) Verify(_ context.Context, token string) (Identity, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Identity{}, ErrTokenInvalid
	}

	userID, name, ok := strings.Cut(token, ":")
	if !ok || strings.TrimSpace(name) == "" {
		name = userID
	}
	if strings.TrimSpace(userID) == "" {
		return Identity{}, ErrTokenInvalid
	}
	return Identity{UserID: userID, DisplayName: name}, nil
}

var (
	_ TokenVerifier = (*JWTVerifier)(nil)
	_ TokenVerifier = InsecureDevVerifier{}
)
