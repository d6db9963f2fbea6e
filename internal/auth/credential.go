package auth

import (
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/blake2b"
)

// fingerprintLength is the number of hex characters kept from the digest.
const fingerprintLength = 12

// Credential describes what can be learned about a token without its
// signing secret.
type Credential struct {
	// Subject is the JWT sub claim, empty for opaque tokens.
	Subject string

	// ExpiresAt is the JWT exp claim. Zero when absent or opaque.
	ExpiresAt time.Time

	// Opaque is true when the token does not parse as a JWT.
	Opaque bool

	// Fingerprint is safe to log; see Fingerprint.
	Fingerprint string
}

// Inspect examines a bearer token.
//
// Returns ErrTokenMissing for a blank token and ErrTokenExpired (with the
// partially filled Credential) for a JWT that expired before now. Tokens
// that are not JWTs are reported as Opaque and never fail inspection.
func Inspect(token string, now time.Time) (*Credential, error) {
	if strings.TrimSpace(token) == "" {
		return nil, ErrTokenMissing
	}

	cred := &Credential{Fingerprint: Fingerprint(token)}

	var claims jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		cred.Opaque = true
		return cred, nil
	}

	cred.Subject = claims.Subject
	if claims.ExpiresAt != nil {
		cred.ExpiresAt = claims.ExpiresAt.Time
		if !now.Before(cred.ExpiresAt) {
			return cred, fmt.Errorf("%w: expired at %s", ErrTokenExpired, cred.ExpiresAt.UTC().Format(time.RFC3339))
		}
	}

	return cred, nil
}

// Fingerprint returns a short BLAKE2b digest of a secret for correlation
// in logs. It is not reversible and reveals nothing about token structure.
func Fingerprint(secret string) string {
	if secret == "" {
		return ""
	}
	sum := blake2b.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])[:fingerprintLength]
}
