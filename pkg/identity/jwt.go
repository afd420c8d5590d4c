package identity

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// claims is the JWT payload signed into the internal bearer. The opaque
// "sct_"-prefixed token callers actually hold is never this string; it only
// carries the token id used to look the bearer back up.
type claims struct {
	jwt.RegisteredClaims
	AgentType   AgentType    `json:"typ"`
	Permissions []Permission `json:"perm"`
}

// keyring holds the current signing key and, during rotation, at most one
// previous key so tokens minted before a rotation keep validating until
// they naturally expire or are refreshed.
type keyring struct {
	current  []byte
	previous []byte
}

func newKeyring(current, previous string) (*keyring, error) {
	if len(current) < 64 {
		return nil, fmt.Errorf("JWT_SECRET_KEY must be at least 64 characters")
	}
	k := &keyring{current: []byte(current)}
	if previous != "" {
		k.previous = []byte(previous)
	}
	return k, nil
}

func (k *keyring) sign(tokenID string, identity Identity, ttl time.Duration) (string, error) {
	now := time.Now().UTC()
	c := claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   identity.AgentID,
			ID:        tokenID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		AgentType:   identity.AgentType,
		Permissions: identity.Permissions,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	return token.SignedString(k.current)
}

var errBadBearer = errors.New("bearer token signature invalid or expired")

// parse verifies bearer against the current key, falling back to the
// previous key if rotation just happened. It does not consult the database;
// callers still must check revocation and the authoritative expires_at.
func (k *keyring) parse(bearer string) (*claims, error) {
	keyFunc := func(*jwt.Token) (any, error) { return k.current, nil }

	token, err := jwt.ParseWithClaims(bearer, &claims{}, keyFunc)
	if err == nil && token.Valid {
		return token.Claims.(*claims), nil
	}

	if k.previous != nil {
		keyFunc = func(*jwt.Token) (any, error) { return k.previous, nil }
		token, err2 := jwt.ParseWithClaims(bearer, &claims{}, keyFunc)
		if err2 == nil && token.Valid {
			return token.Claims.(*claims), nil
		}
	}

	return nil, errBadBearer
}

// opaqueToken formats the external token string given a raw token id.
func opaqueToken(tokenID string) string {
	return "sct_" + tokenID
}

// tokenIDFromOpaque extracts the token id from an external token string.
func tokenIDFromOpaque(opaque string) (string, bool) {
	const prefix = "sct_"
	if !strings.HasPrefix(opaque, prefix) {
		return "", false
	}
	id := strings.TrimPrefix(opaque, prefix)
	if id == "" {
		return "", false
	}
	return id, true
}
