package dispatcher

import (
	"errors"

	"github.com/golang-jwt/jwt"
	"github.com/source-build/ojp/internal/ojperr"
)

// verifyJWT implements the domain-stack JWT bearer-token check
// (SPEC_FULL.md §6/§3): a no-op when secret is empty, otherwise the token
// must parse and validate against secret. Grounded on the teacher's
// jwt.go Valid function, adapted to return ojperr instead of a bare error.
func verifyJWT(secret, token string) error {
	if secret == "" {
		return nil
	}
	if token == "" {
		return ojperr.New(ojperr.PermissionDenied, "missing auth token")
	}

	claims := &jwt.StandardClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	})
	if err != nil {
		return ojperr.Wrap(ojperr.PermissionDenied, err)
	}
	if !parsed.Valid {
		return ojperr.New(ojperr.PermissionDenied, "invalid auth token")
	}
	return nil
}

var errNoPeer = errors.New("dispatcher: no peer address in context")
