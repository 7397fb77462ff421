// Package auth implements the room hub's token verifier: it validates
// a compact signed session token minted by the out-of-scope OAuth exchange
// endpoint and returns a stable identity, or an opaque failure.
package auth

import (
	"errors"
	"log"
	"strings"
	"time"

	"github.com/golang-jwt/jwt"

	"github.com/watchsync/roomhub/internal/types"
)

// ErrInvalidToken is the single failure every verification error collapses
// to. Callers must not branch on anything more specific than this.
var ErrInvalidToken = errors.New("invalid token")

const (
	claimSub     = "sub"
	claimName    = "name"
	claimEmail   = "email"
	claimPicture = "picture"
)

// Verifier validates session tokens against a symmetric secret.
type Verifier struct {
	secret   []byte
	audience string
	devMode  bool
	log      *log.Logger
}

// NewVerifier builds a Verifier. devMode accepts unsigned claims and is
// meant only for local development; production startup should refuse to
// construct one with an empty secret (see config.NewConfig).
func NewVerifier(secret []byte, audience string, devMode bool, logger *log.Logger) *Verifier {
	return &Verifier{
		secret:   secret,
		audience: audience,
		devMode:  devMode,
		log:      logger,
	}
}

// Verify validates tokenString and returns the identity it carries. Every
// failure mode — malformed, bad signature, expired, missing secret — is
// reported as ErrInvalidToken so callers can't distinguish why a token was
// rejected.
func (v *Verifier) Verify(tokenString string) (types.Identity, error) {
	if strings.TrimSpace(tokenString) == "" {
		return types.Identity{}, ErrInvalidToken
	}

	var claims jwt.MapClaims
	if v.devMode {
		v.log.Println("DEV MODE: accepting unverified session token")
		token, _, err := new(jwt.Parser).ParseUnverified(tokenString, jwt.MapClaims{})
		if err != nil {
			return types.Identity{}, ErrInvalidToken
		}
		mc, ok := token.Claims.(jwt.MapClaims)
		if !ok {
			return types.Identity{}, ErrInvalidToken
		}
		claims = mc
	} else {
		if len(v.secret) == 0 {
			return types.Identity{}, ErrInvalidToken
		}

		token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, ErrInvalidToken
			}
			return v.secret, nil
		})
		if err != nil || !token.Valid {
			return types.Identity{}, ErrInvalidToken
		}

		mc, ok := token.Claims.(jwt.MapClaims)
		if !ok {
			return types.Identity{}, ErrInvalidToken
		}
		claims = mc

		if exp, ok := claims["exp"].(float64); ok {
			if time.Unix(int64(exp), 0).Before(time.Now()) {
				return types.Identity{}, ErrInvalidToken
			}
		}

		if v.audience != "" {
			if aud, ok := claims["aud"].(string); !ok || aud != v.audience {
				return types.Identity{}, ErrInvalidToken
			}
		}
	}

	sub, _ := claims[claimSub].(string)
	if strings.TrimSpace(sub) == "" {
		return types.Identity{}, ErrInvalidToken
	}

	name, _ := claims[claimName].(string)
	email, _ := claims[claimEmail].(string)
	picture, _ := claims[claimPicture].(string)

	return types.Identity{
		Sub:     sub,
		Name:    name,
		Email:   email,
		Picture: picture,
	}, nil
}
