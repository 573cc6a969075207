package auth

import (
	"crypto/rsa"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims are the identity fields the messaging layer reads from a token.
// The user id is the registered subject.
type Claims struct {
	Email string `json:"email,omitempty"`
	Name  string `json:"name,omitempty"`
	Role  string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

type JWTValidator struct {
	alg    string
	pubKey *rsa.PublicKey
	secret []byte
}

func NewJWTValidator(pubKeyPath, alg, secret string) (*JWTValidator, error) {
	jv := &JWTValidator{alg: alg}
	switch alg {
	case "RS256":
		b, err := os.ReadFile(pubKeyPath)
		if err != nil {
			return nil, fmt.Errorf("read pubkey: %w", err)
		}
		key, err := jwt.ParseRSAPublicKeyFromPEM(b)
		if err != nil {
			return nil, fmt.Errorf("parse pubkey: %w", err)
		}
		jv.pubKey = key
	case "HS256":
		if secret == "" {
			return nil, errors.New("hs256 secret required")
		}
		jv.secret = []byte(secret)
	default:
		return nil, errors.New("unsupported alg")
	}
	return jv, nil
}

// Validate parses token and returns its claims. The subject is required.
func (j *JWTValidator) Validate(token string) (*Claims, error) {
	keyFunc := func(t *jwt.Token) (interface{}, error) {
		if j.alg == "RS256" {
			return j.pubKey, nil
		}
		return j.secret, nil
	}

	parser := jwt.NewParser(jwt.WithValidMethods([]string{j.alg}))
	claims := &Claims{}
	tok, err := parser.ParseWithClaims(token, claims, keyFunc)
	if err != nil {
		return nil, err
	}
	if !tok.Valid {
		return nil, errors.New("invalid token")
	}
	if claims.Subject == "" {
		return nil, errors.New("sub missing")
	}
	return claims, nil
}

// SignHS256 issues a token for local tooling and tests.
func SignHS256(secret string, c Claims, ttl time.Duration) (string, error) {
	now := time.Now()
	c.IssuedAt = jwt.NewNumericDate(now)
	c.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	return jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString([]byte(secret))
}
