// ABOUTME: JWT bearer tokens identifying an operator to the admin/control API.
// ABOUTME: HS256 signed with the fabric's configured secret; the "sub" claim carries the operator's id.

package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Token errors.
var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
	ErrMissingClaim = errors.New("missing required claim")
)

// TokenVerifier authenticates a bearer token and names the operator it
// was issued to. Agents never hold one of these — they authenticate
// in-band via C1 signatures instead.
type TokenVerifier interface {
	Verify(tokenString string) (operatorID string, err error)
}

// JWTVerifier implements TokenVerifier using HS256-signed JWTs.
type JWTVerifier struct {
	secret []byte
}

// NewJWTVerifier builds a verifier/issuer sharing the given HMAC secret.
func NewJWTVerifier(secret []byte) *JWTVerifier {
	return &JWTVerifier{secret: secret}
}

// Verify checks the token's signature and expiry and returns the
// OperatorRecord.ID carried in its "sub" claim.
func (v *JWTVerifier) Verify(tokenString string) (operatorID string, err error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.secret, nil
	})

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", ErrExpiredToken
		}
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	if !token.Valid {
		return "", ErrInvalidToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", ErrInvalidToken
	}

	operatorID, ok = claims["sub"].(string)
	if !ok || operatorID == "" {
		return "", fmt.Errorf("%w: sub", ErrMissingClaim)
	}

	return operatorID, nil
}

// Generate mints a bearer token naming operatorID in its "sub" claim,
// valid for expiresIn. cmd/fabricctl never calls this — tokens are
// handed out by the admin/control API's login and passkey-bootstrap
// flows, never by the CLI itself.
func (v *JWTVerifier) Generate(operatorID string, expiresIn time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub": operatorID,
		"iat": now.Unix(),
		"exp": now.Add(expiresIn).Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(v.secret)
}
