package auth

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"

	"github.com/example/ride-passenger/internal/apperrors"
)

// Verifier checks backend-issued access tokens locally.
type Verifier struct {
	secret []byte
}

func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

// Verify parses an HS256 access token into the user it was issued for.
func (v *Verifier) Verify(token string) (User, error) {
	parsed, err := jwt.Parse(token, func(t *jwt.Token) (interface{}, error) {
		return v.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return User{}, apperrors.Auth("SESSION_EXPIRED", apperrors.MsgSessionExpired, err)
		}
		return User{}, apperrors.Auth("UNAUTHORIZED", apperrors.MsgUnauthorized, err)
	}
	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok || !parsed.Valid {
		return User{}, apperrors.Auth("UNAUTHORIZED", apperrors.MsgUnauthorized)
	}
	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return User{}, apperrors.Auth("UNAUTHORIZED", apperrors.MsgUnauthorized, fmt.Errorf("token without subject"))
	}
	u := User{ID: sub}
	u.Email, _ = claims["email"].(string)
	if md, ok := claims["user_metadata"].(map[string]any); ok {
		u.Metadata = md
	}
	return u, nil
}
