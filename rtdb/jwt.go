package rtdb

import (
	"time"

	gojwt "github.com/golang-jwt/jwt/v5"
)


// claims of the id token passed as the `auth` parameter
// the store verifies the token. The client only reads it.
type AuthClaims struct {
	Subject string
	UserId string
	IssuedAt time.Time
	ExpiresAt time.Time
}

func ParseAuthTokenUnverified(authToken string) (*AuthClaims, error) {
	parser := gojwt.NewParser()
	token, _, err := parser.ParseUnverified(authToken, gojwt.MapClaims{})
	if err != nil {
		return nil, err
	}

	claims := token.Claims.(gojwt.MapClaims)

	authClaims := &AuthClaims{}

	if subject, err := claims.GetSubject(); err == nil {
		authClaims.Subject = subject
	}
	if userId, ok := claims["user_id"]; ok {
		if userIdStr, ok := userId.(string); ok {
			authClaims.UserId = userIdStr
		}
	}
	if issuedAt, err := claims.GetIssuedAt(); err == nil && issuedAt != nil {
		authClaims.IssuedAt = issuedAt.Time
	}
	if expiresAt, err := claims.GetExpirationTime(); err == nil && expiresAt != nil {
		authClaims.ExpiresAt = expiresAt.Time
	}

	return authClaims, nil
}

// a token without an expiration never expires
func (self *AuthClaims) Expired(now time.Time) bool {
	if self.ExpiresAt.IsZero() {
		return false
	}
	return !now.Before(self.ExpiresAt)
}
