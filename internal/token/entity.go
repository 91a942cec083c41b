package token

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims is the signed payload of a session token. Expires is an absolute
// timestamp in float seconds since the epoch.
type Claims struct {
	UserID    int64   `json:"user_id"`
	CompanyID int64   `json:"company_id"`
	Role      string  `json:"role"`
	Expires   float64 `json:"expires"`
	jwt.RegisteredClaims
}

// ExpiryTime returns Expires as a time.Time.
func (c *Claims) ExpiryTime() time.Time {
	sec := int64(c.Expires)
	nsec := int64((c.Expires - float64(sec)) * 1e9)
	return time.Unix(sec, nsec)
}

func epochSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}
