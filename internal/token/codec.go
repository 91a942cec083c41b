package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/ovaphlow/pitchfork/service-user-management/internal/apperr"
	"github.com/ovaphlow/pitchfork/service-user-management/pkg/utilities"
)

// DefaultTTL is the lifetime of a token when Config.TTL is zero.
const DefaultTTL = 600 * time.Second

// Config carries the signing settings. The secret and algorithm are fixed for
// the life of the process.
type Config struct {
	Secret    string
	Algorithm string // HS256 | HS384 | HS512
	TTL       time.Duration
	// Node is the snowflake node used for token ids.
	Node int64
}

// Codec signs and verifies session tokens.
type Codec struct {
	key    []byte
	method jwt.SigningMethod
	ttl    time.Duration
	node   int64
	now    func() time.Time
}

func NewCodec(cfg Config) (*Codec, error) {
	if cfg.Secret == "" {
		return nil, errors.New("token secret is empty")
	}
	alg := cfg.Algorithm
	if alg == "" {
		alg = jwt.SigningMethodHS256.Alg()
	}
	m, ok := jwt.GetSigningMethod(alg).(*jwt.SigningMethodHMAC)
	if !ok {
		return nil, fmt.Errorf("unsupported signing algorithm %q", alg)
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	node := cfg.Node
	if node == 0 {
		node = 1
	}
	return &Codec{key: []byte(cfg.Secret), method: m, ttl: ttl, node: node, now: time.Now}, nil
}

// WithClock replaces the time source. Used by tests to pin the expiry boundary.
func (c *Codec) WithClock(now func() time.Time) *Codec {
	cp := *c
	cp.now = now
	return &cp
}

// TTL returns the configured token lifetime.
func (c *Codec) TTL() time.Duration { return c.ttl }

// Issue signs a token for the given identity that expires TTL from now.
func (c *Codec) Issue(userID, companyID int64, role string) (string, *Claims, error) {
	now := c.now()
	claims := &Claims{
		UserID:    userID,
		CompanyID: companyID,
		Role:      role,
		Expires:   epochSeconds(now.Add(c.ttl)),
		RegisteredClaims: jwt.RegisteredClaims{
			ID:       utilities.NewSnowflakeIDWithNode(c.node),
			IssuedAt: jwt.NewNumericDate(now),
		},
	}
	signed, err := jwt.NewWithClaims(c.method, claims).SignedString(c.key)
	if err != nil {
		return "", nil, fmt.Errorf("sign token: %w", err)
	}
	return signed, claims, nil
}

// Verify checks the signature and algorithm and then the expiry.
// A token that fails to decode returns apperr.ErrUnauthenticated; a well-formed
// token at or past its expiry returns apperr.ErrTokenExpired.
func (c *Codec) Verify(raw string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		return c.key, nil
	}, jwt.WithValidMethods([]string{c.method.Alg()}), jwt.WithTimeFunc(c.now))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperr.ErrUnauthenticated, err)
	}
	if claims.Expires <= 0 || claims.UserID == 0 {
		return nil, fmt.Errorf("%w: missing claims", apperr.ErrUnauthenticated)
	}
	if epochSeconds(c.now()) >= claims.Expires {
		return nil, apperr.ErrTokenExpired
	}
	return claims, nil
}
