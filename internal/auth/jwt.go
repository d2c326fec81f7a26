package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// ErrInvalidToken is returned by Parse for any token that fails signature,
// structure, or expiry checks. The underlying jwt error is wrapped alongside it.
var ErrInvalidToken = errors.New("invalid token")

// Default token lifetimes.
const (
	DefaultAccessTTL  = 30 * time.Minute
	DefaultRefreshTTL = 7 * 24 * time.Hour
)

// TokenConfig holds the fixed signing configuration for a TokenCodec.
type TokenConfig struct {
	Secret     string
	Algorithm  string // HS256, HS384 or HS512
	Issuer     string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

// TokenCodec issues and parses signed JWTs whose subject is a username.
// It holds no mutable state and is safe for concurrent use.
type TokenCodec struct {
	secret     []byte
	method     jwt.SigningMethod
	issuer     string
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

// CodecOption customizes a TokenCodec.
type CodecOption func(*TokenCodec)

// WithClock replaces the time source used for issuing and validating tokens.
func WithClock(now func() time.Time) CodecOption {
	return func(c *TokenCodec) {
		c.now = now
	}
}

// NewTokenCodec validates cfg and builds a codec. Only HMAC signing methods
// are accepted.
func NewTokenCodec(cfg TokenConfig, opts ...CodecOption) (*TokenCodec, error) {
	if cfg.Secret == "" {
		return nil, fmt.Errorf("token codec: secret must not be empty")
	}
	alg := cfg.Algorithm
	if alg == "" {
		alg = jwt.SigningMethodHS256.Alg()
	}
	method, ok := jwt.GetSigningMethod(alg).(*jwt.SigningMethodHMAC)
	if !ok {
		return nil, fmt.Errorf("token codec: unsupported signing algorithm %q", alg)
	}

	c := &TokenCodec{
		secret:     []byte(cfg.Secret),
		method:     method,
		issuer:     cfg.Issuer,
		accessTTL:  cfg.AccessTTL,
		refreshTTL: cfg.RefreshTTL,
		now:        time.Now,
	}
	if c.accessTTL <= 0 {
		c.accessTTL = DefaultAccessTTL
	}
	if c.refreshTTL <= 0 {
		c.refreshTTL = DefaultRefreshTTL
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// AccessTTL returns the configured access token lifetime.
func (c *TokenCodec) AccessTTL() time.Duration { return c.accessTTL }

// RefreshTTL returns the configured refresh token lifetime.
func (c *TokenCodec) RefreshTTL() time.Duration { return c.refreshTTL }

// Issue signs a token for subject that expires ttl from now. A ttl of zero
// yields a token that is already expired.
func (c *TokenCodec) Issue(subject string, ttl time.Duration) (string, error) {
	now := c.now().UTC()
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		Issuer:    c.issuer,
		ID:        uuid.NewString(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}

	signed, err := jwt.NewWithClaims(c.method, claims).SignedString(c.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// IssueAccess signs a token with the access lifetime.
func (c *TokenCodec) IssueAccess(subject string) (string, error) {
	return c.Issue(subject, c.accessTTL)
}

// IssueRefresh signs a token with the refresh lifetime.
func (c *TokenCodec) IssueRefresh(subject string) (string, error) {
	return c.Issue(subject, c.refreshTTL)
}

// Parse verifies the signature and expiry of tokenString and returns its
// subject. Every failure wraps ErrInvalidToken.
func (c *TokenCodec) Parse(tokenString string) (string, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{c.method.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(c.now),
	}
	if c.issuer != "" {
		opts = append(opts, jwt.WithIssuer(c.issuer))
	}

	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(*jwt.Token) (any, error) {
		return c.secret, nil
	}, opts...)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if !token.Valid {
		return "", ErrInvalidToken
	}
	if claims.Subject == "" {
		return "", fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}

	return claims.Subject, nil
}
