// Package usertoken issues and verifies the bearer tokens that carry an
// authenticated principal (user id, email, role) between the api, the
// websocket handshake, and clients.
package usertoken

import (
	"errors"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"

	"docvault/pkg/domain"
)

const (
	defaultIssuer = "docvault-api"
	defaultTTL    = 24 * time.Hour
	defaultLeeway = 30 * time.Second
)

// Claims embeds the principal fields alongside the registered set.
type Claims struct {
	Email string `json:"email"`
	Role  string `json:"role"`
	jwt.RegisteredClaims
}

// Config configures token issuance and verification.
type Config struct {
	Secret string
	Issuer string
	TTL    time.Duration
	Leeway time.Duration
}

// Service signs and verifies HS256 tokens with a shared secret.
type Service struct {
	secret []byte
	issuer string
	ttl    time.Duration
	leeway time.Duration
}

// New creates a token service.
func New(cfg Config) (*Service, error) {
	secret := strings.TrimSpace(cfg.Secret)
	if secret == "" {
		return nil, errors.New("token service requires a secret")
	}
	issuer := strings.TrimSpace(cfg.Issuer)
	if issuer == "" {
		issuer = defaultIssuer
	}
	ttl := cfg.TTL
	if ttl == 0 {
		ttl = defaultTTL
	}
	leeway := cfg.Leeway
	if leeway <= 0 {
		leeway = defaultLeeway
	}
	return &Service{secret: []byte(secret), issuer: issuer, ttl: ttl, leeway: leeway}, nil
}

// Issue signs a token for the user.
func (s *Service) Issue(user domain.User) (string, error) {
	now := time.Now().UTC()
	claims := Claims{
		Email: user.Email,
		Role:  string(user.Role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

// Verify validates a token and returns the principal it carries.
func (s *Service) Verify(token string) (domain.Principal, error) {
	claims := Claims{}
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.issuer),
		jwt.WithIssuedAt(),
		jwt.WithLeeway(s.leeway),
	)
	if err != nil || !parsed.Valid {
		if err == nil {
			err = errors.New("invalid token")
		}
		return domain.Principal{}, err
	}
	subject := strings.TrimSpace(claims.Subject)
	if subject == "" {
		return domain.Principal{}, errors.New("token subject missing")
	}
	return domain.Principal{
		ID:    subject,
		Email: claims.Email,
		Role:  domain.UserRole(claims.Role),
	}, nil
}
