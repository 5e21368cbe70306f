package auth

import (
	"errors"
	"strings"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/front-sio/pos-api/internal/domain"
)

const (
	ServiceIssuer   = "sales-service"
	ServiceRole     = "service"
	serviceTokenTTL = time.Minute
)

// TokenManager signs and verifies HS256 bearer tokens.
type TokenManager struct {
	secret []byte
	issuer string
	ttl    time.Duration
}

type posCustomClaims struct {
	jwtlib.RegisteredClaims
	Role string `json:"role"`
}

// NewTokenManager returns nil when secret is empty so callers can treat auth as disabled.
// A non-empty issuer is both stamped on signed tokens and required on parsed ones.
func NewTokenManager(secret string, issuer string, ttl time.Duration) *TokenManager {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil
	}
	if ttl <= 0 {
		ttl = serviceTokenTTL
	}
	return &TokenManager{secret: []byte(secret), issuer: issuer, ttl: ttl}
}

// NewServiceTokenManager is the manager shared by the sales service client and the stock server.
func NewServiceTokenManager(secret string) *TokenManager {
	return NewTokenManager(secret, ServiceIssuer, serviceTokenTTL)
}

func (m *TokenManager) Sign(subject string, role string) (string, error) {
	now := time.Now().UTC()
	claims := posCustomClaims{
		RegisteredClaims: jwtlib.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwtlib.NewNumericDate(now),
			ExpiresAt: jwtlib.NewNumericDate(now.Add(m.ttl)),
			Issuer:    m.issuer,
		},
		Role: role,
	}
	token := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims)
	return token.SignedString(m.secret)
}

func (m *TokenManager) Parse(tokenStr string) (domain.Actor, error) {
	opts := []jwtlib.ParserOption{jwtlib.WithValidMethods([]string{"HS256"})}
	if m.issuer != "" {
		opts = append(opts, jwtlib.WithIssuer(m.issuer))
	}

	claims := &posCustomClaims{}
	token, err := jwtlib.ParseWithClaims(tokenStr, claims, func(t *jwtlib.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwtlib.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return m.secret, nil
	}, opts...)
	if err != nil || !token.Valid {
		return domain.Actor{}, errors.New("invalid or expired token")
	}
	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return domain.Actor{}, errors.New("invalid token subject")
	}
	return domain.Actor{Subject: sub, Role: claims.Role}, nil
}

// PINGuard verifies the manager PIN required for returns. The PIN is kept
// only as a bcrypt hash; a value that already is a bcrypt hash is used as is.
type PINGuard struct {
	hash string
}

// NewPINGuard returns nil when pin is empty, meaning no PIN is required.
func NewPINGuard(pin string) (*PINGuard, error) {
	pin = strings.TrimSpace(pin)
	if pin == "" {
		return nil, nil
	}
	if isPasswordHash(pin) {
		return &PINGuard{hash: pin}, nil
	}
	hashed, err := hashPassword(pin)
	if err != nil {
		return nil, err
	}
	return &PINGuard{hash: hashed}, nil
}

func (g *PINGuard) Validate(pin string) bool {
	input := strings.TrimSpace(pin)
	if input == "" || !isPasswordHash(g.hash) {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(g.hash), []byte(input)) == nil
}

func hashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(bytes), nil
}

func isPasswordHash(value string) bool {
	return strings.HasPrefix(value, "$2a$") || strings.HasPrefix(value, "$2b$") || strings.HasPrefix(value, "$2y$")
}
