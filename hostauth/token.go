package hostauth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// TokenKind separates cookie-bound session tokens from bearer tokens.
type TokenKind string

const (
	KindSession TokenKind = "session"
	KindBearer  TokenKind = "bearer"
)

const minSecretLen = 32

// TokenConfig configures a TokenManager. Secret must be at least 32 bytes.
type TokenConfig struct {
	Secret   []byte
	Issuer   string
	Audience string
	TTL      time.Duration
	Leeway   time.Duration
	KeyID    string
	// Now replaces time.Now for issuance and validation.
	Now func() time.Time
}

// IdentityClaims is the payload of an identity token.
type IdentityClaims struct {
	Realm             string    `json:"realm"`
	PreferredUsername string    `json:"preferred_username"`
	Kind              TokenKind `json:"typ"`
	jwt.RegisteredClaims
}

// TokenManager issues and verifies HS256 identity tokens.
type TokenManager struct {
	config TokenConfig
}

// NewTokenManager validates cfg and returns a manager.
func NewTokenManager(cfg TokenConfig) (*TokenManager, error) {
	if len(cfg.Secret) < minSecretLen {
		return nil, fmt.Errorf("%w: secret must be at least %d bytes", ErrInvalidConfig, minSecretLen)
	}
	if cfg.TTL <= 0 {
		return nil, fmt.Errorf("%w: ttl must be positive", ErrInvalidConfig)
	}
	if cfg.Leeway < 0 || cfg.Leeway > 2*time.Minute {
		return nil, fmt.Errorf("%w: leeway must be within [0, 2m]", ErrInvalidConfig)
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	cfg.KeyID = strings.TrimSpace(cfg.KeyID)
	return &TokenManager{config: cfg}, nil
}

// Issue signs a token of kind for username in realm.
func (m *TokenManager) Issue(kind TokenKind, realm, username string) (string, error) {
	if strings.TrimSpace(realm) == "" || strings.TrimSpace(username) == "" {
		return "", ErrInvalidClaims
	}
	now := m.config.Now()
	claims := IdentityClaims{
		Realm:             realm,
		PreferredUsername: username,
		Kind:              kind,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   username,
			Issuer:    m.config.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.config.TTL)),
		},
	}
	if m.config.Audience != "" {
		claims.Audience = jwt.ClaimStrings{m.config.Audience}
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	if m.config.KeyID != "" {
		token.Header["kid"] = m.config.KeyID
	}
	return token.SignedString(m.config.Secret)
}

// Parse verifies tokenStr and requires it to be of kind.
func (m *TokenManager) Parse(tokenStr string, kind TokenKind) (*IdentityClaims, error) {
	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(m.config.Now),
		jwt.WithExpirationRequired(),
	}
	if m.config.Leeway > 0 {
		options = append(options, jwt.WithLeeway(m.config.Leeway))
	}
	if m.config.Issuer != "" {
		options = append(options, jwt.WithIssuer(m.config.Issuer))
	}
	if m.config.Audience != "" {
		options = append(options, jwt.WithAudience(m.config.Audience))
	}

	parser := jwt.NewParser(options...)
	token, err := parser.ParseWithClaims(tokenStr, &IdentityClaims{}, func(t *jwt.Token) (interface{}, error) {
		if m.config.KeyID != "" {
			kid, _ := t.Header["kid"].(string)
			if kid != m.config.KeyID {
				return nil, errors.New("unknown kid")
			}
		}
		return m.config.Secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*IdentityClaims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Kind != kind {
		return nil, ErrTokenKind
	}
	if strings.TrimSpace(claims.Realm) == "" || strings.TrimSpace(claims.PreferredUsername) == "" {
		return nil, ErrInvalidClaims
	}
	return claims, nil
}
