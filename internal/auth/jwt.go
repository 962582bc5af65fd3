package auth

import (
	"errors"
	"time"

	"crm-telephony/internal/config"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// MediaTokenTTL bounds query-string tokens, which end up in logs and browser history.
const MediaTokenTTL = 5 * time.Minute

type Manager struct {
	secret    []byte
	issuer    string
	audience  string
	accessTTL time.Duration
}

func NewManager(cfg config.AuthConfig) (*Manager, error) {
	if cfg.JWTSecret == "" {
		return nil, errors.New("JWT_SECRET is required")
	}
	ttl := cfg.AccessTokenTTL
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &Manager{
		secret:    []byte(cfg.JWTSecret),
		issuer:    cfg.JWTIssuer,
		audience:  cfg.JWTAudience,
		accessTTL: ttl,
	}, nil
}

// Issue signs an HS256 access token. Used by the dev `token` command and tests;
// production tokens come from the CRM's identity service with the same secret.
func (m *Manager) Issue(now time.Time, id Identity) (string, error) {
	return m.sign(now, id, "", m.accessTTL)
}

// IssueMedia signs a media-scoped token that expires after MediaTokenTTL (or the
// access TTL, if shorter).
func (m *Manager) IssueMedia(now time.Time, id Identity) (string, time.Time, error) {
	ttl := min(MediaTokenTTL, m.accessTTL)
	tok, err := m.sign(now, id, ScopeMedia, ttl)
	return tok, now.Add(ttl), err
}

func (m *Manager) sign(now time.Time, id Identity, scope string, ttl time.Duration) (string, error) {
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.issuer,
			Audience:  audienceOrNil(m.audience),
			Subject:   id.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.NewString(),
		},
		UserID: id.UserID,
		OrgID:  id.OrgID,
		Role:   id.Role,
		Scope:  scope,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
}

func (m *Manager) Verify(tokenString string, now time.Time) (Claims, error) {
	var claims Claims

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(func() time.Time { return now }),
		jwt.WithLeeway(30 * time.Second),
		jwt.WithIssuedAt(),
		jwt.WithExpirationRequired(),
	}
	if m.issuer != "" {
		opts = append(opts, jwt.WithIssuer(m.issuer))
	}
	if m.audience != "" {
		opts = append(opts, jwt.WithAudience(m.audience))
	}

	_, err := jwt.NewParser(opts...).ParseWithClaims(tokenString, &claims, func(*jwt.Token) (any, error) {
		return m.secret, nil
	})
	if err != nil {
		return Claims{}, err
	}

	if claims.UserID == "" {
		return Claims{}, errors.New("user_id missing")
	}
	if claims.Role == "" {
		return Claims{}, errors.New("role missing")
	}
	return claims, nil
}

func audienceOrNil(aud string) jwt.ClaimStrings {
	if aud == "" {
		return nil
	}
	return jwt.ClaimStrings{aud}
}
