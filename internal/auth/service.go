package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"Evolve-Chain/pkg/logger"
)

const defaultAccessTTL = time.Hour

// Service verifies HS256 bearer tokens and resolves them to subjects.
type Service struct {
	mode     Mode
	secret   []byte
	issuer   string
	audience []string
	ttl      time.Duration
	now      func() time.Time
	audit    *slog.Logger
}

type tokenClaims struct {
	jwt.RegisteredClaims
	Username    string   `json:"username,omitempty"`
	Roles       []string `json:"roles,omitempty"`
	Permissions []string `json:"permissions,omitempty"`
}

// NewService validates the configuration and builds the service.
func NewService(cfg Config) (*Service, error) {
	mode := Mode(strings.ToLower(strings.TrimSpace(string(cfg.Mode))))
	if mode == "" {
		mode = ModeDisabled
	}
	svc := &Service{mode: mode, now: time.Now}
	switch mode {
	case ModeDisabled:
		return svc, nil
	case ModeJWT:
		if strings.TrimSpace(cfg.Secret) == "" {
			return nil, errors.New("jwt secret must be configured")
		}
		svc.secret = []byte(cfg.Secret)
		svc.issuer = cfg.Issuer
		svc.audience = append([]string(nil), cfg.Audience...)
		svc.ttl = cfg.AccessTTL
		if svc.ttl <= 0 {
			svc.ttl = defaultAccessTTL
		}
		return svc, nil
	default:
		return nil, fmt.Errorf("unsupported auth mode %q", cfg.Mode)
	}
}

func (s *Service) auditLog() *slog.Logger {
	if s.audit != nil {
		return s.audit
	}
	return logger.Audit()
}

// Mode reports the active authentication mode.
func (s *Service) Mode() Mode {
	if s == nil {
		return ModeDisabled
	}
	return s.mode
}

// Issue signs an access token for subject. It is used by the operator CLI to
// mint admin tokens.
func (s *Service) Issue(subject *Subject, ttl time.Duration) (string, error) {
	if s == nil || s.mode != ModeJWT {
		return "", errors.New("token issuance requires jwt mode")
	}
	if subject == nil || subject.ID == "" {
		return "", errors.New("subject id is required")
	}
	if ttl <= 0 {
		ttl = s.ttl
	}
	now := s.now()
	claims := tokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject.ID,
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Username:    subject.Username,
		Roles:       subject.Roles,
		Permissions: subject.Permissions,
	}
	if len(s.audience) > 0 {
		claims.Audience = jwt.ClaimStrings(s.audience)
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

// AuthenticateRequest parses the Authorization header and verifies the token.
func (s *Service) AuthenticateRequest(_ context.Context, authorization string) (*Subject, error) {
	if s == nil || s.mode == ModeDisabled {
		return nil, errors.New("authentication disabled")
	}
	token, ok := strings.CutPrefix(strings.TrimSpace(authorization), "Bearer ")
	token = strings.TrimSpace(token)
	if !ok || token == "" {
		return nil, ErrMissingToken
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	}
	if s.issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.issuer))
	}
	if len(s.audience) > 0 {
		opts = append(opts, jwt.WithAudience(s.audience[0]))
	}

	var claims tokenClaims
	if _, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return s.secret, nil
	}, opts...); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}

	subject := &Subject{
		ID:          claims.Subject,
		Username:    claims.Username,
		Roles:       claims.Roles,
		Permissions: claims.Permissions,
	}
	subject.normalise()
	return subject, nil
}
