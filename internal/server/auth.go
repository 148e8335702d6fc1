package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Roles carried in the bearer token.
const (
	RoleCollaborator = "collaborator"
	RoleInvestor     = "investor"
	RoleAdmin        = "admin"
)

// Claims are the JWT claims expected by the API.
type Claims struct {
	jwt.RegisteredClaims
	Roles      []string `json:"roles"`
	InvestorID string   `json:"investor_id,omitempty"`
}

// Principal is the authenticated caller.
type Principal struct {
	Subject    string
	Roles      []string
	InvestorID string
}

// HasAnyRole reports whether the principal holds one of roles.
func (p Principal) HasAnyRole(roles ...string) bool {
	for _, r := range roles {
		if slices.Contains(p.Roles, r) {
			return true
		}
	}
	return false
}

type principalKey struct{}

// WithPrincipal stores p in ctx.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFromContext returns the principal set by the auth middleware.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

// Authenticator verifies and issues HS256 bearer tokens.
type Authenticator struct {
	secret []byte
	issuer string
	now    func() time.Time
}

// NewAuthenticator requires a non-empty secret. An empty issuer skips the
// iss check.
func NewAuthenticator(secret []byte, issuer string) (*Authenticator, error) {
	if len(secret) == 0 {
		return nil, errors.New("jwt secret is required")
	}
	return &Authenticator{secret: secret, issuer: issuer, now: time.Now}, nil
}

// Verify parses and validates a token string.
func (a *Authenticator) Verify(tokenStr string) (Principal, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(a.now),
	}
	if a.issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.issuer))
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(*jwt.Token) (any, error) {
		return a.secret, nil
	}, opts...)
	if err != nil {
		return Principal{}, fmt.Errorf("token validation failed: %w", err)
	}
	if !token.Valid {
		return Principal{}, errors.New("invalid token")
	}
	if claims.Subject == "" {
		return Principal{}, errors.New("token subject is required")
	}
	return Principal{Subject: claims.Subject, Roles: claims.Roles, InvestorID: claims.InvestorID}, nil
}

// Sign issues a token for p valid for ttl.
func (a *Authenticator) Sign(p Principal, ttl time.Duration) (string, error) {
	now := a.now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.Subject,
			Issuer:    a.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Roles:      p.Roles,
		InvestorID: p.InvestorID,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

// authenticate rejects requests without a valid bearer token.
// A server without an authenticator fails closed.
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			writeUnauthorized(w, r, "Missing Authorization header")
			return
		}
		scheme, tokenStr, ok := strings.Cut(authHeader, " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") || tokenStr == "" {
			writeUnauthorized(w, r, "Invalid Authorization header format (expected 'Bearer <token>')")
			return
		}
		if s.auth == nil {
			writeUnauthorized(w, r, "Authentication not configured")
			return
		}
		p, err := s.auth.Verify(tokenStr)
		if err != nil {
			s.logger.DebugContext(r.Context(), "token rejected", "error", err)
			writeUnauthorized(w, r, "Invalid or expired token")
			return
		}
		next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
	})
}

func (s *Server) withRoles(h http.HandlerFunc, roles ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, ok := PrincipalFromContext(r.Context())
		if !ok {
			writeUnauthorized(w, r, "")
			return
		}
		if !p.HasAnyRole(roles...) {
			writeForbidden(w, r, "")
			return
		}
		h(w, r)
	}
}
