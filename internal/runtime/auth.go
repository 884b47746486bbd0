package runtime

import (
	"context"
	"errors"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"github.com/mohammad-safakhou/research-assistant/config"
)

// API scopes.
const (
	ScopeAsk    = "research:ask"
	ScopeIngest = "knowledge:write"
	ScopeRead   = "runs:read"
)

const tokenCookie = "research_token"

// ErrAuthDisabled is returned when no JWT secret is configured; the API then
// runs without authentication.
var ErrAuthDisabled = errors.New("jwt secret not configured (server.jwt_secret)")

// LoadJWTSecret resolves the shared secret from server.jwt_secret, which
// viper also fills from RESEARCH_SERVER_JWT_SECRET.
func LoadJWTSecret(cfg config.ServerConfig) ([]byte, error) {
	secret := strings.TrimSpace(cfg.JWTSecret)
	if secret == "" {
		return nil, ErrAuthDisabled
	}
	if len(secret) < 16 {
		return nil, errors.New("server.jwt_secret must be at least 16 characters")
	}
	return []byte(secret), nil
}

// Claims are the token claims the API understands. Scopes may come as a list
// or as an OAuth style space separated "scope" string.
type Claims struct {
	Scopes []string `json:"scopes,omitempty"`
	Scope  string   `json:"scope,omitempty"`
	jwt.RegisteredClaims
}

// Granted returns the union of both scope claims, trimmed and deduplicated.
func (c *Claims) Granted() []string {
	var out []string
	for _, s := range append(slices.Clone(c.Scopes), strings.Fields(c.Scope)...) {
		s = strings.TrimSpace(s)
		if s != "" && !slices.Contains(out, s) {
			out = append(out, s)
		}
	}
	return out
}

// Principal is the authenticated caller of a request.
type Principal struct {
	Subject string
	Scopes  []string
}

// Has reports whether p was granted scope.
func (p Principal) Has(scope string) bool { return slices.Contains(p.Scopes, scope) }

// SignJWT issues an HS256 token for subject that expires after ttl.
func SignJWT(subject string, secret []byte, ttl time.Duration, scopes ...string) (string, error) {
	now := time.Now()
	claims := Claims{
		Scopes: scopes,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

// ParseJWT verifies raw against secret and returns the caller it names.
func ParseJWT(raw string, secret []byte) (Principal, error) {
	var claims Claims
	_, err := jwt.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) { return secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return Principal{}, err
	}
	if claims.Subject == "" {
		return Principal{}, errors.New("token has no subject")
	}
	return Principal{Subject: claims.Subject, Scopes: claims.Granted()}, nil
}

type principalKey struct{}

// WithPrincipal stores p on ctx the way the middleware does.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFromContext returns the caller stored by EchoAuthMiddleware.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

// EchoAuthMiddleware rejects requests without a valid bearer token (or
// research_token cookie) and stores the caller on the request context.
func EchoAuthMiddleware(secret []byte) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			raw := bearerToken(c)
			if raw == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "missing token")
			}
			p, err := ParseJWT(raw, secret)
			if err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
			}
			c.SetRequest(c.Request().WithContext(WithPrincipal(c.Request().Context(), p)))
			return next(c)
		}
	}
}

func bearerToken(c echo.Context) string {
	if h := c.Request().Header.Get(echo.HeaderAuthorization); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimSpace(h[len("Bearer "):])
	}
	if ck, err := c.Cookie(tokenCookie); err == nil {
		return ck.Value
	}
	return ""
}

// RequireScopes answers 403 unless the caller holds every scope in required.
// It must run after EchoAuthMiddleware.
func RequireScopes(required ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			p, ok := PrincipalFromContext(c.Request().Context())
			if !ok {
				return echo.NewHTTPError(http.StatusUnauthorized, "unauthorized")
			}
			for _, scope := range required {
				if scope = strings.TrimSpace(scope); scope != "" && !p.Has(scope) {
					return echo.NewHTTPError(http.StatusForbidden, "missing scope: "+scope)
				}
			}
			return next(c)
		}
	}
}
