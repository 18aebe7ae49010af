package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/ayo6706/wallet-settlement/internal/api/problem"
	"github.com/ayo6706/wallet-settlement/internal/domain"
	"github.com/golang-jwt/jwt/v5"
)

type contextKey string

const (
	RoleUser  = "user"
	RoleAdmin = domain.RoleAdmin
)

const (
	userContextKey  contextKey = "user_id"
	roleContextKey  contextKey = "user_role"
	traceContextKey contextKey = "trace_id"
)

// Tokens are minted by the identity service; this process only verifies them.
var (
	jwtSecret   []byte
	jwtIssuer   string
	jwtAudience string
)

func SetJWTSecret(secret string) {
	if secret == "" {
		return
	}
	jwtSecret = []byte(secret)
}

func SetJWTValidation(issuer, audience string) {
	jwtIssuer = strings.TrimSpace(issuer)
	jwtAudience = strings.TrimSpace(audience)
}

// JWTSecret returns a copy of the verification key.
func JWTSecret() []byte {
	return append([]byte(nil), jwtSecret...)
}

type authClaims struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

var (
	errMissingHeader = errors.New("missing authorization header")
	errNotBearer     = errors.New("not a bearer token")
	errBadToken      = errors.New("invalid token")
	errBadClaims     = errors.New("invalid token claims")
	errUnknownRole   = errors.New("unknown role")
)

var authProblems = map[error]struct{ slug, detail string }{
	errMissingHeader: {"auth/authorization-header-required", "Authorization header required"},
	errNotBearer:     {"auth/invalid-token-format", "Invalid token format"},
	errBadToken:      {"auth/invalid-token", "Invalid token"},
	errBadClaims:     {"auth/invalid-token-claims", "Invalid token claims"},
	errUnknownRole:   {"auth/invalid-token-claims", "Unknown role"},
}

// AuthMiddleware verifies the HS256 bearer token and puts the caller's id and
// role on the context. Tokens without a role act as ordinary users.
func AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(jwtSecret) == 0 {
			problem.Write(w, r, http.StatusInternalServerError, problem.Type("auth/misconfigured"), "", "auth is not configured")
			return
		}
		claims, err := authenticate(r.Header.Get("Authorization"))
		if err != nil {
			p := authProblems[err]
			problem.Write(w, r, http.StatusUnauthorized, problem.Type(p.slug), "", p.detail)
			return
		}
		ctx := context.WithValue(r.Context(), userContextKey, claims.UserID)
		ctx = context.WithValue(ctx, roleContextKey, claims.Role)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func authenticate(header string) (*authClaims, error) {
	if header == "" {
		return nil, errMissingHeader
	}
	raw, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || raw == "" {
		return nil, errNotBearer
	}

	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if jwtIssuer != "" {
		opts = append(opts, jwt.WithIssuer(jwtIssuer))
	}
	if jwtAudience != "" {
		opts = append(opts, jwt.WithAudience(jwtAudience))
	}
	claims := &authClaims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return jwtSecret, nil
	}, opts...)
	if err != nil || !token.Valid {
		return nil, errBadToken
	}

	if claims.UserID == "" || (claims.Subject != "" && claims.Subject != claims.UserID) {
		return nil, errBadClaims
	}
	switch claims.Role {
	case "":
		claims.Role = RoleUser
	case RoleUser, RoleAdmin:
	default:
		return nil, errUnknownRole
	}
	return claims, nil
}

// RequireRole rejects callers whose role is not required with 403.
func RequireRole(required string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if UserRoleFromContext(r.Context()) != required {
				problem.Write(w, r, http.StatusForbidden, problem.Type("auth/insufficient-permissions"), "", "insufficient permissions")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func RequireAdmin(next http.Handler) http.Handler {
	return RequireRole(RoleAdmin)(next)
}

func UserIDFromContext(ctx context.Context) string {
	return stringFromContext(ctx, userContextKey)
}

func UserRoleFromContext(ctx context.Context) string {
	return stringFromContext(ctx, roleContextKey)
}

func TraceIDFromContext(ctx context.Context) string {
	return stringFromContext(ctx, traceContextKey)
}

func stringFromContext(ctx context.Context, key contextKey) string {
	if ctx == nil {
		return ""
	}
	v, _ := ctx.Value(key).(string)
	return v
}
