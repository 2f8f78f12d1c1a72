package middleware

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"trucash/internal/config"
	"trucash/internal/pkg/identity"

	"github.com/golang-jwt/jwt/v5"
)

const (
	headerUserID   = "X-User-ID"
	headerUserRole = "X-User-Role"
)

// localActor is used for requests without identity headers when auth is disabled.
var localActor = identity.Actor{UserID: "local", Role: identity.RoleSudo}

// Claims is the token payload issued by the identity provider.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// NewToken signs an HS256 token for actor that expires after ttl.
func NewToken(secret string, actor identity.Actor, ttl time.Duration, now time.Time) (string, error) {
	if secret == "" {
		return "", errors.New("jwt secret is not configured")
	}
	claims := Claims{
		Role: string(actor.Role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   actor.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// AuthMiddleware resolves the caller into an identity.Actor stored on the
// request context. With auth disabled the actor comes from the X-User-ID and
// X-User-Role headers, falling back to a local sudo actor.
func AuthMiddleware(cfg config.AuthConfig, logger *slog.Logger) func(http.Handler) http.Handler {
	logger = logger.With("component", "AuthMiddleware")

	if !cfg.Enabled {
		logger.Warn("Authentication disabled, trusting identity headers")
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				actor, err := actorFromHeaders(r)
				if err != nil {
					writeError(w, http.StatusUnauthorized, err.Error())
					return
				}
				noteActor(r.Context(), actor)
				next.ServeHTTP(w, r.WithContext(identity.WithActor(r.Context(), actor)))
			})
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor, err := actorFromToken(r, cfg.JWTSecret)
			if err != nil {
				logger.WarnContext(r.Context(), "Rejected request", "path", r.URL.Path, "error", err)
				writeError(w, http.StatusUnauthorized, "Unauthorized")
				return
			}
			noteActor(r.Context(), actor)
			next.ServeHTTP(w, r.WithContext(identity.WithActor(r.Context(), actor)))
		})
	}
}

// RequireRole rejects requests whose actor holds none of roles.
func RequireRole(roles ...identity.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor, ok := identity.FromContext(r.Context())
			if !ok {
				writeError(w, http.StatusUnauthorized, "Unauthorized")
				return
			}
			if !actor.HasRole(roles...) {
				writeError(w, http.StatusForbidden, fmt.Sprintf("role %s is not allowed", actor.Role))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func actorFromToken(r *http.Request, secret string) (identity.Actor, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return identity.Actor{}, errors.New("missing Authorization header")
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return identity.Actor{}, errors.New("invalid Authorization header format")
	}

	var claims Claims
	token, err := jwt.ParseWithClaims(strings.TrimSpace(parts[1]), &claims, func(*jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil || !token.Valid {
		return identity.Actor{}, fmt.Errorf("invalid token: %w", err)
	}

	if claims.Subject == "" {
		return identity.Actor{}, errors.New("token has no subject")
	}
	role, err := identity.ParseRole(claims.Role)
	if err != nil {
		return identity.Actor{}, err
	}
	return identity.Actor{UserID: claims.Subject, Role: role}, nil
}

func actorFromHeaders(r *http.Request) (identity.Actor, error) {
	userID := strings.TrimSpace(r.Header.Get(headerUserID))
	if userID == "" {
		return localActor, nil
	}
	role, err := identity.ParseRole(r.Header.Get(headerUserRole))
	if err != nil {
		return identity.Actor{}, err
	}
	return identity.Actor{UserID: userID, Role: role}, nil
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"error": map[string]string{
			"message": message,
		},
	})
}
