package middleware

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/parlakisik/agent-exchange/aex-negotiation/internal/model"
)

const CallerKey contextKey = "caller"

// Claims is the identity token issued by the identity collaborator: the
// subject is the caller id and role is the marketplace role.
type Claims struct {
	Role model.Role `json:"role"`
	jwt.RegisteredClaims
}

// Authenticator resolves the caller of each request from an HS256 bearer
// token. With headers allowed (development only) X-Caller-ID and
// X-Caller-Role are accepted instead.
type Authenticator struct {
	secret       []byte
	allowHeaders bool
}

func NewAuthenticator(secret string, allowHeaders bool) *Authenticator {
	return &Authenticator{secret: []byte(secret), allowHeaders: allowHeaders}
}

func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
			caller, err := a.parse(strings.TrimPrefix(auth, "Bearer "))
			if err != nil {
				RespondError(w, r, http.StatusUnauthorized, "invalid_token", "Invalid bearer token")
				return
			}
			next.ServeHTTP(w, r.WithContext(WithCaller(r.Context(), caller)))
			return
		}

		if a.allowHeaders {
			if id := r.Header.Get("X-Caller-ID"); id != "" {
				caller := model.Caller{ID: id, Role: model.Role(r.Header.Get("X-Caller-Role"))}
				if !caller.Role.Valid() {
					RespondError(w, r, http.StatusUnauthorized, "invalid_role", "X-Caller-Role must be client or service_provider")
					return
				}
				next.ServeHTTP(w, r.WithContext(WithCaller(r.Context(), caller)))
				return
			}
		}

		RespondError(w, r, http.StatusUnauthorized, "authentication_required", "Authentication required")
	})
}

func (a *Authenticator) parse(raw string) (model.Caller, error) {
	if len(a.secret) == 0 {
		return model.Caller{}, errors.New("token authentication is not configured")
	}
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return model.Caller{}, err
	}
	caller := model.Caller{ID: claims.Subject, Role: claims.Role}
	if caller.ID == "" || !caller.Role.Valid() {
		return model.Caller{}, errors.New("token lacks subject or role")
	}
	return caller, nil
}

// IssueToken signs an identity token for caller. It stands in for the
// identity collaborator in development and tests.
func IssueToken(secret string, caller model.Caller, ttl time.Duration) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Role: caller.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   caller.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	})
	return token.SignedString([]byte(secret))
}

// RequireAPIKey guards internal endpoints called by collaborators. An empty
// key disables the check.
func RequireAPIKey(key string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if key != "" {
				got := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
				if subtle.ConstantTimeCompare([]byte(got), []byte(key)) != 1 {
					RespondError(w, r, http.StatusUnauthorized, "invalid_api_key", "Invalid API key")
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

func WithCaller(ctx context.Context, caller model.Caller) context.Context {
	return context.WithValue(ctx, CallerKey, caller)
}

func CallerFrom(ctx context.Context) (model.Caller, bool) {
	caller, ok := ctx.Value(CallerKey).(model.Caller)
	return caller, ok
}

// RespondError writes the gateway's JSON error shape.
func RespondError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"code":       code,
			"message":    message,
			"request_id": GetRequestID(r.Context()),
		},
	})
}
