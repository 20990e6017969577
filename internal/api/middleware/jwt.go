package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

type clientContextKey string

const (
	clientIDKey   clientContextKey = "client_id"
	clientSlotKey clientContextKey = "client_slot"
)

// tokenIssuer is the issuer of tokens minted by GenerateClientToken.
const tokenIssuer = "voipbridge"

// ClientClaims holds the JWT claims for a bridge client.
type ClientClaims struct {
	Client string `json:"client"`
	jwt.RegisteredClaims
}

// GenerateClientToken creates a signed HS256 token for the named bridge client.
func GenerateClientToken(secret []byte, client string, ttl time.Duration) (string, time.Time, error) {
	now := time.Now()
	expiresAt := now.Add(ttl)

	claims := ClientClaims{
		Client: client,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			Issuer:    tokenIssuer,
			Subject:   client,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

// RequireClientAuth returns middleware that validates HS256 bearer tokens.
// Event streams opened from an EventSource cannot set headers, so the token
// is also accepted in the access_token query parameter. On success the client
// name is stored in the request context.
func RequireClientAuth(secret []byte) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenString, ok := bearerToken(r)
			if !ok {
				writeError(w, http.StatusUnauthorized, "authentication required")
				return
			}

			claims := &ClientClaims{}
			token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
				if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, jwt.ErrSignatureInvalid
				}
				return secret, nil
			})
			if err != nil || !token.Valid {
				slog.Debug("client auth: invalid jwt", "error", err)
				writeError(w, http.StatusUnauthorized, "invalid or expired token")
				return
			}

			if claims.Client == "" {
				writeError(w, http.StatusUnauthorized, "invalid token claims")
				return
			}

			if slot, ok := r.Context().Value(clientSlotKey).(*string); ok {
				*slot = claims.Client
			}
			ctx := context.WithValue(r.Context(), clientIDKey, claims.Client)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(r *http.Request) (string, bool) {
	if h := r.Header.Get("Authorization"); h != "" {
		parts := strings.SplitN(h, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") || parts[1] == "" {
			return "", false
		}
		return parts[1], true
	}
	if q := r.URL.Query().Get("access_token"); q != "" {
		return q, true
	}
	return "", false
}

// ClientFromContext returns the authenticated client name, or "" when the
// request was not authenticated.
func ClientFromContext(ctx context.Context) string {
	id, _ := ctx.Value(clientIDKey).(string)
	return id
}

// withClientSlot lets the request logger learn the client authenticated
// further down the chain.
func withClientSlot(ctx context.Context, slot *string) context.Context {
	return context.WithValue(ctx, clientSlotKey, slot)
}
