package middleware

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"
)

type actorCtxKey struct{}

const (
	headerAPIKey = "X-API-Key"
	headerActor  = "X-Actor"
	defaultActor = "api"
	maxActorLen  = 200
)

// publicPaths are exempt from authentication.
var publicPaths = map[string]bool{
	"/health":  true,
	"/metrics": true,
}

// APIKey returns middleware that requires key on every request except
// reads of public paths. The key is accepted from X-API-Key, an
// "Authorization: Bearer" header, or the token query parameter for /ws.
// An empty key disables the check.
//
// The acting approver is taken from X-Actor and stored in the context for
// decision records.
func APIKey(key string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := WithActor(r.Context(), actorOf(r))
			if key == "" || publicPaths[r.URL.Path] {
				next.ServeHTTP(w, r.WithContext(ctx))
				return
			}

			if !validKey(presented(r), key) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				_, _ = w.Write([]byte(`{"error":"invalid or missing API key"}`))
				return
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func presented(r *http.Request) string {
	if k := r.Header.Get(headerAPIKey); k != "" {
		return k
	}
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	if r.URL.Path == "/ws" {
		return r.URL.Query().Get("token")
	}
	return ""
}

func validKey(got, want string) bool {
	if got == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}

func actorOf(r *http.Request) string {
	a := strings.TrimSpace(r.Header.Get(headerActor))
	if a == "" || len(a) > maxActorLen {
		return defaultActor
	}
	return a
}

// WithActor stores the acting user in ctx.
func WithActor(ctx context.Context, actor string) context.Context {
	return context.WithValue(ctx, actorCtxKey{}, actor)
}

// ActorFromContext returns the acting user, or "api" when none was set.
func ActorFromContext(ctx context.Context) string {
	if a, ok := ctx.Value(actorCtxKey{}).(string); ok && a != "" {
		return a
	}
	return defaultActor
}
