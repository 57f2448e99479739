package httpapi

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"

	"golang.org/x/time/rate"

	"github.com/R3E-Network/progression_engine/internal/app/auth"
)

type ctxKey int

const (
	ctxUserKey ctxKey = iota
	ctxRoleKey
)

// withCaller stamps the authenticated identity into the request context.
func withCaller(ctx context.Context, user, role string) context.Context {
	ctx = context.WithValue(ctx, ctxUserKey, user)
	if role != "" {
		ctx = context.WithValue(ctx, ctxRoleKey, role)
	}
	return ctx
}

func callerUser(ctx context.Context) string {
	user, _ := ctx.Value(ctxUserKey).(string)
	return user
}

func callerRole(ctx context.Context) string {
	role, _ := ctx.Value(ctxRoleKey).(string)
	return role
}

// publicPaths are reachable without credentials.
var publicPaths = map[string]bool{
	"/healthz":    true,
	"/readyz":     true,
	"/metrics":    true,
	"/auth/login": true,
}

// wrapWithAuth accepts either a configured static bearer token or a JWT
// issued by the manager. Static tokens are operator credentials and carry the
// admin role. skipPaths extends the public path set.
func wrapWithAuth(next http.Handler, tokens []string, skipPaths []string, manager *auth.Manager) http.Handler {
	static := make(map[string]bool, len(tokens))
	for _, token := range tokens {
		if trimmed := strings.TrimSpace(token); trimmed != "" {
			static[trimmed] = true
		}
	}
	skip := make(map[string]bool, len(skipPaths))
	for _, path := range skipPaths {
		skip[path] = true
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if publicPaths[r.URL.Path] || skip[r.URL.Path] || r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}

		token := bearerToken(r)
		if token == "" {
			writeError(w, http.StatusUnauthorized, fmt.Errorf("missing bearer token"))
			return
		}

		if static[token] {
			identifyRequest(r, "service", "admin")
			next.ServeHTTP(w, r.WithContext(withCaller(r.Context(), "service", "admin")))
			return
		}

		if manager != nil {
			if claims, err := manager.ValidateToken(token); err == nil {
				identifyRequest(r, claims.Username, claims.Role)
				next.ServeHTTP(w, r.WithContext(withCaller(r.Context(), claims.Username, claims.Role)))
				return
			}
		}

		writeError(w, http.StatusUnauthorized, fmt.Errorf("invalid credentials"))
	})
}

// identifyRequest stamps the caller onto the request headers. The header map
// is shared with the wrappers outside auth, which lets the audit layer
// attribute mutations it recorded before authentication resolved.
func identifyRequest(r *http.Request, user, role string) {
	r.Header.Set("X-User-ID", user)
	if role != "" {
		r.Header.Set("X-User-Role", role)
	}
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || parts[0] != "Bearer" {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

// wrapWithCORS sets permissive CORS headers and answers preflight requests.
func wrapWithCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if origin := r.Header.Get("Origin"); origin != "" {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			w.Header().Set("Access-Control-Max-Age", "3600")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// callerLimiter keeps one token bucket per caller key.
type callerLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rate     rate.Limit
	burst    int
}

func newCallerLimiter(rps float64, burst int) *callerLimiter {
	return &callerLimiter{
		limiters: make(map[string]*rate.Limiter),
		rate:     rate.Limit(rps),
		burst:    burst,
	}
}

func (cl *callerLimiter) get(key string) *rate.Limiter {
	cl.mu.Lock()
	defer cl.mu.Unlock()

	limiter, ok := cl.limiters[key]
	if !ok {
		limiter = rate.NewLimiter(cl.rate, cl.burst)
		cl.limiters[key] = limiter
	}
	return limiter
}

// wrapWithRateLimit applies a per-caller token bucket. The chain runs before
// auth, so the key is the presented credential when one exists and the remote
// host otherwise. Non-positive rps disables limiting.
func wrapWithRateLimit(next http.Handler, rps float64, burst int) http.Handler {
	if rps <= 0 {
		return next
	}
	limiter := newCallerLimiter(rps, burst)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if publicPaths[r.URL.Path] {
			next.ServeHTTP(w, r)
			return
		}
		if !limiter.get(callerKey(r)).Allow() {
			writeError(w, http.StatusTooManyRequests, fmt.Errorf("rate limit exceeded"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func callerKey(r *http.Request) string {
	if token := bearerToken(r); token != "" {
		return token
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// statusWriter captures the response code for audit records.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// wrapWithAudit records every mutating request in the audit trail.
func wrapWithAudit(next http.Handler, audit *AuditLog) http.Handler {
	if audit == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		default:
			next.ServeHTTP(w, r)
			return
		}

		recorder := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)

		audit.record(r, recorder.status)
	})
}
