package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	"github.com/front-sio/pos-api/internal/auth"
	"github.com/front-sio/pos-api/internal/ledger"
	"github.com/front-sio/pos-api/internal/saga"
	"github.com/front-sio/pos-api/internal/service"
	"github.com/front-sio/pos-api/internal/store"
)

const maxBodyBytes = 1 << 20

// base carries what both routers share: CORS origin, logger and the bearer
// token verifier. A nil verifier disables authentication.
type base struct {
	allowedOrigin string
	tokens        *auth.TokenManager
	logger        logrus.FieldLogger
}

type attemptLimiter struct {
	mu      sync.Mutex
	max     int
	window  time.Duration
	entries map[string][]time.Time
}

func newAttemptLimiter(max int, window time.Duration) *attemptLimiter {
	if max < 1 {
		max = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &attemptLimiter{max: max, window: window, entries: make(map[string][]time.Time)}
}

func (l *attemptLimiter) Allow(key string) bool {
	if l == nil {
		return true
	}
	now := time.Now()
	cutoff := now.Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	history := l.entries[key]
	kept := make([]time.Time, 0, len(history)+1)
	for _, ts := range history {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	if len(kept) >= l.max {
		l.entries[key] = kept
		return false
	}
	l.entries[key] = append(kept, now)
	return true
}

func clientKey(r *http.Request) string {
	host := strings.TrimSpace(r.RemoteAddr)
	if host == "" {
		return "unknown"
	}
	if addr, err := netip.ParseAddrPort(host); err == nil {
		return addr.Addr().String()
	}
	if idx := strings.LastIndex(host, ":"); idx > 0 {
		return host[:idx]
	}
	return host
}

// requireAuth verifies the bearer token when auth is enabled and places the
// actor on the request context.
func (b *base) requireAuth(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if b.tokens == nil {
				next.ServeHTTP(w, r)
				return
			}
			authorization := strings.TrimSpace(r.Header.Get("Authorization"))
			if !strings.HasPrefix(strings.ToLower(authorization), "bearer ") {
				b.writeError(w, http.StatusUnauthorized, errors.New("missing bearer token"))
				return
			}

			actor, err := b.tokens.Parse(strings.TrimSpace(authorization[len("Bearer "):]))
			if err != nil {
				b.writeError(w, http.StatusUnauthorized, err)
				return
			}
			if len(roles) > 0 && !isRoleAllowed(actor.Role, roles) {
				b.writeError(w, http.StatusForbidden, errors.New("forbidden role"))
				return
			}

			next.ServeHTTP(w, r.WithContext(service.WithActor(r.Context(), actor)))
		})
	}
}

func isRoleAllowed(role string, allowed []string) bool {
	for _, allow := range allowed {
		if role == allow {
			return true
		}
	}
	return false
}

func (b *base) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Cross-Origin-Opener-Policy", "same-origin")
		w.Header().Set("Access-Control-Allow-Origin", b.allowedOrigin)
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Manager-PIN")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,DELETE,OPTIONS")
		w.Header().Set("Vary", "Origin")

		if r.Method == http.MethodPost || r.Method == http.MethodPut || r.Method == http.MethodPatch {
			r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		startedAt := time.Now()
		next.ServeHTTP(w, r)
		b.logger.WithFields(logrus.Fields{
			"method":   r.Method,
			"path":     r.URL.Path,
			"duration": time.Since(startedAt).String(),
		}).Debug("request served")
	})
}

func (b *base) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ok": true,
		"at": time.Now().UTC().Format(time.RFC3339),
	})
}

func (b *base) handleNotFound(w http.ResponseWriter, _ *http.Request) {
	b.writeError(w, http.StatusNotFound, errors.New("route not found"))
}

func (b *base) handleMethodNotAllowed(w http.ResponseWriter, _ *http.Request) {
	b.writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
}

// statusFor is the single mapping from domain errors to response codes.
func statusFor(err error) int {
	var validationErr *service.ValidationError
	var batchErr *ledger.BatchError
	var conflictErr *store.StockConflictError
	switch {
	case errors.As(err, &validationErr), errors.As(err, &batchErr):
		return http.StatusBadRequest
	case errors.As(err, &conflictErr), errors.Is(err, store.ErrInsufficientStock):
		return http.StatusConflict
	case errors.Is(err, store.ErrNotFound), errors.Is(err, saga.ErrRecordNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrUpstreamUnavailable):
		return http.StatusBadGateway
	case errors.Is(err, store.ErrInvalidTransaction):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// respondError writes the error body for err, adding details for the kinds
// clients act on.
func (b *base) respondError(w http.ResponseWriter, err error) {
	var validationErr *service.ValidationError
	var batchErr *ledger.BatchError
	var conflictErr *store.StockConflictError
	var missingErr *store.MissingProductsError

	switch {
	case errors.As(err, &conflictErr):
		writeJSON(w, http.StatusConflict, map[string]any{
			"error":   "Insufficient stock",
			"details": conflictErr.Conflict,
		})
	case errors.As(err, &missingErr):
		writeJSON(w, http.StatusNotFound, map[string]any{
			"error":   "Some products were not found",
			"details": map[string]any{"missing": missingErr.ProductIDs},
		})
	case errors.As(err, &validationErr):
		body := map[string]any{"error": validationErr.Message}
		if validationErr.Index >= 0 {
			body["details"] = map[string]any{"index": validationErr.Index, "field": validationErr.Field}
		}
		writeJSON(w, http.StatusBadRequest, body)
	case errors.As(err, &batchErr):
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error":   "Invalid stock batch",
			"details": batchErr.Fields,
		})
	default:
		b.writeError(w, statusFor(err), err)
	}
}

func (b *base) writeError(w http.ResponseWriter, status int, err error) {
	msg := err.Error()
	switch {
	case status == http.StatusBadGateway:
		b.logger.WithError(err).Warn("upstream failure")
		msg = "upstream service unavailable"
	case status >= 500:
		b.logger.WithError(err).WithField("status", status).Error("internal error")
		msg = "internal server error"
	}
	writeJSON(w, status, map[string]any{
		"error": msg,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func decodeJSON(r *http.Request, dest any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(dest)
}

// decodeClientJSON is for sale and return bodies, which POS clients pad with
// fields of their own.
func decodeClientJSON(r *http.Request, dest any) error {
	return json.NewDecoder(r.Body).Decode(dest)
}

func parsePositiveLimit(raw string, fallback int, max int) int {
	limit := fallback
	trimmed := strings.TrimSpace(raw)
	if trimmed != "" {
		if parsed, err := strconv.Atoi(trimmed); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if max > 0 && limit > max {
		return max
	}
	return limit
}

// paramError is a malformed path or query parameter.
type paramError struct {
	name    string
	message string
}

func (e *paramError) Error() string {
	return e.message
}

func (e *paramError) Unwrap() error {
	return store.ErrInvalidTransaction
}

func invalidParam(name string) error {
	return &paramError{name: name, message: "Invalid " + name}
}

func pathID(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id < 1 {
		return 0, invalidParam(name)
	}
	return id, nil
}
