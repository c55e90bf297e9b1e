package middleware

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"

	"github.com/quoteflow-io/quoteflow-backend/api/responses"
	pkgerrors "github.com/quoteflow-io/quoteflow-backend/pkg/errors"
	"github.com/quoteflow-io/quoteflow-backend/pkg/logger"
	pkgredis "github.com/quoteflow-io/quoteflow-backend/pkg/redis"
)

const (
	defaultIdempotencyTTL  = 24 * time.Hour
	criticalIdempotencyTTL = 7 * 24 * time.Hour
)

// guardedRoutes maps the write endpoints that demand an Idempotency-Key to
// their replay window. Quote submission can be retried safely within a day
// (duplicate email deliveries arrive hours apart at most); a validation
// decision is final for the draft, so it keeps the longer window.
var guardedRoutes = map[string]time.Duration{
	http.MethodPost + " /api/v1/quotes":                      defaultIdempotencyTTL,
	http.MethodPost + " /api/v1/quotes/{quoteID}/validation": criticalIdempotencyTTL,
}

// storedReply is the replayable response kept in Redis, keyed by caller,
// route and Idempotency-Key. The request hash pins the key to one payload:
// reusing a key with a different body is a client bug, not a retry.
type storedReply struct {
	Status      int               `json:"status"`
	Body        string            `json:"body"`
	Headers     map[string]string `json:"headers,omitempty"`
	RequestHash string            `json:"request_hash"`
}

// Idempotency makes quote submission and validation decisions safe to retry.
// The first request through records the response; replays with the same key
// and body get that response back without re-running the handler.
func Idempotency(store pkgredis.IdempotencyStore, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ttl, guarded := routeTTL(r.Method, routePattern(r))
			if !guarded || store == nil {
				next.ServeHTTP(w, r)
				return
			}

			idempotencyKey := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
			if idempotencyKey == "" {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "Idempotency-Key header required"))
				return
			}

			body, err := io.ReadAll(r.Body)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read request"))
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			sum := sha256.Sum256(body)
			requestHash := base64.StdEncoding.EncodeToString(sum[:])
			scope := strings.Join([]string{UserIDFromContext(r.Context()), r.Method, r.URL.Path}, "|")
			key := store.IdempotencyKey(scope, idempotencyKey)

			replayed, err := replayStored(w, r, store, key, requestHash)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, err)
				return
			}
			if replayed {
				return
			}

			captured := &responseCapture{ResponseWriter: w}
			next.ServeHTTP(captured, r)
			recordReply(r.Context(), logg, store, key, ttl, requestHash, captured)
		})
	}
}

// replayStored serves the recorded response for key when one exists. It
// reports CodeIdempotency when the key was already used with another body.
func replayStored(w http.ResponseWriter, r *http.Request, store pkgredis.IdempotencyStore, key, requestHash string) (bool, error) {
	stored, err := store.Get(r.Context(), key)
	if err != nil && !errors.Is(err, redis.Nil) {
		return false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check idempotency")
	}
	if stored == "" {
		return false, nil
	}

	var reply storedReply
	if err := json.Unmarshal([]byte(stored), &reply); err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode idempotency record")
	}
	if reply.RequestHash != requestHash {
		return false, pkgerrors.New(pkgerrors.CodeIdempotency, "idempotency key reused with different request body")
	}

	if ct := reply.Headers["Content-Type"]; ct != "" {
		w.Header().Set("Content-Type", ct)
	}
	w.WriteHeader(reply.Status)
	if decoded, err := base64.StdEncoding.DecodeString(reply.Body); err == nil {
		_, _ = w.Write(decoded)
	}
	return true, nil
}

// recordReply persists the captured response. Failures here only cost a
// replay window, never the request, so they are logged and swallowed.
func recordReply(ctx context.Context, logg *logger.Logger, store pkgredis.IdempotencyStore, key string, ttl time.Duration, requestHash string, captured *responseCapture) {
	status := captured.status
	if status == 0 {
		status = http.StatusOK
	}
	reply := storedReply{
		Status:      status,
		Body:        base64.StdEncoding.EncodeToString(captured.body.Bytes()),
		RequestHash: requestHash,
	}
	if ct := captured.Header().Get("Content-Type"); ct != "" {
		reply.Headers = map[string]string{"Content-Type": ct}
	}

	payload, err := json.Marshal(reply)
	if err != nil {
		if logg != nil {
			logg.Error(ctx, "marshal idempotency record", err)
		}
		return
	}
	if _, err := store.SetNX(ctx, key, string(payload), ttl); err != nil && logg != nil {
		logg.Error(ctx, "persist idempotency record", err)
	}
}

func routePattern(r *http.Request) string {
	if r == nil {
		return ""
	}
	if ctx := chi.RouteContext(r.Context()); ctx != nil {
		if pattern := ctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return r.URL.Path
}

func routeTTL(method, pattern string) (time.Duration, bool) {
	if pattern == "" {
		return 0, false
	}
	if len(pattern) > 1 {
		pattern = strings.TrimSuffix(pattern, "/")
	}
	ttl, ok := guardedRoutes[method+" "+pattern]
	return ttl, ok
}

type responseCapture struct {
	http.ResponseWriter
	body   bytes.Buffer
	status int
}

func (r *responseCapture) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *responseCapture) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	r.body.Write(b)
	return r.ResponseWriter.Write(b)
}
