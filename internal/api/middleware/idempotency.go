package middleware

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"trucash/internal/pkg/identity"

	"github.com/redis/go-redis/v9"
)

const (
	IdempotencyKeyHeader = "Idempotency-Key"
	idempotencyReplayed  = "Idempotent-Replayed"

	// provisionalLockTTL bounds how long an unfinished request holds its key.
	provisionalLockTTL = 60 * time.Second
	maxIdempotencyKey  = 128
	redisOpTimeout     = 2 * time.Second
	keyPrefix          = "trucash:idem:"
)

type idempEntry struct {
	InProgress bool      `json:"in_progress"`
	Code       int       `json:"code"`
	Body       []byte    `json:"body"`
	BodySHA256 string    `json:"body_sha256"`
	CreatedAt  time.Time `json:"created_at"`
}

type respRecorder struct {
	http.ResponseWriter
	buf  bytes.Buffer
	code int
}

func (r *respRecorder) Write(b []byte) (int, error) {
	r.buf.Write(b)
	return r.ResponseWriter.Write(b)
}

func (r *respRecorder) WriteHeader(statusCode int) {
	r.code = statusCode
	r.ResponseWriter.WriteHeader(statusCode)
}

// Idempotency makes POST handlers safe to retry. A request carrying an
// Idempotency-Key is executed once per actor and route; retries with the same
// body receive the stored response, retries with a different body get 409.
// Requests without the header pass straight through. Only successful
// responses are stored so a failed attempt can be retried.
type Idempotency struct {
	rdb    *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

func NewIdempotency(rdb *redis.Client, ttl time.Duration, logger *slog.Logger) *Idempotency {
	return &Idempotency{
		rdb:    rdb,
		ttl:    ttl,
		logger: logger.With("component", "Idempotency"),
	}
}

func (m *Idempotency) Middleware(next http.Handler) http.Handler {
	if m == nil || m.rdb == nil {
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			next.ServeHTTP(w, r)
			return
		}
		reqKey := strings.TrimSpace(r.Header.Get(IdempotencyKeyHeader))
		if reqKey == "" {
			next.ServeHTTP(w, r)
			return
		}
		if len(reqKey) > maxIdempotencyKey {
			writeError(w, http.StatusBadRequest, "Idempotency-Key is too long")
			return
		}

		var body []byte
		if r.Body != nil {
			var err error
			if body, err = io.ReadAll(r.Body); err != nil {
				writeError(w, http.StatusBadRequest, "unable to read request body")
				return
			}
		}
		r.Body = io.NopCloser(bytes.NewReader(body))
		bhash := bodyHash(body)

		userID := "anonymous"
		if actor, ok := identity.FromContext(r.Context()); ok {
			userID = actor.UserID
		}
		key := buildKey(r.Method, r.URL.Path, userID, reqKey)

		ctx, cancel := context.WithTimeout(r.Context(), redisOpTimeout)
		defer cancel()

		ok, err := m.provisionalSet(ctx, key, idempEntry{InProgress: true, BodySHA256: bhash, CreatedAt: time.Now().UTC()})
		if err != nil {
			m.logger.ErrorContext(r.Context(), "Idempotency store unavailable", "error", err)
			writeError(w, http.StatusServiceUnavailable, "idempotency store unavailable")
			return
		}
		if !ok {
			m.replayOrReject(ctx, w, key, bhash)
			return
		}

		rec := &respRecorder{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(rec, r)

		// The request context may already be cancelled once the handler returns.
		saveCtx, saveCancel := context.WithTimeout(context.WithoutCancel(r.Context()), redisOpTimeout)
		defer saveCancel()

		if rec.code < http.StatusOK || rec.code >= http.StatusBadRequest {
			if err := m.rdb.Del(saveCtx, key).Err(); err != nil {
				m.logger.WarnContext(r.Context(), "Failed to release idempotency key", "key", key, "error", err)
			}
			return
		}

		final := idempEntry{Code: rec.code, Body: rec.buf.Bytes(), BodySHA256: bhash, CreatedAt: time.Now().UTC()}
		if err := m.saveFinal(saveCtx, key, final); err != nil {
			m.logger.WarnContext(r.Context(), "Failed to store idempotent response", "key", key, "error", err)
		}
	})
}

func (m *Idempotency) replayOrReject(ctx context.Context, w http.ResponseWriter, key, bhash string) {
	cur, err := m.loadEntry(ctx, key)
	if err != nil {
		m.logger.WarnContext(ctx, "Failed to load idempotency entry", "key", key, "error", err)
		writeError(w, http.StatusConflict, "request is already in progress")
		return
	}

	if cur.BodySHA256 != "" && cur.BodySHA256 != bhash {
		writeError(w, http.StatusConflict, "Idempotency-Key reused with a different body")
		return
	}
	if !cur.InProgress && cur.Code != 0 {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set(idempotencyReplayed, "true")
		w.WriteHeader(cur.Code)
		w.Write(cur.Body)
		return
	}
	writeError(w, http.StatusConflict, "request is already in progress")
}

func (m *Idempotency) provisionalSet(ctx context.Context, key string, e idempEntry) (bool, error) {
	b, err := json.Marshal(e)
	if err != nil {
		return false, err
	}
	return m.rdb.SetNX(ctx, key, b, provisionalLockTTL).Result()
}

func (m *Idempotency) saveFinal(ctx context.Context, key string, e idempEntry) error {
	b, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return m.rdb.Set(ctx, key, b, m.ttl).Err()
}

func (m *Idempotency) loadEntry(ctx context.Context, key string) (idempEntry, error) {
	var e idempEntry
	raw, err := m.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return e, errors.New("idempotency entry expired")
	}
	if err != nil {
		return e, err
	}
	err = json.Unmarshal(raw, &e)
	return e, err
}

func bodyHash(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func buildKey(method, path, userID, reqKey string) string {
	return keyPrefix + method + ":" + path + ":" + userID + ":" + reqKey
}
