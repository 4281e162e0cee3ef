package middleware

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const (
	idempotencyHeader = "Idempotency-Key"
	replayHeader      = "Idempotent-Replay"
	pendingTTL        = 30 * time.Second
	maxKeyLength      = 128
)

type idempotencyRecord struct {
	Hash        string `json:"hash"`
	Pending     bool   `json:"pending,omitempty"`
	Status      int    `json:"status,omitempty"`
	ContentType string `json:"contentType,omitempty"`
	Body        []byte `json:"body,omitempty"`
}

type capturingWriter struct {
	gin.ResponseWriter
	body bytes.Buffer
}

func (w *capturingWriter) Write(b []byte) (int, error) {
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}

func (w *capturingWriter) WriteString(s string) (int, error) {
	w.body.WriteString(s)
	return w.ResponseWriter.WriteString(s)
}

// Idempotency replays the stored response when a mutation is retried with the
// same Idempotency-Key. Keys are scoped per user. Reusing a key for a
// different request is rejected. Requests without a key pass through.
func Idempotency(redisClient *redis.Client, ttl time.Duration, log logrus.FieldLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.GetHeader(idempotencyHeader)
		if key == "" {
			c.Next()
			return
		}
		if len(key) > maxKeyLength {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"error":     "Idempotency-Key is too long",
				"retryable": false,
			})
			return
		}

		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"error":     "Failed to read request body",
				"retryable": false,
			})
			return
		}
		c.Request.Body = io.NopCloser(bytes.NewReader(body))

		userID, _ := GetUserIDFromContext(c)
		storeKey := fmt.Sprintf("idempotency:%d:%s", userID, key)
		hash := requestHash(c.Request.Method, c.Request.URL.RequestURI(), body)
		ctx := c.Request.Context()

		if handled := replay(c, redisClient, storeKey, hash, log); handled {
			return
		}

		pending, _ := json.Marshal(idempotencyRecord{Hash: hash, Pending: true})
		claimed, err := redisClient.SetNX(ctx, storeKey, pending, pendingTTL).Result()
		if err != nil {
			log.WithError(err).Warn("Idempotency store unavailable")
			c.Next()
			return
		}
		if !claimed {
			// lost a race with a concurrent duplicate
			if handled := replay(c, redisClient, storeKey, hash, log); handled {
				return
			}
		}

		writer := &capturingWriter{ResponseWriter: c.Writer}
		c.Writer = writer
		c.Next()

		// the request context may already be past its deadline
		saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
		defer cancel()

		status := writer.Status()
		if status < 200 || status >= 300 {
			redisClient.Del(saveCtx, storeKey)
			return
		}

		done, _ := json.Marshal(idempotencyRecord{
			Hash:        hash,
			Status:      status,
			ContentType: writer.Header().Get("Content-Type"),
			Body:        writer.body.Bytes(),
		})
		if err := redisClient.Set(saveCtx, storeKey, done, ttl).Err(); err != nil {
			log.WithError(err).WithField("idempotency_key", key).Warn("Failed to store idempotent response")
		}
	}
}

// replay answers from a stored record. It reports false when no record exists.
func replay(c *gin.Context, redisClient *redis.Client, storeKey, hash string, log logrus.FieldLogger) bool {
	raw, err := redisClient.Get(c.Request.Context(), storeKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return false
	}
	if err != nil {
		log.WithError(err).Warn("Idempotency store unavailable")
		return false
	}

	var record idempotencyRecord
	if err := json.Unmarshal(raw, &record); err != nil {
		return false
	}

	switch {
	case record.Hash != hash:
		c.AbortWithStatusJSON(http.StatusUnprocessableEntity, gin.H{
			"error":     "Idempotency-Key was already used for a different request",
			"retryable": false,
		})
	case record.Pending:
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{
			"error":     "A request with this Idempotency-Key is in progress",
			"retryable": true,
		})
	default:
		c.Header(replayHeader, "true")
		c.Data(record.Status, record.ContentType, record.Body)
		c.Abort()
	}
	return true
}

func requestHash(method, uri string, body []byte) string {
	h := sha256.New()
	h.Write([]byte(method))
	h.Write([]byte{0})
	h.Write([]byte(uri))
	h.Write([]byte{0})
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}
