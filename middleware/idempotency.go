package middleware

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/julienschmidt/httprouter"

	"storefront/apperr"
	"storefront/auth"
	"storefront/models"
	"storefront/utils"
)

const IdempotencyHeader = "Idempotency-Key"

// IdempotencyStore persists Idempotency-Key reservations. ReserveKey must be
// atomic and report false when the key is already held.
type IdempotencyStore interface {
	ReserveKey(ctx context.Context, rec models.IdempotencyRecord) (bool, error)
	FindKey(ctx context.Context, key string) (*models.IdempotencyRecord, error)
	SaveKeyResponse(ctx context.Context, key string, resp models.StoredResponse) error
	ReleaseKey(ctx context.Context, key string) error
}

func computeRequestHash(r *http.Request, bodyBytes []byte, userID string) string {
	h := sha256.New()
	h.Write([]byte(r.Method + ":" + r.URL.Path + ":" + userID + ":"))
	h.Write(bodyBytes)
	return hex.EncodeToString(h.Sum(nil))
}

// CaptureResponseWriter wraps http.ResponseWriter to capture status and body.
type CaptureResponseWriter struct {
	w           http.ResponseWriter
	statusCode  int
	buf         bytes.Buffer
	wroteHeader bool
}

func NewCaptureResponseWriter(w http.ResponseWriter) *CaptureResponseWriter {
	return &CaptureResponseWriter{w: w, statusCode: http.StatusOK}
}

func (c *CaptureResponseWriter) Header() http.Header {
	return c.w.Header()
}

func (c *CaptureResponseWriter) WriteHeader(statusCode int) {
	if !c.wroteHeader {
		c.statusCode = statusCode
		c.w.WriteHeader(statusCode)
		c.wroteHeader = true
	}
}

func (c *CaptureResponseWriter) Write(b []byte) (int, error) {
	c.wroteHeader = true
	c.buf.Write(b)
	return c.w.Write(b)
}

func (c *CaptureResponseWriter) Status() int {
	return c.statusCode
}

func (c *CaptureResponseWriter) BodyBytes() []byte {
	return c.buf.Bytes()
}

// Idempotency replays the first response for a repeated Idempotency-Key.
// Keys are scoped to the caller, so it must run after Authenticate.
//
//   - no header: pass-through
//   - new key: run the handler and store its response
//   - same key, different request: 409
//   - same key, response stored: replay it
//   - same key, first request still running: 409
//
// 5xx responses and panics are not stored and free the key for a retry.
func Idempotency(store IdempotencyStore, ttl time.Duration, logger *slog.Logger) Middleware {
	return func(next httprouter.Handle) httprouter.Handle {
		return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
			key := r.Header.Get(IdempotencyHeader)
			if key == "" {
				next(w, r, ps)
				return
			}
			userID := auth.FromContext(r.Context()).UserID
			scoped := userID + ":" + key

			// Limit body size to 1 MB to prevent memory issues
			bodyBytes, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
			if err != nil {
				utils.RespondWithError(w, apperr.Wrap(apperr.KindValidation, err, "failed to read request body"))
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(bodyBytes))

			reqHash := computeRequestHash(r, bodyBytes, userID)
			now := time.Now()
			rec := models.IdempotencyRecord{
				Key:         scoped,
				Method:      r.Method,
				Path:        r.URL.Path,
				UserID:      userID,
				RequestHash: reqHash,
				CreatedAt:   now,
				ExpiresAt:   now.Add(ttl),
			}

			ctx := r.Context()
			reserved, err := store.ReserveKey(ctx, rec)
			if err != nil {
				utils.RespondWithError(w, apperr.Wrap(apperr.KindPersistence, err, "idempotency lookup error"))
				return
			}
			if reserved {
				release := func() {
					if err := store.ReleaseKey(context.WithoutCancel(ctx), scoped); err != nil {
						logger.WarnContext(ctx, "idempotency release failed", "key", key, "err", err)
					}
				}
				defer func() {
					if p := recover(); p != nil {
						release()
						panic(p)
					}
				}()
				crw := NewCaptureResponseWriter(w)
				next(crw, r, ps)
				if crw.Status() >= http.StatusInternalServerError {
					release()
					return
				}
				resp := models.StoredResponse{Status: crw.Status(), Body: bytes.Clone(crw.BodyBytes())}
				if err := store.SaveKeyResponse(context.WithoutCancel(ctx), scoped, resp); err != nil {
					logger.WarnContext(ctx, "idempotency response not stored", "key", key, "err", err)
				}
				return
			}

			existing, err := store.FindKey(ctx, scoped)
			if errors.Is(err, models.ErrNotFound) {
				// Expired or released between the two calls.
				utils.RespondWithError(w, apperr.New(apperr.KindConflict, "idempotency key is being reused, retry"))
				return
			}
			if err != nil {
				utils.RespondWithError(w, apperr.Wrap(apperr.KindPersistence, err, "idempotency lookup error"))
				return
			}
			if existing.RequestHash != reqHash {
				utils.RespondWithError(w, apperr.New(apperr.KindConflict, "idempotency key reused with a different request"))
				return
			}
			if existing.Response == nil {
				utils.RespondWithError(w, apperr.New(apperr.KindConflict, "a request with this idempotency key is in progress"))
				return
			}
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Idempotent-Replayed", "true")
			w.WriteHeader(existing.Response.Status)
			_, _ = w.Write(existing.Response.Body)
		}
	}
}
