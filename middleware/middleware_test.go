package middleware

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storefront/auth"
	"storefront/memstore"
	"storefront/utils"
)

var secret = []byte("test-secret")

func token(t *testing.T, id auth.Identity) string {
	t.Helper()
	tok, err := auth.IssueToken(secret, id, time.Hour)
	require.NoError(t, err)
	return "Bearer " + tok
}

func whoami(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	utils.RespondWithData(w, http.StatusOK, auth.FromContext(r.Context()).UserID)
}

func serve(h httprouter.Handle, req *http.Request) *httptest.ResponseRecorder {
	router := httprouter.New()
	router.Handle(req.Method, req.URL.Path, h)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func TestAuthenticate(t *testing.T) {
	h := Chain(Authenticate(secret))(whoami)

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	assert.Equal(t, http.StatusUnauthorized, serve(h, req).Code)

	req = httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer garbage")
	assert.Equal(t, http.StatusUnauthorized, serve(h, req).Code)

	req = httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", token(t, auth.Identity{UserID: "u1"}))
	rr := serve(h, req)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"u1"`)
}

func TestRequireRoles(t *testing.T) {
	h := Chain(Authenticate(secret), RequireRoles("admin"))(whoami)

	req := httptest.NewRequest(http.MethodGet, "/admin", nil)
	req.Header.Set("Authorization", token(t, auth.Identity{UserID: "u1", Roles: []string{"user"}}))
	assert.Equal(t, http.StatusForbidden, serve(h, req).Code)

	req = httptest.NewRequest(http.MethodGet, "/admin", nil)
	req.Header.Set("Authorization", token(t, auth.Identity{UserID: "a1", Roles: []string{"admin"}}))
	assert.Equal(t, http.StatusOK, serve(h, req).Code)
}

func TestIdempotencyReplaysFirstResponse(t *testing.T) {
	store := memstore.New()
	var calls atomic.Int32
	create := func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		n := calls.Add(1)
		utils.RespondWithData(w, http.StatusCreated, map[string]int32{"n": n})
	}
	h := Chain(Authenticate(secret), Idempotency(store, time.Hour, slog.Default()))(create)
	tok := token(t, auth.Identity{UserID: "u1"})

	post := func(key, body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/orders", strings.NewReader(body))
		req.Header.Set("Authorization", tok)
		if key != "" {
			req.Header.Set(IdempotencyHeader, key)
		}
		return serve(h, req)
	}

	first := post("k1", `{"a":1}`)
	assert.Equal(t, http.StatusCreated, first.Code)

	again := post("k1", `{"a":1}`)
	assert.Equal(t, http.StatusCreated, again.Code)
	assert.Equal(t, first.Body.String(), again.Body.String())
	assert.Equal(t, "true", again.Header().Get("Idempotent-Replayed"))
	assert.Equal(t, int32(1), calls.Load())

	assert.Equal(t, http.StatusConflict, post("k1", `{"a":2}`).Code)
	assert.Equal(t, int32(1), calls.Load())

	post("", `{"a":1}`)
	assert.Equal(t, int32(2), calls.Load())
}

func TestIdempotencyKeysAreScopedByUser(t *testing.T) {
	store := memstore.New()
	var calls atomic.Int32
	create := func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		calls.Add(1)
		w.WriteHeader(http.StatusCreated)
	}
	h := Chain(Authenticate(secret), Idempotency(store, time.Hour, slog.Default()))(create)

	for _, user := range []string{"u1", "u2"} {
		req := httptest.NewRequest(http.MethodPost, "/orders", strings.NewReader(`{}`))
		req.Header.Set("Authorization", token(t, auth.Identity{UserID: user}))
		req.Header.Set(IdempotencyHeader, "shared")
		assert.Equal(t, http.StatusCreated, serve(h, req).Code)
	}
	assert.Equal(t, int32(2), calls.Load())
}

func TestIdempotencyReleasesKeyOnServerError(t *testing.T) {
	store := memstore.New()
	var calls atomic.Int32
	flaky := func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusCreated)
	}
	h := Chain(Authenticate(secret), Idempotency(store, time.Hour, slog.Default()))(flaky)
	tok := token(t, auth.Identity{UserID: "u1"})

	for _, want := range []int{http.StatusInternalServerError, http.StatusCreated, http.StatusCreated} {
		req := httptest.NewRequest(http.MethodPost, "/orders", strings.NewReader(`{}`))
		req.Header.Set("Authorization", tok)
		req.Header.Set(IdempotencyHeader, "k")
		assert.Equal(t, want, serve(h, req).Code)
	}
	assert.Equal(t, int32(2), calls.Load())
}

func TestIdempotencyReleasesKeyWhenHandlerPanics(t *testing.T) {
	store := memstore.New()
	var calls atomic.Int32
	fragile := func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		if calls.Add(1) == 1 {
			panic("boom")
		}
		w.WriteHeader(http.StatusCreated)
	}
	h := Chain(Authenticate(secret), Idempotency(store, time.Hour, slog.Default()))(fragile)
	tok := token(t, auth.Identity{UserID: "u1"})
	post := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/orders", strings.NewReader(`{}`))
		req.Header.Set("Authorization", tok)
		req.Header.Set(IdempotencyHeader, "k")
		return serve(h, req)
	}

	assert.PanicsWithValue(t, "boom", func() { post() })
	assert.Equal(t, http.StatusCreated, post().Code)
	assert.Equal(t, http.StatusCreated, post().Code)
	assert.Equal(t, int32(2), calls.Load())
}

func TestRequestLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	h := SecurityHeaders(RequestLogger(logger, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})))

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set(RequestIDHeader, "req-1")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	assert.Equal(t, "req-1", rr.Header().Get(RequestIDHeader))
	assert.Equal(t, "nosniff", rr.Header().Get("X-Content-Type-Options"))
	assert.Contains(t, buf.String(), `"status":418`)
	assert.Contains(t, buf.String(), `"path":"/x"`)
}

func TestAuthenticateWebSocketQueryToken(t *testing.T) {
	h := Chain(Authenticate(secret))(whoami)
	tok, err := auth.IssueToken(secret, auth.Identity{UserID: "u9"}, time.Hour)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/ws?token="+tok, nil)
	req.Header.Set("Connection", "Upgrade")
	req.Header.Set("Upgrade", "websocket")
	rr := serve(h, req)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"u9"`)

	req = httptest.NewRequest(http.MethodGet, "/ws?token="+tok, nil)
	assert.Equal(t, http.StatusUnauthorized, serve(h, req).Code)
}
