package middleware

import (
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"

	"storefront/apperr"
	"storefront/auth"
	"storefront/utils"
)

// Middleware wraps a route handler.
type Middleware func(httprouter.Handle) httprouter.Handle

// Chain composes mws so that the first one runs outermost.
func Chain(mws ...Middleware) Middleware {
	return func(h httprouter.Handle) httprouter.Handle {
		for i := len(mws) - 1; i >= 0; i-- {
			h = mws[i](h)
		}
		return h
	}
}

// Authenticate rejects requests without a valid bearer token and stores the
// caller's identity in the request context.
func Authenticate(secret []byte) Middleware {
	return func(next httprouter.Handle) httprouter.Handle {
		return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
			tokenString := r.Header.Get("Authorization")
			if tokenString == "" && websocket.IsWebSocketUpgrade(r) {
				// Browsers cannot set headers on a WebSocket handshake.
				if t := r.URL.Query().Get("token"); t != "" {
					tokenString = "Bearer " + t
				}
			}
			if tokenString == "" {
				utils.RespondWithError(w, apperr.New(apperr.KindUnauthorized, "missing token"))
				return
			}
			id, err := auth.ParseBearer(secret, tokenString)
			if err != nil {
				utils.RespondWithError(w, apperr.New(apperr.KindUnauthorized, "invalid token"))
				return
			}
			next(w, r.WithContext(auth.WithIdentity(r.Context(), id)), ps)
		}
	}
}

// RequireRoles allows the request only if the caller holds one of roles.
// It must run after Authenticate.
func RequireRoles(roles ...string) Middleware {
	return func(next httprouter.Handle) httprouter.Handle {
		return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
			id := auth.FromContext(r.Context())
			if !id.Authenticated() {
				utils.RespondWithError(w, apperr.New(apperr.KindUnauthorized, "authentication required"))
				return
			}
			for _, role := range roles {
				if id.HasRole(role) {
					next(w, r, ps)
					return
				}
			}
			utils.RespondWithError(w, apperr.New(apperr.KindForbidden, "insufficient role"))
		}
	}
}
