package utils

import (
	"net/http"

	"storefront/apperr"
	"storefront/auth"
)

// RequireIdentity returns the caller's identity or an Unauthorized error.
func RequireIdentity(r *http.Request) (auth.Identity, error) {
	id := auth.FromContext(r.Context())
	if !id.Authenticated() {
		return auth.Identity{}, apperr.New(apperr.KindUnauthorized, "authentication required")
	}
	return id, nil
}
