package handler

import (
	"net/http"
	"strconv"

	"github.com/sakif/reroom-bff/internal/apperror"
	"github.com/sakif/reroom-bff/internal/auth"
)

// targetUser resolves the user id a request acts on and checks that the
// caller may act on it.
//
//	internal caller → any user, but requested must be given
//	user caller     → only itself; an empty requested means "me"
//
// It relies on auth.RequireCaller having run; without a caller in the
// context the request is treated as unauthenticated.
func targetUser(r *http.Request, requested string) (string, auth.Caller, error) {
	c, ok := auth.CallerFromContext(r.Context())
	if !ok {
		return "", c, apperror.Unauthorized("valid authentication required")
	}
	if requested == "" {
		if c.Internal {
			return "", c, apperror.ValidationFailed("userId", "userId is required")
		}
		requested = c.UserID
	}
	if !c.CanActOn(requested) {
		return "", c, apperror.Forbidden("cannot act on another user's account")
	}
	return requested, c, nil
}

// queryInt parses an optional non-negative integer query parameter.
func queryInt(r *http.Request, name string) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, apperror.ValidationFailed(name, name+" must be a non-negative integer")
	}
	return n, nil
}
