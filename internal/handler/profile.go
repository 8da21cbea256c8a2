package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/sakif/reroom-bff/internal/apperror"
	"github.com/sakif/reroom-bff/internal/auth"
	"github.com/sakif/reroom-bff/internal/model"
)

// ProfileService is what ProfileHandler needs from *service.ProfileService.
type ProfileService interface {
	Reconciler
	GetProfile(ctx context.Context, userID string) (*model.Profile, error)
}

// ProfileHandler exposes reconciliation to callers that learn about an
// identity on their own (the browser after a client-side OAuth flow, or an
// internal service) and lets a user read their profile.
type ProfileHandler struct {
	profiles ProfileService
	debug    bool
	logger   *slog.Logger
}

func NewProfileHandler(profiles ProfileService, debug bool, logger *slog.Logger) *ProfileHandler {
	return &ProfileHandler{profiles: profiles, debug: debug, logger: logger}
}

// reconcileRequest accepts the identity under "identity" or, as older
// clients send it, under "user".
type reconcileRequest struct {
	Identity *model.Identity `json:"identity"`
	User     *model.Identity `json:"user"`
	Name     string          `json:"name"`
}

type profileResponse struct {
	Profile *model.Profile `json:"profile"`
}

// HandleReconcile creates the profile for an identity or refreshes its
// display fields.
//
// HTTP: POST /profile/reconcile {"identity": {...}, "name": "optional"}
//
// Internal callers supply the identity. For a user caller the identity is
// the one the session was issued for; a body identity is optional and, when
// present, must name the same user.
func (h *ProfileHandler) HandleReconcile(w http.ResponseWriter, r *http.Request) {
	var req reconcileRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err, h.debug)
		return
	}
	identity, err := reconcileIdentity(r, req)
	if err != nil {
		writeError(w, err, h.debug)
		return
	}

	p, err := h.profiles.Reconcile(r.Context(), identity, req.Name)
	if err != nil {
		h.logger.Error("reconcile failed",
			slog.String("user_id", identity.ID),
			slog.String("error", err.Error()),
		)
		writeError(w, err, h.debug)
		return
	}
	writeJSON(w, http.StatusOK, profileResponse{Profile: p})
}

func reconcileIdentity(r *http.Request, req reconcileRequest) (model.Identity, error) {
	claimed := req.Identity
	if claimed == nil {
		claimed = req.User
	}

	caller, ok := auth.CallerFromContext(r.Context())
	if !ok {
		return model.Identity{}, apperror.Unauthorized("valid authentication required")
	}
	if caller.Internal {
		if claimed == nil || claimed.ID == "" || claimed.Email == "" {
			return model.Identity{}, apperror.ValidationFailed("identity", "Invalid user data")
		}
		return *claimed, nil
	}

	s, ok := auth.SessionFromContext(r.Context())
	if !ok || s == nil || s.User.ID != caller.UserID {
		return model.Identity{}, apperror.Unauthorized("valid authentication required")
	}
	if claimed != nil && claimed.ID != "" && claimed.ID != s.User.ID {
		return model.Identity{}, apperror.Forbidden("cannot act on another user's account")
	}
	return s.User, nil
}

// HandleGet returns a profile.
//
// HTTP: GET /profile[?userId=...]
func (h *ProfileHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	userID, _, err := targetUser(r, r.URL.Query().Get("userId"))
	if err != nil {
		writeError(w, err, h.debug)
		return
	}
	p, err := h.profiles.GetProfile(r.Context(), userID)
	if err != nil {
		writeError(w, err, h.debug)
		return
	}
	writeJSON(w, http.StatusOK, profileResponse{Profile: p})
}
