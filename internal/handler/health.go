package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

// Pinger checks a dependency. Both store backends implement it.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler reports whether the process and its store are up.
type HealthHandler struct {
	store  Pinger
	env    string
	logger *slog.Logger
	now    func() time.Time
}

func NewHealthHandler(store Pinger, env string, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{store: store, env: env, logger: logger, now: time.Now}
}

type healthResponse struct {
	Status    string    `json:"status"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
	Env       string    `json:"env"`
}

// HandleHealth answers 200 when the store responds, 503 otherwise.
//
// HTTP: GET /health
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	resp := healthResponse{
		Status:    "ok",
		Message:   "API is healthy",
		Timestamp: h.now().UTC(),
		Env:       h.env,
	}
	if err := h.store.Ping(ctx); err != nil {
		h.logger.Error("health check: store unreachable", slog.String("error", err.Error()))
		resp.Status = "unavailable"
		resp.Message = "database unreachable"
		writeJSON(w, http.StatusServiceUnavailable, resp)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}
