package sweeper

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"exeat/internal/transport/http/shared"
	dErrors "exeat/pkg/domain-errors"
	"exeat/pkg/secrets"
)

// sweepSecretHeader carries the shared secret for the manual sweep trigger.
const sweepSecretHeader = "X-Sweep-Secret"

// Handler exposes a manual trigger for the expiry sweep, guarded by a
// shared secret rather than the user-facing auth middleware.
type Handler struct {
	permits    PermitExpirer
	secretHash string
	timeout    time.Duration
	logger     *slog.Logger
	now        func() time.Time
}

// NewHandler creates a sweep trigger handler. secretHash is the bcrypt hash
// the request secret is verified against; an empty hash disables the route.
func NewHandler(permits PermitExpirer, secretHash string, timeout time.Duration, logger *slog.Logger) *Handler {
	return &Handler{
		permits:    permits,
		secretHash: secretHash,
		timeout:    timeout,
		logger:     logger,
		now:        time.Now,
	}
}

// Register mounts the sweep route on the given router.
func (h *Handler) Register(r chi.Router) {
	r.Post("/internal/sweep", h.handleSweep)
}

type sweepResponse struct {
	Found   int `json:"found"`
	Expired int `json:"expired"`
	Skipped int `json:"skipped"`
}

func (h *Handler) handleSweep(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.secretHash == "" {
		shared.WriteError(w, dErrors.New(dErrors.CodeNotFound, "manual sweep is not enabled"))
		return
	}
	if err := secrets.Verify(r.Header.Get(sweepSecretHeader), h.secretHash); err != nil {
		h.logger.WarnContext(ctx, "manual sweep rejected", "error", err)
		shared.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "invalid sweep secret"))
		return
	}

	result, err := h.permits.ExpireStale(ctx, h.now(), h.timeout)
	if err != nil {
		h.logger.ErrorContext(ctx, "manual sweep failed", "error", err)
		shared.WriteError(w, err)
		return
	}

	shared.WriteJSON(w, http.StatusOK, sweepResponse{
		Found:   result.Found,
		Expired: result.Expired,
		Skipped: result.Skipped,
	})
}
