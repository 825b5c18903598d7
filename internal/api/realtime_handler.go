package api

import (
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/locolive/socialgraph/internal/middleware"
	"github.com/locolive/socialgraph/pkg/response"
)

// Disconnector force-closes a user's live connections.
type Disconnector interface {
	Disconnect(userID uuid.UUID) int
}

type RealtimeHandler struct {
	gateway Disconnector
	logger  *zap.Logger
}

func NewRealtimeHandler(gateway Disconnector, logger *zap.Logger) *RealtimeHandler {
	return &RealtimeHandler{
		gateway: gateway,
		logger:  logger,
	}
}

// Logout handles POST /realtime/logout
func (h *RealtimeHandler) Logout(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		response.Unauthorized(w, "not authenticated")
		return
	}

	closed := h.gateway.Disconnect(userID)
	h.logger.Info("realtime logout", zap.String("userID", userID.String()), zap.Int("closed", closed))
	response.OK(w, map[string]int{"closed": closed})
}
