package stats

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/pz26/confpass/pkg/response"
)

// ParticipantsResponse is the JSON shape of GET /stats/participants.
type ParticipantsResponse struct {
	Participants int `json:"participants"`
}

// Handler handles the public stats endpoints.
type Handler struct {
	svc    *Service
	logger *zap.Logger
}

// NewHandler creates a stats handler.
func NewHandler(svc *Service, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{svc: svc, logger: logger}
}

// Participants handles GET /stats/participants.
func (h *Handler) Participants(c *gin.Context) {
	n, err := h.svc.Participants(c.Request.Context())
	if err != nil {
		h.logger.Warn("participant count failed", zap.Error(err))
		response.ServiceUnavailable(c, "participant count unavailable")
		return
	}
	response.OK(c, ParticipantsResponse{Participants: n})
}
