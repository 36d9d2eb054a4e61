package registrations

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/pz26/confpass/pkg/response"
)

// PassRenderer turns a QR payload into a PNG.
type PassRenderer interface {
	PNG(qrText string) ([]byte, error)
}

// ExportQueue schedules a background pass image export.
type ExportQueue interface {
	EnqueuePassExport(ctx context.Context, regID, qrText string) error
}

// ExportLinks resolves an exported pass image to a download URL.
type ExportLinks interface {
	PassDownloadURL(ctx context.Context, regID string) (url string, found bool, err error)
}

// PassHandler serves the pass artifacts of a registration.
type PassHandler struct {
	h        *Handler
	renderer PassRenderer
	queue    ExportQueue
	links    ExportLinks
}

// NewPassHandler creates a pass handler. queue and links may be nil when
// object storage is not configured; export endpoints then answer 503.
func NewPassHandler(h *Handler, renderer PassRenderer, queue ExportQueue, links ExportLinks) *PassHandler {
	return &PassHandler{h: h, renderer: renderer, queue: queue, links: links}
}

// QR handles GET /registrations/:regId/pass.png.
func (p *PassHandler) QR(c *gin.Context) {
	reg, ok := p.h.loadOwned(c)
	if !ok {
		return
	}
	png, err := p.renderer.PNG(reg.QRText)
	if err != nil {
		p.h.logger.Error("render pass failed", zap.Error(err), zap.String("reg_id", reg.RegID))
		response.Internal(c, "failed to render pass")
		return
	}
	c.Header("Cache-Control", "private, max-age=300")
	c.Data(http.StatusOK, "image/png", png)
}

// RequestExport handles POST /registrations/:regId/export.
func (p *PassHandler) RequestExport(c *gin.Context) {
	if p.queue == nil {
		response.ServiceUnavailable(c, "pass export is disabled")
		return
	}
	reg, ok := p.h.loadOwned(c)
	if !ok {
		return
	}
	if err := p.queue.EnqueuePassExport(c.Request.Context(), reg.RegID, reg.QRText); err != nil {
		p.h.logger.Error("enqueue pass export failed", zap.Error(err), zap.String("reg_id", reg.RegID))
		response.ServiceUnavailable(c, "failed to schedule export")
		return
	}
	response.Accepted(c, gin.H{"reg_id": reg.RegID, "status": "queued"})
}

// ExportLink handles GET /registrations/:regId/export.
func (p *PassHandler) ExportLink(c *gin.Context) {
	if p.links == nil {
		response.ServiceUnavailable(c, "pass export is disabled")
		return
	}
	reg, ok := p.h.loadOwned(c)
	if !ok {
		return
	}
	url, found, err := p.links.PassDownloadURL(c.Request.Context(), reg.RegID)
	if err != nil {
		p.h.logger.Error("resolve pass export failed", zap.Error(err), zap.String("reg_id", reg.RegID))
		response.ServiceUnavailable(c, "failed to resolve export")
		return
	}
	if !found {
		response.NotFound(c, "export not ready")
		return
	}
	response.OK(c, gin.H{"reg_id": reg.RegID, "url": url})
}
