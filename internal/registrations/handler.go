package registrations

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/pz26/confpass/internal/middleware"
	"github.com/pz26/confpass/internal/models"
	"github.com/pz26/confpass/internal/passid"
	"github.com/pz26/confpass/pkg/response"
)

// RegisterRequest is the body for POST /registrations. The email is taken
// from the bearer token, never from the body.
type RegisterRequest struct {
	FullName string `json:"full_name"`
	Phone    string `json:"phone"`
	College  string `json:"college"`
}

// CountInvalidator drops a cached participant count.
type CountInvalidator interface {
	Invalidate(ctx context.Context)
}

// ExportRemover deletes an exported pass image.
type ExportRemover interface {
	DeletePass(ctx context.Context, regID string) error
}

// Handler handles registration HTTP endpoints.
type Handler struct {
	svc     *Service
	store   AdminStore
	counts  CountInvalidator
	exports ExportRemover
	logger  *zap.Logger
	group   singleflight.Group
}

// NewHandler creates a registrations handler. counts may be nil.
func NewHandler(svc *Service, store AdminStore, counts CountInvalidator, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{svc: svc, store: store, counts: counts, logger: logger}
}

// WithExportRemover makes admin deletes also drop the exported pass image.
func (h *Handler) WithExportRemover(r ExportRemover) *Handler {
	h.exports = r
	return h
}

type registerResult struct {
	reg     *models.Registration
	created bool
}

// registerTimeout bounds one shared allocation.
const registerTimeout = 30 * time.Second

// Register handles POST /registrations. Concurrent requests from the same
// identity share one allocation; the response is 201 when a registration was
// created and 200 when the existing one is returned.
func (h *Handler) Register(c *gin.Context) {
	uid, email, _, ok := middleware.Identity(c)
	if !ok {
		response.Unauthorized(c, "missing user context")
		return
	}
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	fields := Fields{FullName: req.FullName, Phone: req.Phone, College: req.College}

	v, err, _ := h.group.Do(uid, func() (interface{}, error) {
		// Shared by every waiting request, so one caller going away must
		// not fail the others.
		ctx, cancel := context.WithTimeout(context.WithoutCancel(c.Request.Context()), registerTimeout)
		defer cancel()
		reg, created, err := h.svc.Register(ctx, fields, uid, email)
		if err != nil {
			return nil, err
		}
		return registerResult{reg: reg, created: created}, nil
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	res := v.(registerResult)
	if !res.created {
		response.OK(c, res.reg)
		return
	}
	if h.counts != nil {
		h.counts.Invalidate(context.WithoutCancel(c.Request.Context()))
	}
	response.Created(c, res.reg)
}

// FindByEmail handles GET /registrations?email=. Attendees may only look up
// their own address.
func (h *Handler) FindByEmail(c *gin.Context) {
	_, email, role, ok := middleware.Identity(c)
	if !ok {
		response.Unauthorized(c, "missing user context")
		return
	}
	target := passid.NormalizeEmail(c.Query("email"))
	if target == "" {
		target = passid.NormalizeEmail(email)
	}
	if target != passid.NormalizeEmail(email) && models.Role(role) != models.RoleAdmin {
		response.Forbidden(c, "cannot look up another attendee")
		return
	}
	reg, found, err := h.svc.Lookup(c.Request.Context(), target)
	if err != nil {
		h.writeError(c, err)
		return
	}
	if !found {
		response.NotFound(c, "not registered")
		return
	}
	response.OK(c, reg)
}

// Get handles GET /registrations/:regId for the owner or an admin.
func (h *Handler) Get(c *gin.Context) {
	reg, ok := h.loadOwned(c)
	if !ok {
		return
	}
	response.OK(c, reg)
}

// Delete handles DELETE /registrations/:regId (admin). This is the
// administrative revocation clients observe as an unexpected absence.
func (h *Handler) Delete(c *gin.Context) {
	regID := c.Param("regId")
	deleted, err := h.store.Delete(c.Request.Context(), regID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	if !deleted {
		response.NotFound(c, "registration not found")
		return
	}
	h.logger.Info("registration revoked", zap.String("reg_id", regID), zap.String("by", c.GetString(middleware.ContextUserID)))
	if h.exports != nil {
		if err := h.exports.DeletePass(context.WithoutCancel(c.Request.Context()), regID); err != nil {
			h.logger.Warn("delete exported pass failed", zap.Error(err), zap.String("reg_id", regID))
		}
	}
	if h.counts != nil {
		h.counts.Invalidate(context.WithoutCancel(c.Request.Context()))
	}
	response.NoContent(c)
}

// loadOwned fetches :regId and checks the caller may see it. It writes the
// error response itself and reports whether the handler should continue.
func (h *Handler) loadOwned(c *gin.Context) (*models.Registration, bool) {
	_, email, role, ok := middleware.Identity(c)
	if !ok {
		response.Unauthorized(c, "missing user context")
		return nil, false
	}
	regID := c.Param("regId")
	if _, _, err := passid.ParseRegID(regID); err != nil {
		response.NotFound(c, "registration not found")
		return nil, false
	}
	reg, found, err := h.store.GetByRegID(c.Request.Context(), regID)
	if err != nil {
		h.writeError(c, err)
		return nil, false
	}
	if !found {
		response.NotFound(c, "registration not found")
		return nil, false
	}
	if reg.Email != passid.NormalizeEmail(email) && models.Role(role) != models.RoleAdmin {
		response.Forbidden(c, "registration belongs to another attendee")
		return nil, false
	}
	return reg, true
}

func (h *Handler) writeError(c *gin.Context, err error) {
	var ve *ValidationError
	switch {
	case errors.As(err, &ve):
		response.Error(c, http.StatusBadRequest, CodeValidation, ve.Error())
	case errors.Is(err, ErrCounterMissing):
		h.logger.Error("registration counter missing; bootstrap the counters table", zap.Error(err))
		response.Error(c, http.StatusInternalServerError, CodeCounterMissing, "registration is not open yet, please contact the organizers")
	case errors.Is(err, ErrSerialCollision):
		h.logger.Error("serial collision; allocator out of sync", zap.Error(err))
		response.Error(c, http.StatusConflict, CodeSerialCollision, "could not issue a pass right now, please try again later")
	case errors.Is(err, ErrAllocationConflict):
		h.logger.Warn("allocation conflict", zap.Error(err))
		response.Error(c, http.StatusConflict, CodeAllocationConflict, "could not issue a pass right now, please try again later")
	case errors.Is(err, ErrStoreUnavailable):
		h.logger.Error("registration store unavailable", zap.Error(err))
		response.Error(c, http.StatusServiceUnavailable, CodeStoreUnavailable, "registration service unavailable")
	default:
		h.logger.Error("registration request failed", zap.Error(err))
		response.Internal(c, "registration failed")
	}
}
