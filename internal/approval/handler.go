package approval

import (
	"net/http"

	"facility_portal_backend/platform/httpkit"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type HTTPHandler struct {
	svc *Service
}

func NewHTTPHandler(svc *Service) *HTTPHandler {
	return &HTTPHandler{svc: svc}
}

// RegisterRoutes mounts the OTP routes under /requests/:id/otp. The verify
// route gets the strict per-IP limiter; six-digit codes do not survive
// unthrottled guessing.
func (h *HTTPHandler) RegisterRoutes(rg *gin.RouterGroup, verifyLimiter *httpkit.VerifyRateLimiter) {
	rg.POST("/:id/otp", h.Generate)
	rg.POST("/:id/otp/resend", h.Resend)
	rg.POST("/:id/otp/verify", verifyLimiter.RateLimit(), h.Verify)
	rg.GET("/:id/otp", h.Status)
}

func (h *HTTPHandler) Generate(c *gin.Context) {
	identity := httpkit.MustGetIdentity(c)
	if identity == nil {
		return
	}

	requestID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, "invalid request id", nil)
		return
	}

	if err := h.svc.Generate(c.Request.Context(), requestID, identity.UserID()); httpkit.HandleError(c, err) {
		return
	}

	httpkit.OK(c, gin.H{"status": "issued"})
}

func (h *HTTPHandler) Resend(c *gin.Context) {
	identity := httpkit.MustGetIdentity(c)
	if identity == nil {
		return
	}

	requestID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, "invalid request id", nil)
		return
	}

	if err := h.svc.Resend(c.Request.Context(), requestID, identity.UserID()); httpkit.HandleError(c, err) {
		return
	}

	httpkit.OK(c, gin.H{"status": "issued"})
}

type verifyRequest struct {
	Code string `json:"code" binding:"required,len=6,numeric"`
}

func (h *HTTPHandler) Verify(c *gin.Context) {
	identity := httpkit.MustGetIdentity(c)
	if identity == nil {
		return
	}

	requestID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, "invalid request id", nil)
		return
	}

	var req verifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, "code must be six digits", nil)
		return
	}

	ok, err := h.svc.Verify(c.Request.Context(), requestID, req.Code, identity.UserID())
	if httpkit.HandleError(c, err) {
		return
	}
	if !ok {
		httpkit.OK(c, gin.H{"verified": false, "reason": "incorrect code"})
		return
	}

	httpkit.OK(c, gin.H{"verified": true})
}

func (h *HTTPHandler) Status(c *gin.Context) {
	identity := httpkit.MustGetIdentity(c)
	if identity == nil {
		return
	}

	requestID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, "invalid request id", nil)
		return
	}

	status, err := h.svc.Status(c.Request.Context(), requestID)
	if httpkit.HandleError(c, err) {
		return
	}

	httpkit.OK(c, status)
}
