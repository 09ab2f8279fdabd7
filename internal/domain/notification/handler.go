package notification

import (
	"log/slog"
	"net/http"

	"postroom/internal/common"

	"github.com/gin-gonic/gin"
)

// Handler handles HTTP requests for the notification domain.
type Handler struct {
	service *Service
}

// NewHandler creates a new notification handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// reportRequest is the body of POST /api/v1/reports/notifications.
type reportRequest struct {
	ReportFilter
	Cursor string `json:"cursor"`
}

// Report handles POST /api/v1/reports/notifications
func (h *Handler) Report(c *gin.Context) {
	var req reportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Error(c, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	page, err := h.service.GetReportNotifications(c.Request.Context(), &req.ReportFilter, req.Cursor)
	if err != nil {
		common.HandleError(c, err)
		return
	}

	common.Success(c, http.StatusOK, page)
}

// GetMessage handles GET /api/v1/applications/:app/notifications/:id/message
func (h *Handler) GetMessage(c *gin.Context) {
	app, id := c.Param("app"), c.Param("id")

	msg, err := h.service.GetNotificationMessage(c.Request.Context(), app, id)
	if err != nil {
		slog.Error("get notification message failed",
			"application", app,
			"notification_id", id,
			"error", err,
		)
		common.HandleError(c, err)
		return
	}

	common.Success(c, http.StatusOK, msg)
}

// Send handles POST /api/v1/applications/:app/notifications/:id/send
// Enqueues the notification for async delivery and returns 202 Accepted.
func (h *Handler) Send(c *gin.Context) {
	app, id := c.Param("app"), c.Param("id")

	if err := h.service.RequestSend(c.Request.Context(), app, id); err != nil {
		common.HandleError(c, err)
		return
	}

	common.Success(c, http.StatusAccepted, gin.H{
		"application":     app,
		"notification_id": id,
		"status":          StatusQueued,
	})
}

// ListTemplates handles GET /api/v1/applications/:app/templates
func (h *Handler) ListTemplates(c *gin.Context) {
	templates, err := h.service.GetAllTemplates(c.Request.Context(), c.Param("app"))
	if err != nil {
		common.HandleError(c, err)
		return
	}

	common.Success(c, http.StatusOK, templates)
}

// ListApplications handles GET /api/v1/applications
func (h *Handler) ListApplications(c *gin.Context) {
	apps, err := h.service.GetApplications()
	if err != nil {
		common.HandleError(c, err)
		return
	}

	common.Success(c, http.StatusOK, apps)
}

// RegisterRoutes registers notification routes to the given router group.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/applications", h.ListApplications)
	rg.GET("/applications/:app/templates", h.ListTemplates)
	rg.GET("/applications/:app/notifications/:id/message", h.GetMessage)
	rg.POST("/applications/:app/notifications/:id/send", h.Send)
	rg.POST("/reports/notifications", h.Report)
}
