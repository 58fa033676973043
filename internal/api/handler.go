package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/carebridge/go-care-alerts/internal/models"
	"github.com/carebridge/go-care-alerts/internal/ratelimit"
	"github.com/carebridge/go-care-alerts/internal/receipts"
	"github.com/carebridge/go-care-alerts/internal/repository"
	"github.com/carebridge/go-care-alerts/internal/stream"
	"github.com/carebridge/go-care-alerts/internal/telephony"
)

type HandlerOptions struct {
	Alerts       repository.AlertRepository
	Coordinators repository.CoordinatorRepository
	Dialer       telephony.CallPlacer
	Receipts     *receipts.Drainer
	Broadcaster  *stream.Broadcaster
	Verifier     *Verifier

	// CallbackBase is the externally visible base URL: webhook signatures
	// are computed over it, and outbound calls point their status
	// callbacks at it.
	CallbackBase string

	// TriggerLimiter guards alert creation (fail-open policy);
	// WebhookLimiter guards vendor callback ingress (fail-closed).
	TriggerLimiter ratelimit.Limiter
	WebhookLimiter ratelimit.Limiter
}

type Handler struct {
	opts HandlerOptions
	hub  *stream.Hub
}

func NewHandler(opts HandlerOptions) *Handler {
	h := &Handler{opts: opts}
	if opts.Broadcaster != nil {
		h.hub = stream.NewHub(opts.Broadcaster)
	}
	return h
}

func (h *Handler) RegisterRoutes(r *gin.Engine) {
	webhooks := r.Group("/webhooks")
	if h.opts.WebhookLimiter != nil {
		webhooks.Use(RateLimitMiddleware(h.opts.WebhookLimiter, "webhook"))
	}
	webhooks.POST("/voice/status", h.voiceStatus)
	webhooks.POST("/sms/status", h.smsStatus)

	alerts := r.Group("/api/alerts")
	if h.opts.TriggerLimiter != nil {
		alerts.Use(RateLimitMiddleware(h.opts.TriggerLimiter, "alerts"))
	}
	alerts.POST("", h.createAlert)
	alerts.GET("", h.listAlerts)
	alerts.GET("/:id", h.getAlert)
	alerts.POST("/:id/cancel", h.cancelAlert)
	alerts.POST("/:id/outcome", h.recordOutcome)

	if h.hub != nil {
		r.GET("/ws/alerts", func(c *gin.Context) {
			h.hub.ServeWS(c.Writer, c.Request)
		})
	}
	r.GET("/health", h.health)
}

// voiceStatus ingests one call-status event from the vendor. Everything
// past the signature check acknowledges with 200: the vendor delivers at
// least once and must never be told to retry an event we cannot use.
func (h *Handler) voiceStatus(c *gin.Context) {
	if err := c.Request.ParseForm(); err != nil {
		c.String(http.StatusOK, "OK")
		return
	}
	form := c.Request.PostForm
	fullURL := h.opts.CallbackBase + c.Request.URL.RequestURI()

	if !h.opts.Verifier.Verify(fullURL, form, c.GetHeader(SignatureHeader)) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid signature"})
		return
	}

	callSID := form.Get("CallSid")
	vendorStatus := form.Get("CallStatus")
	alertIDHint := c.Query("alert_id") // logging only; correlation is by call sid

	if callSID == "" {
		slog.Warn("voice status without call sid", "alert_id_hint", alertIDHint)
		c.String(http.StatusOK, "OK")
		return
	}

	status, ok := mapVoiceStatus(vendorStatus)
	if !ok {
		slog.Debug("unmapped vendor call status", "call_sid", callSID, "vendor_status", vendorStatus)
		c.String(http.StatusOK, "OK")
		return
	}

	now := time.Now()
	alert, updated, err := h.opts.Alerts.ApplyStatusByCallSID(c.Request.Context(), callSID, status, now)
	switch {
	case err != nil:
		// Absorbed: a wire error would make the vendor retry an event it
		// already delivered.
		slog.Error("error applying call status", "call_sid", callSID, "status", status, "error", err)
	case updated:
		slog.Info("call status applied",
			"alert_id", alert.ID, "call_sid", callSID,
			"vendor_status", vendorStatus, "status", status)
		if h.opts.Broadcaster != nil {
			h.opts.Broadcaster.Broadcast(stream.Event{
				AlertID: alert.ID,
				Status:  status,
				CallSID: callSID,
				At:      now,
			})
		}
	case alert == nil:
		slog.Warn("call status for unknown call sid",
			"call_sid", callSID, "alert_id_hint", alertIDHint, "vendor_status", vendorStatus)
	case alert.Status == status:
		slog.Debug("duplicate call status delivery", "alert_id", alert.ID, "call_sid", callSID, "status", status)
	default:
		slog.Warn("call status rejected by lifecycle",
			"alert_id", alert.ID, "call_sid", callSID,
			"current", alert.Status, "requested", status)
	}

	c.String(http.StatusOK, "OK")
}

// smsStatus records message delivery receipts. They never drive the
// alert lifecycle; persistence happens off this goroutine.
func (h *Handler) smsStatus(c *gin.Context) {
	if err := c.Request.ParseForm(); err != nil {
		c.String(http.StatusOK, "OK")
		return
	}
	form := c.Request.PostForm
	fullURL := h.opts.CallbackBase + c.Request.URL.RequestURI()

	if !h.opts.Verifier.Verify(fullURL, form, c.GetHeader(SignatureHeader)) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid signature"})
		return
	}

	if h.opts.Receipts != nil {
		h.opts.Receipts.Submit(models.MessageLog{
			MessageSID: form.Get("MessageSid"),
			Status:     form.Get("MessageStatus"),
			ErrorCode:  form.Get("ErrorCode"),
			To:         form.Get("To"),
			ReceivedAt: time.Now(),
		})
	}

	c.String(http.StatusOK, "OK")
}

type createAlertRequest struct {
	ClientID      string           `json:"client_id" binding:"required"`
	StaffID       string           `json:"staff_id" binding:"required"`
	CoordinatorID string           `json:"coordinator_id" binding:"required"`
	Type          models.AlertType `json:"type" binding:"required"`
}

func (h *Handler) createAlert(c *gin.Context) {
	var req createAlertRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !req.Type.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown alert type"})
		return
	}

	ctx := c.Request.Context()
	coordinator, err := h.opts.Coordinators.GetCoordinator(ctx, req.CoordinatorID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to resolve coordinator"})
		return
	}
	if coordinator == nil || !coordinator.Active {
		c.JSON(http.StatusBadRequest, gin.H{"error": "coordinator not found or inactive"})
		return
	}

	now := time.Now()
	alert := &models.Alert{
		ID:            uuid.NewString(),
		ClientID:      req.ClientID,
		StaffID:       req.StaffID,
		CoordinatorID: coordinator.ID,
		Type:          req.Type,
		Status:        models.StatusInitiated,
		InitiatedAt:   now,
		CreatedAt:     now,
	}
	if err := h.opts.Alerts.CreateAlert(ctx, alert); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create alert"})
		return
	}

	callbackURL := h.opts.CallbackBase + "/webhooks/voice/status?alert_id=" + alert.ID
	sid, err := h.opts.Dialer.PlaceCall(ctx, coordinator.Phone, callbackURL)
	if err != nil {
		// The alert stays in initiated; it can be cancelled manually.
		slog.Error("error placing coordinator call", "alert_id", alert.ID, "error", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "failed to place call", "alert_id": alert.ID})
		return
	}
	if err := h.opts.Alerts.SetCallSID(ctx, alert.ID, sid); err != nil {
		slog.Error("error storing call sid", "alert_id", alert.ID, "call_sid", sid, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store call sid", "alert_id": alert.ID})
		return
	}
	alert.CallSID = sid

	slog.Info("alert created", "alert_id", alert.ID, "type", alert.Type, "call_sid", sid)
	if h.opts.Broadcaster != nil {
		h.opts.Broadcaster.Broadcast(stream.Event{
			AlertID: alert.ID,
			Status:  alert.Status,
			CallSID: sid,
			At:      now,
		})
	}

	c.JSON(http.StatusCreated, alert)
}

func (h *Handler) listAlerts(c *gin.Context) {
	filter := repository.Filter{
		Limit: 20,
	}
	if st := c.Query("status"); st != "" {
		status := models.AlertStatus(st)
		filter.Status = &status
	}
	if s := c.Query("since"); s != "" {
		if t, err := time.Parse("2006-01-02", s); err == nil {
			filter.Since = &t
		}
	}

	alerts, err := h.opts.Alerts.ListAlerts(c.Request.Context(), filter)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch alerts"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"alerts": alerts})
}

func (h *Handler) getAlert(c *gin.Context) {
	alert, err := h.opts.Alerts.GetAlertByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch alert"})
		return
	}
	if alert == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "alert not found"})
		return
	}
	c.JSON(http.StatusOK, alert)
}

func (h *Handler) cancelAlert(c *gin.Context) {
	id := c.Param("id")
	ctx := c.Request.Context()

	ok, err := h.opts.Alerts.CancelAlert(ctx, id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to cancel alert"})
		return
	}
	if !ok {
		alert, err := h.opts.Alerts.GetAlertByID(ctx, id)
		if err == nil && alert == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "alert not found"})
			return
		}
		c.JSON(http.StatusConflict, gin.H{"error": "alert already terminal"})
		return
	}

	slog.Info("alert cancelled", "alert_id", id)
	if h.opts.Broadcaster != nil {
		h.opts.Broadcaster.Broadcast(stream.Event{AlertID: id, Status: models.StatusCancelled, At: time.Now()})
	}
	c.JSON(http.StatusOK, gin.H{"status": "cancelled"})
}

type outcomeRequest struct {
	Outcome string `json:"outcome" binding:"required"`
}

func (h *Handler) recordOutcome(c *gin.Context) {
	var req outcomeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.opts.Alerts.ResolveOutcome(c.Request.Context(), c.Param("id"), req.Outcome); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": "alert is not resolved"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "recorded"})
}

func (h *Handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
