package http

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/gridwise/enrollflow/internal/enrollment/application"
	"github.com/gridwise/enrollflow/internal/enrollment/domain"
	"github.com/gridwise/enrollflow/pkg/logger"
)

// FormHandler exposes the form step actions over HTTP.
type FormHandler struct {
	orch *application.Orchestrator
}

// NewFormHandler creates the HTTP handler.
func NewFormHandler(orch *application.Orchestrator) *FormHandler {
	return &FormHandler{orch: orch}
}

// RegisterRoutes registers the form action routes.
func (h *FormHandler) RegisterRoutes(router *gin.Engine) {
	api := router.Group("/api/v1/forms/:slug")
	{
		api.POST("/load_step", h.LoadStep)
		api.POST("/validate_account", h.ValidateAccount)
		api.POST("/enroll_early", h.EnrollEarly)
		api.POST("/get_schedule_slots", h.GetScheduleSlots)
		api.POST("/submit_enrollment", h.SubmitEnrollment)
		api.POST("/book_appointment", h.BookAppointment)
		api.POST("/save_progress", h.SaveProgress)
		api.POST("/save_and_email", h.SaveAndEmail)
		api.POST("/resume_form", h.ResumeForm)
		api.POST("/track_step", h.TrackStep)
		api.POST("/get_promo_codes", h.GetPromoCodes)
	}
}

// stepRequest is the common request body for step actions.
type stepRequest struct {
	SessionID string          `json:"session_id"`
	Step      string          `json:"step"`
	FormData  domain.FormData `json:"form_data"`
	Email     string          `json:"email"`
	Token     string          `json:"token"`

	AccountNumber string `json:"account_number"`
	Zip           string `json:"zip"`
	ScheduleDate  string `json:"schedule_date"`
	ScheduleTime  string `json:"schedule_time"`
	Event         string `json:"event"`
}

func respondOK(c *gin.Context, data any) {
	c.JSON(http.StatusOK, gin.H{"success": true, "data": data})
}

func respondUserError(c *gin.Context, uerr *application.UserFacingError) {
	if uerr.Retrying {
		// The retry path does not block the user with an error screen; the
		// submission is accepted and finished out of band.
		c.JSON(http.StatusAccepted, gin.H{
			"success": true,
			"data":    gin.H{"retry_queued": true, "message": uerr.Message},
		})
		return
	}

	status := http.StatusBadRequest
	body := gin.H{"success": false, "message": uerr.Message}
	if len(uerr.Fields) > 0 {
		body["validation_errors"] = uerr.Fields
	}
	if uerr.SlotUnavailable {
		status = http.StatusConflict
		body["slot_unavailable"] = true
	}
	c.JSON(status, body)
}

// resolve loads the active instance for the slug in the path.
func (h *FormHandler) resolve(c *gin.Context) (*domain.FormInstance, bool) {
	inst, uerr := h.orch.ResolveInstance(c.Request.Context(), c.Param("slug"))
	if uerr != nil {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "message": uerr.Message})
		return nil, false
	}
	return inst, true
}

func bindStepRequest(c *gin.Context) (*stepRequest, bool) {
	var req stepRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "Invalid request."})
		return nil, false
	}
	return &req, true
}

// authorize enforces the anti-forgery token on mutating actions. Failure
// aborts before any processing and discloses nothing about the cause.
func (h *FormHandler) authorize(c *gin.Context, sessionID string) bool {
	token := c.GetHeader("X-Form-Token")
	if !h.orch.VerifyFormToken(sessionID, token) {
		logger.Warn(c.Request.Context(), "Anti-forgery check failed", "path", c.FullPath())
		c.JSON(http.StatusForbidden, gin.H{"success": false, "message": "Request could not be verified."})
		return false
	}
	return true
}

func clientMeta(c *gin.Context) application.ClientMeta {
	return application.ClientMeta{
		IPAddress: c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
	}
}

// LoadStep resolves the session and returns the step payload plus the
// anti-forgery token. It is the entry point, so no token is required.
func (h *FormHandler) LoadStep(c *gin.Context) {
	inst, ok := h.resolve(c)
	if !ok {
		return
	}
	req, ok := bindStepRequest(c)
	if !ok {
		return
	}

	result, uerr := h.orch.LoadStep(c.Request.Context(), inst, req.SessionID, req.Step, req.FormData, clientMeta(c))
	if uerr != nil {
		respondUserError(c, uerr)
		return
	}
	respondOK(c, result)
}

// ValidateAccount checks the account/zip pair against the program API.
func (h *FormHandler) ValidateAccount(c *gin.Context) {
	inst, ok := h.resolve(c)
	if !ok {
		return
	}
	req, ok := bindStepRequest(c)
	if !ok {
		return
	}
	if !h.authorize(c, req.SessionID) {
		return
	}

	result, uerr := h.orch.ValidateAccount(c.Request.Context(), inst, req.SessionID, req.AccountNumber, req.Zip, clientMeta(c))
	if uerr != nil {
		respondUserError(c, uerr)
		return
	}
	respondOK(c, result)
}

// EnrollEarly submits the enrollment at the end of the device step.
func (h *FormHandler) EnrollEarly(c *gin.Context) {
	inst, ok := h.resolve(c)
	if !ok {
		return
	}
	req, ok := bindStepRequest(c)
	if !ok {
		return
	}
	if !h.authorize(c, req.SessionID) {
		return
	}

	result, uerr := h.orch.EnrollEarly(c.Request.Context(), inst, req.SessionID, req.FormData, clientMeta(c))
	if uerr != nil {
		respondUserError(c, uerr)
		return
	}
	respondOK(c, result)
}

// GetScheduleSlots returns installer availability with policy applied.
func (h *FormHandler) GetScheduleSlots(c *gin.Context) {
	inst, ok := h.resolve(c)
	if !ok {
		return
	}
	req, ok := bindStepRequest(c)
	if !ok {
		return
	}
	if !h.authorize(c, req.SessionID) {
		return
	}

	result, uerr := h.orch.GetScheduleSlots(c.Request.Context(), inst, req.SessionID, clientMeta(c))
	if uerr != nil {
		respondUserError(c, uerr)
		return
	}
	respondOK(c, result)
}

// SubmitEnrollment is the final step.
func (h *FormHandler) SubmitEnrollment(c *gin.Context) {
	inst, ok := h.resolve(c)
	if !ok {
		return
	}
	req, ok := bindStepRequest(c)
	if !ok {
		return
	}
	if !h.authorize(c, req.SessionID) {
		return
	}

	result, uerr := h.orch.SubmitEnrollment(c.Request.Context(), inst, req.SessionID, req.FormData, clientMeta(c))
	if uerr != nil {
		respondUserError(c, uerr)
		return
	}
	respondOK(c, result)
}

// BookAppointment books a slot for the scheduler flow.
func (h *FormHandler) BookAppointment(c *gin.Context) {
	inst, ok := h.resolve(c)
	if !ok {
		return
	}
	req, ok := bindStepRequest(c)
	if !ok {
		return
	}
	if !h.authorize(c, req.SessionID) {
		return
	}

	result, uerr := h.orch.BookAppointment(c.Request.Context(), inst, req.SessionID, req.ScheduleDate, req.ScheduleTime, clientMeta(c))
	if uerr != nil {
		respondUserError(c, uerr)
		return
	}
	respondOK(c, result)
}

// SaveProgress persists form state without touching the API.
func (h *FormHandler) SaveProgress(c *gin.Context) {
	inst, ok := h.resolve(c)
	if !ok {
		return
	}
	req, ok := bindStepRequest(c)
	if !ok {
		return
	}
	if !h.authorize(c, req.SessionID) {
		return
	}

	if uerr := h.orch.SaveProgress(c.Request.Context(), inst, req.SessionID, req.Step, req.FormData, clientMeta(c)); uerr != nil {
		respondUserError(c, uerr)
		return
	}
	respondOK(c, gin.H{"saved": true})
}

// SaveAndEmail persists form state and emails a resume link.
func (h *FormHandler) SaveAndEmail(c *gin.Context) {
	inst, ok := h.resolve(c)
	if !ok {
		return
	}
	req, ok := bindStepRequest(c)
	if !ok {
		return
	}
	if !h.authorize(c, req.SessionID) {
		return
	}

	if uerr := h.orch.SaveAndEmail(c.Request.Context(), inst, req.SessionID, req.Step, req.Email, req.FormData, clientMeta(c)); uerr != nil {
		respondUserError(c, uerr)
		return
	}
	respondOK(c, gin.H{"saved": true, "emailed": true})
}

// ResumeForm redeems a one-time resume token. It issues a fresh anti-forgery
// token, so none is required on the way in.
func (h *FormHandler) ResumeForm(c *gin.Context) {
	inst, ok := h.resolve(c)
	if !ok {
		return
	}
	req, ok := bindStepRequest(c)
	if !ok {
		return
	}

	result, uerr := h.orch.ResumeForm(c.Request.Context(), inst, req.Token)
	if uerr != nil {
		respondUserError(c, uerr)
		return
	}
	respondOK(c, result)
}

// TrackStep records an analytics event. It always succeeds from the
// browser's point of view.
func (h *FormHandler) TrackStep(c *gin.Context) {
	inst, ok := h.resolve(c)
	if !ok {
		return
	}
	req, ok := bindStepRequest(c)
	if !ok {
		return
	}
	if !h.authorize(c, req.SessionID) {
		return
	}

	event := domain.StepEventType(req.Event)
	switch event {
	case domain.StepEventEnter, domain.StepEventExit, domain.StepEventComplete, domain.StepEventAbandon:
	default:
		event = domain.StepEventEnter
	}
	h.orch.TrackStep(c.Request.Context(), inst, req.SessionID, req.Step, event)
	respondOK(c, gin.H{"tracked": true})
}

// GetPromoCodes lists promo codes after instance allow/deny filtering.
func (h *FormHandler) GetPromoCodes(c *gin.Context) {
	inst, ok := h.resolve(c)
	if !ok {
		return
	}

	codes, uerr := h.orch.GetPromoCodes(c.Request.Context(), inst)
	if uerr != nil {
		respondUserError(c, uerr)
		return
	}
	respondOK(c, gin.H{"promo_codes": codes})
}
