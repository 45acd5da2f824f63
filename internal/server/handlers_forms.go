package server

import (
	"net/http"
	"time"

	"github.com/fieldsetapp/fieldset/backend/internal/forms"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const heartbeatInterval = 25 * time.Second

type formDraftPayload struct {
	Title         string            `json:"title"`
	Description   string            `json:"description"`
	Fields        []forms.FieldSpec `json:"fields"`
	PrivacyTier   string            `json:"privacy_tier"`
	AllowedEmails []string          `json:"allowed_emails"`
	IsActive      *bool             `json:"is_active"`
}

func (p formDraftPayload) draft() forms.FormDraft {
	return forms.FormDraft{
		Title:         p.Title,
		Description:   p.Description,
		Fields:        p.Fields,
		PrivacyTier:   forms.PrivacyTier(p.PrivacyTier),
		AllowedEmails: p.AllowedEmails,
		IsActive:      p.IsActive,
	}
}

type submitPayload struct {
	Data map[string]any `json:"data"`
}

type formView struct {
	ID            string            `json:"id"`
	Title         string            `json:"title"`
	Description   string            `json:"description,omitempty"`
	Fields        []forms.FieldSpec `json:"fields"`
	Slug          string            `json:"slug"`
	PrivacyTier   forms.PrivacyTier `json:"privacy_tier"`
	AllowedEmails []string          `json:"allowed_emails"`
	IsActive      bool              `json:"is_active"`
	CreatedAt     time.Time         `json:"created_at"`
	UpdatedAt     time.Time         `json:"updated_at"`
}

type submissionView struct {
	ID             string         `json:"id"`
	Data           map[string]any `json:"data"`
	RequesterIP    string         `json:"requester_ip"`
	RequesterAgent string         `json:"requester_agent"`
	SubmittedAt    time.Time      `json:"submitted_at"`
}

func viewOfForm(form *forms.FormDefinition) (formView, error) {
	fields, err := form.Fields()
	if err != nil {
		return formView{}, err
	}
	if fields == nil {
		fields = []forms.FieldSpec{}
	}
	allowed := form.AllowedEmails()
	if allowed == nil {
		allowed = []string{}
	}
	return formView{
		ID:            form.ID,
		Title:         form.Title,
		Description:   form.Description,
		Fields:        fields,
		Slug:          form.Slug,
		PrivacyTier:   form.PrivacyTier,
		AllowedEmails: allowed,
		IsActive:      form.IsActive,
		CreatedAt:     form.CreatedAt,
		UpdatedAt:     form.UpdatedAt,
	}, nil
}

func (h *httpHandler) handleCreateForm(c *gin.Context) {
	identity, ok := h.requireIdentity(c)
	if !ok {
		return
	}
	var request formDraftPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	form, err := h.formsService.CreateForm(c.Request.Context(), identity.ID, request.draft())
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	view, err := viewOfForm(form)
	if err != nil {
		h.logger.Error("failed to render form", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}
	c.JSON(http.StatusCreated, view)
}

func (h *httpHandler) handleListForms(c *gin.Context) {
	identity, ok := h.requireIdentity(c)
	if !ok {
		return
	}
	definitions, err := h.formsService.ListForms(c.Request.Context(), identity.ID)
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	views := make([]formView, 0, len(definitions))
	for index := range definitions {
		view, viewErr := viewOfForm(&definitions[index])
		if viewErr != nil {
			h.logger.Error("failed to render form", zap.Error(viewErr))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
			return
		}
		views = append(views, view)
	}
	c.JSON(http.StatusOK, gin.H{"forms": views})
}

func (h *httpHandler) handleGetFormBySlug(c *gin.Context) {
	slug := c.Param("slug")
	if slug == manageSegment {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
		return
	}
	schema, err := h.formsService.GetBySlug(c.Request.Context(), h.identity(c), slug)
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, schema)
}

func (h *httpHandler) handleSubmitForm(c *gin.Context) {
	slug := c.Param("slug")
	if slug == manageSegment {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
		return
	}
	var request submitPayload
	if err := c.ShouldBindJSON(&request); err != nil || request.Data == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	receipt, err := h.formsService.Submit(
		c.Request.Context(),
		h.identity(c),
		slug,
		forms.ValueMapFromJSON(request.Data),
		requestMeta(c),
	)
	if err != nil {
		h.writeServiceError(c, err)
		return
	}

	h.dispatcher.Publish(SubmissionEvent{
		FormID:       receipt.FormID,
		SubmissionID: receipt.SubmissionID,
		SubmittedAt:  receipt.SubmittedAt,
	})
	c.JSON(http.StatusCreated, gin.H{"submission_id": receipt.SubmissionID})
}

// manageFormID extracts the form id from a /forms/manage/{id} shaped path,
// rejecting anything whose first wildcard segment is not "manage".
func (h *httpHandler) manageFormID(c *gin.Context) (string, bool) {
	if c.Param("slug") != manageSegment {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
		return "", false
	}
	return c.Param("id"), true
}

func (h *httpHandler) handleManageGet(c *gin.Context) {
	formID, ok := h.manageFormID(c)
	if !ok {
		return
	}
	identity, ok := h.requireIdentity(c)
	if !ok {
		return
	}
	form, err := h.formsService.GetForManage(c.Request.Context(), identity, formID)
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	view, err := viewOfForm(form)
	if err != nil {
		h.logger.Error("failed to render form", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *httpHandler) handleManageUpdate(c *gin.Context) {
	formID, ok := h.manageFormID(c)
	if !ok {
		return
	}
	identity, ok := h.requireIdentity(c)
	if !ok {
		return
	}
	var request formDraftPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	form, err := h.formsService.UpdateForm(c.Request.Context(), identity, formID, request.draft())
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	view, err := viewOfForm(form)
	if err != nil {
		h.logger.Error("failed to render form", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *httpHandler) handleManageDelete(c *gin.Context) {
	formID, ok := h.manageFormID(c)
	if !ok {
		return
	}
	identity, ok := h.requireIdentity(c)
	if !ok {
		return
	}
	if err := h.formsService.DeleteForm(c.Request.Context(), identity, formID); err != nil {
		h.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "form deleted"})
}

func (h *httpHandler) handleManageSub(c *gin.Context) {
	formID, ok := h.manageFormID(c)
	if !ok {
		return
	}
	switch c.Param("sub") {
	case "submissions":
		h.handleListSubmissions(c, formID)
	case "events":
		h.handleSubmissionEvents(c, formID)
	default:
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
	}
}

func (h *httpHandler) handleListSubmissions(c *gin.Context, formID string) {
	identity, ok := h.requireIdentity(c)
	if !ok {
		return
	}
	submissions, err := h.formsService.ListSubmissions(c.Request.Context(), identity, formID)
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	views := make([]submissionView, 0, len(submissions))
	for index := range submissions {
		submission := &submissions[index]
		values, decodeErr := submission.Values()
		if decodeErr != nil {
			h.logger.Error("failed to decode submission", zap.Error(decodeErr))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
			return
		}
		views = append(views, submissionView{
			ID:             submission.ID,
			Data:           values.JSONObject(),
			RequesterIP:    submission.RequesterIP,
			RequesterAgent: submission.RequesterAgent,
			SubmittedAt:    submission.SubmittedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"submissions": views})
}

// handleSubmissionEvents streams new-submission events to the form owner
// over server-sent events until the client disconnects.
func (h *httpHandler) handleSubmissionEvents(c *gin.Context, formID string) {
	identity, ok := h.requireIdentity(c)
	if !ok {
		return
	}
	form, err := h.formsService.GetForManage(c.Request.Context(), identity, formID)
	if err != nil {
		h.writeServiceError(c, err)
		return
	}

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.WriteHeader(http.StatusOK)
	c.Writer.Flush()

	ctx := c.Request.Context()
	stream, cancel := h.dispatcher.Subscribe(ctx, form.ID)
	defer cancel()

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case event, open := <-stream:
			if !open {
				return
			}
			c.SSEvent(submissionEventName, gin.H{
				"form_id":       event.FormID,
				"submission_id": event.SubmissionID,
				"submitted_at":  event.SubmittedAt.UTC().Format(time.RFC3339),
			})
			c.Writer.Flush()
		case tick := <-heartbeat.C:
			c.SSEvent(heartbeatEventName, gin.H{"time": tick.UTC().Format(time.RFC3339)})
			c.Writer.Flush()
		}
	}
}

func (h *httpHandler) handleStats(c *gin.Context) {
	identity, ok := h.requireIdentity(c)
	if !ok {
		return
	}
	stats, err := h.formsService.Stats(c.Request.Context(), identity.ID)
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}
