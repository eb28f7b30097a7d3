package handlers

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/psillyops/psillyops-backend/internal/logger"
	"github.com/psillyops/psillyops-backend/internal/requestdata"
	"github.com/psillyops/psillyops-backend/internal/services"
	"github.com/psillyops/psillyops-backend/internal/types"
)

type ProductionRunHandler struct {
	log        *logger.Logger
	runService services.ProductionRunService
	proposals  services.RunEditProposalService
	activity   services.ActivityService
	tokens     services.TrackingTokenService
}

func NewProductionRunHandler(
	log *logger.Logger,
	runService services.ProductionRunService,
	proposals services.RunEditProposalService,
	activity services.ActivityService,
	tokens services.TrackingTokenService,
) *ProductionRunHandler {
	return &ProductionRunHandler{
		log:        log.With("handler", "ProductionRunHandler"),
		runService: runService,
		proposals:  proposals,
		activity:   activity,
		tokens:     tokens,
	}
}

func actorFrom(c *gin.Context) (types.Actor, bool) {
	rd := requestdata.GetRequestData(c.Request.Context())
	if rd == nil || rd.UserID == uuid.Nil {
		return types.Actor{}, false
	}
	return rd.Actor(), true
}

func pathUUID(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "bad_request", err)
		return uuid.Nil, false
	}
	return id, true
}

func (h *ProductionRunHandler) CreateRun(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		RespondError(c, http.StatusUnauthorized, "unauthorized", nil)
		return
	}
	var body struct {
		ProductID uuid.UUID `json:"product_id"`
		Quantity  int       `json:"quantity"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		RespondError(c, http.StatusBadRequest, "bad_request", err)
		return
	}
	summary, err := h.runService.CreateRun(c.Request.Context(), body.ProductID, body.Quantity, actor)
	if err != nil {
		h.log.Warn("CreateRun failed", "error", err, "product_id", body.ProductID)
		RespondServiceError(c, err)
		return
	}
	RespondCreated(c, gin.H{"run": summary})
}

func (h *ProductionRunHandler) GetRun(c *gin.Context) {
	runID, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	detail, err := h.runService.GetRun(c.Request.Context(), runID)
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	RespondOK(c, detail)
}

func (h *ProductionRunHandler) ListRuns(c *gin.Context) {
	var statuses []string
	if raw := strings.TrimSpace(c.Query("status")); raw != "" {
		statuses = strings.Split(raw, ",")
	}
	details, err := h.runService.ListRuns(c.Request.Context(), statuses)
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	RespondOK(c, gin.H{"runs": details})
}

func (h *ProductionRunHandler) RunActivity(c *gin.Context) {
	runID, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	entries, err := h.activity.GetByEntity(c.Request.Context(), types.EntityTypeProductionRun, runID)
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	RespondOK(c, gin.H{"activity": entries})
}

func (h *ProductionRunHandler) ResolveTrackingToken(c *gin.Context) {
	code := strings.TrimSpace(c.Param("code"))
	token, err := h.tokens.Resolve(c.Request.Context(), code)
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	RespondOK(c, gin.H{"run_id": token.RunID})
}

func (h *ProductionRunHandler) stepTransition(c *gin.Context, fn func(types.Actor, uuid.UUID) (*services.StepTransitionResult, error)) {
	actor, ok := actorFrom(c)
	if !ok {
		RespondError(c, http.StatusUnauthorized, "unauthorized", nil)
		return
	}
	stepID, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	result, err := fn(actor, stepID)
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	RespondOK(c, result)
}

func (h *ProductionRunHandler) StartStep(c *gin.Context) {
	h.stepTransition(c, func(actor types.Actor, stepID uuid.UUID) (*services.StepTransitionResult, error) {
		return h.runService.StartStep(c.Request.Context(), stepID, actor)
	})
}

func (h *ProductionRunHandler) StopStep(c *gin.Context) {
	h.stepTransition(c, func(actor types.Actor, stepID uuid.UUID) (*services.StepTransitionResult, error) {
		return h.runService.StopStep(c.Request.Context(), stepID, actor)
	})
}

func (h *ProductionRunHandler) CompleteStep(c *gin.Context) {
	h.stepTransition(c, func(actor types.Actor, stepID uuid.UUID) (*services.StepTransitionResult, error) {
		return h.runService.CompleteStep(c.Request.Context(), stepID, actor)
	})
}

func (h *ProductionRunHandler) SkipStep(c *gin.Context) {
	var body struct {
		Reason string `json:"reason"`
	}
	// An absent body just means no reason; anything sent must parse.
	if err := c.ShouldBindJSON(&body); err != nil && !errors.Is(err, io.EOF) {
		RespondError(c, http.StatusBadRequest, "bad_request", err)
		return
	}
	h.stepTransition(c, func(actor types.Actor, stepID uuid.UUID) (*services.StepTransitionResult, error) {
		return h.runService.SkipStep(c.Request.Context(), stepID, body.Reason, actor)
	})
}

func (h *ProductionRunHandler) AddStep(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		RespondError(c, http.StatusUnauthorized, "unauthorized", nil)
		return
	}
	runID, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	var body struct {
		Label    string `json:"label"`
		Required bool   `json:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		RespondError(c, http.StatusBadRequest, "bad_request", err)
		return
	}
	step, err := h.runService.AddAdhocStep(c.Request.Context(), runID, body.Label, body.Required, actor)
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	RespondCreated(c, gin.H{"step": step})
}

func (h *ProductionRunHandler) UpdateStep(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		RespondError(c, http.StatusUnauthorized, "unauthorized", nil)
		return
	}
	stepID, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	var body services.StepOverride
	if err := c.ShouldBindJSON(&body); err != nil {
		RespondError(c, http.StatusBadRequest, "bad_request", err)
		return
	}
	step, err := h.runService.UpdateStepOverride(c.Request.Context(), stepID, body, actor)
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	RespondOK(c, gin.H{"step": step})
}

func (h *ProductionRunHandler) DeleteStep(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		RespondError(c, http.StatusUnauthorized, "unauthorized", nil)
		return
	}
	stepID, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	if err := h.runService.DeleteStep(c.Request.Context(), stepID, actor); err != nil {
		RespondServiceError(c, err)
		return
	}
	RespondOK(c, gin.H{"deleted": true})
}

func (h *ProductionRunHandler) ReorderSteps(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		RespondError(c, http.StatusUnauthorized, "unauthorized", nil)
		return
	}
	runID, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	var body struct {
		StepIDs []uuid.UUID `json:"step_ids"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		RespondError(c, http.StatusBadRequest, "bad_request", err)
		return
	}
	steps, err := h.runService.ReorderSteps(c.Request.Context(), runID, body.StepIDs, actor)
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	RespondOK(c, gin.H{"steps": steps})
}

func (h *ProductionRunHandler) ClaimStep(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		RespondError(c, http.StatusUnauthorized, "unauthorized", nil)
		return
	}
	stepID, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	step, err := h.runService.ClaimStep(c.Request.Context(), stepID, actor)
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	RespondOK(c, gin.H{"step": step})
}

func (h *ProductionRunHandler) AssignStep(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		RespondError(c, http.StatusUnauthorized, "unauthorized", nil)
		return
	}
	stepID, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	var body struct {
		UserID *uuid.UUID `json:"user_id"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		RespondError(c, http.StatusBadRequest, "bad_request", err)
		return
	}
	step, err := h.runService.AdminAssignStep(c.Request.Context(), stepID, body.UserID, actor)
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	RespondOK(c, gin.H{"step": step})
}

func (h *ProductionRunHandler) MyAssignedSteps(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		RespondError(c, http.StatusUnauthorized, "unauthorized", nil)
		return
	}
	steps, err := h.runService.MyAssignedSteps(c.Request.Context(), actor)
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	RespondOK(c, gin.H{"steps": steps})
}

func (h *ProductionRunHandler) MyActiveRuns(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		RespondError(c, http.StatusUnauthorized, "unauthorized", nil)
		return
	}
	runs, err := h.runService.MyActiveRuns(c.Request.Context(), actor)
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	RespondOK(c, gin.H{"runs": runs})
}

func (h *ProductionRunHandler) ProposeEdit(c *gin.Context) {
	if _, ok := actorFrom(c); !ok {
		RespondError(c, http.StatusUnauthorized, "unauthorized", nil)
		return
	}
	runID, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	var body struct {
		Text string `json:"text"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		RespondError(c, http.StatusBadRequest, "bad_request", err)
		return
	}
	proposal, err := h.proposals.Propose(c.Request.Context(), runID, body.Text)
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	RespondOK(c, proposal)
}

func (h *ProductionRunHandler) ConfirmEdit(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		RespondError(c, http.StatusUnauthorized, "unauthorized", nil)
		return
	}
	runID, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	var body struct {
		Ops []services.RunEditOp `json:"ops"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		RespondError(c, http.StatusBadRequest, "bad_request", err)
		return
	}
	results, err := h.proposals.Confirm(c.Request.Context(), runID, body.Ops, actor)
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	RespondOK(c, gin.H{"results": results})
}
