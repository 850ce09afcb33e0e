package api

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"cryoqueue-backend/internal/lifecycle"
	"cryoqueue-backend/internal/matcher"
	"cryoqueue-backend/internal/model"
)

type requirementRequest struct {
	MinTemp         float64  `json:"min_temp"`
	MaxTemp         *float64 `json:"max_temp"`
	BFieldX         float64  `json:"b_field_x"`
	BFieldY         float64  `json:"b_field_y"`
	BFieldZ         float64  `json:"b_field_z"`
	Direction       string   `json:"b_field_direction"`
	DCLines         int      `json:"dc_lines"`
	RFLines         int      `json:"rf_lines"`
	Daughterboard   string   `json:"daughterboard"`
	RequiresOptical bool     `json:"requires_optical"`
	DurationHours   float64  `json:"estimated_duration_hours"`
}

func (r requirementRequest) requirement() matcher.Requirement {
	return matcher.Requirement{
		MinTemp:         r.MinTemp,
		MaxTemp:         r.MaxTemp,
		BFieldX:         r.BFieldX,
		BFieldY:         r.BFieldY,
		BFieldZ:         r.BFieldZ,
		Direction:       model.FieldDirection(r.Direction),
		DCLines:         r.DCLines,
		RFLines:         r.RFLines,
		Daughterboard:   r.Daughterboard,
		RequiresOptical: r.RequiresOptical,
		DurationHours:   r.DurationHours,
	}
}

type submitRequest struct {
	requirementRequest
	Title               string `json:"title" binding:"required"`
	Description         string `json:"description"`
	SpecialRequirements string `json:"special_requirements"`
	RushJob             bool   `json:"rush_job"`
}

type submitResponse struct {
	Entry       entryView             `json:"entry"`
	Assigned    bool                  `json:"assigned"`
	WaitHours   float64               `json:"wait_hours,omitempty"`
	AvailableAt string                `json:"available_at,omitempty"`
	Rejections  []matcher.Rejection   `json:"rejections,omitempty"`
	Stages      []matcher.StageResult `json:"stages,omitempty"`
}

// SubmitEntry matches a new request to a machine and queues it.
func (h *Handler) SubmitEntry(c *gin.Context) {
	var req submitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	res, err := h.svc.Submit(c.Request.Context(), actorFrom(c), lifecycle.SubmitRequest{
		Title:               req.Title,
		Description:         req.Description,
		SpecialRequirements: req.SpecialRequirements,
		Requirement:         req.requirement(),
		RushJob:             req.RushJob,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	resp := submitResponse{Entry: newEntryView(res.Entry)}
	switch {
	case res.Match != nil:
		resp.Assigned = true
		resp.WaitHours = res.Match.Wait.Hours()
		resp.AvailableAt = res.Match.AvailableAt.Format(timeLayout)
		resp.Rejections = res.Match.Rejections
		resp.Stages = res.Match.Stages
	case res.NoMatch != nil:
		resp.Rejections = res.NoMatch.Rejections
	}
	c.JSON(http.StatusCreated, resp)
}

// PreviewMatch lists the machines that could serve a requirement without
// queueing anything.
func (h *Handler) PreviewMatch(c *gin.Context) {
	var req requirementRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	machines, rejections, err := h.svc.CompatibleMachines(c.Request.Context(), req.requirement())
	if err != nil {
		respondError(c, err)
		return
	}
	views := make([]machineView, len(machines))
	for i := range machines {
		views[i] = h.newMachineView(&machines[i], 0)
	}
	c.JSON(http.StatusOK, gin.H{"compatible": views, "rejections": rejections})
}

// ListEntries returns the caller's entries, optionally only active ones.
func (h *Handler) ListEntries(c *gin.Context) {
	activeOnly, _ := strconv.ParseBool(c.Query("active"))
	entries, err := h.store.UserEntries(c.Request.Context(), actorFrom(c).UserID, activeOnly)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, newEntryViews(entries))
}

// GetEntry returns one entry. Only its owner and admins may read it.
func (h *Handler) GetEntry(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	e, err := h.store.GetEntry(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	actor := actorFrom(c)
	if e.UserID != actor.UserID && !actor.Admin {
		respondError(c, lifecycle.ErrForbidden)
		return
	}
	c.JSON(http.StatusOK, newEntryView(e))
}

type entryOp func(ctx context.Context, actor lifecycle.Actor, entryID int64) (*model.QueueEntry, error)

// transition adapts a lifecycle operation that needs nothing beyond the
// entry id.
func (h *Handler) transition(op entryOp) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := idParam(c, "id")
		if !ok {
			return
		}
		e, err := op(c.Request.Context(), actorFrom(c), id)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, newEntryView(e))
	}
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

// CancelEntry cancels a queued or running entry.
func (h *Handler) CancelEntry(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	var req cancelRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	e, err := h.svc.Cancel(c.Request.Context(), actorFrom(c), id, req.Reason)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, newEntryView(e))
}

type positionRequest struct {
	Position int `json:"position" binding:"required,min=1"`
}

// SetPosition moves an entry to an absolute queue position.
func (h *Handler) SetPosition(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	var req positionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	e, err := h.svc.SetPosition(c.Request.Context(), actorFrom(c), id, req.Position)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, newEntryView(e))
}

type reassignRequest struct {
	MachineID int64 `json:"machine_id" binding:"required,min=1"`
}

// Reassign moves an entry to the back of another machine's queue.
func (h *Handler) Reassign(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	var req reassignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	e, err := h.svc.Reassign(c.Request.Context(), actorFrom(c), id, req.MachineID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, newEntryView(e))
}
