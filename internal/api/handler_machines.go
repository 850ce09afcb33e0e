package api

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"cryoqueue-backend/internal/lifecycle"
	"cryoqueue-backend/internal/model"
)

const timeLayout = time.RFC3339

// ListMachines returns every machine with its live temperature and the
// length of its queue.
func (h *Handler) ListMachines(c *gin.Context) {
	ctx := c.Request.Context()
	machines, err := h.store.ListMachines(ctx)
	if err != nil {
		respondError(c, err)
		return
	}

	views := make([]machineView, len(machines))
	for i := range machines {
		queued, err := h.store.QueuedEntries(ctx, machines[i].ID)
		if err != nil {
			respondError(c, err)
			return
		}
		views[i] = h.newMachineView(&machines[i], len(queued))
	}
	c.JSON(http.StatusOK, views)
}

// GetMachineQueue returns the running entry and the ordered queue of one
// machine.
func (h *Handler) GetMachineQueue(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	ctx := c.Request.Context()

	machine, err := h.store.GetMachine(ctx, id)
	if err != nil {
		respondError(c, err)
		return
	}
	queued, err := h.store.QueuedEntries(ctx, id)
	if err != nil {
		respondError(c, err)
		return
	}
	var running *entryView
	if r, err := h.store.RunningEntry(ctx, id); err == nil {
		v := newEntryView(r)
		running = &v
	}

	c.JSON(http.StatusOK, gin.H{
		"machine": h.newMachineView(machine, len(queued)),
		"running": running,
		"queue":   newEntryViews(queued),
	})
}

type createMachineRequest struct {
	Name                string  `json:"name" binding:"required"`
	Description         string  `json:"description"`
	Location            string  `json:"location"`
	MinTemp             float64 `json:"min_temp"`
	MaxTemp             float64 `json:"max_temp" binding:"required"`
	BFieldX             float64 `json:"b_field_x"`
	BFieldY             float64 `json:"b_field_y"`
	BFieldZ             float64 `json:"b_field_z"`
	BFieldDirection     string  `json:"b_field_direction"`
	DCLines             int     `json:"dc_lines" binding:"min=0"`
	RFLines             int     `json:"rf_lines" binding:"min=0"`
	DaughterboardType   string  `json:"daughterboard_type"`
	OpticalCapabilities string  `json:"optical_capabilities"`
	CooldownHours       int     `json:"cooldown_hours" binding:"min=0"`
	IPAddress           string  `json:"ip_address"`
	APIType             string  `json:"api_type"`
	APIPort             int     `json:"api_port"`
}

func (r createMachineRequest) machine() (*model.Machine, error) {
	if r.MaxTemp < r.MinTemp {
		return nil, invalid("max_temp is below min_temp")
	}
	direction := model.FieldDirection(r.BFieldDirection)
	switch direction {
	case "":
		direction = model.DirectionNone
	case model.DirectionNone, model.DirectionParallel, model.DirectionPerpendicular, model.DirectionParallelAndPerpendicular:
	default:
		return nil, invalid("unknown b_field_direction %q", r.BFieldDirection)
	}
	optical := model.OpticalCapability(r.OpticalCapabilities)
	if optical == "" {
		optical = model.OpticalNone
	}
	api := model.TelemetryAPI(r.APIType)
	switch api {
	case "", model.TelemetryNone, model.TelemetryPort5001, model.TelemetryQuantumDesign:
	default:
		return nil, invalid("unknown api_type %q", r.APIType)
	}

	return &model.Machine{
		Name:                strings.TrimSpace(r.Name),
		Description:         r.Description,
		Location:            r.Location,
		MinTemp:             r.MinTemp,
		MaxTemp:             r.MaxTemp,
		BFieldX:             r.BFieldX,
		BFieldY:             r.BFieldY,
		BFieldZ:             r.BFieldZ,
		BFieldDirection:     direction,
		DCLines:             r.DCLines,
		RFLines:             r.RFLines,
		DaughterboardType:   r.DaughterboardType,
		OpticalCapabilities: optical,
		CooldownHours:       r.CooldownHours,
		Status:              model.MachineIdle,
		IsAvailable:         true,
		IPAddress:           r.IPAddress,
		APIType:             api,
		APIPort:             r.APIPort,
	}, nil
}

// CreateMachine registers a new cryostat. Admin only.
func (h *Handler) CreateMachine(c *gin.Context) {
	if !requireAdmin(c) {
		return
	}
	var req createMachineRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	m, err := req.machine()
	if err != nil {
		respondError(c, err)
		return
	}
	if err := h.store.CreateMachine(c.Request.Context(), m); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, h.newMachineView(m, 0))
}

type availabilityRequest struct {
	Available *bool `json:"available" binding:"required"`
}

// SetMachineAvailability takes a machine in or out of maintenance.
func (h *Handler) SetMachineAvailability(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	var req availabilityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	m, err := h.svc.SetMachineAvailability(c.Request.Context(), actorFrom(c), id, *req.Available)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.newMachineView(m, 0))
}

// DeleteMachine removes a machine, cancelling everything queued on it.
func (h *Handler) DeleteMachine(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	if err := h.svc.DeleteMachine(c.Request.Context(), actorFrom(c), id); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", lifecycle.ErrInvalidRequest, fmt.Sprintf(format, args...))
}
