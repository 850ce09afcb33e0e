package api

import (
	"time"

	"cryoqueue-backend/internal/model"
)

type machineView struct {
	ID                   int64      `json:"id"`
	Name                 string     `json:"name"`
	Description          string     `json:"description,omitempty"`
	Location             string     `json:"location,omitempty"`
	MinTemp              float64    `json:"min_temp"`
	MaxTemp              float64    `json:"max_temp"`
	BFieldX              float64    `json:"b_field_x"`
	BFieldY              float64    `json:"b_field_y"`
	BFieldZ              float64    `json:"b_field_z"`
	BFieldDirection      string     `json:"b_field_direction"`
	DCLines              int        `json:"dc_lines"`
	RFLines              int        `json:"rf_lines"`
	DaughterboardType    string     `json:"daughterboard_type,omitempty"`
	OpticalCapabilities  string     `json:"optical_capabilities"`
	CooldownHours        int        `json:"cooldown_hours"`
	Status               string     `json:"status"`
	IsAvailable          bool       `json:"is_available"`
	CurrentUserID        *int64     `json:"current_user_id"`
	EstimatedAvailableAt *time.Time `json:"estimated_available_at"`
	Temperature          *float64   `json:"temperature"`
	Online               bool       `json:"online"`
	QueueLength          int        `json:"queue_length"`
}

func (h *Handler) newMachineView(m *model.Machine, queueLength int) machineView {
	now := h.clock.Now()
	return machineView{
		ID:                   m.ID,
		Name:                 m.Name,
		Description:          m.Description,
		Location:             m.Location,
		MinTemp:              m.MinTemp,
		MaxTemp:              m.MaxTemp,
		BFieldX:              m.BFieldX,
		BFieldY:              m.BFieldY,
		BFieldZ:              m.BFieldZ,
		BFieldDirection:      string(m.BFieldDirection),
		DCLines:              m.DCLines,
		RFLines:              m.RFLines,
		DaughterboardType:    m.DaughterboardType,
		OpticalCapabilities:  string(m.OpticalCapabilities),
		CooldownHours:        m.CooldownHours,
		Status:               string(m.Status),
		IsAvailable:          m.IsAvailable,
		CurrentUserID:        m.CurrentUserID,
		EstimatedAvailableAt: m.EstimatedAvailableAt,
		Temperature:          m.LiveTemperature(now, h.staleAfter),
		Online:               m.Online(now, h.staleAfter),
		QueueLength:          queueLength,
	}
}

type entryView struct {
	ID                     int64      `json:"id"`
	UserID                 int64      `json:"user_id"`
	Username               string     `json:"username"`
	Title                  string     `json:"title"`
	Description            string     `json:"description,omitempty"`
	RequiredMinTemp        float64    `json:"required_min_temp"`
	RequiredMaxTemp        *float64   `json:"required_max_temp"`
	RequiredBFieldX        float64    `json:"required_b_field_x"`
	RequiredBFieldY        float64    `json:"required_b_field_y"`
	RequiredBFieldZ        float64    `json:"required_b_field_z"`
	RequiredDirection      string     `json:"required_b_field_direction,omitempty"`
	RequiredDCLines        int        `json:"required_dc_lines"`
	RequiredRFLines        int        `json:"required_rf_lines"`
	RequiredDaughterboard  string     `json:"required_daughterboard,omitempty"`
	RequiresOptical        bool       `json:"requires_optical"`
	SpecialRequirements    string     `json:"special_requirements,omitempty"`
	EstimatedDurationHours float64    `json:"estimated_duration_hours"`
	MachineID              *int64     `json:"assigned_machine_id"`
	MachineName            string     `json:"machine_name,omitempty"`
	QueuePosition          *int       `json:"queue_position"`
	Status                 string     `json:"status"`
	SubmittedAt            time.Time  `json:"submitted_at"`
	StartedAt              *time.Time `json:"started_at,omitempty"`
	CompletedAt            *time.Time `json:"completed_at,omitempty"`
	EstimatedStartTime     *time.Time `json:"estimated_start_time,omitempty"`
	IsRushJob              bool       `json:"is_rush_job"`
	RushJobSubmittedAt     *time.Time `json:"rush_job_submitted_at,omitempty"`
	ReminderSnoozedUntil   *time.Time `json:"reminder_snoozed_until,omitempty"`
	CheckinSnoozedUntil    *time.Time `json:"checkin_reminder_snoozed_until,omitempty"`
}

func newEntryView(e *model.QueueEntry) entryView {
	return entryView{
		ID:                     e.ID,
		UserID:                 e.UserID,
		Username:               e.Username,
		Title:                  e.Title,
		Description:            e.Description,
		RequiredMinTemp:        e.RequiredMinTemp,
		RequiredMaxTemp:        e.RequiredMaxTemp,
		RequiredBFieldX:        e.RequiredBFieldX,
		RequiredBFieldY:        e.RequiredBFieldY,
		RequiredBFieldZ:        e.RequiredBFieldZ,
		RequiredDirection:      string(e.RequiredBFieldDirection),
		RequiredDCLines:        e.RequiredDCLines,
		RequiredRFLines:        e.RequiredRFLines,
		RequiredDaughterboard:  e.RequiredDaughterboard,
		RequiresOptical:        e.RequiresOptical,
		SpecialRequirements:    e.SpecialRequirements,
		EstimatedDurationHours: e.EstimatedDurationHours,
		MachineID:              e.AssignedMachineID,
		MachineName:            e.MachineNameText,
		QueuePosition:          e.QueuePosition,
		Status:                 string(e.Status),
		SubmittedAt:            e.SubmittedAt,
		StartedAt:              e.StartedAt,
		CompletedAt:            e.CompletedAt,
		EstimatedStartTime:     e.EstimatedStartTime,
		IsRushJob:              e.IsRushJob,
		RushJobSubmittedAt:     e.RushJobSubmittedAt,
		ReminderSnoozedUntil:   e.ReminderSnoozedUntil,
		CheckinSnoozedUntil:    e.CheckinReminderSnoozedUntil,
	}
}

func newEntryViews(entries []model.QueueEntry) []entryView {
	out := make([]entryView, len(entries))
	for i := range entries {
		out[i] = newEntryView(&entries[i])
	}
	return out
}

type notificationView struct {
	ID        int64     `json:"id"`
	Kind      string    `json:"kind"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	EntryID   *int64    `json:"related_entry_id"`
	MachineID *int64    `json:"related_machine_id"`
	IsRead    bool      `json:"is_read"`
	CreatedAt time.Time `json:"created_at"`
}

func newNotificationView(n *model.Notification) notificationView {
	return notificationView{
		ID:        n.ID,
		Kind:      string(n.Kind),
		Title:     n.Title,
		Message:   n.Message,
		EntryID:   n.RelatedEntryID,
		MachineID: n.RelatedMachineID,
		IsRead:    n.IsRead,
		CreatedAt: n.CreatedAt,
	}
}
