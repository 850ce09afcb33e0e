package model

import "time"

// EntryStatus is the lifecycle state of a reservation request.
type EntryStatus string

const (
	EntryQueued    EntryStatus = "queued"
	EntryRunning   EntryStatus = "running"
	EntryCompleted EntryStatus = "completed"
	EntryCancelled EntryStatus = "cancelled"
)

// Active reports whether the status still occupies a machine's queue.
func (s EntryStatus) Active() bool {
	return s == EntryQueued || s == EntryRunning
}

// QueueEntry is one user request for machine time.
type QueueEntry struct {
	ID          int64  `gorm:"primaryKey"`
	UserID      int64  `gorm:"not null;index"`
	Username    string `gorm:"size:150;not null"`
	Title       string `gorm:"size:200;not null"`
	Description string

	RequiredMinTemp         float64 `gorm:"not null"`
	RequiredMaxTemp         *float64
	RequiredBFieldX         float64        `gorm:"column:required_b_field_x;not null;default:0"`
	RequiredBFieldY         float64        `gorm:"column:required_b_field_y;not null;default:0"`
	RequiredBFieldZ         float64        `gorm:"column:required_b_field_z;not null;default:0"`
	RequiredBFieldDirection FieldDirection `gorm:"column:required_b_field_direction;size:30"`
	RequiredDCLines         int            `gorm:"column:required_dc_lines;not null;default:0"`
	RequiredRFLines         int            `gorm:"column:required_rf_lines;not null;default:0"`
	RequiredDaughterboard   string         `gorm:"size:100"`
	RequiresOptical         bool           `gorm:"not null;default:false"`
	SpecialRequirements     string

	EstimatedDurationHours float64 `gorm:"not null"`

	AssignedMachineID  *int64 `gorm:"index"`
	MachineNameText    string `gorm:"size:100"`
	QueuePosition      *int
	Status             EntryStatus `gorm:"size:20;not null;index"`
	SubmittedAt        time.Time   `gorm:"not null"`
	StartedAt          *time.Time
	CompletedAt        *time.Time
	EstimatedStartTime *time.Time

	IsRushJob          bool `gorm:"not null;default:false"`
	RushJobSubmittedAt *time.Time

	ReminderDueAt               *time.Time
	LastReminderSentAt          *time.Time
	ReminderSnoozedUntil        *time.Time
	CheckinReminderDueAt        *time.Time
	LastCheckinReminderSentAt   *time.Time
	CheckinReminderSnoozedUntil *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time

	AssignedMachine *Machine `gorm:"foreignKey:AssignedMachineID;constraint:OnDelete:SET NULL"`
}

// Duration returns the user's estimated run length.
func (e *QueueEntry) Duration() time.Duration {
	return time.Duration(e.EstimatedDurationHours * float64(time.Hour))
}

// Position returns the queue position, or 0 when the entry holds none.
func (e *QueueEntry) Position() int {
	if e.QueuePosition == nil {
		return 0
	}
	return *e.QueuePosition
}

// MachineID returns the assigned machine id, or 0 when unassigned.
func (e *QueueEntry) MachineID() int64 {
	if e.AssignedMachineID == nil {
		return 0
	}
	return *e.AssignedMachineID
}
