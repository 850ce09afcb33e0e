package model

import "time"

// MachineStatus is the operational state of a cryostat.
type MachineStatus string

const (
	MachineIdle        MachineStatus = "idle"
	MachineRunning     MachineStatus = "running"
	MachineCooldown    MachineStatus = "cooldown"
	MachineMaintenance MachineStatus = "maintenance"
)

// FieldDirection describes which magnetic field orientations a machine supports.
type FieldDirection string

const (
	DirectionNone                     FieldDirection = "none"
	DirectionParallel                 FieldDirection = "parallel"
	DirectionPerpendicular            FieldDirection = "perpendicular"
	DirectionParallelAndPerpendicular FieldDirection = "parallel_and_perpendicular"
)

// OpticalCapability is the optical access level of a machine.
type OpticalCapability string

const (
	OpticalNone               OpticalCapability = "none"
	OpticalAvailable          OpticalCapability = "available"
	OpticalWithWorkConditions OpticalCapability = "with_work"
	OpticalUnderConstruction  OpticalCapability = "under_construction"
)

// TelemetryAPI identifies the temperature endpoint flavour of a machine.
type TelemetryAPI string

const (
	TelemetryNone          TelemetryAPI = "none"
	TelemetryPort5001      TelemetryAPI = "port5001"
	TelemetryQuantumDesign TelemetryAPI = "quantum_design"
)

// Machine is a cryostat that users reserve time on.
type Machine struct {
	ID          int64  `gorm:"primaryKey"`
	Name        string `gorm:"uniqueIndex;size:100;not null"`
	Description string
	Location    string `gorm:"size:200"`

	MinTemp             float64           `gorm:"not null"`
	MaxTemp             float64           `gorm:"not null"`
	BFieldX             float64           `gorm:"column:b_field_x;not null;default:0"`
	BFieldY             float64           `gorm:"column:b_field_y;not null;default:0"`
	BFieldZ             float64           `gorm:"column:b_field_z;not null;default:0"`
	BFieldDirection     FieldDirection    `gorm:"column:b_field_direction;size:30;not null"`
	DCLines             int               `gorm:"column:dc_lines;not null;default:0"`
	RFLines             int               `gorm:"column:rf_lines;not null;default:0"`
	DaughterboardType   string            `gorm:"size:100"`
	OpticalCapabilities OpticalCapability `gorm:"size:30;not null"`
	CooldownHours       int               `gorm:"not null;default:0"`

	Status               MachineStatus `gorm:"size:20;not null;index"`
	IsAvailable          bool          `gorm:"not null"`
	CurrentUserID        *int64
	EstimatedAvailableAt *time.Time

	IPAddress         string       `gorm:"size:64"`
	APIType           TelemetryAPI `gorm:"size:20"`
	APIPort           int
	CachedTemperature *float64
	CachedOnline      bool
	LastTempUpdate    *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Cooldown returns the post-use cooldown as a duration.
func (m *Machine) Cooldown() time.Duration {
	return time.Duration(m.CooldownHours) * time.Hour
}

// HasTelemetry reports whether the machine exposes a temperature endpoint.
func (m *Machine) HasTelemetry() bool {
	return m.IPAddress != "" && m.APIType != "" && m.APIType != TelemetryNone
}

func (m *Machine) fresh(now time.Time, staleAfter time.Duration) bool {
	return m.LastTempUpdate != nil && now.Sub(*m.LastTempUpdate) <= staleAfter
}

// LiveTemperature returns the cached reading, or nil once it is older than
// staleAfter.
func (m *Machine) LiveTemperature(now time.Time, staleAfter time.Duration) *float64 {
	if m.LastTempUpdate != nil && !m.fresh(now, staleAfter) {
		return nil
	}
	return m.CachedTemperature
}

// Online reports the cached reachability. Stale readings count as offline.
func (m *Machine) Online(now time.Time, staleAfter time.Duration) bool {
	if !m.HasTelemetry() {
		return false
	}
	return m.CachedOnline && m.fresh(now, staleAfter)
}
