package matcher

import "cryoqueue-backend/internal/model"

// Requirement is the capability vector a measurement request needs.
type Requirement struct {
	MinTemp         float64
	MaxTemp         *float64
	BFieldX         float64
	BFieldY         float64
	BFieldZ         float64
	Direction       model.FieldDirection
	DCLines         int
	RFLines         int
	Daughterboard   string
	RequiresOptical bool
	DurationHours   float64
}

// RequirementFromEntry extracts the requirement vector of a queue entry.
func RequirementFromEntry(e *model.QueueEntry) Requirement {
	return Requirement{
		MinTemp:         e.RequiredMinTemp,
		MaxTemp:         e.RequiredMaxTemp,
		BFieldX:         e.RequiredBFieldX,
		BFieldY:         e.RequiredBFieldY,
		BFieldZ:         e.RequiredBFieldZ,
		Direction:       e.RequiredBFieldDirection,
		DCLines:         e.RequiredDCLines,
		RFLines:         e.RequiredRFLines,
		Daughterboard:   e.RequiredDaughterboard,
		RequiresOptical: e.RequiresOptical,
		DurationHours:   e.EstimatedDurationHours,
	}
}
