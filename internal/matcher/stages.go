package matcher

import (
	"fmt"

	"cryoqueue-backend/internal/model"
	"cryoqueue-backend/internal/parse"
)

// stage is one filter of the pipeline. check returns an empty string when
// the machine passes, otherwise the reason it was rejected.
type stage struct {
	name  string
	check func(m *model.Machine, r Requirement) string
}

// pipeline is evaluated in order; each stage only narrows the candidates.
var pipeline = []stage{
	{name: "temperature", check: checkTemperature},
	{name: "b_field", check: checkBField},
	{name: "b_field_direction", check: checkDirection},
	{name: "connections", check: checkConnections},
	{name: "daughterboard", check: checkDaughterboard},
	{name: "optical", check: checkOptical},
}

func checkTemperature(m *model.Machine, r Requirement) string {
	if m.MinTemp > r.MinTemp {
		return fmt.Sprintf("Min temp %gK > required %gK", m.MinTemp, r.MinTemp)
	}
	if r.MaxTemp != nil && m.MaxTemp < *r.MaxTemp {
		return fmt.Sprintf("Max temp %gK < required %gK", m.MaxTemp, *r.MaxTemp)
	}
	return ""
}

func checkBField(m *model.Machine, r Requirement) string {
	switch {
	case m.BFieldX < r.BFieldX:
		return fmt.Sprintf("B-field X %gT < required %gT", m.BFieldX, r.BFieldX)
	case m.BFieldY < r.BFieldY:
		return fmt.Sprintf("B-field Y %gT < required %gT", m.BFieldY, r.BFieldY)
	case m.BFieldZ < r.BFieldZ:
		return fmt.Sprintf("B-field Z %gT < required %gT", m.BFieldZ, r.BFieldZ)
	}
	return ""
}

func checkDirection(m *model.Machine, r Requirement) string {
	want := r.Direction
	if want == "" || want == model.DirectionNone {
		return ""
	}
	have := m.BFieldDirection
	if want == model.DirectionParallelAndPerpendicular {
		if have != model.DirectionParallelAndPerpendicular {
			return fmt.Sprintf("B-field direction %q does not support %q", have, want)
		}
		return ""
	}
	if have == model.DirectionParallelAndPerpendicular || have == want {
		return ""
	}
	return fmt.Sprintf("B-field direction %q does not support %q", have, want)
}

func checkConnections(m *model.Machine, r Requirement) string {
	if m.DCLines < r.DCLines {
		return fmt.Sprintf("DC lines %d < required %d", m.DCLines, r.DCLines)
	}
	if m.RFLines < r.RFLines {
		return fmt.Sprintf("RF lines %d < required %d", m.RFLines, r.RFLines)
	}
	return ""
}

func checkDaughterboard(m *model.Machine, r Requirement) string {
	if parse.BoardMatches(m.DaughterboardType, r.Daughterboard) {
		return ""
	}
	have := m.DaughterboardType
	if have == "" {
		have = "none"
	}
	return fmt.Sprintf("Daughterboard %q does not provide %q", have, r.Daughterboard)
}

// checkOptical never rejects. Optical access is recorded on requests but is
// not yet a matching criterion.
func checkOptical(*model.Machine, Requirement) string {
	return ""
}
