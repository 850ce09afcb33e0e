package matcher

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cryoqueue-backend/internal/clock"
	"cryoqueue-backend/internal/model"
)

// fakeSource is an in-memory MachineSource.
type fakeSource struct {
	machines []model.Machine
	queues   map[int64][]model.QueueEntry
	err      error
}

func (f *fakeSource) ListAvailableMachines(context.Context) ([]model.Machine, error) {
	if f.err != nil {
		return nil, f.err
	}
	var out []model.Machine
	for _, m := range f.machines {
		if m.IsAvailable && m.Status != model.MachineMaintenance {
			out = append(out, m)
		}
	}
	return out, nil
}

func (f *fakeSource) QueuedEntries(_ context.Context, machineID int64) ([]model.QueueEntry, error) {
	return f.queues[machineID], nil
}

var testNow = time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)

func ptr[T any](v T) *T { return &v }

func machineA() model.Machine {
	return model.Machine{
		ID: 1, Name: "A", MinTemp: 0.01, MaxTemp: 300, BFieldZ: 9,
		DCLines: 12, RFLines: 2, CooldownHours: 8,
		Status: model.MachineIdle, IsAvailable: true, BFieldDirection: model.DirectionNone,
	}
}

func machineB() model.Machine {
	return model.Machine{
		ID: 2, Name: "B", MinTemp: 0.05, MaxTemp: 300, BFieldZ: 12,
		DCLines: 16, RFLines: 4, CooldownHours: 6,
		Status: model.MachineIdle, IsAvailable: true, BFieldDirection: model.DirectionNone,
	}
}

func newMatcher() *Matcher {
	return New(clock.NewFake(testNow))
}

func TestFindBest_TemperatureFiltersFirst(t *testing.T) {
	src := &fakeSource{machines: []model.Machine{machineA(), machineB()}}

	match, err := newMatcher().FindBest(context.Background(), src, Requirement{MinTemp: 0.02})
	require.NoError(t, err)
	assert.Equal(t, "A", match.Machine.Name)
	require.Len(t, match.Rejections, 1)
	assert.Equal(t, "B", match.Rejections[0].Machine)
	assert.Equal(t, "temperature", match.Rejections[0].Stage)
	assert.Equal(t, "B: Min temp 0.05K > required 0.02K", match.Rejections[0].String())
}

func TestFindBest_FieldSelectsB(t *testing.T) {
	src := &fakeSource{machines: []model.Machine{machineA(), machineB()}}

	match, err := newMatcher().FindBest(context.Background(), src, Requirement{MinTemp: 0.1, BFieldZ: 10})
	require.NoError(t, err)
	assert.Equal(t, "B", match.Machine.Name)
}

func TestFindBest_ShortestWaitWins(t *testing.T) {
	x := model.Machine{ID: 10, Name: "X", MinTemp: 1.5, MaxTemp: 300, CooldownHours: 8, Status: model.MachineIdle, IsAvailable: true}
	y := model.Machine{ID: 11, Name: "Y", MinTemp: 1.5, MaxTemp: 300, CooldownHours: 4, Status: model.MachineIdle, IsAvailable: true}
	src := &fakeSource{
		machines: []model.Machine{x, y},
		queues: map[int64][]model.QueueEntry{
			10: {{ID: 100, EstimatedDurationHours: 10}},
			11: {{ID: 101, EstimatedDurationHours: 2}},
		},
	}

	match, err := newMatcher().FindBest(context.Background(), src, Requirement{MinTemp: 2})
	require.NoError(t, err)
	assert.Equal(t, "Y", match.Machine.Name)
	assert.Equal(t, 6*time.Hour, match.Wait)
	assert.Equal(t, testNow.Add(6*time.Hour), match.AvailableAt)
	require.Len(t, match.Candidates, 2)
	assert.Equal(t, 18*time.Hour, match.Candidates[0].Wait)
}

func TestFindBest_ImpossibleRequest(t *testing.T) {
	src := &fakeSource{machines: []model.Machine{machineA(), machineB()}}

	match, err := newMatcher().FindBest(context.Background(), src, Requirement{MinTemp: 0.001})
	assert.Nil(t, match)

	var noMatch *NoMatchError
	require.True(t, errors.As(err, &noMatch))
	assert.Equal(t, 2, noMatch.Considered)
	require.Len(t, noMatch.Rejections, 2)
	for _, r := range noMatch.Rejections {
		assert.Equal(t, "temperature", r.Stage)
		assert.NotEmpty(t, r.Reason)
	}
	assert.Contains(t, err.Error(), "A: Min temp 0.01K > required 0.001K")
}

func TestFindBest_NoMachinesAvailable(t *testing.T) {
	m := machineA()
	m.Status = model.MachineMaintenance
	src := &fakeSource{machines: []model.Machine{m}}

	_, err := newMatcher().FindBest(context.Background(), src, Requirement{MinTemp: 1})
	var noMatch *NoMatchError
	require.True(t, errors.As(err, &noMatch))
	assert.Zero(t, noMatch.Considered)
}

func TestFindBest_SourceError(t *testing.T) {
	src := &fakeSource{err: errors.New("db down")}

	_, err := newMatcher().FindBest(context.Background(), src, Requirement{})
	require.Error(t, err)
	var noMatch *NoMatchError
	assert.False(t, errors.As(err, &noMatch))
}

func TestFindBest_TieKeepsIterationOrder(t *testing.T) {
	first := machineA()
	second := machineA()
	second.ID, second.Name = 3, "A2"
	src := &fakeSource{machines: []model.Machine{first, second}}

	for i := 0; i < 5; i++ {
		match, err := newMatcher().FindBest(context.Background(), src, Requirement{MinTemp: 1})
		require.NoError(t, err)
		assert.Equal(t, "A", match.Machine.Name)
	}
}

func TestFindBest_RemainingJobCountsTowardWait(t *testing.T) {
	busy := machineA()
	busy.Status = model.MachineRunning
	busy.EstimatedAvailableAt = ptr(testNow.Add(3 * time.Hour))
	idle := machineB()
	idle.ID, idle.Name = 5, "Z"
	src := &fakeSource{
		machines: []model.Machine{busy, idle},
		queues:   map[int64][]model.QueueEntry{5: {{ID: 1, EstimatedDurationHours: 1}}},
	}

	match, err := newMatcher().FindBest(context.Background(), src, Requirement{MinTemp: 1})
	require.NoError(t, err)
	assert.Equal(t, "A", match.Machine.Name)
	assert.Equal(t, 3*time.Hour, match.Wait)
}

func TestWaitTime_PastAvailabilityIgnored(t *testing.T) {
	m := machineA()
	m.EstimatedAvailableAt = ptr(testNow.Add(-time.Hour))

	assert.Zero(t, WaitTime(&m, nil, testNow))
	assert.Equal(t, 9*time.Hour+30*time.Minute, WaitTime(&m, []model.QueueEntry{{EstimatedDurationHours: 1.5}}, testNow))
}

func TestCheckDirection(t *testing.T) {
	testCases := []struct {
		have model.FieldDirection
		want model.FieldDirection
		ok   bool
	}{
		{model.DirectionNone, "", true},
		{model.DirectionNone, model.DirectionNone, true},
		{model.DirectionNone, model.DirectionParallel, false},
		{model.DirectionParallel, model.DirectionParallel, true},
		{model.DirectionPerpendicular, model.DirectionParallel, false},
		{model.DirectionParallelAndPerpendicular, model.DirectionParallel, true},
		{model.DirectionParallelAndPerpendicular, model.DirectionPerpendicular, true},
		{model.DirectionParallel, model.DirectionParallelAndPerpendicular, false},
		{model.DirectionParallelAndPerpendicular, model.DirectionParallelAndPerpendicular, true},
	}

	for _, tc := range testCases {
		t.Run(string(tc.have)+"/"+string(tc.want), func(t *testing.T) {
			m := model.Machine{BFieldDirection: tc.have}
			assert.Equal(t, tc.ok, checkDirection(&m, Requirement{Direction: tc.want}) == "")
		})
	}
}

func TestPipelineStages(t *testing.T) {
	base := model.Machine{
		Name: "M", MinTemp: 1, MaxTemp: 300, BFieldX: 1, BFieldY: 1, BFieldZ: 9,
		DCLines: 8, RFLines: 2, DaughterboardType: "QBoard I or QBoard II",
		OpticalCapabilities: model.OpticalNone,
	}

	testCases := []struct {
		name  string
		req   Requirement
		stage string
	}{
		{name: "max temp above range", req: Requirement{MinTemp: 2, MaxTemp: ptr(400.0)}, stage: "temperature"},
		{name: "x field too strong", req: Requirement{MinTemp: 2, BFieldX: 2}, stage: "b_field"},
		{name: "direction unsupported", req: Requirement{MinTemp: 2, Direction: model.DirectionPerpendicular}, stage: "b_field_direction"},
		{name: "too many rf lines", req: Requirement{MinTemp: 2, RFLines: 3}, stage: "connections"},
		{name: "missing daughterboard", req: Requirement{MinTemp: 2, Daughterboard: "Attocube"}, stage: "daughterboard"},
		{name: "optical is not enforced", req: Requirement{MinTemp: 2, RequiresOptical: true}, stage: ""},
		{name: "composite daughterboard", req: Requirement{MinTemp: 2, Daughterboard: "qboard ii"}, stage: ""},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			survivors, _, rejections := filter([]model.Machine{base}, tc.req)
			if tc.stage == "" {
				assert.Len(t, survivors, 1)
				assert.Empty(t, rejections)
				return
			}
			assert.Empty(t, survivors)
			require.Len(t, rejections, 1)
			assert.Equal(t, tc.stage, rejections[0].Stage)
		})
	}
}

// Relaxing a requirement never shrinks the compatible set.
func TestCompatible_Monotonic(t *testing.T) {
	src := &fakeSource{machines: []model.Machine{machineA(), machineB()}}
	m := newMatcher()

	strict := Requirement{MinTemp: 0.02, BFieldZ: 9, DCLines: 12}
	relaxed := Requirement{MinTemp: 0.1, BFieldZ: 5, DCLines: 4}

	strictSet, _, err := m.Compatible(context.Background(), src, strict)
	require.NoError(t, err)
	relaxedSet, _, err := m.Compatible(context.Background(), src, relaxed)
	require.NoError(t, err)

	names := map[string]bool{}
	for _, mm := range relaxedSet {
		names[mm.Name] = true
	}
	for _, mm := range strictSet {
		assert.True(t, names[mm.Name], "%s compatible under strict but not relaxed", mm.Name)
	}
	assert.Len(t, relaxedSet, 2)
}

func TestRequirementFromEntry(t *testing.T) {
	e := &model.QueueEntry{
		RequiredMinTemp: 0.3, RequiredMaxTemp: ptr(4.0), RequiredBFieldZ: 7,
		RequiredBFieldDirection: model.DirectionParallel, RequiredDCLines: 4,
		RequiredDaughterboard: "QBoard I", RequiresOptical: true, EstimatedDurationHours: 5,
	}
	r := RequirementFromEntry(e)

	assert.Equal(t, 0.3, r.MinTemp)
	assert.Equal(t, 4.0, *r.MaxTemp)
	assert.Equal(t, 7.0, r.BFieldZ)
	assert.Equal(t, model.DirectionParallel, r.Direction)
	assert.Equal(t, "QBoard I", r.Daughterboard)
	assert.True(t, r.RequiresOptical)
	assert.Equal(t, 5.0, r.DurationHours)
}
