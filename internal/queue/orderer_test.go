package queue

import (
	"context"
	"math/rand"
	"sort"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cryoqueue-backend/internal/clock"
	"cryoqueue-backend/internal/model"
	"cryoqueue-backend/internal/store"
	"cryoqueue-backend/internal/testutil"
)

var testNow = time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	ctx     context.Context
	st      store.Store
	orderer *Orderer
	clock   *clock.Fake
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	c := clock.NewFake(testNow)
	return &fixture{
		ctx:     context.Background(),
		st:      store.NewGormStore(testutil.NewDB(t)),
		orderer: NewOrderer(c, zerolog.Nop()),
		clock:   c,
	}
}

func (f *fixture) machine(t *testing.T, name string, cooldown int) *model.Machine {
	t.Helper()
	m := &model.Machine{Name: name, MinTemp: 0.01, MaxTemp: 300, CooldownHours: cooldown, IsAvailable: true}
	require.NoError(t, f.st.CreateMachine(f.ctx, m))
	return m
}

// enqueue appends a new entry at the end of the machine's queue.
func (f *fixture) enqueue(t *testing.T, m *model.Machine, user int64, hours float64) *model.QueueEntry {
	t.Helper()
	var e *model.QueueEntry
	err := f.st.Transaction(f.ctx, func(tx store.Store) error {
		pos, err := f.orderer.NextPosition(f.ctx, tx, m.ID)
		if err != nil {
			return err
		}
		e = &model.QueueEntry{
			UserID: user, Username: "user", Title: "run",
			EstimatedDurationHours: hours, AssignedMachineID: &m.ID,
			QueuePosition: &pos, SubmittedAt: f.clock.Advance(time.Second),
		}
		if err := tx.CreateEntry(f.ctx, e); err != nil {
			return err
		}
		_, err = f.orderer.Reorder(f.ctx, tx, m)
		return err
	})
	require.NoError(t, err)
	return e
}

func (f *fixture) remove(t *testing.T, m *model.Machine, entryID int64) Change {
	t.Helper()
	var change Change
	err := f.st.Transaction(f.ctx, func(tx store.Store) error {
		if err := tx.UpdateEntry(f.ctx, entryID, map[string]any{
			"status":         model.EntryCancelled,
			"queue_position": nil,
		}); err != nil {
			return err
		}
		var err error
		change, err = f.orderer.Reorder(f.ctx, tx, m)
		return err
	})
	require.NoError(t, err)
	return change
}

func (f *fixture) positions(t *testing.T, machineID int64) map[int64]int {
	t.Helper()
	entries, err := f.st.QueuedEntries(f.ctx, machineID)
	require.NoError(t, err)
	out := make(map[int64]int, len(entries))
	for _, e := range entries {
		out[e.ID] = e.Position()
	}
	return out
}

func assertDense(t *testing.T, st store.Store, machineID int64) {
	t.Helper()
	entries, err := st.QueuedEntries(context.Background(), machineID)
	require.NoError(t, err)
	got := make([]int, 0, len(entries))
	for _, e := range entries {
		require.NotNil(t, e.QueuePosition, "entry %d has no position", e.ID)
		got = append(got, *e.QueuePosition)
	}
	sort.Ints(got)
	for i, p := range got {
		require.Equal(t, i+1, p, "machine %d positions %v are not dense", machineID, got)
	}
}

func TestSetPosition_FiveEntries(t *testing.T) {
	f := newFixture(t)
	m := f.machine(t, "M", 0)
	var e []*model.QueueEntry
	for i := 0; i < 5; i++ {
		e = append(e, f.enqueue(t, m, int64(i+1), 1))
	}

	var change Change
	err := f.st.Transaction(f.ctx, func(tx store.Store) error {
		var err error
		change, err = f.orderer.SetPosition(f.ctx, tx, m, e[2].ID, 1)
		return err
	})
	require.NoError(t, err)

	pos := f.positions(t, m.ID)
	assert.Equal(t, 1, pos[e[2].ID])
	assert.Equal(t, 2, pos[e[0].ID])
	assert.Equal(t, 3, pos[e[1].ID])
	assert.Equal(t, 4, pos[e[3].ID])
	assert.Equal(t, 5, pos[e[4].ID])
	assert.NotEqual(t, change.PreviousFront, change.Front)
	assert.Equal(t, e[0].ID, change.PreviousFront)
	assert.Equal(t, e[2].ID, change.Front)
	assert.Len(t, change.Moves, 3)
}

func TestSetPosition_ClampAndNoop(t *testing.T) {
	f := newFixture(t)
	m := f.machine(t, "M", 0)
	a := f.enqueue(t, m, 1, 1)
	b := f.enqueue(t, m, 2, 1)
	c := f.enqueue(t, m, 3, 1)

	err := f.st.Transaction(f.ctx, func(tx store.Store) error {
		change, err := f.orderer.SetPosition(f.ctx, tx, m, b.ID, 2)
		assert.Empty(t, change.Moves)
		assert.Equal(t, change.PreviousFront, change.Front)
		return err
	})
	require.NoError(t, err)

	err = f.st.Transaction(f.ctx, func(tx store.Store) error {
		_, err := f.orderer.SetPosition(f.ctx, tx, m, a.ID, 99)
		return err
	})
	require.NoError(t, err)

	pos := f.positions(t, m.ID)
	assert.Equal(t, map[int64]int{b.ID: 1, c.ID: 2, a.ID: 3}, pos)

	err = f.st.Transaction(f.ctx, func(tx store.Store) error {
		_, err := f.orderer.SetPosition(f.ctx, tx, m, a.ID, -4)
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, 1, f.positions(t, m.ID)[a.ID])
}

func TestMoveUpDown(t *testing.T) {
	f := newFixture(t)
	m := f.machine(t, "M", 0)
	a := f.enqueue(t, m, 1, 1)
	b := f.enqueue(t, m, 2, 1)

	err := f.st.Transaction(f.ctx, func(tx store.Store) error {
		change, ok, err := f.orderer.MoveUp(f.ctx, tx, m, a.ID)
		assert.False(t, ok, "first entry cannot move up")
		assert.Empty(t, change.Moves)
		return err
	})
	require.NoError(t, err)

	err = f.st.Transaction(f.ctx, func(tx store.Store) error {
		change, ok, err := f.orderer.MoveUp(f.ctx, tx, m, b.ID)
		assert.True(t, ok)
		assert.Equal(t, a.ID, change.PreviousFront)
		assert.Equal(t, b.ID, change.Front)
		require.Len(t, change.Moves, 2)
		assert.Equal(t, Move{EntryID: b.ID, UserID: 2, From: 2, To: 1}, change.Moves[0])
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, map[int64]int{b.ID: 1, a.ID: 2}, f.positions(t, m.ID))

	err = f.st.Transaction(f.ctx, func(tx store.Store) error {
		_, ok, err := f.orderer.MoveDown(f.ctx, tx, m, a.ID)
		assert.False(t, ok, "last entry cannot move down")
		return err
	})
	require.NoError(t, err)

	err = f.st.Transaction(f.ctx, func(tx store.Store) error {
		_, ok, err := f.orderer.MoveDown(f.ctx, tx, m, b.ID)
		assert.True(t, ok)
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, map[int64]int{a.ID: 1, b.ID: 2}, f.positions(t, m.ID))
}

func TestReorder_ClosesGapAfterRemoval(t *testing.T) {
	f := newFixture(t)
	m := f.machine(t, "M", 0)
	var e []*model.QueueEntry
	for i := 0; i < 4; i++ {
		e = append(e, f.enqueue(t, m, int64(i+1), 1))
	}

	change := f.remove(t, m, e[1].ID)

	assert.Equal(t, map[int64]int{e[0].ID: 1, e[2].ID: 2, e[3].ID: 3}, f.positions(t, m.ID))
	assert.Equal(t, change.PreviousFront, change.Front)
	assert.False(t, change.Healed)
	require.Len(t, change.Moves, 2)
	for _, mv := range change.Moves {
		assert.Equal(t, mv.From-1, mv.To, "later entries move up by exactly one")
	}
}

func TestReorder_HealsNullPositions(t *testing.T) {
	f := newFixture(t)
	m := f.machine(t, "M", 0)
	a := f.enqueue(t, m, 1, 1)
	b := f.enqueue(t, m, 2, 1)
	require.NoError(t, f.st.UpdateEntry(f.ctx, a.ID, map[string]any{"queue_position": nil}))

	var change Change
	err := f.st.Transaction(f.ctx, func(tx store.Store) error {
		var err error
		change, err = f.orderer.Reorder(f.ctx, tx, m)
		return err
	})
	require.NoError(t, err)

	assert.True(t, change.Healed)
	assert.Equal(t, map[int64]int{b.ID: 1, a.ID: 2}, f.positions(t, m.ID))
}

func TestReorder_EstimatedStartTimes(t *testing.T) {
	f := newFixture(t)
	m := f.machine(t, "M", 2)
	busyUntil := testNow.Add(5 * time.Hour)
	require.NoError(t, f.st.UpdateMachine(f.ctx, m.ID, map[string]any{"estimated_available_at": busyUntil}))
	m.EstimatedAvailableAt = &busyUntil

	a := f.enqueue(t, m, 1, 3)
	b := f.enqueue(t, m, 2, 1)

	gotA, err := f.st.GetEntry(f.ctx, a.ID)
	require.NoError(t, err)
	gotB, err := f.st.GetEntry(f.ctx, b.ID)
	require.NoError(t, err)

	require.NotNil(t, gotA.EstimatedStartTime)
	require.NotNil(t, gotB.EstimatedStartTime)
	assert.True(t, busyUntil.Equal(*gotA.EstimatedStartTime))
	assert.True(t, busyUntil.Add(5*time.Hour).Equal(*gotB.EstimatedStartTime))
}

func TestInsertAtFront(t *testing.T) {
	f := newFixture(t)
	m := f.machine(t, "M", 0)
	running := f.enqueue(t, m, 1, 1)
	b := f.enqueue(t, m, 2, 1)
	c := f.enqueue(t, m, 3, 1)
	f.remove(t, m, running.ID)
	require.NoError(t, f.st.UpdateEntry(f.ctx, running.ID, map[string]any{"status": model.EntryRunning}))

	var change Change
	err := f.st.Transaction(f.ctx, func(tx store.Store) error {
		var err error
		change, err = f.orderer.InsertAtFront(f.ctx, tx, m, running, map[string]any{"status": model.EntryQueued})
		return err
	})
	require.NoError(t, err)

	assert.Equal(t, map[int64]int{running.ID: 1, b.ID: 2, c.ID: 3}, f.positions(t, m.ID))
	assert.Equal(t, b.ID, change.PreviousFront)
	assert.Equal(t, running.ID, change.Front)
}

// Random sequences of queue operations always leave positions dense.
func TestDensityInvariant_RandomOperations(t *testing.T) {
	f := newFixture(t)
	machines := []*model.Machine{f.machine(t, "M1", 1), f.machine(t, "M2", 0)}
	rng := rand.New(rand.NewSource(42))

	queued := func(m *model.Machine) []model.QueueEntry {
		entries, err := f.st.QueuedEntries(f.ctx, m.ID)
		require.NoError(t, err)
		return entries
	}

	for step := 0; step < 150; step++ {
		m := machines[rng.Intn(len(machines))]
		entries := queued(m)
		op := rng.Intn(6)
		if len(entries) == 0 {
			op = 0
		}

		switch op {
		case 0:
			f.enqueue(t, m, int64(rng.Intn(5)+1), float64(rng.Intn(4)+1))
		case 1:
			f.remove(t, m, entries[rng.Intn(len(entries))].ID)
		case 2:
			id := entries[rng.Intn(len(entries))].ID
			require.NoError(t, f.st.Transaction(f.ctx, func(tx store.Store) error {
				_, _, err := f.orderer.MoveUp(f.ctx, tx, m, id)
				return err
			}))
		case 3:
			id := entries[rng.Intn(len(entries))].ID
			require.NoError(t, f.st.Transaction(f.ctx, func(tx store.Store) error {
				_, _, err := f.orderer.MoveDown(f.ctx, tx, m, id)
				return err
			}))
		case 4:
			id := entries[rng.Intn(len(entries))].ID
			target := rng.Intn(len(entries)+2) - 1
			require.NoError(t, f.st.Transaction(f.ctx, func(tx store.Store) error {
				_, err := f.orderer.SetPosition(f.ctx, tx, m, id, target)
				return err
			}))
		case 5:
			other := machines[0]
			if other.ID == m.ID {
				other = machines[1]
			}
			id := entries[rng.Intn(len(entries))].ID
			require.NoError(t, f.st.Transaction(f.ctx, func(tx store.Store) error {
				pos, err := f.orderer.NextPosition(f.ctx, tx, other.ID)
				if err != nil {
					return err
				}
				if err := tx.UpdateEntry(f.ctx, id, map[string]any{
					"assigned_machine_id": other.ID,
					"queue_position":      pos,
				}); err != nil {
					return err
				}
				if _, err := f.orderer.Reorder(f.ctx, tx, m); err != nil {
					return err
				}
				_, err = f.orderer.Reorder(f.ctx, tx, other)
				return err
			}))
		}

		for _, mm := range machines {
			assertDense(t, f.st, mm.ID)
		}
	}
}

func TestEstimatedStarts_PastAvailabilityUsesNow(t *testing.T) {
	past := testNow.Add(-time.Hour)
	m := &model.Machine{CooldownHours: 1, EstimatedAvailableAt: &past}
	starts := EstimatedStarts(m, []model.QueueEntry{{EstimatedDurationHours: 2}, {EstimatedDurationHours: 1}}, testNow)

	require.Len(t, starts, 2)
	assert.Equal(t, testNow, starts[0])
	assert.Equal(t, testNow.Add(3*time.Hour), starts[1])
}
