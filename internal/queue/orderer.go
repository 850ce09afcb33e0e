// Package queue keeps every machine's queued entries numbered 1..N without
// gaps or duplicates.
//
// All Orderer methods expect to run inside a transaction that already holds
// the machine's row lock. Position writes never leave two queued entries of
// a machine on the same position, even transiently: entries that change slot
// are parked on NULL first and only then written to their final position.
package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"cryoqueue-backend/internal/clock"
	"cryoqueue-backend/internal/model"
)

// Store is the slice of persistence the orderer writes through.
type Store interface {
	QueuedEntries(ctx context.Context, machineID int64) ([]model.QueueEntry, error)
	UpdateEntry(ctx context.Context, id int64, fields map[string]any) error
	ClearPositions(ctx context.Context, ids []int64) error
}

// Move is a position change of one entry. From is 0 when the entry had no
// position before.
type Move struct {
	EntryID int64
	UserID  int64
	From    int
	To      int
}

// Change describes what a queue operation did. PreviousFront and Front are
// the entries at position 1 before and after the call; callers use
// PreviousFront to find the entry that was bumped.
type Change struct {
	PreviousFront int64
	Front         int64
	Moves         []Move
	Healed        bool
}

// Orderer implements the queue position operations.
type Orderer struct {
	clock clock.Clock
	log   zerolog.Logger
}

// NewOrderer creates an Orderer.
func NewOrderer(c clock.Clock, log zerolog.Logger) *Orderer {
	return &Orderer{clock: c, log: log}
}

// NextPosition returns the slot at the end of a machine's queue.
func (o *Orderer) NextPosition(ctx context.Context, st Store, machineID int64) (int, error) {
	entries, err := st.QueuedEntries(ctx, machineID)
	if err != nil {
		return 0, err
	}
	next := len(entries) + 1
	for i := range entries {
		if p := entries[i].Position(); p >= next {
			next = p + 1
		}
	}
	return next, nil
}

// Reorder renumbers the machine's queued entries 1..N in their current order
// and refreshes every estimated start time. Duplicate or missing positions
// are healed and logged.
func (o *Orderer) Reorder(ctx context.Context, st Store, machine *model.Machine) (Change, error) {
	entries, err := st.QueuedEntries(ctx, machine.ID)
	if err != nil {
		return Change{}, err
	}

	change := Change{PreviousFront: frontOf(entries)}
	if corrupt(entries) {
		change.Healed = true
		o.log.Warn().Int64("machine_id", machine.ID).Int("entries", len(entries)).
			Msg("healing duplicate or missing queue positions")
	}

	moves, err := o.renumber(ctx, st, machine, entries)
	if err != nil {
		return Change{}, err
	}
	change.Moves = moves
	change.Front = frontOf(entries)
	return change, nil
}

// MoveUp swaps an entry with the one directly ahead of it. ok is false when
// the entry is already first.
func (o *Orderer) MoveUp(ctx context.Context, st Store, machine *model.Machine, entryID int64) (Change, bool, error) {
	return o.swap(ctx, st, machine, entryID, -1)
}

// MoveDown swaps an entry with the one directly behind it. ok is false when
// the entry is already last.
func (o *Orderer) MoveDown(ctx context.Context, st Store, machine *model.Machine, entryID int64) (Change, bool, error) {
	return o.swap(ctx, st, machine, entryID, 1)
}

func (o *Orderer) swap(ctx context.Context, st Store, machine *model.Machine, entryID int64, dir int) (Change, bool, error) {
	entries, err := st.QueuedEntries(ctx, machine.ID)
	if err != nil {
		return Change{}, false, err
	}
	idx := indexOf(entries, entryID)
	if idx < 0 {
		return Change{}, false, fmt.Errorf("entry %d is not queued on machine %d", entryID, machine.ID)
	}
	other := idx + dir
	if other < 0 || other >= len(entries) {
		return Change{}, false, nil
	}

	change := Change{PreviousFront: frontOf(entries)}
	if corrupt(entries) {
		change.Healed = true
		if _, err := o.renumber(ctx, st, machine, entries); err != nil {
			return Change{}, false, err
		}
	}

	moving, neighbor := &entries[idx], &entries[other]
	from, to := moving.Position(), neighbor.Position()

	// park, fill the vacated slot, land
	if err := st.UpdateEntry(ctx, moving.ID, map[string]any{"queue_position": nil}); err != nil {
		return Change{}, false, err
	}
	if err := st.UpdateEntry(ctx, neighbor.ID, map[string]any{"queue_position": from}); err != nil {
		return Change{}, false, err
	}
	if err := st.UpdateEntry(ctx, moving.ID, map[string]any{"queue_position": to}); err != nil {
		return Change{}, false, err
	}
	moving.QueuePosition, neighbor.QueuePosition = &to, &from
	entries[idx], entries[other] = entries[other], entries[idx]

	if _, err := o.renumber(ctx, st, machine, entries); err != nil {
		return Change{}, false, err
	}
	change.Moves = []Move{
		{EntryID: entries[other].ID, UserID: entries[other].UserID, From: from, To: to},
		{EntryID: entries[idx].ID, UserID: entries[idx].UserID, From: to, To: from},
	}
	change.Front = frontOf(entries)
	return change, true, nil
}

// SetPosition moves an entry to target, clamped to [1, N], shifting the
// entries in between by one. Moving to the current slot is a no-op.
func (o *Orderer) SetPosition(ctx context.Context, st Store, machine *model.Machine, entryID int64, target int) (Change, error) {
	entries, err := st.QueuedEntries(ctx, machine.ID)
	if err != nil {
		return Change{}, err
	}
	idx := indexOf(entries, entryID)
	if idx < 0 {
		return Change{}, fmt.Errorf("entry %d is not queued on machine %d", entryID, machine.ID)
	}

	if target < 1 {
		target = 1
	}
	if target > len(entries) {
		target = len(entries)
	}

	change := Change{PreviousFront: frontOf(entries)}
	if idx == target-1 && !corrupt(entries) {
		change.Front = change.PreviousFront
		return change, nil
	}

	moving := entries[idx]
	reordered := make([]model.QueueEntry, 0, len(entries))
	reordered = append(reordered, entries[:idx]...)
	reordered = append(reordered, entries[idx+1:]...)
	reordered = append(reordered[:target-1], append([]model.QueueEntry{moving}, reordered[target-1:]...)...)

	moves, err := o.renumber(ctx, st, machine, reordered)
	if err != nil {
		return Change{}, err
	}
	change.Moves = moves
	change.Front = frontOf(reordered)
	return change, nil
}

// InsertAtFront puts an entry that is not currently queued back at
// position 1, shifting everyone else down by one. fields are written to the
// entry together with its new position, typically the status change that
// makes it queued again.
func (o *Orderer) InsertAtFront(ctx context.Context, st Store, machine *model.Machine, entry *model.QueueEntry, fields map[string]any) (Change, error) {
	entries, err := st.QueuedEntries(ctx, machine.ID)
	if err != nil {
		return Change{}, err
	}
	change := Change{PreviousFront: frontOf(entries)}

	if corrupt(entries) {
		change.Healed = true
		ids := make([]int64, len(entries))
		for i := range entries {
			ids[i] = entries[i].ID
			entries[i].QueuePosition = nil
		}
		if err := st.ClearPositions(ctx, ids); err != nil {
			return Change{}, err
		}
	}

	// shift from the back so each slot is free before it is taken
	for i := len(entries) - 1; i >= 0; i-- {
		from := entries[i].Position()
		to := i + 2
		if err := st.UpdateEntry(ctx, entries[i].ID, map[string]any{"queue_position": to}); err != nil {
			return Change{}, err
		}
		entries[i].QueuePosition = &to
		change.Moves = append(change.Moves, Move{EntryID: entries[i].ID, UserID: entries[i].UserID, From: from, To: to})
	}

	one := 1
	update := map[string]any{"queue_position": one}
	for k, v := range fields {
		update[k] = v
	}
	if err := st.UpdateEntry(ctx, entry.ID, update); err != nil {
		return Change{}, err
	}
	entry.QueuePosition = &one

	ordered := append([]model.QueueEntry{*entry}, entries...)
	if _, err := o.renumber(ctx, st, machine, ordered); err != nil {
		return Change{}, err
	}
	change.Front = entry.ID
	return change, nil
}

// renumber writes positions 1..N in slice order along with fresh estimated
// start times, and updates the slice in place.
func (o *Orderer) renumber(ctx context.Context, st Store, machine *model.Machine, entries []model.QueueEntry) ([]Move, error) {
	var moves []Move
	var parked []int64
	for i := range entries {
		if entries[i].Position() != i+1 {
			parked = append(parked, entries[i].ID)
			moves = append(moves, Move{
				EntryID: entries[i].ID,
				UserID:  entries[i].UserID,
				From:    entries[i].Position(),
				To:      i + 1,
			})
		}
	}
	if err := st.ClearPositions(ctx, parked); err != nil {
		return nil, err
	}

	starts := EstimatedStarts(machine, entries, o.clock.Now())
	for i := range entries {
		pos := i + 1
		start := starts[i]
		err := st.UpdateEntry(ctx, entries[i].ID, map[string]any{
			"queue_position":       pos,
			"estimated_start_time": start,
		})
		if err != nil {
			return nil, err
		}
		entries[i].QueuePosition = &pos
		entries[i].EstimatedStartTime = &start
	}
	return moves, nil
}

// EstimatedStarts projects when each entry, in order, can begin: from now or
// the machine's busy-until time if later, adding duration and cooldown of
// every entry ahead.
func EstimatedStarts(machine *model.Machine, entries []model.QueueEntry, now time.Time) []time.Time {
	t := now
	if machine.EstimatedAvailableAt != nil && machine.EstimatedAvailableAt.After(t) {
		t = *machine.EstimatedAvailableAt
	}
	starts := make([]time.Time, len(entries))
	for i := range entries {
		starts[i] = t
		t = t.Add(entries[i].Duration() + machine.Cooldown())
	}
	return starts
}

func frontOf(entries []model.QueueEntry) int64 {
	for i := range entries {
		if entries[i].Position() == 1 {
			return entries[i].ID
		}
	}
	return 0
}

func indexOf(entries []model.QueueEntry, id int64) int {
	for i := range entries {
		if entries[i].ID == id {
			return i
		}
	}
	return -1
}

// corrupt reports duplicate or missing positions. Gaps alone are expected
// after a removal and are not counted.
func corrupt(entries []model.QueueEntry) bool {
	seen := make(map[int]bool, len(entries))
	for i := range entries {
		p := entries[i].Position()
		if p == 0 || seen[p] {
			return true
		}
		seen[p] = true
	}
	return false
}
