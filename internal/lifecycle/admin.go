package lifecycle

import (
	"context"

	"cryoqueue-backend/internal/events"
	"cryoqueue-backend/internal/model"
	"cryoqueue-backend/internal/notification"
	"cryoqueue-backend/internal/queue"
	"cryoqueue-backend/internal/store"
)

// MoveUp swaps a queued entry with the one ahead of it.
func (s *Service) MoveUp(ctx context.Context, actor Actor, entryID int64) (*model.QueueEntry, error) {
	return s.shift(ctx, "move_up", actor, entryID, s.orderer.MoveUp)
}

// MoveDown swaps a queued entry with the one behind it.
func (s *Service) MoveDown(ctx context.Context, actor Actor, entryID int64) (*model.QueueEntry, error) {
	return s.shift(ctx, "move_down", actor, entryID, s.orderer.MoveDown)
}

type swapFunc func(ctx context.Context, st queue.Store, machine *model.Machine, entryID int64) (queue.Change, bool, error)

func (s *Service) shift(ctx context.Context, op string, actor Actor, entryID int64, swap swapFunc) (*model.QueueEntry, error) {
	return s.onEntry(ctx, op, entryID, func(tx store.Store, e *model.QueueEntry, machine *model.Machine, eff *Effects) error {
		if err := requireAdmin(actor); err != nil {
			return err
		}
		if e.Status != model.EntryQueued {
			return precondition(op, "entry is %s, not queued", e.Status)
		}
		change, ok, err := swap(ctx, tx, machine, e.ID)
		if err != nil {
			return err
		}
		if !ok {
			return precondition(op, "entry is already at the boundary of the queue")
		}
		return s.moved(ctx, tx, e, machine, change, eff, actor)
	})
}

// SetPosition moves a queued entry to target, clamped to the queue length.
func (s *Service) SetPosition(ctx context.Context, actor Actor, entryID int64, target int) (*model.QueueEntry, error) {
	const op = "set_position"
	return s.onEntry(ctx, op, entryID, func(tx store.Store, e *model.QueueEntry, machine *model.Machine, eff *Effects) error {
		if err := requireAdmin(actor); err != nil {
			return err
		}
		if e.Status != model.EntryQueued {
			return precondition(op, "entry is %s, not queued", e.Status)
		}
		change, err := s.orderer.SetPosition(ctx, tx, machine, e.ID, target)
		if err != nil {
			return err
		}
		return s.moved(ctx, tx, e, machine, change, eff, actor)
	})
}

// moved tells the owner of the repositioned entry where it went. Whoever
// lost position 1 is handled by the front check.
func (s *Service) moved(ctx context.Context, tx store.Store, e *model.QueueEntry, machine *model.Machine, change queue.Change, eff *Effects, actor Actor) error {
	eff.queueChanged(machine.ID, change)
	for _, mv := range change.Moves {
		if mv.EntryID != e.ID || mv.From == mv.To || mv.From <= 1 {
			continue
		}
		fresh, err := tx.GetEntry(ctx, e.ID)
		if err != nil {
			return err
		}
		eff.notify(notification.PositionChanged(fresh, machine, mv.From, mv.To))
	}
	if len(change.Moves) > 0 {
		eff.Events = append(eff.Events, update(events.Moved, e, machine, actor))
	}
	return nil
}

// MoveToFront puts a queued entry at position 1 on an admin's request.
func (s *Service) MoveToFront(ctx context.Context, actor Actor, entryID int64) (*model.QueueEntry, error) {
	const op = "move_to_front"
	return s.onEntry(ctx, op, entryID, func(tx store.Store, e *model.QueueEntry, machine *model.Machine, eff *Effects) error {
		if err := requireAdmin(actor); err != nil {
			return err
		}
		if e.Status != model.EntryQueued {
			return precondition(op, "entry is %s, not queued", e.Status)
		}
		if e.Position() == 1 {
			return precondition(op, "entry is already at position 1")
		}
		return s.toFront(ctx, tx, e, machine, eff, actor, "priority request")
	})
}

func (s *Service) toFront(ctx context.Context, tx store.Store, e *model.QueueEntry, machine *model.Machine, eff *Effects, actor Actor, reason string) error {
	change, err := s.orderer.SetPosition(ctx, tx, machine, e.ID, 1)
	if err != nil {
		return err
	}
	eff.queueChanged(machine.ID, change)

	if change.PreviousFront != 0 && change.PreviousFront != e.ID {
		bumped, err := tx.GetEntry(ctx, change.PreviousFront)
		if err != nil {
			return err
		}
		eff.Bumped = append(eff.Bumped, Bump{Entry: *bumped, Reason: reason})
	}
	fresh, err := tx.GetEntry(ctx, e.ID)
	if err != nil {
		return err
	}
	eff.notify(notification.MovedToFront(fresh, machine, reason))
	eff.Events = append(eff.Events, update(events.Moved, e, machine, actor))
	return nil
}

// RequestRush flags an entry for expedited review and tells the admins.
func (s *Service) RequestRush(ctx context.Context, actor Actor, entryID int64) (*model.QueueEntry, error) {
	const op = "request_rush"
	return s.onEntry(ctx, op, entryID, func(tx store.Store, e *model.QueueEntry, machine *model.Machine, eff *Effects) error {
		if err := requireOwner(actor, e); err != nil {
			return err
		}
		if e.Status != model.EntryQueued {
			return precondition(op, "entry is %s, not queued", e.Status)
		}
		if e.IsRushJob {
			return precondition(op, "a rush request is already pending")
		}
		now := s.clock.Now()
		if err := tx.UpdateEntry(ctx, e.ID, map[string]any{
			"is_rush_job":           true,
			"rush_job_submitted_at": now,
		}); err != nil {
			return err
		}
		e.IsRushJob = true
		e.RushJobSubmittedAt = &now
		s.notifyAdmins(eff, e, machine)
		return nil
	})
}

// ApproveRush moves a flagged entry to position 1 and closes the request.
func (s *Service) ApproveRush(ctx context.Context, actor Actor, entryID int64) (*model.QueueEntry, error) {
	const op = "approve_rush"
	return s.onEntry(ctx, op, entryID, func(tx store.Store, e *model.QueueEntry, machine *model.Machine, eff *Effects) error {
		if err := s.closeRush(ctx, op, tx, actor, e, eff); err != nil {
			return err
		}
		if e.Position() == 1 {
			return nil
		}
		return s.toFront(ctx, tx, e, machine, eff, actor, "rush job")
	})
}

// RejectRush closes a rush request without moving the entry.
func (s *Service) RejectRush(ctx context.Context, actor Actor, entryID int64) (*model.QueueEntry, error) {
	const op = "reject_rush"
	return s.onEntry(ctx, op, entryID, func(tx store.Store, e *model.QueueEntry, machine *model.Machine, eff *Effects) error {
		if err := s.closeRush(ctx, op, tx, actor, e, eff); err != nil {
			return err
		}
		eff.notify(notification.RushRejected(e, machine))
		return nil
	})
}

func (s *Service) closeRush(ctx context.Context, op string, tx store.Store, actor Actor, e *model.QueueEntry, eff *Effects) error {
	if err := requireAdmin(actor); err != nil {
		return err
	}
	if e.Status != model.EntryQueued {
		return precondition(op, "entry is %s, not queued", e.Status)
	}
	if !e.IsRushJob {
		return precondition(op, "no rush request is pending")
	}
	if err := tx.UpdateEntry(ctx, e.ID, map[string]any{
		"is_rush_job":           false,
		"rush_job_submitted_at": nil,
	}); err != nil {
		return err
	}
	e.IsRushJob = false
	e.RushJobSubmittedAt = nil
	eff.clear(e.ID, model.NotifyAdminRushJob)
	return nil
}

// Reassign moves a queued or unassigned entry to the end of another
// machine's queue.
func (s *Service) Reassign(ctx context.Context, actor Actor, entryID, targetID int64) (*model.QueueEntry, error) {
	const op = "reassign"
	if err := requireAdmin(actor); err != nil {
		return nil, s.outcome(op, err)
	}
	pre, err := s.store.GetEntry(ctx, entryID)
	if err != nil {
		return nil, s.outcome(op, err)
	}
	sourceID := pre.MachineID()
	if targetID <= 0 {
		return nil, s.outcome(op, precondition(op, "a target machine is required"))
	}
	if sourceID == targetID {
		return nil, s.outcome(op, precondition(op, "entry is already assigned to machine %d", targetID))
	}

	unlock := s.locks.Lock(sourceID, targetID)
	defer unlock()

	var (
		eff Effects
		out *model.QueueEntry
	)
	err = s.store.Transaction(ctx, func(tx store.Store) error {
		var source, target *model.Machine
		// row locks in id order, matching the in-process lock
		for _, id := range []int64{min(sourceID, targetID), max(sourceID, targetID)} {
			if id == 0 {
				continue
			}
			m, err := tx.LockMachine(ctx, id)
			if err != nil {
				return err
			}
			if id == sourceID {
				source = m
			} else {
				target = m
			}
		}

		e, err := tx.LockEntry(ctx, entryID)
		if err != nil {
			return err
		}
		if e.MachineID() != sourceID {
			return precondition(op, "entry %d changed machines, retry", entryID)
		}
		if e.Status != model.EntryQueued {
			return precondition(op, "entry is %s, not queued", e.Status)
		}

		pos, err := s.orderer.NextPosition(ctx, tx, target.ID)
		if err != nil {
			return err
		}
		fromName := e.MachineNameText
		if source != nil {
			fromName = source.Name
		}
		if fromName == "" {
			fromName = "no machine"
		}
		fields := merge(clearedReminders(), map[string]any{
			"assigned_machine_id": target.ID,
			"machine_name_text":   target.Name,
			"queue_position":      pos,
		})
		if err := tx.UpdateEntry(ctx, e.ID, fields); err != nil {
			return err
		}

		if source != nil {
			change, err := s.orderer.Reorder(ctx, tx, source)
			if err != nil {
				return err
			}
			eff.queueChanged(source.ID, change)
		}
		change, err := s.orderer.Reorder(ctx, tx, target)
		if err != nil {
			return err
		}
		eff.queueChanged(target.ID, change)

		out, err = tx.GetEntry(ctx, entryID)
		if err != nil {
			return err
		}
		eff.clear(e.ID, model.FrontKinds...)
		eff.notify(notification.Reassigned(out, fromName, target))
		eff.Events = append(eff.Events, update(events.Reassigned, out, target, actor))
		return nil
	})
	if err != nil {
		return nil, s.outcome(op, err)
	}
	s.outcome(op, nil)

	s.dispatch(ctx, &eff)
	return out, nil
}

// DeleteMachine removes a machine. Its active entries are cancelled and
// archived as orphaned under the machine's name.
func (s *Service) DeleteMachine(ctx context.Context, actor Actor, machineID int64) error {
	const op = "delete_machine"
	if err := requireAdmin(actor); err != nil {
		return s.outcome(op, err)
	}
	return s.onMachine(ctx, op, machineID, func(tx store.Store, machine *model.Machine, eff *Effects) error {
		active, err := tx.ActiveEntries(ctx, machine.ID)
		if err != nil {
			return err
		}
		now := s.clock.Now()
		for i := range active {
			e := &active[i]
			fields := merge(clearedReminders(), map[string]any{
				"status":               model.EntryCancelled,
				"queue_position":       nil,
				"estimated_start_time": nil,
				"completed_at":         now,
			})
			if err := tx.UpdateEntry(ctx, e.ID, fields); err != nil {
				return err
			}
			if err := s.archive(ctx, tx, e, machine, model.ArchiveOrphaned); err != nil {
				return err
			}
			eff.clear(e.ID)
			in := notification.Cancelled(e, machine, "the machine was removed")
			in.MachineID = nil
			eff.notify(in)
		}

		if err := tx.DetachMachine(ctx, machine.ID, machine.Name); err != nil {
			return err
		}
		if err := tx.DeleteMachine(ctx, machine.ID); err != nil {
			return err
		}
		s.log.Info().Int64("machine_id", machine.ID).Str("machine", machine.Name).
			Int("orphaned", len(active)).Msg("machine deleted")
		eff.Events = append(eff.Events, update(events.MachineGone, nil, machine, actor))
		return nil
	})
}

// SetMachineAvailability takes a machine in or out of service. A running
// machine keeps its job and drops into maintenance at check-out.
func (s *Service) SetMachineAvailability(ctx context.Context, actor Actor, machineID int64, available bool) (*model.Machine, error) {
	const op = "set_availability"
	if err := requireAdmin(actor); err != nil {
		return nil, s.outcome(op, err)
	}
	var out *model.Machine
	err := s.onMachine(ctx, op, machineID, func(tx store.Store, machine *model.Machine, eff *Effects) error {
		out = machine
		if machine.IsAvailable == available {
			return nil
		}
		fields := map[string]any{"is_available": available}
		machine.IsAvailable = available
		switch {
		case available && machine.Status == model.MachineMaintenance:
			fields["status"] = model.MachineIdle
			machine.Status = model.MachineIdle
		case !available && machine.Status != model.MachineRunning:
			fields["status"] = model.MachineMaintenance
			machine.Status = model.MachineMaintenance
		}
		if err := tx.UpdateMachine(ctx, machine.ID, fields); err != nil {
			return err
		}

		queued, err := tx.QueuedEntries(ctx, machine.ID)
		if err != nil {
			return err
		}
		for i := range queued {
			eff.notify(notification.MachineStatusChanged(&queued[i], machine))
		}
		eff.recheck(machine.ID)
		eff.Events = append(eff.Events, update(events.MachineUpdated, nil, machine, actor))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
