package lifecycle

import (
	"context"
	"errors"

	"cryoqueue-backend/internal/events"
	"cryoqueue-backend/internal/model"
	"cryoqueue-backend/internal/notification"
	"cryoqueue-backend/internal/store"
)

// CheckIn starts the measurement at position 1 of an idle machine.
func (s *Service) CheckIn(ctx context.Context, actor Actor, entryID int64) (*model.QueueEntry, error) {
	const op = "check_in"
	return s.onEntry(ctx, op, entryID, func(tx store.Store, e *model.QueueEntry, machine *model.Machine, eff *Effects) error {
		if err := requireOwner(actor, e); err != nil {
			return err
		}
		if e.Status != model.EntryQueued {
			return precondition(op, "entry is %s, not queued", e.Status)
		}
		if e.Position() != 1 {
			return precondition(op, "entry is at position %d, only position 1 can check in", e.Position())
		}
		if !machine.IsAvailable || machine.Status == model.MachineMaintenance {
			return precondition(op, "%s is unavailable for maintenance", machine.Name)
		}
		running, err := tx.RunningEntry(ctx, machine.ID)
		switch {
		case err == nil:
			return precondition(op, "%s already has a running job by %s", machine.Name, running.Username)
		case !errors.Is(err, store.ErrNotFound):
			return err
		}

		now := s.clock.Now()
		dueAt := now.Add(e.Duration())
		fields := merge(clearedReminders(), map[string]any{
			"status":               model.EntryRunning,
			"started_at":           now,
			"queue_position":       nil,
			"estimated_start_time": nil,
			"reminder_due_at":      dueAt,
		})
		if err := tx.UpdateEntry(ctx, e.ID, fields); err != nil {
			return err
		}

		availableAt := dueAt.Add(machine.Cooldown())
		occupant := e.UserID
		if err := tx.UpdateMachine(ctx, machine.ID, map[string]any{
			"status":                 model.MachineRunning,
			"current_user_id":        occupant,
			"estimated_available_at": availableAt,
		}); err != nil {
			return err
		}
		machine.Status = model.MachineRunning
		machine.CurrentUserID = &occupant
		machine.EstimatedAvailableAt = &availableAt

		change, err := s.orderer.Reorder(ctx, tx, machine)
		if err != nil {
			return err
		}
		eff.queueChanged(machine.ID, change)
		eff.clear(e.ID)
		if actor.Admin && actor.UserID != e.UserID {
			eff.notify(notification.AdminCheckIn(e, machine))
		}
		eff.Events = append(eff.Events, update(events.Started, e, machine, actor))
		return nil
	})
}

// CheckOut completes a running measurement and frees its machine.
func (s *Service) CheckOut(ctx context.Context, actor Actor, entryID int64) (*model.QueueEntry, error) {
	const op = "check_out"
	return s.onEntry(ctx, op, entryID, func(tx store.Store, e *model.QueueEntry, machine *model.Machine, eff *Effects) error {
		if err := requireOwner(actor, e); err != nil {
			return err
		}
		if e.Status != model.EntryRunning {
			return precondition(op, "entry is %s, not running", e.Status)
		}

		fields := merge(clearedReminders(), map[string]any{
			"status":       model.EntryCompleted,
			"completed_at": s.clock.Now(),
		})
		if err := tx.UpdateEntry(ctx, e.ID, fields); err != nil {
			return err
		}
		if err := s.releaseMachine(ctx, tx, machine); err != nil {
			return err
		}
		if err := s.archive(ctx, tx, e, machine, model.ArchiveCompleted); err != nil {
			return err
		}

		change, err := s.orderer.Reorder(ctx, tx, machine)
		if err != nil {
			return err
		}
		eff.queueChanged(machine.ID, change)
		eff.clear(e.ID)
		if actor.Admin && actor.UserID != e.UserID {
			eff.notify(notification.AdminCheckout(e, machine))
		}
		eff.Events = append(eff.Events, update(events.Completed, e, machine, actor))
		return nil
	})
}

// Cancel withdraws a queued or running entry. reason is shown to the owner
// when someone else cancels.
func (s *Service) Cancel(ctx context.Context, actor Actor, entryID int64, reason string) (*model.QueueEntry, error) {
	const op = "cancel"
	pre, err := s.store.GetEntry(ctx, entryID)
	if err != nil {
		return nil, s.outcome(op, err)
	}
	if pre.MachineID() == 0 {
		return s.cancelUnassigned(ctx, actor, entryID)
	}

	return s.onEntry(ctx, op, entryID, func(tx store.Store, e *model.QueueEntry, machine *model.Machine, eff *Effects) error {
		if err := requireOwner(actor, e); err != nil {
			return err
		}
		if !e.Status.Active() {
			return precondition(op, "entry is already %s", e.Status)
		}
		wasRunning := e.Status == model.EntryRunning

		fields := merge(clearedReminders(), map[string]any{
			"status":               model.EntryCancelled,
			"queue_position":       nil,
			"estimated_start_time": nil,
			"completed_at":         s.clock.Now(),
		})
		if err := tx.UpdateEntry(ctx, e.ID, fields); err != nil {
			return err
		}
		if wasRunning {
			if err := s.releaseMachine(ctx, tx, machine); err != nil {
				return err
			}
		}
		if err := s.archive(ctx, tx, e, machine, model.ArchiveCancelled); err != nil {
			return err
		}

		change, err := s.orderer.Reorder(ctx, tx, machine)
		if err != nil {
			return err
		}
		eff.queueChanged(machine.ID, change)
		eff.clear(e.ID)
		if actor.UserID != e.UserID {
			if reason == "" {
				reason = "cancelled by an administrator"
			}
			eff.notify(notification.Cancelled(e, machine, reason))
		}
		eff.Events = append(eff.Events, update(events.Cancelled, e, machine, actor))
		return nil
	})
}

func (s *Service) cancelUnassigned(ctx context.Context, actor Actor, entryID int64) (*model.QueueEntry, error) {
	const op = "cancel"
	var out *model.QueueEntry
	err := s.store.Transaction(ctx, func(tx store.Store) error {
		e, err := tx.LockEntry(ctx, entryID)
		if err != nil {
			return err
		}
		if err := requireOwner(actor, e); err != nil {
			return err
		}
		if e.MachineID() != 0 {
			return precondition(op, "entry %d was assigned meanwhile, retry", entryID)
		}
		if !e.Status.Active() {
			return precondition(op, "entry is already %s", e.Status)
		}
		if err := tx.UpdateEntry(ctx, e.ID, map[string]any{
			"status":       model.EntryCancelled,
			"completed_at": s.clock.Now(),
		}); err != nil {
			return err
		}
		if err := s.archive(ctx, tx, e, nil, model.ArchiveCancelled); err != nil {
			return err
		}
		out, err = tx.GetEntry(ctx, entryID)
		return err
	})
	if err != nil {
		return nil, s.outcome(op, err)
	}
	s.outcome(op, nil)
	s.dispatch(ctx, &Effects{Events: []events.QueueUpdate{update(events.Cancelled, out, nil, actor)}})
	return out, nil
}

// UndoCheckIn reverts a check-in: the entry goes back to position 1 and the
// machine returns to idle.
func (s *Service) UndoCheckIn(ctx context.Context, actor Actor, entryID int64) (*model.QueueEntry, error) {
	const op = "undo_check_in"
	return s.onEntry(ctx, op, entryID, func(tx store.Store, e *model.QueueEntry, machine *model.Machine, eff *Effects) error {
		if err := requireOwner(actor, e); err != nil {
			return err
		}
		if e.Status != model.EntryRunning {
			return precondition(op, "entry is %s, not running", e.Status)
		}
		if machine.Status == model.MachineMaintenance {
			return precondition(op, "%s is in maintenance", machine.Name)
		}

		if err := tx.UpdateMachine(ctx, machine.ID, map[string]any{
			"status":                 model.MachineIdle,
			"current_user_id":        nil,
			"estimated_available_at": nil,
		}); err != nil {
			return err
		}
		machine.Status = model.MachineIdle
		machine.CurrentUserID = nil
		machine.EstimatedAvailableAt = nil

		fields := merge(clearedReminders(), map[string]any{
			"status":                  model.EntryQueued,
			"started_at":              nil,
			"checkin_reminder_due_at": s.clock.Now(),
		})
		change, err := s.orderer.InsertAtFront(ctx, tx, machine, e, fields)
		if err != nil {
			return err
		}
		eff.queueChanged(machine.ID, change)

		if change.PreviousFront != 0 {
			bumped, err := tx.GetEntry(ctx, change.PreviousFront)
			if err != nil {
				return err
			}
			eff.Bumped = append(eff.Bumped, Bump{Entry: *bumped, Reason: "measurement undone"})
		}
		for _, mv := range change.Moves {
			if mv.EntryID == change.PreviousFront || mv.From == 0 || mv.From == mv.To {
				continue
			}
			moved, err := tx.GetEntry(ctx, mv.EntryID)
			if err != nil {
				return err
			}
			eff.notify(notification.PositionChanged(moved, machine, mv.From, mv.To))
		}
		eff.Events = append(eff.Events, update(events.UndoCheckIn, e, machine, actor))
		return nil
	})
}
