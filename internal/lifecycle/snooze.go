package lifecycle

import (
	"context"

	"cryoqueue-backend/internal/model"
	"cryoqueue-backend/internal/store"
)

// SnoozeCheckout silences checkout reminders of a running entry.
func (s *Service) SnoozeCheckout(ctx context.Context, actor Actor, entryID int64) (*model.QueueEntry, error) {
	const op = "snooze_checkout"
	return s.onEntry(ctx, op, entryID, func(tx store.Store, e *model.QueueEntry, _ *model.Machine, eff *Effects) error {
		if err := requireOwner(actor, e); err != nil {
			return err
		}
		if e.Status != model.EntryRunning {
			return precondition(op, "entry is %s, not running", e.Status)
		}
		until := s.clock.Now().Add(s.opts.CheckoutSnooze)
		if err := tx.UpdateEntry(ctx, e.ID, map[string]any{"reminder_snoozed_until": until}); err != nil {
			return err
		}
		eff.clear(e.ID, model.NotifyCheckoutReminder)
		return nil
	})
}

// SnoozeCheckin silences check-in reminders of the entry at position 1.
func (s *Service) SnoozeCheckin(ctx context.Context, actor Actor, entryID int64) (*model.QueueEntry, error) {
	const op = "snooze_checkin"
	return s.onEntry(ctx, op, entryID, func(tx store.Store, e *model.QueueEntry, _ *model.Machine, eff *Effects) error {
		if err := requireOwner(actor, e); err != nil {
			return err
		}
		if e.Status != model.EntryQueued || e.Position() != 1 {
			return precondition(op, "only the entry at position 1 has check-in reminders")
		}
		until := s.clock.Now().Add(s.opts.CheckinSnooze)
		if err := tx.UpdateEntry(ctx, e.ID, map[string]any{"checkin_reminder_snoozed_until": until}); err != nil {
			return err
		}
		eff.clear(e.ID, model.NotifyCheckinReminder)
		return nil
	})
}
