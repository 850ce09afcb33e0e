package lifecycle

import (
	"context"

	"cryoqueue-backend/internal/events"
	"cryoqueue-backend/internal/metrics"
	"cryoqueue-backend/internal/model"
	"cryoqueue-backend/internal/notification"
	"cryoqueue-backend/internal/queue"
	"cryoqueue-backend/internal/store"
)

// clearedKinds are retired when an entry leaves the front of a queue or
// stops being active.
var clearedKinds = []model.NotificationKind{
	model.NotifyOnDeck,
	model.NotifyReadyForCheckIn,
	model.NotifyCheckinReminder,
	model.NotifyCheckoutReminder,
	model.NotifyAdminRushJob,
}

// Bump records an entry that an admin action pushed off position 1.
type Bump struct {
	Entry  model.QueueEntry
	Reason string
}

// Clear marks an entry's unread notices of the given kinds read.
type Clear struct {
	EntryID int64
	Kinds   []model.NotificationKind
}

// Effects describes what a committed transition changed. The dispatcher
// turns it into notifications and events; transitions never notify directly.
type Effects struct {
	// Recheck lists machines whose busy state or front entry changed.
	Recheck []int64
	// Cleared retires live notices of entries.
	Cleared []Clear
	// Bumped entries get an explicit notice instead of the generic one.
	Bumped  []Bump
	Notices []notification.Intent
	Events  []events.QueueUpdate
}

func (e *Effects) recheck(machineID int64) {
	for _, id := range e.Recheck {
		if id == machineID {
			return
		}
	}
	e.Recheck = append(e.Recheck, machineID)
}

// queueChanged folds an orderer result into the descriptor. The machine is
// rechecked even when the reorder itself kept the same front: the entry that
// held position 1 may have left the queue earlier in the same transaction,
// and CheckOnDeck is a no-op when the live notices already match.
func (e *Effects) queueChanged(machineID int64, c queue.Change) {
	if c.Healed {
		metrics.QueueHeals.Inc()
	}
	e.recheck(machineID)
}

// clear retires notices of an entry, by default everything tied to it
// holding position 1 or running.
func (e *Effects) clear(entryID int64, kinds ...model.NotificationKind) {
	if len(kinds) == 0 {
		kinds = clearedKinds
	}
	e.Cleared = append(e.Cleared, Clear{EntryID: entryID, Kinds: kinds})
}

func (e *Effects) notify(in notification.Intent) {
	e.Notices = append(e.Notices, in)
}

func (e *Effects) empty() bool {
	return len(e.Recheck) == 0 && len(e.Cleared) == 0 && len(e.Bumped) == 0 &&
		len(e.Notices) == 0 && len(e.Events) == 0
}

// dispatch runs after the transition committed, still under the machine
// locks. Failures here are logged and dropped: the transition stands.
func (s *Service) dispatch(ctx context.Context, eff *Effects) {
	if eff.empty() {
		return
	}

	var sent []model.Notification
	err := s.store.Transaction(ctx, func(tx store.Store) error {
		sent = sent[:0]
		for _, c := range eff.Cleared {
			if _, err := tx.MarkEntryNotificationsRead(ctx, c.EntryID, c.Kinds...); err != nil {
				return err
			}
		}
		for i := range eff.Bumped {
			b := &eff.Bumped[i]
			machine, err := tx.GetMachine(ctx, b.Entry.MachineID())
			if err != nil {
				return err
			}
			n, err := s.policy.Bump(ctx, tx, &b.Entry, machine, b.Reason)
			if err != nil {
				return err
			}
			sent = append(sent, *n)
		}
		for _, in := range eff.Notices {
			n, err := s.policy.Send(ctx, tx, in)
			if err != nil {
				return err
			}
			sent = append(sent, *n)
		}
		for _, machineID := range eff.Recheck {
			ns, err := s.policy.CheckOnDeck(ctx, tx, machineID)
			if err != nil {
				return err
			}
			sent = append(sent, ns...)
		}
		return nil
	})
	if err != nil {
		metrics.NotificationFailures.Inc()
		s.log.Warn().Err(err).Ints64("machines", eff.Recheck).Msg("notification pass failed, transition kept")
		sent = nil
	}

	for _, n := range sent {
		s.delivery.Deliver(n)
	}

	for _, ev := range eff.Events {
		if ev.At.IsZero() {
			ev.At = s.clock.Now()
		}
		if err := s.events.Publish(ctx, ev); err != nil {
			metrics.Events.WithLabelValues("error").Inc()
			s.log.Warn().Err(err).Str("type", string(ev.Type)).Int64("entry_id", ev.EntryID).Msg("failed to publish queue update")
			continue
		}
		metrics.Events.WithLabelValues("ok").Inc()
	}
}
