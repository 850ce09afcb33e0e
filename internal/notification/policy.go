// Package notification decides which notices a queue change produces and
// delivers them.
package notification

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"cryoqueue-backend/internal/clock"
	"cryoqueue-backend/internal/metrics"
	"cryoqueue-backend/internal/model"
)

// Store is the persistence the policy reads and writes.
type Store interface {
	GetMachine(ctx context.Context, id int64) (*model.Machine, error)
	QueuedEntries(ctx context.Context, machineID int64) ([]model.QueueEntry, error)
	UpdateEntry(ctx context.Context, id int64, fields map[string]any) error
	CreateNotification(ctx context.Context, n *model.Notification) error
	UnreadForEntry(ctx context.Context, entryID int64, kinds ...model.NotificationKind) ([]model.Notification, error)
	MarkEntryNotificationsRead(ctx context.Context, entryID int64, kinds ...model.NotificationKind) (int64, error)
	DeleteNotifications(ctx context.Context, ids []int64) error
}

// Policy owns the position-1 notification state of every machine.
type Policy struct {
	clock clock.Clock
	log   zerolog.Logger
}

// NewPolicy creates a Policy.
func NewPolicy(c clock.Clock, log zerolog.Logger) *Policy {
	return &Policy{clock: c, log: log}
}

// Send persists one notice and returns it for delivery.
func (p *Policy) Send(ctx context.Context, st Store, in Intent) (*model.Notification, error) {
	n := &model.Notification{
		RecipientID:      in.Recipient,
		Kind:             in.Kind,
		Title:            in.Title,
		Message:          in.Message,
		RelatedEntryID:   in.EntryID,
		RelatedMachineID: in.MachineID,
		CreatedAt:        p.clock.Now(),
	}
	if err := st.CreateNotification(ctx, n); err != nil {
		return nil, err
	}
	metrics.Notifications.WithLabelValues(string(in.Kind)).Inc()
	return n, nil
}

// ClearFront marks an entry's live position-1 notices read and reports
// whether it held any.
func (p *Policy) ClearFront(ctx context.Context, st Store, entryID int64) (bool, error) {
	n, err := st.MarkEntryNotificationsRead(ctx, entryID, model.FrontKinds...)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Bump tells an entry an admin action pushed it off position 1. Its live
// front notices retire first so CheckOnDeck does not report it twice.
func (p *Policy) Bump(ctx context.Context, st Store, e *model.QueueEntry, machine *model.Machine, reason string) (*model.Notification, error) {
	if _, err := p.ClearFront(ctx, st, e.ID); err != nil {
		return nil, err
	}
	if err := st.UpdateEntry(ctx, e.ID, clearCheckin()); err != nil {
		return nil, err
	}
	return p.Send(ctx, st, Bumped(e, machine, e.Position(), reason))
}

// CheckOnDeck reconciles the position-1 notices of a machine's queue with
// its current state. Running it again without an intervening change emits
// nothing.
func (p *Policy) CheckOnDeck(ctx context.Context, st Store, machineID int64) ([]model.Notification, error) {
	machine, err := st.GetMachine(ctx, machineID)
	if err != nil {
		return nil, err
	}
	queued, err := st.QueuedEntries(ctx, machineID)
	if err != nil {
		return nil, err
	}

	var sent []model.Notification
	var front *model.QueueEntry
	for i := range queued {
		e := &queued[i]
		if e.Position() == 1 && front == nil {
			front = e
			continue
		}

		held, err := p.ClearFront(ctx, st, e.ID)
		if err != nil {
			return sent, err
		}
		if !held {
			continue
		}
		if err := st.UpdateEntry(ctx, e.ID, clearCheckin()); err != nil {
			return sent, err
		}
		n, err := p.Send(ctx, st, Bumped(e, machine, e.Position(), ""))
		if err != nil {
			return sent, err
		}
		sent = append(sent, *n)
	}

	if front == nil {
		return sent, nil
	}

	n, err := p.notifyFront(ctx, st, front, machine)
	if err != nil {
		return sent, err
	}
	if n != nil {
		sent = append(sent, *n)
	}
	return sent, nil
}

func (p *Policy) notifyFront(ctx context.Context, st Store, front *model.QueueEntry, machine *model.Machine) (*model.Notification, error) {
	ready := machine.Status == model.MachineIdle && machine.IsAvailable
	want, other := model.NotifyOnDeck, model.NotifyReadyForCheckIn
	if ready {
		want, other = model.NotifyReadyForCheckIn, model.NotifyOnDeck
	}

	existing, err := st.UnreadForEntry(ctx, front.ID, want)
	if err != nil {
		return nil, err
	}
	if len(existing) > 0 {
		return nil, nil
	}

	stale, err := st.UnreadForEntry(ctx, front.ID, other)
	if err != nil {
		return nil, err
	}
	if len(stale) > 0 {
		ids := make([]int64, len(stale))
		for i := range stale {
			ids[i] = stale[i].ID
		}
		if err := st.DeleteNotifications(ctx, ids); err != nil {
			return nil, err
		}
	}

	fields := clearCheckin()
	in := OnDeck(front, machine)
	if ready {
		fields["checkin_reminder_due_at"] = p.clock.Now()
		in = ReadyForCheckIn(front, machine)
	}
	if err := st.UpdateEntry(ctx, front.ID, fields); err != nil {
		return nil, fmt.Errorf("failed to reset check-in reminder for entry %d: %w", front.ID, err)
	}

	p.log.Debug().Int64("entry_id", front.ID).Int64("machine_id", machine.ID).
		Str("kind", string(want)).Msg("front entry notified")
	return p.Send(ctx, st, in)
}

func clearCheckin() map[string]any {
	return map[string]any{
		"checkin_reminder_due_at":        nil,
		"last_checkin_reminder_sent_at":  nil,
		"checkin_reminder_snoozed_until": nil,
	}
}
