package notification

import (
	"fmt"

	"cryoqueue-backend/internal/model"
)

// Intent is a notice the policy has decided to emit.
type Intent struct {
	Recipient int64
	Kind      model.NotificationKind
	Title     string
	Message   string
	EntryID   *int64
	MachineID *int64
}

func intent(kind model.NotificationKind, e *model.QueueEntry, title, msg string) Intent {
	id := e.ID
	return Intent{
		Recipient: e.UserID,
		Kind:      kind,
		Title:     title,
		Message:   msg,
		EntryID:   &id,
		MachineID: e.AssignedMachineID,
	}
}

func machineName(e *model.QueueEntry, m *model.Machine) string {
	if m != nil {
		return m.Name
	}
	if e.MachineNameText != "" {
		return e.MachineNameText
	}
	return "the machine"
}

// notReadyReason describes why the front entry cannot check in yet.
func notReadyReason(m *model.Machine) string {
	switch {
	case m.Status == model.MachineMaintenance || !m.IsAvailable:
		return "undergoing maintenance"
	case m.Status == model.MachineRunning:
		return "running another measurement"
	case m.Status == model.MachineCooldown:
		return "cooling down"
	default:
		return "not ready yet"
	}
}

// OnDeck is sent to the entry at position 1 while the machine is busy.
func OnDeck(e *model.QueueEntry, m *model.Machine) Intent {
	return intent(model.NotifyOnDeck, e, "You're On Deck!",
		fmt.Sprintf("Your measurement %q is next in line for %s. The machine is currently %s; you will be notified when it is ready for check-in.",
			e.Title, m.Name, notReadyReason(m)))
}

// ReadyForCheckIn is sent to the entry at position 1 when the machine is idle.
func ReadyForCheckIn(e *model.QueueEntry, m *model.Machine) Intent {
	return intent(model.NotifyReadyForCheckIn, e, "Ready for Check-In",
		fmt.Sprintf("%s is ready! Please check in to start your measurement %q.", m.Name, e.Title))
}

// Bumped tells a former front entry that it lost position 1.
func Bumped(e *model.QueueEntry, m *model.Machine, newPos int, reason string) Intent {
	msg := fmt.Sprintf("Your measurement %q on %s moved from position #1 to #%d.", e.Title, machineName(e, m), newPos)
	if reason != "" {
		msg = fmt.Sprintf("Your measurement %q on %s moved from position #1 to #%d due to a %s.", e.Title, machineName(e, m), newPos, reason)
	}
	return intent(model.NotifyQueueMoved, e, "Queue Position Changed", msg)
}

// PositionChanged reports an ordinary move within the queue.
func PositionChanged(e *model.QueueEntry, m *model.Machine, from, to int) Intent {
	return intent(model.NotifyQueueMoved, e, "Queue Position Changed",
		fmt.Sprintf("Your measurement %q on %s moved from position #%d to #%d.", e.Title, machineName(e, m), from, to))
}

// QueueAdded confirms a submission.
func QueueAdded(e *model.QueueEntry, m *model.Machine) Intent {
	return intent(model.NotifyQueueAdded, e, "Added to Queue",
		fmt.Sprintf("Your measurement %q was added to the %s queue at position #%d.", e.Title, m.Name, e.Position()))
}

// Cancelled tells the owner that an entry was cancelled by someone else.
func Cancelled(e *model.QueueEntry, m *model.Machine, reason string) Intent {
	return intent(model.NotifyQueueCancelled, e, "Queue Entry Cancelled",
		fmt.Sprintf("Your measurement %q on %s was cancelled: %s.", e.Title, machineName(e, m), reason))
}

// Reassigned tells the owner that an admin moved the entry to another machine.
func Reassigned(e *model.QueueEntry, from string, m *model.Machine) Intent {
	return intent(model.NotifyAdminMovedEntry, e, "Moved to Another Machine",
		fmt.Sprintf("An administrator moved your measurement %q from %s to %s, position #%d.", e.Title, from, m.Name, e.Position()))
}

// MovedToFront uses admin wording for an entry an admin put first.
func MovedToFront(e *model.QueueEntry, m *model.Machine, reason string) Intent {
	return intent(model.NotifyAdminMovedEntry, e, "Moved to Front of Queue",
		fmt.Sprintf("An administrator moved your measurement %q to position #1 on %s (%s).", e.Title, m.Name, reason))
}

// AdminCheckIn tells the owner an admin started their measurement.
func AdminCheckIn(e *model.QueueEntry, m *model.Machine) Intent {
	return intent(model.NotifyAdminCheckIn, e, "Checked In by Administrator",
		fmt.Sprintf("An administrator checked you in to %s for %q.", m.Name, e.Title))
}

// AdminCheckout tells the owner an admin finished their measurement.
func AdminCheckout(e *model.QueueEntry, m *model.Machine) Intent {
	return intent(model.NotifyAdminCheckout, e, "Checked Out by Administrator",
		fmt.Sprintf("An administrator checked you out of %s for %q.", machineName(e, m), e.Title))
}

// RushRequested informs one admin of a rush-job appeal.
func RushRequested(adminID int64, e *model.QueueEntry, m *model.Machine) Intent {
	in := intent(model.NotifyAdminRushJob, e, "Rush Job Request",
		fmt.Sprintf("%s requested rush processing for %q on %s (position #%d).", e.Username, e.Title, machineName(e, m), e.Position()))
	in.Recipient = adminID
	return in
}

// RushRejected tells the owner their appeal was declined.
func RushRejected(e *model.QueueEntry, m *model.Machine) Intent {
	return intent(model.NotifyAdminRushJob, e, "Rush Job Declined",
		fmt.Sprintf("Your rush request for %q on %s was declined. The entry keeps position #%d.", e.Title, machineName(e, m), e.Position()))
}

// MachineStatusChanged tells a queued user their machine changed availability.
func MachineStatusChanged(e *model.QueueEntry, m *model.Machine) Intent {
	state := "available again"
	if !m.IsAvailable {
		state = "unavailable for maintenance"
	}
	return intent(model.NotifyMachineStatusChanged, e, "Machine Status Changed",
		fmt.Sprintf("%s is now %s. Your measurement %q stays at position #%d.", m.Name, state, e.Title, e.Position()))
}

// CheckinReminder nudges the front entry of an idle machine.
func CheckinReminder(e *model.QueueEntry, m *model.Machine) Intent {
	return intent(model.NotifyCheckinReminder, e, "Reminder: Check In",
		fmt.Sprintf("%s has been ready for you. Please check in for %q or cancel so the next person can go.", machineName(e, m), e.Title))
}

// CheckoutReminder nudges a running entry past its estimated duration.
func CheckoutReminder(e *model.QueueEntry, m *model.Machine) Intent {
	return intent(model.NotifyCheckoutReminder, e, "Reminder: Check Out",
		fmt.Sprintf("Your measurement %q on %s has passed its estimated duration. Please check out when you are done.", e.Title, machineName(e, m)))
}
