package notification

import (
	"context"
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

type policyFixture struct {
	ctx     context.Context
	st      store.Store
	policy  *Policy
	clock   *clock.Fake
	machine *model.Machine
}

func newPolicyFixture(t *testing.T, status model.MachineStatus) *policyFixture {
	t.Helper()
	c := clock.NewFake(testNow)
	f := &policyFixture{
		ctx:    context.Background(),
		st:     store.NewGormStore(testutil.NewDB(t)),
		policy: NewPolicy(c, zerolog.Nop()),
		clock:  c,
	}
	f.machine = &model.Machine{Name: "Bluefors", MinTemp: 0.01, MaxTemp: 300, Status: status, IsAvailable: true}
	require.NoError(t, f.st.CreateMachine(f.ctx, f.machine))
	return f
}

func (f *policyFixture) entry(t *testing.T, user int64, pos int) *model.QueueEntry {
	t.Helper()
	e := &model.QueueEntry{
		UserID: user, Username: "u", Title: "sweep", EstimatedDurationHours: 2,
		AssignedMachineID: &f.machine.ID, QueuePosition: &pos, SubmittedAt: f.clock.Advance(time.Second),
	}
	require.NoError(t, f.st.CreateEntry(f.ctx, e))
	return e
}

func (f *policyFixture) check(t *testing.T) []model.Notification {
	t.Helper()
	sent, err := f.policy.CheckOnDeck(f.ctx, f.st, f.machine.ID)
	require.NoError(t, err)
	return sent
}

func (f *policyFixture) unread(t *testing.T, entryID int64, kinds ...model.NotificationKind) []model.Notification {
	t.Helper()
	n, err := f.st.UnreadForEntry(f.ctx, entryID, kinds...)
	require.NoError(t, err)
	return n
}

func TestCheckOnDeck_ReadyWhenIdle(t *testing.T) {
	f := newPolicyFixture(t, model.MachineIdle)
	front := f.entry(t, 1, 1)
	f.entry(t, 2, 2)

	sent := f.check(t)
	require.Len(t, sent, 1)
	assert.Equal(t, model.NotifyReadyForCheckIn, sent[0].Kind)
	assert.Equal(t, int64(1), sent[0].RecipientID)
	assert.Equal(t, front.ID, *sent[0].RelatedEntryID)

	got, err := f.st.GetEntry(f.ctx, front.ID)
	require.NoError(t, err)
	require.NotNil(t, got.CheckinReminderDueAt, "ready starts the check-in reminder clock")
	assert.True(t, testNow.Equal(*got.CheckinReminderDueAt))
}

func TestCheckOnDeck_Idempotent(t *testing.T) {
	for _, status := range []model.MachineStatus{model.MachineIdle, model.MachineRunning} {
		t.Run(string(status), func(t *testing.T) {
			f := newPolicyFixture(t, status)
			front := f.entry(t, 1, 1)

			assert.Len(t, f.check(t), 1)
			assert.Empty(t, f.check(t), "second call with no change must not emit")
			assert.Len(t, f.unread(t, front.ID), 1)
		})
	}
}

func TestCheckOnDeck_OnDeckSupersededByReady(t *testing.T) {
	f := newPolicyFixture(t, model.MachineRunning)
	front := f.entry(t, 1, 1)

	sent := f.check(t)
	require.Len(t, sent, 1)
	assert.Equal(t, model.NotifyOnDeck, sent[0].Kind)
	assert.Contains(t, sent[0].Message, "running another measurement")

	got, err := f.st.GetEntry(f.ctx, front.ID)
	require.NoError(t, err)
	assert.Nil(t, got.CheckinReminderDueAt, "on deck clears the check-in reminder")

	require.NoError(t, f.st.UpdateMachine(f.ctx, f.machine.ID, map[string]any{"status": model.MachineIdle}))
	sent = f.check(t)
	require.Len(t, sent, 1)
	assert.Equal(t, model.NotifyReadyForCheckIn, sent[0].Kind)

	live := f.unread(t, front.ID, model.FrontKinds...)
	require.Len(t, live, 1)
	assert.Equal(t, model.NotifyReadyForCheckIn, live[0].Kind)
}

func TestCheckOnDeck_MaintenanceReason(t *testing.T) {
	f := newPolicyFixture(t, model.MachineIdle)
	require.NoError(t, f.st.UpdateMachine(f.ctx, f.machine.ID, map[string]any{"is_available": false}))
	f.entry(t, 1, 1)

	sent := f.check(t)
	require.Len(t, sent, 1)
	assert.Equal(t, model.NotifyOnDeck, sent[0].Kind)
	assert.Contains(t, sent[0].Message, "maintenance")
}

func TestCheckOnDeck_BumpedEntryIsCleared(t *testing.T) {
	f := newPolicyFixture(t, model.MachineIdle)
	a := f.entry(t, 1, 1)
	b := f.entry(t, 2, 2)
	require.Len(t, f.check(t), 1)

	// b jumps the queue
	require.NoError(t, f.st.UpdateEntry(f.ctx, a.ID, map[string]any{"queue_position": nil}))
	require.NoError(t, f.st.UpdateEntry(f.ctx, b.ID, map[string]any{"queue_position": 1}))
	require.NoError(t, f.st.UpdateEntry(f.ctx, a.ID, map[string]any{"queue_position": 2}))

	sent := f.check(t)
	require.Len(t, sent, 2)
	assert.Equal(t, model.NotifyQueueMoved, sent[0].Kind)
	assert.Equal(t, a.UserID, sent[0].RecipientID)
	assert.Contains(t, sent[0].Message, "from position #1 to #2")
	assert.Equal(t, model.NotifyReadyForCheckIn, sent[1].Kind)
	assert.Equal(t, b.UserID, sent[1].RecipientID)

	assert.Empty(t, f.unread(t, a.ID, model.FrontKinds...))
	gotA, err := f.st.GetEntry(f.ctx, a.ID)
	require.NoError(t, err)
	assert.Nil(t, gotA.CheckinReminderDueAt)

	assert.Empty(t, f.check(t))
}

func TestCheckOnDeck_EmptyQueue(t *testing.T) {
	f := newPolicyFixture(t, model.MachineIdle)
	assert.Empty(t, f.check(t))
}

func TestSend_PersistsNotification(t *testing.T) {
	f := newPolicyFixture(t, model.MachineIdle)
	e := f.entry(t, 4, 1)

	n, err := f.policy.Send(f.ctx, f.st, QueueAdded(e, f.machine))
	require.NoError(t, err)
	assert.NotZero(t, n.ID)

	list, err := f.st.ListNotifications(f.ctx, 4, true)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, model.NotifyQueueAdded, list[0].Kind)
	assert.Equal(t, "Your measurement \"sweep\" was added to the Bluefors queue at position #1.", list[0].Message)
}
