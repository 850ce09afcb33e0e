// Package lifecycle runs the reservation state machine: submit, check-in,
// check-out, cancel, undo and the admin queue operations. Every transition
// takes the per-machine lock, commits its state change in one transaction,
// and only then hands an Effects descriptor to the notification pass.
package lifecycle

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"cryoqueue-backend/internal/clock"
	"cryoqueue-backend/internal/events"
	"cryoqueue-backend/internal/matcher"
	"cryoqueue-backend/internal/metrics"
	"cryoqueue-backend/internal/model"
	"cryoqueue-backend/internal/notification"
	"cryoqueue-backend/internal/queue"
	"cryoqueue-backend/internal/store"
)

// Actor is the authenticated caller of an operation.
type Actor struct {
	UserID int64
	Name   string
	Admin  bool
}

// Options configures a Service. Zero values fall back to sane defaults.
type Options struct {
	Clock          clock.Clock
	Delivery       notification.Deliverer
	Events         events.Publisher
	Locks          *queue.Locker
	CheckoutSnooze time.Duration
	CheckinSnooze  time.Duration
	// AdminUserIDs receive rush-job appeals.
	AdminUserIDs []int64
}

// Service implements the reservation lifecycle.
type Service struct {
	store    store.Store
	matcher  *matcher.Matcher
	orderer  *queue.Orderer
	policy   *notification.Policy
	delivery notification.Deliverer
	events   events.Publisher
	locks    *queue.Locker
	clock    clock.Clock
	opts     Options
	log      zerolog.Logger
}

// New wires a Service on top of st.
func New(st store.Store, opts Options, log zerolog.Logger) *Service {
	if opts.Clock == nil {
		opts.Clock = clock.Real{}
	}
	if opts.Delivery == nil {
		opts.Delivery = notification.Discard{}
	}
	if opts.Events == nil {
		opts.Events = events.Nop{}
	}
	if opts.Locks == nil {
		opts.Locks = queue.NewLocker()
	}
	if opts.CheckoutSnooze <= 0 {
		opts.CheckoutSnooze = 48 * time.Hour
	}
	if opts.CheckinSnooze <= 0 {
		opts.CheckinSnooze = 48 * time.Hour
	}
	log = log.With().Str("component", "lifecycle").Logger()
	return &Service{
		store:    st,
		matcher:  matcher.New(opts.Clock),
		orderer:  queue.NewOrderer(opts.Clock, log),
		policy:   notification.NewPolicy(opts.Clock, log),
		delivery: opts.Delivery,
		events:   opts.Events,
		locks:    opts.Locks,
		clock:    opts.Clock,
		opts:     opts,
		log:      log,
	}
}

// Matcher exposes the matcher for read-only previews.
func (s *Service) Matcher() *matcher.Matcher { return s.matcher }

// Policy exposes the notification policy for the reminder scanner.
func (s *Service) Policy() *notification.Policy { return s.policy }

// entryFunc mutates one entry inside the transition transaction. machine is
// the locked row of the entry's machine.
type entryFunc func(tx store.Store, e *model.QueueEntry, machine *model.Machine, eff *Effects) error

// onEntry runs fn for an entry that must be assigned to a machine. The
// machine lock is taken before the transaction opens; the entry is re-read
// under it and rejected if it moved machines in between.
func (s *Service) onEntry(ctx context.Context, op string, entryID int64, fn entryFunc) (*model.QueueEntry, error) {
	pre, err := s.store.GetEntry(ctx, entryID)
	if err != nil {
		return nil, s.outcome(op, err)
	}
	machineID := pre.MachineID()
	if machineID == 0 {
		return nil, s.outcome(op, precondition(op, "entry %d is not assigned to a machine", entryID))
	}

	unlock := s.locks.Lock(machineID)
	defer unlock()

	var (
		eff Effects
		out *model.QueueEntry
	)
	err = s.store.Transaction(ctx, func(tx store.Store) error {
		machine, err := tx.LockMachine(ctx, machineID)
		if err != nil {
			return err
		}
		e, err := tx.LockEntry(ctx, entryID)
		if err != nil {
			return err
		}
		if e.MachineID() != machineID {
			return precondition(op, "entry %d changed machines, retry", entryID)
		}
		if err := fn(tx, e, machine, &eff); err != nil {
			return err
		}
		out, err = tx.GetEntry(ctx, entryID)
		return err
	})
	if err != nil {
		return nil, s.outcome(op, err)
	}
	s.outcome(op, nil)

	s.dispatch(ctx, &eff)
	return out, nil
}

// onMachine runs fn with the locked row of a machine.
func (s *Service) onMachine(ctx context.Context, op string, machineID int64, fn func(tx store.Store, machine *model.Machine, eff *Effects) error) error {
	if err := s.withMachine(ctx, machineID, fn); err != nil {
		return s.outcome(op, err)
	}
	s.outcome(op, nil)
	return nil
}

// withMachine is onMachine without the outcome accounting, for callers that
// may retry on another machine.
func (s *Service) withMachine(ctx context.Context, machineID int64, fn func(tx store.Store, machine *model.Machine, eff *Effects) error) error {
	unlock := s.locks.Lock(machineID)
	defer unlock()

	var eff Effects
	err := s.store.Transaction(ctx, func(tx store.Store) error {
		machine, err := tx.LockMachine(ctx, machineID)
		if err != nil {
			return err
		}
		return fn(tx, machine, &eff)
	})
	if err != nil {
		return err
	}

	s.dispatch(ctx, &eff)
	return nil
}

// outcome counts the result of an operation and returns err unchanged.
func (s *Service) outcome(op string, err error) error {
	switch {
	case err == nil:
		metrics.Transitions.WithLabelValues(op, "ok").Inc()
	case errors.Is(err, ErrPrecondition), errors.Is(err, ErrForbidden), errors.Is(err, ErrInvalidRequest), errors.Is(err, store.ErrNotFound):
		metrics.Transitions.WithLabelValues(op, "precondition").Inc()
		s.log.Debug().Str("op", op).Err(err).Msg("transition refused")
	default:
		metrics.Transitions.WithLabelValues(op, "error").Inc()
		s.log.Error().Str("op", op).Err(err).Msg("transition failed")
	}
	return err
}

func requireOwner(actor Actor, e *model.QueueEntry) error {
	if actor.Admin || actor.UserID == e.UserID {
		return nil
	}
	return ErrForbidden
}

func requireAdmin(actor Actor) error {
	if actor.Admin {
		return nil
	}
	return ErrForbidden
}

func update(e events.Type, entry *model.QueueEntry, machine *model.Machine, actor Actor) events.QueueUpdate {
	u := events.QueueUpdate{Type: e, ActorID: actor.UserID}
	if entry != nil {
		u.EntryID = entry.ID
		u.UserID = entry.UserID
	}
	if machine != nil {
		u.MachineID = machine.ID
		u.MachineName = machine.Name
	}
	return u
}

// releaseMachine returns a machine to the pool after its running entry left.
// A machine that was marked unavailable mid-run drops into maintenance.
func (s *Service) releaseMachine(ctx context.Context, tx store.Store, machine *model.Machine) error {
	now := s.clock.Now()
	fields := map[string]any{
		"status":                 model.MachineIdle,
		"current_user_id":        nil,
		"estimated_available_at": nil,
	}
	machine.Status = model.MachineIdle
	machine.CurrentUserID = nil
	machine.EstimatedAvailableAt = nil

	if !machine.IsAvailable {
		fields["status"] = model.MachineMaintenance
		machine.Status = model.MachineMaintenance
	} else if machine.CooldownHours > 0 {
		at := now.Add(machine.Cooldown())
		fields["estimated_available_at"] = at
		machine.EstimatedAvailableAt = &at
	}
	return tx.UpdateMachine(ctx, machine.ID, fields)
}

func (s *Service) archive(ctx context.Context, tx store.Store, e *model.QueueEntry, machine *model.Machine, status model.ArchiveStatus) error {
	now := s.clock.Now()
	a := &model.ArchivedMeasurement{
		UserID:          e.UserID,
		MachineName:     e.MachineNameText,
		Title:           e.Title,
		Status:          status,
		MeasurementDate: e.SubmittedAt,
		DurationHours:   e.EstimatedDurationHours,
		ArchivedAt:      now,
	}
	entryID := e.ID
	a.QueueEntryID = &entryID
	if machine != nil {
		machineID := machine.ID
		a.MachineID = &machineID
		a.MachineName = machine.Name
	}
	if e.StartedAt != nil {
		a.MeasurementDate = *e.StartedAt
		if status == model.ArchiveCompleted {
			a.DurationHours = now.Sub(*e.StartedAt).Hours()
		}
	}
	if a.MachineName == "" {
		a.MachineName = "unassigned"
	}
	return tx.CreateArchive(ctx, a)
}

// clearedReminders resets every reminder field of an entry.
func clearedReminders() map[string]any {
	return map[string]any{
		"reminder_due_at":                nil,
		"last_reminder_sent_at":          nil,
		"reminder_snoozed_until":         nil,
		"checkin_reminder_due_at":        nil,
		"last_checkin_reminder_sent_at":  nil,
		"checkin_reminder_snoozed_until": nil,
	}
}

func merge(dst map[string]any, src map[string]any) map[string]any {
	for k, v := range src {
		dst[k] = v
	}
	return dst
}
