package lifecycle

import (
	"context"
	"errors"
	"strings"

	"cryoqueue-backend/internal/events"
	"cryoqueue-backend/internal/matcher"
	"cryoqueue-backend/internal/metrics"
	"cryoqueue-backend/internal/model"
	"cryoqueue-backend/internal/notification"
	"cryoqueue-backend/internal/store"
)

// SubmitRequest is a new measurement request.
type SubmitRequest struct {
	Title               string
	Description         string
	SpecialRequirements string
	Requirement         matcher.Requirement
	RushJob             bool
}

// SubmitResult reports where a request landed. NoMatch is set, and the
// entry left unassigned, when no machine can serve the request.
type SubmitResult struct {
	Entry   *model.QueueEntry
	Match   *matcher.Match
	NoMatch *matcher.NoMatchError
}

func (r SubmitRequest) validate() error {
	switch {
	case strings.TrimSpace(r.Title) == "":
		return invalid("title is required")
	case r.Requirement.DurationHours <= 0:
		return invalid("estimated duration must be positive")
	case r.Requirement.MinTemp < 0:
		return invalid("minimum temperature cannot be negative")
	case r.Requirement.MaxTemp != nil && *r.Requirement.MaxTemp < r.Requirement.MinTemp:
		return invalid("maximum temperature is below minimum temperature")
	case r.Requirement.DCLines < 0 || r.Requirement.RFLines < 0:
		return invalid("line counts cannot be negative")
	}
	return nil
}

func (r SubmitRequest) entry(actor Actor) *model.QueueEntry {
	req := r.Requirement
	return &model.QueueEntry{
		UserID:                  actor.UserID,
		Username:                actor.Name,
		Title:                   strings.TrimSpace(r.Title),
		Description:             r.Description,
		RequiredMinTemp:         req.MinTemp,
		RequiredMaxTemp:         req.MaxTemp,
		RequiredBFieldX:         req.BFieldX,
		RequiredBFieldY:         req.BFieldY,
		RequiredBFieldZ:         req.BFieldZ,
		RequiredBFieldDirection: req.Direction,
		RequiredDCLines:         req.DCLines,
		RequiredRFLines:         req.RFLines,
		RequiredDaughterboard:   req.Daughterboard,
		RequiresOptical:         req.RequiresOptical,
		SpecialRequirements:     r.SpecialRequirements,
		EstimatedDurationHours:  req.DurationHours,
		Status:                  model.EntryQueued,
	}
}

// submitAttempts bounds how often Submit re-runs the match when the chosen
// machine leaves service before its lock is taken.
const submitAttempts = 3

// errMachineWithdrawn is returned under the machine lock when the matched
// machine no longer accepts work.
var errMachineWithdrawn = errors.New("machine withdrawn from service")

// Submit matches a request to the machine with the earliest projected
// availability and appends it to that machine's queue. The match runs
// unlocked, so the chosen machine is checked again under its lock; if it was
// taken out of service or deleted meanwhile the match is repeated, and the
// entry is left unassigned once the attempts run out.
func (s *Service) Submit(ctx context.Context, actor Actor, req SubmitRequest) (*SubmitResult, error) {
	const op = "submit"
	if err := req.validate(); err != nil {
		return nil, s.outcome(op, err)
	}

	var withdrawn []matcher.Rejection
	for attempt := 1; attempt <= submitAttempts; attempt++ {
		match, err := s.matcher.FindBest(ctx, s.store, req.Requirement)
		var noMatch *matcher.NoMatchError
		if errors.As(err, &noMatch) {
			return s.submitUnassigned(ctx, actor, req, noMatch)
		}
		if err != nil {
			return nil, s.outcome(op, err)
		}

		entry, err := s.enqueue(ctx, actor, req, match.Machine.ID)
		if errors.Is(err, errMachineWithdrawn) || errors.Is(err, store.ErrNotFound) {
			s.log.Debug().Int64("machine_id", match.Machine.ID).Int("attempt", attempt).
				Msg("matched machine left service, matching again")
			withdrawn = append(withdrawn, matcher.Rejection{
				Machine: match.Machine.Name,
				Stage:   "availability",
				Reason:  "taken out of service while the request was placed",
			})
			continue
		}
		if err != nil {
			return nil, s.outcome(op, err)
		}
		s.outcome(op, nil)

		s.log.Info().Int64("entry_id", entry.ID).Int64("machine_id", match.Machine.ID).
			Int("position", entry.Position()).Dur("wait", match.Wait).Msg("measurement queued")
		return &SubmitResult{Entry: entry, Match: match}, nil
	}

	return s.submitUnassigned(ctx, actor, req, &matcher.NoMatchError{
		Considered: len(withdrawn),
		Rejections: withdrawn,
	})
}

// enqueue appends a new entry to the queue of machineID.
func (s *Service) enqueue(ctx context.Context, actor Actor, req SubmitRequest, machineID int64) (*model.QueueEntry, error) {
	entry := req.entry(actor)
	err := s.withMachine(ctx, machineID, func(tx store.Store, machine *model.Machine, eff *Effects) error {
		if !machine.IsAvailable || machine.Status == model.MachineMaintenance {
			return errMachineWithdrawn
		}

		now := s.clock.Now()
		pos, err := s.orderer.NextPosition(ctx, tx, machine.ID)
		if err != nil {
			return err
		}
		assigned := machine.ID
		entry.AssignedMachineID = &assigned
		entry.MachineNameText = machine.Name
		entry.QueuePosition = &pos
		entry.SubmittedAt = now
		if req.RushJob {
			entry.IsRushJob = true
			entry.RushJobSubmittedAt = &now
		}
		if err := tx.CreateEntry(ctx, entry); err != nil {
			return err
		}

		change, err := s.orderer.Reorder(ctx, tx, machine)
		if err != nil {
			return err
		}
		eff.queueChanged(machine.ID, change)

		fresh, err := tx.GetEntry(ctx, entry.ID)
		if err != nil {
			return err
		}
		*entry = *fresh
		eff.notify(notification.QueueAdded(entry, machine))
		if req.RushJob {
			s.notifyAdmins(eff, entry, machine)
		}
		eff.Events = append(eff.Events, update(events.Submitted, entry, machine, actor))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

func (s *Service) submitUnassigned(ctx context.Context, actor Actor, req SubmitRequest, noMatch *matcher.NoMatchError) (*SubmitResult, error) {
	metrics.NoMatch.Inc()
	entry := req.entry(actor)
	entry.SubmittedAt = s.clock.Now()
	if err := s.store.CreateEntry(ctx, entry); err != nil {
		return nil, s.outcome("submit", err)
	}
	s.outcome("submit", nil)

	s.log.Info().Int64("entry_id", entry.ID).Int("considered", noMatch.Considered).
		Int("rejections", len(noMatch.Rejections)).Msg("no compatible machine, entry left unassigned")
	return &SubmitResult{Entry: entry, NoMatch: noMatch}, nil
}

// CompatibleMachines runs the filter pipeline without ranking.
func (s *Service) CompatibleMachines(ctx context.Context, req matcher.Requirement) ([]model.Machine, []matcher.Rejection, error) {
	return s.matcher.Compatible(ctx, s.store, req)
}

func (s *Service) notifyAdmins(eff *Effects, e *model.QueueEntry, machine *model.Machine) {
	for _, adminID := range s.opts.AdminUserIDs {
		eff.notify(notification.RushRequested(adminID, e, machine))
	}
}
