package store

import (
	"context"
	"fmt"
	"sort"
	"time"

	"gorm.io/gorm/clause"

	"cryoqueue-backend/internal/model"
)

func (s *gormStore) CreateEntry(ctx context.Context, e *model.QueueEntry) error {
	if e.Status == "" {
		e.Status = model.EntryQueued
	}
	if err := s.db.WithContext(ctx).Create(e).Error; err != nil {
		return fmt.Errorf("failed to create queue entry: %w", err)
	}
	return nil
}

func (s *gormStore) GetEntry(ctx context.Context, id int64) (*model.QueueEntry, error) {
	var e model.QueueEntry
	if err := s.db.WithContext(ctx).First(&e, id).Error; err != nil {
		return nil, notFound(err, "queue entry", id)
	}
	return &e, nil
}

func (s *gormStore) LockEntry(ctx context.Context, id int64) (*model.QueueEntry, error) {
	var e model.QueueEntry
	err := s.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&e, id).Error
	if err != nil {
		return nil, notFound(err, "queue entry", id)
	}
	return &e, nil
}

// UpdateEntry sets the given columns on a single entry in one statement.
func (s *gormStore) UpdateEntry(ctx context.Context, id int64, fields map[string]any) error {
	res := s.db.WithContext(ctx).Model(&model.QueueEntry{}).Where("id = ?", id).Updates(fields)
	if res.Error != nil {
		return fmt.Errorf("failed to update queue entry %d: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("queue entry %d: %w", id, ErrNotFound)
	}
	return nil
}

// ClearPositions nulls the queue position of every listed entry at once.
func (s *gormStore) ClearPositions(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	err := s.db.WithContext(ctx).Model(&model.QueueEntry{}).
		Where("id IN ?", ids).
		Update("queue_position", nil).Error
	if err != nil {
		return fmt.Errorf("failed to clear queue positions: %w", err)
	}
	return nil
}

// QueuedEntries returns the queued entries of a machine ordered by position
// ascending with unpositioned entries last, ties broken by submission time.
func (s *gormStore) QueuedEntries(ctx context.Context, machineID int64) ([]model.QueueEntry, error) {
	var entries []model.QueueEntry
	err := s.db.WithContext(ctx).
		Where("assigned_machine_id = ? AND status = ?", machineID, model.EntryQueued).
		Order("submitted_at, id").
		Find(&entries).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list queue for machine %d: %w", machineID, err)
	}
	sortByPosition(entries)
	return entries, nil
}

func sortByPosition(entries []model.QueueEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		pi, pj := entries[i].QueuePosition, entries[j].QueuePosition
		switch {
		case pi == nil:
			return false
		case pj == nil:
			return true
		default:
			return *pi < *pj
		}
	})
}

// RunningEntry returns the entry currently running on a machine, or
// ErrNotFound when the machine has none.
func (s *gormStore) RunningEntry(ctx context.Context, machineID int64) (*model.QueueEntry, error) {
	var entries []model.QueueEntry
	err := s.db.WithContext(ctx).
		Where("assigned_machine_id = ? AND status = ?", machineID, model.EntryRunning).
		Order("started_at, id").
		Limit(1).
		Find(&entries).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load running entry for machine %d: %w", machineID, err)
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("running entry for machine %d: %w", machineID, ErrNotFound)
	}
	return &entries[0], nil
}

func (s *gormStore) ActiveEntries(ctx context.Context, machineID int64) ([]model.QueueEntry, error) {
	var entries []model.QueueEntry
	err := s.db.WithContext(ctx).
		Where("assigned_machine_id = ? AND status IN ?", machineID, []model.EntryStatus{model.EntryQueued, model.EntryRunning}).
		Order("id").
		Find(&entries).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list active entries for machine %d: %w", machineID, err)
	}
	return entries, nil
}

func (s *gormStore) UserEntries(ctx context.Context, userID int64, activeOnly bool) ([]model.QueueEntry, error) {
	q := s.db.WithContext(ctx).Where("user_id = ?", userID)
	if activeOnly {
		q = q.Where("status IN ?", []model.EntryStatus{model.EntryQueued, model.EntryRunning})
	}
	var entries []model.QueueEntry
	if err := q.Order("submitted_at DESC, id DESC").Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("failed to list entries for user %d: %w", userID, err)
	}
	return entries, nil
}

// DetachMachine drops every reference to a machine that is about to be
// deleted, keeping its name as text on the rows that outlive it.
func (s *gormStore) DetachMachine(ctx context.Context, machineID int64, machineName string) error {
	db := s.db.WithContext(ctx)
	if err := db.Model(&model.QueueEntry{}).
		Where("assigned_machine_id = ?", machineID).
		Updates(map[string]any{
			"assigned_machine_id": nil,
			"machine_name_text":   machineName,
			"queue_position":      nil,
		}).Error; err != nil {
		return fmt.Errorf("failed to detach entries from machine %d: %w", machineID, err)
	}
	if err := db.Model(&model.ArchivedMeasurement{}).
		Where("machine_id = ?", machineID).
		Update("machine_id", nil).Error; err != nil {
		return fmt.Errorf("failed to detach archives from machine %d: %w", machineID, err)
	}
	if err := db.Model(&model.Notification{}).
		Where("related_machine_id = ?", machineID).
		Update("related_machine_id", nil).Error; err != nil {
		return fmt.Errorf("failed to detach notifications from machine %d: %w", machineID, err)
	}
	return nil
}

// DueCheckoutReminders locks the running entries whose checkout reminder is
// due and not snoozed. Rows already locked by another scanner are skipped.
func (s *gormStore) DueCheckoutReminders(ctx context.Context, now time.Time) ([]model.QueueEntry, error) {
	var entries []model.QueueEntry
	err := s.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
		Where("status = ?", model.EntryRunning).
		Where("reminder_due_at IS NOT NULL AND reminder_due_at <= ?", now).
		Where("(reminder_snoozed_until IS NULL OR reminder_snoozed_until <= ?)", now).
		Order("id").
		Find(&entries).Error
	if err != nil {
		return nil, fmt.Errorf("failed to scan checkout reminders: %w", err)
	}
	return entries, nil
}

// DueCheckinReminders locks the position-1 entries of idle, available
// machines whose check-in reminder is due and not snoozed.
func (s *gormStore) DueCheckinReminders(ctx context.Context, now time.Time) ([]model.QueueEntry, error) {
	var entries []model.QueueEntry
	err := s.db.WithContext(ctx).
		Clauses(clause.Locking{
			Strength: "UPDATE",
			Table:    clause.Table{Name: "queue_entries"},
			Options:  "SKIP LOCKED",
		}).
		Select("queue_entries.*").
		Joins("JOIN machines ON machines.id = queue_entries.assigned_machine_id").
		Where("queue_entries.status = ? AND queue_entries.queue_position = ?", model.EntryQueued, 1).
		Where("machines.status = ? AND machines.is_available = ?", model.MachineIdle, true).
		Where("queue_entries.checkin_reminder_due_at IS NOT NULL AND queue_entries.checkin_reminder_due_at <= ?", now).
		Where("(queue_entries.checkin_reminder_snoozed_until IS NULL OR queue_entries.checkin_reminder_snoozed_until <= ?)", now).
		Order("queue_entries.id").
		Find(&entries).Error
	if err != nil {
		return nil, fmt.Errorf("failed to scan check-in reminders: %w", err)
	}
	return entries, nil
}
