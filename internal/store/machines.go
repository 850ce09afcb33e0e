package store

import (
	"context"
	"fmt"

	"gorm.io/gorm/clause"

	"cryoqueue-backend/internal/model"
)

func (s *gormStore) ListMachines(ctx context.Context) ([]model.Machine, error) {
	var machines []model.Machine
	if err := s.db.WithContext(ctx).Order("name, id").Find(&machines).Error; err != nil {
		return nil, fmt.Errorf("failed to list machines: %w", err)
	}
	return machines, nil
}

// ListAvailableMachines returns the machines that can take new work, ordered
// by name so that callers iterate them deterministically.
func (s *gormStore) ListAvailableMachines(ctx context.Context) ([]model.Machine, error) {
	var machines []model.Machine
	err := s.db.WithContext(ctx).
		Where("is_available = ? AND status <> ?", true, model.MachineMaintenance).
		Order("name, id").
		Find(&machines).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list available machines: %w", err)
	}
	return machines, nil
}

func (s *gormStore) GetMachine(ctx context.Context, id int64) (*model.Machine, error) {
	var m model.Machine
	if err := s.db.WithContext(ctx).First(&m, id).Error; err != nil {
		return nil, notFound(err, "machine", id)
	}
	return &m, nil
}

// LockMachine loads a machine and holds its row lock until the surrounding
// transaction ends. All queue mutations for a machine go through this lock.
func (s *gormStore) LockMachine(ctx context.Context, id int64) (*model.Machine, error) {
	var m model.Machine
	err := s.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&m, id).Error
	if err != nil {
		return nil, notFound(err, "machine", id)
	}
	return &m, nil
}

func (s *gormStore) CreateMachine(ctx context.Context, m *model.Machine) error {
	if m.Status == "" {
		m.Status = model.MachineIdle
	}
	if m.BFieldDirection == "" {
		m.BFieldDirection = model.DirectionNone
	}
	if m.OpticalCapabilities == "" {
		m.OpticalCapabilities = model.OpticalNone
	}
	if err := s.db.WithContext(ctx).Create(m).Error; err != nil {
		return fmt.Errorf("failed to create machine %q: %w", m.Name, err)
	}
	return nil
}

func (s *gormStore) UpdateMachine(ctx context.Context, id int64, fields map[string]any) error {
	res := s.db.WithContext(ctx).Model(&model.Machine{}).Where("id = ?", id).Updates(fields)
	if res.Error != nil {
		return fmt.Errorf("failed to update machine %d: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("machine %d: %w", id, ErrNotFound)
	}
	return nil
}

func (s *gormStore) DeleteMachine(ctx context.Context, id int64) error {
	res := s.db.WithContext(ctx).Delete(&model.Machine{}, id)
	if res.Error != nil {
		return fmt.Errorf("failed to delete machine %d: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("machine %d: %w", id, ErrNotFound)
	}
	return nil
}

// UpdateTelemetry stores the latest temperature reading. A failed poll keeps
// the previous temperature and only flips the online flag.
func (s *gormStore) UpdateTelemetry(ctx context.Context, id int64, t Telemetry) error {
	fields := map[string]any{
		"cached_online":    t.Online,
		"last_temp_update": t.ObservedAt,
	}
	if t.Temperature != nil {
		fields["cached_temperature"] = *t.Temperature
	}
	return s.UpdateMachine(ctx, id, fields)
}
