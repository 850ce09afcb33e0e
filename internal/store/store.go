package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"cryoqueue-backend/internal/model"
)

// ErrNotFound is returned when a looked-up row does not exist.
var ErrNotFound = errors.New("record not found")

// Telemetry is a single temperature reading pushed by the monitor.
type Telemetry struct {
	Temperature *float64
	Online      bool
	ObservedAt  time.Time
}

// Store defines the interface for all database operations.
//
// A Store obtained inside Transaction is bound to that transaction; every
// call made through it joins the same unit of work. Calling Transaction on a
// transaction-bound Store opens a savepoint.
type Store interface {
	Transaction(ctx context.Context, fn func(tx Store) error) error

	ListMachines(ctx context.Context) ([]model.Machine, error)
	ListAvailableMachines(ctx context.Context) ([]model.Machine, error)
	GetMachine(ctx context.Context, id int64) (*model.Machine, error)
	LockMachine(ctx context.Context, id int64) (*model.Machine, error)
	CreateMachine(ctx context.Context, m *model.Machine) error
	UpdateMachine(ctx context.Context, id int64, fields map[string]any) error
	DeleteMachine(ctx context.Context, id int64) error
	UpdateTelemetry(ctx context.Context, id int64, t Telemetry) error

	CreateEntry(ctx context.Context, e *model.QueueEntry) error
	GetEntry(ctx context.Context, id int64) (*model.QueueEntry, error)
	LockEntry(ctx context.Context, id int64) (*model.QueueEntry, error)
	UpdateEntry(ctx context.Context, id int64, fields map[string]any) error
	ClearPositions(ctx context.Context, ids []int64) error
	QueuedEntries(ctx context.Context, machineID int64) ([]model.QueueEntry, error)
	RunningEntry(ctx context.Context, machineID int64) (*model.QueueEntry, error)
	ActiveEntries(ctx context.Context, machineID int64) ([]model.QueueEntry, error)
	UserEntries(ctx context.Context, userID int64, activeOnly bool) ([]model.QueueEntry, error)
	DetachMachine(ctx context.Context, machineID int64, machineName string) error
	DueCheckoutReminders(ctx context.Context, now time.Time) ([]model.QueueEntry, error)
	DueCheckinReminders(ctx context.Context, now time.Time) ([]model.QueueEntry, error)

	CreateNotification(ctx context.Context, n *model.Notification) error
	UnreadForEntry(ctx context.Context, entryID int64, kinds ...model.NotificationKind) ([]model.Notification, error)
	MarkEntryNotificationsRead(ctx context.Context, entryID int64, kinds ...model.NotificationKind) (int64, error)
	DeleteNotifications(ctx context.Context, ids []int64) error
	ListNotifications(ctx context.Context, recipientID int64, unreadOnly bool) ([]model.Notification, error)
	MarkNotificationRead(ctx context.Context, recipientID, id int64) error
	MarkAllRead(ctx context.Context, recipientID int64) (int64, error)

	CreateArchive(ctx context.Context, a *model.ArchivedMeasurement) error

	UpsertSubscription(ctx context.Context, sub *model.PushSubscription) error
	GetSubscription(ctx context.Context, endpoint string) (*model.PushSubscription, error)
	SubscriptionsForUser(ctx context.Context, userID int64) ([]model.PushSubscription, error)
	DeleteSubscription(ctx context.Context, endpoint string) error
}

// gormStore implements the Store interface using GORM.
type gormStore struct {
	db *gorm.DB
}

// NewGormStore creates a new GORM-backed store.
func NewGormStore(db *gorm.DB) Store {
	return &gormStore{db: db}
}

// Transaction runs fn inside a database transaction. Returning an error from
// fn rolls back every write made through tx.
func (s *gormStore) Transaction(ctx context.Context, fn func(tx Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&gormStore{db: tx})
	})
}

func notFound(err error, what string, id any) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%s %v: %w", what, id, ErrNotFound)
	}
	return fmt.Errorf("failed to load %s %v: %w", what, id, err)
}
