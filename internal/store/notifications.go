package store

import (
	"context"
	"fmt"

	"cryoqueue-backend/internal/model"
)

func (s *gormStore) CreateNotification(ctx context.Context, n *model.Notification) error {
	if err := s.db.WithContext(ctx).Create(n).Error; err != nil {
		return fmt.Errorf("failed to create %s notification for user %d: %w", n.Kind, n.RecipientID, err)
	}
	return nil
}

// UnreadForEntry returns the unread notifications tied to an entry, limited
// to the given kinds when any are passed.
func (s *gormStore) UnreadForEntry(ctx context.Context, entryID int64, kinds ...model.NotificationKind) ([]model.Notification, error) {
	q := s.db.WithContext(ctx).Where("related_entry_id = ? AND is_read = ?", entryID, false)
	if len(kinds) > 0 {
		q = q.Where("kind IN ?", kinds)
	}
	var out []model.Notification
	if err := q.Order("id").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("failed to load notifications for entry %d: %w", entryID, err)
	}
	return out, nil
}

func (s *gormStore) MarkEntryNotificationsRead(ctx context.Context, entryID int64, kinds ...model.NotificationKind) (int64, error) {
	q := s.db.WithContext(ctx).Model(&model.Notification{}).
		Where("related_entry_id = ? AND is_read = ?", entryID, false)
	if len(kinds) > 0 {
		q = q.Where("kind IN ?", kinds)
	}
	res := q.Update("is_read", true)
	if res.Error != nil {
		return 0, fmt.Errorf("failed to clear notifications for entry %d: %w", entryID, res.Error)
	}
	return res.RowsAffected, nil
}

func (s *gormStore) DeleteNotifications(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	if err := s.db.WithContext(ctx).Delete(&model.Notification{}, ids).Error; err != nil {
		return fmt.Errorf("failed to delete notifications: %w", err)
	}
	return nil
}

func (s *gormStore) ListNotifications(ctx context.Context, recipientID int64, unreadOnly bool) ([]model.Notification, error) {
	q := s.db.WithContext(ctx).Where("recipient_id = ?", recipientID)
	if unreadOnly {
		q = q.Where("is_read = ?", false)
	}
	var out []model.Notification
	if err := q.Order("created_at DESC, id DESC").Limit(200).Find(&out).Error; err != nil {
		return nil, fmt.Errorf("failed to list notifications for user %d: %w", recipientID, err)
	}
	return out, nil
}

func (s *gormStore) MarkNotificationRead(ctx context.Context, recipientID, id int64) error {
	res := s.db.WithContext(ctx).Model(&model.Notification{}).
		Where("id = ? AND recipient_id = ?", id, recipientID).
		Update("is_read", true)
	if res.Error != nil {
		return fmt.Errorf("failed to mark notification %d read: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("notification %d: %w", id, ErrNotFound)
	}
	return nil
}

func (s *gormStore) MarkAllRead(ctx context.Context, recipientID int64) (int64, error) {
	res := s.db.WithContext(ctx).Model(&model.Notification{}).
		Where("recipient_id = ? AND is_read = ?", recipientID, false).
		Update("is_read", true)
	if res.Error != nil {
		return 0, fmt.Errorf("failed to mark notifications read for user %d: %w", recipientID, res.Error)
	}
	return res.RowsAffected, nil
}
