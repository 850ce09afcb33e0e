package model

import "time"

// NotificationKind classifies an emitted notice.
type NotificationKind string

const (
	NotifyQueueAdded           NotificationKind = "queue_added"
	NotifyQueueMoved           NotificationKind = "queue_moved"
	NotifyQueueCancelled       NotificationKind = "queue_cancelled"
	NotifyOnDeck               NotificationKind = "on_deck"
	NotifyReadyForCheckIn      NotificationKind = "ready_for_check_in"
	NotifyCheckinReminder      NotificationKind = "checkin_reminder"
	NotifyCheckoutReminder     NotificationKind = "checkout_reminder"
	NotifyAdminCheckIn         NotificationKind = "admin_check_in"
	NotifyAdminCheckout        NotificationKind = "admin_checkout"
	NotifyAdminMovedEntry      NotificationKind = "admin_moved_entry"
	NotifyAdminRushJob         NotificationKind = "admin_rush_job"
	NotifyMachineStatusChanged NotificationKind = "machine_status_changed"
)

// FrontKinds are the notification kinds owned by the entry at position 1.
var FrontKinds = []NotificationKind{NotifyOnDeck, NotifyReadyForCheckIn}

// Notification is an in-app notice addressed to a single user.
type Notification struct {
	ID               int64            `gorm:"primaryKey"`
	RecipientID      int64            `gorm:"not null;index:idx_notifications_recipient_read"`
	Kind             NotificationKind `gorm:"size:30;not null;index"`
	Title            string           `gorm:"size:200;not null"`
	Message          string           `gorm:"not null"`
	RelatedEntryID   *int64           `gorm:"index"`
	RelatedMachineID *int64
	IsRead           bool `gorm:"not null;default:false;index:idx_notifications_recipient_read"`
	CreatedAt        time.Time
}
