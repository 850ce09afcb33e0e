package model

import "time"

// ArchiveStatus is the terminal outcome recorded for a past measurement.
type ArchiveStatus string

const (
	ArchiveCompleted ArchiveStatus = "completed"
	ArchiveCancelled ArchiveStatus = "cancelled"
	ArchiveOrphaned  ArchiveStatus = "orphaned"
)

// ArchivedMeasurement keeps a record of an entry after it left the queue.
type ArchivedMeasurement struct {
	ID              int64  `gorm:"primaryKey"`
	UserID          int64  `gorm:"not null;index"`
	MachineID       *int64 `gorm:"index"`
	MachineName     string `gorm:"size:100;not null"`
	QueueEntryID    *int64
	Title           string        `gorm:"size:200"`
	Status          ArchiveStatus `gorm:"size:20;not null"`
	MeasurementDate time.Time
	DurationHours   float64
	ArchivedAt      time.Time `gorm:"not null"`
}
