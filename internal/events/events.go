// Package events broadcasts queue changes to interested listeners such as
// live dashboards.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/nats-io/nats.go"
)

// Type names a queue update.
type Type string

const (
	Started        Type = "started"
	Completed      Type = "completed"
	Cancelled      Type = "cancelled"
	UndoCheckIn    Type = "undo_checkin"
	Submitted      Type = "submitted"
	Moved          Type = "moved"
	Reassigned     Type = "reassigned"
	MachineGone    Type = "machine_deleted"
	MachineUpdated Type = "machine_updated"
)

// QueueUpdate is the payload published for every committed transition.
type QueueUpdate struct {
	Type        Type      `json:"update_type"`
	EntryID     int64     `json:"entry_id,omitempty"`
	UserID      int64     `json:"user_id,omitempty"`
	MachineID   int64     `json:"machine_id,omitempty"`
	MachineName string    `json:"machine_name,omitempty"`
	ActorID     int64     `json:"triggering_user_id,omitempty"`
	At          time.Time `json:"at"`
}

// Publisher emits queue updates.
type Publisher interface {
	Publish(ctx context.Context, u QueueUpdate) error
}

// Bus publishes queue updates as JSON on a NATS subject.
type Bus struct {
	conn    *nats.Conn
	subject string
}

// NewBus connects to the NATS endpoint at url.
func NewBus(url, subject string, opts ...nats.Option) (*Bus, error) {
	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, err
	}
	return &Bus{conn: nc, subject: subject}, nil
}

// Close drains the underlying NATS connection.
func (b *Bus) Close() {
	if b == nil {
		return
	}
	if err := b.conn.Drain(); err != nil {
		b.conn.Close()
	}
}

// Publish encodes u as JSON and publishes it.
func (b *Bus) Publish(ctx context.Context, u QueueUpdate) error {
	if b == nil {
		return errors.New("nil bus")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(u)
	if err != nil {
		return err
	}
	return b.conn.Publish(b.subject, data)
}

// Nop discards every update.
type Nop struct{}

// Publish does nothing.
func (Nop) Publish(context.Context, QueueUpdate) error { return nil }
