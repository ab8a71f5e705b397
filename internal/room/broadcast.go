package room

import (
	"context"
	"log/slog"
	"time"
)

// Event is one protocol frame fanned out to clients.
type Event struct {
	Name string `json:"event"`
	Data any    `json:"data"`
}

// Sink delivers events to one connected participant. Send must not block
// and must not fail the caller; a sink that can't keep up drops frames.
type Sink interface {
	Send(ev Event)
}

// Mirror receives a copy of every fanned-out room event, for external
// consumers (dashboards). Best-effort only.
type Mirror interface {
	Publish(ctx context.Context, roomID string, ev Event) error
}

// Dispatcher fans one event out to a computed recipient set. Delivery is
// fire-and-forget per recipient: one dead connection never blocks the rest
// and never raises back to the event that triggered the broadcast.
type Dispatcher struct {
	log    *slog.Logger
	mirror Mirror // nil when no mirror is configured
}

func NewDispatcher(log *slog.Logger, mirror Mirror) *Dispatcher {
	return &Dispatcher{log: log, mirror: mirror}
}

// ToPeers delivers ev to every participant of r except exclude. Used for
// code/language/cursor updates and typing state sourced from exclude.
func (d *Dispatcher) ToPeers(r *Room, exclude string, ev Event) {
	for _, s := range r.peers(exclude) {
		s.Send(ev)
	}
	d.publish(r.ID, ev)
}

// ToAll delivers ev to every participant of r, source included. Used for
// chat messages and leave notifications.
func (d *Dispatcher) ToAll(r *Room, ev Event) {
	for _, s := range r.everyone() {
		s.Send(ev)
	}
	d.publish(r.ID, ev)
}

// publish mirrors ev onto the external feed without gating delivery.
func (d *Dispatcher) publish(roomID string, ev Event) {
	if d.mirror == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := d.mirror.Publish(ctx, roomID, ev); err != nil {
			d.log.Warn("mirror.publish", "room", roomID, "event", ev.Name, "err", err)
		}
	}()
}
