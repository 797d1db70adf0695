package push

import (
	"context"
	"fmt"

	pkglog "github.com/nail-dp-dev/naildp-realtime/pkg/log"
	"github.com/nail-dp-dev/naildp-realtime/pkg/pubsub"
)

// Dispatcher routes bus events into the local registries. Notification
// events fan out by receiver; chat events fan out by room through the
// sequencing gate.
type Dispatcher struct {
	sub           pubsub.Subscriber
	notifications *Registry
	rooms         *Registry
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(sub pubsub.Subscriber, notifications, rooms *Registry) *Dispatcher {
	return &Dispatcher{sub: sub, notifications: notifications, rooms: rooms}
}

// Run subscribes to both channel patterns and dispatches until ctx is done or
// the bus closes the subscriptions.
func (d *Dispatcher) Run(ctx context.Context) error {
	notifCh, err := d.sub.SubscribePattern(ctx, pubsub.PatternNotification)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", pubsub.PatternNotification, err)
	}
	roomCh, err := d.sub.SubscribePattern(ctx, pubsub.PatternChatRoom)
	if err != nil {
		d.sub.Unsubscribe(ctx, pubsub.PatternNotification)
		return fmt.Errorf("subscribe %s: %w", pubsub.PatternChatRoom, err)
	}

	l := pkglog.Ctx(ctx)
	l.Info().Msg("push dispatcher started")

	for notifCh != nil || roomCh != nil {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-notifCh:
			if !ok {
				notifCh = nil
				continue
			}
			d.dispatchNotification(ev)

		case ev, ok := <-roomCh:
			if !ok {
				roomCh = nil
				continue
			}
			d.dispatchRoom(ev)
		}
	}

	l.Info().Msg("push dispatcher stopped: subscriptions closed")
	return nil
}

func (d *Dispatcher) dispatchNotification(ev *pubsub.Event) {
	if ev.Topic == "" {
		return
	}
	n := d.notifications.Fanout(ev.Topic, FromEvent(ev))

	l := pkglog.L()
	l.Debug().Str(pkglog.FieldReceiver, ev.Topic).Str(pkglog.FieldEventID, ev.ID).Int("delivered", n).Msg("notification dispatched")
}

func (d *Dispatcher) dispatchRoom(ev *pubsub.Event) {
	if ev.Topic == "" {
		return
	}
	env := FromEvent(ev)
	if ev.Seq > 0 {
		d.rooms.FanoutSequenced(ev.Topic, ev.Seq, env)
		return
	}
	d.rooms.Fanout(ev.Topic, env)

	if ev.Type == pubsub.EventChatLeft {
		d.closeLeaver(ev)
	}
}

// closeLeaver ends the streams the leaving participant still holds on this
// instance, after they received the chat.left event itself.
func (d *Dispatcher) closeLeaver(ev *pubsub.Event) {
	var left struct {
		Nickname string `json:"nickname"`
	}
	l := pkglog.L()
	if err := ev.UnmarshalPayload(&left); err != nil || left.Nickname == "" {
		l.Warn().Err(err).Str(pkglog.FieldEventID, ev.ID).Msg("chat.left without nickname")
		return
	}
	if n := d.rooms.DisconnectOwner(ev.Topic, left.Nickname); n > 0 {
		l.Debug().Str(pkglog.FieldRoomID, ev.Topic).Str(pkglog.FieldNickname, left.Nickname).Int("closed", n).Msg("closed streams of departed participant")
	}
}
