package notification

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"gorm.io/datatypes"

	"github.com/nail-dp-dev/naildp-realtime/pkg/apperr"
	"github.com/nail-dp-dev/naildp-realtime/pkg/database"
	pkglog "github.com/nail-dp-dev/naildp-realtime/pkg/log"
	"github.com/nail-dp-dev/naildp-realtime/pkg/pubsub"
)

// ErrSelfNotification is returned by Build when actor and receiver are the
// same user. Nothing is stored or published.
var ErrSelfNotification = errors.New("self notification skipped")

// Notifier is the hook-side view of Builder used by domain services.
type Notifier interface {
	Notify(ctx context.Context, ev Event)
}

// Builder turns committed domain events into stored notifications and
// publishes them to the receiver's channel.
type Builder struct {
	repo      Repository
	publisher pubsub.Publisher
}

// NewBuilder creates a Builder.
func NewBuilder(repo Repository, publisher pubsub.Publisher) *Builder {
	return &Builder{repo: repo, publisher: publisher}
}

// Build persists the notification for ev and publishes it. It must only be
// called after the transaction that produced ev has committed. A publish
// failure is logged and does not fail Build: the stored row is what clients
// catch up from.
func (b *Builder) Build(ctx context.Context, ev Event) (*Notification, error) {
	if ev.Actor == ev.Receiver {
		return nil, ErrSelfNotification
	}
	if err := ev.validate(); err != nil {
		return nil, err
	}

	n := &Notification{
		Kind:             ev.Kind,
		ReceiverNickname: ev.Receiver,
		ActorNickname:    ev.Actor,
		TargetType:       ev.TargetType,
		TargetID:         ev.TargetID,
		Content:          contentFor(ev),
	}
	if len(ev.Metadata) > 0 {
		raw, err := json.Marshal(ev.Metadata)
		if err != nil {
			return nil, apperr.E(apperr.KindValidation, "invalid notification metadata", err)
		}
		n.Metadata = datatypes.JSON(raw)
	}

	if err := b.repo.Create(ctx, n); err != nil {
		return nil, apperr.Storage("failed to store notification", err)
	}

	ctx = pkglog.With(ctx, pkglog.FieldReceiver, ev.Receiver)
	l := pkglog.Ctx(ctx)

	event, err := pubsub.NewEvent(pubsub.EventNotification, ev.Receiver, n.ToPush())
	if err != nil {
		l.Error().Err(err).Uint64("notification_id", n.ID).Msg("failed to encode push notification")
		return n, nil
	}
	if err := b.publisher.Publish(ctx, pubsub.NotificationChannel(ev.Receiver), event); err != nil {
		l.Warn().Err(err).Uint64("notification_id", n.ID).Msg("failed to publish notification")
		return n, nil
	}

	l.Debug().Uint64("notification_id", n.ID).Str("kind", string(n.Kind)).Msg("notification published")
	return n, nil
}

// Notify is the post-commit form of Build. Every error is logged and
// swallowed so the originating operation never fails because of it.
func (b *Builder) Notify(ctx context.Context, ev Event) {
	if _, err := b.Build(ctx, ev); err != nil {
		if errors.Is(err, ErrSelfNotification) {
			return
		}
		l := pkglog.Ctx(ctx)
		l.Error().Err(err).
			Str("kind", string(ev.Kind)).
			Str(pkglog.FieldReceiver, ev.Receiver).
			Str("actor", ev.Actor).
			Msg("failed to build notification")
	}
}

// Deferred returns an effect that notifies ev once the enclosing unit of work
// has committed.
func Deferred(n Notifier, ev Event) database.Effect {
	return func(ctx context.Context) {
		n.Notify(ctx, ev)
	}
}

func (ev Event) validate() error {
	switch ev.Kind {
	case KindFollow, KindPostLike, KindCommentLike, KindComment:
	default:
		return apperr.Validation(fmt.Sprintf("unknown notification kind %q", ev.Kind))
	}
	if ev.Actor == "" || ev.Receiver == "" {
		return apperr.Validation("actor and receiver are required")
	}
	return nil
}

func contentFor(ev Event) string {
	switch ev.Kind {
	case KindFollow:
		return ev.Actor + " started following you"
	case KindPostLike:
		return ev.Actor + " liked your post"
	case KindCommentLike:
		return ev.Actor + " liked your comment"
	case KindComment:
		return ev.Actor + " commented on your post"
	default:
		return ev.Actor
	}
}
