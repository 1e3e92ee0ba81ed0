package workers

import (
	"context"

	"github.com/rs/zerolog/log"

	"channel_sync/models"
)

// Dispatcher delivers one event to its sinks.
type Dispatcher interface {
	Dispatch(ctx context.Context, event models.BookingEvent) error
}

// NotificationWorker decouples booking saves from notification delivery.
// Publish never blocks the sync; events beyond the buffer are dropped.
type NotificationWorker struct {
	dispatcher Dispatcher
	queue      chan models.BookingEvent
	done       chan struct{}
}

func NewNotificationWorker(dispatcher Dispatcher, buffer int) *NotificationWorker {
	if buffer <= 0 {
		buffer = 256
	}
	return &NotificationWorker{
		dispatcher: dispatcher,
		queue:      make(chan models.BookingEvent, buffer),
		done:       make(chan struct{}),
	}
}

func (w *NotificationWorker) Publish(event models.BookingEvent) {
	select {
	case w.queue <- event:
	default:
		log.Warn().
			Str("channel", string(event.Channel)).
			Str("external_id", event.ExternalID).
			Msg("notification queue full, dropping event")
	}
}

// Run delivers queued events until ctx is done, then drains what is left
// with a fresh context so a shutdown does not lose accepted events.
func (w *NotificationWorker) Run(ctx context.Context) {
	defer close(w.done)
	for {
		select {
		case <-ctx.Done():
			w.drain()
			log.Info().Msg("notification worker stopping")
			return
		case event := <-w.queue:
			w.deliver(ctx, event)
		}
	}
}

// Done is closed once Run has returned.
func (w *NotificationWorker) Done() <-chan struct{} {
	return w.done
}

func (w *NotificationWorker) drain() {
	for {
		select {
		case event := <-w.queue:
			w.deliver(context.Background(), event)
		default:
			return
		}
	}
}

func (w *NotificationWorker) deliver(ctx context.Context, event models.BookingEvent) {
	if err := w.dispatcher.Dispatch(ctx, event); err != nil {
		log.Debug().Err(err).Str("external_id", event.ExternalID).Msg("notification delivered with errors")
	}
}
