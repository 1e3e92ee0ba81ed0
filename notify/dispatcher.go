// Package notify delivers booking events to the host: websocket clients
// and, when SMTP is configured, email.
package notify

import (
	"context"
	"errors"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"

	"channel_sync/metrics"
	"channel_sync/models"
)

// Sink delivers one event. Notify should honour ctx.
type Sink interface {
	Name() string
	Notify(ctx context.Context, event models.BookingEvent) error
}

// Dispatcher fans an event out to every sink. A failing sink does not
// stop the others.
type Dispatcher struct {
	sinks   []Sink
	metrics metrics.Recorder
	timeout time.Duration
}

func NewDispatcher(rec metrics.Recorder, sinks ...Sink) *Dispatcher {
	if rec == nil {
		rec = metrics.Noop{}
	}
	return &Dispatcher{sinks: sinks, metrics: rec, timeout: 30 * time.Second}
}

// Dispatch returns the joined sink errors, which callers usually only log.
func (d *Dispatcher) Dispatch(ctx context.Context, event models.BookingEvent) error {
	var errs []error
	for _, s := range d.sinks {
		sctx, cancel := context.WithTimeout(ctx, d.timeout)
		err := s.Notify(sctx, event)
		cancel()

		if err != nil {
			log.Warn().Err(err).
				Str("sink", s.Name()).
				Str("channel", string(event.Channel)).
				Str("external_id", event.ExternalID).
				Msg("notification failed")
			d.metrics.IncNotifications(s.Name(), "error")
			errs = append(errs, err)
			continue
		}
		d.metrics.IncNotifications(s.Name(), "ok")
	}
	return errors.Join(errs...)
}

// =============================================================================
// Websocket sink
// =============================================================================

type MessageType string

const TypeBookingCreated MessageType = "booking.created"

// Message is the websocket envelope.
type Message struct {
	Type      MessageType `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   any         `json:"payload"`
}

type bookingPayload struct {
	BookingID  int64  `json:"booking_id"`
	UserID     int64  `json:"user_id"`
	Channel    string `json:"channel"`
	ExternalID string `json:"external_id"`
	GuestName  string `json:"guest_name"`
	CheckIn    string `json:"check_in"`
	CheckOut   string `json:"check_out"`
	TotalPrice string `json:"total_price"`
	Status     string `json:"status"`
	Method     string `json:"source_method"`
}

func newBookingMessage(e models.BookingEvent) Message {
	return Message{
		Type:      TypeBookingCreated,
		Timestamp: e.At.UTC(),
		Payload: bookingPayload{
			BookingID:  e.BookingID,
			UserID:     e.UserID,
			Channel:    string(e.Channel),
			ExternalID: e.ExternalID,
			GuestName:  e.GuestName,
			CheckIn:    e.CheckIn.Format("2006-01-02"),
			CheckOut:   e.CheckOut.Format("2006-01-02"),
			TotalPrice: e.TotalPrice.StringFixed(2),
			Status:     string(e.Status),
			Method:     string(e.SourceMethod),
		},
	}
}

// HubSink broadcasts events to websocket clients.
type HubSink struct {
	hub *Hub
}

func NewHubSink(hub *Hub) *HubSink {
	return &HubSink{hub: hub}
}

func (s *HubSink) Name() string { return "websocket" }

func (s *HubSink) Notify(_ context.Context, event models.BookingEvent) error {
	data, err := json.Marshal(newBookingMessage(event))
	if err != nil {
		return err
	}
	if !s.hub.Broadcast(data) {
		return errors.New("websocket hub is backed up")
	}
	return nil
}
