package services

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"channel_sync/identity"
	"channel_sync/models"
	"channel_sync/storage"
)

// EventSink receives booking events. Publish must not block the sync.
type EventSink interface {
	Publish(event models.BookingEvent)
}

type BookingStore interface {
	GetOrCreateGuest(ctx context.Context, g *models.Guest) (*models.Guest, error)
	UpsertBooking(ctx context.Context, b *models.Booking) (bool, error)
}

// BookingService turns merged candidates into ledger rows.
type BookingService struct {
	store  BookingStore
	events EventSink
	now    func() time.Time
}

func NewBookingService(store BookingStore, events EventSink) *BookingService {
	return &BookingService{store: store, events: events, now: time.Now}
}

var _ BookingStore = (storage.Store)(nil)

// UpsertResult is the outcome of saving one candidate.
type UpsertResult struct {
	BookingID int64
	GuestID   int64
	Created   bool
}

// SaveStats counts the outcome of a batch.
type SaveStats struct {
	Created int
	Updated int
	Failed  int
}

// Save resolves the guest and creates or updates the booking keyed by
// (external id, channel). Saving the same candidate twice is a no-op on
// content; only the sync timestamps move.
func (s *BookingService) Save(ctx context.Context, conn *models.ChannelConnection, c *models.CandidateBooking) (*UpsertResult, error) {
	if err := Validate(c); err != nil {
		return nil, err
	}

	email := identity.GuestEmail(c.GuestEmail, c.ExternalID, conn.Channel)
	first, last := identity.SplitName(c.GuestName)
	if first == "" {
		first = c.Channel + " Guest"
	}

	guest, err := s.store.GetOrCreateGuest(ctx, &models.Guest{
		FirstName: first,
		LastName:  last,
		Email:     email,
	})
	if err != nil {
		return nil, fmt.Errorf("resolve guest: %w", err)
	}

	now := s.now().UTC()
	b := &models.Booking{
		ExternalBookingID: c.ExternalID,
		Channel:           conn.Channel,
		UserID:            conn.UserID,
		PropertyID:        conn.PropertyID,
		GuestID:           guest.ID,
		GuestName:         c.GuestName,
		GuestEmail:        email,
		CheckIn:           c.CheckIn,
		CheckOut:          c.CheckOut,
		NumGuests:         c.NumGuests,
		TotalPrice:        c.TotalPrice,
		Status:            c.Status,
		SourceMethod:      c.SourceMethod,
		LastSyncedAt:      now,
	}
	if b.Status == "" {
		b.Status = models.BookingStatusPending
	}
	if b.NumGuests <= 0 {
		b.NumGuests = 1
	}

	created, err := s.store.UpsertBooking(ctx, b)
	if err != nil {
		return nil, fmt.Errorf("upsert booking: %w", err)
	}

	if created && s.events != nil {
		s.events.Publish(models.BookingEvent{
			Type:         models.EventBookingCreated,
			BookingID:    b.ID,
			UserID:       b.UserID,
			Channel:      b.Channel,
			ExternalID:   b.ExternalBookingID,
			GuestName:    b.GuestName,
			CheckIn:      b.CheckIn,
			CheckOut:     b.CheckOut,
			TotalPrice:   b.TotalPrice,
			Status:       b.Status,
			SourceMethod: b.SourceMethod,
			At:           now,
		})
	}

	return &UpsertResult{BookingID: b.ID, GuestID: guest.ID, Created: created}, nil
}

// SaveAll saves each candidate; a failing record is logged and counted
// without stopping the batch.
func (s *BookingService) SaveAll(ctx context.Context, conn *models.ChannelConnection, candidates []models.CandidateBooking) SaveStats {
	var stats SaveStats
	for i := range candidates {
		if ctx.Err() != nil {
			stats.Failed += len(candidates) - i
			break
		}
		res, err := s.Save(ctx, conn, &candidates[i])
		if err != nil {
			log.Warn().Err(err).
				Int64("user_id", conn.UserID).
				Str("channel", string(conn.Channel)).
				Str("external_id", candidates[i].ExternalID).
				Msg("booking not saved")
			stats.Failed++
			continue
		}
		if res.Created {
			stats.Created++
		} else {
			stats.Updated++
		}
	}
	return stats
}
