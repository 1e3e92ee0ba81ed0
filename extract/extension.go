package extract

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"channel_sync/channels"
	"channel_sync/models"
)

// CaptureStore is the part of the booking store the extension method reads.
type CaptureStore interface {
	PendingCaptures(ctx context.Context, connectionID int64) ([]models.CapturedBooking, error)
	MarkCapturesConsumed(ctx context.Context, ids []int64, at time.Time) error
}

// capturedRecord is one booking as the browser extension posts it.
type capturedRecord struct {
	ExternalID string          `json:"external_id"`
	GuestName  string          `json:"guest_name"`
	GuestEmail string          `json:"guest_email"`
	CheckIn    string          `json:"check_in"`
	CheckOut   string          `json:"check_out"`
	NumGuests  int             `json:"num_guests"`
	TotalPrice decimal.Decimal `json:"total_price"`
	Status     string          `json:"status"`
}

// DecodeCapture parses a payload holding one record or an array of them.
// Records with unparseable dates are returned as an error so the ingest
// endpoint can reject them.
func DecodeCapture(payload []byte, adapter channels.Adapter) ([]models.CandidateBooking, error) {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("empty payload")
	}

	var records []capturedRecord
	if trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &records); err != nil {
			return nil, fmt.Errorf("decode capture: %w", err)
		}
	} else {
		var r capturedRecord
		if err := json.Unmarshal(trimmed, &r); err != nil {
			return nil, fmt.Errorf("decode capture: %w", err)
		}
		records = []capturedRecord{r}
	}

	out := make([]models.CandidateBooking, 0, len(records))
	for i, r := range records {
		if strings.TrimSpace(r.ExternalID) == "" {
			return nil, fmt.Errorf("record %d: missing external_id", i)
		}
		checkIn, err := channels.ParseDate(r.CheckIn)
		if err != nil {
			return nil, fmt.Errorf("record %d check_in: %w", i, err)
		}
		checkOut, err := channels.ParseDate(r.CheckOut)
		if err != nil {
			return nil, fmt.Errorf("record %d check_out: %w", i, err)
		}

		c := models.CandidateBooking{
			ExternalID:   strings.ToUpper(strings.TrimSpace(r.ExternalID)),
			GuestName:    strings.TrimSpace(r.GuestName),
			GuestEmail:   strings.TrimSpace(r.GuestEmail),
			CheckIn:      checkIn,
			CheckOut:     checkOut,
			NumGuests:    r.NumGuests,
			TotalPrice:   r.TotalPrice.Round(2),
			Status:       channels.NormalizeStatus(r.Status),
			Channel:      adapter.Name(),
			SourceMethod: models.MethodExtension,
		}
		out = append(out, c)
	}
	return out, nil
}

type ExtensionExtractor struct {
	store CaptureStore
	now   func() time.Time
}

func NewExtensionExtractor(store CaptureStore) *ExtensionExtractor {
	return &ExtensionExtractor{store: store, now: time.Now}
}

func (e *ExtensionExtractor) Method() models.SyncMethod { return models.MethodExtension }

func (e *ExtensionExtractor) Available(conn *models.ChannelConnection, _ channels.Adapter) bool {
	return conn.ExtensionToken != ""
}

func (e *ExtensionExtractor) Extract(ctx context.Context, conn *models.ChannelConnection, adapter channels.Adapter) (*Result, error) {
	if conn.ExtensionToken == "" {
		return nil, ErrNotConfigured
	}

	captures, err := e.store.PendingCaptures(ctx, conn.ID)
	if err != nil {
		return nil, fmt.Errorf("load captures: %w", err)
	}

	var out []models.CandidateBooking
	ids := make([]int64, 0, len(captures))
	for _, capture := range captures {
		ids = append(ids, capture.ID)
		candidates, err := DecodeCapture(capture.Payload, adapter)
		if err != nil {
			log.Warn().Err(err).
				Int64("capture_id", capture.ID).
				Str("channel", string(adapter.ID())).
				Msg("skipping captured payload")
			continue
		}
		out = append(out, candidates...)
	}

	res := succeeded(out)
	if len(ids) > 0 {
		res.Commit = func(ctx context.Context) error {
			return e.store.MarkCapturesConsumed(ctx, ids, e.now().UTC())
		}
	}
	return res, nil
}
