package extract

import (
	"context"
	"errors"

	"channel_sync/channels"
	"channel_sync/models"
)

var (
	ErrNotConfigured = errors.New("method not configured for connection")
	ErrLoginFailed   = errors.New("login failed")
)

// Extractor turns one acquisition method into candidate bookings. It never
// writes bookings itself; a non-nil Commit runs after the batch was saved.
type Extractor interface {
	Method() models.SyncMethod
	Available(conn *models.ChannelConnection, adapter channels.Adapter) bool
	Extract(ctx context.Context, conn *models.ChannelConnection, adapter channels.Adapter) (*Result, error)
}

type Result struct {
	Success    bool
	Candidates []models.CandidateBooking
	Commit     func(ctx context.Context) error
}

func succeeded(candidates []models.CandidateBooking) *Result {
	return &Result{Success: true, Candidates: candidates}
}

// Set returns extractors keyed by method.
type Set map[models.SyncMethod]Extractor

func NewSet(extractors ...Extractor) Set {
	s := make(Set, len(extractors))
	for _, e := range extractors {
		s[e.Method()] = e
	}
	return s
}
