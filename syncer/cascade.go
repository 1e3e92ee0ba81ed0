package syncer

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/rs/zerolog/log"

	"channel_sync/channels"
	"channel_sync/extract"
	"channel_sync/metrics"
	"channel_sync/models"
	"channel_sync/services"
)

var ErrAllMethodsFailed = errors.New("All sync methods failed")

// RunOptions restricts a cascade to a subset of methods. An empty filter
// runs every method.
type RunOptions struct {
	Methods []models.SyncMethod
}

func (o RunOptions) allows(m models.SyncMethod) bool {
	if len(o.Methods) == 0 {
		return true
	}
	for _, allowed := range o.Methods {
		if allowed == m {
			return true
		}
	}
	return false
}

// LogFunc receives run-scoped messages.
type LogFunc func(level models.LogLevel, message string)

// Cascade tries a connection's methods in models.MethodOrder and stops at
// the first success.
type Cascade struct {
	extractors extract.Set
	bookings   *services.BookingService
	metrics    metrics.Recorder
	now        func() time.Time
}

func NewCascade(extractors extract.Set, bookings *services.BookingService, rec metrics.Recorder) *Cascade {
	if rec == nil {
		rec = metrics.Noop{}
	}
	return &Cascade{extractors: extractors, bookings: bookings, metrics: rec, now: time.Now}
}

// Run executes the cascade for one connection. It never returns an error:
// every failure is reported in the result.
func (c *Cascade) Run(ctx context.Context, conn *models.ChannelConnection, adapter channels.Adapter, opts RunOptions, logf LogFunc) models.SyncResult {
	if logf == nil {
		logf = func(models.LogLevel, string) {}
	}
	start := c.now()
	channel := string(conn.Channel)
	result := models.SyncResult{}

	for _, method := range models.MethodOrder {
		if !opts.allows(method) {
			continue
		}
		if err := ctx.Err(); err != nil {
			result.Error = fmt.Sprintf("sync cancelled: %v", err)
			break
		}

		ext, ok := c.extractors[method]
		if !ok || !ext.Available(conn, adapter) {
			result.Attempts = append(result.Attempts, models.MethodAttempt{Method: method, Skipped: true})
			c.metrics.IncMethodSkipped(channel, string(method))
			continue
		}

		logf(models.LogLevelInfo, fmt.Sprintf("Trying %s", method))
		res, err := c.try(ctx, ext, conn, adapter)
		if err == nil && (res == nil || !res.Success) {
			err = fmt.Errorf("%s returned no result", method)
		}
		if err != nil {
			log.Warn().Err(err).
				Int64("user_id", conn.UserID).
				Str("channel", channel).
				Str("method", string(method)).
				Msg("sync method failed")
			logf(models.LogLevelWarn, fmt.Sprintf("%s failed: %v", method, err))
			result.Attempts = append(result.Attempts, models.MethodAttempt{Method: method, Error: err.Error()})
			c.metrics.IncMethodFailure(channel, string(method))
			continue
		}

		result.Attempts = append(result.Attempts, models.MethodAttempt{Method: method})
		c.save(ctx, conn, method, res, &result, logf)
		break
	}

	if !result.Success && result.Error == "" {
		result.Error = ErrAllMethodsFailed.Error()
	}
	result.Duration = c.now().Sub(start)

	outcome := "failed"
	if result.Success {
		outcome = "success"
	}
	c.metrics.ObserveSync(channel, string(result.MethodUsed), outcome, result.Duration)
	return result
}

// Eligible reports whether any method allowed by opts is configured for conn.
func (c *Cascade) Eligible(conn *models.ChannelConnection, adapter channels.Adapter, opts RunOptions) bool {
	for _, method := range models.MethodOrder {
		if !opts.allows(method) {
			continue
		}
		if ext, ok := c.extractors[method]; ok && ext.Available(conn, adapter) {
			return true
		}
	}
	return false
}

// try isolates a single extractor so a panic becomes a method failure.
func (c *Cascade) try(ctx context.Context, ext extract.Extractor, conn *models.ChannelConnection, adapter channels.Adapter) (res *extract.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Str("channel", string(conn.Channel)).
				Str("method", string(ext.Method())).
				Bytes("stack", debug.Stack()).
				Msgf("extractor panic: %v", r)
			res, err = nil, fmt.Errorf("%s panicked: %v", ext.Method(), r)
		}
	}()
	return ext.Extract(ctx, conn, adapter)
}

func (c *Cascade) save(ctx context.Context, conn *models.ChannelConnection, method models.SyncMethod, res *extract.Result, result *models.SyncResult, logf LogFunc) {
	channel := string(conn.Channel)

	merged := services.Merge(res.Candidates)
	valid := merged[:0]
	for i := range merged {
		if err := services.Validate(&merged[i]); err != nil {
			log.Warn().Err(err).
				Str("channel", channel).
				Str("method", string(method)).
				Str("external_id", merged[i].ExternalID).
				Msg("dropping candidate")
			result.RecordErrors++
			c.metrics.IncRecordErrors(channel)
			continue
		}
		valid = append(valid, merged[i])
	}

	stats := c.bookings.SaveAll(ctx, conn, valid)
	for i := 0; i < stats.Failed; i++ {
		c.metrics.IncRecordErrors(channel)
	}

	if res.Commit != nil {
		if err := res.Commit(ctx); err != nil {
			log.Warn().Err(err).Str("channel", channel).Str("method", string(method)).Msg("commit failed")
			logf(models.LogLevelWarn, fmt.Sprintf("commit failed: %v", err))
		}
	}

	result.Success = true
	result.MethodUsed = method
	result.BookingsFound = len(merged)
	result.BookingsSaved = stats.Created
	result.RecordErrors += stats.Failed

	c.metrics.AddBookingsFound(channel, result.BookingsFound)
	c.metrics.AddBookingsSaved(channel, result.BookingsSaved)
	logf(models.LogLevelInfo, fmt.Sprintf("%s: %d found, %d new, %d updated, %d errors",
		method, len(merged), stats.Created, stats.Updated, result.RecordErrors))
}
