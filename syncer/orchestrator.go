package syncer

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"channel_sync/channels"
	"channel_sync/config"
	"channel_sync/models"
	"channel_sync/storage"
)

var ErrPaused = errors.New("sync is paused")

// Orchestrator fans a user's connections out to a bounded pool of cascades
// and records each run.
type Orchestrator struct {
	cfg      config.SyncConfig
	store    storage.Store
	ops      *storage.SQLiteStore
	registry *channels.Registry
	cascade  *Cascade

	mu     sync.RWMutex
	paused bool
}

// NewOrchestrator wires the ledger store, the operational SQLite store
// (runs, logs, stats, commands) and the cascade. store and ops may be the
// same SQLiteStore.
func NewOrchestrator(cfg config.SyncConfig, store storage.Store, ops *storage.SQLiteStore, registry *channels.Registry, cascade *Cascade) *Orchestrator {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	return &Orchestrator{
		cfg:      cfg,
		store:    store,
		ops:      ops,
		registry: registry,
		cascade:  cascade,
	}
}

// SyncAllChannels runs the cascade for every active connection of a user.
// The map is keyed by channel display name and holds one entry per
// attempted connection. The error is only set when connections could not
// be loaded.
func (o *Orchestrator) SyncAllChannels(ctx context.Context, userID int64) (map[string]models.SyncResult, error) {
	return o.syncUser(ctx, userID, RunOptions{})
}

// SyncChannel runs the cascade for one connection.
func (o *Orchestrator) SyncChannel(ctx context.Context, userID int64, channel models.ChannelID) (models.SyncResult, error) {
	conn, err := o.store.GetConnection(ctx, userID, channel)
	if err != nil {
		return models.SyncResult{}, fmt.Errorf("load connection: %w", err)
	}
	if conn == nil || !conn.IsConnected {
		return models.SyncResult{}, fmt.Errorf("user %d has no active %s connection: %w", userID, channel, storage.ErrNotFound)
	}
	_, result := o.syncConnection(ctx, conn, RunOptions{})
	return result, nil
}

// SyncAllUsers is the scheduled job: every user with active connections,
// one after another, under the run ceiling. Per-user failures are logged.
func (o *Orchestrator) SyncAllUsers(ctx context.Context, opts RunOptions) error {
	if o.IsPaused() {
		log.Info().Msg("sync is paused, skipping run")
		return nil
	}

	if o.cfg.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.cfg.RunTimeout)
		defer cancel()
	}

	users, err := o.store.ListUsersWithConnections(ctx)
	if err != nil {
		return fmt.Errorf("list users: %w", err)
	}

	runID := uuid.NewString()
	logger := log.With().Str("run_id", runID).Logger()
	logger.Info().Int("users", len(users)).Strs("methods", methodNames(opts.Methods)).Msg("starting sync run")

	start := time.Now()
	var ok, failed int
	for _, userID := range users {
		if ctx.Err() != nil {
			logger.Warn().Err(ctx.Err()).Msg("sync run stopped before all users were processed")
			break
		}
		results, err := o.syncUser(ctx, userID, opts)
		if err != nil {
			logger.Error().Err(err).Int64("user_id", userID).Msg("user sync failed")
			failed++
			continue
		}
		for _, r := range results {
			if r.Success {
				ok++
			} else {
				failed++
			}
		}
	}

	logger.Info().
		Int("channels_ok", ok).
		Int("channels_failed", failed).
		Dur("duration", time.Since(start)).
		Msg("sync run finished")
	return nil
}

func (o *Orchestrator) syncUser(ctx context.Context, userID int64, opts RunOptions) (map[string]models.SyncResult, error) {
	conns, err := o.store.ListActiveConnections(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load connections for user %d: %w", userID, err)
	}

	eligible := conns[:0]
	for i := range conns {
		if o.eligible(&conns[i], opts) {
			eligible = append(eligible, conns[i])
		}
	}

	results := make(map[string]models.SyncResult, len(eligible))
	if len(eligible) == 0 {
		return results, nil
	}

	type outcome struct {
		name   string
		result models.SyncResult
	}

	workers := o.cfg.Workers
	if workers > len(eligible) {
		workers = len(eligible)
	}

	jobs := make(chan *models.ChannelConnection)
	outcomes := make(chan outcome, len(eligible))
	var wg sync.WaitGroup

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for conn := range jobs {
				name, result := o.syncConnection(ctx, conn, opts)
				outcomes <- outcome{name: name, result: result}
			}
		}()
	}

	for i := range eligible {
		jobs <- &eligible[i]
	}
	close(jobs)
	wg.Wait()
	close(outcomes)

	for out := range outcomes {
		results[out.name] = out.result
	}
	return results, nil
}

// eligible drops connections a filtered run has nothing to try on, so an
// API-only job does not stamp failures onto iCal-only connections.
func (o *Orchestrator) eligible(conn *models.ChannelConnection, opts RunOptions) bool {
	if len(opts.Methods) == 0 {
		return true
	}
	adapter, err := o.registry.Get(conn.Channel)
	if err != nil {
		return false
	}
	return o.cascade.Eligible(conn, adapter, opts)
}

// syncConnection runs one cascade under the channel timeout and records
// it. A panic anywhere below is reported as this channel's error.
func (o *Orchestrator) syncConnection(ctx context.Context, conn *models.ChannelConnection, opts RunOptions) (name string, result models.SyncResult) {
	name = string(conn.Channel)
	adapter, err := o.registry.Get(conn.Channel)
	if err == nil {
		name = adapter.Name()
	}

	run := &models.SyncRun{
		UserID:       conn.UserID,
		ConnectionID: conn.ID,
		Channel:      conn.Channel,
		StartedAt:    time.Now().UTC(),
		Status:       models.RunStatusRunning,
	}
	if runID, err := o.ops.CreateRun(run); err != nil {
		log.Warn().Err(err).Str("channel", name).Msg("failed to create run record")
	} else {
		run.ID = runID
	}

	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Int64("user_id", conn.UserID).
				Str("channel", name).
				Bytes("stack", debug.Stack()).
				Msgf("channel sync panic: %v", r)
			result = models.SyncResult{Error: fmt.Sprintf("channel sync panicked: %v", r)}
		}
		o.finish(ctx, conn, run, name, result)
	}()

	if err != nil {
		o.log(run.ID, models.LogLevelError, err.Error(), name)
		return name, models.SyncResult{Error: err.Error()}
	}

	o.log(run.ID, models.LogLevelInfo, fmt.Sprintf("Starting sync for user %d", conn.UserID), name)

	chCtx := ctx
	if o.cfg.ChannelTimeout > 0 {
		var cancel context.CancelFunc
		chCtx, cancel = context.WithTimeout(ctx, o.cfg.ChannelTimeout)
		defer cancel()
	}

	result = o.cascade.Run(chCtx, conn, adapter, opts, func(level models.LogLevel, message string) {
		o.log(run.ID, level, message, name)
	})
	return name, result
}

func (o *Orchestrator) finish(ctx context.Context, conn *models.ChannelConnection, run *models.SyncRun, name string, result models.SyncResult) {
	now := time.Now().UTC()
	run.FinishedAt = &now
	run.MethodUsed = result.MethodUsed
	run.BookingsFound = result.BookingsFound
	run.BookingsSaved = result.BookingsSaved
	run.ErrorsCount = result.RecordErrors
	run.Error = result.Error
	if result.Success {
		run.Status = models.RunStatusCompleted
		o.log(run.ID, models.LogLevelInfo, fmt.Sprintf("Completed via %s: %d found, %d new",
			result.MethodUsed, result.BookingsFound, result.BookingsSaved), name)
	} else {
		run.Status = models.RunStatusFailed
		o.log(run.ID, models.LogLevelError, result.Error, name)
	}

	if run.ID != 0 {
		if err := o.ops.UpdateRun(run); err != nil {
			log.Warn().Err(err).Int64("run", run.ID).Msg("failed to update run record")
		}
	}

	outcome := models.SyncOutcome{
		ConnectionID: conn.ID,
		SyncedAt:     now,
		Method:       result.MethodUsed,
	}
	if !result.Success {
		msg := result.Error
		outcome.Error = &msg
	}
	// Recorded even when the caller's context is already done.
	if err := o.store.RecordSyncOutcome(context.WithoutCancel(ctx), outcome); err != nil {
		log.Warn().Err(err).Int64("connection_id", conn.ID).Msg("failed to record sync outcome")
	}
	if err := o.ops.UpdateChannelStats(conn.Channel); err != nil {
		log.Warn().Err(err).Str("channel", name).Msg("failed to update channel stats")
	}
}

// =============================================================================
// Commands
// =============================================================================

func (o *Orchestrator) HandleCommand(ctx context.Context, cmd *models.Command) error {
	params, err := o.ops.ParseCommandParams(cmd)
	if err != nil {
		return err
	}

	switch cmd.Command {
	case models.CmdSyncAll:
		return o.SyncAllUsers(ctx, RunOptions{})
	case models.CmdSyncUser:
		if params.UserID == 0 {
			return fmt.Errorf("%s: user_id is required", cmd.Command)
		}
		_, err := o.SyncAllChannels(ctx, params.UserID)
		return err
	case models.CmdSyncChannel:
		if params.UserID == 0 || params.Channel == "" {
			return fmt.Errorf("%s: user_id and channel are required", cmd.Command)
		}
		_, err := o.SyncChannel(ctx, params.UserID, models.ChannelID(params.Channel))
		return err
	case models.CmdPause:
		o.setPaused(true)
		log.Info().Msg("sync paused")
	case models.CmdResume:
		o.setPaused(false)
		log.Info().Msg("sync resumed")
	default:
		return fmt.Errorf("unknown command %q", cmd.Command)
	}
	return nil
}

func (o *Orchestrator) IsPaused() bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.paused
}

func (o *Orchestrator) setPaused(p bool) {
	o.mu.Lock()
	o.paused = p
	o.mu.Unlock()
}

func (o *Orchestrator) log(runID int64, level models.LogLevel, message, channel string) {
	var ev = log.Info()
	switch level {
	case models.LogLevelWarn:
		ev = log.Warn()
	case models.LogLevelError:
		ev = log.Error()
	}
	ev.Int64("run", runID).Str("channel", channel).Msg(message)

	var id *int64
	if runID != 0 {
		id = &runID
	}
	if err := o.ops.Log(id, level, message, channel); err != nil {
		log.Debug().Err(err).Msg("failed to persist run log")
	}
}

// ChannelNames lists the registered channel display names.
func (o *Orchestrator) ChannelNames() []string {
	var names []string
	for _, a := range o.registry.All() {
		names = append(names, a.Name())
	}
	return names
}

func methodNames(methods []models.SyncMethod) []string {
	if len(methods) == 0 {
		return []string{"all"}
	}
	out := make([]string, len(methods))
	for i, m := range methods {
		out[i] = string(m)
	}
	return out
}
