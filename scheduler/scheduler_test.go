package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"channel_sync/config"
	"channel_sync/models"
	"channel_sync/syncer"
)

type recordingRunner struct {
	mu       sync.Mutex
	runs     []syncer.RunOptions
	commands []models.CommandType
}

func (r *recordingRunner) SyncAllUsers(_ context.Context, opts syncer.RunOptions) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs = append(r.runs, opts)
	return nil
}

func (r *recordingRunner) HandleCommand(_ context.Context, cmd *models.Command) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.commands = append(r.commands, cmd.Command)
	if cmd.Command == models.CmdSyncUser {
		return errors.New("user_id is required")
	}
	return nil
}

type memQueue struct {
	pending   []models.Command
	processed []int64
}

func (q *memQueue) GetPendingCommands() ([]models.Command, error) {
	out := q.pending
	q.pending = nil
	return out, nil
}

func (q *memQueue) MarkCommandProcessed(id int64) error {
	q.processed = append(q.processed, id)
	return nil
}

func TestJobs_FromConfig(t *testing.T) {
	s := New(config.SchedulerConfig{
		Cron:      "@hourly",
		APICron:   "@every 30m",
		EmailCron: "0 6 * * *",
	}, &recordingRunner{}, &memQueue{})

	jobs := s.jobs()
	require.Len(t, jobs, 3)
	assert.Empty(t, jobs[0].opts.Methods)
	assert.Equal(t, []models.SyncMethod{models.MethodMobileAPI}, jobs[1].opts.Methods)
	assert.Equal(t, []models.SyncMethod{models.MethodEmail}, jobs[2].opts.Methods)
}

func TestStart_RejectsBadCron(t *testing.T) {
	s := New(config.SchedulerConfig{Cron: "every now and then"}, &recordingRunner{}, &memQueue{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	err := s.Start(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "full job")
}

func TestDrainCommands_MarksEveryCommandProcessed(t *testing.T) {
	runner := &recordingRunner{}
	queue := &memQueue{pending: []models.Command{
		{ID: 1, Command: models.CmdPause},
		{ID: 2, Command: models.CmdSyncUser},
		{ID: 3, Command: models.CmdResume},
	}}
	s := New(config.SchedulerConfig{}, runner, queue)

	s.drainCommands(context.Background())

	assert.Equal(t, []models.CommandType{models.CmdPause, models.CmdSyncUser, models.CmdResume}, runner.commands)
	assert.Equal(t, []int64{1, 2, 3}, queue.processed, "failed commands are still marked")
}

func TestRun_SkipsOverlap(t *testing.T) {
	runner := &recordingRunner{}
	s := New(config.SchedulerConfig{}, runner, &memQueue{})

	s.running.Store("full", struct{}{})
	s.run(context.Background(), job{name: "full"})
	assert.Empty(t, runner.runs)

	s.running.Delete("full")
	s.run(context.Background(), job{name: "full"})
	assert.Len(t, runner.runs, 1)
}

func TestStop_IsIdempotent(t *testing.T) {
	s := New(config.SchedulerConfig{}, &recordingRunner{}, &memQueue{})
	require.NoError(t, s.Start(context.Background()))
	s.Stop()
	s.Stop()
}
