package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"channel_sync/config"
	"channel_sync/models"
	"channel_sync/syncer"
)

// Runner is the part of the orchestrator the scheduler drives.
type Runner interface {
	SyncAllUsers(ctx context.Context, opts syncer.RunOptions) error
	HandleCommand(ctx context.Context, cmd *models.Command) error
}

// CommandQueue is the SQLite command table.
type CommandQueue interface {
	GetPendingCommands() ([]models.Command, error)
	MarkCommandProcessed(id int64) error
}

type job struct {
	name string
	spec string
	opts syncer.RunOptions
}

type Scheduler struct {
	cfg      config.SchedulerConfig
	runner   Runner
	commands CommandQueue
	cron     *cron.Cron
	ticker   *time.Ticker
	stopCh   chan struct{}
	stopOnce sync.Once

	pollInterval time.Duration

	// running guards against a job overlapping its previous run.
	running sync.Map
}

func New(cfg config.SchedulerConfig, runner Runner, commands CommandQueue) *Scheduler {
	return &Scheduler{
		cfg:          cfg,
		runner:       runner,
		commands:     commands,
		cron:         cron.New(),
		stopCh:       make(chan struct{}),
		pollInterval: 2 * time.Second,
	}
}

func (s *Scheduler) jobs() []job {
	var jobs []job
	if s.cfg.Cron != "" {
		jobs = append(jobs, job{name: "full", spec: s.cfg.Cron})
	}
	if s.cfg.APICron != "" {
		jobs = append(jobs, job{name: "mobile_api", spec: s.cfg.APICron,
			opts: syncer.RunOptions{Methods: []models.SyncMethod{models.MethodMobileAPI}}})
	}
	if s.cfg.EmailCron != "" {
		jobs = append(jobs, job{name: "email", spec: s.cfg.EmailCron,
			opts: syncer.RunOptions{Methods: []models.SyncMethod{models.MethodEmail}}})
	}
	return jobs
}

func (s *Scheduler) Start(ctx context.Context) error {
	go s.pollCommands(ctx)

	jobs := s.jobs()
	if len(jobs) > 0 {
		for _, j := range jobs {
			j := j
			log.Info().Str("job", j.name).Str("cron", j.spec).Msg("scheduling sync job")
			if _, err := s.cron.AddFunc(j.spec, func() { s.run(ctx, j) }); err != nil {
				return fmt.Errorf("invalid cron expression for %s job: %w", j.name, err)
			}
		}
		s.cron.Start()
	} else if s.cfg.Interval > 0 {
		log.Info().Dur("interval", s.cfg.Interval).Msg("starting scheduler with interval")
		s.ticker = time.NewTicker(s.cfg.Interval)
		go func() {
			for {
				select {
				case <-s.ticker.C:
					s.run(ctx, job{name: "full"})
				case <-s.stopCh:
					return
				case <-ctx.Done():
					return
				}
			}
		}()
	} else {
		log.Info().Msg("no schedule configured, daemon will only respond to commands")
	}

	return nil
}

func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		if s.cron != nil {
			<-s.cron.Stop().Done()
		}
		if s.ticker != nil {
			s.ticker.Stop()
		}
		close(s.stopCh)
	})
}

func (s *Scheduler) run(ctx context.Context, j job) {
	if _, busy := s.running.LoadOrStore(j.name, struct{}{}); busy {
		log.Warn().Str("job", j.name).Msg("previous run still in progress, skipping")
		return
	}
	defer s.running.Delete(j.name)

	log.Info().Str("job", j.name).Msg("scheduled sync starting")
	if err := s.runner.SyncAllUsers(ctx, j.opts); err != nil {
		log.Error().Err(err).Str("job", j.name).Msg("scheduled run error")
	}
}

func (s *Scheduler) pollCommands(ctx context.Context) {
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.drainCommands(ctx)
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (s *Scheduler) drainCommands(ctx context.Context) {
	cmds, err := s.commands.GetPendingCommands()
	if err != nil {
		log.Error().Err(err).Msg("error getting commands")
		return
	}

	for i := range cmds {
		cmd := &cmds[i]
		log.Info().Str("command", string(cmd.Command)).Int64("id", cmd.ID).Msg("processing command")
		if err := s.runner.HandleCommand(ctx, cmd); err != nil {
			log.Error().Err(err).Str("command", string(cmd.Command)).Msg("command error")
		}
		if err := s.commands.MarkCommandProcessed(cmd.ID); err != nil {
			log.Error().Err(err).Int64("id", cmd.ID).Msg("error marking command processed")
		}
	}
}
