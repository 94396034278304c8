package appcron

import (
	"context"
	"fmt"
	"time"

	"github.com/creatorstation/publisher/internal/config"
	"github.com/creatorstation/publisher/internal/connections"
	"github.com/creatorstation/publisher/internal/logging"
	"github.com/creatorstation/publisher/internal/orchestrator"
	"github.com/robfig/cron/v3"
)

// sweepTimeout bounds one sweep so a hung platform call cannot pin the job.
const sweepTimeout = 10 * time.Minute

// SetupPublishingCron schedules the publishing sweep. Overlapping runs are
// skipped; the lease on each entry keeps concurrent instances apart.
func SetupPublishingCron(cfg *config.Config, orch *orchestrator.Orchestrator, logger logging.Logger) (*cron.Cron, error) {
	loc, err := time.LoadLocation(cfg.SweepTimezone)
	if err != nil {
		return nil, fmt.Errorf("load sweep timezone %q: %w", cfg.SweepTimezone, err)
	}

	c := cron.New(
		cron.WithLocation(loc),
		cron.WithChain(cron.SkipIfStillRunning(cron.PrintfLogger(logger))),
	)
	_, err = c.AddFunc(cfg.SweepSpec, func() { runSweep(orch, logger) })
	if err != nil {
		return nil, fmt.Errorf("add sweep job: %w", err)
	}

	c.Start()
	logger.WithField("spec", cfg.SweepSpec).Info("Publishing sweep scheduled")
	return c, nil
}

// SetupProfileSyncCron schedules the periodic profile refresh of active connections.
func SetupProfileSyncCron(cfg *config.Config, conns *connections.Service, logger logging.Logger) (*cron.Cron, error) {
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.PrintfLogger(logger))))
	_, err := c.AddFunc(cfg.ProfileSyncSpec, func() { runProfileSync(conns, logger) })
	if err != nil {
		return nil, fmt.Errorf("add profile sync job: %w", err)
	}

	c.Start()
	logger.WithField("spec", cfg.ProfileSyncSpec).Info("Profile sync scheduled")
	return c, nil
}

func runSweep(orch *orchestrator.Orchestrator, logger logging.Logger) (*orchestrator.SweepResult, error) {
	ctx, cancel := context.WithTimeout(context.Background(), sweepTimeout)
	defer cancel()

	result, err := orch.Sweep(ctx)
	if err != nil {
		logger.WithError(err).Error("Publishing sweep failed")
	}
	return result, err
}

func runProfileSync(conns *connections.Service, logger logging.Logger) {
	logger.Info("Starting profile sync")
	synced, err := conns.SyncProfiles(context.Background())
	if err != nil {
		logger.WithError(err).Error("Profile sync finished with errors")
	}
	logger.WithField("synced", synced).Info("Profile sync completed")
}
