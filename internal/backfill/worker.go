package backfill

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/terra-clan/challenge-engine/internal/metrics"
)

// Repairer fills statistics gaps of one project
type Repairer interface {
	Repair(ctx context.Context, project string) (int, error)
}

// Projects lists the projects the game runs for
type Projects interface {
	ActivatedProjects() []string
}

// Worker periodically synthesises run entries that a crash between the
// challenge state write and the statistics write left missing
type Worker struct {
	repairer Repairer
	projects Projects
	interval time.Duration
	logger   *zap.SugaredLogger
}

// NewWorker creates a new backfill worker
func NewWorker(repairer Repairer, projects Projects, interval time.Duration, logger *zap.SugaredLogger) *Worker {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	return &Worker{
		repairer: repairer,
		projects: projects,
		interval: interval,
		logger:   logger,
	}
}

// Start begins the worker in a goroutine
func (w *Worker) Start(ctx context.Context) {
	go w.run(ctx)
}

// run is the main loop for the worker
func (w *Worker) run(ctx context.Context) {
	w.logger.Infow("backfill worker started", "interval", w.interval)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	// Run immediately on start
	w.RunOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("backfill worker stopped")
			return
		case <-ticker.C:
			w.RunOnce(ctx)
		}
	}
}

// RunOnce repairs every activated project and returns how many entries were added
func (w *Worker) RunOnce(ctx context.Context) int {
	w.logger.Debug("running backfill cycle")

	total := 0
	for _, project := range w.projects.ActivatedProjects() {
		if ctx.Err() != nil {
			break
		}

		added, err := w.repairer.Repair(ctx, project)
		if err != nil {
			w.logger.Errorw("failed to repair statistics", "project", project, "error", err)
			continue
		}
		if added > 0 {
			w.logger.Infow("statistics repaired", "project", project, "added", added)
		}
		total += added
	}

	metrics.StatisticsRepaired.Add(float64(total))
	return total
}
