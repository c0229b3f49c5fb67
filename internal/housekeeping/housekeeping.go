// Package housekeeping runs the periodic cleanup jobs of a devlift server:
// expired quota windows, expired artifacts, expired idempotency keys, and
// workspaces left behind by a crashed process.
package housekeeping

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/tbourn/devlift/internal/repo"
)

var (
	removedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "devlift",
			Name:      "housekeeping_removed_total",
			Help:      "Rows or directories removed by housekeeping jobs.",
		},
		[]string{"job"},
	)
	failuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "devlift",
			Name:      "housekeeping_failures_total",
			Help:      "Housekeeping job runs that returned an error.",
		},
		[]string{"job"},
	)
)

func init() {
	prometheus.MustRegister(removedTotal, failuresTotal)
}

// Job is a named cleanup task run every Interval.
type Job struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context, now time.Time) (int64, error)
}

// QuotaSweeper drops quota windows that have already reset.
type QuotaSweeper interface {
	Sweep(ctx context.Context) (int64, error)
}

// WorkspaceSweeper removes workspace directories older than maxAge.
type WorkspaceSweeper interface {
	SweepStale(ctx context.Context, maxAge time.Duration) (int, error)
}

// Options selects the standard jobs. Nil collaborators skip their job.
type Options struct {
	DB              *gorm.DB
	Quota           QuotaSweeper
	Workspaces      WorkspaceSweeper
	QuotaInterval   time.Duration
	CleanupInterval time.Duration
	StaleAfter      time.Duration
}

// StandardJobs returns the cleanup jobs for a server.
func StandardJobs(o Options) []Job {
	var jobs []Job
	if o.Quota != nil {
		jobs = append(jobs, Job{
			Name:     "quota_windows",
			Interval: o.QuotaInterval,
			Run: func(ctx context.Context, _ time.Time) (int64, error) {
				return o.Quota.Sweep(ctx)
			},
		})
	}
	if o.DB != nil {
		jobs = append(jobs,
			Job{
				Name:     "artifacts",
				Interval: o.CleanupInterval,
				Run: func(ctx context.Context, now time.Time) (int64, error) {
					return repo.DeleteExpiredArtifacts(ctx, o.DB, now)
				},
			},
			Job{
				Name:     "idempotency_keys",
				Interval: o.CleanupInterval,
				Run: func(ctx context.Context, now time.Time) (int64, error) {
					return repo.DeleteExpiredIdempotency(ctx, o.DB, now)
				},
			},
		)
	}
	if o.Workspaces != nil {
		jobs = append(jobs, Job{
			Name:     "stale_workspaces",
			Interval: o.CleanupInterval,
			Run: func(ctx context.Context, _ time.Time) (int64, error) {
				n, err := o.Workspaces.SweepStale(ctx, o.StaleAfter)
				return int64(n), err
			},
		})
	}
	return jobs
}

// Runner schedules jobs on a gocron scheduler.
type Runner struct {
	jobs  []Job
	sched gocron.Scheduler
	now   func() time.Time
}

// New validates jobs and registers them on a fresh scheduler. Each job runs
// once right after Start and then every Interval; overlapping runs of the
// same job are skipped.
func New(ctx context.Context, jobs ...Job) (*Runner, error) {
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("housekeeping: scheduler: %w", err)
	}
	r := &Runner{jobs: jobs, sched: s, now: func() time.Time { return time.Now().UTC() }}

	for _, j := range jobs {
		if j.Interval <= 0 || j.Run == nil {
			_ = s.Shutdown()
			return nil, fmt.Errorf("housekeeping: job %q needs a positive interval and a run func", j.Name)
		}
		_, err := s.NewJob(
			gocron.DurationJob(j.Interval),
			gocron.NewTask(r.execute, ctx, j),
			gocron.WithName(j.Name),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
			gocron.WithStartAt(gocron.WithStartImmediately()),
		)
		if err != nil {
			_ = s.Shutdown()
			return nil, fmt.Errorf("housekeeping: register %q: %w", j.Name, err)
		}
	}
	return r, nil
}

// Start runs the scheduler until ctx is done, then shuts it down and waits
// for running jobs to return.
func (r *Runner) Start(ctx context.Context) error {
	r.sched.Start()
	log.Info().Int("jobs", len(r.jobs)).Msg("housekeeping started")

	<-ctx.Done()

	if err := r.sched.Shutdown(); err != nil {
		return fmt.Errorf("housekeeping: shutdown: %w", err)
	}
	return nil
}

// RunOnce executes every job synchronously and joins their errors.
func (r *Runner) RunOnce(ctx context.Context) error {
	var errs []error
	for _, j := range r.jobs {
		if _, err := r.execute(ctx, j); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", j.Name, err))
		}
	}
	return errors.Join(errs...)
}

// Shutdown stops a scheduler that was never started through Start.
func (r *Runner) Shutdown() error {
	return r.sched.Shutdown()
}

func (r *Runner) execute(ctx context.Context, j Job) (int64, error) {
	n, err := j.Run(ctx, r.now())
	if err != nil {
		failuresTotal.WithLabelValues(j.Name).Inc()
		log.Error().Err(err).Str("job", j.Name).Msg("housekeeping job failed")
		return n, err
	}
	if n > 0 {
		removedTotal.WithLabelValues(j.Name).Add(float64(n))
		log.Info().Str("job", j.Name).Int64("removed", n).Msg("housekeeping")
	}
	return n, nil
}
