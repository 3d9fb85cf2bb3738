package reaper

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/NurzhauganovA/galmart/internal/repository"
)

var (
	expiredTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "reaper_expired_total",
			Help: "Reservations transitioned to expired by the reaper",
		},
	)

	skippedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "reaper_skipped_total",
			Help: "Expiry candidates skipped because of a conflict or failure",
		},
	)

	sweepDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "reaper_sweep_duration_seconds",
			Help:    "Duration of a full reap sweep",
			Buckets: prometheus.DefBuckets,
		},
	)
)

// Expirer is the service-side contract the reaper drives. ExpireReservation
// re-checks the row transactionally and reports false when the reservation
// already left pending, which makes overlapping sweeps safe.
type Expirer interface {
	ExpireReservation(ctx context.Context, id uuid.UUID) (bool, error)
	PruneIdempotencyKeys(ctx context.Context, now time.Time) (int64, error)
}

// Config holds reaper tuning knobs.
type Config struct {
	Interval  time.Duration
	BatchSize int
	Budget    time.Duration
}

// Reaper periodically reclaims stock from timed-out reservations. Each item
// is expired in its own transaction; a failure skips that item and the sweep
// continues. A sweep stops when a scan comes back short or the time budget
// runs out.
type Reaper struct {
	store   repository.ReservationStore
	service Expirer
	logger  *slog.Logger
	cfg     Config
}

// New creates the expiry reaper.
func New(store repository.ReservationStore, service Expirer, logger *slog.Logger, cfg Config) *Reaper {
	return &Reaper{
		store:   store,
		service: service,
		logger:  logger,
		cfg:     cfg,
	}
}

// Run sweeps on the configured cadence until the context is canceled. The
// stop signal is checked at batch boundaries; the item in flight is finished
// before exiting.
func (r *Reaper) Run(ctx context.Context) error {
	r.logger.Info("reaper started",
		slog.Duration("interval", r.cfg.Interval),
		slog.Int("batch_size", r.cfg.BatchSize),
	)

	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("reaper stopping")
			return nil
		case <-ticker.C:
			r.Sweep(ctx)
		}
	}
}

// Sweep runs one full reap cycle.
func (r *Reaper) Sweep(ctx context.Context) {
	start := time.Now()
	deadline := start.Add(r.cfg.Budget)

	var expired, skipped int

	for {
		now := time.Now().UTC()
		batch, err := r.store.ScanExpired(ctx, now, r.cfg.BatchSize)
		if err != nil {
			r.logger.Error("expired scan failed", slog.String("error", err.Error()))
			break
		}
		if len(batch) == 0 {
			break
		}

		for _, candidate := range batch {
			ok, err := r.service.ExpireReservation(ctx, candidate.ID)
			switch {
			case err != nil:
				// Conflicts and transient failures are not fatal: the row
				// stays pending-expired and the next sweep retries it.
				skipped++
				skippedTotal.Inc()
				r.logger.Warn("failed to expire reservation, skipping",
					slog.String("reservation_id", candidate.ID.String()),
					slog.String("error", err.Error()),
				)
			case ok:
				expired++
				expiredTotal.Inc()
			default:
				// Already transitioned by a racing confirm or cancel.
				skipped++
				skippedTotal.Inc()
			}

			if ctx.Err() != nil {
				return
			}
		}

		if len(batch) < r.cfg.BatchSize {
			break
		}
		if time.Now().After(deadline) {
			r.logger.Warn("reap sweep hit time budget",
				slog.Duration("budget", r.cfg.Budget),
				slog.Int("expired_so_far", expired),
			)
			break
		}
	}

	if pruned, err := r.service.PruneIdempotencyKeys(ctx, time.Now().UTC()); err != nil {
		r.logger.Warn("idempotency key prune failed", slog.String("error", err.Error()))
	} else if pruned > 0 {
		r.logger.Debug("idempotency keys pruned", slog.Int64("count", pruned))
	}

	sweepDuration.Observe(time.Since(start).Seconds())

	if expired > 0 || skipped > 0 {
		r.logger.Info("reap sweep completed",
			slog.Int("expired", expired),
			slog.Int("skipped", skipped),
			slog.Duration("duration", time.Since(start)),
		)
	}
}
