package service

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/boddenberg/wallet-ledger-go/internal/domain"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var sweepTracer = otel.Tracer("service/sweeper")

// SweeperConfig controls the pending top-up sweep.
type SweeperConfig struct {
	Interval       time.Duration
	MinAge         time.Duration
	BatchSize      int
	MaxConcurrency int
}

// PendingSweeper re-verifies top-ups whose webhook never arrived.
type PendingSweeper struct {
	payments *PaymentService
	cfg      SweeperConfig
	logger   *zap.Logger
	now      func() time.Time
}

// NewPendingSweeper creates a new sweeper.
func NewPendingSweeper(payments *PaymentService, cfg SweeperConfig, logger *zap.Logger) *PendingSweeper {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 4
	}
	return &PendingSweeper{payments: payments, cfg: cfg, logger: logger, now: time.Now}
}

// Run sweeps every Interval until ctx is cancelled.
func (p *PendingSweeper) Run(ctx context.Context) {
	if p.cfg.Interval <= 0 {
		p.logger.Info("pending sweeper disabled")
		return
	}

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	p.logger.Info("pending sweeper started",
		zap.Duration("interval", p.cfg.Interval),
		zap.Duration("min_age", p.cfg.MinAge),
	)
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("pending sweeper stopped")
			return
		case <-ticker.C:
			if _, err := p.SweepOnce(ctx); err != nil && ctx.Err() == nil {
				p.logger.Error("pending sweep failed", zap.Error(err))
			}
		}
	}
}

// SweepOnce reconciles one batch of stale pending top-ups and returns how
// many were settled. A failure on one reference does not stop the others.
func (p *PendingSweeper) SweepOnce(ctx context.Context) (int, error) {
	ctx, span := sweepTracer.Start(ctx, "PendingSweeper.SweepOnce")
	defer span.End()

	pending, err := p.payments.store.ListPendingTransactions(ctx, p.now().Add(-p.cfg.MinAge), p.cfg.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("list pending top-ups: %w", err)
	}
	span.SetAttributes(attribute.Int("sweep.candidates", len(pending)))
	if len(pending) == 0 {
		return 0, nil
	}

	var settled atomic.Int32
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.MaxConcurrency)

	for _, txn := range pending {
		ref := txn.ExternalReference
		g.Go(func() error {
			res, err := p.payments.Reconcile(gctx, ReconcileRequest{Reference: ref, Source: SourceSweep})
			if err != nil {
				level := p.logger.Warn
				if !isTransient(err) {
					level = p.logger.Error
				}
				level("sweep: reconcile failed", zap.String("reference", ref), zap.Error(err))
				return nil
			}
			if res.Outcome == domain.OutcomeCredited || res.Outcome == domain.OutcomeMarkedFailed {
				settled.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()

	n := int(settled.Load())
	p.logger.Info("pending sweep finished", zap.Int("candidates", len(pending)), zap.Int("settled", n))
	return n, nil
}
