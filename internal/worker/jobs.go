package worker

import (
	"context"
	"time"

	"go.uber.org/zap"
)

const earnBatchSize = 100

type PendingEarner interface {
	EarnPending(ctx context.Context, limit int) (int, error)
}

// EarnDeliveredJob writes ledger entries for delivered deals whose earn
// step did not run inline (for example because it failed on delivery).
type EarnDeliveredJob struct {
	earner   PendingEarner
	interval time.Duration
	log      *zap.Logger
}

func NewEarnDeliveredJob(earner PendingEarner, interval time.Duration, log *zap.Logger) *EarnDeliveredJob {
	return &EarnDeliveredJob{earner: earner, interval: interval, log: log}
}

func (j *EarnDeliveredJob) Name() string            { return "earn-delivered-deals" }
func (j *EarnDeliveredJob) Interval() time.Duration { return j.interval }

func (j *EarnDeliveredJob) Run(ctx context.Context) error {
	n, err := j.earner.EarnPending(ctx, earnBatchSize)
	if err != nil {
		return err
	}
	if n > 0 {
		j.log.Info("ledger entries created for delivered deals", zap.Int("deals", n))
	}
	return nil
}

type CheckoutExpirer interface {
	ExpireStaleCheckouts(ctx context.Context, maxAge time.Duration) (int64, error)
}

// ExpireCheckoutsJob fails checkout attempts left open longer than maxAge so
// the deal can be checked out again.
type ExpireCheckoutsJob struct {
	expirer  CheckoutExpirer
	maxAge   time.Duration
	interval time.Duration
	log      *zap.Logger
}

func NewExpireCheckoutsJob(expirer CheckoutExpirer, maxAge, interval time.Duration, log *zap.Logger) *ExpireCheckoutsJob {
	return &ExpireCheckoutsJob{expirer: expirer, maxAge: maxAge, interval: interval, log: log}
}

func (j *ExpireCheckoutsJob) Name() string            { return "expire-stale-checkouts" }
func (j *ExpireCheckoutsJob) Interval() time.Duration { return j.interval }

func (j *ExpireCheckoutsJob) Run(ctx context.Context) error {
	n, err := j.expirer.ExpireStaleCheckouts(ctx, j.maxAge)
	if err != nil {
		return err
	}
	if n > 0 {
		j.log.Info("stale checkouts expired", zap.Int64("count", n))
	}
	return nil
}
