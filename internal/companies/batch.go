package companies

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// BatchItem is the outcome for one tax id in a batch resolution. Items
// fail independently; one bad tax id never aborts the rest.
type BatchItem struct {
	TaxID   string  `json:"tax_id"`
	Outcome Outcome `json:"-"`
	Status  Status  `json:"status"`
	Error   string  `json:"error,omitempty"`
}

// BatchResolver resolves a list of tax ids sequentially with a fixed
// interval between registry calls, to stay inside the register's
// politeness limits.
type BatchResolver struct {
	resolver *Resolver
	interval time.Duration
	logger   *zap.Logger
	sleep    func(ctx context.Context, d time.Duration) error
}

func NewBatchResolver(resolver *Resolver, interval time.Duration, logger *zap.Logger) *BatchResolver {
	return &BatchResolver{
		resolver: resolver,
		interval: interval,
		logger:   logger,
		sleep:    sleepContext,
	}
}

// SetSleeper overrides the inter-call delay, for tests
func (b *BatchResolver) SetSleeper(sleep func(ctx context.Context, d time.Duration) error) {
	b.sleep = sleep
}

// ResolveBatch resolves each tax id in order. A cancelled context stops
// the batch at the current position; completed items are still returned.
func (b *BatchResolver) ResolveBatch(ctx context.Context, tenantID string, taxIDs []string) []BatchItem {
	items := make([]BatchItem, 0, len(taxIDs))

	for i, taxID := range taxIDs {
		if i > 0 && b.interval > 0 {
			if err := b.sleep(ctx, b.interval); err != nil {
				b.logger.Warn("batch resolution cancelled",
					zap.String("tenant_id", tenantID),
					zap.Int("completed", len(items)),
					zap.Int("total", len(taxIDs)))
				return items
			}
		}

		item := BatchItem{TaxID: taxID}
		outcome, err := b.resolver.Resolve(ctx, tenantID, taxID)
		if err != nil {
			item.Error = err.Error()
		} else {
			item.Outcome = outcome
			item.Status = outcome.Status
		}
		items = append(items, item)
	}

	return items
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
