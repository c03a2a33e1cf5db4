package partition

import (
	"context"
	"time"

	"github.com/bft-labs/roleshift/pkg/log"
	"github.com/bft-labs/roleshift/pkg/logstore"
)

const (
	// DefaultRetentionInterval is how often processed records are pruned.
	DefaultRetentionInterval = time.Minute

	// DefaultRetainRecords is how many processed records are kept behind the
	// engine checkpoint.
	DefaultRetainRecords = 10_000

	gcDiscardRatio = 0.5
)

// retention periodically deletes records the engine has already processed,
// keeping the newest retain of them.
type retention struct {
	store      *logstore.Store
	checkpoint string
	retain     uint64
	interval   time.Duration
	logger     log.Logger
}

func (r *retention) run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, _ = r.once()
		}
	}
}

// once prunes up to checkpoint-retain and returns the number of records removed.
func (r *retention) once() (int, error) {
	ckpt, err := r.store.Checkpoint(r.checkpoint)
	if err != nil {
		r.logger.Error("log retention: read checkpoint failed", log.Err(err))
		return 0, err
	}
	if ckpt <= r.retain {
		return 0, nil
	}
	upTo := ckpt - r.retain

	removed, err := r.store.Truncate(upTo)
	if err != nil {
		r.logger.Error("log retention: truncate failed", log.Uint64("up_to", upTo), log.Err(err))
		return 0, err
	}
	if removed == 0 {
		return 0, nil
	}
	if err := r.store.CollectGarbage(gcDiscardRatio); err != nil {
		r.logger.Warn("log retention: garbage collection failed", log.Err(err))
	}
	r.logger.Info("log retention completed", log.Int("removed", removed), log.Uint64("up_to", upTo))
	return removed, nil
}
