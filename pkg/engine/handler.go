package engine

import (
	"context"

	"github.com/bft-labs/roleshift/pkg/log"
	"github.com/bft-labs/roleshift/pkg/logstore"
)

// RecordHandler applies one log record. A returned error makes the processor
// retry the same record after a backoff.
type RecordHandler interface {
	Handle(ctx context.Context, rec logstore.Record) error
}

// HandlerFunc adapts a function to RecordHandler.
type HandlerFunc func(ctx context.Context, rec logstore.Record) error

// Handle calls f.
func (f HandlerFunc) Handle(ctx context.Context, rec logstore.Record) error {
	return f(ctx, rec)
}

// LogHandler returns a handler that logs every record at debug level.
func LogHandler(logger log.Logger) RecordHandler {
	return HandlerFunc(func(_ context.Context, rec logstore.Record) error {
		logger.Debug("record processed",
			log.Uint64("position", rec.Position),
			log.Term(rec.Term),
			log.Int("bytes", len(rec.Payload)),
		)
		return nil
	})
}
