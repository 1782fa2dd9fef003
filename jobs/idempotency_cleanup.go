package jobs

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/stockbook/stockbook/internal/shared"
)

// IdempotencyRetention is how long processed keys are kept before purging.
const IdempotencyRetention = 7 * 24 * time.Hour

// NewIdempotencyCleanupHandler purges idempotency keys past retention.
func NewIdempotencyCleanupHandler(store *shared.IdempotencyStore, logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var payload ScheduledPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
		if err := store.Cleanup(ctx, IdempotencyRetention); err != nil {
			return err
		}
		logger.Info("idempotency keys purged",
			slog.String("scheduled_for", payload.ScheduledFor.Format(time.RFC3339)))
		return nil
	}
}
