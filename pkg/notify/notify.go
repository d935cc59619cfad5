// Package notify carries the best-effort side effects of a commit: the
// web layer caches rendered passport pages, and a finished import or
// promotion should nudge it to revalidate. Failures here are logged and
// never fail the operation that triggered them.
package notify

import (
	"context"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Notifier announces that a brand's catalog changed. Implementations
// must be best effort: no return value, no blocking beyond the context.
type Notifier interface {
	CatalogChanged(ctx context.Context, brandID string)
}

// Nop is the notifier used when no revalidation channel is configured.
type Nop struct{}

func (Nop) CatalogChanged(context.Context, string) {}

// DefaultChannel is the pub/sub channel revalidation notices go out on.
const DefaultChannel = "catalog.revalidate"

// Redis publishes revalidation notices over redis pub/sub.
type Redis struct {
	client  *redis.Client
	channel string
	logger  *zap.Logger
}

// NewRedis creates a redis-backed notifier.
func NewRedis(client *redis.Client, logger *zap.Logger) *Redis {
	return &Redis{client: client, channel: DefaultChannel, logger: logger}
}

// CatalogChanged publishes the brand ID on the revalidation channel. A
// publish failure is logged at warn and otherwise swallowed.
func (r *Redis) CatalogChanged(ctx context.Context, brandID string) {
	if err := r.client.Publish(ctx, r.channel, brandID).Err(); err != nil {
		r.logger.Warn("revalidation notify failed",
			zap.String("brand_id", brandID),
			zap.Error(err),
		)
	}
}
