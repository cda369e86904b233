package store

import (
	"context"
	"time"

	"github.com/sells-group/outreach-cli/internal/model"
)

// Store defines the persistence interface for the resolution cache and
// harvest run history. Cache reads return (nil, nil) on a miss or an
// expired entry; failures are never cached.
type Store interface {
	// Resolution cache
	GetCachedResolution(ctx context.Context, pageURL string) (*model.Resolution, error)
	PutResolution(ctx context.Context, res *model.Resolution, ttl time.Duration) error
	DeleteExpired(ctx context.Context) (int, error)

	// Harvest runs
	CreateRun(ctx context.Context, source string) (*model.HarvestRun, error)
	FinishRun(ctx context.Context, runID string, status model.RunStatus, summary model.RunSummary) error
	GetRun(ctx context.Context, runID string) (*model.HarvestRun, error)
	ListRuns(ctx context.Context, limit int) ([]model.HarvestRun, error)

	// Lifecycle
	Ping(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close() error
}
