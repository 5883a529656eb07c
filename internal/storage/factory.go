package storage

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/purgo/internal/common"
	"github.com/ternarybob/purgo/internal/interfaces"
	"github.com/ternarybob/purgo/internal/storage/badger"
	"github.com/ternarybob/purgo/internal/storage/memory"
	"github.com/ternarybob/purgo/internal/storage/mongodb"
)

// New creates the repository backend selected by config. The memory backend
// loses all data on restart and exists for tests and throwaway deployments.
func New(ctx context.Context, config *common.Config, clock interfaces.Clock, logger arbor.ILogger) (interfaces.Repository, error) {
	switch config.Storage.Type {
	case "memory":
		return memory.NewRepository(clock, logger), nil
	case "badger":
		return badger.NewRepository(&config.Storage.Badger, clock, logger)
	case "mongodb":
		return mongodb.NewRepository(ctx, &config.Storage.MongoDB, config.Storage.BlobThreshold, clock, logger)
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", config.Storage.Type)
	}
}
