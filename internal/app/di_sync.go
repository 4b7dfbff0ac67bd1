package app

import (
	"fmt"

	syncClient "github.com/fieldops/resilience/internal/sync/client"
	syncRepository "github.com/fieldops/resilience/internal/sync/repository"
	syncUseCase "github.com/fieldops/resilience/internal/sync/usecase"
)

// SyncEngine opens the local store under SYNC_DATA_DIR and returns an engine that
// talks to SYNC_SERVER_URL. The store is closed by Shutdown.
func (c *Container) SyncEngine() (syncUseCase.Engine, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.config.SyncServerURL == "" {
		return nil, fmt.Errorf("sync server url is required")
	}

	if c.syncStore == nil {
		store, err := syncRepository.OpenBadgerStore(syncRepository.Config{
			Path:   c.config.SyncDataDir,
			Logger: c.Logger(),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to open sync store: %w", err)
		}
		c.syncStore = store
	}

	client := syncClient.NewHTTPClient(syncClient.Config{
		BaseURL:   c.config.SyncServerURL,
		AuthToken: c.config.SyncAuthToken,
		Timeout:   c.config.SyncRequestTimeout,
	})

	return syncUseCase.NewEngine(c.syncStore, client, syncUseCase.Config{
		Interval: c.config.SyncInterval,
		Policy:   syncUseCase.DefaultPolicy(),
	}, c.Logger()), nil
}
