package sdk

import (
	"context"
	"os"

	"go.uber.org/zap"

	"github.com/celerix-dev/celerix-presence/internal/engine"
)

// AddrEnv names the environment variable that points the SDK at a remote daemon.
const AddrEnv = "PRESENCE_API_URL"

var _ PresenceService = (*engine.Engine)(nil)

// New initializes the service based on the environment.
// It returns the interface, so the app doesn't care if it's local or remote.
// With addr empty, AddrEnv is consulted; if that is empty too an embedded
// engine persisting to dataDir is started. A remote address that does not
// answer is an error; there is no fallback to the embedded engine.
func New(ctx context.Context, addr, dataDir string, logger *zap.Logger) (PresenceService, error) {
	if addr == "" {
		addr = os.Getenv(AddrEnv)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	if addr != "" {
		client, err := Connect(ctx, addr)
		if err != nil {
			return nil, err
		}
		logger.Info("using remote presence daemon", zap.String("addr", addr))
		return client, nil
	}

	// Embedded mode uses the same engine the daemon uses, inside the app process.
	p, err := engine.NewPersistence(dataDir)
	if err != nil {
		return nil, err
	}
	snap, err := p.Load()
	if err != nil {
		return nil, err
	}

	logger.Info("using embedded presence engine", zap.String("data_dir", dataDir), zap.Int("people", len(snap.People)))
	store := engine.NewMemStore(snap, p, logger)
	return engine.New(store, logger), nil
}
