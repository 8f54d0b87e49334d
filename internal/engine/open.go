package engine

import (
	"context"
	"fmt"

	"github.com/faceattend/faceattend/internal/cache"
	"github.com/faceattend/faceattend/internal/config"
	"github.com/faceattend/faceattend/internal/store"
	"github.com/sirupsen/logrus"
)

// Open builds an engine from the configuration. With record set the check
// history database is opened; an unreachable cache falls back to no caching.
func Open(ctx context.Context, cfg *config.Config, logger *logrus.Logger, record bool) (*Engine, error) {
	var st *store.Store
	if record {
		var err error
		st, err = store.NewStore(cfg.Storage.DatabasePath)
		if err != nil {
			return nil, fmt.Errorf("failed to open store: %w", err)
		}
	}

	c, err := cache.New(ctx, cfg.Cache)
	if err != nil {
		logger.Warnf("Verdict cache disabled: %v", err)
		c = cache.Noop{}
	}

	e, err := NewEngine(cfg, logger, st, c)
	if err != nil {
		_ = c.Close()
		if st != nil {
			_ = st.Close()
		}
		return nil, err
	}
	return e, nil
}
