// Package engine orchestrates liveness checks: lockout guard, verdict cache,
// scoring and history
package engine

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"sync/atomic"
	"time"

	"github.com/faceattend/faceattend/internal/cache"
	"github.com/faceattend/faceattend/internal/config"
	"github.com/faceattend/faceattend/internal/liveness"
	"github.com/faceattend/faceattend/internal/store"
	"github.com/sirupsen/logrus"
)

// ErrNoStore is returned by history queries when the engine runs without a store
var ErrNoStore = errors.New("check history is not available")

// Result represents the outcome of one liveness check
type Result struct {
	ID             string
	Source         string
	Verdict        *liveness.Verdict
	Skipped        bool // liveness detection disabled
	Cached         bool
	ProcessingTime time.Duration
}

// IsLive reports whether the capture may proceed. A skipped check passes.
func (r *Result) IsLive() bool {
	if r.Skipped {
		return true
	}
	return r.Verdict != nil && r.Verdict.IsLive
}

// Engine runs liveness checks against the active settings
type Engine struct {
	config   *config.Config
	logger   *logrus.Logger
	store    *store.Store
	cache    cache.Cache
	guard    *Guard
	settings atomic.Pointer[config.LivenessConfig]
}

// NewEngine creates a new liveness engine. The store may be nil, in which
// case checks are not recorded. Persisted liveness settings take precedence
// over the configuration file.
func NewEngine(cfg *config.Config, logger *logrus.Logger, st *store.Store, c cache.Cache) (*Engine, error) {
	if c == nil {
		c = cache.Noop{}
	}

	e := &Engine{
		config: cfg,
		logger: logger,
		store:  st,
		cache:  c,
		guard:  NewGuard(cfg.Guard.MaxSpoofAttempts, time.Duration(cfg.Guard.LockoutSeconds)*time.Second, logger),
	}

	settings := cfg.Liveness
	if st != nil {
		persisted, err := st.LoadLivenessSettings()
		switch {
		case err == nil:
			logger.Info("Using persisted liveness settings")
			settings = persisted
		case errors.Is(err, store.ErrNotFound):
			logger.Debug("No persisted liveness settings, using configuration file")
		default:
			return nil, fmt.Errorf("failed to load liveness settings: %w", err)
		}
	}
	e.settings.Store(&settings)

	return e, nil
}

// Close releases the store and the cache
func (e *Engine) Close() error {
	var errs []error
	if e.store != nil {
		if err := e.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close store: %w", err))
		}
	}
	if err := e.cache.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close cache: %w", err))
	}
	return errors.Join(errs...)
}

// Settings returns a snapshot of the active liveness settings
func (e *Engine) Settings() config.LivenessConfig {
	return *e.settings.Load()
}

// UpdateSettings validates, persists and activates new liveness settings.
// Checks already in flight keep the snapshot they started with.
func (e *Engine) UpdateSettings(settings config.LivenessConfig) error {
	if err := config.ValidateStruct(settings); err != nil {
		return err
	}

	if e.store != nil {
		if err := e.store.SaveLivenessSettings(settings); err != nil {
			return err
		}
	}

	e.settings.Store(&settings)
	e.logger.WithFields(logrus.Fields{
		"enabled":   settings.Enabled,
		"threshold": settings.LivenessThreshold,
	}).Info("Liveness settings updated")

	return nil
}

// Guard returns the spoof attempt guard
func (e *Engine) Guard() *Guard {
	return e.guard
}

// Check scores one encoded image submitted by source. Undecodable images
// produce a failed verdict, not an error; errors are reserved for lockouts
// and infrastructure failures.
func (e *Engine) Check(ctx context.Context, source string, data []byte) (*Result, error) {
	start := time.Now()

	if err := e.guard.CheckLockout(source); err != nil {
		return nil, err
	}

	settings := e.Settings()
	if !settings.Enabled {
		return e.skipped(source, start), nil
	}

	key, err := cache.Key(e.config.Cache.Prefix, data, settings.Config)
	if err != nil {
		return nil, err
	}

	if verdict, ok := e.cachedVerdict(ctx, key); ok {
		result := &Result{Source: source, Verdict: verdict, Cached: true}
		return e.finish(result, start)
	}

	verdict := liveness.CheckBytes(data, settings.Config)
	if verdict.Features != nil {
		e.storeVerdict(ctx, key, verdict)
	}

	return e.finish(&Result{Source: source, Verdict: verdict}, start)
}

// CheckImage scores an already decoded image, such as a camera frame or a
// cropped upload. Verdicts are cached by pixel content.
func (e *Engine) CheckImage(ctx context.Context, source string, img image.Image) (*Result, error) {
	start := time.Now()

	if err := e.guard.CheckLockout(source); err != nil {
		return nil, err
	}

	settings := e.Settings()
	if !settings.Enabled {
		return e.skipped(source, start), nil
	}

	raster, err := liveness.NewRaster(img)
	if err != nil {
		return e.finish(&Result{Source: source, Verdict: liveness.Failed(err)}, start)
	}

	key, err := cache.Key(e.config.Cache.Prefix, rasterKeyData(raster), settings.Config)
	if err != nil {
		return nil, err
	}

	if verdict, ok := e.cachedVerdict(ctx, key); ok {
		result := &Result{Source: source, Verdict: verdict, Cached: true}
		return e.finish(result, start)
	}

	verdict := liveness.Check(raster, settings.Config)
	if verdict.Features != nil {
		e.storeVerdict(ctx, key, verdict)
	}

	return e.finish(&Result{Source: source, Verdict: verdict}, start)
}

// rasterKeyData serialises the dimensions and colour planes of a raster
func rasterKeyData(r *liveness.Raster) []byte {
	data := make([]byte, 8, 8+len(r.R)+len(r.G)+len(r.B))
	binary.BigEndian.PutUint32(data[0:4], uint32(r.Width))
	binary.BigEndian.PutUint32(data[4:8], uint32(r.Height))
	data = append(data, r.R...)
	data = append(data, r.G...)
	return append(data, r.B...)
}

func (e *Engine) skipped(source string, start time.Time) *Result {
	e.logger.WithField("source", source).Debug("Liveness detection disabled, skipping check")
	return &Result{Source: source, Skipped: true, ProcessingTime: time.Since(start)}
}

// finish records the verdict, updates the guard and logs the outcome
func (e *Engine) finish(result *Result, start time.Time) (*Result, error) {
	result.ProcessingTime = time.Since(start)
	verdict := result.Verdict

	if e.store != nil {
		check, err := e.store.RecordCheck(result.Source, verdict, result.ProcessingTime)
		if err != nil {
			return nil, err
		}
		result.ID = check.ID
	}

	switch {
	case verdict.IsLive:
		e.guard.RecordLive(result.Source)
	case verdict.Features != nil:
		e.guard.RecordSpoof(result.Source)
	}

	fields := logrus.Fields{
		"source":  result.Source,
		"score":   fmt.Sprintf("%.3f", verdict.Score),
		"is_live": verdict.IsLive,
		"cached":  result.Cached,
		"time":    result.ProcessingTime.Round(time.Millisecond),
	}
	if result.ID != "" {
		fields["check_id"] = result.ID
	}

	switch {
	case verdict.Features == nil:
		e.logger.WithFields(fields).Warnf("Liveness check failed: %s", verdict.Reason())
	case verdict.IsLive:
		e.logger.WithFields(fields).Info("Live face detected")
	default:
		e.logger.WithFields(fields).Warnf("Possible spoof: %s", verdict.Reason())
	}

	return result, nil
}

func (e *Engine) cachedVerdict(ctx context.Context, key string) (*liveness.Verdict, bool) {
	data, err := e.cache.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, cache.ErrMiss) {
			e.logger.Warnf("Verdict cache lookup failed: %v", err)
		}
		return nil, false
	}

	var verdict liveness.Verdict
	if err := json.Unmarshal(data, &verdict); err != nil {
		e.logger.Warnf("Discarding malformed cached verdict: %v", err)
		return nil, false
	}
	return &verdict, true
}

func (e *Engine) storeVerdict(ctx context.Context, key string, verdict *liveness.Verdict) {
	data, err := json.Marshal(verdict)
	if err != nil {
		e.logger.Warnf("Failed to encode verdict for cache: %v", err)
		return
	}

	ttl := time.Duration(e.config.Cache.TTL) * time.Second
	if err := e.cache.Set(ctx, key, data, ttl); err != nil {
		e.logger.Warnf("Verdict cache store failed: %v", err)
	}
}

// History returns recent checks, newest first. An empty source lists all.
func (e *Engine) History(source string, limit int) ([]store.Check, error) {
	if e.store == nil {
		return nil, ErrNoStore
	}
	if limit <= 0 {
		limit = e.config.Storage.HistoryLimit
	}
	return e.store.ListChecks(source, limit)
}

// GetCheck returns one stored check
func (e *Engine) GetCheck(id string) (*store.Check, error) {
	if e.store == nil {
		return nil, ErrNoStore
	}
	return e.store.GetCheck(id)
}

// Stats summarises stored checks
func (e *Engine) Stats() (*store.Stats, error) {
	if e.store == nil {
		return nil, ErrNoStore
	}
	return e.store.Stats()
}

// Prune deletes stored checks older than the given age
func (e *Engine) Prune(olderThan time.Duration) (int64, error) {
	if e.store == nil {
		return 0, ErrNoStore
	}
	return e.store.PruneChecks(time.Now().Add(-olderThan))
}
