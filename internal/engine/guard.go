package engine

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// ErrSourceLocked is returned while a source is locked out after repeated spoofs
var ErrSourceLocked = errors.New("source locked")

// spoofTracker tracks consecutive spoof verdicts of one source
type spoofTracker struct {
	Count       int
	LastAttempt time.Time
	LockedUntil time.Time
}

// Guard locks out sources (kiosk IDs or client addresses) that keep
// presenting spoofs
type Guard struct {
	maxAttempts int
	lockout     time.Duration
	logger      *logrus.Logger
	trackers    map[string]*spoofTracker
	now         func() time.Time
	mu          sync.RWMutex
}

// NewGuard creates a guard. maxAttempts of zero disables lockouts.
func NewGuard(maxAttempts int, lockout time.Duration, logger *logrus.Logger) *Guard {
	if lockout == 0 {
		lockout = 5 * time.Minute // Default 5 minutes
	}
	return &Guard{
		maxAttempts: maxAttempts,
		lockout:     lockout,
		logger:      logger,
		trackers:    make(map[string]*spoofTracker),
		now:         time.Now,
	}
}

// CheckLockout checks if a source is currently locked out
func (g *Guard) CheckLockout(source string) error {
	g.mu.RLock()
	defer g.mu.RUnlock()

	tracker, exists := g.trackers[source]
	if !exists {
		return nil
	}

	now := g.now()
	if now.Before(tracker.LockedUntil) {
		remaining := tracker.LockedUntil.Sub(now)
		return fmt.Errorf("%w for %v after %d spoof attempts", ErrSourceLocked, remaining.Round(time.Second), tracker.Count)
	}

	return nil
}

// RecordSpoof records a spoof verdict for a source
func (g *Guard) RecordSpoof(source string) {
	if g.maxAttempts <= 0 {
		return
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	tracker, exists := g.trackers[source]
	if !exists {
		tracker = &spoofTracker{}
		g.trackers[source] = tracker
	}

	now := g.now()

	// A lockout that ran out starts a fresh count
	if !tracker.LockedUntil.IsZero() && !now.Before(tracker.LockedUntil) {
		tracker.Count = 0
		tracker.LockedUntil = time.Time{}
	}

	tracker.Count++
	tracker.LastAttempt = now

	if tracker.Count >= g.maxAttempts {
		tracker.LockedUntil = now.Add(g.lockout)
		g.logger.Warnf("Source %s locked out for %v after %d spoof attempts",
			source, g.lockout, tracker.Count)
	}
}

// RecordLive clears the spoof count of a source
func (g *Guard) RecordLive(source string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	delete(g.trackers, source)
}

// ClearLockout clears lockout for a source (admin function)
func (g *Guard) ClearLockout(source string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	delete(g.trackers, source)
	g.logger.Infof("Lockout cleared for source %s", source)
}

// CleanupExpiredLockouts removes old entries (should be called periodically)
func (g *Guard) CleanupExpiredLockouts() int {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	removed := 0
	for source, tracker := range g.trackers {
		// Remove if lockout expired and no recent attempts
		if now.After(tracker.LockedUntil) && now.Sub(tracker.LastAttempt) > 1*time.Hour {
			delete(g.trackers, source)
			removed++
		}
	}
	return removed
}
