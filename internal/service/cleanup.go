package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/LearnWiseAI/moodle-local-learnwise/internal/config"
	"github.com/LearnWiseAI/moodle-local-learnwise/internal/repository"
)

// Locker elects a sweep leader so multiple replicas do not purge in
// parallel. Implementations with a nil receiver must behave as an
// always-granted lock.
type Locker interface {
	TryLock(ctx context.Context, ttl time.Duration) (bool, error)
	Unlock(ctx context.Context) error
}

// Sweeper periodically removes expired codes and tokens. Grants are left
// untouched so a returning user keeps their consent.
type Sweeper struct {
	store  repository.Store
	lock   Locker
	cfg    config.Config
	logger *zap.Logger
	now    func() time.Time
}

// NewSweeper wires dependencies. lock may be a nil-backed no-op when the
// deployment runs a single replica.
func NewSweeper(store repository.Store, lock Locker, cfg config.Config, logger *zap.Logger) *Sweeper {
	return &Sweeper{
		store:  store,
		lock:   lock,
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
	}
}

// Run sweeps on the configured interval until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	interval := s.cfg.CleanupInterval
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.RunOnce(ctx); err != nil {
				s.log().Warn("cleanup sweep failed", zap.Error(err))
			}
		}
	}
}

// RunOnce performs a single sweep if this replica wins the leader lock.
func (s *Sweeper) RunOnce(ctx context.Context) (int64, error) {
	if s.lock != nil {
		acquired, err := s.lock.TryLock(ctx, s.cfg.CleanupInterval)
		if err != nil {
			return 0, err
		}
		if !acquired {
			return 0, nil
		}
		defer func() {
			if err := s.lock.Unlock(ctx); err != nil {
				s.log().Warn("cleanup unlock failed", zap.Error(err))
			}
		}()
	}

	purged, err := s.store.PurgeExpired(ctx, s.now())
	if err != nil {
		return 0, err
	}
	if purged > 0 {
		s.log().Info("cleanup sweep", zap.Int64("purged", purged))
	}
	return purged, nil
}

func (s *Sweeper) log() *zap.Logger {
	if s != nil && s.logger != nil {
		return s.logger
	}
	return zap.L()
}
