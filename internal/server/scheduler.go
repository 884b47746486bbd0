package server

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gorhill/cronexpr"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const refreshLockKey = "research:kb:refresh:lock"

// Scheduler re-ingests a sources directory on a cron schedule. With Redis
// configured a short lock keeps replicas from refreshing at the same time.
type Scheduler struct {
	expr   *cronexpr.Expression
	dir    string
	kb     KnowledgeBase
	rdb    *redis.Client
	logger *zap.Logger
	now    func() time.Time

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewScheduler parses spec, a five or six field cron expression or a macro
// such as @hourly.
func NewScheduler(spec, dir string, kb KnowledgeBase, rdb *redis.Client, logger *zap.Logger) (*Scheduler, error) {
	expr, err := cronexpr.Parse(spec)
	if err != nil {
		return nil, fmt.Errorf("knowledge.refresh_cron: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{expr: expr, dir: dir, kb: kb, rdb: rdb, logger: logger.Named("scheduler"), now: time.Now}, nil
}

// Next returns the first refresh time after t, or the zero time when the
// expression never fires again.
func (s *Scheduler) Next(t time.Time) time.Time { return s.expr.Next(t) }

func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			next := s.Next(s.now())
			if next.IsZero() {
				s.logger.Warn("refresh schedule has no future runs")
				return
			}
			timer := time.NewTimer(time.Until(next))
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
				s.tick(ctx)
			}
		}
	}()
	s.logger.Info("knowledge refresh scheduled", zap.String("dir", s.dir), zap.Time("next", s.Next(s.now())))
}

// Stop ends the loop and waits for an in-flight refresh.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

func (s *Scheduler) tick(ctx context.Context) {
	if s.rdb != nil {
		ok, err := s.rdb.SetNX(ctx, refreshLockKey, "1", 2*time.Minute).Result()
		if err != nil {
			s.logger.Warn("refresh lock failed", zap.Error(err))
			return
		}
		if !ok {
			s.logger.Debug("refresh already running elsewhere")
			return
		}
		defer s.rdb.Del(context.WithoutCancel(ctx), refreshLockKey)
	}
	start := s.now()
	rep, err := s.kb.IngestPath(ctx, s.dir)
	if err != nil {
		s.logger.Warn("knowledge refresh failed", zap.String("dir", s.dir), zap.Error(err))
		return
	}
	s.logger.Info("knowledge refreshed",
		zap.Int("documents", rep.Documents),
		zap.Int("chunks", rep.Ingested),
		zap.Int("duplicates", rep.Duplicates),
		zap.Duration("took", s.now().Sub(start)))
}
