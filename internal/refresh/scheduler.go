package refresh

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/unbrowse-ai/unbrowse-core/internal/models"
)

// Executor performs the HTTP call described by a RefreshConfig and returns
// the freshly observed token info.
type Executor interface {
	Execute(ctx context.Context, cfg *models.RefreshConfig) (*models.TokenInfo, error)
}

// Store persists refresh configs across scheduler runs and carries updated
// tokens back to the skill/credential layers.
type Store interface {
	ListConfigs() map[string]*models.RefreshConfig
	SaveConfig(skillID string, cfg *models.RefreshConfig)
}

const maxFailureStreak = 3

// Scheduler runs needsRefresh against every stored RefreshConfig every
// 60 seconds, per spec.md §4.5, using robfig/cron/v3 the way the teacher's
// go.mod already depends on it for periodic maintenance work.
type Scheduler struct {
	mu       sync.Mutex
	cron     *cron.Cron
	store    Store
	executor Executor
	logger   *slog.Logger
	entryID  cron.EntryID
}

// NewScheduler returns a scheduler that has not yet started.
func NewScheduler(store Store, executor Executor, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		cron:     cron.New(),
		store:    store,
		executor: executor,
		logger:   logger,
	}
}

// Start registers the every-60-seconds job and begins running it.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, err := s.cron.AddFunc("@every 60s", func() { s.runOnce(ctx) })
	if err != nil {
		return fmt.Errorf("schedule refresh sweep: %w", err)
	}
	s.entryID = id
	s.cron.Start()
	return nil
}

// Stop halts the scheduler, waiting for any in-flight run to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	<-s.cron.Stop().Done()
}

func (s *Scheduler) runOnce(ctx context.Context) {
	for skillID, cfg := range s.store.ListConfigs() {
		if !NeedsRefresh(cfg, 5) {
			continue
		}
		info, err := s.executor.Execute(ctx, cfg)
		if err != nil {
			cfg.FailureStreak++
			if cfg.FailureStreak >= maxFailureStreak {
				cfg.Degraded = true
				s.logger.Warn("refresh config degraded after repeated failures",
					"skill_id", skillID, "failures", cfg.FailureStreak, "err", err)
			}
			s.store.SaveConfig(skillID, cfg)
			continue
		}
		cfg.FailureStreak = 0
		cfg.Degraded = false
		applyTokenInfo(cfg, info)
		s.store.SaveConfig(skillID, cfg)
	}
}

func applyTokenInfo(cfg *models.RefreshConfig, info *models.TokenInfo) {
	if info == nil {
		return
	}
	if info.RefreshToken != "" {
		cfg.RefreshToken = info.RefreshToken
	}
	if info.ExpiresIn > 0 {
		cfg.ExpiresInSeconds = info.ExpiresIn
		expiresAt := time.Now().Add(time.Duration(info.ExpiresIn) * time.Second)
		cfg.ExpiresAt = &expiresAt
	}
}
