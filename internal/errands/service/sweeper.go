package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/25x8/campus-errands/internal/errands/models"
)

// LeaderboardSource lists users by points
type LeaderboardSource interface {
	ListUsers(ctx context.Context, limit int) ([]models.User, error)
}

// BadgeSweeper periodically re-evaluates badges for the top of the
// leaderboard, whose rank can change without the user acting.
type BadgeSweeper struct {
	users    LeaderboardSource
	badges   *BadgeEvaluator
	logger   *slog.Logger
	interval time.Duration
	top      int
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// NewBadgeSweeper creates a sweeper over the top users of the leaderboard
func NewBadgeSweeper(users LeaderboardSource, badges *BadgeEvaluator, interval time.Duration, top int, logger *slog.Logger) *BadgeSweeper {
	if logger == nil {
		logger = slog.Default()
	}
	return &BadgeSweeper{
		users:    users,
		badges:   badges,
		logger:   logger,
		interval: interval,
		top:      top,
		stopCh:   make(chan struct{}),
	}
}

// Start starts the sweep loop
func (s *BadgeSweeper) Start() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
}

// Stop stops the sweep loop and waits for it to exit
func (s *BadgeSweeper) Stop() {
	close(s.stopCh)
	s.wg.Wait()
}

func (s *BadgeSweeper) loop() {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), s.interval)
			s.Sweep(ctx)
			cancel()
		case <-s.stopCh:
			return
		}
	}
}

// Sweep refreshes badges for the current top users and returns how many badges it granted
func (s *BadgeSweeper) Sweep(ctx context.Context) int {
	users, err := s.users.ListUsers(ctx, s.top)
	if err != nil {
		s.logger.Error("leaderboard sweep: list users", "error", err)
		return 0
	}

	granted := 0
	for _, u := range users {
		ids, err := s.badges.Refresh(ctx, u.ID)
		if err != nil {
			s.logger.Error("leaderboard sweep: refresh badges", "user_id", u.ID, "error", err)
			continue
		}
		for _, id := range ids {
			s.logger.Info("badge earned", "user_id", u.ID, "badge_id", id)
		}
		granted += len(ids)
	}
	return granted
}
