package gateway

import (
	"context"
	"fmt"
	"time"

	"github.com/adhocore/gronx"
)

// DefaultPruneSchedule prunes expired codes every minute.
const DefaultPruneSchedule = "* * * * *"

// NextPrune returns the first tick of the cron expression strictly after ref.
func NextPrune(cronExpr string, ref time.Time) (time.Time, error) {
	if !gronx.New().IsValid(cronExpr) {
		return time.Time{}, fmt.Errorf("invalid cron expression %q", cronExpr)
	}
	next, err := gronx.NextTickAfter(cronExpr, ref, false)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to compute next tick for %q: %w", cronExpr, err)
	}
	return next, nil
}

// pruneLoop removes expired codes on every tick of the schedule until ctx is
// done.
func (s *Server) pruneLoop(ctx context.Context) {
	defer s.wg.Done()
	for {
		next, err := NextPrune(s.cfg.PruneSchedule, s.now())
		if err != nil {
			s.logger.Error("prune schedule stopped", "cron", s.cfg.PruneSchedule, "error", err)
			return
		}
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		if n := s.store.Prune(s.now()); n > 0 {
			s.logger.Info("pruned expired codes", "count", n, "next_run", next)
		}
	}
}
