package match

import (
	"context"
	"errors"
	"fmt"
	"time"

	"chatmatch-service/internal/model"
	"chatmatch-service/internal/notify"
	"chatmatch-service/internal/repo"
	appErr "chatmatch-service/pkg/errors"
	"chatmatch-service/pkg/logger"

	"go.uber.org/zap"
)

// SweepHeartbeats handles entries whose client went silent longer than
// HeartbeatTimeout. Each entry is resolved by a conditional write that
// repeats the silence condition, and only the caller whose write took effect
// notifies, so concurrent sweeps publish each event once.
func (s *Service) SweepHeartbeats(ctx context.Context) error {
	cutoff := s.now().Add(-s.cfg.HeartbeatTimeout)
	entries, err := s.store.Find(ctx, repo.QueueFilter{HeartbeatBefore: cutoff}, s.cfg.SweepBatchSize)
	if err != nil {
		return fmt.Errorf("list silent entries: %w", err)
	}

	for i := range entries {
		entry := &entries[i]
		if err := s.expireSilent(ctx, entry, cutoff); err != nil {
			logger.Log.Warn("heartbeat sweep entry failed",
				zap.String("entryID", entry.ID),
				zap.String("userID", entry.UserID),
				zap.String("status", string(entry.Status)),
				zap.Error(err),
			)
		}
	}
	return nil
}

func (s *Service) expireSilent(ctx context.Context, entry *model.QueueEntry, cutoff time.Time) error {
	filter := repo.QueueFilter{
		ID:              entry.ID,
		Statuses:        []model.QueueStatus{entry.Status},
		HeartbeatBefore: cutoff,
	}

	switch entry.Status {
	case model.QueueStatusSearching:
		n, err := s.store.Delete(ctx, filter)
		if err != nil || n == 0 {
			return err
		}
		s.notifier.Notify(entry.UserID, notify.EventSearchTimeout, notify.ReasonPayload{Reason: notify.ReasonHeartbeatLost})
		logger.Log.Info("silent search evicted", zap.String("userID", entry.UserID))

	case model.QueueStatusMatching:
		_, err := s.store.ConditionalTransition(ctx, filter,
			repo.QueueUpdate{Status: model.QueueStatusSearching, ClearLock: true})
		if errors.Is(err, appErr.ErrEntryNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		s.notifier.Notify(entry.UserID, notify.EventMatchTimeout, notify.ReasonPayload{Reason: notify.ReasonHeartbeatLost})
		logger.Log.Info("silent match lock released", zap.String("userID", entry.UserID))

	case model.QueueStatusMatched:
		n, err := s.store.Delete(ctx, filter)
		if err != nil || n == 0 || entry.MatchedWith == nil {
			return err
		}
		partnerID := *entry.MatchedWith
		removed, err := s.store.Delete(ctx, repo.QueueFilter{
			UserID:      partnerID,
			Statuses:    []model.QueueStatus{model.QueueStatusMatched},
			MatchedWith: entry.UserID,
		})
		if err != nil {
			logger.Log.Warn("partner entry not removed",
				zap.String("userID", entry.UserID),
				zap.String("partnerID", partnerID),
				zap.Error(err),
			)
		}
		s.notifier.Notify(partnerID, notify.EventPartnerLeft, notify.ReasonPayload{Reason: notify.ReasonPeerHeartbeatLost})
		logger.Log.Info("silent match dissolved",
			zap.String("userID", entry.UserID),
			zap.String("partnerID", partnerID),
			zap.Int64("partnerRemoved", removed),
		)

	case model.QueueStatusCancelled:
		_, err := s.store.Delete(ctx, filter)
		return err
	}
	return nil
}

// SweepStale is the coarse backstop. It evicts searches older than
// MaxSearchAge and matches left unacknowledged past HandoffTimeout, then
// drops cancelled leftovers and frees locks held past LockBackstop.
// Failures of one step do not stop the others.
func (s *Service) SweepStale(ctx context.Context) error {
	now := s.now()
	var errs []error

	expired, err := s.evictExpired(ctx, now.Add(-s.cfg.MaxSearchAge))
	if err != nil {
		errs = append(errs, fmt.Errorf("evict expired searches: %w", err))
	}

	abandoned, err := s.evictUnacknowledged(ctx, now.Add(-s.cfg.HandoffTimeout))
	if err != nil {
		errs = append(errs, fmt.Errorf("evict unacknowledged matches: %w", err))
	}

	dropped, err := s.store.Delete(ctx, repo.QueueFilter{
		Statuses: []model.QueueStatus{model.QueueStatusCancelled},
	})
	if err != nil {
		errs = append(errs, fmt.Errorf("drop cancelled entries: %w", err))
	}

	released, err := s.store.ReleaseStaleLocks(ctx, now.Add(-s.cfg.LockBackstop))
	if err != nil {
		errs = append(errs, fmt.Errorf("release stale locks: %w", err))
	}

	if expired+abandoned+dropped+released > 0 {
		logger.Log.Info("stale queue sweep",
			zap.Int64("expired", expired),
			zap.Int64("abandoned", abandoned),
			zap.Int64("cancelled", dropped),
			zap.Int64("released", released),
		)
	}
	return errors.Join(errs...)
}

func (s *Service) evictExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	entries, err := s.store.Find(ctx, repo.QueueFilter{
		Statuses:      []model.QueueStatus{model.QueueStatusSearching},
		CreatedBefore: cutoff,
	}, s.cfg.SweepBatchSize)
	if err != nil {
		return 0, err
	}

	var evicted int64
	for _, entry := range entries {
		n, err := s.store.Delete(ctx, repo.QueueFilter{
			ID:            entry.ID,
			Statuses:      []model.QueueStatus{model.QueueStatusSearching},
			CreatedBefore: cutoff,
		})
		if err != nil {
			logger.Log.Warn("evict expired search failed",
				zap.String("userID", entry.UserID),
				zap.Error(err),
			)
			continue
		}
		if n == 0 {
			continue
		}
		evicted++
		s.notifier.Notify(entry.UserID, notify.EventSearchTimeout, notify.ReasonPayload{Reason: notify.ReasonMaxWaitExceeded})
	}
	return evicted, nil
}

// evictUnacknowledged removes matched entries whose owner never took the
// handoff. Each row is deleted on its own condition, so each user is told once.
func (s *Service) evictUnacknowledged(ctx context.Context, cutoff time.Time) (int64, error) {
	entries, err := s.store.Find(ctx, repo.QueueFilter{
		Statuses:      []model.QueueStatus{model.QueueStatusMatched},
		MatchedBefore: cutoff,
	}, s.cfg.SweepBatchSize)
	if err != nil {
		return 0, err
	}

	var evicted int64
	for _, entry := range entries {
		n, err := s.store.Delete(ctx, repo.QueueFilter{
			ID:            entry.ID,
			Statuses:      []model.QueueStatus{model.QueueStatusMatched},
			MatchedBefore: cutoff,
		})
		if err != nil {
			logger.Log.Warn("evict unacknowledged match failed",
				zap.String("userID", entry.UserID),
				zap.Error(err),
			)
			continue
		}
		if n == 0 {
			continue
		}
		evicted++
		s.notifier.Notify(entry.UserID, notify.EventMatchTimeout, notify.ReasonPayload{Reason: notify.ReasonHandoffExpired})
	}
	return evicted, nil
}

// SweepMatches runs the matcher for waiting entries, oldest first, and stops
// at the first entry that finds no candidate at all. A lost race moves on to
// the next entry.
func (s *Service) SweepMatches(ctx context.Context) error {
	entries, err := s.store.Find(ctx, repo.QueueFilter{
		Statuses: []model.QueueStatus{model.QueueStatusSearching},
		Unlocked: true,
	}, s.cfg.SweepBatchSize)
	if err != nil {
		return fmt.Errorf("list searching entries: %w", err)
	}
	if len(entries) < 2 {
		return nil
	}

	paired := make(map[string]struct{})
	for _, entry := range entries {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if _, ok := paired[entry.UserID]; ok {
			continue
		}
		res, err := s.tryMatch(ctx, entry.UserID)
		if errors.Is(err, errNoCandidate) {
			return nil
		}
		if err != nil {
			if !errors.Is(err, appErr.ErrEntryNotFound) {
				logger.Log.Warn("match sweep attempt failed",
					zap.String("userID", entry.UserID),
					zap.Error(err),
				)
			}
			continue
		}
		if res.Status == StatusMatched {
			paired[entry.UserID] = struct{}{}
			paired[res.PartnerID] = struct{}{}
		}
	}
	return nil
}
