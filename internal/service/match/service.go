package match

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"chatmatch-service/internal/model"
	"chatmatch-service/internal/notify"
	"chatmatch-service/internal/repo"
	"chatmatch-service/internal/service/room"
	appErr "chatmatch-service/pkg/errors"
	"chatmatch-service/pkg/logger"

	"go.uber.org/zap"
)

const (
	maxLanguageLen = 16
	maxInterests   = 10
	maxInterestLen = 32
)

type Service struct {
	store    *repo.QueueStore
	rooms    room.Creator
	notifier Notifier
	cfg      Config
	now      func() time.Time
}

type Option func(*Service)

// WithClock replaces the wall clock used for timestamps and cutoffs.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

func NewService(store *repo.QueueStore, rooms room.Creator, notifier Notifier, cfg Config, opts ...Option) *Service {
	s := &Service{
		store:    store,
		rooms:    rooms,
		notifier: notifier,
		cfg:      cfg,
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) Config() Config {
	return s.cfg
}

// Join enqueues the user and makes one immediate match attempt. A failed
// attempt leaves the entry searching for the next matcher run.
func (s *Service) Join(ctx context.Context, req JoinRequest) (*StatusResult, error) {
	if req.UserID == "" {
		return nil, appErr.ErrUnauthorized
	}
	prefs, err := normalizePreferences(req.Preferences)
	if err != nil {
		return nil, err
	}

	entry, err := s.store.Enqueue(ctx, req.UserID, prefs, s.now())
	if err != nil {
		return nil, err
	}
	logger.Log.Info("user joined queue",
		zap.String("userID", req.UserID),
		zap.String("entryID", entry.ID),
	)

	res, err := s.TryMatch(ctx, req.UserID)
	if err != nil {
		if !errors.Is(err, appErr.ErrMatchFailed) {
			return nil, err
		}
		return statusOf(entry), nil
	}
	return res, nil
}

func (s *Service) Cancel(ctx context.Context, userID string) (bool, error) {
	cancelled, err := s.store.Cancel(ctx, userID)
	if err != nil && !cancelled {
		return false, err
	}
	if err != nil {
		logger.Log.Warn("cancelled entry not removed", zap.String("userID", userID), zap.Error(err))
	}
	if cancelled {
		s.notifier.Notify(userID, notify.EventSearchCancelled, struct{}{})
		logger.Log.Info("queue cancelled",
			zap.String("userID", userID),
			zap.String("reason", notify.ReasonUserCancelled),
		)
	}
	return cancelled, nil
}

// Heartbeat records client liveness. It reports whether an entry exists.
func (s *Service) Heartbeat(ctx context.Context, userID string) (bool, error) {
	return s.store.UpdateHeartbeat(ctx, userID, s.now())
}

func (s *Service) Status(ctx context.Context, userID string) (*StatusResult, error) {
	entry, err := s.store.GetByUser(ctx, userID)
	if errors.Is(err, appErr.ErrEntryNotFound) {
		return &StatusResult{Status: StatusNone}, nil
	}
	if err != nil {
		return nil, err
	}
	return statusOf(entry), nil
}

// Acknowledge completes the handoff of a matched entry by deleting it.
func (s *Service) Acknowledge(ctx context.Context, userID string) error {
	n, err := s.store.Delete(ctx, repo.QueueFilter{
		UserID:   userID,
		Statuses: []model.QueueStatus{model.QueueStatusMatched},
	})
	if err != nil {
		return err
	}
	if n == 0 {
		return appErr.ErrNotMatched
	}
	logger.Log.Info("match acknowledged", zap.String("userID", userID))
	return nil
}

// Leave abandons a match before handoff. Both entries are removed and the
// partner is told.
func (s *Service) Leave(ctx context.Context, userID string) error {
	entry, err := s.store.GetByUser(ctx, userID)
	if err != nil {
		return err
	}
	if entry.Status != model.QueueStatusMatched || entry.MatchedWith == nil || entry.RoomID == nil {
		return appErr.ErrNotMatched
	}

	n, err := s.store.Delete(ctx, repo.QueueFilter{
		ID:       entry.ID,
		Statuses: []model.QueueStatus{model.QueueStatusMatched},
		RoomID:   *entry.RoomID,
	})
	if err != nil {
		return err
	}
	if n == 0 {
		return appErr.ErrNotMatched
	}

	partnerID := *entry.MatchedWith
	if _, err := s.store.Delete(ctx, repo.QueueFilter{
		UserID:      partnerID,
		Statuses:    []model.QueueStatus{model.QueueStatusMatched},
		MatchedWith: userID,
	}); err != nil {
		logger.Log.Warn("partner entry not removed",
			zap.String("userID", userID),
			zap.String("partnerID", partnerID),
			zap.Error(err),
		)
	}
	s.notifier.Notify(partnerID, notify.EventPartnerLeft, notify.ReasonPayload{Reason: notify.ReasonUserLeft})
	logger.Log.Info("user left match",
		zap.String("userID", userID),
		zap.String("partnerID", partnerID),
		zap.String("roomID", *entry.RoomID),
	)
	return nil
}

func normalizePreferences(p model.Preferences) (model.Preferences, error) {
	out := model.Preferences{Language: strings.TrimSpace(p.Language)}
	if len(out.Language) > maxLanguageLen {
		return out, fmt.Errorf("%w: language longer than %d", appErr.ErrInvalidPreferences, maxLanguageLen)
	}
	seen := make(map[string]struct{}, len(p.Interests))
	for _, interest := range p.Interests {
		interest = strings.ToLower(strings.TrimSpace(interest))
		if interest == "" {
			continue
		}
		if len(interest) > maxInterestLen {
			return out, fmt.Errorf("%w: interest longer than %d", appErr.ErrInvalidPreferences, maxInterestLen)
		}
		if _, ok := seen[interest]; ok {
			continue
		}
		seen[interest] = struct{}{}
		out.Interests = append(out.Interests, interest)
	}
	if len(out.Interests) > maxInterests {
		return out, fmt.Errorf("%w: more than %d interests", appErr.ErrInvalidPreferences, maxInterests)
	}
	return out, nil
}
