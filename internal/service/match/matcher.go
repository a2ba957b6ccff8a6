package match

import (
	"context"
	"errors"
	"fmt"
	"time"

	"chatmatch-service/internal/model"
	"chatmatch-service/internal/notify"
	"chatmatch-service/internal/repo"
	"chatmatch-service/internal/service/room"
	appErr "chatmatch-service/pkg/errors"
	"chatmatch-service/pkg/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	errNoCandidate   = errors.New("no candidate available")
	errInitiatorBusy = errors.New("initiator entry changed during pairing")
	errClaimLost     = errors.New("candidate lock lost during pairing")
)

type pairing struct {
	self     *model.QueueEntry
	partner  *model.QueueEntry
	roomID   string
	roomInTx bool
}

// TryMatch pairs the user's searching entry with the oldest other searching
// entry. Losing a race to another matcher is not an error: the result then
// carries whatever state the entry ended up in. A failure after a candidate
// was claimed undoes the claim and returns ErrMatchFailed.
func (s *Service) TryMatch(ctx context.Context, userID string) (*StatusResult, error) {
	res, err := s.tryMatch(ctx, userID)
	if errors.Is(err, errNoCandidate) {
		return res, nil
	}
	return res, err
}

// tryMatch reports errNoCandidate alongside the unchanged status when the
// queue holds nobody to pair with.
func (s *Service) tryMatch(ctx context.Context, userID string) (*StatusResult, error) {
	now := s.now()
	if released, err := s.store.ReleaseStaleLocks(ctx, now.Add(-s.cfg.StaleLockTimeout)); err != nil {
		logger.Log.Warn("stale lock release failed", zap.Error(err))
	} else if released > 0 {
		logger.Log.Info("stale locks released", zap.Int64("count", released))
	}

	self, err := s.store.GetByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if self.Status != model.QueueStatusSearching || self.LockedAt != nil {
		return statusOf(self), nil
	}

	p := &pairing{self: self}
	token := uuid.NewString()
	if s.cfg.Transactional {
		err = s.store.Transaction(ctx, func(tx *repo.QueueStore) error {
			rooms, inTx := s.roomsFor(tx)
			p.roomInTx = inTx
			return s.pair(ctx, tx, rooms, p, token, now)
		})
		if err != nil && p.roomID != "" && !p.roomInTx {
			s.discardRoom(ctx, p.roomID)
		}
	} else {
		err = s.pair(ctx, s.store, s.rooms, p, token, now)
		if err != nil && !errors.Is(err, errNoCandidate) {
			s.compensate(ctx, p, token)
		}
	}

	switch {
	case err == nil:
		s.announce(p)
		joinedAt := self.CreatedAt
		return &StatusResult{
			Status:    StatusMatched,
			EntryID:   self.ID,
			RoomID:    p.roomID,
			PartnerID: p.partner.UserID,
			JoinedAt:  &joinedAt,
		}, nil
	case errors.Is(err, errNoCandidate):
		return statusOf(self), errNoCandidate
	}

	current, getErr := s.store.GetByUser(ctx, userID)
	if getErr != nil && !errors.Is(getErr, appErr.ErrEntryNotFound) {
		return nil, getErr
	}
	if errors.Is(err, errInitiatorBusy) || errors.Is(err, errClaimLost) {
		logger.Log.Info("match attempt lost race",
			zap.String("userID", userID),
			zap.String("reason", err.Error()),
		)
		return statusOf(current), nil
	}
	// a concurrent matcher may have paired us while this attempt failed
	if current != nil && current.Status == model.QueueStatusMatched {
		return statusOf(current), nil
	}

	logger.Log.Warn("match attempt failed",
		zap.String("userID", userID),
		zap.Error(err),
	)
	return nil, fmt.Errorf("%w: %v", appErr.ErrMatchFailed, err)
}

// pair claims a candidate, creates the room, then finalizes the initiator
// before the candidate. Each step is a conditional write on the expected state.
func (s *Service) pair(ctx context.Context, store *repo.QueueStore, rooms room.Creator, p *pairing, token string, now time.Time) error {
	partner, err := store.ClaimOldest(ctx, p.self.ID, token, now, s.cfg.ClaimAttempts)
	if errors.Is(err, appErr.ErrEntryNotFound) {
		return errNoCandidate
	}
	if err != nil {
		return fmt.Errorf("claim candidate: %w", err)
	}
	p.partner = partner

	roomID, err := rooms.CreateEphemeralRoom(ctx, p.self.UserID, partner.UserID, p.self.UserID)
	if err != nil {
		return fmt.Errorf("create room: %w", err)
	}
	p.roomID = roomID

	_, err = store.ConditionalTransition(ctx,
		repo.QueueFilter{
			ID:       p.self.ID,
			Statuses: []model.QueueStatus{model.QueueStatusSearching},
			Unlocked: true,
		},
		repo.QueueUpdate{Status: model.QueueStatusMatched, MatchedWith: partner.UserID, RoomID: roomID, MatchedAt: &now},
	)
	if errors.Is(err, appErr.ErrEntryNotFound) {
		return errInitiatorBusy
	}
	if err != nil {
		return fmt.Errorf("finalize initiator: %w", err)
	}

	_, err = store.ConditionalTransition(ctx,
		repo.QueueFilter{
			ID:        partner.ID,
			Statuses:  []model.QueueStatus{model.QueueStatusMatching},
			LockToken: token,
		},
		repo.QueueUpdate{
			Status:      model.QueueStatusMatched,
			ClearLock:   true,
			MatchedWith: p.self.UserID,
			RoomID:      roomID,
			MatchedAt:   &now,
		},
	)
	if errors.Is(err, appErr.ErrEntryNotFound) {
		return errClaimLost
	}
	if err != nil {
		return fmt.Errorf("finalize candidate: %w", err)
	}
	return nil
}

// compensate undoes a partial pairing written outside a transaction. Every
// step is conditioned on this attempt's room or lock token, so it never
// touches state a newer attempt wrote.
func (s *Service) compensate(ctx context.Context, p *pairing, token string) {
	ctx = context.WithoutCancel(ctx)

	if p.roomID != "" {
		for _, entry := range []*model.QueueEntry{p.self, p.partner} {
			if entry == nil {
				continue
			}
			_, err := s.store.ConditionalTransition(ctx,
				repo.QueueFilter{
					ID:       entry.ID,
					Statuses: []model.QueueStatus{model.QueueStatusMatched},
					RoomID:   p.roomID,
				},
				repo.QueueUpdate{Status: model.QueueStatusSearching, ClearMatch: true},
			)
			if err != nil && !errors.Is(err, appErr.ErrEntryNotFound) {
				logger.Log.Warn("revert matched entry failed",
					zap.String("entryID", entry.ID),
					zap.Error(err),
				)
			}
		}
	}

	if p.partner != nil {
		_, err := s.store.ConditionalTransition(ctx,
			repo.QueueFilter{
				ID:        p.partner.ID,
				Statuses:  []model.QueueStatus{model.QueueStatusMatching},
				LockToken: token,
			},
			repo.QueueUpdate{Status: model.QueueStatusSearching, ClearLock: true},
		)
		switch {
		case err == nil:
			logger.Log.Info("candidate lock released", zap.String("entryID", p.partner.ID))
		case !errors.Is(err, appErr.ErrEntryNotFound):
			// the stale lock sweep frees it after StaleLockTimeout
			logger.Log.Warn("candidate lock release failed",
				zap.String("entryID", p.partner.ID),
				zap.Error(err),
			)
		}
	}

	if p.roomID != "" {
		s.discardRoom(ctx, p.roomID)
	}
}

func (s *Service) roomsFor(tx *repo.QueueStore) (room.Creator, bool) {
	if txc, ok := s.rooms.(room.TxCreator); ok {
		return txc.WithTx(tx.DB()), true
	}
	return s.rooms, false
}

func (s *Service) discardRoom(ctx context.Context, roomID string) {
	d, ok := s.rooms.(room.Discarder)
	if !ok {
		return
	}
	if err := d.DiscardRoom(context.WithoutCancel(ctx), roomID); err != nil {
		logger.Log.Warn("discard room failed", zap.String("roomID", roomID), zap.Error(err))
	}
}

func (s *Service) announce(p *pairing) {
	s.notifier.Notify(p.self.UserID, notify.EventMatchFound, notify.MatchFoundPayload{
		RoomID:    p.roomID,
		PartnerID: p.partner.UserID,
	})
	s.notifier.Notify(p.partner.UserID, notify.EventMatchFound, notify.MatchFoundPayload{
		RoomID:    p.roomID,
		PartnerID: p.self.UserID,
	})
	logger.Log.Info("users matched",
		zap.String("userID", p.self.UserID),
		zap.String("partnerID", p.partner.UserID),
		zap.String("roomID", p.roomID),
	)
}
