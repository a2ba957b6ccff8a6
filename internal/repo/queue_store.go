package repo

import (
	"context"
	"errors"
	"time"

	"chatmatch-service/internal/model"
	appErr "chatmatch-service/pkg/errors"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var (
	errUnboundedFilter = errors.New("queue filter must select at least one column")
	errEntryGone       = errors.New("entry removed after transition")
)

// QueueStore is the durable table of matching requests. Every status change
// goes through a single conditional UPDATE or DELETE whose WHERE clause
// carries the expected state, so concurrent callers in any process cannot
// both win the same transition.
type QueueStore struct {
	db *gorm.DB
}

func NewQueueStore(db *gorm.DB) *QueueStore {
	return &QueueStore{db: db}
}

// DB returns the handle the store writes through; inside Transaction it is the tx.
func (s *QueueStore) DB() *gorm.DB {
	return s.db
}

// Transaction runs fn against a store bound to one database transaction.
func (s *QueueStore) Transaction(ctx context.Context, fn func(tx *QueueStore) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&QueueStore{db: tx})
	})
}

// QueueFilter is the expected current state of the rows a write may touch.
// Zero-valued fields are ignored.
type QueueFilter struct {
	ID              string
	UserID          string
	ExcludeID       string
	Statuses        []model.QueueStatus
	Unlocked        bool
	LockToken       string
	LockedBefore    time.Time
	HeartbeatBefore time.Time
	CreatedBefore   time.Time
	MatchedWith     string
	MatchedBefore   time.Time
	RoomID          string
}

func (f QueueFilter) empty() bool {
	return f.ID == "" && f.UserID == "" && f.ExcludeID == "" && len(f.Statuses) == 0 &&
		!f.Unlocked && f.LockToken == "" && f.LockedBefore.IsZero() &&
		f.HeartbeatBefore.IsZero() && f.CreatedBefore.IsZero() &&
		f.MatchedWith == "" && f.MatchedBefore.IsZero() && f.RoomID == ""
}

func (f QueueFilter) apply(db *gorm.DB) *gorm.DB {
	if f.ID != "" {
		db = db.Where("id = ?", f.ID)
	}
	if f.UserID != "" {
		db = db.Where("user_id = ?", f.UserID)
	}
	if f.ExcludeID != "" {
		db = db.Where("id <> ?", f.ExcludeID)
	}
	if len(f.Statuses) > 0 {
		statuses := make([]string, 0, len(f.Statuses))
		for _, status := range f.Statuses {
			statuses = append(statuses, string(status))
		}
		db = db.Where("status IN ?", statuses)
	}
	if f.Unlocked {
		db = db.Where("locked_at IS NULL")
	}
	if f.LockToken != "" {
		db = db.Where("lock_token = ?", f.LockToken)
	}
	if !f.LockedBefore.IsZero() {
		db = db.Where("locked_at < ?", f.LockedBefore)
	}
	if !f.HeartbeatBefore.IsZero() {
		db = db.Where("last_heartbeat < ?", f.HeartbeatBefore)
	}
	if !f.CreatedBefore.IsZero() {
		db = db.Where("created_at < ?", f.CreatedBefore)
	}
	if f.MatchedWith != "" {
		db = db.Where("matched_with = ?", f.MatchedWith)
	}
	if !f.MatchedBefore.IsZero() {
		db = db.Where("matched_at < ?", f.MatchedBefore)
	}
	if f.RoomID != "" {
		db = db.Where("room_id = ?", f.RoomID)
	}
	return db
}

// QueueUpdate describes the columns a transition writes.
type QueueUpdate struct {
	Status      model.QueueStatus
	LockedAt    *time.Time
	LockToken   string
	ClearLock   bool
	MatchedWith string
	RoomID      string
	MatchedAt   *time.Time
	ClearMatch  bool
}

func (u QueueUpdate) columns() map[string]interface{} {
	cols := make(map[string]interface{}, 6)
	if u.Status != "" {
		cols["status"] = string(u.Status)
	}
	if u.ClearLock {
		cols["locked_at"] = nil
		cols["lock_token"] = nil
	} else if u.LockedAt != nil {
		cols["locked_at"] = *u.LockedAt
		cols["lock_token"] = u.LockToken
	}
	if u.ClearMatch {
		cols["matched_with"] = nil
		cols["room_id"] = nil
		cols["matched_at"] = nil
	} else if u.MatchedWith != "" {
		cols["matched_with"] = u.MatchedWith
		cols["room_id"] = u.RoomID
		if u.MatchedAt != nil {
			cols["matched_at"] = *u.MatchedAt
		}
	}
	return cols
}

// Enqueue creates a searching entry for userID. At most one entry per user
// exists (unique index); a second join is rejected with ErrAlreadySearching.
func (s *QueueStore) Enqueue(ctx context.Context, userID string, prefs model.Preferences, now time.Time) (*model.QueueEntry, error) {
	db := s.db.WithContext(ctx)

	// leftover of a cancel that never reached its delete
	if err := db.Where("user_id = ? AND status = ?", userID, string(model.QueueStatusCancelled)).
		Delete(&model.QueueEntry{}).Error; err != nil {
		return nil, err
	}

	if _, err := s.GetByUser(ctx, userID); err == nil {
		return nil, appErr.ErrAlreadySearching
	} else if !errors.Is(err, appErr.ErrEntryNotFound) {
		return nil, err
	}

	entry := model.QueueEntry{
		ID:            uuid.NewString(),
		UserID:        userID,
		Preferences:   datatypes.NewJSONType(prefs),
		Status:        model.QueueStatusSearching,
		LastHeartbeat: now,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := db.Create(&entry).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, appErr.ErrAlreadySearching
		}
		return nil, err
	}
	return &entry, nil
}

func (s *QueueStore) GetByUser(ctx context.Context, userID string) (*model.QueueEntry, error) {
	return s.first(ctx, QueueFilter{UserID: userID})
}

func (s *QueueStore) GetByID(ctx context.Context, id string) (*model.QueueEntry, error) {
	return s.first(ctx, QueueFilter{ID: id})
}

func (s *QueueStore) first(ctx context.Context, filter QueueFilter) (*model.QueueEntry, error) {
	var entry model.QueueEntry
	err := filter.apply(s.db.WithContext(ctx)).Take(&entry).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, appErr.ErrEntryNotFound
		}
		return nil, err
	}
	return &entry, nil
}

// Cancel removes the user's unmatched entry. It reports false when there was
// nothing to cancel, which includes entries that already reached matched.
func (s *QueueStore) Cancel(ctx context.Context, userID string) (bool, error) {
	won, err := s.transition(ctx,
		QueueFilter{
			UserID:   userID,
			Statuses: []model.QueueStatus{model.QueueStatusSearching, model.QueueStatusMatching},
		},
		QueueUpdate{Status: model.QueueStatusCancelled, ClearLock: true},
	)
	if err != nil {
		return false, err
	}
	cancelled := QueueFilter{UserID: userID, Statuses: []model.QueueStatus{model.QueueStatusCancelled}}
	if !won {
		_, err = s.Delete(ctx, cancelled)
		return false, err
	}
	if _, err := s.Delete(ctx, cancelled); err != nil {
		// the stale sweep removes cancelled rows left behind here
		return true, err
	}
	return true, nil
}

// UpdateHeartbeat records liveness for the user's entry; absent entries are a no-op.
func (s *QueueStore) UpdateHeartbeat(ctx context.Context, userID string, now time.Time) (bool, error) {
	res := s.db.WithContext(ctx).
		Model(&model.QueueEntry{}).
		Where("user_id = ? AND status <> ?", userID, string(model.QueueStatusCancelled)).
		Update("last_heartbeat", now)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// ConditionalTransition applies update to the single row matching filter in
// one UPDATE statement. Filter must name the row by ID or UserID. When no row
// satisfies the filter the transition lost and ErrEntryNotFound is returned.
func (s *QueueStore) ConditionalTransition(ctx context.Context, filter QueueFilter, update QueueUpdate) (*model.QueueEntry, error) {
	won, err := s.transition(ctx, filter, update)
	if err != nil {
		return nil, err
	}
	if !won {
		return nil, appErr.ErrEntryNotFound
	}

	var entry *model.QueueEntry
	if filter.ID != "" {
		entry, err = s.GetByID(ctx, filter.ID)
	} else {
		entry, err = s.GetByUser(ctx, filter.UserID)
	}
	if errors.Is(err, appErr.ErrEntryNotFound) {
		// the write took effect; a later delete is not a lost transition
		return nil, errEntryGone
	}
	return entry, err
}

// transition reports whether the conditional UPDATE changed a row. The
// outcome is decided by the write alone.
func (s *QueueStore) transition(ctx context.Context, filter QueueFilter, update QueueUpdate) (bool, error) {
	if filter.ID == "" && filter.UserID == "" {
		return false, errUnboundedFilter
	}
	res := filter.apply(s.db.WithContext(ctx).Model(&model.QueueEntry{})).Updates(update.columns())
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// TransitionAll applies update to every row matching filter and returns the count.
func (s *QueueStore) TransitionAll(ctx context.Context, filter QueueFilter, update QueueUpdate) (int64, error) {
	if filter.empty() {
		return 0, errUnboundedFilter
	}
	res := filter.apply(s.db.WithContext(ctx).Model(&model.QueueEntry{})).Updates(update.columns())
	return res.RowsAffected, res.Error
}

// Delete removes the rows matching filter and returns how many were removed.
func (s *QueueStore) Delete(ctx context.Context, filter QueueFilter) (int64, error) {
	if filter.empty() {
		return 0, errUnboundedFilter
	}
	res := filter.apply(s.db.WithContext(ctx)).Delete(&model.QueueEntry{})
	return res.RowsAffected, res.Error
}

// Find lists rows matching filter, oldest first. Reads never authorize a
// write on their own; callers repeat the condition in the write.
func (s *QueueStore) Find(ctx context.Context, filter QueueFilter, limit int) ([]model.QueueEntry, error) {
	var entries []model.QueueEntry
	db := filter.apply(s.db.WithContext(ctx)).Order("created_at ASC").Order("id ASC")
	if limit > 0 {
		db = db.Limit(limit)
	}
	if err := db.Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}

// ClaimOldest locks the oldest unlocked searching entry other than excludeID
// by moving it to matching with the given lock token. A candidate taken by a
// concurrent claimer makes the conditional write miss, and the next oldest
// candidate is tried, up to attempts times.
func (s *QueueStore) ClaimOldest(ctx context.Context, excludeID, token string, now time.Time, attempts int) (*model.QueueEntry, error) {
	if attempts <= 0 {
		attempts = 1
	}
	eligible := QueueFilter{
		ExcludeID: excludeID,
		Statuses:  []model.QueueStatus{model.QueueStatusSearching},
		Unlocked:  true,
	}
	for attempt := 0; attempt < attempts; attempt++ {
		candidates, err := s.Find(ctx, eligible, 1)
		if err != nil {
			return nil, err
		}
		if len(candidates) == 0 {
			return nil, appErr.ErrEntryNotFound
		}

		lockedAt := now
		claimed, err := s.ConditionalTransition(ctx,
			QueueFilter{
				ID:       candidates[0].ID,
				Statuses: []model.QueueStatus{model.QueueStatusSearching},
				Unlocked: true,
			},
			QueueUpdate{Status: model.QueueStatusMatching, LockedAt: &lockedAt, LockToken: token},
		)
		if err == nil {
			return claimed, nil
		}
		if !errors.Is(err, appErr.ErrEntryNotFound) {
			return nil, err
		}
	}
	return nil, appErr.ErrEntryNotFound
}

// ReleaseStaleLocks returns matching entries locked before cutoff to searching.
func (s *QueueStore) ReleaseStaleLocks(ctx context.Context, cutoff time.Time) (int64, error) {
	return s.TransitionAll(ctx,
		QueueFilter{
			Statuses:     []model.QueueStatus{model.QueueStatusMatching},
			LockedBefore: cutoff,
		},
		QueueUpdate{Status: model.QueueStatusSearching, ClearLock: true},
	)
}
