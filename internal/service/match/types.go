package match

import (
	"time"

	"chatmatch-service/internal/config"
	"chatmatch-service/internal/model"
)

type Config struct {
	StaleLockTimeout       time.Duration
	LockBackstop           time.Duration
	HeartbeatTimeout       time.Duration
	HeartbeatSweepInterval time.Duration
	StaleSweepInterval     time.Duration
	MatchSweepInterval     time.Duration
	MaxSearchAge           time.Duration
	HandoffTimeout         time.Duration
	ClaimAttempts          int
	SweepBatchSize         int
	Transactional          bool
}

func defaultConfig() Config {
	return Config{
		StaleLockTimeout:       5 * time.Second,
		LockBackstop:           10 * time.Second,
		HeartbeatTimeout:       30 * time.Second,
		HeartbeatSweepInterval: 10 * time.Second,
		StaleSweepInterval:     60 * time.Second,
		MatchSweepInterval:     5 * time.Second,
		MaxSearchAge:           10 * time.Minute,
		HandoffTimeout:         2 * time.Minute,
		ClaimAttempts:          3,
		SweepBatchSize:         500,
		Transactional:          true,
	}
}

// ConfigFrom converts the loaded match section, keeping defaults for unset
// thresholds. Sweep intervals are copied as is so 0 can disable a loop.
func ConfigFrom(c config.MatchConfig) Config {
	cfg := defaultConfig()
	if c.StaleLockTimeout > 0 {
		cfg.StaleLockTimeout = c.StaleLockTimeout
	}
	if c.LockBackstop > 0 {
		cfg.LockBackstop = c.LockBackstop
	}
	if c.HeartbeatTimeout > 0 {
		cfg.HeartbeatTimeout = c.HeartbeatTimeout
	}
	if c.MaxSearchAge > 0 {
		cfg.MaxSearchAge = c.MaxSearchAge
	}
	if c.HandoffTimeout > 0 {
		cfg.HandoffTimeout = c.HandoffTimeout
	}
	if c.ClaimAttempts > 0 {
		cfg.ClaimAttempts = c.ClaimAttempts
	}
	if c.SweepBatchSize > 0 {
		cfg.SweepBatchSize = c.SweepBatchSize
	}
	cfg.HeartbeatSweepInterval = c.HeartbeatSweepInterval
	cfg.StaleSweepInterval = c.StaleSweepInterval
	cfg.MatchSweepInterval = c.MatchSweepInterval
	cfg.Transactional = c.Transactional
	return cfg
}

// Notifier is the fire-and-forget outlet for match outcomes.
type Notifier interface {
	Notify(userID, event string, payload any)
}

type JoinRequest struct {
	UserID      string
	Preferences model.Preferences
}

type Status string

const (
	StatusNone      Status = "none"
	StatusSearching Status = Status(model.QueueStatusSearching)
	StatusMatching  Status = Status(model.QueueStatusMatching)
	StatusMatched   Status = Status(model.QueueStatusMatched)
)

type StatusResult struct {
	Status    Status     `json:"status"`
	EntryID   string     `json:"entryId,omitempty"`
	RoomID    string     `json:"roomId,omitempty"`
	PartnerID string     `json:"partnerId,omitempty"`
	JoinedAt  *time.Time `json:"joinedAt,omitempty"`
}

func statusOf(entry *model.QueueEntry) *StatusResult {
	if entry == nil || entry.Status == model.QueueStatusCancelled {
		return &StatusResult{Status: StatusNone}
	}
	joinedAt := entry.CreatedAt
	res := &StatusResult{
		Status:   Status(entry.Status),
		EntryID:  entry.ID,
		JoinedAt: &joinedAt,
	}
	if entry.RoomID != nil {
		res.RoomID = *entry.RoomID
	}
	if entry.MatchedWith != nil {
		res.PartnerID = *entry.MatchedWith
	}
	return res
}
