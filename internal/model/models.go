package model

import (
	"time"

	"gorm.io/datatypes"
)

type QueueStatus string

const (
	QueueStatusSearching QueueStatus = "searching"
	QueueStatusMatching  QueueStatus = "matching"
	QueueStatusMatched   QueueStatus = "matched"
	QueueStatusCancelled QueueStatus = "cancelled"
)

// Terminal reports whether the status ends a search.
func (s QueueStatus) Terminal() bool {
	return s == QueueStatusMatched || s == QueueStatusCancelled
}

// Preferences are the matching criteria a user submits on join.
type Preferences struct {
	Language  string   `json:"language,omitempty"`
	Interests []string `json:"interests,omitempty"`
}

// QueueEntry is one user's request to be paired with an anonymous partner.
//
// LockedAt and LockToken are set together while Status is matching.
// MatchedWith, RoomID and MatchedAt are set together while Status is matched.
type QueueEntry struct {
	ID            string                          `gorm:"primaryKey;size:36" json:"id"`
	UserID        string                          `gorm:"size:64;not null;uniqueIndex" json:"userId"`
	Preferences   datatypes.JSONType[Preferences] `json:"preferences"`
	Status        QueueStatus                     `gorm:"size:16;not null;index:idx_queue_status_created,priority:1" json:"status"`
	LockedAt      *time.Time                      `gorm:"index" json:"lockedAt,omitempty"`
	LockToken     *string                         `gorm:"size:36" json:"-"`
	MatchedWith   *string                         `gorm:"size:64" json:"matchedWith,omitempty"`
	RoomID        *string                         `gorm:"size:36" json:"roomId,omitempty"`
	MatchedAt     *time.Time                      `gorm:"index" json:"matchedAt,omitempty"`
	LastHeartbeat time.Time                       `gorm:"not null;index" json:"lastHeartbeat"`
	CreatedAt     time.Time                       `gorm:"index:idx_queue_status_created,priority:2" json:"createdAt"`
	UpdatedAt     time.Time                       `json:"updatedAt"`
}

// ChatRoom is the private two-member room created for a matched pair.
// Everything after creation belongs to the chat subsystem.
type ChatRoom struct {
	ID          string         `gorm:"primaryKey;size:36" json:"id"`
	OwnerID     string         `gorm:"size:64;not null;index" json:"ownerId"`
	Members     datatypes.JSON `json:"members"`
	IsPrivate   bool           `gorm:"not null" json:"isPrivate"`
	IsAnonymous bool           `gorm:"not null" json:"isAnonymous"`
	CreatedAt   time.Time      `json:"createdAt"`
}
