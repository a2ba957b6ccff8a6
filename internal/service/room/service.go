package room

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"chatmatch-service/internal/model"
	appErr "chatmatch-service/pkg/errors"
	"chatmatch-service/pkg/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Creator creates the private room a matched pair moves into.
type Creator interface {
	CreateEphemeralRoom(ctx context.Context, memberA, memberB, ownerID string) (string, error)
}

// TxCreator is a Creator that can write inside a caller's transaction.
type TxCreator interface {
	Creator
	WithTx(tx *gorm.DB) Creator
}

// Discarder removes a room created for a pairing that did not complete.
type Discarder interface {
	DiscardRoom(ctx context.Context, roomID string) error
}

type Service struct {
	db  *gorm.DB
	now func() time.Time
}

func NewService(db *gorm.DB) *Service {
	return &Service{
		db:  db,
		now: func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) WithTx(tx *gorm.DB) Creator {
	return &Service{db: tx, now: s.now}
}

func (s *Service) CreateEphemeralRoom(ctx context.Context, memberA, memberB, ownerID string) (string, error) {
	if memberA == "" || memberB == "" || memberA == memberB {
		return "", errors.New("room needs two distinct members")
	}
	if ownerID != memberA && ownerID != memberB {
		return "", errors.New("room owner must be a member")
	}

	members, err := json.Marshal([]string{memberA, memberB})
	if err != nil {
		return "", err
	}
	room := model.ChatRoom{
		ID:          uuid.NewString(),
		OwnerID:     ownerID,
		Members:     datatypes.JSON(members),
		IsPrivate:   true,
		IsAnonymous: true,
		CreatedAt:   s.now(),
	}
	if err := s.db.WithContext(ctx).Create(&room).Error; err != nil {
		return "", err
	}

	logger.Log.Info("ephemeral room created",
		zap.String("roomID", room.ID),
		zap.String("owner", ownerID),
	)
	return room.ID, nil
}

func (s *Service) DiscardRoom(ctx context.Context, roomID string) error {
	res := s.db.WithContext(ctx).Where("id = ?", roomID).Delete(&model.ChatRoom{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected > 0 {
		logger.Log.Info("ephemeral room discarded", zap.String("roomID", roomID))
	}
	return nil
}

func (s *Service) Get(ctx context.Context, roomID string) (*model.ChatRoom, error) {
	var room model.ChatRoom
	if err := s.db.WithContext(ctx).Where("id = ?", roomID).Take(&room).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, appErr.ErrRoomNotFound
		}
		return nil, err
	}
	return &room, nil
}

// MemberIDs decodes the member list stored on a room.
func MemberIDs(room *model.ChatRoom) ([]string, error) {
	var members []string
	if err := json.Unmarshal(room.Members, &members); err != nil {
		return nil, err
	}
	return members, nil
}
