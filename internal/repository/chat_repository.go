package repository

import (
	"errors"

	"gorm.io/gorm"
	"innovacollab/internal/model"
)

// ChatRepository 管理持久化的 (user, room) 聊天会话及其总结。
type ChatRepository interface {
	FindSession(userID, roomID uint) (*model.ChatSession, error)
	FindBySessionID(userID uint, sessionID string) (*model.ChatSession, error)
	// GetOrCreateSession 若不存在则以 sessionID 创建。
	GetOrCreateSession(userID, roomID uint, sessionID string) (*model.ChatSession, error)
	// BindSession 把 (user, room) 会话指向新的缓存会话 ID，不存在则创建。
	BindSession(userID, roomID uint, sessionID string) (*model.ChatSession, error)
	CreateSummary(summary *model.ChatSummary) error
	ListSummaries(userID, roomID uint, limit int) ([]model.ChatSummary, error)
}

type chatRepository struct {
	db *gorm.DB
}

// NewChatRepository 创建一个新的 ChatRepository 实例。
func NewChatRepository(db *gorm.DB) ChatRepository {
	return &chatRepository{db: db}
}

func (r *chatRepository) FindSession(userID, roomID uint) (*model.ChatSession, error) {
	var s model.ChatSession
	if err := r.db.Where("user_id = ? AND room_id = ?", userID, roomID).First(&s).Error; err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *chatRepository) FindBySessionID(userID uint, sessionID string) (*model.ChatSession, error) {
	var s model.ChatSession
	if err := r.db.Where("user_id = ? AND session_id = ?", userID, sessionID).First(&s).Error; err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *chatRepository) GetOrCreateSession(userID, roomID uint, sessionID string) (*model.ChatSession, error) {
	s := model.ChatSession{UserID: userID, RoomID: roomID}
	err := r.db.Where(model.ChatSession{UserID: userID, RoomID: roomID}).
		Attrs(model.ChatSession{SessionID: sessionID, IsActive: true}).
		FirstOrCreate(&s).Error
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *chatRepository) BindSession(userID, roomID uint, sessionID string) (*model.ChatSession, error) {
	s, err := r.FindSession(userID, roomID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return r.GetOrCreateSession(userID, roomID, sessionID)
	}
	if err != nil {
		return nil, err
	}
	if s.SessionID != sessionID {
		s.SessionID = sessionID
		if err := r.db.Model(s).Update("session_id", sessionID).Error; err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (r *chatRepository) CreateSummary(summary *model.ChatSummary) error {
	return r.db.Create(summary).Error
}

func (r *chatRepository) ListSummaries(userID, roomID uint, limit int) ([]model.ChatSummary, error) {
	var list []model.ChatSummary
	err := r.db.Where("user_id = ? AND room_id = ?", userID, roomID).
		Order("created_at DESC").Limit(limit).Find(&list).Error
	return list, err
}
