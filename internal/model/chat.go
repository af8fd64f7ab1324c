package model

import "time"

const (
	SpeakerUser      = "User"
	SpeakerAssistant = "StudentHelper"
)

// ChatTurn 是缓存中的一条对话记录。
type ChatTurn struct {
	Speaker string    `json:"speaker"`
	Text    string    `json:"text"`
	At      time.Time `json:"at"`
}

// ChatSessionState 是缓存中的聊天会话快照。
type ChatSessionState struct {
	SessionID string     `json:"session_id"`
	History   []ChatTurn `json:"history"`
	CreatedAt time.Time  `json:"created_at"`
}

// ChatSession 是 (user, room) 唯一的持久化聊天会话，用于挂载保存的总结。
type ChatSession struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	UserID    uint      `gorm:"not null;uniqueIndex:idx_chat_session_user_room" json:"userId"`
	RoomID    uint      `gorm:"not null;uniqueIndex:idx_chat_session_user_room" json:"roomId"`
	SessionID string    `gorm:"type:varchar(100);not null;uniqueIndex" json:"sessionId"`
	IsActive  bool      `gorm:"not null;default:true" json:"isActive"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (ChatSession) TableName() string {
	return "chat_sessions"
}

// ChatSummary 是用户保存的对话总结。
type ChatSummary struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	ChatSessionID  uint      `gorm:"not null;index" json:"chatSessionId"`
	UserID         uint      `gorm:"not null;index" json:"userId"`
	RoomID         uint      `gorm:"not null;index" json:"roomId"`
	Title          string    `gorm:"type:varchar(200);not null" json:"title"`
	SummaryContent string    `gorm:"type:text" json:"summaryContent"`
	ObjectKey      string    `gorm:"type:varchar(500)" json:"filePath"`
	CreatedAt      time.Time `json:"createdAt"`
}

func (ChatSummary) TableName() string {
	return "chat_summaries"
}
