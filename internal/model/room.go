package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// 房间分类与难度的可选值。
var (
	RoomCategories   = []string{"technology", "science", "mathematics", "programming", "design", "business", "language", "other"}
	RoomDifficulties = []string{"beginner", "intermediate", "advanced"}
)

// Room 是一门课程（学习房间）。
type Room struct {
	ID                        uint            `gorm:"primaryKey" json:"id"`
	Title                     string          `gorm:"type:varchar(200);not null" json:"title"`
	Description               string          `gorm:"type:text" json:"description"`
	Category                  string          `gorm:"type:varchar(50);not null;default:other;index" json:"category"`
	InstructorID              uint            `gorm:"not null;index" json:"instructorId"`
	Instructor                *User           `gorm:"foreignKey:InstructorID" json:"instructor,omitempty"`
	DifficultyLevel           string          `gorm:"type:varchar(20);not null;default:beginner" json:"difficultyLevel"`
	Capacity                  uint            `gorm:"not null;default:50" json:"capacity"`
	PremiumPrice              decimal.Decimal `gorm:"type:decimal(10,2);not null;default:0" json:"premiumPrice"`
	IsActive                  bool            `gorm:"not null;default:true;index" json:"isActive"`
	FreeContentDescription    string          `gorm:"type:text" json:"freeContentDescription"`
	PremiumContentDescription string          `gorm:"type:text" json:"premiumContentDescription"`
	CreatedAt                 time.Time       `json:"createdAt"`
	UpdatedAt                 time.Time       `json:"updatedAt"`
}

func (Room) TableName() string {
	return "rooms"
}

// RoomEnrollmentStats 汇总某房间的报名人数。
type RoomEnrollmentStats struct {
	RoomID  uint  `json:"roomId"`
	Free    int64 `json:"free"`
	Premium int64 `json:"premium"`
	Total   int64 `json:"total"`
}
