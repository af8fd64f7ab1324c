package model

import "time"

const (
	EnrollmentFree    = "free"
	EnrollmentPremium = "premium"

	EnrollmentPending   = "pending"
	EnrollmentActive    = "active"
	EnrollmentCompleted = "completed"
	EnrollmentCancelled = "cancelled"
)

// Enrollment 记录用户对房间的报名，(user_id, room_id) 唯一。
type Enrollment struct {
	ID                uint       `gorm:"primaryKey" json:"id"`
	UserID            uint       `gorm:"not null;uniqueIndex:idx_enrollment_user_room" json:"userId"`
	RoomID            uint       `gorm:"not null;uniqueIndex:idx_enrollment_user_room;index" json:"roomId"`
	Room              *Room      `gorm:"foreignKey:RoomID" json:"room,omitempty"`
	EnrollmentType    string     `gorm:"type:varchar(10);not null" json:"enrollmentType"`
	Status            string     `gorm:"type:varchar(20);not null;default:pending;index" json:"status"`
	EnrolledAt        time.Time  `gorm:"autoCreateTime" json:"enrolledAt"`
	CompletedAt       *time.Time `json:"completedAt"`
	CheckoutStartedAt *time.Time `json:"checkoutStartedAt"` // 最近一次开启支付会话的时间，对账以此判断是否过期
	UpdatedAt         time.Time  `json:"updatedAt"`
}

func (Enrollment) TableName() string {
	return "enrollments"
}

// IsActive 报名处于激活状态时才可进入房间。
func (e *Enrollment) IsActive() bool {
	return e != nil && e.Status == EnrollmentActive
}

// statusRank 用于保证状态只前进不后退（cancelled 除外）。
var statusRank = map[string]int{
	EnrollmentPending:   0,
	EnrollmentActive:    1,
	EnrollmentCompleted: 2,
}

// CanTransition 判断报名状态能否从当前状态迁移到 next。
func (e *Enrollment) CanTransition(next string) bool {
	if e.Status == EnrollmentCancelled {
		return false
	}
	if next == EnrollmentCancelled {
		return true
	}
	cur, ok1 := statusRank[e.Status]
	nxt, ok2 := statusRank[next]
	return ok1 && ok2 && nxt >= cur
}
