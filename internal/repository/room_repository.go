package repository

import (
	"gorm.io/gorm"
	"innovacollab/internal/model"
)

// RoomFilter 是房间列表的查询条件。
type RoomFilter struct {
	Query      string
	Category   string
	Difficulty string
}

// RoomRepository 定义了房间的持久化操作。
type RoomRepository interface {
	Create(room *model.Room) error
	// FindActiveByID 只返回处于激活状态的房间，并预加载讲师。
	FindActiveByID(id uint) (*model.Room, error)
	List(filter RoomFilter, offset, limit int) ([]model.Room, int64, error)
	FindByInstructor(instructorID uint) ([]model.Room, error)
	EnrollmentStats(roomIDs []uint) (map[uint]model.RoomEnrollmentStats, error)
}

type roomRepository struct {
	db *gorm.DB
}

// NewRoomRepository 创建一个新的 RoomRepository 实例。
func NewRoomRepository(db *gorm.DB) RoomRepository {
	return &roomRepository{db: db}
}

func (r *roomRepository) Create(room *model.Room) error {
	return r.db.Create(room).Error
}

func (r *roomRepository) FindActiveByID(id uint) (*model.Room, error) {
	var room model.Room
	err := r.db.Preload("Instructor").Where("is_active = ?", true).First(&room, id).Error
	if err != nil {
		return nil, err
	}
	return &room, nil
}

// List 按标题、描述或讲师用户名模糊搜索，并按分类与难度过滤，最新创建的排在前面。
func (r *roomRepository) List(filter RoomFilter, offset, limit int) ([]model.Room, int64, error) {
	db := r.db.Model(&model.Room{}).Where("rooms.is_active = ?", true)
	if filter.Query != "" {
		like := "%" + filter.Query + "%"
		db = db.Joins("JOIN users ON users.id = rooms.instructor_id").
			Where("rooms.title LIKE ? OR rooms.description LIKE ? OR users.username LIKE ?", like, like, like)
	}
	if filter.Category != "" {
		db = db.Where("rooms.category = ?", filter.Category)
	}
	if filter.Difficulty != "" {
		db = db.Where("rooms.difficulty_level = ?", filter.Difficulty)
	}

	var total int64
	if err := db.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var rooms []model.Room
	err := db.Preload("Instructor").Order("rooms.created_at DESC").Offset(offset).Limit(limit).Find(&rooms).Error
	if err != nil {
		return nil, 0, err
	}
	return rooms, total, nil
}

func (r *roomRepository) FindByInstructor(instructorID uint) ([]model.Room, error) {
	var rooms []model.Room
	err := r.db.Where("instructor_id = ?", instructorID).Order("created_at DESC").Find(&rooms).Error
	return rooms, err
}

// EnrollmentStats 统计每个房间的免费、高级与总报名人数。
func (r *roomRepository) EnrollmentStats(roomIDs []uint) (map[uint]model.RoomEnrollmentStats, error) {
	stats := make(map[uint]model.RoomEnrollmentStats, len(roomIDs))
	if len(roomIDs) == 0 {
		return stats, nil
	}
	var rows []struct {
		RoomID         uint
		EnrollmentType string
		Count          int64
	}
	err := r.db.Model(&model.Enrollment{}).
		Select("room_id, enrollment_type, COUNT(*) AS count").
		Where("room_id IN ?", roomIDs).
		Group("room_id, enrollment_type").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	for _, id := range roomIDs {
		stats[id] = model.RoomEnrollmentStats{RoomID: id}
	}
	for _, row := range rows {
		s := stats[row.RoomID]
		switch row.EnrollmentType {
		case model.EnrollmentFree:
			s.Free += row.Count
		case model.EnrollmentPremium:
			s.Premium += row.Count
		}
		s.Total += row.Count
		stats[row.RoomID] = s
	}
	return stats, nil
}
