package service

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"innovacollab/internal/model"
	"innovacollab/internal/repository"
	"innovacollab/pkg/log"
)

// RoomPageSize 房间列表每页数量。
const RoomPageSize = 12

// CreateRoomRequest 是创建房间的输入。
type CreateRoomRequest struct {
	Title                     string          `json:"title" binding:"required"`
	Description               string          `json:"description"`
	Category                  string          `json:"category"`
	DifficultyLevel           string          `json:"difficultyLevel"`
	Capacity                  uint            `json:"capacity"`
	PremiumPrice              decimal.Decimal `json:"premiumPrice"`
	FreeContentDescription    string          `json:"freeContentDescription"`
	PremiumContentDescription string          `json:"premiumContentDescription"`
}

// RoomPage 是分页后的房间列表。
type RoomPage struct {
	Rooms    []model.Room `json:"rooms"`
	Total    int64        `json:"total"`
	Page     int          `json:"page"`
	PageSize int          `json:"pageSize"`
}

// RoomDetail 附带当前用户在该房间的报名信息。
type RoomDetail struct {
	Room         *model.Room       `json:"room"`
	Enrollment   *model.Enrollment `json:"enrollment"`
	IsInstructor bool              `json:"isInstructor"`
}

// InstructorRoom 是“我的房间”中的一项。
type InstructorRoom struct {
	model.Room
	Stats model.RoomEnrollmentStats `json:"stats"`
}

// RoomService 负责房间的浏览与创建。
type RoomService interface {
	List(filter repository.RoomFilter, page int) (*RoomPage, error)
	Detail(user *model.User, roomID uint) (*RoomDetail, error)
	Create(user *model.User, req CreateRoomRequest) (*model.Room, error)
	MyRooms(user *model.User) ([]InstructorRoom, error)
}

type roomService struct {
	roomRepo       repository.RoomRepository
	enrollmentRepo repository.EnrollmentRepository
}

// NewRoomService 创建一个新的 RoomService 实例。
func NewRoomService(roomRepo repository.RoomRepository, enrollmentRepo repository.EnrollmentRepository) RoomService {
	return &roomService{roomRepo: roomRepo, enrollmentRepo: enrollmentRepo}
}

func (s *roomService) List(filter repository.RoomFilter, page int) (*RoomPage, error) {
	if page < 1 {
		page = 1
	}
	filter.Query = strings.TrimSpace(filter.Query)
	rooms, total, err := s.roomRepo.List(filter, (page-1)*RoomPageSize, RoomPageSize)
	if err != nil {
		return nil, err
	}
	return &RoomPage{Rooms: rooms, Total: total, Page: page, PageSize: RoomPageSize}, nil
}

func (s *roomService) Detail(user *model.User, roomID uint) (*RoomDetail, error) {
	room, err := findActiveRoom(s.roomRepo, roomID)
	if err != nil {
		return nil, err
	}
	detail := &RoomDetail{Room: room}
	if user != nil {
		detail.IsInstructor = user.ID == room.InstructorID
		enrollment, err := findEnrollment(s.enrollmentRepo, user.ID, roomID)
		if err != nil {
			return nil, err
		}
		detail.Enrollment = enrollment
	}
	return detail, nil
}

func (s *roomService) Create(user *model.User, req CreateRoomRequest) (*model.Room, error) {
	req.Title = strings.TrimSpace(req.Title)
	if req.Title == "" || len(req.Title) > 200 {
		return nil, fmt.Errorf("%w: title is required and at most 200 characters", ErrValidation)
	}
	if req.Category == "" {
		req.Category = "other"
	}
	if !contains(model.RoomCategories, req.Category) {
		return nil, fmt.Errorf("%w: unknown category %q", ErrValidation, req.Category)
	}
	if req.DifficultyLevel == "" {
		req.DifficultyLevel = "beginner"
	}
	if !contains(model.RoomDifficulties, req.DifficultyLevel) {
		return nil, fmt.Errorf("%w: unknown difficulty level %q", ErrValidation, req.DifficultyLevel)
	}
	if req.PremiumPrice.IsNegative() {
		return nil, fmt.Errorf("%w: premium price must not be negative", ErrValidation)
	}
	if req.Capacity == 0 {
		req.Capacity = 50
	}

	room := &model.Room{
		Title:                     req.Title,
		Description:               req.Description,
		Category:                  req.Category,
		InstructorID:              user.ID,
		DifficultyLevel:           req.DifficultyLevel,
		Capacity:                  req.Capacity,
		PremiumPrice:              req.PremiumPrice.Round(2),
		IsActive:                  true,
		FreeContentDescription:    req.FreeContentDescription,
		PremiumContentDescription: req.PremiumContentDescription,
	}
	if err := s.roomRepo.Create(room); err != nil {
		return nil, err
	}
	log.Infof("[RoomService] 房间创建成功, roomID: %d, instructor: %s", room.ID, user.Username)
	return room, nil
}

func (s *roomService) MyRooms(user *model.User) ([]InstructorRoom, error) {
	rooms, err := s.roomRepo.FindByInstructor(user.ID)
	if err != nil {
		return nil, err
	}
	ids := make([]uint, 0, len(rooms))
	for _, r := range rooms {
		ids = append(ids, r.ID)
	}
	stats, err := s.roomRepo.EnrollmentStats(ids)
	if err != nil {
		return nil, err
	}
	out := make([]InstructorRoom, 0, len(rooms))
	for _, r := range rooms {
		out = append(out, InstructorRoom{Room: r, Stats: stats[r.ID]})
	}
	return out, nil
}

func findActiveRoom(repo repository.RoomRepository, roomID uint) (*model.Room, error) {
	room, err := repo.FindActiveByID(roomID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("room %d: %w", roomID, ErrNotFound)
	}
	return room, err
}

// findEnrollment 未报名时返回 (nil, nil)。
func findEnrollment(repo repository.EnrollmentRepository, userID, roomID uint) (*model.Enrollment, error) {
	e, err := repo.FindByUserAndRoom(userID, roomID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	return e, err
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
