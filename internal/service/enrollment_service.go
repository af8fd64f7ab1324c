package service

import (
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"gorm.io/gorm"
	"innovacollab/internal/access"
	"innovacollab/internal/model"
	"innovacollab/internal/repository"
	"innovacollab/pkg/log"
)

// PremiumEnrollmentRequest 是高级报名表。
type PremiumEnrollmentRequest struct {
	FullName    string `json:"fullName"`
	Email       string `json:"email"`
	PhoneNumber string `json:"phoneNumber"`
	Age         *uint  `json:"age"`
	Bio         string `json:"bio"`
}

// Feature 是房间页面上展示的一项功能。
type Feature struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Available   bool   `json:"available"`
}

// MaterialItem 是房间页面中的资料条目。
type MaterialItem struct {
	model.StudyMaterial
	CanEdit bool `json:"canEdit"`
}

// RoomView 是已报名用户进入房间后看到的内容。
type RoomView struct {
	Room            *model.Room       `json:"room"`
	Enrollment      *model.Enrollment `json:"enrollment"`
	EnrollmentType  string            `json:"enrollmentType"`
	IsInstructor    bool              `json:"isInstructor"`
	FreeFeatures    []Feature         `json:"freeFeatures"`
	PremiumFeatures []Feature         `json:"premiumFeatures"`
	Materials       []MaterialItem    `json:"materials"`
}

// EnrollmentService 负责报名流程与待支付报名的清理。
type EnrollmentService interface {
	// EnrollFree 已有报名时直接返回已有记录，created 为 false。
	EnrollFree(user *model.User, roomID uint) (enrollment *model.Enrollment, created bool, err error)
	EnrollPremium(user *model.User, roomID uint, req PremiumEnrollmentRequest) (enrollment *model.Enrollment, created bool, err error)
	ListMine(user *model.User) ([]model.Enrollment, error)
	RoomView(user *model.User, roomID uint) (*RoomView, error)
	// SweepStale 删除超过支付会话有效期仍未支付的高级报名。
	SweepStale(now time.Time) (int64, error)
}

type enrollmentService struct {
	roomRepo       repository.RoomRepository
	enrollmentRepo repository.EnrollmentRepository
	userRepo       repository.UserRepository
	materialRepo   repository.MaterialRepository
	sessionTTL     time.Duration
}

// NewEnrollmentService 创建一个新的 EnrollmentService 实例。
func NewEnrollmentService(
	roomRepo repository.RoomRepository,
	enrollmentRepo repository.EnrollmentRepository,
	userRepo repository.UserRepository,
	materialRepo repository.MaterialRepository,
	sessionTTL time.Duration,
) EnrollmentService {
	return &enrollmentService{
		roomRepo:       roomRepo,
		enrollmentRepo: enrollmentRepo,
		userRepo:       userRepo,
		materialRepo:   materialRepo,
		sessionTTL:     sessionTTL,
	}
}

func (s *enrollmentService) EnrollFree(user *model.User, roomID uint) (*model.Enrollment, bool, error) {
	if _, err := findActiveRoom(s.roomRepo, roomID); err != nil {
		return nil, false, err
	}
	existing, err := findEnrollment(s.enrollmentRepo, user.ID, roomID)
	if err != nil || existing != nil {
		return existing, false, err
	}

	e := &model.Enrollment{
		UserID:         user.ID,
		RoomID:         roomID,
		EnrollmentType: model.EnrollmentFree,
		Status:         model.EnrollmentActive,
	}
	if created, isNew, err := s.create(e); err != nil || !isNew {
		return created, false, err
	}
	log.Infof("[EnrollmentService] 免费报名成功, user: %s, room: %d", user.Username, roomID)
	return e, true, nil
}

func (s *enrollmentService) EnrollPremium(user *model.User, roomID uint, req PremiumEnrollmentRequest) (*model.Enrollment, bool, error) {
	room, err := findActiveRoom(s.roomRepo, roomID)
	if err != nil {
		return nil, false, err
	}
	existing, err := findEnrollment(s.enrollmentRepo, user.ID, roomID)
	if err != nil || existing != nil {
		return existing, false, err
	}
	if !room.PremiumPrice.IsPositive() {
		return nil, false, fmt.Errorf("%w: room has no premium plan", ErrValidation)
	}

	req.FullName = strings.TrimSpace(req.FullName)
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	req.PhoneNumber = strings.TrimSpace(req.PhoneNumber)
	if req.FullName == "" || req.Email == "" || req.PhoneNumber == "" || req.Age == nil {
		return nil, false, fmt.Errorf("%w: full name, email, phone number and age are required", ErrValidation)
	}
	if _, err := mail.ParseAddress(req.Email); err != nil {
		return nil, false, fmt.Errorf("%w: invalid email address", ErrValidation)
	}
	if len(req.PhoneNumber) > 15 {
		return nil, false, fmt.Errorf("%w: phone number too long", ErrValidation)
	}

	// 1. 更新联系方式
	if err := s.userRepo.UpsertProfile(&model.UserProfile{
		UserID:      user.ID,
		PhoneNumber: req.PhoneNumber,
		Age:         req.Age,
		Bio:         req.Bio,
	}); err != nil {
		return nil, false, err
	}

	// 2. 同步姓名与邮箱
	first, last, _ := strings.Cut(req.FullName, " ")
	if first != user.FirstName || last != user.LastName || req.Email != user.Email {
		user.FirstName, user.LastName, user.Email = first, last, req.Email
		if err := s.userRepo.Update(user); err != nil {
			return nil, false, err
		}
	}

	// 3. 创建待支付的高级报名，支付回调验证通过后激活
	e := &model.Enrollment{
		UserID:         user.ID,
		RoomID:         roomID,
		EnrollmentType: model.EnrollmentPremium,
		Status:         model.EnrollmentPending,
	}
	if created, isNew, err := s.create(e); err != nil || !isNew {
		return created, false, err
	}
	log.Infof("[EnrollmentService] 高级报名已创建, 等待支付, user: %s, room: %d, enrollment: %d", user.Username, roomID, e.ID)
	return e, true, nil
}

// create 写入报名；并发请求撞上 (user, room) 唯一索引时返回已存在的那条。
func (s *enrollmentService) create(e *model.Enrollment) (*model.Enrollment, bool, error) {
	err := s.enrollmentRepo.Create(e)
	if err == nil {
		return e, true, nil
	}
	if !errors.Is(err, gorm.ErrDuplicatedKey) {
		return nil, false, err
	}
	existing, findErr := findEnrollment(s.enrollmentRepo, e.UserID, e.RoomID)
	if findErr != nil {
		return nil, false, findErr
	}
	if existing == nil {
		return nil, false, err
	}
	log.Infof("[EnrollmentService] 重复报名请求，返回已有报名, user: %d, room: %d", e.UserID, e.RoomID)
	return existing, false, nil
}

func (s *enrollmentService) ListMine(user *model.User) ([]model.Enrollment, error) {
	return s.enrollmentRepo.FindByUser(user.ID)
}

func (s *enrollmentService) RoomView(user *model.User, roomID uint) (*RoomView, error) {
	room, err := findActiveRoom(s.roomRepo, roomID)
	if err != nil {
		return nil, err
	}
	enrollmentType, enrollment, err := membership(s.enrollmentRepo, user, room)
	if err != nil {
		return nil, err
	}

	materials, err := s.materialRepo.ListByRoom(roomID)
	if err != nil {
		return nil, err
	}
	items := make([]MaterialItem, 0, len(materials))
	for i := range materials {
		m := &materials[i]
		subject := access.SubjectOf(m, room)
		if !access.CanView(user, subject, enrollmentType) {
			continue
		}
		items = append(items, MaterialItem{StudyMaterial: *m, CanEdit: access.CanEdit(user, subject)})
	}

	premium := enrollmentType == model.EnrollmentPremium
	return &RoomView{
		Room:           room,
		Enrollment:     enrollment,
		EnrollmentType: enrollmentType,
		IsInstructor:   access.IsInstructor(user, room),
		FreeFeatures: []Feature{
			{Name: "Study Materials (View Only)", Description: "Access to read course materials online", Available: true},
		},
		PremiumFeatures: []Feature{
			{Name: "Study Materials (Download)", Description: "Download materials for offline access", Available: premium},
			{Name: "AI Chatbot Assistant", Description: "Get instant help with AI-powered assistant", Available: premium},
			{Name: "Text-to-Speech", Description: "Listen to course materials with voice synthesis", Available: premium},
		},
		Materials: items,
	}, nil
}

func (s *enrollmentService) SweepStale(now time.Time) (int64, error) {
	n, err := s.enrollmentRepo.DeleteStalePendingPremium(now.Add(-s.sessionTTL))
	if err != nil {
		return 0, err
	}
	if n > 0 {
		log.Infof("[EnrollmentService] 清理了 %d 条超时未支付的高级报名", n)
	}
	return n, nil
}

// membership 要求用户在房间内有激活的报名，讲师视为高级成员。
func membership(repo repository.EnrollmentRepository, user *model.User, room *model.Room) (string, *model.Enrollment, error) {
	if user == nil {
		return "", nil, fmt.Errorf("%w: login required", ErrPermissionDenied)
	}
	enrollment, err := findEnrollment(repo, user.ID, room.ID)
	if err != nil {
		return "", nil, err
	}
	if enrollment.IsActive() {
		return enrollment.EnrollmentType, enrollment, nil
	}
	if access.IsInstructor(user, room) {
		return model.EnrollmentPremium, enrollment, nil
	}
	return "", nil, fmt.Errorf("%w: you must be enrolled in this room", ErrPermissionDenied)
}

// requirePremium 用于聊天助手等高级功能。
func requirePremium(repo repository.EnrollmentRepository, user *model.User, room *model.Room) error {
	enrollmentType, _, err := membership(repo, user, room)
	if err != nil {
		return err
	}
	if enrollmentType != model.EnrollmentPremium {
		return fmt.Errorf("%w: premium access required", ErrPermissionDenied)
	}
	return nil
}

func isNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}
