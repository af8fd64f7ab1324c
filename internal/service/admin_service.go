package service

import (
	"time"

	"github.com/shopspring/decimal"
	"innovacollab/internal/model"
	"innovacollab/internal/repository"
)

// PageResponse 定义了分页列表 API 的响应结构。
type PageResponse[T any] struct {
	Content       []T   `json:"content"`
	TotalElements int64 `json:"totalElements"`
	TotalPages    int   `json:"totalPages"`
	Size          int   `json:"size"`
	Number        int   `json:"number"`
}

// UserDetailResponse 定义了用户列表项的详细结构。
type UserDetailResponse struct {
	UserID    uint            `json:"userId"`
	Username  string          `json:"username"`
	Email     string          `json:"email"`
	FullName  string          `json:"fullName"`
	Role      string          `json:"role"`
	CreatedAt model.LocalTime `json:"createdAt"`
}

// PaymentDetailResponse 是支付列表项。
type PaymentDetailResponse struct {
	PaymentID     uint            `json:"paymentId"`
	UserID        uint            `json:"userId"`
	RoomID        uint            `json:"roomId"`
	EnrollmentID  uint            `json:"enrollmentId"`
	Amount        decimal.Decimal `json:"amount"`
	TransactionID string          `json:"transactionId"`
	EsewaRefID    string          `json:"esewaRefId"`
	Status        string          `json:"status"`
	PaidAt        model.LocalTime `json:"paidAt"`
}

// AdminService 接口定义了所有管理员相关的业务操作。
type AdminService interface {
	ListUsers(page, size int) (*PageResponse[UserDetailResponse], error)
	ListPayments(page, size int) (*PageResponse[PaymentDetailResponse], error)
	// Reconcile 立即执行一次待支付报名清理。
	Reconcile(now time.Time) (int64, error)
}

// adminService 是 AdminService 接口的实现。
type adminService struct {
	userRepo    repository.UserRepository
	paymentRepo repository.PaymentRepository
	enrollments EnrollmentService
}

// NewAdminService 创建一个新的 AdminService 实例。
func NewAdminService(userRepo repository.UserRepository, paymentRepo repository.PaymentRepository, enrollments EnrollmentService) AdminService {
	return &adminService{
		userRepo:    userRepo,
		paymentRepo: paymentRepo,
		enrollments: enrollments,
	}
}

// ListUsers 分页获取用户列表，page 从 1 开始。
func (s *adminService) ListUsers(page, size int) (*PageResponse[UserDetailResponse], error) {
	page, size = normalizePage(page, size)
	users, total, err := s.userRepo.FindWithPagination((page-1)*size, size)
	if err != nil {
		return nil, err
	}
	content := make([]UserDetailResponse, 0, len(users))
	for i := range users {
		u := &users[i]
		content = append(content, UserDetailResponse{
			UserID:    u.ID,
			Username:  u.Username,
			Email:     u.Email,
			FullName:  u.FullName(),
			Role:      u.Role,
			CreatedAt: model.LocalTime(u.CreatedAt),
		})
	}
	return newPage(content, total, page, size), nil
}

func (s *adminService) ListPayments(page, size int) (*PageResponse[PaymentDetailResponse], error) {
	page, size = normalizePage(page, size)
	payments, total, err := s.paymentRepo.FindWithPagination((page-1)*size, size)
	if err != nil {
		return nil, err
	}
	content := make([]PaymentDetailResponse, 0, len(payments))
	for _, p := range payments {
		content = append(content, PaymentDetailResponse{
			PaymentID:     p.ID,
			UserID:        p.UserID,
			RoomID:        p.RoomID,
			EnrollmentID:  p.EnrollmentID,
			Amount:        p.Amount,
			TransactionID: p.TransactionID,
			EsewaRefID:    p.EsewaRefID,
			Status:        p.PaymentStatus,
			PaidAt:        model.LocalTime(p.PaidAt),
		})
	}
	return newPage(content, total, page, size), nil
}

func (s *adminService) Reconcile(now time.Time) (int64, error) {
	return s.enrollments.SweepStale(now)
}

func normalizePage(page, size int) (int, int) {
	if page < 1 {
		page = 1
	}
	if size < 1 || size > 100 {
		size = 20
	}
	return page, size
}

func newPage[T any](content []T, total int64, page, size int) *PageResponse[T] {
	return &PageResponse[T]{
		Content:       content,
		TotalElements: total,
		TotalPages:    int((total + int64(size) - 1) / int64(size)),
		Size:          size,
		Number:        page,
	}
}
