package repository

import (
	"time"

	"gorm.io/gorm"
	"innovacollab/internal/model"
)

// EnrollmentRepository 定义了报名记录的持久化操作。
type EnrollmentRepository interface {
	Create(enrollment *model.Enrollment) error
	FindByID(id uint) (*model.Enrollment, error)
	FindByUserAndRoom(userID, roomID uint) (*model.Enrollment, error)
	FindByUser(userID uint) ([]model.Enrollment, error)
	// MarkCheckoutStarted 记录开启支付会话的时间。
	MarkCheckoutStarted(id uint, at time.Time) error
	// DeleteStalePendingPremium 删除在 before 之前报名且之后未再发起结账、仍未支付的
	// pending 高级报名，返回删除数量。
	DeleteStalePendingPremium(before time.Time) (int64, error)
}

type enrollmentRepository struct {
	db *gorm.DB
}

// NewEnrollmentRepository 创建一个新的 EnrollmentRepository 实例。
func NewEnrollmentRepository(db *gorm.DB) EnrollmentRepository {
	return &enrollmentRepository{db: db}
}

func (r *enrollmentRepository) Create(enrollment *model.Enrollment) error {
	return r.db.Create(enrollment).Error
}

func (r *enrollmentRepository) FindByID(id uint) (*model.Enrollment, error) {
	var e model.Enrollment
	if err := r.db.First(&e, id).Error; err != nil {
		return nil, err
	}
	return &e, nil
}

func (r *enrollmentRepository) FindByUserAndRoom(userID, roomID uint) (*model.Enrollment, error) {
	var e model.Enrollment
	if err := r.db.Where("user_id = ? AND room_id = ?", userID, roomID).First(&e).Error; err != nil {
		return nil, err
	}
	return &e, nil
}

func (r *enrollmentRepository) FindByUser(userID uint) ([]model.Enrollment, error) {
	var list []model.Enrollment
	err := r.db.Preload("Room").Preload("Room.Instructor").
		Where("user_id = ?", userID).Order("enrolled_at DESC").Find(&list).Error
	return list, err
}

func (r *enrollmentRepository) MarkCheckoutStarted(id uint, at time.Time) error {
	return r.db.Model(&model.Enrollment{}).Where("id = ?", id).Update("checkout_started_at", at).Error
}

func (r *enrollmentRepository) DeleteStalePendingPremium(before time.Time) (int64, error) {
	res := r.db.
		Where("enrollment_type = ? AND status = ? AND COALESCE(checkout_started_at, enrolled_at) < ?", model.EnrollmentPremium, model.EnrollmentPending, before).
		Where("NOT EXISTS (SELECT 1 FROM payments WHERE payments.enrollment_id = enrollments.id)").
		Delete(&model.Enrollment{})
	return res.RowsAffected, res.Error
}
