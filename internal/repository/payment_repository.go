package repository

import (
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"innovacollab/internal/model"
)

var (
	// ErrEnrollmentNotPremium 支付只能挂在高级报名上。
	ErrEnrollmentNotPremium = errors.New("enrollment is not premium")
	// ErrAlreadyPaid 该报名已有支付记录。
	ErrAlreadyPaid = errors.New("enrollment already has a payment")
	// ErrEnrollmentClosed 报名已取消或已结束，不能再被激活。
	ErrEnrollmentClosed = errors.New("enrollment can no longer be activated")
)

// PaymentRepository 定义了支付记录的持久化操作。
type PaymentRepository interface {
	// CompleteEnrollment 在同一事务内激活报名并写入一条 completed 支付。
	// 若报名已被对账清理，则恢复该用户在 roomID 下的报名后再入账。
	CompleteEnrollment(userID, roomID uint, payment *model.Payment) (*model.Enrollment, error)
	FindByEnrollment(enrollmentID uint) (*model.Payment, error)
	FindWithPagination(offset, limit int) ([]model.Payment, int64, error)
}

type paymentRepository struct {
	db *gorm.DB
}

// NewPaymentRepository 创建一个新的 PaymentRepository 实例。
func NewPaymentRepository(db *gorm.DB) PaymentRepository {
	return &paymentRepository{db: db}
}

func (r *paymentRepository) CompleteEnrollment(userID, roomID uint, payment *model.Payment) (*model.Enrollment, error) {
	var enrollment model.Enrollment
	err := r.db.Transaction(func(tx *gorm.DB) error {
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ? AND user_id = ?", payment.EnrollmentID, userID).
			First(&enrollment).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			err = restoreEnrollment(tx, userID, roomID, &enrollment)
		}
		if err != nil {
			return err
		}
		if enrollment.EnrollmentType != model.EnrollmentPremium {
			return ErrEnrollmentNotPremium
		}
		if !enrollment.CanTransition(model.EnrollmentActive) {
			return ErrEnrollmentClosed
		}

		var count int64
		if err := tx.Model(&model.Payment{}).Where("enrollment_id = ?", enrollment.ID).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return ErrAlreadyPaid
		}

		if enrollment.Status == model.EnrollmentPending {
			if err := tx.Model(&enrollment).Update("status", model.EnrollmentActive).Error; err != nil {
				return err
			}
			enrollment.Status = model.EnrollmentActive
		}

		payment.UserID = userID
		payment.RoomID = enrollment.RoomID
		payment.EnrollmentID = enrollment.ID
		payment.PaymentStatus = model.PaymentCompleted
		return tx.Create(payment).Error
	})
	if err != nil {
		return nil, err
	}
	return &enrollment, nil
}

// restoreEnrollment 找回用户在该房间的报名，不存在时重建一条 pending 高级报名。
func restoreEnrollment(tx *gorm.DB, userID, roomID uint, enrollment *model.Enrollment) error {
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("user_id = ? AND room_id = ?", userID, roomID).
		First(enrollment).Error
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}
	*enrollment = model.Enrollment{
		UserID:         userID,
		RoomID:         roomID,
		EnrollmentType: model.EnrollmentPremium,
		Status:         model.EnrollmentPending,
	}
	return tx.Create(enrollment).Error
}

func (r *paymentRepository) FindByEnrollment(enrollmentID uint) (*model.Payment, error) {
	var p model.Payment
	if err := r.db.Where("enrollment_id = ?", enrollmentID).First(&p).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *paymentRepository) FindWithPagination(offset, limit int) ([]model.Payment, int64, error) {
	var list []model.Payment
	var total int64
	db := r.db.Model(&model.Payment{})
	if err := db.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	if err := db.Order("paid_at DESC").Offset(offset).Limit(limit).Find(&list).Error; err != nil {
		return nil, 0, err
	}
	return list, total, nil
}
