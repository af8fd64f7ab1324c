package model

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	PaymentMethodEsewa        = "esewa"
	PaymentMethodKhalti       = "khalti"
	PaymentMethodBankTransfer = "bank_transfer"

	PaymentPending   = "pending"
	PaymentCompleted = "completed"
	PaymentFailed    = "failed"
	PaymentRefunded  = "refunded"
)

// Payment 是一次已验证的高级报名支付，与 Enrollment 一对一。
type Payment struct {
	ID            uint            `gorm:"primaryKey" json:"id"`
	UserID        uint            `gorm:"not null;index" json:"userId"`
	RoomID        uint            `gorm:"not null;index" json:"roomId"`
	EnrollmentID  uint            `gorm:"not null;uniqueIndex" json:"enrollmentId"`
	Amount        decimal.Decimal `gorm:"type:decimal(10,2);not null" json:"amount"`
	PaymentMethod string          `gorm:"type:varchar(20);not null;default:esewa" json:"paymentMethod"`
	TransactionID string          `gorm:"type:varchar(100);not null;uniqueIndex" json:"transactionId"`
	PaymentStatus string          `gorm:"type:varchar(20);not null;default:pending" json:"paymentStatus"`
	EsewaRefID    string          `gorm:"type:varchar(100)" json:"esewaRefId"`
	EsewaResponse string          `gorm:"type:text" json:"-"`
	PaidAt        time.Time       `gorm:"autoCreateTime" json:"paidAt"`
	UpdatedAt     time.Time       `json:"updatedAt"`
}

func (Payment) TableName() string {
	return "payments"
}

// PaymentSession 是结账过程中保存在 Redis 中的临时记录，只能被消费一次。
type PaymentSession struct {
	TransactionUUID string          `json:"transaction_uuid"`
	RoomID          uint            `json:"room_id"`
	EnrollmentID    uint            `json:"enrollment_id"`
	UserID          uint            `json:"user_id"`
	Amount          decimal.Decimal `json:"amount"`
	TaxAmount       decimal.Decimal `json:"tax_amount"`
	TotalAmount     decimal.Decimal `json:"total_amount"`
	CreatedAt       time.Time       `json:"created_at"`
}
