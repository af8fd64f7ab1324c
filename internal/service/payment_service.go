package service

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"innovacollab/internal/model"
	"innovacollab/internal/repository"
	"innovacollab/pkg/esewa"
	"innovacollab/pkg/log"
)

// taxRate 为 13% 增值税。
var taxRate = decimal.RequireFromString("0.13")

// OpenPaymentRequest 是开启支付会话所需的信息。
type OpenPaymentRequest struct {
	RoomID       uint
	EnrollmentID uint
	UserID       uint
	Amount       decimal.Decimal
}

// Checkout 是返回给前端的网关表单及其对应的会话。
type Checkout struct {
	Form    esewa.Form            `json:"form"`
	Session *model.PaymentSession `json:"session"`
}

// PaymentService 负责 eSewa 结账与回调。sessionKey 是浏览器会话 cookie，
// 每个浏览器会话同时只有一个待支付会话。
type PaymentService interface {
	// StartCheckout 校验报名归属与类型后开启支付会话。
	StartCheckout(ctx context.Context, user *model.User, sessionKey string, roomID, enrollmentID uint) (*Checkout, error)
	Open(ctx context.Context, sessionKey string, req OpenPaymentRequest) (*Checkout, error)
	// Consume 原子地取出会话，无论校验是否通过会话都会被销毁。
	Consume(ctx context.Context, sessionKey, transactionID, reportedAmount string) (*model.PaymentSession, error)
	// Complete 处理成功回调，返回应跳转的房间 ID（未知时为 0）。
	Complete(ctx context.Context, sessionKey string, query url.Values) (uint, error)
	// Fail 丢弃会话并返回其房间 ID。
	Fail(ctx context.Context, sessionKey string) (uint, error)
}

type paymentService struct {
	sessions        repository.PaymentSessionStore
	paymentRepo     repository.PaymentRepository
	enrollmentRepo  repository.EnrollmentRepository
	roomRepo        repository.RoomRepository
	gateway         esewa.Config
	verifySignature bool
	now             func() time.Time
	newTxnID        func() string
}

// NewPaymentService 创建一个新的 PaymentService 实例。
func NewPaymentService(
	sessions repository.PaymentSessionStore,
	paymentRepo repository.PaymentRepository,
	enrollmentRepo repository.EnrollmentRepository,
	roomRepo repository.RoomRepository,
	gateway esewa.Config,
	verifySignature bool,
) PaymentService {
	return &paymentService{
		sessions:        sessions,
		paymentRepo:     paymentRepo,
		enrollmentRepo:  enrollmentRepo,
		roomRepo:        roomRepo,
		gateway:         gateway,
		verifySignature: verifySignature,
		now:             time.Now,
		newTxnID:        uuid.NewString,
	}
}

func (s *paymentService) StartCheckout(ctx context.Context, user *model.User, sessionKey string, roomID, enrollmentID uint) (*Checkout, error) {
	room, err := findActiveRoom(s.roomRepo, roomID)
	if err != nil {
		return nil, err
	}
	enrollment, err := s.enrollmentRepo.FindByID(enrollmentID)
	if isNotFound(err) || (err == nil && (enrollment.UserID != user.ID || enrollment.RoomID != roomID)) {
		return nil, fmt.Errorf("enrollment %d: %w", enrollmentID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	if enrollment.EnrollmentType != model.EnrollmentPremium {
		return nil, fmt.Errorf("%w: enrollment is not premium", ErrValidation)
	}
	if !enrollment.CanTransition(model.EnrollmentActive) {
		return nil, fmt.Errorf("%w: enrollment is %s", ErrConflict, enrollment.Status)
	}
	if _, err := s.paymentRepo.FindByEnrollment(enrollment.ID); err == nil {
		return nil, fmt.Errorf("%w: enrollment already paid", ErrConflict)
	} else if !isNotFound(err) {
		return nil, err
	}

	checkout, err := s.Open(ctx, sessionKey, OpenPaymentRequest{
		RoomID:       room.ID,
		EnrollmentID: enrollment.ID,
		UserID:       user.ID,
		Amount:       room.PremiumPrice,
	})
	if err != nil {
		return nil, err
	}
	// 会话写入之后再记录时间，对账的截止点不会早于会话过期
	if err := s.enrollmentRepo.MarkCheckoutStarted(enrollment.ID, s.now()); err != nil {
		return nil, fmt.Errorf("failed to mark checkout: %w", err)
	}
	return checkout, nil
}

func (s *paymentService) Open(ctx context.Context, sessionKey string, req OpenPaymentRequest) (*Checkout, error) {
	if sessionKey == "" {
		return nil, fmt.Errorf("%w: missing browser session", ErrValidation)
	}
	if !req.Amount.IsPositive() {
		return nil, fmt.Errorf("%w: amount must be positive", ErrValidation)
	}
	amount := req.Amount.Round(2)
	tax := amount.Mul(taxRate).Round(2)
	total := amount.Add(tax).Round(2)

	session := &model.PaymentSession{
		TransactionUUID: s.newTxnID(),
		RoomID:          req.RoomID,
		EnrollmentID:    req.EnrollmentID,
		UserID:          req.UserID,
		Amount:          amount,
		TaxAmount:       tax,
		TotalAmount:     total,
		CreatedAt:       s.now(),
	}
	if err := s.sessions.Save(ctx, sessionKey, session); err != nil {
		return nil, err
	}
	log.Infof("[PaymentService] 支付会话已创建, txn: %s, enrollment: %d, total: %s", session.TransactionUUID, req.EnrollmentID, total.StringFixed(2))
	return &Checkout{
		Form:    esewa.NewForm(s.gateway, session.TransactionUUID, amount, tax, total),
		Session: session,
	}, nil
}

func (s *paymentService) Consume(ctx context.Context, sessionKey, transactionID, reportedAmount string) (*model.PaymentSession, error) {
	session, err := s.sessions.Take(ctx, sessionKey)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, ErrSessionExpired
	}
	if session.TransactionUUID != transactionID {
		return session, fmt.Errorf("%w: transaction id", ErrVerificationMismatch)
	}
	reported, err := decimal.NewFromString(reportedAmount)
	if err != nil || !reported.Round(2).Equal(session.TotalAmount.Round(2)) {
		return session, fmt.Errorf("%w: amount %q", ErrVerificationMismatch, reportedAmount)
	}
	return session, nil
}

func (s *paymentService) Complete(ctx context.Context, sessionKey string, query url.Values) (uint, error) {
	secret := ""
	if s.verifySignature {
		secret = s.gateway.SecretKey
	}
	cb, err := esewa.ParseCallback(query, secret, s.verifySignature)
	if err != nil {
		// 无效回调同样销毁会话，防止被重放
		session, takeErr := s.sessions.Take(ctx, sessionKey)
		if takeErr != nil || session == nil {
			return 0, fmt.Errorf("%w: %v", ErrSessionExpired, err)
		}
		log.Warnf("[PaymentService] 无效的支付回调, txn: %s, error: %v", session.TransactionUUID, err)
		return session.RoomID, fmt.Errorf("%w: %v", ErrVerificationMismatch, err)
	}

	session, err := s.Consume(ctx, sessionKey, cb.TransactionUUID, cb.TotalAmount)
	if err != nil {
		if session != nil {
			log.Warnf("[PaymentService] 支付校验失败, txn: %s, error: %v", session.TransactionUUID, err)
			return session.RoomID, err
		}
		return 0, err
	}
	if cb.Status != "" && cb.Status != "COMPLETE" {
		return session.RoomID, fmt.Errorf("%w: status %s", ErrVerificationMismatch, cb.Status)
	}

	payment := &model.Payment{
		EnrollmentID:  session.EnrollmentID,
		Amount:        session.Amount,
		PaymentMethod: model.PaymentMethodEsewa,
		TransactionID: session.TransactionUUID,
		EsewaRefID:    cb.RefID,
		EsewaResponse: cb.Raw,
	}
	enrollment, err := s.paymentRepo.CompleteEnrollment(session.UserID, session.RoomID, payment)
	if err != nil {
		// 网关已扣款，入账失败的交易都需要人工退款
		log.Errorw("[PaymentService] 支付已完成但无法入账，需人工退款",
			"txn", session.TransactionUUID, "ref", cb.RefID, "user", session.UserID,
			"enrollment", session.EnrollmentID, "total", session.TotalAmount.StringFixed(2), "error", err)
		switch {
		case errors.Is(err, repository.ErrAlreadyPaid), errors.Is(err, repository.ErrEnrollmentClosed):
			return session.RoomID, fmt.Errorf("%w: %v", ErrConflict, err)
		case errors.Is(err, repository.ErrEnrollmentNotPremium):
			return session.RoomID, fmt.Errorf("%w: %v", ErrVerificationMismatch, err)
		}
		return session.RoomID, err
	}
	if enrollment.ID != session.EnrollmentID {
		log.Warnf("[PaymentService] 报名 %d 已被清理，支付记入报名 %d, txn: %s", session.EnrollmentID, enrollment.ID, session.TransactionUUID)
	}
	log.Infof("[PaymentService] 支付成功, txn: %s, ref: %s, enrollment: %d", session.TransactionUUID, cb.RefID, enrollment.ID)
	return session.RoomID, nil
}

func (s *paymentService) Fail(ctx context.Context, sessionKey string) (uint, error) {
	session, err := s.sessions.Take(ctx, sessionKey)
	if err != nil || session == nil {
		return 0, err
	}
	log.Infof("[PaymentService] 支付失败或取消, txn: %s", session.TransactionUUID)
	return session.RoomID, nil
}
