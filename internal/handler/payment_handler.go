package handler

import (
	"errors"
	"net/http"
	"net/url"
	"strconv"

	"github.com/gin-gonic/gin"
	"innovacollab/internal/config"
	"innovacollab/internal/service"
	"innovacollab/pkg/log"
)

// 回跳前端时附带的 status 参数
const (
	statusPaid         = "success"
	statusCancelled    = "failed"
	statusExpired      = "expired"
	statusVerifyFailed = "verification_failed"
	statusError        = "error"
)

// PaymentHandler 处理结账与 eSewa 回调。
type PaymentHandler struct {
	paymentService service.PaymentService
	cfg            config.PaymentConfig
}

// NewPaymentHandler 创建一个新的 PaymentHandler 实例。
func NewPaymentHandler(paymentService service.PaymentService, cfg config.PaymentConfig) *PaymentHandler {
	return &PaymentHandler{paymentService: paymentService, cfg: cfg}
}

// Checkout 为待支付的高级报名开启支付会话，返回已签名的网关表单。
func (h *PaymentHandler) Checkout(c *gin.Context) {
	roomID, ok := pathID(c, "id")
	if !ok {
		return
	}
	enrollmentID, ok := pathID(c, "eid")
	if !ok {
		return
	}
	rc := requestContext(c)
	checkout, err := h.paymentService.StartCheckout(c.Request.Context(), rc.User, rc.SessionKey, roomID, enrollmentID)
	if err != nil {
		fail(c, "Checkout", err)
		return
	}
	success(c, checkout)
}

// Success 是网关的成功回调。校验失败同样跳转到失败页面。
func (h *PaymentHandler) Success(c *gin.Context) {
	rc := requestContext(c)
	roomID, err := h.paymentService.Complete(c.Request.Context(), rc.SessionKey, c.Request.URL.Query())
	switch {
	case err == nil:
		log.Infof("[PaymentHandler] 支付完成, room: %d", roomID)
		h.redirect(c, h.cfg.FrontendSuccessURL, roomID, statusPaid)
	case errors.Is(err, service.ErrSessionExpired):
		log.Warnf("[PaymentHandler] 支付会话不存在或已过期: %v", err)
		h.redirect(c, h.cfg.FrontendFailureURL, roomID, statusExpired)
	case errors.Is(err, service.ErrVerificationMismatch):
		log.Warnf("[PaymentHandler] 支付校验失败: %v", err)
		h.redirect(c, h.cfg.FrontendFailureURL, roomID, statusVerifyFailed)
	default:
		log.Errorf("[PaymentHandler] 处理支付回调失败: %v", err)
		h.redirect(c, h.cfg.FrontendFailureURL, roomID, statusError)
	}
}

// Failure 是网关的失败回调，丢弃当前支付会话。
func (h *PaymentHandler) Failure(c *gin.Context) {
	rc := requestContext(c)
	roomID, err := h.paymentService.Fail(c.Request.Context(), rc.SessionKey)
	if err != nil {
		log.Errorf("[PaymentHandler] 丢弃支付会话失败: %v", err)
	}
	h.redirect(c, h.cfg.FrontendFailureURL, roomID, statusCancelled)
}

func (h *PaymentHandler) redirect(c *gin.Context, target string, roomID uint, status string) {
	u, err := url.Parse(target)
	if err != nil || target == "" {
		c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": status, "data": gin.H{"roomId": roomID}})
		return
	}
	q := u.Query()
	q.Set("status", status)
	if roomID != 0 {
		q.Set("room_id", strconv.FormatUint(uint64(roomID), 10))
	}
	u.RawQuery = q.Encode()
	c.Redirect(http.StatusFound, u.String())
}
