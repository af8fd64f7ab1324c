package handler

import (
	"github.com/gin-gonic/gin"
	"innovacollab/internal/service"
	"innovacollab/pkg/log"
)

// EnrollmentHandler 处理报名与房间内容。
type EnrollmentHandler struct {
	enrollmentService service.EnrollmentService
}

// NewEnrollmentHandler 创建一个新的 EnrollmentHandler 实例。
func NewEnrollmentHandler(enrollmentService service.EnrollmentService) *EnrollmentHandler {
	return &EnrollmentHandler{enrollmentService: enrollmentService}
}

func (h *EnrollmentHandler) EnrollFree(c *gin.Context) {
	roomID, ok := pathID(c, "id")
	if !ok {
		return
	}
	enrollment, isNew, err := h.enrollmentService.EnrollFree(requestContext(c).User, roomID)
	if err != nil {
		fail(c, "EnrollFree", err)
		return
	}
	if isNew {
		created(c, enrollment)
		return
	}
	success(c, enrollment)
}

// EnrollPremium 提交高级报名表，返回待支付的报名记录。
func (h *EnrollmentHandler) EnrollPremium(c *gin.Context) {
	roomID, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req service.PremiumEnrollmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Warnf("EnrollPremium: Invalid request payload, error: %v", err)
		badRequest(c, "无效的请求负载")
		return
	}
	enrollment, isNew, err := h.enrollmentService.EnrollPremium(requestContext(c).User, roomID, req)
	if err != nil {
		fail(c, "EnrollPremium", err)
		return
	}
	if isNew {
		created(c, enrollment)
		return
	}
	success(c, enrollment)
}

func (h *EnrollmentHandler) ListMine(c *gin.Context) {
	enrollments, err := h.enrollmentService.ListMine(requestContext(c).User)
	if err != nil {
		fail(c, "ListEnrollments", err)
		return
	}
	success(c, enrollments)
}

// RoomView 返回已报名用户在房间内可见的功能与资料。
func (h *EnrollmentHandler) RoomView(c *gin.Context) {
	roomID, ok := pathID(c, "id")
	if !ok {
		return
	}
	view, err := h.enrollmentService.RoomView(requestContext(c).User, roomID)
	if err != nil {
		fail(c, "RoomView", err)
		return
	}
	success(c, view)
}
