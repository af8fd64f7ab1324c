package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"innovacollab/internal/service"
	"innovacollab/pkg/log"
)

// AdminHandler 负责处理所有与管理员相关的 API 请求。
type AdminHandler struct {
	adminService service.AdminService
}

// NewAdminHandler 创建一个新的 AdminHandler 实例。
func NewAdminHandler(adminService service.AdminService) *AdminHandler {
	return &AdminHandler{adminService: adminService}
}

// ListUsers 处理分页获取用户列表的请求。
func (h *AdminHandler) ListUsers(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	size, _ := strconv.Atoi(c.DefaultQuery("size", "20"))

	userList, err := h.adminService.ListUsers(page, size)
	if err != nil {
		log.Error("ListUsers: Failed to list users", err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "获取用户列表失败", "data": nil})
		return
	}
	success(c, userList)
}

// ListPayments 分页列出支付记录，按支付时间倒序。
func (h *AdminHandler) ListPayments(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	size, _ := strconv.Atoi(c.DefaultQuery("size", "20"))

	payments, err := h.adminService.ListPayments(page, size)
	if err != nil {
		log.Error("ListPayments: Failed to list payments", err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "获取支付列表失败", "data": nil})
		return
	}
	success(c, payments)
}

// Reconcile 立即清理超时未支付的高级报名。
func (h *AdminHandler) Reconcile(c *gin.Context) {
	removed, err := h.adminService.Reconcile(time.Now())
	if err != nil {
		log.Error("Reconcile: Failed to sweep pending enrollments", err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "清理失败", "data": nil})
		return
	}
	user := requestContext(c).User
	log.Infof("Admin user '%s' reconciled pending enrollments, removed %d", user.Username, removed)
	success(c, gin.H{"removed": removed})
}
