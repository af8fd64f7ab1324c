package handler

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"innovacollab/internal/service"
	"innovacollab/pkg/log"
)

// UserHandler 负责处理所有与普通用户相关的 API 请求。
type UserHandler struct {
	userService service.UserService
}

// NewUserHandler 创建一个新的 UserHandler 实例。
func NewUserHandler(userService service.UserService) *UserHandler {
	return &UserHandler{userService: userService}
}

// Register 处理用户注册请求。
func (h *UserHandler) Register(c *gin.Context) {
	var req service.RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Warnf("Register: Invalid request payload, error: %v", err)
		badRequest(c, "无效的请求负载：用户名、邮箱和密码不能为空")
		return
	}

	user, err := h.userService.Register(req)
	if err != nil {
		fail(c, "Register", err)
		return
	}
	log.Infof("User '%s' registered successfully", user.Username)
	created(c, user)
}

// LoginRequest 定义了用户登录 API 的请求体结构，login 可以是用户名或邮箱。
type LoginRequest struct {
	Login    string `json:"login" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// Login 处理用户登录请求。
func (h *UserHandler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Warnf("Login: Invalid request payload, error: %v", err)
		badRequest(c, "无效的请求负载：用户名和密码不能为空")
		return
	}

	accessToken, refreshToken, err := h.userService.Login(req.Login, req.Password)
	if err != nil {
		fail(c, "Login", err)
		return
	}

	log.Infof("User '%s' logged in successfully", req.Login)
	c.JSON(http.StatusOK, gin.H{
		"code":    http.StatusOK,
		"message": "Login successful",
		"data": gin.H{
			"token":        accessToken,
			"refreshToken": refreshToken,
		},
	})
}

// GetProfile 获取当前登录用户的个人信息及联系方式。
func (h *UserHandler) GetProfile(c *gin.Context) {
	rc := requestContext(c)
	profile, err := h.userService.GetProfile(rc.User.ID)
	if err != nil {
		fail(c, "GetProfile", err)
		return
	}
	success(c, profile)
}

// Logout 将当前 access token 加入黑名单。
func (h *UserHandler) Logout(c *gin.Context) {
	rc := requestContext(c)
	tokenString := strings.TrimSpace(strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer "))
	if tokenString == "" {
		tokenString = c.Query("token")
	}

	if err := h.userService.Logout(c.Request.Context(), tokenString); err != nil {
		fail(c, "Logout", err)
		return
	}
	log.Infof("User '%s' logged out successfully", rc.User.Username)
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "登出成功", "data": nil})
}
