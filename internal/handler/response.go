// Package handler 包含了处理 HTTP 请求的控制器逻辑。
package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"innovacollab/internal/middleware"
	"innovacollab/internal/model"
	"innovacollab/internal/service"
	"innovacollab/pkg/log"
)

// RequestContext 是中间件解析出的请求上下文。User 为 nil 表示匿名请求。
type RequestContext struct {
	User       *model.User
	SessionKey string
}

func requestContext(c *gin.Context) *RequestContext {
	return &RequestContext{
		User:       middleware.CurrentUser(c),
		SessionKey: middleware.SessionKey(c),
	}
}

// statusOf 把业务错误映射为 HTTP 状态码。
func statusOf(err error) int {
	switch {
	case errors.Is(err, service.ErrValidation), errors.Is(err, service.ErrEmptyHistory):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, service.ErrPermissionDenied):
		return http.StatusForbidden
	case errors.Is(err, service.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, service.ErrExternalService):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// messageOf 内部错误不向客户端暴露细节。
func messageOf(status int, err error) string {
	if status == http.StatusInternalServerError {
		return "服务器内部错误"
	}
	return err.Error()
}

func success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": data})
}

func created(c *gin.Context, data interface{}) {
	c.JSON(http.StatusCreated, gin.H{"code": http.StatusCreated, "message": "success", "data": data})
}

// fail 以统一信封 {code, message, data} 返回错误。
func fail(c *gin.Context, op string, err error) {
	status := statusOf(err)
	logFailure(op, status, err)
	c.JSON(status, gin.H{"code": status, "message": messageOf(status, err), "data": nil})
}

// failPlain 返回 {"error": ...}，供聊天类接口使用。
func failPlain(c *gin.Context, op string, err error) {
	status := statusOf(err)
	logFailure(op, status, err)
	c.JSON(status, gin.H{"error": messageOf(status, err)})
}

func badRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": message, "data": nil})
}

// formOverhead 为表单字段与 multipart 边界预留的空间。
const formOverhead = 1 << 20

// limitBody 限制请求体大小，超出后读取请求体会返回 *http.MaxBytesError。
func limitBody(c *gin.Context, maxBytes int64) {
	if maxBytes > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes+formOverhead)
	}
}

func tooLarge(err error) bool {
	var mbe *http.MaxBytesError
	return errors.As(err, &mbe)
}

func logFailure(op string, status int, err error) {
	if status >= http.StatusInternalServerError {
		log.Errorf("%s: %v", op, err)
		return
	}
	log.Warnf("%s: %v", op, err)
}

// pathID 解析路径中的数字 ID，失败时直接写出 400。
func pathID(c *gin.Context, name string) (uint, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || id == 0 {
		badRequest(c, "无效的 "+name)
		return 0, false
	}
	return uint(id), true
}
