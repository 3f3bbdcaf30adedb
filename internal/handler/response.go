// Package handler 包含了处理 HTTP 请求的控制器逻辑。
package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"docchat-go/internal/middleware"
	"docchat-go/internal/service"
	"docchat-go/pkg/log"
)

func ok(c *gin.Context, message string, data interface{}) {
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": message, "data": data})
}

func fail(c *gin.Context, status int, message string) {
	c.JSON(status, gin.H{"code": status, "message": message, "data": nil})
}

// statusOf 将服务层错误映射为 HTTP 状态码。
func statusOf(err error) int {
	var tooLarge *http.MaxBytesError
	switch {
	case errors.Is(err, service.ErrThreadNotFound), errors.Is(err, service.ErrDocumentNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, service.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrThreadActive):
		return http.StatusConflict
	case errors.As(err, &tooLarge):
		return http.StatusRequestEntityTooLarge
	}
	if kind, ok := service.KindOf(err); ok && kind == service.KindAIService {
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// writeError 写出错误响应。5xx 只返回概要信息，细节写入日志。
func writeError(c *gin.Context, op string, err error) {
	status := statusOf(err)
	message := err.Error()
	if status >= http.StatusInternalServerError {
		log.Errorw("[Handler] 请求处理失败", "op", op, "path", c.Request.URL.Path, "userId", userID(c), "error", err)
		message = op + " failed"
		if kind, ok := service.KindOf(err); ok {
			message = string(kind) + ": " + message
		}
	}
	fail(c, status, message)
}

func userID(c *gin.Context) string {
	return c.GetString(middleware.ContextUserID)
}
