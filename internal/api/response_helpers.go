// internal/api/response_helpers.go
package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	apperrors "github.com/Corphon/SceneWeaver/internal/errors"
	"github.com/Corphon/SceneWeaver/internal/services"
)

// APIResponse 统一响应格式
type APIResponse struct {
	Success   bool        `json:"success"`
	Data      interface{} `json:"data,omitempty"`
	Error     *APIError   `json:"error,omitempty"`
	Message   string      `json:"message,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	RequestID string      `json:"request_id,omitempty"`
}

// APIError 错误详情
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// ResponseHelper 响应助手类
type ResponseHelper struct{}

// NewResponseHelper 创建响应助手
func NewResponseHelper() *ResponseHelper {
	return &ResponseHelper{}
}

// Success 成功响应
func (rh *ResponseHelper) Success(c *gin.Context, data interface{}, message ...string) {
	response := &APIResponse{
		Success:   true,
		Data:      data,
		Timestamp: time.Now(),
		RequestID: rh.getRequestID(c),
	}

	if len(message) > 0 {
		response.Message = message[0]
	}

	c.JSON(http.StatusOK, response)
}

// Created 创建成功响应
func (rh *ResponseHelper) Created(c *gin.Context, data interface{}, message ...string) {
	response := &APIResponse{
		Success:   true,
		Data:      data,
		Timestamp: time.Now(),
		RequestID: rh.getRequestID(c),
	}

	if len(message) > 0 {
		response.Message = message[0]
	} else {
		response.Message = "resource created"
	}

	c.JSON(http.StatusCreated, response)
}

// sensitive fragments never echoed to clients
var sensitivePatterns = []string{"api_key", "apikey", "password", "secret", "token", "dsn", "postgres://"}

// sanitizeErrorMessage hides messages that may carry credentials
func sanitizeErrorMessage(message string) string {
	lower := strings.ToLower(message)
	for _, pattern := range sensitivePatterns {
		if strings.Contains(lower, pattern) {
			return "An internal error occurred"
		}
	}
	return message
}

// Error 错误响应
func (rh *ResponseHelper) Error(c *gin.Context, statusCode int, errorCode, message string, details ...string) {
	apiError := &APIError{
		Code:    errorCode,
		Message: sanitizeErrorMessage(message),
	}

	if len(details) > 0 {
		apiError.Details = sanitizeErrorMessage(details[0])
	}

	response := &APIResponse{
		Success:   false,
		Error:     apiError,
		Timestamp: time.Now(),
		RequestID: rh.getRequestID(c),
	}

	c.JSON(statusCode, response)
}

// BadRequest 400错误响应
func (rh *ResponseHelper) BadRequest(c *gin.Context, message string, details ...string) {
	rh.Error(c, http.StatusBadRequest, ErrorBadRequest, message, details...)
}

// NotFound 404错误响应
func (rh *ResponseHelper) NotFound(c *gin.Context, resource string, details ...string) {
	rh.Error(c, http.StatusNotFound, rh.getResourceNotFoundCode(resource), resource+" not found", details...)
}

// InternalError 500错误响应
func (rh *ResponseHelper) InternalError(c *gin.Context, message string, details ...string) {
	rh.Error(c, http.StatusInternalServerError, ErrorInternalError, message, details...)
}

// Conflict 409错误响应
func (rh *ResponseHelper) Conflict(c *gin.Context, message string, details ...string) {
	rh.Error(c, http.StatusConflict, ErrorConflict, message, details...)
}

// Fail maps an engine error to its status and stable code
func (rh *ResponseHelper) Fail(c *gin.Context, err error) {
	status, code := classifyError(err)
	rh.Error(c, status, code, err.Error())
}

// classifyError 错误类型到 HTTP 状态码与错误代码的映射
func classifyError(err error) (int, string) {
	switch {
	case errors.Is(err, services.ErrChoiceUnavailable):
		return http.StatusConflict, ErrorChoiceUnavailable
	case errors.Is(err, services.ErrSceneNotFound):
		return http.StatusNotFound, ErrorSceneNotFound
	case apperrors.IsNotFoundError(err):
		return http.StatusNotFound, ErrorNotFound
	case apperrors.IsValidationError(err):
		return http.StatusBadRequest, ErrorValidation
	case apperrors.IsConflictError(err):
		return http.StatusConflict, ErrorConflict
	case apperrors.IsPersistenceError(err):
		return http.StatusInternalServerError, ErrorSaveFailed
	default:
		return http.StatusInternalServerError, ErrorInternalError
	}
}

// getRequestID 获取请求ID
func (rh *ResponseHelper) getRequestID(c *gin.Context) string {
	return c.GetString(requestIDKey)
}

// getResourceNotFoundCode 根据资源类型生成错误代码
func (rh *ResponseHelper) getResourceNotFoundCode(resource string) string {
	switch resource {
	case "scene":
		return ErrorSceneNotFound
	case "session":
		return ErrorSessionNotFound
	default:
		return ErrorNotFound
	}
}
