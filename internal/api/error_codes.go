// internal/api/error_codes.go
package api

// API错误代码常量
const (
	// 通用错误
	ErrorBadRequest        = "BAD_REQUEST"
	ErrorNotFound          = "NOT_FOUND"
	ErrorInternalError     = "INTERNAL_ERROR"
	ErrorConflict          = "CONFLICT"
	ErrorValidation        = "VALIDATION_ERROR"
	ErrorRateLimitExceeded = "RATE_LIMIT_EXCEEDED"

	// 会话相关错误
	ErrorSessionNotFound = "SESSION_NOT_FOUND"
	ErrorSessionInvalid  = "SESSION_INVALID"

	// 场景相关错误
	ErrorSceneNotFound = "SCENE_NOT_FOUND"

	// 选项相关错误
	ErrorChoiceUnavailable = "CHOICE_UNAVAILABLE"
	ErrorChoiceInvalid     = "CHOICE_INVALID"

	// 存档相关错误
	ErrorSaveFailed = "SAVE_FAILED"

	// WebSocket 消息错误
	ErrorMessageInvalid = "MESSAGE_INVALID"
)
