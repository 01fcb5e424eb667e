package httptransport

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"mailport/backend/internal/auth"
	"mailport/backend/internal/domain"
	"mailport/backend/internal/service"
	"mailport/backend/internal/smtp"
	"mailport/backend/internal/storage"
)

type errorMapping struct {
	err    error
	status int
	msg    string
}

// 业务错误 -> HTTP 状态码与中文消息，按顺序用 errors.Is 匹配
var errorMappings = []errorMapping{
	// 认证
	{auth.ErrInvalidCredentials, http.StatusUnauthorized, MsgInvalidCredentials},
	{auth.ErrUserInactive, http.StatusUnauthorized, MsgInvalidCredentials},
	{auth.ErrWrongPassword, http.StatusBadRequest, "当前密码错误"},

	// 资源
	{storage.ErrEmailNotFound, http.StatusNotFound, MsgEmailNotFound},
	{storage.ErrAttachmentNotFound, http.StatusNotFound, MsgAttachmentNotFound},
	{storage.ErrUserNotFound, http.StatusNotFound, MsgUserNotFound},
	{storage.ErrUsernameExists, http.StatusConflict, "用户名已存在"},
	{storage.ErrUserEmailExists, http.StatusConflict, "邮箱已被使用"},

	// 邮件处理
	{service.ErrRecipientRequired, http.StatusBadRequest, "请指定收件人或配置默认转发地址"},
	{service.ErrReplyContentRequired, http.StatusBadRequest, "回复内容不能为空"},
	{service.ErrNotImage, http.StatusBadRequest, "该附件不是图片"},
	{service.ErrMailNotConfigured, http.StatusBadRequest, "未配置 SMTP 服务器"},
	{service.ErrBackfillRunning, http.StatusConflict, "会话整理正在进行中"},
	{smtp.ErrCircuitOpen, http.StatusServiceUnavailable, "邮件服务器暂时不可用，请稍后重试"},

	// 用户管理
	{service.ErrCannotDeactivateSelf, http.StatusBadRequest, "不能禁用自己的账户"},
	{service.ErrCannotDeleteSelf, http.StatusBadRequest, "不能删除自己的账户"},

	// 参数校验
	{domain.ErrInvalidEmail, http.StatusBadRequest, "邮箱格式无效"},
	{domain.ErrEmailTooLong, http.StatusBadRequest, "邮箱地址过长"},
	{domain.ErrPasswordTooShort, http.StatusBadRequest, "密码至少 6 位"},
	{domain.ErrPasswordTooLong, http.StatusBadRequest, "密码最多 128 位"},
	{domain.ErrUsernameTooShort, http.StatusBadRequest, "用户名至少 3 位"},
	{domain.ErrUsernameTooLong, http.StatusBadRequest, "用户名最多 30 位"},
	{domain.ErrInvalidUsername, http.StatusBadRequest, "用户名只能包含字母和数字"},
	{domain.ErrFullNameLength, http.StatusBadRequest, "姓名长度需在 2-100 之间"},
	{domain.ErrInvalidRole, http.StatusBadRequest, "角色无效"},
	{domain.ErrInvalidRetention, http.StatusBadRequest, "天数需在 1-365 之间"},
	{domain.ErrInvalidPort, http.StatusBadRequest, "端口需在 1-65535 之间"},
}

// 通用错误消息
const (
	MsgInvalidRequest     = "请求参数格式错误"
	MsgInvalidCredentials = "用户名或密码错误"
	MsgEmailNotFound      = "邮件不存在"
	MsgAttachmentNotFound = "附件不存在"
	MsgUserNotFound       = "用户不存在"
	MsgInternalError      = "服务器内部错误，请稍后重试"
)

// lookupError 查找错误对应的状态码和消息，未知错误返回 500
func lookupError(err error) (int, string) {
	for _, m := range errorMappings {
		if errors.Is(err, m.err) {
			return m.status, m.msg
		}
	}
	return http.StatusInternalServerError, MsgInternalError
}

// respondError 按错误类型返回响应，500 记录错误日志
func respondError(c *gin.Context, log *zap.Logger, action string, err error) {
	status, msg := lookupError(err)
	if status == http.StatusInternalServerError {
		log.Error(action+" failed",
			zap.String("path", c.Request.URL.Path),
			zap.Error(err),
		)
	}
	Error(c, status, msg)
}
