package llm

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/sashabaranov/go-openai"
)

type ErrorCode string

const (
	CodeAuth          ErrorCode = "auth"
	CodeRateLimit     ErrorCode = "rate_limit"
	CodeTransport     ErrorCode = "transport"
	CodeNotConfigured ErrorCode = "not_configured"
)

// Language selects the language of user-facing messages and placeholders.
type Language string

const (
	Chinese Language = "zh"
	English Language = "en"
)

// ParseLanguage maps a config value to a Language, defaulting to Chinese.
func ParseLanguage(s string) Language {
	if Language(s) == English {
		return English
	}
	return Chinese
}

// APIError is a collaborator failure carrying a message that can be shown to
// the user as is.
type APIError struct {
	Code    ErrorCode
	Message string
	Err     error
}

func (e *APIError) Error() string {
	return e.Message
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// IsCode reports whether err is an *APIError with the given code.
func IsCode(err error, code ErrorCode) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == code
}

var userMessages = map[Language]map[ErrorCode]string{
	Chinese: {
		CodeAuth:          "AI API 认证失败，请检查您的 API 密钥",
		CodeRateLimit:     "AI API 调用频率超限，请稍后再试",
		CodeTransport:     "AI API 调用失败，请检查网络或配置",
		CodeNotConfigured: "请先在个人设置中配置 AI API",
	},
	English: {
		CodeAuth:          "AI API authentication failed, please check your API key",
		CodeRateLimit:     "AI API rate limit exceeded, please try again later",
		CodeTransport:     "AI API call failed, please check your network or configuration",
		CodeNotConfigured: "Please configure the AI API in your settings first",
	},
}

var detailFormats = map[Language]string{
	Chinese: "AI API 错误: %s",
	English: "AI API error: %s",
}

// NewAPIError builds an error with the localized message for code. Transport
// errors with a detail mention it.
func NewAPIError(code ErrorCode, lang Language, err error) *APIError {
	msgs, ok := userMessages[lang]
	if !ok {
		msgs = userMessages[Chinese]
	}
	msg := msgs[code]
	if code == CodeTransport && err != nil {
		format, ok := detailFormats[lang]
		if !ok {
			format = detailFormats[Chinese]
		}
		msg = fmt.Sprintf(format, err.Error())
	}
	return &APIError{Code: code, Message: msg, Err: err}
}

// classifyError maps an error returned by go-openai to an APIError.
func classifyError(err error, lang Language) *APIError {
	var existing *APIError
	if errors.As(err, &existing) {
		return existing
	}

	status := 0
	detail := err
	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		status = apiErr.HTTPStatusCode
		if apiErr.Message != "" {
			detail = errors.New(apiErr.Message)
		}
	case errors.As(err, &reqErr):
		status = reqErr.HTTPStatusCode
	}

	switch status {
	case http.StatusUnauthorized:
		return NewAPIError(CodeAuth, lang, err)
	case http.StatusTooManyRequests:
		return NewAPIError(CodeRateLimit, lang, err)
	}

	apiError := NewAPIError(CodeTransport, lang, detail)
	apiError.Err = err
	return apiError
}
