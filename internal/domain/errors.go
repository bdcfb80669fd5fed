package domain

import "errors"

// 错误分类。服务边界上的错误都用 fmt.Errorf("...: %w") 包装其中之一，
// 调用方用 errors.Is 判断类别。
var (
	// ErrProviderUnavailable 环境中没有检测到钱包能力
	ErrProviderUnavailable = errors.New("wallet provider unavailable")
	// ErrAuthorizationDenied 钱包拒绝了授权请求
	ErrAuthorizationDenied = errors.New("wallet authorization denied")
	// ErrNotInitialized 没有活跃会话（钱包未连接）
	ErrNotInitialized = errors.New("not initialized: wallet not connected")
	// ErrInvalidOrder 下单参数缺失或格式错误（在任何网络 I/O 之前拒绝）
	ErrInvalidOrder = errors.New("invalid order")
	// ErrAccountSetupFailed 金库/关联账户推导或创建失败
	ErrAccountSetupFailed = errors.New("account setup failed")
	// ErrSubmissionFailed 交易提交失败（包装底层传输错误）
	ErrSubmissionFailed = errors.New("submission failed")
	// ErrNotFound 查询的账户或交易不存在
	ErrNotFound = errors.New("not found")
)

// Kind 返回错误所属的分类名，无法识别时返回空字符串
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrProviderUnavailable):
		return "ProviderUnavailable"
	case errors.Is(err, ErrAuthorizationDenied):
		return "AuthorizationDenied"
	case errors.Is(err, ErrNotInitialized):
		return "NotInitialized"
	case errors.Is(err, ErrInvalidOrder):
		return "InvalidOrder"
	case errors.Is(err, ErrAccountSetupFailed):
		return "AccountSetupFailed"
	case errors.Is(err, ErrSubmissionFailed):
		return "SubmissionFailed"
	case errors.Is(err, ErrNotFound):
		return "NotFound"
	}
	return ""
}
