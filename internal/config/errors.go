package config

import "fmt"

// FieldError 提供字段路径与错误原因，便于 CLI 向用户反馈。
type FieldError struct {
	Field  string
	Reason string
}

func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// newFieldError 创建包含字段路径与原因的 error，便于 CLI 定位。
func newFieldError(field, reason string) error {
	return FieldError{Field: field, Reason: reason}
}

// appField 拼接 App 段字段路径，输出 App.Field 形式。
func appField(field string) string {
	return "App." + field
}

// precacheField 输出 App.Precache[i] 形式的字段路径。
func precacheField(idx int) string {
	return fmt.Sprintf("App.Precache[%d]", idx)
}
