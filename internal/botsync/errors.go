package botsync

import (
	"fmt"

	"github.com/pkg/errors"
)

// ValidationError 调用方输入缺失或非法，不会重试
type ValidationError struct {
	Field string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s is required", e.Field)
}

// IsValidation 判断 err 链中是否有 *ValidationError
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
