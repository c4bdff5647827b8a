package errors

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
)

// ErrOptimisticLock 乐观锁冲突：记录已被其他操作修改
var ErrOptimisticLock = errors.New("数据已被其他操作修改，请刷新后重试")

// ── 对账错误分类 ──
//
// 调用方统一用 errors.Is 判断类别，不要比较错误文本。

var (
	// ErrValidation 输入不合法（例如请假结束日期早于开始日期），不应自动重试
	ErrValidation = errors.New("参数校验失败")
	// ErrConflict 目标已被其他操作员处理，前端应刷新并跳过
	ErrConflict = errors.New("目标已被其他操作处理")
	// ErrTransport 存储不可达或超时，可原样重试
	ErrTransport = errors.New("存储服务暂不可用")
	// ErrClassification 对账行无法判定状态
	ErrClassification = errors.New("对账行无法判定")
)

// TargetError 为错误附带受影响的行/条目 ID，批量操作据此归因
type TargetError struct {
	TargetID string
	Err      error
}

func (e *TargetError) Error() string {
	return fmt.Sprintf("%s: %v", e.TargetID, e.Err)
}

func (e *TargetError) Unwrap() error { return e.Err }

// WithTarget 用目标 ID 包装错误；err 为 nil 时返回 nil
func WithTarget(targetID string, err error) error {
	if err == nil {
		return nil
	}
	var te *TargetError
	if errors.As(err, &te) && te.TargetID == targetID {
		return err
	}
	return &TargetError{TargetID: targetID, Err: err}
}

// TargetOf 取出错误链上最近的目标 ID
func TargetOf(err error) (string, bool) {
	var te *TargetError
	if errors.As(err, &te) {
		return te.TargetID, true
	}
	return "", false
}

// Validation 构造带说明的校验错误
func Validation(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// Conflict 构造带说明的冲突错误
func Conflict(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConflict, fmt.Sprintf(format, args...))
}

// Translate 将存储层错误归入上面的分类，已分类或无法识别的错误原样返回
func Translate(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrValidation) || errors.Is(err, ErrConflict) ||
		errors.Is(err, ErrTransport) || errors.Is(err, ErrClassification) {
		return err
	}
	if errors.Is(err, ErrOptimisticLock) {
		return fmt.Errorf("%w: %v", ErrConflict, err)
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, driver.ErrBadConn) {
		return fmt.Errorf("%w: %v", ErrTransport, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return fmt.Errorf("%w: %v", ErrTransport, err)
	}
	return err
}

// Retryable 仅传输类错误可以原样重试
func Retryable(err error) bool {
	return errors.Is(err, ErrTransport)
}
