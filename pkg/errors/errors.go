// Copyright 2026 fanjia1024
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package errors 提供网关统一错误分类与辅助函数，不依赖 internal 与传输层
package errors

import (
	"context"
	"errors"
	"fmt"
)

// 哨兵错误
var (
	ErrNotFound   = errors.New("not found")
	ErrInvalidArg = errors.New("invalid argument")
	// ErrExpired 调用记录已在 resolve 后被回收；errors.Is(ErrExpired, ErrNotFound) 为 true
	ErrExpired = fmt.Errorf("call expired: %w", ErrNotFound)
	// ErrChannelClosed 异步完成通道在投递结果前被关闭（任务中止或 panic）
	ErrChannelClosed = errors.New("completion channel closed before delivering a result")
)

// ExecutionError Executor 未能产出输出
type ExecutionError struct {
	Description string
}

func (e *ExecutionError) Error() string {
	return e.Description
}

// AgreementError 执行成功后 Consensus Submitter 失败
type AgreementError struct {
	Description string
}

func (e *AgreementError) Error() string {
	return e.Description
}

// NewExecutionError 以 err 的文本构造 ExecutionError
func NewExecutionError(err error) *ExecutionError {
	if err == nil {
		return nil
	}
	var ee *ExecutionError
	if errors.As(err, &ee) {
		return ee
	}
	return &ExecutionError{Description: err.Error()}
}

// NewAgreementError 以 err 的文本构造 AgreementError
func NewAgreementError(err error) *AgreementError {
	if err == nil {
		return nil
	}
	var ae *AgreementError
	if errors.As(err, &ae) {
		return ae
	}
	return &AgreementError{Description: err.Error()}
}

// Kind 错误类别，供传输层映射状态码
type Kind int

const (
	KindInternal Kind = iota
	KindInvalidArgument
	KindNotFound
	KindCanceled
	KindDeadlineExceeded
)

// String 返回类别名，用作指标 code 标签
func (k Kind) String() string {
	switch k {
	case KindInvalidArgument:
		return "invalid_argument"
	case KindNotFound:
		return "not_found"
	case KindCanceled:
		return "canceled"
	case KindDeadlineExceeded:
		return "deadline_exceeded"
	default:
		return "internal"
	}
}

// KindOf 返回 err 的类别；nil 视为 KindInternal，调用方应先判断 nil
func KindOf(err error) Kind {
	switch {
	case errors.Is(err, ErrInvalidArg):
		return KindInvalidArgument
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, context.Canceled):
		return KindCanceled
	case errors.Is(err, context.DeadlineExceeded):
		return KindDeadlineExceeded
	default:
		return KindInternal
	}
}

// Description 返回需原样透传给客户端的错误描述
func Description(err error) string {
	if err == nil {
		return ""
	}
	var ee *ExecutionError
	if errors.As(err, &ee) {
		return ee.Description
	}
	var ae *AgreementError
	if errors.As(err, &ae) {
		return ae.Description
	}
	if errors.Is(err, ErrChannelClosed) {
		return ErrChannelClosed.Error()
	}
	return err.Error()
}

// Is / As 转发标准库，便于调用方只导入本包
func Is(err, target error) bool { return errors.Is(err, target) }

func As(err error, target any) bool { return errors.As(err, target) }

// Wrap 包装错误并附加消息
func Wrap(err error, msg string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", msg, err)
}

// Wrapf 带格式的 Wrap
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}
