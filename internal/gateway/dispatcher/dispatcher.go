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

// Package dispatcher 将调用 payload 交给 Executor，执行完成后把结果交给 Consensus Submitter；
// 执行或提交失败时直接在 registry 上发布 Failed，保证等待者不会永久挂起。
package dispatcher

import (
	"context"
	"time"

	"compute-gateway/internal/gateway/callid"
	"compute-gateway/internal/gateway/registry"
	gwerrors "compute-gateway/pkg/errors"
	"compute-gateway/pkg/log"
	"compute-gateway/pkg/metrics"
	"compute-gateway/pkg/tracing"
)

// Executor 执行引擎：运行一次合约调用并返回输出
type Executor interface {
	Execute(ctx context.Context, payload []byte) ([]byte, error)
}

// CompletedCall 已执行完成、待共识确认的调用
type CompletedCall struct {
	ID      callid.ID
	Payload []byte
	Output  []byte
}

// Submitter Consensus Submitter：接收已完成调用，最终对该 id 调用 Publisher.Publish
type Submitter interface {
	Submit(ctx context.Context, call CompletedCall) error
}

// Publisher registry 的发布面；Dispatcher 与 Submitter 只通过它写结果
type Publisher interface {
	Publish(id callid.ID, outcome registry.Outcome) bool
}

// Reopener 可选的发布面扩展：执行前解除已回收 id 的 tombstone，使重新提交的调用可被等待
type Reopener interface {
	Reopen(id callid.ID) bool
}

// IDFunc 由 payload 计算 CallID
type IDFunc func(payload []byte) callid.ID

// Result 单次提交的即时结果，经单次使用的 channel 投递
type Result struct {
	ID     callid.ID
	Output []byte
	Err    error
}

// Config Dispatcher 配置
type Config struct {
	Limits         LimitConfig
	ExecuteTimeout time.Duration // 单次执行超时，<=0 不限
	SubmitTimeout  time.Duration // 交给 Submitter 的超时，<=0 不限
}

// Dispatcher 每次 Submit 派生一个 goroutine，结果经容量为 1 的 channel 返回
type Dispatcher struct {
	exec      Executor
	submitter Submitter
	publisher Publisher
	idFunc    IDFunc
	admit     *admission
	cfg       Config
	logger    *log.Logger
}

// Option Dispatcher 可选项
type Option func(*Dispatcher)

// WithIDFunc 替换默认的 Keccak-256 id 计算
func WithIDFunc(f IDFunc) Option {
	return func(d *Dispatcher) { d.idFunc = f }
}

// WithLogger 设置日志
func WithLogger(l *log.Logger) Option {
	return func(d *Dispatcher) { d.logger = l }
}

// New 创建 Dispatcher
func New(exec Executor, submitter Submitter, publisher Publisher, cfg Config, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		exec:      exec,
		submitter: submitter,
		publisher: publisher,
		idFunc:    callid.Derive,
		admit:     newAdmission(cfg.Limits),
		cfg:       cfg,
		logger:    log.Nop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// CallID 返回 payload 对应的 CallID
func (d *Dispatcher) CallID(payload []byte) callid.ID {
	return d.idFunc(payload)
}

// Submit 异步执行 payload。返回的 channel 至多投递一个 Result 后关闭；
// 若任务异常中止，channel 直接关闭而不投递，调用方应视为 ErrChannelClosed。
// ctx 仅约束准入等待；准入后执行与提交脱离 ctx 继续进行，使该 id 总会被发布。
func (d *Dispatcher) Submit(ctx context.Context, payload []byte) <-chan Result {
	ch := make(chan Result, 1)
	go d.run(ctx, payload, ch)
	return ch
}

func (d *Dispatcher) run(ctx context.Context, payload []byte, ch chan<- Result) {
	var (
		id        callid.ID
		admitted  bool
		published bool
	)
	defer close(ch)
	defer func() {
		p := recover()
		if p == nil {
			return
		}
		d.logger.Error("dispatch task aborted", "panic", p, "call_id", id.String())
		if admitted && !published {
			d.publisher.Publish(id, registry.Failed(gwerrors.ErrChannelClosed))
		}
	}()

	if err := d.admit.acquire(ctx); err != nil {
		ch <- Result{Err: err}
		return
	}
	defer d.admit.release()
	metrics.DispatcherInflight.Inc()
	defer metrics.DispatcherInflight.Dec()

	id = d.idFunc(payload)
	admitted = true
	if ro, ok := d.publisher.(Reopener); ok {
		ro.Reopen(id)
	}
	detached := context.WithoutCancel(ctx)

	execCtx, cancel := withOptionalTimeout(detached, d.cfg.ExecuteTimeout)
	execCtx, span := tracing.StartExecuteSpan(execCtx, id.String())
	output, err := d.exec.Execute(execCtx, payload)
	tracing.EndSpan(span, err)
	cancel()
	if err != nil {
		execErr := gwerrors.NewExecutionError(err)
		published = true
		d.publisher.Publish(id, registry.Failed(execErr))
		d.logger.Warn("call execution failed", "call_id", id.String(), "error", execErr.Description)
		ch <- Result{ID: id, Err: execErr}
		return
	}

	ch <- Result{ID: id, Output: output}

	subCtx, cancel := withOptionalTimeout(detached, d.cfg.SubmitTimeout)
	defer cancel()
	err = d.submitter.Submit(subCtx, CompletedCall{ID: id, Payload: payload, Output: output})
	published = true
	if err != nil {
		agreeErr := gwerrors.NewAgreementError(err)
		d.publisher.Publish(id, registry.Failed(agreeErr))
		d.logger.Warn("call submission failed", "call_id", id.String(), "error", agreeErr.Description)
	}
}

func withOptionalTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
