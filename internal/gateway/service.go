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

// Package gateway 是合约调用网关的 RPC 核心：校验输入、调用 Dispatcher 或 Call Registry、记录指标。
// gRPC 与 HTTP 适配层只依赖 Backend 接口。
package gateway

import (
	"context"
	"errors"
	"time"

	"compute-gateway/internal/gateway/callid"
	"compute-gateway/internal/gateway/dispatcher"
	"compute-gateway/internal/gateway/journal"
	"compute-gateway/internal/gateway/registry"
	gwerrors "compute-gateway/pkg/errors"
	"compute-gateway/pkg/log"
	"compute-gateway/pkg/metrics"
	"compute-gateway/pkg/tracing"
)

// Backend 网关对外的两个 RPC
type Backend interface {
	// CallContract 提交 payload，返回 Executor 输出
	CallContract(ctx context.Context, payload []byte) ([]byte, error)
	// WaitContractCall 阻塞直到 id 对应的调用完成共识
	WaitContractCall(ctx context.Context, id []byte) ([]byte, error)
}

// Dispatch Dispatcher 的提交面
type Dispatch interface {
	Submit(ctx context.Context, payload []byte) <-chan dispatcher.Result
}

// Subscriber Call Registry 的订阅面
type Subscriber interface {
	Subscribe(id callid.ID) (*registry.Subscription, error)
}

// Service 实现 Backend
type Service struct {
	dispatch Dispatch
	subs     Subscriber
	journal  journal.Journal
	logger   *log.Logger
}

// ServiceOption Service 可选项
type ServiceOption func(*Service)

// WithJournal 设置归档；记录已回收时从 journal 读取结果
func WithJournal(j journal.Journal) ServiceOption {
	return func(s *Service) { s.journal = j }
}

// WithServiceLogger 设置日志
func WithServiceLogger(l *log.Logger) ServiceOption {
	return func(s *Service) { s.logger = l }
}

// NewService 创建 Service
func NewService(d Dispatch, subs Subscriber, opts ...ServiceOption) *Service {
	s := &Service{dispatch: d, subs: subs, logger: log.Nop()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CallContract 实现 Backend
func (s *Service) CallContract(ctx context.Context, payload []byte) ([]byte, error) {
	start := time.Now()
	ctx, span := tracing.StartRPCSpan(ctx, metrics.MethodCallContract)
	out, err := s.callContract(ctx, payload)
	s.finish(metrics.MethodCallContract, start, err)
	tracing.EndSpan(span, err)
	return out, err
}

func (s *Service) callContract(ctx context.Context, payload []byte) ([]byte, error) {
	select {
	case res, ok := <-s.dispatch.Submit(ctx, payload):
		if !ok {
			return nil, gwerrors.ErrChannelClosed
		}
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Output, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// WaitContractCall 实现 Backend；id 长度不为 32 时立即返回 ErrInvalidArg，不触碰 registry
func (s *Service) WaitContractCall(ctx context.Context, raw []byte) ([]byte, error) {
	start := time.Now()
	ctx, span := tracing.StartRPCSpan(ctx, metrics.MethodWaitContractCall)
	out, err := s.waitContractCall(ctx, raw)
	s.finish(metrics.MethodWaitContractCall, start, err)
	tracing.EndSpan(span, err)
	return out, err
}

func (s *Service) waitContractCall(ctx context.Context, raw []byte) ([]byte, error) {
	id, err := callid.Parse(raw)
	if err != nil {
		return nil, err
	}
	sub, err := s.subs.Subscribe(id)
	if errors.Is(err, gwerrors.ErrExpired) {
		return s.archived(ctx, id, err)
	}
	if err != nil {
		return nil, err
	}
	select {
	case o := <-sub.C():
		return o.Output, o.Err
	case <-ctx.Done():
		sub.Cancel()
		return nil, ctx.Err()
	}
}

func (s *Service) archived(ctx context.Context, id callid.ID, expired error) ([]byte, error) {
	if s.journal == nil {
		return nil, expired
	}
	e, err := s.journal.Lookup(ctx, id)
	if err != nil {
		if !errors.Is(err, gwerrors.ErrNotFound) {
			s.logger.Warn("journal lookup failed", "call_id", id.String(), "error", err)
		}
		return nil, expired
	}
	o := e.Outcome()
	return o.Output, o.Err
}

func (s *Service) finish(method string, start time.Time, err error) {
	code := ""
	if err != nil {
		kind := gwerrors.KindOf(err)
		code = kind.String()
		if errors.Is(err, gwerrors.ErrChannelClosed) {
			s.logger.Error("completion channel closed", "method", method, "error", err)
		} else if kind == gwerrors.KindInternal {
			s.logger.Warn("rpc failed", "method", method, "error", gwerrors.Description(err))
		}
	}
	metrics.ObserveRPC(method, start, code)
}

var _ Backend = (*Service)(nil)
