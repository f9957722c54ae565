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

// Package grpc 提供 compute.Web3 gRPC 服务端与客户端，与 HTTP 能力对齐；只调用 gateway.Backend。
package grpc

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"compute-gateway/internal/gateway"
	gwerrors "compute-gateway/pkg/errors"
	"compute-gateway/pkg/log"
	"compute-gateway/pkg/metrics"
)

// Server gRPC 服务端，持有 gateway.Backend
type Server struct {
	backend gateway.Backend
}

// NewServer 根据注入的 Backend 创建 gRPC Server
func NewServer(backend gateway.Backend) *Server {
	return &Server{backend: backend}
}

// Register 注册 compute.Web3 到 grpc.Server
func (s *Server) Register(grpcServer *grpc.Server) {
	RegisterWeb3Server(grpcServer, s)
}

// CallContract 实现 Web3Server.CallContract
func (s *Server) CallContract(ctx context.Context, req *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error) {
	if req == nil {
		return nil, rejectInvalid(metrics.MethodCallContract)
	}
	out, err := s.backend.CallContract(ctx, req.GetValue())
	if err != nil {
		return nil, ToStatus(err)
	}
	return wrapperspb.Bytes(out), nil
}

// WaitContractCall 实现 Web3Server.WaitContractCall
func (s *Server) WaitContractCall(ctx context.Context, req *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error) {
	if req == nil {
		return nil, rejectInvalid(metrics.MethodWaitContractCall)
	}
	out, err := s.backend.WaitContractCall(ctx, req.GetValue())
	if err != nil {
		return nil, ToStatus(err)
	}
	return wrapperspb.Bytes(out), nil
}

// rejectInvalid 未到达 Backend 的非法请求同样计入 RPC 指标
func rejectInvalid(method string) error {
	metrics.ObserveRPC(method, time.Now(), gwerrors.KindInvalidArgument.String())
	return status.Error(codes.InvalidArgument, "")
}

// ToStatus 将网关错误映射为 gRPC status：InvalidArgument 不带消息，Internal 原样携带描述
func ToStatus(err error) error {
	if err == nil {
		return nil
	}
	switch gwerrors.KindOf(err) {
	case gwerrors.KindInvalidArgument:
		return status.Error(codes.InvalidArgument, "")
	case gwerrors.KindNotFound:
		return status.Error(codes.NotFound, err.Error())
	case gwerrors.KindCanceled:
		return status.Error(codes.Canceled, err.Error())
	case gwerrors.KindDeadlineExceeded:
		return status.Error(codes.DeadlineExceeded, err.Error())
	default:
		return status.Error(codes.Internal, gwerrors.Description(err))
	}
}

// LoggingInterceptor 记录每次 unary 调用的方法、耗时与状态码
func LoggingInterceptor(logger *log.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		logger.Debug("grpc request", "method", info.FullMethod, "code", status.Code(err).String(), "latency", time.Since(start))
		return resp, err
	}
}

var _ Web3Server = (*Server)(nil)
