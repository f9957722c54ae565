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

package grpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// compute.Web3 的服务描述。请求与响应均为 google.protobuf.BytesValue，
// 与只含一个 bytes 字段（编号 1）的消息线上兼容，因此无需生成代码。
const (
	ServiceName              = "compute.Web3"
	CallContractMethod       = "/compute.Web3/CallContract"
	WaitContractCallMethod   = "/compute.Web3/WaitContractCall"
	web3ServiceMetadataProto = "compute/web3.proto"
)

// Web3Server compute.Web3 服务端接口
type Web3Server interface {
	CallContract(context.Context, *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error)
	WaitContractCall(context.Context, *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error)
}

// RegisterWeb3Server 注册服务到 grpc.Server
func RegisterWeb3Server(s grpc.ServiceRegistrar, srv Web3Server) {
	s.RegisterService(&Web3ServiceDesc, srv)
}

func web3CallContractHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(wrapperspb.BytesValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(Web3Server).CallContract(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: CallContractMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(Web3Server).CallContract(ctx, req.(*wrapperspb.BytesValue))
	}
	return interceptor(ctx, in, info, handler)
}

func web3WaitContractCallHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(wrapperspb.BytesValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(Web3Server).WaitContractCall(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: WaitContractCallMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(Web3Server).WaitContractCall(ctx, req.(*wrapperspb.BytesValue))
	}
	return interceptor(ctx, in, info, handler)
}

// Web3ServiceDesc compute.Web3 的 grpc.ServiceDesc
var Web3ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*Web3Server)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "CallContract", Handler: web3CallContractHandler},
		{MethodName: "WaitContractCall", Handler: web3WaitContractCallHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: web3ServiceMetadataProto,
}
