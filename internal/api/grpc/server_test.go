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
	"errors"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"compute-gateway/internal/gateway"
	"compute-gateway/internal/gateway/callid"
	"compute-gateway/internal/gateway/dispatcher"
	"compute-gateway/internal/gateway/registry"
	gwerrors "compute-gateway/pkg/errors"
	"compute-gateway/pkg/log"
	"compute-gateway/pkg/metrics"
)

type execFunc func(ctx context.Context, payload []byte) ([]byte, error)

func (f execFunc) Execute(ctx context.Context, payload []byte) ([]byte, error) {
	return f(ctx, payload)
}

type immediateSubmitter struct{ pub dispatcher.Publisher }

func (s immediateSubmitter) Submit(_ context.Context, call dispatcher.CompletedCall) error {
	s.pub.Publish(call.ID, registry.Resolved(call.Output))
	return nil
}

func echo(_ context.Context, payload []byte) ([]byte, error) {
	switch string(payload) {
	case "ping":
		return []byte("pong"), nil
	case "":
		return []byte{}, nil
	}
	return nil, errors.New("unknown method")
}

// startServer 在 bufconn 上启动 gRPC 服务，返回客户端与 registry
func startServer(t *testing.T) (*Client, *registry.Registry) {
	t.Helper()
	reg, err := registry.New(registry.Config{})
	require.NoError(t, err)
	d := dispatcher.New(execFunc(echo), immediateSubmitter{pub: reg}, reg, dispatcher.Config{})
	svc := gateway.NewService(d, reg)

	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer(grpc.UnaryInterceptor(LoggingInterceptor(log.Nop())))
	NewServer(svc).Register(srv)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return NewClient(conn), reg
}

func TestGRPC_CallContractAndWait(t *testing.T) {
	client, _ := startServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	out, err := client.CallContract(ctx, []byte("ping"))
	require.NoError(t, err)
	assert.Equal(t, []byte("pong"), out)

	out, err = client.WaitContractCall(ctx, callid.Derive([]byte("ping")).Bytes())
	require.NoError(t, err)
	assert.Equal(t, []byte("pong"), out)
}

func TestGRPC_CallContractInternalCarriesDescription(t *testing.T) {
	client, _ := startServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := client.CallContract(ctx, []byte("nope"))
	st, ok := status.FromError(err)
	require.True(t, ok)
	assert.Equal(t, codes.Internal, st.Code())
	assert.Equal(t, "unknown method", st.Message())
}

func TestGRPC_WaitShortIDIsInvalidArgument(t *testing.T) {
	client, reg := startServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := client.WaitContractCall(ctx, make([]byte, 31))
	st, ok := status.FromError(err)
	require.True(t, ok)
	assert.Equal(t, codes.InvalidArgument, st.Code())
	assert.Empty(t, st.Message())
	assert.Equal(t, 0, reg.Len())
}

func TestGRPC_WaitDeadline(t *testing.T) {
	client, _ := startServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := client.WaitContractCall(ctx, callid.Derive([]byte("never")).Bytes())
	assert.Equal(t, codes.DeadlineExceeded, status.Code(err))
}

func TestServer_NilRequest(t *testing.T) {
	calls := testutil.ToFloat64(metrics.RPCTotal.WithLabelValues(metrics.MethodCallContract))
	waits := testutil.ToFloat64(metrics.RPCErrorTotal.WithLabelValues(metrics.MethodWaitContractCall, "invalid_argument"))

	s := NewServer(nil)
	_, err := s.CallContract(context.Background(), nil)
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
	_, err = s.WaitContractCall(context.Background(), nil)
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	assert.Equal(t, calls+1, testutil.ToFloat64(metrics.RPCTotal.WithLabelValues(metrics.MethodCallContract)))
	assert.Equal(t, waits+1, testutil.ToFloat64(metrics.RPCErrorTotal.WithLabelValues(metrics.MethodWaitContractCall, "invalid_argument")))
}

func TestToStatus(t *testing.T) {
	cases := []struct {
		err  error
		code codes.Code
		msg  string
	}{
		{fmt.Errorf("bad id: %w", gwerrors.ErrInvalidArg), codes.InvalidArgument, ""},
		{gwerrors.ErrExpired, codes.NotFound, gwerrors.ErrExpired.Error()},
		{context.Canceled, codes.Canceled, context.Canceled.Error()},
		{context.DeadlineExceeded, codes.DeadlineExceeded, context.DeadlineExceeded.Error()},
		{&gwerrors.ExecutionError{Description: "reverted"}, codes.Internal, "reverted"},
		{gwerrors.Wrap(&gwerrors.AgreementError{Description: "batch rejected"}, "submit"), codes.Internal, "batch rejected"},
		{gwerrors.ErrChannelClosed, codes.Internal, gwerrors.ErrChannelClosed.Error()},
	}
	for _, c := range cases {
		st, ok := status.FromError(ToStatus(c.err))
		require.True(t, ok)
		assert.Equal(t, c.code, st.Code(), c.err.Error())
		assert.Equal(t, c.msg, st.Message(), c.err.Error())
	}
	assert.NoError(t, ToStatus(nil))
}
