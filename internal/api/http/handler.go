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

// Package http 提供 compute.Web3 的 HTTP 镜像（Hertz）；只调用 gateway.Backend。
package http

import (
	"bytes"
	"context"
	"encoding/hex"
	"strings"
	"time"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/common/utils"
	"github.com/cloudwego/hertz/pkg/protocol/consts"

	"compute-gateway/internal/gateway"
	gwerrors "compute-gateway/pkg/errors"
	"compute-gateway/pkg/metrics"
)

// StatusClientClosedRequest 客户端取消请求（nginx 约定）
const StatusClientClosedRequest = 499

const metricsContentType = "text/plain; version=0.0.4; charset=utf-8"

// CallRequest POST /api/contract/call 请求体；payload 为 base64
type CallRequest struct {
	Payload []byte `json:"payload"`
}

// CallResponse POST /api/contract/call 响应体
type CallResponse struct {
	Payload []byte `json:"payload"`
}

// WaitResponse GET /api/contract/calls/:id 响应体
type WaitResponse struct {
	Output []byte `json:"output"`
}

// Handler HTTP 处理器
type Handler struct {
	backend     gateway.Backend
	waitTimeout time.Duration
	service     string
}

// NewHandler 创建 Handler；waitTimeout>0 时作为等待接口的默认超时
func NewHandler(backend gateway.Backend, waitTimeout time.Duration) *Handler {
	return &Handler{backend: backend, waitTimeout: waitTimeout, service: "compute-gateway"}
}

// HealthCheck 健康检查
func (h *Handler) HealthCheck(ctx context.Context, c *app.RequestContext) {
	c.JSON(consts.StatusOK, utils.H{
		"status":    "ok",
		"timestamp": time.Now().Unix(),
		"service":   h.service,
	})
}

// Metrics 输出 Prometheus 文本格式
func (h *Handler) Metrics(ctx context.Context, c *app.RequestContext) {
	var buf bytes.Buffer
	if err := metrics.WritePrometheus(&buf); err != nil {
		c.JSON(consts.StatusInternalServerError, utils.H{"error": err.Error()})
		return
	}
	c.Data(consts.StatusOK, metricsContentType, buf.Bytes())
}

// CallContract POST /api/contract/call
func (h *Handler) CallContract(ctx context.Context, c *app.RequestContext) {
	start := time.Now()
	var req CallRequest
	if len(c.Request.Body()) == 0 {
		writeRejected(c, metrics.MethodCallContract, start, gwerrors.ErrInvalidArg)
		return
	}
	if err := c.BindJSON(&req); err != nil {
		writeRejected(c, metrics.MethodCallContract, start, gwerrors.Wrap(gwerrors.ErrInvalidArg, err.Error()))
		return
	}
	out, err := h.backend.CallContract(ctx, req.Payload)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(consts.StatusOK, CallResponse{Payload: out})
}

// WaitContractCall GET /api/contract/calls/:id；可选查询参数 timeout（如 30s）覆盖默认等待超时
func (h *Handler) WaitContractCall(ctx context.Context, c *app.RequestContext) {
	start := time.Now()
	raw, err := hex.DecodeString(strings.TrimPrefix(c.Param("id"), "0x"))
	if err != nil {
		writeRejected(c, metrics.MethodWaitContractCall, start, gwerrors.Wrap(gwerrors.ErrInvalidArg, "call id must be hex"))
		return
	}
	timeout := h.waitTimeout
	if s := c.Query("timeout"); s != "" {
		d, err := time.ParseDuration(s)
		if err != nil || d <= 0 {
			writeRejected(c, metrics.MethodWaitContractCall, start, gwerrors.Wrap(gwerrors.ErrInvalidArg, "invalid timeout"))
			return
		}
		timeout = d
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	out, err := h.backend.WaitContractCall(ctx, raw)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(consts.StatusOK, WaitResponse{Output: out})
}

// StatusCode 网关错误对应的 HTTP 状态码
func StatusCode(err error) int {
	switch gwerrors.KindOf(err) {
	case gwerrors.KindInvalidArgument:
		return consts.StatusBadRequest
	case gwerrors.KindNotFound:
		return consts.StatusNotFound
	case gwerrors.KindCanceled:
		return StatusClientClosedRequest
	case gwerrors.KindDeadlineExceeded:
		return consts.StatusGatewayTimeout
	default:
		return consts.StatusInternalServerError
	}
}

func writeError(c *app.RequestContext, err error) {
	c.JSON(StatusCode(err), utils.H{"error": gwerrors.Description(err)})
}

// writeRejected 请求未到达 Backend 即被拒绝时同样计入 RPC 指标
func writeRejected(c *app.RequestContext, method string, start time.Time, err error) {
	metrics.ObserveRPC(method, start, gwerrors.KindOf(err).String())
	writeError(c, err)
}
