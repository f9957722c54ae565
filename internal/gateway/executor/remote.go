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

// Package executor 提供 Executor 实现：通过 HTTP 调用外部执行引擎
package executor

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	gwerrors "compute-gateway/pkg/errors"
	"compute-gateway/pkg/utils"
)

const defaultExecutePath = "/v1/execute"

// RemoteConfig 远程执行引擎配置
type RemoteConfig struct {
	Endpoint string        // 如 http://executor:9100
	Path     string        // 默认 /v1/execute
	Timeout  time.Duration // 单次请求超时，默认 30s
	Token    string        // 可选 Bearer token
}

// Remote 以 application/octet-stream POST payload，响应体即输出；网关不重试
type Remote struct {
	client *resty.Client
	path   string
}

// NewRemote 创建远程 Executor
func NewRemote(cfg RemoteConfig) (*Remote, error) {
	if cfg.Endpoint == "" {
		return nil, errors.New("executor endpoint required")
	}
	timeout := utils.Positive(cfg.Timeout, 30*time.Second)
	path := utils.CoalesceString(cfg.Path, defaultExecutePath)
	client := resty.New().
		SetBaseURL(strings.TrimSuffix(cfg.Endpoint, "/")).
		SetTimeout(timeout).
		SetRetryCount(0).
		SetHeader("Content-Type", "application/octet-stream")
	if cfg.Token != "" {
		client.SetAuthToken(cfg.Token)
	}
	return &Remote{client: client, path: path}, nil
}

// Execute 实现 dispatcher.Executor；非 2xx 时以响应体作为 ExecutionError 描述
func (r *Remote) Execute(ctx context.Context, payload []byte) ([]byte, error) {
	resp, err := r.client.R().
		SetContext(ctx).
		SetBody(payload).
		Post(r.path)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("execute request: %w", err)
	}
	if resp.StatusCode() < http.StatusOK || resp.StatusCode() >= http.StatusMultipleChoices {
		desc := strings.TrimSpace(resp.String())
		if desc == "" {
			desc = fmt.Sprintf("executor returned %s", resp.Status())
		}
		return nil, &gwerrors.ExecutionError{Description: desc}
	}
	return resp.Body(), nil
}
