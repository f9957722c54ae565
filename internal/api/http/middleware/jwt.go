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

// Package middleware 提供 HTTP 中间件：JWT 认证与访问日志。
package middleware

import (
	"context"
	"crypto/subtle"
	"errors"
	"time"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/hertz-contrib/jwt"
)

// IdentityKey token 中客户端标识的 claim 名
const IdentityKey = "client_id"

// LoginRequest 换取 token 的请求体
type LoginRequest struct {
	ClientID string `json:"client_id"`
	APIKey   string `json:"api_key"`
}

// NewJWTAuth 创建 JWT 中间件：客户端以 api_key 登录换取 token，之后以 Bearer token 访问受保护路由
func NewJWTAuth(key []byte, apiKey string, timeout, maxRefresh time.Duration) (*jwt.HertzJWTMiddleware, error) {
	if len(key) == 0 {
		return nil, errors.New("jwt key required")
	}
	if apiKey == "" {
		return nil, errors.New("api key required")
	}
	return jwt.New(&jwt.HertzJWTMiddleware{
		Realm:       "compute-gateway",
		Key:         key,
		Timeout:     timeout,
		MaxRefresh:  maxRefresh,
		IdentityKey: IdentityKey,
		TokenLookup: "header: Authorization",
		PayloadFunc: func(data interface{}) jwt.MapClaims {
			if id, ok := data.(string); ok {
				return jwt.MapClaims{IdentityKey: id}
			}
			return jwt.MapClaims{}
		},
		Authenticator: func(ctx context.Context, c *app.RequestContext) (interface{}, error) {
			var req LoginRequest
			if err := c.BindJSON(&req); err != nil || req.ClientID == "" {
				return nil, jwt.ErrMissingLoginValues
			}
			if subtle.ConstantTimeCompare([]byte(req.APIKey), []byte(apiKey)) != 1 {
				return nil, jwt.ErrFailedAuthentication
			}
			return req.ClientID, nil
		},
	})
}
