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

package http

import (
	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/app/server"
	"github.com/cloudwego/hertz/pkg/common/config"
	"github.com/hertz-contrib/jwt"

	"compute-gateway/internal/api/http/middleware"
	"compute-gateway/pkg/log"
)

// Router HTTP 路由器
type Router struct {
	handler *Handler
	jwt     *jwt.HertzJWTMiddleware
	logger  *log.Logger

	noMetrics bool
}

// NewRouter 创建新的 HTTP 路由器
func NewRouter(handler *Handler, logger *log.Logger) *Router {
	if logger == nil {
		logger = log.Nop()
	}
	return &Router{handler: handler, logger: logger}
}

// SetJWT 启用 JWT：/api/contract 下的路由需携带 Bearer token
func (r *Router) SetJWT(mw *jwt.HertzJWTMiddleware) {
	r.jwt = mw
}

// SetMetrics 是否暴露 /metrics，默认暴露
func (r *Router) SetMetrics(enabled bool) {
	r.noMetrics = !enabled
}

// Build 创建 Hertz 实例并注册路由
func (r *Router) Build(addr string, opts ...config.Option) *server.Hertz {
	opts = append([]config.Option{server.WithHostPorts(addr)}, opts...)
	h := server.New(opts...)
	r.Register(h)
	return h
}

// Register 在已有 Hertz 实例上注册路由
func (r *Router) Register(h *server.Hertz) {
	h.Use(middleware.AccessLog(r.logger))

	api := h.Group("/api")
	api.GET("/health", r.handler.HealthCheck)

	var guard []app.HandlerFunc
	if r.jwt != nil {
		auth := api.Group("/auth")
		auth.POST("/login", r.jwt.LoginHandler)
		auth.POST("/refresh", r.jwt.RefreshHandler)
		guard = append(guard, r.jwt.MiddlewareFunc())
	}

	contract := api.Group("/contract", guard...)
	contract.POST("/call", r.handler.CallContract)
	contract.GET("/calls/:id", r.handler.WaitContractCall)

	if !r.noMetrics {
		h.GET("/metrics", r.handler.Metrics)
	}
}
