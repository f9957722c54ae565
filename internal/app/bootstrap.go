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

package app

import (
	"context"
	"fmt"

	"compute-gateway/pkg/config"
	"compute-gateway/pkg/log"
	"compute-gateway/pkg/secrets"
)

// Bootstrap 统一初始化：日志、secret store 与凭据解析，避免在 cmd 内写业务装配
type Bootstrap struct {
	Config  *config.Config
	Logger  *log.Logger
	Secrets secrets.Store
}

// NewBootstrap 根据配置创建 Bootstrap；cfg 中 secret:// 引用在此解析
func NewBootstrap(ctx context.Context, cfg *config.Config) (*Bootstrap, error) {
	if cfg == nil {
		cfg = &config.Config{}
	}
	logger, err := log.NewLogger(&log.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		File:   cfg.Log.File,
	})
	if err != nil {
		return nil, fmt.Errorf("初始化日志failed: %w", err)
	}

	store, err := secrets.NewStore(cfg.Secrets)
	if err != nil {
		return nil, fmt.Errorf("初始化 secret store failed: %w", err)
	}
	if err := cfg.ResolveSecrets(ctx, store); err != nil {
		return nil, fmt.Errorf("解析 secret 引用failed: %w", err)
	}

	return &Bootstrap{
		Config:  cfg,
		Logger:  logger,
		Secrets: store,
	}, nil
}
