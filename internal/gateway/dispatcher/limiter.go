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

package dispatcher

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"
)

// LimitConfig 提交准入配置
type LimitConfig struct {
	QPS           float64 // 每秒准入数，<=0 不限
	Burst         int     // 令牌桶容量，0 时取 QPS
	MaxConcurrent int     // 最大并发执行数，<=0 不限
}

// admission QPS + 并发控制
type admission struct {
	rateLimiter *rate.Limiter
	semaphore   chan struct{}
}

func newAdmission(cfg LimitConfig) *admission {
	a := &admission{}
	if cfg.QPS > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = int(cfg.QPS)
		}
		if burst <= 0 {
			burst = 1
		}
		a.rateLimiter = rate.NewLimiter(rate.Limit(cfg.QPS), burst)
	}
	if cfg.MaxConcurrent > 0 {
		a.semaphore = make(chan struct{}, cfg.MaxConcurrent)
	}
	return a
}

// acquire 等待获取执行许可；成功后必须调用 release
func (a *admission) acquire(ctx context.Context) error {
	if a.rateLimiter != nil {
		if err := a.rateLimiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limit wait failed: %w", err)
		}
	}
	if a.semaphore != nil {
		select {
		case a.semaphore <- struct{}{}:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (a *admission) release() {
	if a.semaphore != nil {
		<-a.semaphore
	}
}
