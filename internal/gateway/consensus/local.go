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

// Package consensus 提供 Consensus Submitter 实现：单节点批量提交与基于 Redis 的跨网关结果中继。
// 二者都只负责「最终对每个 id 调用 Publish」，不实现共识协议本身。
package consensus

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"compute-gateway/internal/gateway/dispatcher"
	"compute-gateway/internal/gateway/registry"
	"compute-gateway/pkg/log"
	"compute-gateway/pkg/metrics"
	"compute-gateway/pkg/utils"
)

// ErrSubmitterClosed Submitter 已停止，不再接收调用
var ErrSubmitterClosed = errors.New("consensus submitter closed")

// LocalConfig 批量提交配置
type LocalConfig struct {
	BatchSize     int           // 达到即 flush，默认 64
	BatchInterval time.Duration // 定时 flush，默认 200ms
	QueueSize     int           // 待批队列容量，默认 1024
}

// LocalSubmitter 单节点 Submitter：将已完成调用攒批，flush 时逐个发布到 registry
type LocalSubmitter struct {
	pub     dispatcher.Publisher
	cfg     LocalConfig
	in      chan dispatcher.CompletedCall
	closing chan struct{}
	mu      sync.RWMutex
	stopped bool
	logger  *log.Logger
}

// NewLocal 创建 LocalSubmitter；需另起 goroutine 调用 Run
func NewLocal(pub dispatcher.Publisher, cfg LocalConfig, logger *log.Logger) *LocalSubmitter {
	cfg.BatchSize = utils.Positive(cfg.BatchSize, 64)
	cfg.BatchInterval = utils.Positive(cfg.BatchInterval, 200*time.Millisecond)
	cfg.QueueSize = utils.Positive(cfg.QueueSize, 1024)
	if logger == nil {
		logger = log.Nop()
	}
	return &LocalSubmitter{
		pub:     pub,
		cfg:     cfg,
		in:      make(chan dispatcher.CompletedCall, cfg.QueueSize),
		closing: make(chan struct{}),
		logger:  logger,
	}
}

// Submit 实现 dispatcher.Submitter；Run 结束后返回 ErrSubmitterClosed
func (s *LocalSubmitter) Submit(ctx context.Context, call dispatcher.CompletedCall) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.stopped {
		return ErrSubmitterClosed
	}
	select {
	case s.in <- call:
		return nil
	case <-s.closing:
		return ErrSubmitterClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run 攒批并发布，直到 ctx 结束；结束时把已接收的调用全部发布后返回
func (s *LocalSubmitter) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.BatchInterval)
	defer ticker.Stop()
	batch := make([]dispatcher.CompletedCall, 0, s.cfg.BatchSize)
	for {
		select {
		case call := <-s.in:
			batch = append(batch, call)
			if len(batch) >= s.cfg.BatchSize {
				batch = s.flush(batch)
			}
		case <-ticker.C:
			batch = s.flush(batch)
		case <-ctx.Done():
			// 先唤醒阻塞中的 Submit，再等其全部退出，之后队列里的就是全部已接收调用
			close(s.closing)
			s.mu.Lock()
			s.stopped = true
			s.mu.Unlock()
		drain:
			for {
				select {
				case call := <-s.in:
					batch = append(batch, call)
				default:
					break drain
				}
			}
			s.flush(batch)
			return ctx.Err()
		}
	}
}

func (s *LocalSubmitter) flush(batch []dispatcher.CompletedCall) []dispatcher.CompletedCall {
	if len(batch) == 0 {
		return batch
	}
	batchID := "batch-" + uuid.New().String()
	for _, call := range batch {
		s.pub.Publish(call.ID, registry.Resolved(call.Output))
	}
	metrics.ConsensusPublishedTotal.WithLabelValues("local").Add(float64(len(batch)))
	s.logger.Debug("batch finalized", "batch_id", batchID, "calls", len(batch))
	return batch[:0]
}
