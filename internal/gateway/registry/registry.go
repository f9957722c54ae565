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

// Package registry 提供 Call Registry：CallID → 调用状态与等待者的并发映射。
// 任意数量的等待者可阻塞在同一 id 上，无论 Subscribe 与 Publish 的先后顺序，每个等待者恰好收到一次结果。
package registry

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"

	"compute-gateway/internal/gateway/callid"
	gwerrors "compute-gateway/pkg/errors"
	"compute-gateway/pkg/log"
)

// Outcome 调用的终态结果：Err 为 nil 时为 Resolved(Output)，否则为 Failed(Err)
type Outcome struct {
	Output []byte
	Err    error
}

// Resolved 构造成功结果
func Resolved(output []byte) Outcome {
	return Outcome{Output: output}
}

// Failed 构造失败结果
func Failed(err error) Outcome {
	return Outcome{Err: err}
}

type state int

const (
	statePending state = iota
	stateResolved
	stateFailed
)

// record 单个 CallID 的状态；subs 按订阅顺序排列，仅在 Pending 时非空
type record struct {
	state      state
	outcome    Outcome
	subs       []*Subscription
	touchedAt  time.Time
	resolvedAt time.Time
}

type shard struct {
	mu      sync.Mutex
	records map[callid.ID]*record
}

// Registry 分片 Call Registry；每个分片一把锁，Subscribe/Publish 在同一 id 上互斥
type Registry struct {
	shards     []*shard
	tombstones *lru.Cache
	cfg        Config
	now        func() time.Time
	logger     *log.Logger
}

// Option Registry 可选项
type Option func(*Registry)

// WithClock 注入时钟，测试用
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// WithLogger 设置日志
func WithLogger(l *log.Logger) Option {
	return func(r *Registry) { r.logger = l }
}

// New 创建 Registry；cfg 中未设置的字段取 DefaultConfig
func New(cfg Config, opts ...Option) (*Registry, error) {
	cfg = cfg.withDefaults()
	tombstones, err := lru.New(cfg.Tombstones)
	if err != nil {
		return nil, fmt.Errorf("创建 tombstone 缓存失败: %w", err)
	}
	r := &Registry{
		shards:     make([]*shard, cfg.Shards),
		tombstones: tombstones,
		cfg:        cfg,
		now:        time.Now,
		logger:     log.Nop(),
	}
	for i := range r.shards {
		r.shards[i] = &shard{records: make(map[callid.ID]*record)}
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// shardFor 根据 id 计算分片
func (r *Registry) shardFor(id callid.ID) *shard {
	h := fnv.New32a()
	h.Write(id[:])
	return r.shards[h.Sum32()%uint32(len(r.shards))]
}

// Subscribe 注册一个等待者。
// 记录不存在时创建 Pending；已是终态时返回已持有结果的 Subscription（不新增等待槽）；
// id 在回收后的 tombstone 期内返回 ErrExpired。
func (r *Registry) Subscribe(id callid.ID) (*Subscription, error) {
	sh := r.shardFor(id)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	rec, ok := sh.records[id]
	if !ok {
		if r.tombstones.Contains(id) {
			return nil, gwerrors.ErrExpired
		}
		rec = &record{}
		sh.records[id] = rec
	}
	sub := &Subscription{id: id, reg: r, ch: make(chan Outcome, 1)}
	if rec.state != statePending {
		sub.ch <- rec.outcome
		return sub, nil
	}
	rec.subs = append(rec.subs, sub)
	rec.touchedAt = r.now()
	return sub, nil
}

// Publish 将 id 置为终态并投递给当前所有等待者；仅首次调用生效，返回是否生效。
// 已回收的 id 再次发布时（同一 payload 重新执行）清除 tombstone 并以新记录保存结果。
func (r *Registry) Publish(id callid.ID, outcome Outcome) bool {
	if outcome.Output != nil {
		outcome.Output = append([]byte(nil), outcome.Output...)
	}

	sh := r.shardFor(id)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	rec, ok := sh.records[id]
	if !ok {
		r.tombstones.Remove(id)
		rec = &record{}
		sh.records[id] = rec
	}
	if rec.state != statePending {
		return false
	}
	rec.state = stateResolved
	if outcome.Err != nil {
		rec.state = stateFailed
	}
	rec.outcome = outcome
	rec.resolvedAt = r.now()
	// 每个槽缓冲为 1 且只在此处发送一次，持锁发送不会阻塞
	for _, sub := range rec.subs {
		sub.ch <- outcome
	}
	rec.subs = nil
	r.logger.Debug("call published", "call_id", id.String(), "failed", outcome.Err != nil)
	return true
}

// Reopen 解除 id 的 tombstone，使重新提交的调用在执行期间即可被订阅；返回是否存在 tombstone
func (r *Registry) Reopen(id callid.ID) bool {
	sh := r.shardFor(id)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if _, ok := sh.records[id]; ok || !r.tombstones.Contains(id) {
		return false
	}
	r.tombstones.Remove(id)
	r.logger.Debug("call reopened", "call_id", id.String())
	return true
}

// Wait 订阅并阻塞直到结果到达或 ctx 结束；ctx 结束时丢弃等待槽，不影响记录本身
func (r *Registry) Wait(ctx context.Context, id callid.ID) ([]byte, error) {
	sub, err := r.Subscribe(id)
	if err != nil {
		return nil, err
	}
	select {
	case o := <-sub.C():
		return o.Output, o.Err
	case <-ctx.Done():
		sub.Cancel()
		return nil, ctx.Err()
	}
}

// Len 当前记录数（含 Pending 与终态，不含 tombstone）
func (r *Registry) Len() int {
	n := 0
	for _, sh := range r.shards {
		sh.mu.Lock()
		n += len(sh.records)
		sh.mu.Unlock()
	}
	return n
}

// Subscription 单个等待者；C 恰好投递一次 Outcome。
// Outcome.Output 在所有等待者间共享，只读。
type Subscription struct {
	id   callid.ID
	reg  *Registry
	ch   chan Outcome
	once sync.Once
}

// ID 订阅的调用标识
func (s *Subscription) ID() callid.ID {
	return s.id
}

// C 结果通道
func (s *Subscription) C() <-chan Outcome {
	return s.ch
}

// Cancel 从记录中移除尚未投递的等待槽；可重复调用
func (s *Subscription) Cancel() {
	s.once.Do(func() {
		sh := s.reg.shardFor(s.id)
		sh.mu.Lock()
		defer sh.mu.Unlock()
		rec, ok := sh.records[s.id]
		if !ok || rec.state != statePending {
			return
		}
		for i, sub := range rec.subs {
			if sub == s {
				rec.subs = append(rec.subs[:i], rec.subs[i+1:]...)
				rec.touchedAt = s.reg.now()
				return
			}
		}
	})
}
