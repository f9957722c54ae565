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

// Package journal 归档调用的终态结果。registry 回收记录后，WaitContractCall 可回落到 journal 读取。
package journal

import (
	"context"
	"time"

	"compute-gateway/internal/gateway/callid"
	"compute-gateway/internal/gateway/dispatcher"
	"compute-gateway/internal/gateway/registry"
	gwerrors "compute-gateway/pkg/errors"
	"compute-gateway/pkg/log"
)

// Entry 一条归档结果；Error 非空表示 Failed
type Entry struct {
	ID         callid.ID
	Output     []byte
	Error      string
	RecordedAt time.Time
}

// Outcome 还原为 registry.Outcome；失败描述以 AgreementError 原样携带
func (e Entry) Outcome() registry.Outcome {
	if e.Error != "" {
		return registry.Failed(&gwerrors.AgreementError{Description: e.Error})
	}
	return registry.Resolved(e.Output)
}

// EntryFromOutcome 由终态结果构造 Entry
func EntryFromOutcome(id callid.ID, outcome registry.Outcome, at time.Time) Entry {
	e := Entry{ID: id, RecordedAt: at}
	if outcome.Err != nil {
		e.Error = gwerrors.Description(outcome.Err)
		if e.Error == "" {
			e.Error = "call failed"
		}
		return e
	}
	e.Output = outcome.Output
	return e
}

// Journal 结果归档；同一 id 保留 RecordedAt 最新的一条（相同时保留先写入的），
// 回收后重新执行的调用会覆盖旧结果
type Journal interface {
	// Save 归档一条结果；已有更新或同时刻的条目时静默忽略
	Save(ctx context.Context, e Entry) error
	// Lookup 读取归档；不存在时返回 errors.ErrNotFound
	Lookup(ctx context.Context, id callid.ID) (Entry, error)
}

// Recorder 包装 registry 的发布面：首次发布生效后同步写入 journal
type Recorder struct {
	inner   dispatcher.Publisher
	journal Journal
	timeout time.Duration
	now     func() time.Time
	logger  *log.Logger
}

// NewRecorder 创建 Recorder；timeout<=0 时为 5s
func NewRecorder(inner dispatcher.Publisher, j Journal, timeout time.Duration, logger *log.Logger) *Recorder {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if logger == nil {
		logger = log.Nop()
	}
	return &Recorder{inner: inner, journal: j, timeout: timeout, now: time.Now, logger: logger}
}

// Publish 实现 dispatcher.Publisher；归档失败只记日志，不影响发布结果
func (r *Recorder) Publish(id callid.ID, outcome registry.Outcome) bool {
	if !r.inner.Publish(id, outcome) {
		return false
	}
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	if err := r.journal.Save(ctx, EntryFromOutcome(id, outcome, r.now())); err != nil {
		r.logger.Warn("journal save failed", "call_id", id.String(), "error", err)
	}
	return true
}

// Reopen 转发给被包装的发布面
func (r *Recorder) Reopen(id callid.ID) bool {
	if ro, ok := r.inner.(dispatcher.Reopener); ok {
		return ro.Reopen(id)
	}
	return false
}

var (
	_ dispatcher.Publisher = (*Recorder)(nil)
	_ dispatcher.Reopener  = (*Recorder)(nil)
)
