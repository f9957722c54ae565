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

package registry

import (
	"context"
	"time"

	"compute-gateway/pkg/metrics"
)

// Config Registry 分片与回收配置
type Config struct {
	Shards int
	// GracePeriod 终态记录保留时长，过后回收并留下 tombstone
	GracePeriod time.Duration
	// PendingIdle 无等待者的 Pending 记录闲置多久后回收；<0 表示不回收
	PendingIdle time.Duration
	// Tombstones 记住已回收 id 的数量上限（LRU），期内 Subscribe 返回 ErrExpired
	Tombstones    int
	SweepInterval time.Duration
}

// DefaultConfig 默认配置
func DefaultConfig() Config {
	return Config{
		Shards:        32,
		GracePeriod:   10 * time.Minute,
		PendingIdle:   time.Hour,
		Tombstones:    100000,
		SweepInterval: 30 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Shards <= 0 {
		c.Shards = d.Shards
	}
	if c.GracePeriod <= 0 {
		c.GracePeriod = d.GracePeriod
	}
	if c.PendingIdle == 0 {
		c.PendingIdle = d.PendingIdle
	}
	if c.Tombstones <= 0 {
		c.Tombstones = d.Tombstones
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = d.SweepInterval
	}
	return c
}

// SweepStats 单次回收统计
type SweepStats struct {
	Expired   int // 终态超过 GracePeriod
	Abandoned int // Pending 且无等待者超过 PendingIdle
	Pending   int
	Terminal  int
}

// Sweep 回收过期记录。终态记录回收后写入 tombstone；被放弃的 Pending 记录直接删除
func (r *Registry) Sweep() SweepStats {
	now := r.now()
	var st SweepStats
	for _, sh := range r.shards {
		sh.mu.Lock()
		for id, rec := range sh.records {
			switch {
			case rec.state != statePending && now.Sub(rec.resolvedAt) >= r.cfg.GracePeriod:
				delete(sh.records, id)
				r.tombstones.Add(id, struct{}{})
				st.Expired++
			case rec.state == statePending && len(rec.subs) == 0 &&
				r.cfg.PendingIdle > 0 && now.Sub(rec.touchedAt) >= r.cfg.PendingIdle:
				delete(sh.records, id)
				st.Abandoned++
			case rec.state == statePending:
				st.Pending++
			default:
				st.Terminal++
			}
		}
		sh.mu.Unlock()
	}

	metrics.RegistryRecords.WithLabelValues("pending").Set(float64(st.Pending))
	metrics.RegistryRecords.WithLabelValues("terminal").Set(float64(st.Terminal))
	metrics.RegistryEvictedTotal.WithLabelValues("expired").Add(float64(st.Expired))
	metrics.RegistryEvictedTotal.WithLabelValues("abandoned").Add(float64(st.Abandoned))
	if st.Expired > 0 || st.Abandoned > 0 {
		r.logger.Debug("registry sweep", "expired", st.Expired, "abandoned", st.Abandoned,
			"pending", st.Pending, "terminal", st.Terminal)
	}
	return st
}

// Run 按 SweepInterval 周期回收，直到 ctx 结束
func (r *Registry) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			r.Sweep()
		}
	}
}
