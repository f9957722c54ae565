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

package gateway

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"compute-gateway/internal/gateway/consensus"
	"compute-gateway/internal/gateway/dispatcher"
	"compute-gateway/internal/gateway/executor"
	"compute-gateway/internal/gateway/journal"
	"compute-gateway/internal/gateway/registry"
	"compute-gateway/pkg/config"
	"compute-gateway/pkg/log"
)

// runner 随 App 生命周期运行的后台任务
type runner struct {
	name string
	run  func(ctx context.Context) error
}

func registryConfig(c config.RegistryConfig) registry.Config {
	d := registry.DefaultConfig()
	return registry.Config{
		Shards:        c.Shards,
		GracePeriod:   config.Duration(c.GracePeriod, d.GracePeriod),
		PendingIdle:   config.Duration(c.PendingIdle, d.PendingIdle),
		Tombstones:    c.Tombstones,
		SweepInterval: config.Duration(c.SweepInterval, d.SweepInterval),
	}
}

func dispatcherConfig(c config.DispatcherConfig) dispatcher.Config {
	return dispatcher.Config{
		Limits: dispatcher.LimitConfig{
			QPS:           c.QPS,
			Burst:         c.Burst,
			MaxConcurrent: c.MaxConcurrent,
		},
		ExecuteTimeout: config.Duration(c.ExecuteTimeout, 0),
		SubmitTimeout:  config.Duration(c.SubmitTimeout, 0),
	}
}

func newExecutor(c config.ExecutorConfig) (*executor.Remote, error) {
	return executor.NewRemote(executor.RemoteConfig{
		Endpoint: c.Endpoint,
		Path:     c.Path,
		Timeout:  config.Duration(c.Timeout, 0),
		Token:    c.Token,
	})
}

// consensusStack Submitter、dispatcher 使用的发布面及其需要的后台任务与连接
type consensusStack struct {
	submitter dispatcher.Submitter
	publisher dispatcher.Publisher
	runners   []runner
	redis     *redis.Client
}

// newConsensus 按 type 创建 Submitter；redis 模式下本实例同时运行 Relay 把结果写回本地 registry，
// 首次订阅失败时返回错误，失败结果经 RedisPublisher 广播到其他实例
func newConsensus(ctx context.Context, c config.ConsensusConfig, pub dispatcher.Publisher, logger *log.Logger) (*consensusStack, error) {
	switch c.Type {
	case "", "local":
		s := consensus.NewLocal(pub, consensus.LocalConfig{
			BatchSize:     c.BatchSize,
			BatchInterval: config.Duration(c.BatchInterval, 0),
			QueueSize:     c.QueueSize,
		}, logger.With("component", "consensus"))
		return &consensusStack{
			submitter: s,
			publisher: pub,
			runners:   []runner{{name: "consensus", run: s.Run}},
		}, nil
	case "redis":
		client, err := consensus.NewRedisClient(consensus.RedisConfig{
			Addr:     c.Redis.Addr,
			Password: c.Redis.Password,
			DB:       c.Redis.DB,
		})
		if err != nil {
			return nil, err
		}
		relay := consensus.NewRelay(client, c.Redis.Channel, pub, logger.With("component", "relay"))
		connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		if err := relay.Connect(connectCtx); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("connect redis relay: %w", err)
		}
		return &consensusStack{
			submitter: consensus.NewRedisSubmitter(client, c.Redis.Channel),
			publisher: consensus.NewRedisPublisher(pub, client, c.Redis.Channel, 0, logger.With("component", "relay")),
			runners:   []runner{{name: "relay", run: relay.Run}},
			redis:     client,
		}, nil
	default:
		return nil, fmt.Errorf("unknown consensus type: %s", c.Type)
	}
}

// newJournal 按 type 创建 journal；none 或空时返回 nil
func newJournal(ctx context.Context, c config.JournalConfig) (journal.Journal, func(), error) {
	switch c.Type {
	case "", "none":
		return nil, func() {}, nil
	case "memory":
		j, err := journal.NewMemory(c.Capacity)
		return j, func() {}, err
	case "postgres":
		if c.DSN == "" {
			return nil, nil, fmt.Errorf("journal.dsn required for postgres journal")
		}
		connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		j, err := journal.NewPostgres(connectCtx, c.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("connect journal: %w", err)
		}
		return j, j.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown journal type: %s", c.Type)
	}
}
