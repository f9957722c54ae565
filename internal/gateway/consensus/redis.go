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

package consensus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"compute-gateway/internal/gateway/callid"
	"compute-gateway/internal/gateway/dispatcher"
	"compute-gateway/internal/gateway/registry"
	gwerrors "compute-gateway/pkg/errors"
	"compute-gateway/pkg/log"
	"compute-gateway/pkg/metrics"
	"compute-gateway/pkg/utils"
)

// DefaultChannel 结果中继的默认 Redis 频道
const DefaultChannel = "compute:call-outcomes"

// RedisConfig Redis 连接配置
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Channel  string
}

// NewRedisClient 根据配置创建 redis.Client
func NewRedisClient(cfg RedisConfig) (*redis.Client, error) {
	if cfg.Addr == "" {
		return nil, errors.New("redis addr required")
	}
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	}), nil
}

// OutcomeMessage 频道上的结果消息；外部共识服务也可按此格式直接发布结果
type OutcomeMessage struct {
	CallID string `json:"call_id"`          // 十六进制
	Output []byte `json:"output,omitempty"` // base64
	Error  string `json:"error,omitempty"`  // 非空表示 Failed
}

// EncodeOutcome 序列化结果消息
func EncodeOutcome(id callid.ID, outcome registry.Outcome) ([]byte, error) {
	msg := OutcomeMessage{CallID: id.String(), Output: outcome.Output}
	if outcome.Err != nil {
		msg.Output = nil
		msg.Error = gwerrors.Description(outcome.Err)
		if msg.Error == "" {
			msg.Error = "call failed"
		}
	}
	return json.Marshal(msg)
}

// DecodeOutcome 反序列化结果消息；Error 非空时还原为 AgreementError
func DecodeOutcome(data []byte) (callid.ID, registry.Outcome, error) {
	var msg OutcomeMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return callid.ID{}, registry.Outcome{}, fmt.Errorf("decode outcome: %w", err)
	}
	id, err := callid.ParseHex(msg.CallID)
	if err != nil {
		return callid.ID{}, registry.Outcome{}, err
	}
	if msg.Error != "" {
		return id, registry.Failed(&gwerrors.AgreementError{Description: msg.Error}), nil
	}
	return id, registry.Resolved(msg.Output), nil
}

// RedisSubmitter 将已完成调用的结果发布到 Redis 频道，由各网关的 Relay 写入本地 registry
type RedisSubmitter struct {
	client  redis.UniversalClient
	channel string
}

// NewRedisSubmitter 创建 RedisSubmitter；channel 为空时使用 DefaultChannel
func NewRedisSubmitter(client redis.UniversalClient, channel string) *RedisSubmitter {
	return &RedisSubmitter{client: client, channel: utils.CoalesceString(channel, DefaultChannel)}
}

// Submit 实现 dispatcher.Submitter
func (s *RedisSubmitter) Submit(ctx context.Context, call dispatcher.CompletedCall) error {
	data, err := EncodeOutcome(call.ID, registry.Resolved(call.Output))
	if err != nil {
		return err
	}
	if err := s.client.Publish(ctx, s.channel, data).Err(); err != nil {
		return fmt.Errorf("publish outcome to redis: %w", err)
	}
	metrics.ConsensusPublishedTotal.WithLabelValues("redis").Inc()
	return nil
}

// RedisPublisher 包装本地发布面：Failed 结果除写入本地外还广播到 Redis 频道，
// 使其他网关上的等待者同样收到执行失败；Resolved 结果由 RedisSubmitter 经频道中继
type RedisPublisher struct {
	local   dispatcher.Publisher
	client  redis.UniversalClient
	channel string
	timeout time.Duration
	logger  *log.Logger
}

// NewRedisPublisher 创建 RedisPublisher；timeout<=0 时为 5s
func NewRedisPublisher(local dispatcher.Publisher, client redis.UniversalClient, channel string, timeout time.Duration, logger *log.Logger) *RedisPublisher {
	if logger == nil {
		logger = log.Nop()
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &RedisPublisher{
		local:   local,
		client:  client,
		channel: utils.CoalesceString(channel, DefaultChannel),
		timeout: timeout,
		logger:  logger,
	}
}

// Publish 实现 dispatcher.Publisher；返回本地发布结果，广播失败只记录日志
func (p *RedisPublisher) Publish(id callid.ID, outcome registry.Outcome) bool {
	ok := p.local.Publish(id, outcome)
	if outcome.Err == nil || !ok {
		return ok
	}
	data, err := EncodeOutcome(id, outcome)
	if err != nil {
		p.logger.Warn("encode failed outcome", "call_id", id.String(), "error", err)
		return ok
	}
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()
	if err := p.client.Publish(ctx, p.channel, data).Err(); err != nil {
		p.logger.Warn("broadcast failed outcome to redis", "call_id", id.String(), "error", err)
		return ok
	}
	metrics.ConsensusPublishedTotal.WithLabelValues("redis").Inc()
	return ok
}

// Reopen 转发给本地发布面
func (p *RedisPublisher) Reopen(id callid.ID) bool {
	if ro, ok := p.local.(dispatcher.Reopener); ok {
		return ro.Reopen(id)
	}
	return false
}

var (
	_ dispatcher.Publisher = (*RedisPublisher)(nil)
	_ dispatcher.Reopener  = (*RedisPublisher)(nil)
)

// 订阅失败后的重试退避
const (
	DefaultMinBackoff = 100 * time.Millisecond
	DefaultMaxBackoff = 10 * time.Second
)

// Relay 订阅 Redis 结果频道并写入本地 registry
type Relay struct {
	client     redis.UniversalClient
	channel    string
	pub        dispatcher.Publisher
	logger     *log.Logger
	minBackoff time.Duration
	maxBackoff time.Duration

	mu  sync.Mutex
	sub *redis.PubSub
}

// NewRelay 创建 Relay
func NewRelay(client redis.UniversalClient, channel string, pub dispatcher.Publisher, logger *log.Logger) *Relay {
	if logger == nil {
		logger = log.Nop()
	}
	return &Relay{
		client:     client,
		channel:    utils.CoalesceString(channel, DefaultChannel),
		pub:        pub,
		logger:     logger,
		minBackoff: DefaultMinBackoff,
		maxBackoff: DefaultMaxBackoff,
	}
}

// WithBackoff 设置订阅重试的初始与最大退避
func (r *Relay) WithBackoff(minBackoff, maxBackoff time.Duration) *Relay {
	if minBackoff > 0 {
		r.minBackoff = minBackoff
	}
	if maxBackoff >= r.minBackoff {
		r.maxBackoff = maxBackoff
	} else {
		r.maxBackoff = r.minBackoff
	}
	return r
}

// Connect 同步建立首次订阅；Run 会复用该订阅
func (r *Relay) Connect(ctx context.Context) error {
	sub, err := r.subscribe(ctx)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sub != nil {
		_ = r.sub.Close()
	}
	r.sub = sub
	return nil
}

func (r *Relay) subscribe(ctx context.Context) (*redis.PubSub, error) {
	sub := r.client.Subscribe(ctx, r.channel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", r.channel, err)
	}
	r.logger.Info("outcome relay subscribed", "channel", r.channel)
	return sub, nil
}

func (r *Relay) takeSub() *redis.PubSub {
	r.mu.Lock()
	defer r.mu.Unlock()
	sub := r.sub
	r.sub = nil
	return sub
}

// Run 消费频道直到 ctx 结束；订阅失败或断开时按指数退避重新订阅，只返回 ctx.Err()
func (r *Relay) Run(ctx context.Context) error {
	backoff := r.minBackoff
	for {
		sub := r.takeSub()
		if sub == nil {
			var err error
			sub, err = r.subscribe(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				r.logger.Warn("outcome relay subscribe failed, retrying", "channel", r.channel, "backoff", backoff, "error", err)
				metrics.RelayResubscribeTotal.Inc()
				if err := sleep(ctx, backoff); err != nil {
					return err
				}
				backoff = min(backoff*2, r.maxBackoff)
				continue
			}
		}
		backoff = r.minBackoff
		r.consume(ctx, sub)
		_ = sub.Close()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		r.logger.Warn("outcome relay subscription closed, resubscribing", "channel", r.channel)
	}
}

// consume 处理消息直到 ctx 结束或订阅通道关闭
func (r *Relay) consume(ctx context.Context, sub *redis.PubSub) {
	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			if err := r.Handle([]byte(msg.Payload)); err != nil {
				r.logger.Warn("drop malformed outcome message", "channel", r.channel, "error", err)
			}
		}
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Handle 处理一条结果消息
func (r *Relay) Handle(data []byte) error {
	id, outcome, err := DecodeOutcome(data)
	if err != nil {
		return err
	}
	if r.pub.Publish(id, outcome) {
		r.logger.Debug("outcome relayed", "call_id", id.String())
	}
	return nil
}
