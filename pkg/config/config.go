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

package config

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/spf13/viper"

	"compute-gateway/pkg/secrets"
)

// DefaultPath 默认配置文件
const DefaultPath = "configs/gateway.yaml"

// Config 网关配置结构体
type Config struct {
	API        APIConfig        `mapstructure:"api"`
	Registry   RegistryConfig   `mapstructure:"registry"`
	Dispatcher DispatcherConfig `mapstructure:"dispatcher"`
	Executor   ExecutorConfig   `mapstructure:"executor"`
	Consensus  ConsensusConfig  `mapstructure:"consensus"`
	Journal    JournalConfig    `mapstructure:"journal"`
	Secrets    secrets.Config   `mapstructure:"secrets"`
	Log        LogConfig        `mapstructure:"log"`
	Monitoring MonitoringConfig `mapstructure:"monitoring"`
}

// APIConfig API 服务配置
type APIConfig struct {
	Port        int              `mapstructure:"port"`
	Host        string           `mapstructure:"host"`
	WaitTimeout string           `mapstructure:"wait_timeout"` // HTTP 等待接口默认超时，如 "60s"；空则只受客户端约束
	Middleware  MiddlewareConfig `mapstructure:"middleware"`
	Grpc        GrpcConfig       `mapstructure:"grpc"`
}

// GrpcConfig gRPC 服务配置
type GrpcConfig struct {
	Enable bool `mapstructure:"enable"`
	Port   int  `mapstructure:"port"`
}

// MiddlewareConfig 中间件配置
type MiddlewareConfig struct {
	Auth          bool   `mapstructure:"auth"`
	APIKey        string `mapstructure:"api_key"` // 登录换取 token 的共享密钥
	JWTKey        string `mapstructure:"jwt_key"`
	JWTTimeout    string `mapstructure:"jwt_timeout"`     // 如 "1h"
	JWTMaxRefresh string `mapstructure:"jwt_max_refresh"` // 如 "1h"
}

// RegistryConfig Call Registry 配置
type RegistryConfig struct {
	Shards        int    `mapstructure:"shards"`
	GracePeriod   string `mapstructure:"grace_period"`   // 终态记录保留时长，如 "10m"
	PendingIdle   string `mapstructure:"pending_idle"`   // 无人等待的 Pending 记录回收阈值；"-1s" 关闭
	Tombstones    int    `mapstructure:"tombstones"`     // 已回收 id 的记忆容量
	SweepInterval string `mapstructure:"sweep_interval"` // 回收周期，如 "30s"
}

// DispatcherConfig Dispatcher 准入与超时配置
type DispatcherConfig struct {
	QPS            float64 `mapstructure:"qps"` // <=0 不限速
	Burst          int     `mapstructure:"burst"`
	MaxConcurrent  int     `mapstructure:"max_concurrent"`  // <=0 不限并发
	ExecuteTimeout string  `mapstructure:"execute_timeout"` // 单次执行超时
	SubmitTimeout  string  `mapstructure:"submit_timeout"`
}

// ExecutorConfig 远程执行引擎配置
type ExecutorConfig struct {
	Endpoint string `mapstructure:"endpoint"`
	Path     string `mapstructure:"path"`
	Timeout  string `mapstructure:"timeout"`
	Token    string `mapstructure:"token"`
}

// ConsensusConfig Consensus Submitter 配置
type ConsensusConfig struct {
	Type          string      `mapstructure:"type"` // local | redis
	BatchSize     int         `mapstructure:"batch_size"`
	BatchInterval string      `mapstructure:"batch_interval"`
	QueueSize     int         `mapstructure:"queue_size"`
	Redis         RedisConfig `mapstructure:"redis"`
}

// RedisConfig Redis 结果中继配置
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Channel  string `mapstructure:"channel"`
}

// JournalConfig 结果归档配置
type JournalConfig struct {
	Type        string `mapstructure:"type"` // none | memory | postgres
	DSN         string `mapstructure:"dsn"`
	Capacity    int    `mapstructure:"capacity"` // memory 容量
	SaveTimeout string `mapstructure:"save_timeout"`
}

// LogConfig 日志配置
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	File   string `mapstructure:"file"`
}

// MonitoringConfig 监控配置
type MonitoringConfig struct {
	Prometheus PrometheusConfig `mapstructure:"prometheus"`
	Tracing    TracingConfig    `mapstructure:"tracing"`
}

// TracingConfig 链路追踪配置（OpenTelemetry）
type TracingConfig struct {
	Enable         bool   `mapstructure:"enable"`
	ServiceName    string `mapstructure:"service_name"`
	ExportEndpoint string `mapstructure:"export_endpoint"`
	Insecure       bool   `mapstructure:"insecure"`
	Protocol       string `mapstructure:"protocol"` // grpc（默认）| http
}

// PrometheusConfig Prometheus 配置
type PrometheusConfig struct {
	Enable bool `mapstructure:"enable"`
}

// LoadConfig 加载配置文件
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(configPath)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("无法读取配置文件: %w", err)
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("无法解析配置文件: %w", err)
	}

	replaceEnvVars(&config)
	return &config, nil
}

// LoadGatewayConfig 加载网关配置；GATEWAY_CONFIG 指定路径，否则为 configs/gateway.yaml
func LoadGatewayConfig() (*Config, error) {
	if p := os.Getenv("GATEWAY_CONFIG"); p != "" {
		return LoadConfig(p)
	}
	return LoadConfig(DefaultPath)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("api.host", "0.0.0.0")
	v.SetDefault("api.port", 8080)
	v.SetDefault("api.grpc.port", 50051)
	v.SetDefault("consensus.type", "local")
	v.SetDefault("journal.type", "none")
	v.SetDefault("secrets.provider", "env")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("monitoring.prometheus.enable", true)
}

var envRef = regexp.MustCompile(`^\$\{([A-Za-z_][A-Za-z0-9_]*)\}$`)

// expandEnv 整个值为 ${VAR} 时替换为环境变量；变量未设置时保持原值
func expandEnv(s string) string {
	m := envRef.FindStringSubmatch(s)
	if m == nil {
		return s
	}
	if val := os.Getenv(m[1]); val != "" {
		return val
	}
	return s
}

// credentials 返回可能含凭据的字段，供环境变量与 secret 替换
func (c *Config) credentials() []*string {
	return []*string{
		&c.API.Middleware.APIKey,
		&c.API.Middleware.JWTKey,
		&c.Executor.Token,
		&c.Consensus.Redis.Password,
		&c.Journal.DSN,
		&c.Secrets.Vault.Token,
	}
}

// replaceEnvVars 替换配置中的环境变量
func replaceEnvVars(config *Config) {
	for _, p := range config.credentials() {
		*p = expandEnv(*p)
	}
}

// ResolveSecrets 将 secret://key 形式的凭据替换为 store 中的值
func (c *Config) ResolveSecrets(ctx context.Context, store secrets.Store) error {
	for _, p := range c.credentials() {
		if p == &c.Secrets.Vault.Token {
			continue
		}
		v, err := secrets.Resolve(ctx, store, *p)
		if err != nil {
			return err
		}
		*p = v
	}
	return nil
}

// Duration 解析时长字符串，无效或空时返回 defaultVal
func Duration(s string, defaultVal time.Duration) time.Duration {
	if s == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return defaultVal
	}
	return d
}
