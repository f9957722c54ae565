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

// Package gateway 装配网关进程：registry、dispatcher、submitter、journal 与 gRPC / HTTP 服务。
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"github.com/cloudwego/hertz/pkg/app/server"
	"github.com/cloudwego/hertz/pkg/common/hlog"
	hertzslog "github.com/hertz-contrib/logger/slog"
	"github.com/hertz-contrib/obs-opentelemetry/provider"
	hertztracing "github.com/hertz-contrib/obs-opentelemetry/tracing"
	"github.com/redis/go-redis/v9"
	"google.golang.org/grpc"

	apigrpc "compute-gateway/internal/api/grpc"
	apihttp "compute-gateway/internal/api/http"
	"compute-gateway/internal/api/http/middleware"
	"compute-gateway/internal/app"
	gw "compute-gateway/internal/gateway"
	"compute-gateway/internal/gateway/dispatcher"
	"compute-gateway/internal/gateway/journal"
	"compute-gateway/internal/gateway/registry"
	"compute-gateway/pkg/config"
	"compute-gateway/pkg/log"
	"compute-gateway/pkg/tracing"
	"compute-gateway/pkg/utils"
)

// App 网关应用
type App struct {
	config   *app.Bootstrap
	registry *registry.Registry
	service  *gw.Service
	router   *apihttp.Router

	hertz        *server.Hertz
	grpcServer   *grpcRun
	otelShutdown func(context.Context) error

	redis        *redis.Client
	closeJournal func()

	cancel  context.CancelFunc
	wg      sync.WaitGroup
	runners []runner
}

// grpcRun 持有 gRPC Server 与 Listener，用于 GracefulStop 时关闭
type grpcRun struct {
	srv *grpc.Server
	lis net.Listener
}

func (g *grpcRun) GracefulStop() {
	g.srv.GracefulStop()
}

// Addr gRPC 实际监听地址
func (g *grpcRun) Addr() net.Addr {
	return g.lis.Addr()
}

// NewApp 根据 Bootstrap 装配网关并启动后台任务与 gRPC 服务；HTTP 由 Run 启动
func NewApp(bootstrap *app.Bootstrap) (*App, error) {
	cfg := bootstrap.Config
	logger := bootstrap.Logger
	ctx, cancel := context.WithCancel(context.Background())
	a := &App{config: bootstrap, cancel: cancel, closeJournal: func() {}}
	ok := false
	defer func() {
		if !ok {
			cancel()
			if a.redis != nil {
				_ = a.redis.Close()
			}
			a.closeJournal()
		}
	}()

	if err := a.initTracing(); err != nil {
		logger.Warn("链路追踪初始化失败，将跳过", "error", err)
	}

	reg, err := registry.New(registryConfig(cfg.Registry), registry.WithLogger(logger.With("component", "registry")))
	if err != nil {
		return nil, fmt.Errorf("初始化 registry failed: %w", err)
	}
	a.registry = reg
	a.runners = append(a.runners, runner{name: "registry-sweeper", run: reg.Run})

	j, closeJournal, err := newJournal(ctx, cfg.Journal)
	if err != nil {
		return nil, err
	}
	a.closeJournal = closeJournal
	var pub dispatcher.Publisher = reg
	if j != nil {
		pub = journal.NewRecorder(reg, j, config.Duration(cfg.Journal.SaveTimeout, 0), logger.With("component", "journal"))
		logger.Info("结果归档已启用", "type", cfg.Journal.Type)
	}

	exec, err := newExecutor(cfg.Executor)
	if err != nil {
		return nil, err
	}

	cs, err := newConsensus(ctx, cfg.Consensus, pub, logger)
	if err != nil {
		return nil, err
	}
	a.redis = cs.redis
	a.runners = append(a.runners, cs.runners...)

	d := dispatcher.New(exec, cs.submitter, cs.publisher, dispatcherConfig(cfg.Dispatcher),
		dispatcher.WithLogger(logger.With("component", "dispatcher")))
	opts := []gw.ServiceOption{gw.WithServiceLogger(logger.With("component", "rpc"))}
	if j != nil {
		opts = append(opts, gw.WithJournal(j))
	}
	a.service = gw.NewService(d, reg, opts...)

	handler := apihttp.NewHandler(a.service, config.Duration(cfg.API.WaitTimeout, 0))
	a.router = apihttp.NewRouter(handler, logger.With("component", "http"))
	a.router.SetMetrics(cfg.Monitoring.Prometheus.Enable)
	mw := cfg.API.Middleware
	if mw.Auth {
		if mw.JWTKey == "" {
			return nil, errors.New("api.middleware.auth 已开启但 jwt_key 为空")
		}
		jwtAuth, err := middleware.NewJWTAuth([]byte(mw.JWTKey), mw.APIKey,
			config.Duration(mw.JWTTimeout, time.Hour), config.Duration(mw.JWTMaxRefresh, time.Hour))
		if err != nil {
			return nil, fmt.Errorf("JWT 初始化失败: %w", err)
		}
		a.router.SetJWT(jwtAuth)
		logger.Info("JWT 认证已启用")
	}

	if cfg.API.Grpc.Enable {
		gs, err := startGRPC(a.service, fmt.Sprintf("%s:%d", cfg.API.Host, cfg.API.Grpc.Port), logger)
		if err != nil {
			return nil, fmt.Errorf("gRPC 服务启动失败: %w", err)
		}
		a.grpcServer = gs
		logger.Info("gRPC 服务已启动", "addr", gs.Addr().String())
	}

	for _, r := range a.runners {
		a.wg.Add(1)
		go func(r runner) {
			defer a.wg.Done()
			if err := r.run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("后台任务异常退出", "task", r.name, "error", err)
			}
		}(r)
	}
	ok = true
	return a, nil
}

// Service 返回 RPC 核心，供进程内调用与测试
func (a *App) Service() gw.Backend {
	return a.service
}

// GRPCAddr gRPC 监听地址；未启用时为 nil
func (a *App) GRPCAddr() net.Addr {
	if a.grpcServer == nil {
		return nil
	}
	return a.grpcServer.Addr()
}

func (a *App) initTracing() error {
	tc := a.config.Config.Monitoring.Tracing
	if !tc.Enable {
		return nil
	}
	serviceName := utils.CoalesceString(tc.ServiceName, "compute-gateway")
	endpoint := utils.CoalesceString(tc.ExportEndpoint, os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"))
	if endpoint == "" {
		return errors.New("tracing export endpoint not set")
	}
	if tc.Protocol == "http" {
		tp, err := tracing.InitTracer(tracing.OTelConfig{ServiceName: serviceName, ExportEndpoint: endpoint, Insecure: tc.Insecure})
		if err != nil {
			return err
		}
		a.otelShutdown = tp.Shutdown
	} else {
		opts := []provider.Option{
			provider.WithServiceName(serviceName),
			provider.WithExportEndpoint(endpoint),
		}
		if tc.Insecure {
			opts = append(opts, provider.WithInsecure())
		}
		p := provider.NewOpenTelemetryProvider(opts...)
		a.otelShutdown = p.Shutdown
	}
	a.config.Logger.Info("链路追踪已启用", "service_name", serviceName, "endpoint", endpoint, "protocol", tc.Protocol)
	return nil
}

// Run 启动 HTTP 服务，addr 如 ":8080"；阻塞直到服务关闭
func (a *App) Run(addr string) error {
	a.config.Logger.Info("网关 HTTP 服务启动", "addr", addr)

	// 使用 Hertz slog 扩展，与 bootstrap 配置对齐
	logCfg := &log.Config{Level: a.config.Config.Log.Level, File: a.config.Config.Log.File}
	output, err := log.Output(logCfg)
	if err != nil {
		return fmt.Errorf("打开日志文件失败: %w", err)
	}
	levelVar := &slog.LevelVar{}
	levelVar.Set(log.ParseLevel(logCfg.Level))
	hlog.SetLogger(hertzslog.NewLogger(
		hertzslog.WithOutput(output),
		hertzslog.WithLevel(levelVar),
	))

	if a.otelShutdown != nil {
		tracerOpt, cfg := hertztracing.NewServerTracer()
		a.hertz = a.router.Build(addr, tracerOpt)
		a.hertz.Use(hertztracing.ServerMiddleware(cfg))
	} else {
		a.hertz = a.router.Build(addr)
	}
	return a.hertz.Run()
}

// Shutdown 优雅关闭：先停止接收请求，再停止后台任务（submitter 会发布已接收的调用），最后释放连接
func (a *App) Shutdown(ctx context.Context) error {
	var errs []error
	if a.grpcServer != nil {
		a.grpcServer.GracefulStop()
	}
	if a.hertz != nil {
		if err := a.hertz.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}

	a.cancel()
	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		errs = append(errs, fmt.Errorf("wait background tasks: %w", ctx.Err()))
	}

	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	a.closeJournal()
	if a.otelShutdown != nil {
		if err := a.otelShutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// startGRPC 创建并启动 gRPC 服务（在 goroutine 中 Serve），返回 grpcRun 以便 Shutdown 时 GracefulStop
func startGRPC(backend gw.Backend, addr string, logger *log.Logger) (*grpcRun, error) {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	srv := grpc.NewServer(grpc.UnaryInterceptor(apigrpc.LoggingInterceptor(logger.With("component", "grpc"))))
	apigrpc.NewServer(backend).Register(srv)
	go func() {
		if err := srv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			logger.Error("gRPC 服务异常退出", "error", err)
		}
	}()
	return &grpcRun{srv: srv, lis: lis}, nil
}
