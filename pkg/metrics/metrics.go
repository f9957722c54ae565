package metrics

import (
	"io"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
)

// 全局 Registry，供 gRPC/HTTP 注册与暴露
var DefaultRegistry = prometheus.NewRegistry()

func init() {
	DefaultRegistry.MustRegister(
		RPCDuration, RPCTotal, RPCErrorTotal,
		RegistryRecords, RegistryEvictedTotal,
		DispatcherInflight, ConsensusPublishedTotal, RelayResubscribeTotal,
	)
}

// RPC 方法名（与原 ekiden compute 指标名对齐）
const (
	MethodCallContract     = "call_contract"
	MethodWaitContractCall = "wait_contract_call"
)

// RPCDuration 单次 RPC 耗时（秒）
var RPCDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "compute_rpc_duration_seconds",
		Help:    "RPC 耗时（秒）",
		Buckets: prometheus.DefBuckets,
	},
	[]string{"method"},
)

// RPCTotal RPC 调用次数，无论成功失败每次请求恰好 +1
var RPCTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "compute_rpc_calls_total",
		Help: "RPC 调用总数",
	},
	[]string{"method"},
)

// RPCErrorTotal RPC 失败次数（按错误类别）
var RPCErrorTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "compute_rpc_errors_total",
		Help: "RPC 失败总数",
	},
	[]string{"method", "code"}, // invalid_argument | not_found | canceled | deadline_exceeded | internal
)

// RegistryRecords 当前 Call Registry 记录数
var RegistryRecords = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "compute_registry_records",
		Help: "Call Registry 当前记录数",
	},
	[]string{"state"}, // pending | terminal
)

// RegistryEvictedTotal 被回收的记录数
var RegistryEvictedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "compute_registry_evicted_total",
		Help: "Call Registry 回收记录总数",
	},
	[]string{"reason"}, // expired | abandoned
)

// DispatcherInflight 当前正在执行的调用数
var DispatcherInflight = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Name: "compute_dispatcher_inflight",
		Help: "Dispatcher 正在执行的调用数",
	},
)

// ConsensusPublishedTotal Submitter 发布到 registry 的结果数
var ConsensusPublishedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "compute_consensus_published_total",
		Help: "Submitter 发布的调用结果总数",
	},
	[]string{"submitter"}, // local | redis
)

// RelayResubscribeTotal Redis 结果中继订阅失败后的重试次数
var RelayResubscribeTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "compute_relay_resubscribe_total",
		Help: "结果中继重新订阅次数",
	},
)

// ObserveRPC 记录一次 RPC：计数 +1，耗时写入 histogram；code 非空时额外计入错误数
func ObserveRPC(method string, start time.Time, code string) {
	elapsed := time.Since(start)
	if elapsed < 0 {
		elapsed = 0
	}
	RPCTotal.WithLabelValues(method).Inc()
	RPCDuration.WithLabelValues(method).Observe(elapsed.Seconds())
	if code != "" {
		RPCErrorTotal.WithLabelValues(method, code).Inc()
	}
}

// WritePrometheus 将 Prometheus 文本格式写入 w（供 Hertz 等复用）
func WritePrometheus(w io.Writer) error {
	metrics, err := DefaultRegistry.Gather()
	if err != nil {
		return err
	}
	enc := expfmt.NewEncoder(w, expfmt.FmtText)
	for _, mf := range metrics {
		if err := enc.Encode(mf); err != nil {
			return err
		}
	}
	return nil
}
