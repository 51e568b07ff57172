package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ocpp_bridge_active_sessions",
		Help: "Number of chargers currently connected to the proxy",
	})

	FramesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ocpp_bridge_frames_total",
		Help: "Total OCPP frames handled, by log direction",
	}, []string{"direction"})

	ProxyResponsesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ocpp_bridge_proxy_responses_total",
		Help: "Responses synthesized while the CSMS was unavailable, by action",
	}, []string{"action"})

	InjectionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ocpp_bridge_injections_total",
		Help: "Operator-initiated Calls injected toward chargers, by action",
	}, []string{"action"})

	UpstreamReconnectsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ocpp_bridge_upstream_reconnects_total",
		Help: "Upstream reconnect attempts scheduled",
	})

	LogRecordsDroppedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ocpp_bridge_log_records_dropped_total",
		Help: "Message-log records dropped because the recorder queue was full",
	})

	EgressFramesDroppedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ocpp_bridge_egress_frames_dropped_total",
		Help: "Buffered upstream-bound frames dropped on egress buffer overflow",
	})
)
