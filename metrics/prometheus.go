package metrics

import (
	"net/http"
	"strconv"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "lanupdate"

// States reported by SetState, one gauge series each.
var States = []string{"starting", "disabled", "serving", "shutting_down"}

type PrometheusRecorder struct {
	registry *prom.Registry

	requests            *prom.CounterVec
	pendingRequests     prom.Gauge
	descriptorWrites    *prom.CounterVec
	descriptorWithdraws *prom.CounterVec
	descriptorFailures  *prom.CounterVec
	state               *prom.GaugeVec
}

// NewPrometheusRecorder registers the daemon collectors on reg, or on a fresh
// registry when reg is nil.
func NewPrometheusRecorder(reg *prom.Registry) *PrometheusRecorder {
	if reg == nil {
		reg = prom.NewRegistry()
	}

	pr := &PrometheusRecorder{
		registry: reg,
		requests: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Repository content requests by method and status code",
		}, []string{"method", "code"}),
		pendingRequests: prom.NewGauge(prom.GaugeOpts{
			Namespace: namespace,
			Name:      "http_pending_requests",
			Help:      "Repository content requests currently in flight",
		}),
		descriptorWrites: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "descriptor_writes_total",
			Help:      "Advertisement descriptor publications",
		}, []string{"publisher"}),
		descriptorWithdraws: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "descriptor_withdrawals_total",
			Help:      "Advertisement descriptor withdrawals",
		}, []string{"publisher"}),
		descriptorFailures: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "descriptor_failures_total",
			Help:      "Failed advertisement descriptor operations",
		}, []string{"publisher"}),
		state: prom.NewGaugeVec(prom.GaugeOpts{
			Namespace: namespace,
			Name:      "activation_state",
			Help:      "Current activation state of the daemon (1 for the active state)",
		}, []string{"state"}),
	}

	reg.MustRegister(
		pr.requests,
		pr.pendingRequests,
		pr.descriptorWrites,
		pr.descriptorWithdraws,
		pr.descriptorFailures,
		pr.state,
	)

	return pr
}

func (pr *PrometheusRecorder) ObserveRequest(method string, status int) {
	pr.requests.WithLabelValues(method, strconv.Itoa(status)).Inc()
}

func (pr *PrometheusRecorder) SetPendingRequests(n int64) {
	pr.pendingRequests.Set(float64(n))
}

func (pr *PrometheusRecorder) IncDescriptorWrite(publisher string) {
	pr.descriptorWrites.WithLabelValues(publisher).Inc()
}

func (pr *PrometheusRecorder) IncDescriptorWithdraw(publisher string) {
	pr.descriptorWithdraws.WithLabelValues(publisher).Inc()
}

func (pr *PrometheusRecorder) IncDescriptorFailure(publisher string) {
	pr.descriptorFailures.WithLabelValues(publisher).Inc()
}

func (pr *PrometheusRecorder) SetState(state string) {
	for _, s := range States {
		value := 0.0
		if s == state {
			value = 1
		}
		pr.state.WithLabelValues(s).Set(value)
	}
}

// Handler exposes the registry in the Prometheus text format.
func (pr *PrometheusRecorder) Handler() http.Handler {
	return promhttp.HandlerFor(pr.registry, promhttp.HandlerOpts{})
}

var _ Recorder = &PrometheusRecorder{}
