package metrics

import (
	"net/http"

	prom "github.com/prometheus/client_golang/prometheus"
	promcollect "github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "buildhook"

// PrometheusRecorder implements Recorder on a dedicated registry.
type PrometheusRecorder struct {
	registry         *prom.Registry
	deliveries       *prom.CounterVec
	consumerResults  *prom.CounterVec
	reporterRequests *prom.CounterVec
	queueLength      *prom.GaugeVec
}

// Create the recorder and register all collectors, including the go and process collectors
func NewPrometheusRecorder() *PrometheusRecorder {
	p := &PrometheusRecorder{
		registry: prom.NewRegistry(),
		deliveries: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_deliveries_total",
			Help:      "Webhook deliveries by provider and outcome",
		}, []string{"provider", "outcome"}),
		consumerResults: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "consumer_results_total",
			Help:      "Processed queue items by result",
		}, []string{"result"}),
		reporterRequests: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "reporter_requests_total",
			Help:      "Outbound status reports by kind and outcome",
		}, []string{"kind", "outcome"}),
		queueLength: prom.NewGaugeVec(prom.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_length",
			Help:      "Items waiting in a queue partition",
		}, []string{"partition"}),
	}

	p.registry.MustRegister(p.deliveries, p.consumerResults, p.reporterRequests, p.queueLength)
	p.registry.MustRegister(promcollect.NewGoCollector(), promcollect.NewProcessCollector(promcollect.ProcessCollectorOpts{}))
	return p
}

func (p *PrometheusRecorder) IncDelivery(provider, outcome string) {
	if p == nil {
		return
	}
	p.deliveries.WithLabelValues(provider, outcome).Inc()
}

func (p *PrometheusRecorder) IncConsumerResult(result string) {
	if p == nil {
		return
	}
	p.consumerResults.WithLabelValues(result).Inc()
}

func (p *PrometheusRecorder) IncReporterRequest(kind, outcome string) {
	if p == nil {
		return
	}
	p.reporterRequests.WithLabelValues(kind, outcome).Inc()
}

func (p *PrometheusRecorder) SetQueueLength(partition string, n int64) {
	if p == nil {
		return
	}
	p.queueLength.WithLabelValues(partition).Set(float64(n))
}

func (p *PrometheusRecorder) Registry() *prom.Registry {
	return p.registry
}

// Handler serves the registry in the prometheus exposition format
func (p *PrometheusRecorder) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}
