package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func counterValue(t *testing.T, p *PrometheusRecorder, name string, labels map[string]string) float64 {
	t.Helper()

	families, err := p.Registry().Gather()
	require.NoError(t, err)

	for _, family := range families {
		if family.GetName() != name {
			continue
		}
		for _, metric := range family.GetMetric() {
			if matchLabels(metric, labels) {
				if metric.GetCounter() != nil {
					return metric.GetCounter().GetValue()
				}
				return metric.GetGauge().GetValue()
			}
		}
	}
	return 0
}

func matchLabels(metric *dto.Metric, labels map[string]string) bool {
	found := 0
	for _, pair := range metric.GetLabel() {
		if v, ok := labels[pair.GetName()]; ok && v == pair.GetValue() {
			found++
		}
	}
	return found == len(labels)
}

func TestPrometheusRecorder(t *testing.T) {
	assert := assert.New(t)

	p := NewPrometheusRecorder()
	p.IncDelivery("github", "enqueued")
	p.IncDelivery("github", "enqueued")
	p.IncDelivery("github_app", "rejected")
	p.IncConsumerResult("built")
	p.IncReporterRequest("check_run", "success")
	p.SetQueueLength("inbox", 3)

	assert.Equal(2.0, counterValue(t, p, "buildhook_webhook_deliveries_total", map[string]string{"provider": "github", "outcome": "enqueued"}))
	assert.Equal(1.0, counterValue(t, p, "buildhook_webhook_deliveries_total", map[string]string{"provider": "github_app", "outcome": "rejected"}))
	assert.Equal(1.0, counterValue(t, p, "buildhook_consumer_results_total", map[string]string{"result": "built"}))
	assert.Equal(1.0, counterValue(t, p, "buildhook_reporter_requests_total", map[string]string{"kind": "check_run", "outcome": "success"}))
	assert.Equal(3.0, counterValue(t, p, "buildhook_queue_length", map[string]string{"partition": "inbox"}))
}

func TestHandler(t *testing.T) {
	p := NewPrometheusRecorder()
	p.IncDelivery("github", "noop")

	srv := httptest.NewServer(p.Handler())
	t.Cleanup(srv.Close)

	res, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer res.Body.Close()

	body, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Contains(t, string(body), `buildhook_webhook_deliveries_total{outcome="noop",provider="github"} 1`)
}

func TestNilRecorder(t *testing.T) {
	var p *PrometheusRecorder
	assert.NotPanics(t, func() {
		p.IncDelivery("github", "noop")
		p.IncConsumerResult("built")
		p.IncReporterRequest("status", "success")
		p.SetQueueLength("inbox", 1)
	})
}
