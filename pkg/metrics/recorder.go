// Package metrics exposes counters for webhook ingestion, trigger consumption and status reporting.
//
// Components receive a Recorder and default to NoopRecorder, so metrics stay optional.
package metrics

// Recorder defines the observability hooks of the pipeline.
type Recorder interface {
	// Count a webhook delivery by provider and gateway outcome
	IncDelivery(provider, outcome string)
	// Count a processed queue item by result: built, skipped, duplicate, retried, failed
	IncConsumerResult(result string)
	// Count an outbound provider API call by kind (check_run, status) and outcome
	IncReporterRequest(kind, outcome string)
	// Current number of items waiting in a queue partition
	SetQueueLength(partition string, n int64)
}

// NoopRecorder discards everything.
type NoopRecorder struct{}

func (NoopRecorder) IncDelivery(string, string)        {}
func (NoopRecorder) IncConsumerResult(string)          {}
func (NoopRecorder) IncReporterRequest(string, string) {}
func (NoopRecorder) SetQueueLength(string, int64)      {}
