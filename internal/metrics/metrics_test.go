package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestInit(t *testing.T) {
	// Call Init multiple times to test idempotency.
	Init()
	Init()

	if brokerPullsTotal == nil || crawlerTasksTotal == nil ||
		httpRequestsTotal == nil || httpRequestDurationSeconds == nil {
		t.Fatal("Init() did not initialize metrics collectors")
	}
}

func TestObserveHelpers(t *testing.T) {
	before := testutil.ToFloat64(crawlerTasksCounter("page", "indexed"))
	ObserveTask("page", "indexed")
	if got := testutil.ToFloat64(crawlerTasksCounter("page", "indexed")); got != before+1 {
		t.Errorf("expected task counter %f, got %f", before+1, got)
	}

	ObservePull("High", "message")
	if got := testutil.ToFloat64(brokerPullsTotal.WithLabelValues("High", "message")); got < 1 {
		t.Errorf("expected pull counter >= 1, got %f", got)
	}

	ObservePublish(nil)
	ObservePublish(errors.New("boom"))
	if got := testutil.ToFloat64(brokerPublishesTotal.WithLabelValues("error")); got < 1 {
		t.Errorf("expected error publish counter >= 1, got %f", got)
	}

	ObserveRateLimitDelay(2 * time.Second)
	ObserveRateLimitDelay(3 * time.Second)
	if got := testutil.CollectAndCount(crawlerRateLimitDelaySeconds); got != 1 {
		t.Errorf("expected a single rate limit series, got %d", got)
	}

	IncInflight()
	DecInflight()
	if got := testutil.ToFloat64(crawlerInflightTasks); got != 0 {
		t.Errorf("expected in-flight gauge 0, got %f", got)
	}
}

func crawlerTasksCounter(kind, outcome string) prometheus.Counter {
	Init()
	return crawlerTasksTotal.WithLabelValues(kind, outcome)
}
