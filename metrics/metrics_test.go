package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsRegistration(t *testing.T) {
	if EpochsStarted == nil {
		t.Error("EpochsStarted metric is nil")
	}
	if EpochsRestarted == nil {
		t.Error("EpochsRestarted metric is nil")
	}
	if EpochDuration == nil {
		t.Error("EpochDuration metric is nil")
	}
	if RoundsStarted == nil {
		t.Error("RoundsStarted metric is nil")
	}
	if RoundsFinished == nil {
		t.Error("RoundsFinished metric is nil")
	}
	if ClientsRegistered == nil {
		t.Error("ClientsRegistered metric is nil")
	}
	if MessagesProcessed == nil {
		t.Error("MessagesProcessed metric is nil")
	}
	if MessageSize == nil {
		t.Error("MessageSize metric is nil")
	}
}

func TestMetricsIncrement(t *testing.T) {
	EpochsStarted.WithLabelValues("proposer").Inc()
	EpochsRestarted.WithLabelValues("received ServerStop").Inc()
	EpochDuration.Observe(0.25)
	RoundsStarted.Inc()
	RoundsFinished.WithLabelValues("completed").Inc()
	ClientsRegistered.Inc()
	MessagesProcessed.WithLabelValues("ClientRegister", "accepted").Inc()
	MessageSize.WithLabelValues("SessionData").Observe(256)

	if count := testutil.CollectAndCount(EpochsStarted); count == 0 {
		t.Error("EpochsStarted has no metrics collected")
	}
	if count := testutil.CollectAndCount(MessagesProcessed); count == 0 {
		t.Error("MessagesProcessed has no metrics collected")
	}
}

func TestHandlerServesRegistry(t *testing.T) {
	if Handler() == nil {
		t.Error("Handler() returned nil")
	}
}
