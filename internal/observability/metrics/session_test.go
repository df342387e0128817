package metrics

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/target/booking-session/internal/errors"
)

type recordedMetric struct {
	kind  string
	name  string
	tags  map[string]string
	value any
}

type fakeSink struct {
	mu      sync.Mutex
	metrics []recordedMetric
}

func (f *fakeSink) Count(name string, value int64, tags map[string]string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.metrics = append(f.metrics, recordedMetric{kind: "count", name: name, tags: tags, value: value})
}

func (f *fakeSink) Timing(name string, value time.Duration, tags map[string]string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.metrics = append(f.metrics, recordedMetric{kind: "timing", name: name, tags: tags, value: value})
}

func (f *fakeSink) Gauge(name string, value float64, tags map[string]string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.metrics = append(f.metrics, recordedMetric{kind: "gauge", name: name, tags: tags, value: value})
}

func TestEmitSessionActive(t *testing.T) {
	sink := &fakeSink{}
	EmitSessionActive(sink, true)
	EmitSessionActive(sink, false)
	EmitSessionActive(nil, true)

	require.Len(t, sink.metrics, 2)
	assert.Equal(t, recordedMetric{kind: "gauge", name: "session.active", value: 1.0}, sink.metrics[0])
	assert.Equal(t, 0.0, sink.metrics[1].value)
}

func TestEmitSession_SuccessWithDuration(t *testing.T) {
	sink := &fakeSink{}
	EmitSession(sink, SessionMetric{
		Operation: "refresh",
		Trigger:   TriggerScheduled,
		Result:    ResultSuccess,
		Duration:  20 * time.Millisecond,
	})

	require.Len(t, sink.metrics, 2)
	assert.Equal(t, "session.refresh", sink.metrics[0].name)
	assert.Equal(t, map[string]string{"result": "success", "trigger": "scheduled"}, sink.metrics[0].tags)
	assert.Equal(t, "session.refresh.duration", sink.metrics[1].name)
	assert.Equal(t, "timing", sink.metrics[1].kind)
}

func TestEmitSession_ErrorClass(t *testing.T) {
	sink := &fakeSink{}
	EmitSession(sink, SessionMetric{
		Operation: "signin",
		Result:    ResultError,
		Err:       apperrors.InvalidCredentials("bad password"),
	})

	require.Len(t, sink.metrics, 1)
	assert.Equal(t, "invalid_credentials", sink.metrics[0].tags["error_class"])
	_, hasTrigger := sink.metrics[0].tags["trigger"]
	assert.False(t, hasTrigger)
}

func TestEmitSession_NilSinkIsNoop(t *testing.T) {
	assert.NotPanics(t, func() {
		EmitSession(nil, SessionMetric{Operation: "signout", Result: ResultSuccess})
	})
}

func TestEmitTransportRetry(t *testing.T) {
	sink := &fakeSink{}
	EmitTransportRetry(sink, "GET", false)

	require.Len(t, sink.metrics, 1)
	assert.Equal(t, "transport.retry", sink.metrics[0].name)
	assert.Equal(t, map[string]string{"method": "GET", "result": "error"}, sink.metrics[0].tags)
}

func TestErrorClass(t *testing.T) {
	assert.Equal(t, "", ErrorClass(nil))
	assert.Equal(t, "network", ErrorClass(context.DeadlineExceeded))
	assert.Equal(t, "unknown", ErrorClass(errors.New("boom")))
	assert.Equal(t, "refresh_failed", ErrorClass(apperrors.RefreshFailed(errors.New("expired"))))
}

func TestCloneTags(t *testing.T) {
	src := map[string]string{"a": "1"}
	out := CloneTags(src)
	out["a"] = "2"
	assert.Equal(t, "1", src["a"])
	assert.Nil(t, CloneTags(nil))
}

func TestTriggerContext(t *testing.T) {
	assert.Equal(t, TriggerManual, TriggerFrom(context.Background()))
	ctx := WithTrigger(context.Background(), TriggerTransport)
	assert.Equal(t, TriggerTransport, TriggerFrom(ctx))
}
