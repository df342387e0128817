package metrics

import (
	"context"
	"time"

	apperrors "github.com/target/booking-session/internal/errors"
	"github.com/target/booking-session/internal/observability/statsd"
)

// Result constants for metric tagging.
const (
	ResultSuccess = "success"
	ResultError   = "error"
	ResultNoop    = "noop"
	ResultStale   = "stale"
)

// Refresh triggers.
const (
	TriggerRestore   = "restore"
	TriggerScheduled = "scheduled"
	TriggerTransport = "transport"
	TriggerManual    = "manual"
)

type triggerKey struct{}

// WithTrigger tags ctx with the reason a session refresh was requested.
func WithTrigger(ctx context.Context, trigger string) context.Context {
	return context.WithValue(ctx, triggerKey{}, trigger)
}

// TriggerFrom returns the refresh trigger carried by ctx, defaulting to TriggerManual.
func TriggerFrom(ctx context.Context) string {
	if t, ok := ctx.Value(triggerKey{}).(string); ok && t != "" {
		return t
	}
	return TriggerManual
}

// SessionMetric captures a single session lifecycle event.
type SessionMetric struct {
	// Operation is one of signup, signin, signout, refresh, role_select.
	Operation string
	Trigger   string
	Result    string
	Duration  time.Duration
	Err       error
}

// EmitSession emits session.<operation> counters and timings.
func EmitSession(sink statsd.Sink, in SessionMetric) {
	if sink == nil || in.Operation == "" {
		return
	}

	tags := map[string]string{"result": in.Result}
	if in.Trigger != "" {
		tags["trigger"] = in.Trigger
	}
	if in.Err != nil && in.Result == ResultError {
		tags["error_class"] = ErrorClass(in.Err)
	}

	name := "session." + in.Operation
	sink.Count(name, 1, tags)
	if in.Duration > 0 {
		sink.Timing(name+".duration", in.Duration, CloneTags(tags))
	}
}

// EmitSessionActive sets the session.active gauge to 1 while a session is held
// and 0 once it is cleared.
func EmitSessionActive(sink statsd.Sink, active bool) {
	if sink == nil {
		return
	}
	v := 0.0
	if active {
		v = 1
	}
	sink.Gauge("session.active", v, nil)
}

// EmitTransportRetry records an authenticated request that hit 401 and was retried.
// Recovered reports whether the retried request came back with something other than 401.
func EmitTransportRetry(sink statsd.Sink, method string, recovered bool) {
	if sink == nil {
		return
	}
	result := ResultSuccess
	if !recovered {
		result = ResultError
	}
	sink.Count("transport.retry", 1, map[string]string{"method": method, "result": result})
}

// ErrorClass returns a low-cardinality label for err.
func ErrorClass(err error) string {
	if err == nil {
		return ""
	}
	if code := apperrors.GetCode(err); code != "" {
		return string(code)
	}
	return string(apperrors.Classify(err, "").Code)
}

// CloneTags creates a shallow copy of a tag map.
func CloneTags(src map[string]string) map[string]string {
	if len(src) == 0 {
		return nil
	}
	out := make(map[string]string, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}
