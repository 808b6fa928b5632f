package otel

import (
	"os"
	"sync/atomic"
)

var tracing atomic.Bool

func init() {
	tracing.Store(os.Getenv("ICEWATCH_TRACE") != "")
}

// TraceEnabled reports whether ICEWATCH_TRACE was set at startup. Tracing
// journals a debug event for every accepted report, not only rejections and
// incident changes.
func TraceEnabled() bool {
	return tracing.Load()
}

func setTraceEnabled(v bool) {
	tracing.Store(v)
}
