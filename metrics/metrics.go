// Package metrics defines the instrumentation surface of the SDK. The
// default everywhere is NoopRecorder; the prometheus implementation is
// opt-in.
package metrics

import "time"

type Recorder interface {
	IncCounter(name string, labels map[string]string)
	ObserveLatency(name string, duration time.Duration, labels map[string]string)
}
