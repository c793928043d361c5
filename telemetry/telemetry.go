// Package telemetry is the tracing and application-data sink that the
// alarm notifies around each measured window.
package telemetry

// Sink receives the window boundaries and the aggregate operation count.
// Implementations must not block; the alarm calls them while harvesting.
type Sink interface {
	// Enable starts (on) or stops recording for the window named label.
	Enable(on bool, label string)
	// Register records an application value for the current window.
	Register(v uint64)
}

// Nop discards everything.
type Nop struct{}

func (Nop) Enable(bool, string) {}

func (Nop) Register(uint64) {}
