// Package notify delivers incident events to external channels.
//
// The Dispatcher sits between the engine and the senders: Enqueue never
// blocks, a worker goroutine performs delivery with retries, and rapid
// updates to one incident are coalesced so a busy incident does not flood
// the channel.
package notify

import (
	"context"

	"github.com/abelbrown/icewatch/internal/correlation"
	"github.com/abelbrown/icewatch/internal/logging"
)

// Sender delivers one event. Send is called from the dispatcher worker only.
type Sender interface {
	// Name returns the sender's identifier (e.g., "discord", "store").
	Name() string

	// Send delivers an event, returning an error once retries are exhausted.
	Send(ctx context.Context, ev correlation.Event) error
}

// senderFunc adapts a function to Sender.
type senderFunc struct {
	name string
	fn   func(ctx context.Context, ev correlation.Event) error
}

// SenderFunc returns a Sender that calls fn.
func SenderFunc(name string, fn func(ctx context.Context, ev correlation.Event) error) Sender {
	return senderFunc{name: name, fn: fn}
}

func (s senderFunc) Name() string { return s.name }

func (s senderFunc) Send(ctx context.Context, ev correlation.Event) error {
	return s.fn(ctx, ev)
}

// LogSender writes a one-line summary of each event to the application log.
type LogSender struct{}

// Name implements Sender.
func (LogSender) Name() string { return "log" }

// Send implements Sender.
func (LogSender) Send(_ context.Context, ev correlation.Event) error {
	inc := ev.Incident
	logging.Info("incident "+string(ev.Kind),
		"cluster", inc.ClusterID,
		"location", inc.PrimaryLocation,
		"reports", inc.SourceCount,
		"sources", len(inc.UniqueSourceTypes),
		"confidence", inc.ConfidenceScore,
		"band", BandOf(inc.ConfidenceScore),
	)
	return nil
}
