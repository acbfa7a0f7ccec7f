package bridge

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
)

// Publisher drains a relay on the serving goroutine and writes SSE frames to
// the transport. It is the only cooperatively-suspending component of the
// bridge: everything else blocks natively on its own goroutine.
type Publisher struct {
	relay *Relay
	// done closes when the producing worker has fully finished. The
	// publisher joins on it after the sentinel so the generator never closes
	// while a late push is still possible.
	done   <-chan struct{}
	logger *slog.Logger
}

// NewPublisher creates a publisher for one investigation's relay. done must
// close when the worker goroutine feeding relay returns.
func NewPublisher(relay *Relay, done <-chan struct{}, logger *slog.Logger) *Publisher {
	return &Publisher{relay: relay, done: done, logger: logger}
}

// Serve writes envelopes to w until the sentinel. If w implements
// http.Flusher each frame is flushed immediately.
//
// A ctx error (client disconnected) stops consumption and returns the ctx
// error; the in-flight run is deliberately left alone — it completes
// server-side, its remaining envelopes simply never delivered.
func (p *Publisher) Serve(ctx context.Context, w io.Writer) error {
	flusher, _ := w.(http.Flusher)

	for {
		env, ok, err := p.relay.Drain(ctx)
		if err != nil {
			p.logger.Debug("publisher: client gone, run continues server-side", "error", err)
			return err
		}
		if !ok {
			// Sentinel. Join the worker before ending the stream.
			select {
			case <-p.done:
			case <-ctx.Done():
				return ctx.Err()
			}
			return nil
		}

		frame, err := env.EncodeSSE()
		if err != nil {
			// A payload that cannot marshal is a programming error; skip the
			// frame rather than corrupting the stream.
			p.logger.Error("publisher: envelope encoding failed", "kind", env.Kind, "error", err)
			continue
		}
		if _, err := w.Write(frame); err != nil {
			return fmt.Errorf("bridge: write frame: %w", err)
		}
		if flusher != nil {
			flusher.Flush()
		}
	}
}
