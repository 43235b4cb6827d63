package rag

import (
	"context"
	"errors"
	"io"
	"sync/atomic"
)

// StreamState is the coordinator's per-turn state machine.
type StreamState int32

const (
	StreamIdle StreamState = iota
	StreamStreaming
	StreamCompleted
	StreamFailed
	StreamCancelled
)

func (s StreamState) String() string {
	switch s {
	case StreamIdle:
		return "idle"
	case StreamStreaming:
		return "streaming"
	case StreamCompleted:
		return "completed"
	case StreamFailed:
		return "failed"
	case StreamCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// StreamCoordinator drives one conversation turn: it pulls events from a
// ChatTransport, stamps monotonic sequence indices, and pushes fragments to
// the consumer with back-pressure. It never reorders, never retries, and
// always closes the transport, including on cancellation.
//
// One coordinator serves exactly one turn.
type StreamCoordinator struct {
	state atomic.Int32
}

func NewStreamCoordinator() *StreamCoordinator {
	return &StreamCoordinator{}
}

func (c *StreamCoordinator) State() StreamState {
	return StreamState(c.state.Load())
}

// Run consumes transport until a terminal condition and returns the fragment
// channel. The channel is closed after the terminal fragment; on cancellation
// it is closed without further fragments. Run must be called once.
func (c *StreamCoordinator) Run(ctx context.Context, transport ChatTransport) <-chan StreamFragment {
	out := make(chan StreamFragment, 1)
	c.state.Store(int32(StreamStreaming))

	go func() {
		defer close(out)
		defer transport.Close()

		seq := 0
		// emit blocks until the consumer takes the fragment or gives up.
		emit := func(f StreamFragment) bool {
			f.Seq = seq
			select {
			case out <- f:
				seq++
				return true
			case <-ctx.Done():
				c.state.Store(int32(StreamCancelled))
				return false
			}
		}

		for {
			select {
			case <-ctx.Done():
				c.state.Store(int32(StreamCancelled))
				return
			default:
			}

			event, err := transport.Recv()
			if err != nil {
				if errors.Is(err, io.EOF) {
					if emit(StreamFragment{Kind: FragmentDone}) {
						c.state.Store(int32(StreamCompleted))
					}
					return
				}
				if ctx.Err() != nil {
					c.state.Store(int32(StreamCancelled))
					return
				}
				// A mid-turn failure yields exactly one terminal error
				// fragment; fragments already delivered stay valid.
				if emit(StreamFragment{Kind: FragmentError, Err: err.Error()}) {
					c.state.Store(int32(StreamFailed))
				}
				return
			}
			if event == nil {
				continue
			}
			if !emit(StreamFragment{Kind: event.Kind, Text: event.Text, Chunks: event.Chunks}) {
				return
			}
		}
	}()

	return out
}
