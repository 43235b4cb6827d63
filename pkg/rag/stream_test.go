package rag

import (
	"context"
	"io"
	"sync/atomic"
	"testing"
	"time"
)

// scriptedTransport replays a fixed sequence of events then a terminal error.
type scriptedTransport struct {
	events   []*StreamEvent
	terminal error
	pos      int
	closed   atomic.Bool
	// block, when non-nil, makes Recv wait until it is closed.
	block chan struct{}
}

func (s *scriptedTransport) Recv() (*StreamEvent, error) {
	if s.block != nil {
		<-s.block
	}
	if s.pos < len(s.events) {
		ev := s.events[s.pos]
		s.pos++
		return ev, nil
	}
	return nil, s.terminal
}

func (s *scriptedTransport) Close() error {
	s.closed.Store(true)
	if s.block != nil {
		select {
		case <-s.block:
		default:
			close(s.block)
		}
	}
	return nil
}

func collect(t *testing.T, ch <-chan StreamFragment) []StreamFragment {
	t.Helper()
	var out []StreamFragment
	timeout := time.After(2 * time.Second)
	for {
		select {
		case f, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, f)
		case <-timeout:
			t.Fatal("timed out waiting for fragments")
		}
	}
}

func TestStreamCoordinatorHappyPath(t *testing.T) {
	transport := &scriptedTransport{
		events: []*StreamEvent{
			{Kind: FragmentToken, Text: "Hello"},
			{Kind: FragmentToken, Text: " world"},
			{Kind: FragmentCitation, Chunks: []Chunk{{Id: "c1", Score: 0.8}}},
		},
		terminal: io.EOF,
	}

	coord := NewStreamCoordinator()
	fragments := collect(t, coord.Run(context.Background(), transport))

	if len(fragments) != 4 {
		t.Fatalf("got %d fragments, want 4", len(fragments))
	}
	for i, f := range fragments {
		if f.Seq != i {
			t.Errorf("fragment %d has seq %d, want contiguous from 0", i, f.Seq)
		}
	}
	if fragments[0].Text != "Hello" || fragments[1].Text != " world" {
		t.Errorf("token order wrong: %+v", fragments[:2])
	}
	if fragments[2].Kind != FragmentCitation || len(fragments[2].Chunks) != 1 {
		t.Errorf("expected citation fragment, got %+v", fragments[2])
	}
	if fragments[3].Kind != FragmentDone {
		t.Errorf("last fragment = %q, want done", fragments[3].Kind)
	}
	if coord.State() != StreamCompleted {
		t.Errorf("state = %s, want completed", coord.State())
	}
	if !transport.closed.Load() {
		t.Error("transport must be closed after completion")
	}
}

func TestStreamCoordinatorMidTurnFailure(t *testing.T) {
	transport := &scriptedTransport{
		events: []*StreamEvent{
			{Kind: FragmentToken, Text: "partial"},
		},
		terminal: NewError(KindBackendUnavailable, "dify.chat", "stream broke"),
	}

	coord := NewStreamCoordinator()
	fragments := collect(t, coord.Run(context.Background(), transport))

	if len(fragments) != 2 {
		t.Fatalf("got %d fragments, want 2", len(fragments))
	}
	if fragments[0].Kind != FragmentToken {
		t.Errorf("delivered fragments before the failure must stay valid")
	}
	last := fragments[1]
	if last.Kind != FragmentError || last.Err == "" {
		t.Errorf("expected terminal error fragment, got %+v", last)
	}
	if coord.State() != StreamFailed {
		t.Errorf("state = %s, want failed", coord.State())
	}
	if !transport.closed.Load() {
		t.Error("transport must be closed after failure")
	}
}

func TestStreamCoordinatorCancellation(t *testing.T) {
	// Recv blocks until the connection dies, as it would when ctx cancellation
	// aborts the underlying HTTP request.
	transport := &scriptedTransport{
		terminal: NewError(KindBackendUnavailable, "chat", "connection aborted"),
		block:    make(chan struct{}),
	}

	ctx, cancel := context.WithCancel(context.Background())
	coord := NewStreamCoordinator()
	ch := coord.Run(ctx, transport)

	cancel()
	close(transport.block)

	fragments := collect(t, ch)
	for _, f := range fragments {
		if f.Kind == FragmentDone || f.Kind == FragmentError {
			t.Errorf("cancelled turn must not emit a terminal fragment, got %+v", f)
		}
	}

	deadline := time.Now().Add(2 * time.Second)
	for !transport.closed.Load() {
		if time.Now().After(deadline) {
			t.Fatal("transport not closed after cancellation")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if coord.State() != StreamCancelled {
		t.Errorf("state = %s, want cancelled", coord.State())
	}
}

func TestStreamCoordinatorDropsNilEvents(t *testing.T) {
	transport := &scriptedTransport{
		events: []*StreamEvent{
			nil,
			{Kind: FragmentToken, Text: "only"},
			nil,
		},
		terminal: io.EOF,
	}

	fragments := collect(t, NewStreamCoordinator().Run(context.Background(), transport))

	if len(fragments) != 2 {
		t.Fatalf("got %d fragments, want token + done", len(fragments))
	}
	if fragments[0].Text != "only" {
		t.Errorf("unexpected first fragment: %+v", fragments[0])
	}
}
