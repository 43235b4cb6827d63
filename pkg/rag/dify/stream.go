package dify

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"rag-bridge-be/pkg/rag"
)

// fragmentIdleTimeout bounds how long Recv waits between stream events
// before the turn is considered failed.
const fragmentIdleTimeout = 120 * time.Second

// OpenChat starts one streaming turn against the Dify chat API. Dify keeps
// conversation state server-side behind a conversation_id, but this layer is
// stateless per call, so prior history is rendered into the query preamble
// (bounded by MaxHistory) instead.
func (a *DifyAdapter) OpenChat(ctx context.Context, knowledgeBaseId string, history []rag.Message, query string) (rag.ChatTransport, error) {
	const op = "dify.OpenChat"

	body := map[string]interface{}{
		"inputs":             map[string]interface{}{},
		"query":              renderQuery(rag.TruncateHistory(history, a.Capabilities().MaxHistory), query),
		"response_mode":      "streaming",
		"conversation_id":    "",
		"user":               a.user,
		"auto_generate_name": false,
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, rag.WrapError(rag.KindInvalidInput, op, "marshal request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.Route+"/chat-messages", bytes.NewReader(payload))
	if err != nil {
		return nil, rag.WrapError(rag.KindInvalidInput, op, "create request", err)
	}
	req.Header.Set("Authorization", "Bearer "+a.chatKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	resp, err := a.streamClient.Do(req)
	if err != nil {
		return nil, rag.WrapError(rag.KindBackendUnavailable, op, "dify request failed", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		respBody, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, rag.NewError(rag.KindFromStatus(resp.StatusCode), op,
			fmt.Sprintf("dify returned status %d: %s", resp.StatusCode, truncateBody(respBody)))
	}

	t := &difyChatTransport{
		body:   resp.Body,
		events: make(chan *rag.StreamEvent, 4),
		errc:   make(chan error, 1),
		done:   make(chan struct{}),
	}
	go t.readLoop()
	return t, nil
}

// renderQuery folds prior turns into a plain-text preamble. The cut made by
// TruncateHistory upstream is invisible to the caller.
func renderQuery(history []rag.Message, query string) string {
	if len(history) == 0 {
		return query
	}
	var b strings.Builder
	b.WriteString("Previous conversation:\n")
	for _, m := range history {
		b.WriteString(m.Role)
		b.WriteString(": ")
		b.WriteString(m.Content)
		b.WriteString("\n")
	}
	b.WriteString("\nQuestion: ")
	b.WriteString(query)
	return b.String()
}

// difyChatTransport adapts Dify's SSE wire format to the shared event
// vocabulary. Tokens arrive as "message" deltas; citations only arrive in the
// terminal "message_end" event, which this transport surfaces as a citation
// event followed by io.EOF.
type difyChatTransport struct {
	body      io.ReadCloser
	events    chan *rag.StreamEvent
	errc      chan error
	done      chan struct{}
	closeOnce sync.Once
}

// deliver pushes an event without leaking the read goroutine when the
// consumer has already closed the transport.
func (t *difyChatTransport) deliver(ev *rag.StreamEvent) bool {
	select {
	case t.events <- ev:
		return true
	case <-t.done:
		return false
	}
}

func (t *difyChatTransport) fail(err error) {
	select {
	case t.errc <- err:
	case <-t.done:
	}
}

type difySSEPayload struct {
	Event    string `json:"event"`
	Answer   string `json:"answer"`
	Message  string `json:"message"` // error description on event=error
	Code     string `json:"code"`
	Metadata struct {
		RetrieverResources []difyRetrieverResource `json:"retriever_resources"`
	} `json:"metadata"`
}

func (t *difyChatTransport) readLoop() {
	scanner := bufio.NewScanner(t.body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		raw := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if raw == "" {
			continue
		}

		var payload difySSEPayload
		if err := json.Unmarshal([]byte(raw), &payload); err != nil {
			// Keep-alive or partial line; no caller-visible effect.
			continue
		}

		switch payload.Event {
		case "message", "agent_message":
			if payload.Answer == "" {
				continue
			}
			if !t.deliver(&rag.StreamEvent{Kind: rag.FragmentToken, Text: payload.Answer}) {
				return
			}
		case "message_end":
			if len(payload.Metadata.RetrieverResources) > 0 {
				chunks := make([]rag.Chunk, 0, len(payload.Metadata.RetrieverResources))
				for _, r := range payload.Metadata.RetrieverResources {
					chunks = append(chunks, toSharedCitation(r))
				}
				if !t.deliver(&rag.StreamEvent{Kind: rag.FragmentCitation, Chunks: chunks}) {
					return
				}
			}
			t.fail(io.EOF)
			return
		case "error":
			t.fail(rag.NewError(rag.KindBackendRejected, "dify.ChatStream",
				"dify stream error: "+payload.Message))
			return
		default:
			// ping, tts_message, workflow bookkeeping: drop.
		}
	}

	if err := scanner.Err(); err != nil {
		t.fail(rag.WrapError(rag.KindBackendUnavailable, "dify.ChatStream", "stream read failed", err))
		return
	}
	// Stream closed without message_end; treat as a normal end.
	t.fail(io.EOF)
}

func (t *difyChatTransport) Recv() (*rag.StreamEvent, error) {
	select {
	case ev := <-t.events:
		return ev, nil
	case err := <-t.errc:
		// Drain events queued before the terminal condition.
		select {
		case ev := <-t.events:
			t.errc <- err
			return ev, nil
		default:
		}
		return nil, err
	case <-time.After(fragmentIdleTimeout):
		t.Close()
		return nil, rag.NewError(rag.KindBackendUnavailable, "dify.ChatStream", "stream idle timeout")
	}
}

func (t *difyChatTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		close(t.done)
		err = t.body.Close()
	})
	return err
}
