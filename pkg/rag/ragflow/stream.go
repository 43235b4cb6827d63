package ragflow

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

// OpenChat starts one streaming turn. RagFlow answers through a chat
// assistant session; the assistant and session handles are resolved first,
// then the completion endpoint streams line-delimited JSON.
func (a *RagFlowAdapter) OpenChat(ctx context.Context, knowledgeBaseId string, history []rag.Message, query string) (rag.ChatTransport, error) {
	const op = "ragflow.OpenChat"

	chatId, err := a.resolveChat(ctx, knowledgeBaseId)
	if err != nil {
		return nil, err
	}
	sessionId, err := a.resolveSession(ctx, chatId)
	if err != nil {
		return nil, err
	}

	body := map[string]interface{}{
		"question":   renderQuestion(rag.TruncateHistory(history, a.Capabilities().MaxHistory), query),
		"stream":     true,
		"session_id": sessionId,
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, rag.WrapError(rag.KindInvalidInput, op, "marshal request", err)
	}

	url := fmt.Sprintf("%s/chats/%s/completions", a.base(), chatId)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, rag.WrapError(rag.KindInvalidInput, op, "create request", err)
	}
	req.Header.Set("Authorization", "Bearer "+a.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.streamClient.Do(req)
	if err != nil {
		return nil, rag.WrapError(rag.KindBackendUnavailable, op, "ragflow request failed", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		respBody, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, rag.NewError(rag.KindFromStatus(resp.StatusCode), op,
			fmt.Sprintf("ragflow returned status %d: %s", resp.StatusCode, truncateBody(respBody)))
	}

	t := &ragflowChatTransport{
		body:   resp.Body,
		events: make(chan *rag.StreamEvent, 4),
		errc:   make(chan error, 1),
		done:   make(chan struct{}),
	}
	go t.readLoop()
	return t, nil
}

// renderQuestion folds prior turns into the question text. The session gives
// RagFlow its own memory, but the caller-supplied history is authoritative
// here, so it travels with every turn.
func renderQuestion(history []rag.Message, query string) string {
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

// ragflowChatTransport adapts RagFlow's completion stream. RagFlow sends the
// answer cumulatively (each event carries the whole text so far), so the
// transport keeps the previously seen length and emits only the suffix as a
// token event. References may ride along on answer events; they surface as a
// citation event right after the tokens they accompany.
type ragflowChatTransport struct {
	body      io.ReadCloser
	events    chan *rag.StreamEvent
	errc      chan error
	done      chan struct{}
	closeOnce sync.Once

	seen int // length of the answer already emitted
}

type ragflowStreamPayload struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type ragflowStreamData struct {
	Answer    string `json:"answer"`
	SessionId string `json:"session_id"`
	Reference struct {
		Chunks []ragflowChunk `json:"chunks"`
	} `json:"reference"`
}

func (t *ragflowChatTransport) deliver(ev *rag.StreamEvent) bool {
	select {
	case t.events <- ev:
		return true
	case <-t.done:
		return false
	}
}

func (t *ragflowChatTransport) fail(err error) {
	select {
	case t.errc <- err:
	case <-t.done:
	}
}

func (t *ragflowChatTransport) readLoop() {
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

		var payload ragflowStreamPayload
		if err := json.Unmarshal([]byte(raw), &payload); err != nil {
			continue
		}
		if payload.Code != 0 {
			t.fail(rag.NewError(rag.KindBackendRejected, "ragflow.ChatStream",
				fmt.Sprintf("ragflow stream error %d: %s", payload.Code, payload.Message)))
			return
		}

		// The terminal event is the literal payload {"code":0,"data":true}.
		if string(payload.Data) == "true" {
			t.fail(io.EOF)
			return
		}

		var data ragflowStreamData
		if err := json.Unmarshal(payload.Data, &data); err != nil {
			continue
		}

		if len(data.Answer) > t.seen {
			delta := data.Answer[t.seen:]
			t.seen = len(data.Answer)
			if !t.deliver(&rag.StreamEvent{Kind: rag.FragmentToken, Text: delta}) {
				return
			}
		}
		if len(data.Reference.Chunks) > 0 {
			chunks := make([]rag.Chunk, 0, len(data.Reference.Chunks))
			for _, c := range data.Reference.Chunks {
				chunks = append(chunks, toSharedChunk(c))
			}
			if !t.deliver(&rag.StreamEvent{Kind: rag.FragmentCitation, Chunks: chunks}) {
				return
			}
		}
	}

	if err := scanner.Err(); err != nil {
		t.fail(rag.WrapError(rag.KindBackendUnavailable, "ragflow.ChatStream", "stream read failed", err))
		return
	}
	t.fail(io.EOF)
}

func (t *ragflowChatTransport) Recv() (*rag.StreamEvent, error) {
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
		return nil, rag.NewError(rag.KindBackendUnavailable, "ragflow.ChatStream", "stream idle timeout")
	}
}

func (t *ragflowChatTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		close(t.done)
		err = t.body.Close()
	})
	return err
}
