package dify

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"rag-bridge-be/pkg/rag"
)

func TestRenderQuery(t *testing.T) {
	assert.Equal(t, "plain", renderQuery(nil, "plain"))

	got := renderQuery([]rag.Message{
		{Role: rag.RoleUser, Content: "hi"},
		{Role: rag.RoleAssistant, Content: "hello"},
	}, "next")
	assert.Equal(t, "Previous conversation:\nuser: hi\nassistant: hello\n\nQuestion: next", got)
}

func TestOpenChatStream(t *testing.T) {
	adapter := newTestAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat-messages", r.URL.Path)
		var body map[string]interface{}
		json.NewDecoder(r.Body).Decode(&body)
		assert.Equal(t, "streaming", body["response_mode"])
		assert.NotEmpty(t, body["user"])

		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, `data: {"event":"message","answer":"Raft"}`+"\n\n")
		fmt.Fprint(w, `data: {"event":"message","answer":" elects"}`+"\n\n")
		fmt.Fprint(w, "event: ping\n\n")
		fmt.Fprint(w, `data: {"event":"message_end","metadata":{"retriever_resources":[{"segment_id":"s-1","document_id":"d-1","document_name":"raft.md","score":0.91,"content":"leader election"}]}}`+"\n\n")
	}))

	transport, err := adapter.OpenChat(context.Background(), "kb-1", nil, "what is raft")
	assert.NoError(t, err)
	defer transport.Close()

	ev, err := transport.Recv()
	assert.NoError(t, err)
	assert.Equal(t, rag.FragmentToken, ev.Kind)
	assert.Equal(t, "Raft", ev.Text)

	ev, err = transport.Recv()
	assert.NoError(t, err)
	assert.Equal(t, " elects", ev.Text)

	ev, err = transport.Recv()
	assert.NoError(t, err)
	assert.Equal(t, rag.FragmentCitation, ev.Kind)
	assert.Len(t, ev.Chunks, 1)
	assert.Equal(t, "raft.md", ev.Chunks[0].DocumentName)

	_, err = transport.Recv()
	assert.ErrorIs(t, err, io.EOF)
}

func TestOpenChatStreamError(t *testing.T) {
	adapter := newTestAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, `data: {"event":"message","answer":"partial"}`+"\n\n")
		fmt.Fprint(w, `data: {"event":"error","code":"completion_request_error","message":"model overloaded"}`+"\n\n")
	}))

	transport, err := adapter.OpenChat(context.Background(), "kb-1", nil, "q")
	assert.NoError(t, err)
	defer transport.Close()

	ev, err := transport.Recv()
	assert.NoError(t, err)
	assert.Equal(t, "partial", ev.Text)

	_, err = transport.Recv()
	assert.Equal(t, rag.KindBackendRejected, rag.KindOf(err))
	assert.Contains(t, err.Error(), "model overloaded")
}

func TestOpenChatRejectedUpfront(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message":"invalid api key"}`, http.StatusUnauthorized)
	}))
	defer server.Close()

	adapter := NewDifyAdapter(server.URL, "bad-key", "")
	_, err := adapter.OpenChat(context.Background(), "kb-1", nil, "q")
	assert.Equal(t, rag.KindBackendRejected, rag.KindOf(err))
}

func TestOpenChatHistoryTruncation(t *testing.T) {
	var gotQuery string
	adapter := newTestAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]interface{}
		json.NewDecoder(r.Body).Decode(&body)
		gotQuery, _ = body["query"].(string)
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, `data: {"event":"message_end","metadata":{}}`+"\n\n")
	}))

	history := make([]rag.Message, 30)
	for i := range history {
		history[i] = rag.Message{Role: rag.RoleUser, Content: fmt.Sprintf("msg-%d", i)}
	}

	transport, err := adapter.OpenChat(context.Background(), "kb-1", history, "final")
	assert.NoError(t, err)
	transport.Close()

	assert.NotContains(t, gotQuery, "msg-9", "messages beyond the history cap must be dropped")
	assert.Contains(t, gotQuery, "msg-29")
	assert.Contains(t, gotQuery, "Question: final")
}
