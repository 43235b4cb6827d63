package rag

import (
	"context"
)

// BackendAdapter is the contract each platform adapter implements. It is the
// only code that knows a backend's wire shapes; everything it returns is
// already mapped into the shared model and every error is a *Error.
//
// Adapters hold credentials and an HTTP connection pool but no per-call
// mutable state, so one instance is safe for concurrent use.
type BackendAdapter interface {
	Capabilities() Capabilities

	UploadDocumentAndParse(ctx context.Context, knowledgeBaseId string, fileContent []byte, fileName string, metadata map[string]interface{}) (*Document, error)
	UpdateDocumentAndParse(ctx context.Context, knowledgeBaseId, documentId string, fileContent []byte, fileName string, metadata map[string]interface{}) (*Document, error)
	UpdateDocumentMetadata(ctx context.Context, knowledgeBaseId, documentId string, metadata map[string]interface{}) error
	ParseDocument(ctx context.Context, knowledgeBaseId, documentId string) (*Document, error)
	DeleteDocument(ctx context.Context, knowledgeBaseId, documentId string) error
	GetAllDocuments(ctx context.Context, knowledgeBaseId string) ([]Document, error)
	GetDocument(ctx context.Context, knowledgeBaseId, documentId string) (*Document, error)
	RetrieveChunks(ctx context.Context, knowledgeBaseId, query string, method RetrievalMethod, topK int, opts *RetrieveOptions) ([]Chunk, error)
	GetDocumentChunks(ctx context.Context, knowledgeBaseId, documentId, keyword string, page, limit int) ([]Chunk, error)
	ListKnowledgeBases(ctx context.Context) ([]KnowledgeBase, error)
	CheckHealth(ctx context.Context) error

	// OpenChat starts one conversation turn against the backend and returns
	// the native stream wrapped as a ChatTransport. The coordinator owns the
	// transport from here on and guarantees it gets closed.
	OpenChat(ctx context.Context, knowledgeBaseId string, history []Message, query string) (ChatTransport, error)
}

// StreamEvent is one normalized increment read from a backend chat stream.
// Kind is FragmentToken or FragmentCitation; terminal conditions are signaled
// through Recv's error return instead.
type StreamEvent struct {
	Kind   FragmentKind
	Text   string
	Chunks []Chunk
}

// ChatTransport is a pull-based view over one backend chat stream.
//
// Recv blocks until the next event, returns io.EOF when the backend finished
// the answer normally, or a *Error when the stream failed mid-turn. Events
// with no caller-visible effect (pings, bookkeeping) are dropped inside the
// transport and never surface.
//
// Close releases the underlying connection and is safe to call more than once.
type ChatTransport interface {
	Recv() (*StreamEvent, error)
	Close() error
}
