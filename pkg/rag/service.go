package rag

import (
	"context"
)

// RagService is the single contract the rest of the application depends on.
// Callers never see backend-specific types; every implementation maps its
// native representations into the shared model before returning.
type RagService interface {
	// UploadDocumentAndParse registers a new document and triggers indexing.
	// Not idempotent: repeated calls create distinct documents.
	UploadDocumentAndParse(ctx context.Context, knowledgeBaseId string, fileContent []byte, fileName string, metadata map[string]interface{}) (*Document, error)

	// UpdateDocumentAndParse replaces a document's content and re-triggers indexing.
	UpdateDocumentAndParse(ctx context.Context, knowledgeBaseId, documentId string, fileContent []byte, fileName string, metadata map[string]interface{}) (*Document, error)

	// UpdateDocumentMetadata replaces metadata fields without touching content.
	UpdateDocumentMetadata(ctx context.Context, knowledgeBaseId, documentId string, metadata map[string]interface{}) error

	// ParseDocument re-triggers indexing of an already-uploaded document.
	ParseDocument(ctx context.Context, knowledgeBaseId, documentId string) (*Document, error)

	// DeleteDocument removes a document. Idempotent by default: deleting an
	// absent document succeeds silently unless WithStrict is passed.
	DeleteDocument(ctx context.Context, knowledgeBaseId, documentId string, opts ...DeleteOption) error

	// GetAllDocuments returns the full catalog in creation order. The adapter
	// pages internally; the result is fully materialized.
	GetAllDocuments(ctx context.Context, knowledgeBaseId string) ([]Document, error)

	// GetDocument fetches a single document, NotFound when absent.
	GetDocument(ctx context.Context, knowledgeBaseId, documentId string) (*Document, error)

	// RetrieveChunks runs a search. Results are sorted by descending score,
	// at most topK long, with scores normalized into [0, 1].
	RetrieveChunks(ctx context.Context, knowledgeBaseId, query string, method RetrievalMethod, topK int, opts ...RetrieveOption) ([]Chunk, error)

	// GetDocumentChunks lists the indexed chunks of one document, paged.
	GetDocumentChunks(ctx context.Context, knowledgeBaseId, documentId, keyword string, page, limit int) ([]Chunk, error)

	// ChatStream drives one conversation turn. Fragments arrive on the
	// returned channel in sequence order; exactly one done or error fragment
	// terminates the turn and the channel is closed after it. Cancelling ctx
	// stops the stream and releases the backend connection.
	ChatStream(ctx context.Context, knowledgeBaseId string, history []Message, query string) (<-chan StreamFragment, error)

	// ListKnowledgeBases enumerates the knowledge bases visible to the credentials.
	ListKnowledgeBases(ctx context.Context) ([]KnowledgeBase, error)

	// CheckHealth probes backend reachability with a cheap call.
	CheckHealth(ctx context.Context) error

	// Capabilities reports what the active backend can do.
	Capabilities() Capabilities
}

// Capabilities is what an adapter advertises about its backend. The service
// layer consults it before dispatch so callers get UnsupportedMethod instead
// of a backend-specific failure.
type Capabilities struct {
	Methods []RetrievalMethod
	// MaxHistory bounds how many conversation messages the backend accepts
	// per turn; older messages are truncated by the adapter.
	MaxHistory int
}

func (c Capabilities) Supports(method RetrievalMethod) bool {
	for _, m := range c.Methods {
		if m == method {
			return true
		}
	}
	return false
}

// DeleteOption tweaks DeleteDocument behavior.
type DeleteOption func(*DeleteOptions)

type DeleteOptions struct {
	Strict bool
}

// WithStrict makes DeleteDocument fail with NotFound instead of succeeding
// silently when the document is already gone.
func WithStrict() DeleteOption {
	return func(o *DeleteOptions) {
		o.Strict = true
	}
}

// RetrieveOption tweaks RetrieveChunks behavior.
type RetrieveOption func(*RetrieveOptions)

type RetrieveOptions struct {
	// ScoreThreshold drops results below the given normalized score.
	ScoreThreshold float64
	// DocumentIds restricts retrieval to the given documents where the
	// backend supports it.
	DocumentIds []string
}

func WithScoreThreshold(threshold float64) RetrieveOption {
	return func(o *RetrieveOptions) {
		o.ScoreThreshold = threshold
	}
}

func WithDocumentIds(ids []string) RetrieveOption {
	return func(o *RetrieveOptions) {
		o.DocumentIds = ids
	}
}
