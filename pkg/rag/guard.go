package rag

import (
	"context"
	"strings"

	"rag-bridge-be/internal/pkg/logger"
)

// ragService is the guard layer in front of a BackendAdapter: it validates
// caller input, consults the adapter's capabilities before dispatch, applies
// the delete idempotency policy and runs the stream coordinator. It is the
// only RagService implementation; backend selection happens in the factory.
type ragService struct {
	adapter BackendAdapter
	log     logger.ILogger
}

func NewRagService(adapter BackendAdapter, log logger.ILogger) RagService {
	return &ragService{adapter: adapter, log: log}
}

func (s *ragService) Capabilities() Capabilities {
	return s.adapter.Capabilities()
}

func (s *ragService) UploadDocumentAndParse(ctx context.Context, knowledgeBaseId string, fileContent []byte, fileName string, metadata map[string]interface{}) (*Document, error) {
	const op = "rag.UploadDocumentAndParse"
	if err := validateKb(op, knowledgeBaseId); err != nil {
		return nil, err
	}
	if err := validateFile(op, fileContent, fileName); err != nil {
		return nil, err
	}
	doc, err := s.adapter.UploadDocumentAndParse(ctx, knowledgeBaseId, fileContent, fileName, metadata)
	if err != nil {
		s.logError(op, knowledgeBaseId, err)
		return nil, err
	}
	s.log.Info("rag", "document uploaded", map[string]interface{}{
		"knowledge_base": knowledgeBaseId,
		"document_id":    doc.Id,
		"status":         string(doc.Status),
	})
	return doc, nil
}

func (s *ragService) UpdateDocumentAndParse(ctx context.Context, knowledgeBaseId, documentId string, fileContent []byte, fileName string, metadata map[string]interface{}) (*Document, error) {
	const op = "rag.UpdateDocumentAndParse"
	if err := validateKb(op, knowledgeBaseId); err != nil {
		return nil, err
	}
	if err := validateDocId(op, documentId); err != nil {
		return nil, err
	}
	if err := validateFile(op, fileContent, fileName); err != nil {
		return nil, err
	}
	doc, err := s.adapter.UpdateDocumentAndParse(ctx, knowledgeBaseId, documentId, fileContent, fileName, metadata)
	if err != nil {
		s.logError(op, knowledgeBaseId, err)
		return nil, err
	}
	return doc, nil
}

func (s *ragService) UpdateDocumentMetadata(ctx context.Context, knowledgeBaseId, documentId string, metadata map[string]interface{}) error {
	const op = "rag.UpdateDocumentMetadata"
	if err := validateKb(op, knowledgeBaseId); err != nil {
		return err
	}
	if err := validateDocId(op, documentId); err != nil {
		return err
	}
	if len(metadata) == 0 {
		return NewError(KindInvalidInput, op, "metadata must not be empty")
	}
	if err := s.adapter.UpdateDocumentMetadata(ctx, knowledgeBaseId, documentId, metadata); err != nil {
		s.logError(op, knowledgeBaseId, err)
		return err
	}
	return nil
}

func (s *ragService) ParseDocument(ctx context.Context, knowledgeBaseId, documentId string) (*Document, error) {
	const op = "rag.ParseDocument"
	if err := validateKb(op, knowledgeBaseId); err != nil {
		return nil, err
	}
	if err := validateDocId(op, documentId); err != nil {
		return nil, err
	}
	doc, err := s.adapter.ParseDocument(ctx, knowledgeBaseId, documentId)
	if err != nil {
		s.logError(op, knowledgeBaseId, err)
		return nil, err
	}
	return doc, nil
}

func (s *ragService) DeleteDocument(ctx context.Context, knowledgeBaseId, documentId string, opts ...DeleteOption) error {
	const op = "rag.DeleteDocument"
	if err := validateKb(op, knowledgeBaseId); err != nil {
		return err
	}
	if err := validateDocId(op, documentId); err != nil {
		return err
	}
	options := &DeleteOptions{}
	for _, opt := range opts {
		opt(options)
	}
	err := s.adapter.DeleteDocument(ctx, knowledgeBaseId, documentId)
	if err != nil {
		if IsNotFound(err) && !options.Strict {
			// Idempotent by default: the document is gone either way.
			return nil
		}
		s.logError(op, knowledgeBaseId, err)
		return err
	}
	return nil
}

func (s *ragService) GetAllDocuments(ctx context.Context, knowledgeBaseId string) ([]Document, error) {
	const op = "rag.GetAllDocuments"
	if err := validateKb(op, knowledgeBaseId); err != nil {
		return nil, err
	}
	docs, err := s.adapter.GetAllDocuments(ctx, knowledgeBaseId)
	if err != nil {
		s.logError(op, knowledgeBaseId, err)
		return nil, err
	}
	return docs, nil
}

func (s *ragService) GetDocument(ctx context.Context, knowledgeBaseId, documentId string) (*Document, error) {
	const op = "rag.GetDocument"
	if err := validateKb(op, knowledgeBaseId); err != nil {
		return nil, err
	}
	if err := validateDocId(op, documentId); err != nil {
		return nil, err
	}
	return s.adapter.GetDocument(ctx, knowledgeBaseId, documentId)
}

func (s *ragService) RetrieveChunks(ctx context.Context, knowledgeBaseId, query string, method RetrievalMethod, topK int, opts ...RetrieveOption) ([]Chunk, error) {
	const op = "rag.RetrieveChunks"
	if err := validateKb(op, knowledgeBaseId); err != nil {
		return nil, err
	}
	if strings.TrimSpace(query) == "" {
		return nil, NewError(KindInvalidInput, op, "query must not be blank")
	}
	if topK < 1 {
		return nil, NewError(KindInvalidInput, op, "topK must be >= 1")
	}
	if !s.adapter.Capabilities().Supports(method) {
		return nil, NewError(KindUnsupportedMethod, op, "retrieval method "+string(method)+" is not supported by the active backend")
	}
	options := &RetrieveOptions{}
	for _, opt := range opts {
		opt(options)
	}
	chunks, err := s.adapter.RetrieveChunks(ctx, knowledgeBaseId, query, method, topK, options)
	if err != nil {
		s.logError(op, knowledgeBaseId, err)
		return nil, err
	}
	for i := range chunks {
		chunks[i].Score = ClampScore(chunks[i].Score)
		chunks[i].Method = method
	}
	SortChunks(chunks)
	if len(chunks) > topK {
		chunks = chunks[:topK]
	}
	return chunks, nil
}

func (s *ragService) GetDocumentChunks(ctx context.Context, knowledgeBaseId, documentId, keyword string, page, limit int) ([]Chunk, error) {
	const op = "rag.GetDocumentChunks"
	if err := validateKb(op, knowledgeBaseId); err != nil {
		return nil, err
	}
	if err := validateDocId(op, documentId); err != nil {
		return nil, err
	}
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 20
	}
	return s.adapter.GetDocumentChunks(ctx, knowledgeBaseId, documentId, keyword, page, limit)
}

func (s *ragService) ChatStream(ctx context.Context, knowledgeBaseId string, history []Message, query string) (<-chan StreamFragment, error) {
	const op = "rag.ChatStream"
	if err := validateKb(op, knowledgeBaseId); err != nil {
		return nil, err
	}
	if strings.TrimSpace(query) == "" {
		return nil, NewError(KindInvalidInput, op, "query must not be blank")
	}
	transport, err := s.adapter.OpenChat(ctx, knowledgeBaseId, history, query)
	if err != nil {
		s.logError(op, knowledgeBaseId, err)
		return nil, err
	}
	s.log.Debug("rag", "chat stream opened", map[string]interface{}{
		"knowledge_base": knowledgeBaseId,
		"history_len":    len(history),
	})
	return NewStreamCoordinator().Run(ctx, transport), nil
}

func (s *ragService) ListKnowledgeBases(ctx context.Context) ([]KnowledgeBase, error) {
	const op = "rag.ListKnowledgeBases"
	kbs, err := s.adapter.ListKnowledgeBases(ctx)
	if err != nil {
		s.logError(op, "", err)
		return nil, err
	}
	return kbs, nil
}

func (s *ragService) CheckHealth(ctx context.Context) error {
	return s.adapter.CheckHealth(ctx)
}

func (s *ragService) logError(op, kb string, err error) {
	s.log.Error("rag", op+" failed", map[string]interface{}{
		"knowledge_base": kb,
		"kind":           string(KindOf(err)),
		"error":          err.Error(),
	})
}

func validateKb(op, knowledgeBaseId string) error {
	if strings.TrimSpace(knowledgeBaseId) == "" {
		return NewError(KindInvalidInput, op, "knowledge base id must not be blank")
	}
	return nil
}

func validateDocId(op, documentId string) error {
	if strings.TrimSpace(documentId) == "" {
		return NewError(KindInvalidInput, op, "document id must not be blank")
	}
	return nil
}

func validateFile(op string, fileContent []byte, fileName string) error {
	if len(fileContent) == 0 {
		return NewError(KindInvalidInput, op, "file content must not be empty")
	}
	if strings.TrimSpace(fileName) == "" {
		return NewError(KindInvalidInput, op, "file name must not be blank")
	}
	if !ExtensionSupported(fileName) {
		return NewError(KindInvalidInput, op, "unsupported file extension for "+fileName)
	}
	if len(fileContent) > MaxFileSizeMB*1024*1024 {
		return NewError(KindInvalidInput, op, "file exceeds the common size limit")
	}
	return nil
}
