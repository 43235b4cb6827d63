package dto

import (
	"time"

	"rag-bridge-be/pkg/rag"
)

type DocumentResponse struct {
	Id        string                 `json:"id"`
	Name      string                 `json:"name"`
	Status    string                 `json:"status"`
	Size      int64                  `json:"size"`
	CreatedAt time.Time              `json:"created_at"`
	UpdatedAt time.Time              `json:"updated_at"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

func NewDocumentResponse(doc *rag.Document) *DocumentResponse {
	return &DocumentResponse{
		Id:        doc.Id,
		Name:      doc.Name,
		Status:    string(doc.Status),
		Size:      doc.Size,
		CreatedAt: doc.CreatedAt,
		UpdatedAt: doc.UpdatedAt,
		Metadata:  doc.Metadata,
	}
}

type ChunkResponse struct {
	Id           string  `json:"id"`
	DocumentId   string  `json:"document_id"`
	DocumentName string  `json:"document_name"`
	Content      string  `json:"content"`
	Score        float64 `json:"score"`
	Position     string  `json:"position,omitempty"`
	Method       string  `json:"method,omitempty"`
}

func NewChunkResponses(chunks []rag.Chunk) []ChunkResponse {
	out := make([]ChunkResponse, 0, len(chunks))
	for _, c := range chunks {
		out = append(out, ChunkResponse{
			Id:           c.Id,
			DocumentId:   c.DocumentId,
			DocumentName: c.DocumentName,
			Content:      c.Content,
			Score:        c.Score,
			Position:     c.Position,
			Method:       string(c.Method),
		})
	}
	return out
}

type KnowledgeBaseResponse struct {
	Id            string `json:"id"`
	Name          string `json:"name"`
	DocumentCount int    `json:"document_count"`
	ChunkCount    int    `json:"chunk_count"`
}

type RetrieveRequest struct {
	KnowledgeBaseId string  `json:"knowledge_base_id"`
	Query           string  `json:"query" validate:"required"`
	Method          string  `json:"method" validate:"omitempty,oneof=semantic keyword hybrid full_text"`
	TopK            int     `json:"top_k" validate:"omitempty,min=1,max=100"`
	ScoreThreshold  float64 `json:"score_threshold" validate:"omitempty,gte=0,lte=1"`
}

type UpdateMetadataRequest struct {
	Metadata map[string]interface{} `json:"metadata" validate:"required,min=1"`
}

type ChatMessageDTO struct {
	Role    string `json:"role" validate:"required,oneof=user assistant system"`
	Content string `json:"content" validate:"required"`
}

// ChatStreamRequest is the first websocket frame of a chat turn.
type ChatStreamRequest struct {
	KnowledgeBaseId string           `json:"knowledge_base_id"`
	History         []ChatMessageDTO `json:"history" validate:"dive"`
	Query           string           `json:"query" validate:"required"`
}

func (r *ChatStreamRequest) ToMessages() []rag.Message {
	messages := make([]rag.Message, 0, len(r.History))
	for _, m := range r.History {
		messages = append(messages, rag.Message{Role: m.Role, Content: m.Content})
	}
	return messages
}
