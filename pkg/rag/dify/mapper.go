package dify

import (
	"strconv"
	"time"

	"rag-bridge-be/pkg/rag"
)

// --- Native wire shapes (internal to this package) ---

type difyDocument struct {
	Id             string         `json:"id"`
	Name           string         `json:"name"`
	IndexingStatus string         `json:"indexing_status"`
	Tokens         int64          `json:"tokens"`
	WordCount      int64          `json:"word_count"`
	CreatedAt      int64          `json:"created_at"`
	UpdatedAt      int64          `json:"updated_at"`
	DocMetadata    []difyMetaItem `json:"doc_metadata"`
}

type difyMetaItem struct {
	Id    string      `json:"id"`
	Name  string      `json:"name"`
	Value interface{} `json:"value"`
	Type  string      `json:"type,omitempty"`
}

type difyDocumentResponse struct {
	Document difyDocument `json:"document"`
	Batch    string       `json:"batch"`
}

type difyDocumentList struct {
	Data    []difyDocument `json:"data"`
	HasMore bool           `json:"has_more"`
	Total   int            `json:"total"`
}

type difySegment struct {
	Id         string `json:"id"`
	Position   int    `json:"position"`
	DocumentId string `json:"document_id"`
	Content    string `json:"content"`
	Document   struct {
		Id   string `json:"id"`
		Name string `json:"name"`
	} `json:"document"`
}

type difyRecord struct {
	Segment difySegment `json:"segment"`
	Score   float64     `json:"score"`
}

type difyRetrieveResponse struct {
	Records []difyRecord `json:"records"`
}

type difySegmentList struct {
	Data    []difySegment `json:"data"`
	HasMore bool          `json:"has_more"`
	Total   int           `json:"total"`
}

type difyDataset struct {
	Id            string `json:"id"`
	Name          string `json:"name"`
	DocumentCount int    `json:"document_count"`
	WordCount     int    `json:"word_count"`
}

type difyDatasetList struct {
	Data    []difyDataset `json:"data"`
	HasMore bool          `json:"has_more"`
}

type difyMetadataRegistry struct {
	DocMetadata []difyMetaItem `json:"doc_metadata"`
}

// difyRetrieverResource is a citation attached to a chat answer.
type difyRetrieverResource struct {
	Position     int     `json:"position"`
	DocumentId   string  `json:"document_id"`
	DocumentName string  `json:"document_name"`
	SegmentId    string  `json:"segment_id"`
	Score        float64 `json:"score"`
	Content      string  `json:"content"`
}

// --- Mapping into the shared model ---

// Indexing status vocabulary observed on the Dify dataset API. Everything the
// backend has not started yet counts as pending.
func toSharedStatus(indexingStatus string) rag.DocumentStatus {
	switch indexingStatus {
	case "completed":
		return rag.StatusIndexed
	case "indexing", "parsing", "cleaning", "splitting":
		return rag.StatusIndexing
	case "error":
		return rag.StatusFailed
	default: // waiting, queuing, paused
		return rag.StatusPending
	}
}

func toSharedDocument(d difyDocument) rag.Document {
	meta := make(map[string]interface{}, len(d.DocMetadata))
	for _, item := range d.DocMetadata {
		meta[item.Name] = item.Value
	}
	return rag.Document{
		Id:     d.Id,
		Name:   d.Name,
		Status: toSharedStatus(d.IndexingStatus),
		// Dify does not report byte size on this surface; tokens are the
		// closest stable approximation.
		Size:      d.Tokens,
		CreatedAt: time.Unix(d.CreatedAt, 0).UTC(),
		UpdatedAt: time.Unix(d.UpdatedAt, 0).UTC(),
		Metadata:  meta,
	}
}

func toSharedChunk(r difyRecord) rag.Chunk {
	return rag.Chunk{
		Id:           r.Segment.Id,
		DocumentId:   r.Segment.DocumentId,
		DocumentName: r.Segment.Document.Name,
		Content:      r.Segment.Content,
		Score:        rag.ClampScore(r.Score),
		Position:     strconv.Itoa(r.Segment.Position),
	}
}

func toSharedSegment(s difySegment) rag.Chunk {
	return rag.Chunk{
		Id:           s.Id,
		DocumentId:   s.DocumentId,
		DocumentName: s.Document.Name,
		Content:      s.Content,
		Position:     strconv.Itoa(s.Position),
	}
}

func toSharedCitation(r difyRetrieverResource) rag.Chunk {
	return rag.Chunk{
		Id:           r.SegmentId,
		DocumentId:   r.DocumentId,
		DocumentName: r.DocumentName,
		Content:      r.Content,
		Score:        rag.ClampScore(r.Score),
		Position:     strconv.Itoa(r.Position),
	}
}

func toSearchMethod(method rag.RetrievalMethod) string {
	switch method {
	case rag.MethodKeyword:
		return "keyword_search"
	case rag.MethodHybrid:
		return "hybrid_search"
	case rag.MethodFullText:
		return "full_text_search"
	default:
		return "semantic_search"
	}
}
