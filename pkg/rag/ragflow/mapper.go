package ragflow

import (
	"fmt"
	"time"

	"rag-bridge-be/pkg/rag"
)

// --- Native wire shapes (internal to this package) ---

type ragflowDocument struct {
	Id         string                 `json:"id"`
	Name       string                 `json:"name"`
	Size       int64                  `json:"size"`
	Run        string                 `json:"run"`
	CreateTime int64                  `json:"create_time"` // epoch millis
	UpdateTime int64                  `json:"update_time"`
	MetaFields map[string]interface{} `json:"meta_fields"`
}

type ragflowDocumentList struct {
	Docs  []ragflowDocument `json:"docs"`
	Total int               `json:"total"`
}

type ragflowChunk struct {
	Id               string        `json:"id"`
	Content          string        `json:"content"`
	DocumentId       string        `json:"document_id"`
	DocumentKeyword  string        `json:"document_keyword"` // document display name
	Similarity       float64       `json:"similarity"`
	VectorSimilarity float64       `json:"vector_similarity"`
	TermSimilarity   float64       `json:"term_similarity"`
	Positions        []interface{} `json:"positions"`
}

type ragflowChunkList struct {
	Chunks []ragflowChunk `json:"chunks"`
	Total  int            `json:"total"`
}

type ragflowDataset struct {
	Id            string `json:"id"`
	Name          string `json:"name"`
	DocumentCount int    `json:"document_count"`
	ChunkCount    int    `json:"chunk_count"`
}

type ragflowChat struct {
	Id         string   `json:"id"`
	Name       string   `json:"name"`
	DatasetIds []string `json:"dataset_ids"`
}

type ragflowSession struct {
	Id   string `json:"id"`
	Name string `json:"name"`
}

// --- Mapping into the shared model ---

// Run state vocabulary of the RagFlow document pipeline.
func toSharedStatus(run string) rag.DocumentStatus {
	switch run {
	case "UNSTART":
		return rag.StatusPending
	case "RUNNING":
		return rag.StatusIndexing
	case "DONE":
		return rag.StatusIndexed
	default: // FAIL, CANCEL
		return rag.StatusFailed
	}
}

func toSharedDocument(d ragflowDocument) rag.Document {
	meta := d.MetaFields
	if meta == nil {
		meta = map[string]interface{}{}
	}
	return rag.Document{
		Id:        d.Id,
		Name:      d.Name,
		Status:    toSharedStatus(d.Run),
		Size:      d.Size,
		CreatedAt: time.UnixMilli(d.CreateTime).UTC(),
		UpdatedAt: time.UnixMilli(d.UpdateTime).UTC(),
		Metadata:  meta,
	}
}

func toSharedChunk(c ragflowChunk) rag.Chunk {
	// Combined similarity already folds vector and term scores per the
	// requested weighting; it is the backend's ranking signal.
	score := c.Similarity
	if score == 0 {
		score = c.VectorSimilarity
	}
	position := ""
	if len(c.Positions) > 0 {
		position = fmt.Sprint(c.Positions[0])
	}
	return rag.Chunk{
		Id:           c.Id,
		DocumentId:   c.DocumentId,
		DocumentName: c.DocumentKeyword,
		Content:      c.Content,
		Score:        rag.ClampScore(score),
		Position:     position,
	}
}
