package rag

import (
	"sort"
	"strings"
	"time"
)

// DocumentStatus tracks the backend-side indexing lifecycle of a document.
// It only moves forward: pending -> indexing -> indexed or failed.
type DocumentStatus string

const (
	StatusPending  DocumentStatus = "pending"
	StatusIndexing DocumentStatus = "indexing"
	StatusIndexed  DocumentStatus = "indexed"
	StatusFailed   DocumentStatus = "failed"
)

// RetrievalMethod selects how a backend searches its index.
type RetrievalMethod string

const (
	MethodSemantic RetrievalMethod = "semantic"
	MethodKeyword  RetrievalMethod = "keyword"
	MethodHybrid   RetrievalMethod = "hybrid"
	MethodFullText RetrievalMethod = "full_text"
)

// Document is one ingested source file registered with a knowledge base.
// Metadata is an opaque passthrough bag; the core never interprets it.
type Document struct {
	Id        string
	Name      string
	Status    DocumentStatus
	Size      int64
	CreatedAt time.Time
	UpdatedAt time.Time
	Metadata  map[string]interface{}
}

// Chunk is one retrieval unit of indexed content. Chunks are ephemeral:
// produced fresh by each retrieval call, never cached by this package.
type Chunk struct {
	Id           string
	DocumentId   string
	DocumentName string
	Content      string
	// Score is normalized into [0.0, 1.0] regardless of backend.
	Score    float64
	Position string
	Method   RetrievalMethod
}

// KnowledgeBase is a named collection of documents indexed together.
type KnowledgeBase struct {
	Id            string
	Name          string
	DocumentCount int
	ChunkCount    int
}

// Message is one element of a conversation history in a backend-agnostic format.
type Message struct {
	Role    string // "user", "assistant", "system"
	Content string
}

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// FragmentKind discriminates the payload of a StreamFragment.
type FragmentKind string

const (
	FragmentToken    FragmentKind = "token"
	FragmentCitation FragmentKind = "citation"
	FragmentError    FragmentKind = "error"
	FragmentDone     FragmentKind = "done"
)

// StreamFragment is one increment of a streaming chat answer. Seq is contiguous
// from 0 within a turn; exactly one of done/error terminates the turn.
type StreamFragment struct {
	Kind   FragmentKind `json:"kind"`
	Seq    int          `json:"seq"`
	Text   string       `json:"text,omitempty"`
	Chunks []Chunk      `json:"chunks,omitempty"`
	Err    string       `json:"error,omitempty"`
}

// Credentials selects a backend endpoint and its key material. The core
// validates presence of fields, never correctness, and never logs them.
type Credentials struct {
	Route  string `validate:"required,url"`
	APIKey string `validate:"required"`
	// ChatKey is an optional separate key for the chat surface (Dify app key).
	// Falls back to APIKey when empty.
	ChatKey string
	// ChatId pins a RagFlow chat assistant. Resolved per knowledge base when empty.
	ChatId string
}

// File constraints shared by both platforms (the stricter of the two wins).
var SupportedExtensions = []string{"txt", "pdf", "docx", "doc", "md", "json"}

const MaxFileSizeMB = 15

// ExtensionSupported reports whether fileName carries an ingestible extension.
func ExtensionSupported(fileName string) bool {
	idx := strings.LastIndex(fileName, ".")
	if idx < 0 || idx == len(fileName)-1 {
		return false
	}
	ext := strings.ToLower(fileName[idx+1:])
	for _, s := range SupportedExtensions {
		if ext == s {
			return true
		}
	}
	return false
}

// ClampScore forces a backend-reported relevance score into [0.0, 1.0].
// Both platforms report similarity on that scale already; out-of-range values
// are treated as saturation, not rescaled, so scores stay comparable across calls.
func ClampScore(score float64) float64 {
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}

// SortChunks orders a result set by descending relevance score in place.
// Backend order is not trusted.
func SortChunks(chunks []Chunk) {
	sort.SliceStable(chunks, func(i, j int) bool {
		return chunks[i].Score > chunks[j].Score
	})
}

// TruncateHistory keeps the most recent max messages. Adapters call this with
// their own limit before rendering history into a backend request; the cut is
// invisible to the caller.
func TruncateHistory(history []Message, max int) []Message {
	if max <= 0 || len(history) <= max {
		return history
	}
	return history[len(history)-max:]
}
