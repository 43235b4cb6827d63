package ragflow

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"rag-bridge-be/pkg/rag"
)

func newTestAdapter(t *testing.T, handler http.Handler) *RagFlowAdapter {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewRagFlowAdapter(server.URL, "test-key", "")
}

func envelope(w http.ResponseWriter, data interface{}) {
	json.NewEncoder(w).Encode(map[string]interface{}{"code": 0, "data": data})
}

func TestUploadTriggersParse(t *testing.T) {
	var uploaded, parsed bool
	adapter := newTestAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/api/v1/datasets/kb-1/documents" && r.Method == http.MethodPost:
			uploaded = true
			assert.NoError(t, r.ParseMultipartForm(32<<20))
			_, header, err := r.FormFile("file")
			assert.NoError(t, err)
			assert.Equal(t, "notes.txt", header.Filename)
			envelope(w, []ragflowDocument{{Id: "doc-1", Name: "notes.txt", Run: "UNSTART", Size: 5}})
		case r.URL.Path == "/api/v1/datasets/kb-1/chunks" && r.Method == http.MethodPost:
			parsed = true
			var body struct {
				DocumentIds []string `json:"document_ids"`
			}
			json.NewDecoder(r.Body).Decode(&body)
			assert.Equal(t, []string{"doc-1"}, body.DocumentIds)
			envelope(w, nil)
		default:
			t.Errorf("unexpected call %s %s", r.Method, r.URL.Path)
		}
	}))

	doc, err := adapter.UploadDocumentAndParse(context.Background(), "kb-1", []byte("hello"), "notes.txt", nil)
	assert.NoError(t, err)
	assert.True(t, uploaded)
	assert.True(t, parsed, "upload must trigger parsing in the same call")
	assert.Equal(t, rag.StatusPending, doc.Status)
	assert.Equal(t, int64(5), doc.Size)
}

func TestUpdateIsDeleteThenReupload(t *testing.T) {
	var calls []string
	adapter := newTestAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls = append(calls, r.Method+" "+r.URL.Path)
		switch {
		case r.Method == http.MethodDelete:
			var body struct {
				Ids []string `json:"ids"`
			}
			json.NewDecoder(r.Body).Decode(&body)
			assert.Equal(t, []string{"doc-old"}, body.Ids)
			envelope(w, nil)
		case r.Method == http.MethodPost && r.URL.Path == "/api/v1/datasets/kb-1/documents":
			envelope(w, []ragflowDocument{{Id: "doc-new", Run: "UNSTART"}})
		default:
			envelope(w, nil)
		}
	}))

	doc, err := adapter.UpdateDocumentAndParse(context.Background(), "kb-1", "doc-old", []byte("v2"), "notes.txt", nil)
	assert.NoError(t, err)
	assert.Equal(t, "doc-new", doc.Id, "content replacement yields a new document id")
	assert.Equal(t, "DELETE /api/v1/datasets/kb-1/documents", calls[0])
}

func TestGetDocumentNotFound(t *testing.T) {
	adapter := newTestAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		envelope(w, ragflowDocumentList{Docs: nil, Total: 0})
	}))

	_, err := adapter.GetDocument(context.Background(), "kb-1", "missing")
	assert.True(t, rag.IsNotFound(err))
}

func TestEnvelopeErrorClassification(t *testing.T) {
	tests := []struct {
		name    string
		message string
		want    rag.ErrorKind
	}{
		{"missing entity", "Dataset kb-x doesn't exist", rag.KindNotFound},
		{"explicit not found", "document not found", rag.KindNotFound},
		{"other rejection", "invalid parameters", rag.KindBackendRejected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			adapter := newTestAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				json.NewEncoder(w).Encode(map[string]interface{}{"code": 102, "message": tt.message})
			}))
			err := adapter.DeleteDocument(context.Background(), "kb-1", "doc-1")
			assert.Equal(t, tt.want, rag.KindOf(err))
		})
	}
}

func TestRetrieveChunksMethodMapping(t *testing.T) {
	tests := []struct {
		method      rag.RetrievalMethod
		wantWeight  float64
		wantKeyword bool
	}{
		{rag.MethodSemantic, 1.0, false},
		{rag.MethodKeyword, 0.0, true},
		{rag.MethodHybrid, 0.3, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.method), func(t *testing.T) {
			adapter := newTestAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/api/v1/retrieval", r.URL.Path)
				var body struct {
					Question               string   `json:"question"`
					DatasetIds             []string `json:"dataset_ids"`
					Keyword                bool     `json:"keyword"`
					VectorSimilarityWeight float64  `json:"vector_similarity_weight"`
				}
				json.NewDecoder(r.Body).Decode(&body)
				assert.Equal(t, []string{"kb-1"}, body.DatasetIds)
				assert.Equal(t, tt.wantWeight, body.VectorSimilarityWeight)
				assert.Equal(t, tt.wantKeyword, body.Keyword)

				envelope(w, ragflowChunkList{Chunks: []ragflowChunk{
					{Id: "c-1", Content: "text", DocumentKeyword: "notes.txt", Similarity: 0.7},
				}})
			}))

			chunks, err := adapter.RetrieveChunks(context.Background(), "kb-1", "q", tt.method, 5, nil)
			assert.NoError(t, err)
			assert.Len(t, chunks, 1)
			assert.Equal(t, "notes.txt", chunks[0].DocumentName)
			assert.Equal(t, 0.7, chunks[0].Score)
		})
	}
}

func TestGetDocumentChunksKeywordEscaped(t *testing.T) {
	adapter := newTestAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/datasets/kb-1/documents/doc-1/chunks", r.URL.Path)
		assert.Equal(t, "leader election&page_size=999", r.URL.Query().Get("keywords"))
		assert.Equal(t, "20", r.URL.Query().Get("page_size"))
		envelope(w, ragflowChunkList{Chunks: []ragflowChunk{{Id: "c-1"}}})
	}))

	chunks, err := adapter.GetDocumentChunks(context.Background(), "kb-1", "doc-1", "leader election&page_size=999", 1, 20)
	assert.NoError(t, err)
	assert.Len(t, chunks, 1)
}

func TestChunkScoreFallsBackToVectorSimilarity(t *testing.T) {
	chunk := toSharedChunk(ragflowChunk{Id: "c-1", VectorSimilarity: 0.55})
	assert.Equal(t, 0.55, chunk.Score)
}

func TestListKnowledgeBases(t *testing.T) {
	adapter := newTestAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		envelope(w, []ragflowDataset{
			{Id: "kb-1", Name: "handbook", DocumentCount: 3, ChunkCount: 40},
		})
	}))

	kbs, err := adapter.ListKnowledgeBases(context.Background())
	assert.NoError(t, err)
	assert.Len(t, kbs, 1)
	assert.Equal(t, 40, kbs[0].ChunkCount)
}
