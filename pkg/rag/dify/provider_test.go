package dify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"rag-bridge-be/pkg/rag"
)

func newTestAdapter(t *testing.T, handler http.Handler) *DifyAdapter {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewDifyAdapter(server.URL, "test-key", "")
}

func TestFromCredentials(t *testing.T) {
	_, err := FromCredentials(rag.Credentials{APIKey: "k"})
	assert.True(t, rag.IsInvalidInput(err), "missing route must be invalid_input")

	_, err = FromCredentials(rag.Credentials{Route: "http://dify.local/v1"})
	assert.True(t, rag.IsInvalidInput(err), "missing api key must be invalid_input")

	adapter, err := FromCredentials(rag.Credentials{Route: "http://dify.local/v1/", APIKey: "k"})
	assert.NoError(t, err)
	assert.Equal(t, "http://dify.local/v1", adapter.Route)
	assert.Equal(t, "k", adapter.chatKey, "chat key falls back to api key")
}

func TestUploadDocumentAndParse(t *testing.T) {
	adapter := newTestAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/datasets/kb-1/document/create-by-file", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		assert.NoError(t, r.ParseMultipartForm(32<<20))
		var data map[string]interface{}
		assert.NoError(t, json.Unmarshal([]byte(r.FormValue("data")), &data))
		assert.Equal(t, "high_quality", data["indexing_technique"])

		file, header, err := r.FormFile("file")
		assert.NoError(t, err)
		defer file.Close()
		assert.Equal(t, "notes.txt", header.Filename)

		json.NewEncoder(w).Encode(difyDocumentResponse{
			Document: difyDocument{
				Id:             "doc-1",
				Name:           "notes.txt",
				IndexingStatus: "waiting",
				CreatedAt:      1700000000,
				UpdatedAt:      1700000000,
			},
			Batch: "b-1",
		})
	}))

	doc, err := adapter.UploadDocumentAndParse(context.Background(), "kb-1", []byte("hello"), "notes.txt", nil)
	assert.NoError(t, err)
	assert.Equal(t, "doc-1", doc.Id)
	assert.Equal(t, rag.StatusPending, doc.Status, "a fresh upload has not started indexing")
}

func TestUploadWithMetadataReflectsItInResult(t *testing.T) {
	adapter := newTestAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/datasets/kb-1/document/create-by-file":
			json.NewEncoder(w).Encode(difyDocumentResponse{
				Document: difyDocument{Id: "doc-1", Name: "notes.txt", IndexingStatus: "waiting"},
			})
		case r.URL.Path == "/datasets/kb-1/metadata" && r.Method == http.MethodGet:
			json.NewEncoder(w).Encode(difyMetadataRegistry{
				DocMetadata: []difyMetaItem{{Id: "f-1", Name: "author"}},
			})
		case r.URL.Path == "/datasets/kb-1/documents/metadata":
			w.WriteHeader(http.StatusOK)
		default:
			t.Errorf("unexpected call %s %s", r.Method, r.URL.Path)
		}
	}))

	doc, err := adapter.UploadDocumentAndParse(context.Background(), "kb-1", []byte("hello"), "notes.txt",
		map[string]interface{}{"author": "alice"})
	assert.NoError(t, err)
	assert.Equal(t, "alice", doc.Metadata["author"], "attached metadata must appear on the returned document")
}

func TestUpdateDocumentMetadataRegistersFields(t *testing.T) {
	var registered, applied bool
	adapter := newTestAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/datasets/kb-1/metadata" && r.Method == http.MethodGet:
			json.NewEncoder(w).Encode(difyMetadataRegistry{
				DocMetadata: []difyMetaItem{{Id: "f-1", Name: "author"}},
			})
		case r.URL.Path == "/datasets/kb-1/metadata" && r.Method == http.MethodPost:
			registered = true
			var body map[string]interface{}
			json.NewDecoder(r.Body).Decode(&body)
			assert.Equal(t, "topic", body["name"])
			json.NewEncoder(w).Encode(difyMetaItem{Id: "f-2", Name: "topic"})
		case r.URL.Path == "/datasets/kb-1/documents/metadata":
			applied = true
			var body struct {
				OperationData []struct {
					DocumentId   string         `json:"document_id"`
					MetadataList []difyMetaItem `json:"metadata_list"`
				} `json:"operation_data"`
			}
			json.NewDecoder(r.Body).Decode(&body)
			assert.Len(t, body.OperationData, 1)
			assert.Equal(t, "doc-1", body.OperationData[0].DocumentId)
			assert.Len(t, body.OperationData[0].MetadataList, 2)
			w.WriteHeader(http.StatusOK)
		default:
			t.Errorf("unexpected call %s %s", r.Method, r.URL.Path)
		}
	}))

	err := adapter.UpdateDocumentMetadata(context.Background(), "kb-1", "doc-1", map[string]interface{}{
		"author": "alice",
		"topic":  "storage",
	})
	assert.NoError(t, err)
	assert.True(t, registered, "unknown field must be registered first")
	assert.True(t, applied)
}

func TestParseDocumentUnsupported(t *testing.T) {
	adapter := NewDifyAdapter("http://unused", "k", "")
	_, err := adapter.ParseDocument(context.Background(), "kb-1", "doc-1")
	assert.Equal(t, rag.KindUnsupportedMethod, rag.KindOf(err))
}

func TestGetAllDocumentsPagination(t *testing.T) {
	adapter := newTestAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("page") {
		case "1":
			json.NewEncoder(w).Encode(difyDocumentList{
				Data:    []difyDocument{{Id: "doc-1", IndexingStatus: "completed"}},
				HasMore: true,
			})
		case "2":
			json.NewEncoder(w).Encode(difyDocumentList{
				Data:    []difyDocument{{Id: "doc-2", IndexingStatus: "indexing"}},
				HasMore: false,
			})
		default:
			t.Errorf("unexpected page %q", r.URL.Query().Get("page"))
		}
	}))

	docs, err := adapter.GetAllDocuments(context.Background(), "kb-1")
	assert.NoError(t, err)
	assert.Len(t, docs, 2)
	assert.Equal(t, rag.StatusIndexed, docs[0].Status)
	assert.Equal(t, rag.StatusIndexing, docs[1].Status)
}

func TestGetDocumentNotFound(t *testing.T) {
	adapter := newTestAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(difyDocumentList{Data: []difyDocument{{Id: "other"}}})
	}))

	_, err := adapter.GetDocument(context.Background(), "kb-1", "missing")
	assert.True(t, rag.IsNotFound(err))
}

func TestRetrieveChunks(t *testing.T) {
	adapter := newTestAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/datasets/kb-1/retrieve", r.URL.Path)
		var body struct {
			Query          string                 `json:"query"`
			RetrievalModel map[string]interface{} `json:"retrieval_model"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		assert.Equal(t, "what is raft", body.Query)
		assert.Equal(t, "hybrid_search", body.RetrievalModel["search_method"])
		assert.Equal(t, true, body.RetrievalModel["score_threshold_enabled"])

		json.NewEncoder(w).Encode(difyRetrieveResponse{
			Records: []difyRecord{
				{Segment: difySegment{Id: "s-1", Content: "raft is"}, Score: 1.2},
				{Segment: difySegment{Id: "s-2", Content: "consensus"}, Score: 0.4},
			},
		})
	}))

	chunks, err := adapter.RetrieveChunks(context.Background(), "kb-1", "what is raft", rag.MethodHybrid, 5,
		&rag.RetrieveOptions{ScoreThreshold: 0.2})
	assert.NoError(t, err)
	assert.Len(t, chunks, 2)
	assert.Equal(t, 1.0, chunks[0].Score, "out-of-range backend score is clamped")
}

func TestRetrieveChunksDocumentFilterUnsupported(t *testing.T) {
	adapter := NewDifyAdapter("http://unused", "k", "")
	_, err := adapter.RetrieveChunks(context.Background(), "kb-1", "q", rag.MethodSemantic, 3,
		&rag.RetrieveOptions{DocumentIds: []string{"doc-1"}})
	assert.Equal(t, rag.KindUnsupportedMethod, rag.KindOf(err))
}

func TestGetDocumentChunksKeywordEscaped(t *testing.T) {
	adapter := newTestAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/datasets/kb-1/documents/doc-1/segments", r.URL.Path)
		assert.Equal(t, "leader election&limit=999", r.URL.Query().Get("keyword"))
		assert.Equal(t, "20", r.URL.Query().Get("limit"))
		json.NewEncoder(w).Encode(difySegmentList{Data: []difySegment{{Id: "s-1"}}})
	}))

	chunks, err := adapter.GetDocumentChunks(context.Background(), "kb-1", "doc-1", "leader election&limit=999", 1, 20)
	assert.NoError(t, err)
	assert.Len(t, chunks, 1)
}

func TestErrorClassification(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   rag.ErrorKind
	}{
		{"missing dataset", http.StatusNotFound, rag.KindNotFound},
		{"bad request", http.StatusBadRequest, rag.KindBackendRejected},
		{"server down", http.StatusInternalServerError, rag.KindBackendUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			adapter := newTestAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, `{"message":"nope"}`, tt.status)
			}))
			err := adapter.DeleteDocument(context.Background(), "kb-1", "doc-1")
			assert.Equal(t, tt.want, rag.KindOf(err))
		})
	}
}
