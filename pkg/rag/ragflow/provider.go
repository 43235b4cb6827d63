package ragflow

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	neturl "net/url"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"rag-bridge-be/pkg/rag"
)

const (
	requestTimeout = 60 * time.Second
	listPageSize   = 100

	// Chat assistant and session ids are stable backend-side; a short TTL
	// keeps the cache honest if someone deletes them out of band.
	sessionCacheTTL = 30 * time.Minute
)

// RagFlowAdapter talks to the RagFlow HTTP API (v1). Route points at the
// server root (e.g. http://ragflow.local:9380); the /api/v1 prefix is added here.
type RagFlowAdapter struct {
	Route  string
	apiKey string
	chatId string // pinned chat assistant, resolved per knowledge base when empty
	Client *http.Client
	// streamClient has no global timeout; chat streams are bounded by ctx
	// and the per-fragment idle deadline instead.
	streamClient *http.Client
	// sessions caches chat assistant and session ids per knowledge base.
	// Documents and chunks are never cached.
	sessions *gocache.Cache
}

// Ensure RagFlowAdapter implements BackendAdapter
var _ rag.BackendAdapter = &RagFlowAdapter{}

func NewRagFlowAdapter(route, apiKey, chatId string) *RagFlowAdapter {
	return &RagFlowAdapter{
		Route:        strings.TrimRight(route, "/"),
		apiKey:       apiKey,
		chatId:       chatId,
		Client:       &http.Client{Timeout: requestTimeout},
		streamClient: &http.Client{},
		sessions:     gocache.New(sessionCacheTTL, 10*time.Minute),
	}
}

// FromCredentials validates required fields and builds the adapter.
func FromCredentials(creds rag.Credentials) (*RagFlowAdapter, error) {
	const op = "ragflow.FromCredentials"
	if strings.TrimSpace(creds.Route) == "" {
		return nil, rag.NewError(rag.KindInvalidInput, op, "credentials must contain a route")
	}
	if strings.TrimSpace(creds.APIKey) == "" {
		return nil, rag.NewError(rag.KindInvalidInput, op, "credentials must contain an api key")
	}
	return NewRagFlowAdapter(creds.Route, creds.APIKey, creds.ChatId), nil
}

func (a *RagFlowAdapter) Capabilities() rag.Capabilities {
	// RagFlow's retrieval endpoint has no distinct full-text mode.
	return rag.Capabilities{
		Methods: []rag.RetrievalMethod{
			rag.MethodSemantic,
			rag.MethodKeyword,
			rag.MethodHybrid,
		},
		MaxHistory: 12,
	}
}

func (a *RagFlowAdapter) base() string {
	return a.Route + "/api/v1"
}

// --- Document management ---

func (a *RagFlowAdapter) UploadDocumentAndParse(ctx context.Context, knowledgeBaseId string, fileContent []byte, fileName string, metadata map[string]interface{}) (*rag.Document, error) {
	const op = "ragflow.UploadDocumentAndParse"

	var docs []ragflowDocument
	url := fmt.Sprintf("%s/datasets/%s/documents", a.base(), knowledgeBaseId)
	if err := a.sendFile(ctx, op, url, fileContent, fileName, &docs); err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, rag.NewError(rag.KindBackendUnavailable, op, "ragflow returned no document for upload")
	}
	native := docs[0]

	if len(metadata) > 0 {
		if err := a.UpdateDocumentMetadata(ctx, knowledgeBaseId, native.Id, metadata); err != nil {
			return nil, err
		}
	}
	// Parsing is explicit on RagFlow; trigger it so the document moves out
	// of UNSTART without a second caller round-trip.
	if err := a.triggerParse(ctx, op, knowledgeBaseId, []string{native.Id}); err != nil {
		return nil, err
	}

	doc := toSharedDocument(native)
	return &doc, nil
}

// UpdateDocumentAndParse is delete + re-upload: RagFlow has no way to replace
// a document's content in place.
func (a *RagFlowAdapter) UpdateDocumentAndParse(ctx context.Context, knowledgeBaseId, documentId string, fileContent []byte, fileName string, metadata map[string]interface{}) (*rag.Document, error) {
	if err := a.DeleteDocument(ctx, knowledgeBaseId, documentId); err != nil {
		return nil, err
	}
	return a.UploadDocumentAndParse(ctx, knowledgeBaseId, fileContent, fileName, metadata)
}

func (a *RagFlowAdapter) UpdateDocumentMetadata(ctx context.Context, knowledgeBaseId, documentId string, metadata map[string]interface{}) error {
	const op = "ragflow.UpdateDocumentMetadata"
	url := fmt.Sprintf("%s/datasets/%s/documents/%s", a.base(), knowledgeBaseId, documentId)
	body := map[string]interface{}{"meta_fields": metadata}
	return a.doJSON(ctx, op, http.MethodPut, url, body, nil)
}

func (a *RagFlowAdapter) ParseDocument(ctx context.Context, knowledgeBaseId, documentId string) (*rag.Document, error) {
	const op = "ragflow.ParseDocument"
	if err := a.triggerParse(ctx, op, knowledgeBaseId, []string{documentId}); err != nil {
		return nil, err
	}
	return a.GetDocument(ctx, knowledgeBaseId, documentId)
}

func (a *RagFlowAdapter) triggerParse(ctx context.Context, op, knowledgeBaseId string, documentIds []string) error {
	url := fmt.Sprintf("%s/datasets/%s/chunks", a.base(), knowledgeBaseId)
	body := map[string]interface{}{"document_ids": documentIds}
	return a.doJSON(ctx, op, http.MethodPost, url, body, nil)
}

func (a *RagFlowAdapter) DeleteDocument(ctx context.Context, knowledgeBaseId, documentId string) error {
	const op = "ragflow.DeleteDocument"
	url := fmt.Sprintf("%s/datasets/%s/documents", a.base(), knowledgeBaseId)
	body := map[string]interface{}{"ids": []string{documentId}}
	return a.doJSON(ctx, op, http.MethodDelete, url, body, nil)
}

func (a *RagFlowAdapter) GetAllDocuments(ctx context.Context, knowledgeBaseId string) ([]rag.Document, error) {
	const op = "ragflow.GetAllDocuments"

	docs := []rag.Document{}
	for page := 1; ; page++ {
		url := fmt.Sprintf("%s/datasets/%s/documents?page=%d&page_size=%d", a.base(), knowledgeBaseId, page, listPageSize)
		var out ragflowDocumentList
		if err := a.doJSON(ctx, op, http.MethodGet, url, nil, &out); err != nil {
			return nil, err
		}
		for _, d := range out.Docs {
			docs = append(docs, toSharedDocument(d))
		}
		if len(docs) >= out.Total || len(out.Docs) == 0 {
			break
		}
	}
	return docs, nil
}

func (a *RagFlowAdapter) GetDocument(ctx context.Context, knowledgeBaseId, documentId string) (*rag.Document, error) {
	const op = "ragflow.GetDocument"
	url := fmt.Sprintf("%s/datasets/%s/documents?id=%s", a.base(), knowledgeBaseId, neturl.QueryEscape(documentId))
	var out ragflowDocumentList
	if err := a.doJSON(ctx, op, http.MethodGet, url, nil, &out); err != nil {
		return nil, err
	}
	if len(out.Docs) == 0 {
		return nil, rag.NewError(rag.KindNotFound, op, "document "+documentId+" not found")
	}
	doc := toSharedDocument(out.Docs[0])
	return &doc, nil
}

// --- Retrieval ---

func (a *RagFlowAdapter) RetrieveChunks(ctx context.Context, knowledgeBaseId, query string, method rag.RetrievalMethod, topK int, opts *rag.RetrieveOptions) ([]rag.Chunk, error) {
	const op = "ragflow.RetrieveChunks"

	// RagFlow blends vector and term scores via a single weight; the method
	// is expressed through that dial plus the keyword-matching toggle.
	var vectorWeight float64
	var keyword bool
	switch method {
	case rag.MethodSemantic:
		vectorWeight = 1.0
	case rag.MethodKeyword:
		vectorWeight = 0.0
		keyword = true
	default: // hybrid
		vectorWeight = 0.3
		keyword = true
	}

	body := map[string]interface{}{
		"question":                 query,
		"dataset_ids":              []string{knowledgeBaseId},
		"top_k":                    topK,
		"page_size":                topK,
		"keyword":                  keyword,
		"vector_similarity_weight": vectorWeight,
	}
	if opts != nil {
		if opts.ScoreThreshold > 0 {
			body["similarity_threshold"] = opts.ScoreThreshold
		}
		if len(opts.DocumentIds) > 0 {
			body["document_ids"] = opts.DocumentIds
		}
	}

	var out ragflowChunkList
	if err := a.doJSON(ctx, op, http.MethodPost, a.base()+"/retrieval", body, &out); err != nil {
		return nil, err
	}
	chunks := make([]rag.Chunk, 0, len(out.Chunks))
	for _, c := range out.Chunks {
		chunks = append(chunks, toSharedChunk(c))
	}
	return chunks, nil
}

func (a *RagFlowAdapter) GetDocumentChunks(ctx context.Context, knowledgeBaseId, documentId, keyword string, page, limit int) ([]rag.Chunk, error) {
	const op = "ragflow.GetDocumentChunks"
	reqURL := fmt.Sprintf("%s/datasets/%s/documents/%s/chunks?page=%d&page_size=%d", a.base(), knowledgeBaseId, documentId, page, limit)
	if keyword != "" {
		reqURL += "&keywords=" + neturl.QueryEscape(keyword)
	}
	var out ragflowChunkList
	if err := a.doJSON(ctx, op, http.MethodGet, reqURL, nil, &out); err != nil {
		return nil, err
	}
	chunks := make([]rag.Chunk, 0, len(out.Chunks))
	for _, c := range out.Chunks {
		chunks = append(chunks, toSharedChunk(c))
	}
	return chunks, nil
}

// --- Knowledge bases / health ---

func (a *RagFlowAdapter) ListKnowledgeBases(ctx context.Context) ([]rag.KnowledgeBase, error) {
	const op = "ragflow.ListKnowledgeBases"
	url := fmt.Sprintf("%s/datasets?page=1&page_size=%d", a.base(), listPageSize)
	var out []ragflowDataset
	if err := a.doJSON(ctx, op, http.MethodGet, url, nil, &out); err != nil {
		return nil, err
	}
	kbs := make([]rag.KnowledgeBase, 0, len(out))
	for _, d := range out {
		kbs = append(kbs, rag.KnowledgeBase{
			Id:            d.Id,
			Name:          d.Name,
			DocumentCount: d.DocumentCount,
			ChunkCount:    d.ChunkCount,
		})
	}
	return kbs, nil
}

func (a *RagFlowAdapter) CheckHealth(ctx context.Context) error {
	const op = "ragflow.CheckHealth"
	url := a.base() + "/datasets?page=1&page_size=1"
	var out []ragflowDataset
	return a.doJSON(ctx, op, http.MethodGet, url, nil, &out)
}

// --- HTTP plumbing ---

// ragflowEnvelope wraps every RagFlow response body.
type ragflowEnvelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func (a *RagFlowAdapter) doJSON(ctx context.Context, op, method, url string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return rag.WrapError(rag.KindInvalidInput, op, "marshal request", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return rag.WrapError(rag.KindInvalidInput, op, "create request", err)
	}
	req.Header.Set("Authorization", "Bearer "+a.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := a.Client.Do(req)
	if err != nil {
		return rag.WrapError(rag.KindBackendUnavailable, op, "ragflow request failed", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return rag.WrapError(rag.KindBackendUnavailable, op, "read response", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return rag.NewError(rag.KindFromStatus(resp.StatusCode), op,
			fmt.Sprintf("ragflow returned status %d: %s", resp.StatusCode, truncateBody(respBody)))
	}

	var envelope ragflowEnvelope
	if err := json.Unmarshal(respBody, &envelope); err != nil {
		return rag.WrapError(rag.KindBackendUnavailable, op, "unmarshal response", err)
	}
	if envelope.Code != 0 {
		return rag.NewError(classifyCode(envelope.Message), op,
			fmt.Sprintf("ragflow error %d: %s", envelope.Code, envelope.Message))
	}
	if out != nil && len(envelope.Data) > 0 && string(envelope.Data) != "null" {
		if err := json.Unmarshal(envelope.Data, out); err != nil {
			return rag.WrapError(rag.KindBackendUnavailable, op, "unmarshal data", err)
		}
	}
	return nil
}

// classifyCode maps RagFlow's flat application error codes onto the shared
// taxonomy. The API reports missing entities only through the message text.
func classifyCode(message string) rag.ErrorKind {
	lower := strings.ToLower(message)
	if strings.Contains(lower, "not found") || strings.Contains(lower, "doesn't exist") || strings.Contains(lower, "does not exist") {
		return rag.KindNotFound
	}
	return rag.KindBackendRejected
}

func (a *RagFlowAdapter) sendFile(ctx context.Context, op, url string, fileContent []byte, fileName string, out interface{}) error {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	part, err := writer.CreateFormFile("file", fileName)
	if err != nil {
		return rag.WrapError(rag.KindInvalidInput, op, "create file part", err)
	}
	if _, err := part.Write(fileContent); err != nil {
		return rag.WrapError(rag.KindInvalidInput, op, "write file part", err)
	}
	if err := writer.Close(); err != nil {
		return rag.WrapError(rag.KindInvalidInput, op, "close multipart body", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &buf)
	if err != nil {
		return rag.WrapError(rag.KindInvalidInput, op, "create request", err)
	}
	req.Header.Set("Authorization", "Bearer "+a.apiKey)
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := a.Client.Do(req)
	if err != nil {
		return rag.WrapError(rag.KindBackendUnavailable, op, "ragflow request failed", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return rag.WrapError(rag.KindBackendUnavailable, op, "read response", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return rag.NewError(rag.KindFromStatus(resp.StatusCode), op,
			fmt.Sprintf("ragflow returned status %d: %s", resp.StatusCode, truncateBody(respBody)))
	}

	var envelope ragflowEnvelope
	if err := json.Unmarshal(respBody, &envelope); err != nil {
		return rag.WrapError(rag.KindBackendUnavailable, op, "unmarshal response", err)
	}
	if envelope.Code != 0 {
		return rag.NewError(classifyCode(envelope.Message), op,
			fmt.Sprintf("ragflow error %d: %s", envelope.Code, envelope.Message))
	}
	if out != nil && len(envelope.Data) > 0 {
		if err := json.Unmarshal(envelope.Data, out); err != nil {
			return rag.WrapError(rag.KindBackendUnavailable, op, "unmarshal data", err)
		}
	}
	return nil
}

func truncateBody(body []byte) string {
	const max = 512
	if len(body) > max {
		return string(body[:max]) + "..."
	}
	return string(body)
}
