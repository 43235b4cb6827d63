package dify

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

	"github.com/google/uuid"

	"rag-bridge-be/pkg/rag"
)

const (
	requestTimeout = 60 * time.Second
	listPageSize   = 100
)

// DifyAdapter talks to the Dify dataset and chat APIs. Route points at the
// API base including the version segment (e.g. https://dify.local/v1).
type DifyAdapter struct {
	Route   string
	apiKey  string
	chatKey string
	user    string // stable pseudo end-user id required by the chat API
	Client  *http.Client
	// streamClient has no global timeout; chat streams are bounded by ctx
	// and the per-fragment idle deadline instead.
	streamClient *http.Client
}

// Ensure DifyAdapter implements BackendAdapter
var _ rag.BackendAdapter = &DifyAdapter{}

func NewDifyAdapter(route, apiKey, chatKey string) *DifyAdapter {
	if chatKey == "" {
		chatKey = apiKey
	}
	return &DifyAdapter{
		Route:        strings.TrimRight(route, "/"),
		apiKey:       apiKey,
		chatKey:      chatKey,
		user:         "rag-bridge-" + uuid.NewString(),
		Client:       &http.Client{Timeout: requestTimeout},
		streamClient: &http.Client{},
	}
}

// FromCredentials validates required fields and builds the adapter.
func FromCredentials(creds rag.Credentials) (*DifyAdapter, error) {
	const op = "dify.FromCredentials"
	if strings.TrimSpace(creds.Route) == "" {
		return nil, rag.NewError(rag.KindInvalidInput, op, "credentials must contain a route")
	}
	if strings.TrimSpace(creds.APIKey) == "" {
		return nil, rag.NewError(rag.KindInvalidInput, op, "credentials must contain an api key")
	}
	return NewDifyAdapter(creds.Route, creds.APIKey, creds.ChatKey), nil
}

func (a *DifyAdapter) Capabilities() rag.Capabilities {
	return rag.Capabilities{
		Methods: []rag.RetrievalMethod{
			rag.MethodSemantic,
			rag.MethodKeyword,
			rag.MethodHybrid,
			rag.MethodFullText,
		},
		MaxHistory: 20,
	}
}

// --- Document management ---

func (a *DifyAdapter) UploadDocumentAndParse(ctx context.Context, knowledgeBaseId string, fileContent []byte, fileName string, metadata map[string]interface{}) (*rag.Document, error) {
	const op = "dify.UploadDocumentAndParse"
	url := fmt.Sprintf("%s/datasets/%s/document/create-by-file", a.Route, knowledgeBaseId)

	var out difyDocumentResponse
	if err := a.sendFile(ctx, op, url, fileContent, fileName, &out); err != nil {
		return nil, err
	}
	// The create endpoint takes no metadata; attach it in a second call.
	if len(metadata) > 0 {
		if err := a.UpdateDocumentMetadata(ctx, knowledgeBaseId, out.Document.Id, metadata); err != nil {
			return nil, err
		}
	}
	doc := toSharedDocument(out.Document)
	// The create response predates the metadata call; reflect what was attached.
	for name, value := range metadata {
		doc.Metadata[name] = value
	}
	return &doc, nil
}

func (a *DifyAdapter) UpdateDocumentAndParse(ctx context.Context, knowledgeBaseId, documentId string, fileContent []byte, fileName string, metadata map[string]interface{}) (*rag.Document, error) {
	const op = "dify.UpdateDocumentAndParse"
	url := fmt.Sprintf("%s/datasets/%s/documents/%s/update-by-file", a.Route, knowledgeBaseId, documentId)

	var out difyDocumentResponse
	if err := a.sendFile(ctx, op, url, fileContent, fileName, &out); err != nil {
		return nil, err
	}
	if len(metadata) > 0 {
		if err := a.UpdateDocumentMetadata(ctx, knowledgeBaseId, documentId, metadata); err != nil {
			return nil, err
		}
	}
	doc := toSharedDocument(out.Document)
	for name, value := range metadata {
		doc.Metadata[name] = value
	}
	return &doc, nil
}

func (a *DifyAdapter) UpdateDocumentMetadata(ctx context.Context, knowledgeBaseId, documentId string, metadata map[string]interface{}) error {
	const op = "dify.UpdateDocumentMetadata"

	// Dify keys document metadata by per-dataset field ids, so unknown names
	// must be registered first.
	var registry difyMetadataRegistry
	regURL := fmt.Sprintf("%s/datasets/%s/metadata", a.Route, knowledgeBaseId)
	if err := a.doJSON(ctx, op, http.MethodGet, regURL, nil, &registry); err != nil {
		return err
	}
	known := make(map[string]string, len(registry.DocMetadata))
	for _, f := range registry.DocMetadata {
		known[f.Name] = f.Id
	}

	list := make([]difyMetaItem, 0, len(metadata))
	for name, value := range metadata {
		id, ok := known[name]
		if !ok {
			var created difyMetaItem
			body := map[string]interface{}{"type": "string", "name": name}
			if err := a.doJSON(ctx, op, http.MethodPost, regURL, body, &created); err != nil {
				return err
			}
			id = created.Id
		}
		list = append(list, difyMetaItem{Id: id, Name: name, Value: value})
	}

	url := fmt.Sprintf("%s/datasets/%s/documents/metadata", a.Route, knowledgeBaseId)
	body := map[string]interface{}{
		"operation_data": []map[string]interface{}{
			{"document_id": documentId, "metadata_list": list},
		},
	}
	return a.doJSON(ctx, op, http.MethodPost, url, body, nil)
}

func (a *DifyAdapter) ParseDocument(ctx context.Context, knowledgeBaseId, documentId string) (*rag.Document, error) {
	// Dify has no endpoint to re-trigger indexing of an existing document.
	return nil, rag.NewError(rag.KindUnsupportedMethod, "dify.ParseDocument", "dify cannot re-parse documents")
}

func (a *DifyAdapter) DeleteDocument(ctx context.Context, knowledgeBaseId, documentId string) error {
	const op = "dify.DeleteDocument"
	url := fmt.Sprintf("%s/datasets/%s/documents/%s", a.Route, knowledgeBaseId, documentId)
	return a.doJSON(ctx, op, http.MethodDelete, url, nil, nil)
}

func (a *DifyAdapter) GetAllDocuments(ctx context.Context, knowledgeBaseId string) ([]rag.Document, error) {
	const op = "dify.GetAllDocuments"

	docs := []rag.Document{}
	for page := 1; ; page++ {
		url := fmt.Sprintf("%s/datasets/%s/documents?page=%d&limit=%d", a.Route, knowledgeBaseId, page, listPageSize)
		var out difyDocumentList
		if err := a.doJSON(ctx, op, http.MethodGet, url, nil, &out); err != nil {
			return nil, err
		}
		for _, d := range out.Data {
			docs = append(docs, toSharedDocument(d))
		}
		if !out.HasMore || len(out.Data) == 0 {
			break
		}
	}
	return docs, nil
}

func (a *DifyAdapter) GetDocument(ctx context.Context, knowledgeBaseId, documentId string) (*rag.Document, error) {
	const op = "dify.GetDocument"
	// No stable single-document endpoint on this API surface; scan the
	// paginated listing instead. Catalogs are small (see GetAllDocuments).
	docs, err := a.GetAllDocuments(ctx, knowledgeBaseId)
	if err != nil {
		return nil, err
	}
	for i := range docs {
		if docs[i].Id == documentId {
			return &docs[i], nil
		}
	}
	return nil, rag.NewError(rag.KindNotFound, op, "document "+documentId+" not found")
}

// --- Retrieval ---

func (a *DifyAdapter) RetrieveChunks(ctx context.Context, knowledgeBaseId, query string, method rag.RetrievalMethod, topK int, opts *rag.RetrieveOptions) ([]rag.Chunk, error) {
	const op = "dify.RetrieveChunks"
	if opts != nil && len(opts.DocumentIds) > 0 {
		return nil, rag.NewError(rag.KindUnsupportedMethod, op, "dify retrieval cannot filter by document ids")
	}

	retrievalModel := map[string]interface{}{
		"search_method":           toSearchMethod(method),
		"reranking_enable":        false,
		"top_k":                   topK,
		"score_threshold_enabled": false,
	}
	if opts != nil && opts.ScoreThreshold > 0 {
		retrievalModel["score_threshold_enabled"] = true
		retrievalModel["score_threshold"] = opts.ScoreThreshold
	}
	body := map[string]interface{}{
		"query":           query,
		"retrieval_model": retrievalModel,
	}

	url := fmt.Sprintf("%s/datasets/%s/retrieve", a.Route, knowledgeBaseId)
	var out difyRetrieveResponse
	if err := a.doJSON(ctx, op, http.MethodPost, url, body, &out); err != nil {
		return nil, err
	}

	chunks := make([]rag.Chunk, 0, len(out.Records))
	for _, r := range out.Records {
		chunks = append(chunks, toSharedChunk(r))
	}
	return chunks, nil
}

func (a *DifyAdapter) GetDocumentChunks(ctx context.Context, knowledgeBaseId, documentId, keyword string, page, limit int) ([]rag.Chunk, error) {
	const op = "dify.GetDocumentChunks"
	reqURL := fmt.Sprintf("%s/datasets/%s/documents/%s/segments?page=%d&limit=%d", a.Route, knowledgeBaseId, documentId, page, limit)
	if keyword != "" {
		reqURL += "&keyword=" + neturl.QueryEscape(keyword)
	}
	var out difySegmentList
	if err := a.doJSON(ctx, op, http.MethodGet, reqURL, nil, &out); err != nil {
		return nil, err
	}
	chunks := make([]rag.Chunk, 0, len(out.Data))
	for _, s := range out.Data {
		chunks = append(chunks, toSharedSegment(s))
	}
	return chunks, nil
}

// --- Knowledge bases / health ---

func (a *DifyAdapter) ListKnowledgeBases(ctx context.Context) ([]rag.KnowledgeBase, error) {
	const op = "dify.ListKnowledgeBases"

	kbs := []rag.KnowledgeBase{}
	for page := 1; ; page++ {
		url := fmt.Sprintf("%s/datasets?page=%d&limit=%d", a.Route, page, listPageSize)
		var out difyDatasetList
		if err := a.doJSON(ctx, op, http.MethodGet, url, nil, &out); err != nil {
			return nil, err
		}
		for _, d := range out.Data {
			kbs = append(kbs, rag.KnowledgeBase{
				Id:            d.Id,
				Name:          d.Name,
				DocumentCount: d.DocumentCount,
			})
		}
		if !out.HasMore || len(out.Data) == 0 {
			break
		}
	}
	return kbs, nil
}

func (a *DifyAdapter) CheckHealth(ctx context.Context) error {
	const op = "dify.CheckHealth"
	url := a.Route + "/datasets?page=1&limit=1"
	var out difyDatasetList
	return a.doJSON(ctx, op, http.MethodGet, url, nil, &out)
}

// --- HTTP plumbing ---

func (a *DifyAdapter) doJSON(ctx context.Context, op, method, url string, body, out interface{}) error {
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
		return rag.WrapError(rag.KindBackendUnavailable, op, "dify request failed", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return rag.WrapError(rag.KindBackendUnavailable, op, "read response", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return rag.NewError(rag.KindFromStatus(resp.StatusCode), op,
			fmt.Sprintf("dify returned status %d: %s", resp.StatusCode, truncateBody(respBody)))
	}
	if out != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, out); err != nil {
			return rag.WrapError(rag.KindBackendUnavailable, op, "unmarshal response", err)
		}
	}
	return nil
}

// sendFile posts a multipart create/update-by-file request. The "data" part
// carries the processing rule Dify requires on every file upload.
func (a *DifyAdapter) sendFile(ctx context.Context, op, url string, fileContent []byte, fileName string, out interface{}) error {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	data := map[string]interface{}{
		"indexing_technique": "high_quality",
		"process_rule":       map[string]interface{}{"mode": "automatic"},
	}
	dataJSON, err := json.Marshal(data)
	if err != nil {
		return rag.WrapError(rag.KindInvalidInput, op, "marshal data part", err)
	}
	if err := writer.WriteField("data", string(dataJSON)); err != nil {
		return rag.WrapError(rag.KindInvalidInput, op, "write data part", err)
	}
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
		return rag.WrapError(rag.KindBackendUnavailable, op, "dify request failed", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return rag.WrapError(rag.KindBackendUnavailable, op, "read response", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return rag.NewError(rag.KindFromStatus(resp.StatusCode), op,
			fmt.Sprintf("dify returned status %d: %s", resp.StatusCode, truncateBody(respBody)))
	}
	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return rag.WrapError(rag.KindBackendUnavailable, op, "unmarshal response", err)
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
