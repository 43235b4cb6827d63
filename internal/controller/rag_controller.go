package controller

import (
	"context"
	"encoding/json"
	"io"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"

	"rag-bridge-be/internal/dto"
	"rag-bridge-be/internal/pkg/logger"
	"rag-bridge-be/internal/pkg/serverutils"
	"rag-bridge-be/pkg/rag"
)

const chatWriteWait = 10 * time.Second

type IRagController interface {
	RegisterRoutes(r fiber.Router)
	UploadDocument(ctx *fiber.Ctx) error
	UpdateDocument(ctx *fiber.Ctx) error
	UpdateDocumentMetadata(ctx *fiber.Ctx) error
	ParseDocument(ctx *fiber.Ctx) error
	DeleteDocument(ctx *fiber.Ctx) error
	GetAllDocuments(ctx *fiber.Ctx) error
	GetDocument(ctx *fiber.Ctx) error
	GetDocumentChunks(ctx *fiber.Ctx) error
	Retrieve(ctx *fiber.Ctx) error
	ListKnowledgeBases(ctx *fiber.Ctx) error
	Health(ctx *fiber.Ctx) error
}

type ragController struct {
	service   rag.RagService
	defaultKb string
	log       logger.ILogger
}

func NewRagController(service rag.RagService, defaultKb string, log logger.ILogger) IRagController {
	return &ragController{service: service, defaultKb: defaultKb, log: log}
}

func (c *ragController) RegisterRoutes(r fiber.Router) {
	h := r.Group("/rag/v1")
	h.Post("/documents", c.UploadDocument)
	h.Get("/documents", c.GetAllDocuments)
	h.Get("/documents/:id", c.GetDocument)
	h.Put("/documents/:id", c.UpdateDocument)
	h.Delete("/documents/:id", c.DeleteDocument)
	h.Patch("/documents/:id/metadata", c.UpdateDocumentMetadata)
	h.Post("/documents/:id/parse", c.ParseDocument)
	h.Get("/documents/:id/chunks", c.GetDocumentChunks)
	h.Post("/retrieve", c.Retrieve)
	h.Get("/knowledge-bases", c.ListKnowledgeBases)
	h.Get("/health", c.Health)

	h.Use("/chat/stream", func(ctx *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(ctx) {
			return ctx.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	h.Get("/chat/stream", websocket.New(c.chatStream))
}

// knowledgeBase resolves the kb for a request, falling back to the configured
// default.
func (c *ragController) knowledgeBase(ctx *fiber.Ctx) string {
	if kb := ctx.Query("knowledge_base_id"); kb != "" {
		return kb
	}
	return c.defaultKb
}

func (c *ragController) UploadDocument(ctx *fiber.Ctx) error {
	fileHeader, err := ctx.FormFile("file")
	if err != nil {
		return rag.NewError(rag.KindInvalidInput, "rag.UploadDocument", "missing multipart file field")
	}
	file, err := fileHeader.Open()
	if err != nil {
		return rag.WrapError(rag.KindInvalidInput, "rag.UploadDocument", "open uploaded file", err)
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		return rag.WrapError(rag.KindInvalidInput, "rag.UploadDocument", "read uploaded file", err)
	}

	metadata := map[string]interface{}{}
	if raw := ctx.FormValue("metadata"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &metadata); err != nil {
			return rag.WrapError(rag.KindInvalidInput, "rag.UploadDocument", "metadata must be a JSON object", err)
		}
	}

	doc, err := c.service.UploadDocumentAndParse(ctx.Context(), c.knowledgeBase(ctx), content, fileHeader.Filename, metadata)
	if err != nil {
		return err
	}
	return ctx.JSON(serverutils.SuccessResponse("Success upload document", dto.NewDocumentResponse(doc)))
}

func (c *ragController) UpdateDocument(ctx *fiber.Ctx) error {
	fileHeader, err := ctx.FormFile("file")
	if err != nil {
		return rag.NewError(rag.KindInvalidInput, "rag.UpdateDocument", "missing multipart file field")
	}
	file, err := fileHeader.Open()
	if err != nil {
		return rag.WrapError(rag.KindInvalidInput, "rag.UpdateDocument", "open uploaded file", err)
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		return rag.WrapError(rag.KindInvalidInput, "rag.UpdateDocument", "read uploaded file", err)
	}

	doc, err := c.service.UpdateDocumentAndParse(ctx.Context(), c.knowledgeBase(ctx), ctx.Params("id"), content, fileHeader.Filename, nil)
	if err != nil {
		return err
	}
	return ctx.JSON(serverutils.SuccessResponse("Success update document", dto.NewDocumentResponse(doc)))
}

func (c *ragController) UpdateDocumentMetadata(ctx *fiber.Ctx) error {
	var req dto.UpdateMetadataRequest
	if err := ctx.BodyParser(&req); err != nil {
		return rag.WrapError(rag.KindInvalidInput, "rag.UpdateDocumentMetadata", "parse body", err)
	}
	if err := serverutils.ValidateRequest(req); err != nil {
		return err
	}
	if err := c.service.UpdateDocumentMetadata(ctx.Context(), c.knowledgeBase(ctx), ctx.Params("id"), req.Metadata); err != nil {
		return err
	}
	return ctx.JSON(serverutils.SuccessResponse("Success update document metadata", nil))
}

func (c *ragController) ParseDocument(ctx *fiber.Ctx) error {
	doc, err := c.service.ParseDocument(ctx.Context(), c.knowledgeBase(ctx), ctx.Params("id"))
	if err != nil {
		return err
	}
	return ctx.JSON(serverutils.SuccessResponse("Success trigger document parse", dto.NewDocumentResponse(doc)))
}

func (c *ragController) DeleteDocument(ctx *fiber.Ctx) error {
	var opts []rag.DeleteOption
	if ctx.QueryBool("strict") {
		opts = append(opts, rag.WithStrict())
	}
	if err := c.service.DeleteDocument(ctx.Context(), c.knowledgeBase(ctx), ctx.Params("id"), opts...); err != nil {
		return err
	}
	return ctx.JSON(serverutils.SuccessResponse("Success delete document", nil))
}

func (c *ragController) GetAllDocuments(ctx *fiber.Ctx) error {
	docs, err := c.service.GetAllDocuments(ctx.Context(), c.knowledgeBase(ctx))
	if err != nil {
		return err
	}
	out := make([]dto.DocumentResponse, 0, len(docs))
	for i := range docs {
		out = append(out, *dto.NewDocumentResponse(&docs[i]))
	}
	return ctx.JSON(serverutils.SuccessResponse("Success get all documents", out))
}

func (c *ragController) GetDocument(ctx *fiber.Ctx) error {
	doc, err := c.service.GetDocument(ctx.Context(), c.knowledgeBase(ctx), ctx.Params("id"))
	if err != nil {
		return err
	}
	return ctx.JSON(serverutils.SuccessResponse("Success get document", dto.NewDocumentResponse(doc)))
}

func (c *ragController) GetDocumentChunks(ctx *fiber.Ctx) error {
	page := ctx.QueryInt("page", 1)
	limit := ctx.QueryInt("limit", 20)
	chunks, err := c.service.GetDocumentChunks(ctx.Context(), c.knowledgeBase(ctx), ctx.Params("id"), ctx.Query("keyword"), page, limit)
	if err != nil {
		return err
	}
	return ctx.JSON(serverutils.SuccessResponse("Success get document chunks", dto.NewChunkResponses(chunks)))
}

func (c *ragController) Retrieve(ctx *fiber.Ctx) error {
	var req dto.RetrieveRequest
	if err := ctx.BodyParser(&req); err != nil {
		return rag.WrapError(rag.KindInvalidInput, "rag.Retrieve", "parse body", err)
	}
	if err := serverutils.ValidateRequest(req); err != nil {
		return err
	}
	kb := req.KnowledgeBaseId
	if kb == "" {
		kb = c.defaultKb
	}
	method := rag.RetrievalMethod(req.Method)
	if req.Method == "" {
		method = rag.MethodSemantic
	}
	topK := req.TopK
	if topK == 0 {
		topK = 5
	}
	var opts []rag.RetrieveOption
	if req.ScoreThreshold > 0 {
		opts = append(opts, rag.WithScoreThreshold(req.ScoreThreshold))
	}

	chunks, err := c.service.RetrieveChunks(ctx.Context(), kb, req.Query, method, topK, opts...)
	if err != nil {
		return err
	}
	return ctx.JSON(serverutils.SuccessResponse("Success retrieve chunks", dto.NewChunkResponses(chunks)))
}

func (c *ragController) ListKnowledgeBases(ctx *fiber.Ctx) error {
	kbs, err := c.service.ListKnowledgeBases(ctx.Context())
	if err != nil {
		return err
	}
	out := make([]dto.KnowledgeBaseResponse, 0, len(kbs))
	for _, kb := range kbs {
		out = append(out, dto.KnowledgeBaseResponse{
			Id:            kb.Id,
			Name:          kb.Name,
			DocumentCount: kb.DocumentCount,
			ChunkCount:    kb.ChunkCount,
		})
	}
	return ctx.JSON(serverutils.SuccessResponse("Success get knowledge bases", out))
}

func (c *ragController) Health(ctx *fiber.Ctx) error {
	if err := c.service.CheckHealth(ctx.Context()); err != nil {
		return err
	}
	return ctx.JSON(serverutils.SuccessResponse("Backend reachable", fiber.Map{
		"provider_methods": c.service.Capabilities().Methods,
	}))
}

// chatStream runs one chat turn over a websocket: the client sends one JSON
// request frame, fragments stream back as JSON frames, and the socket closes
// after the terminal fragment. Closing the socket early cancels the turn.
func (c *ragController) chatStream(conn *websocket.Conn) {
	defer conn.Close()

	var req dto.ChatStreamRequest
	if err := conn.ReadJSON(&req); err != nil {
		c.log.Warn("rag-ws", "invalid chat request frame", map[string]interface{}{"error": err.Error()})
		return
	}
	if err := serverutils.ValidateRequest(req); err != nil {
		conn.SetWriteDeadline(time.Now().Add(chatWriteWait))
		_ = conn.WriteJSON(rag.StreamFragment{Kind: rag.FragmentError, Err: err.Error()})
		return
	}
	kb := req.KnowledgeBaseId
	if kb == "" {
		kb = c.defaultKb
	}

	turnCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Read pump: the only expected client input after the request frame is a
	// close, which cancels the in-flight turn.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	fragments, err := c.service.ChatStream(turnCtx, kb, req.ToMessages(), req.Query)
	if err != nil {
		conn.SetWriteDeadline(time.Now().Add(chatWriteWait))
		_ = conn.WriteJSON(rag.StreamFragment{Kind: rag.FragmentError, Err: err.Error()})
		return
	}

	for fragment := range fragments {
		conn.SetWriteDeadline(time.Now().Add(chatWriteWait))
		if err := conn.WriteJSON(fragment); err != nil {
			// Client went away; ctx cancel releases the backend stream.
			return
		}
	}
}
