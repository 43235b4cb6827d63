package bootstrap

import (
	"log"

	"rag-bridge-be/internal/config"
	"rag-bridge-be/internal/controller"
	"rag-bridge-be/internal/pkg/logger"
	"rag-bridge-be/pkg/rag"
	"rag-bridge-be/pkg/rag/factory"
)

type Container struct {
	Logger        logger.ILogger
	RagService    rag.RagService
	RagController controller.IRagController
}

func NewContainer(cfg *config.Config) *Container {
	sysLogger := logger.NewZapLogger(cfg.App.LogFilePath, cfg.App.Environment == "production")

	if err := cfg.Rag.Validate(); err != nil {
		log.Fatalf("[FATAL] Invalid RAG configuration: %v", err)
	}

	ragService, err := factory.NewRagService(cfg.Rag.Provider, rag.Credentials{
		Route:   cfg.Rag.Route,
		APIKey:  cfg.Rag.APIKey,
		ChatKey: cfg.Rag.ChatKey,
		ChatId:  cfg.Rag.ChatId,
	}, sysLogger)
	if err != nil {
		log.Fatalf("[FATAL] Failed to initialize RAG Provider: %v", err)
	}
	log.Printf("[INFO] Using RAG Provider: %s", cfg.Rag.Provider)

	return &Container{
		Logger:        sysLogger,
		RagService:    ragService,
		RagController: controller.NewRagController(ragService, cfg.Rag.DefaultKnowledgeBase, sysLogger),
	}
}
