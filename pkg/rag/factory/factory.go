package factory

import (
	"rag-bridge-be/internal/pkg/logger"
	"rag-bridge-be/pkg/rag"
	"rag-bridge-be/pkg/rag/dify"
	"rag-bridge-be/pkg/rag/ragflow"
)

const (
	ProviderDify    = "dify"
	ProviderRagFlow = "ragflow"
)

// SupportedProviders lists the backend discriminators NewRagService accepts.
func SupportedProviders() []string {
	return []string{ProviderDify, ProviderRagFlow}
}

// NewRagService resolves the provider discriminator to the matching adapter
// and wraps it behind the service interface. This is the only place backend
// selection happens.
func NewRagService(provider string, creds rag.Credentials, log logger.ILogger) (rag.RagService, error) {
	var adapter rag.BackendAdapter
	var err error

	switch provider {
	case ProviderDify:
		adapter, err = dify.FromCredentials(creds)
	case ProviderRagFlow:
		adapter, err = ragflow.FromCredentials(creds)
	default:
		return nil, rag.NewError(rag.KindInvalidInput, "factory.NewRagService",
			"unsupported RAG provider: "+provider)
	}
	if err != nil {
		return nil, err
	}
	return rag.NewRagService(adapter, log), nil
}
