package factory

import (
	"testing"

	"rag-bridge-be/internal/pkg/logger"
	"rag-bridge-be/pkg/rag"
)

func TestNewRagService(t *testing.T) {
	creds := rag.Credentials{Route: "http://backend.local", APIKey: "key"}

	tests := []struct {
		name     string
		provider string
		creds    rag.Credentials
		wantErr  rag.ErrorKind
	}{
		{"dify", ProviderDify, creds, ""},
		{"ragflow", ProviderRagFlow, creds, ""},
		{"unknown provider", "pinecone", creds, rag.KindInvalidInput},
		{"missing route", ProviderDify, rag.Credentials{APIKey: "key"}, rag.KindInvalidInput},
		{"missing api key", ProviderRagFlow, rag.Credentials{Route: "http://backend.local"}, rag.KindInvalidInput},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, err := NewRagService(tt.provider, tt.creds, logger.NewNopLogger())
			if tt.wantErr != "" {
				if rag.KindOf(err) != tt.wantErr {
					t.Fatalf("err = %v, want kind %q", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if svc == nil {
				t.Fatal("service is nil")
			}
			if len(svc.Capabilities().Methods) == 0 {
				t.Error("service must advertise at least one retrieval method")
			}
		})
	}
}

func TestSupportedProviders(t *testing.T) {
	providers := SupportedProviders()
	if len(providers) != 2 {
		t.Fatalf("got %d providers, want 2", len(providers))
	}
}

func TestCapabilitiesDifferPerProvider(t *testing.T) {
	creds := rag.Credentials{Route: "http://backend.local", APIKey: "key"}

	difySvc, err := NewRagService(ProviderDify, creds, logger.NewNopLogger())
	if err != nil {
		t.Fatal(err)
	}
	ragflowSvc, err := NewRagService(ProviderRagFlow, creds, logger.NewNopLogger())
	if err != nil {
		t.Fatal(err)
	}

	if !difySvc.Capabilities().Supports(rag.MethodFullText) {
		t.Error("dify should support full_text")
	}
	if ragflowSvc.Capabilities().Supports(rag.MethodFullText) {
		t.Error("ragflow should not support full_text")
	}
}
