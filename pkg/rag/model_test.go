package rag

import (
	"testing"
)

func TestExtensionSupported(t *testing.T) {
	tests := []struct {
		fileName string
		want     bool
	}{
		{"report.pdf", true},
		{"notes.md", true},
		{"data.JSON", true},
		{"archive.tar.gz", false},
		{"binary.exe", false},
		{"noextension", false},
		{"trailingdot.", false},
		{".pdf", true},
	}

	for _, tt := range tests {
		t.Run(tt.fileName, func(t *testing.T) {
			if got := ExtensionSupported(tt.fileName); got != tt.want {
				t.Errorf("ExtensionSupported(%q) = %v, want %v", tt.fileName, got, tt.want)
			}
		})
	}
}

func TestClampScore(t *testing.T) {
	tests := []struct {
		name  string
		score float64
		want  float64
	}{
		{"in range", 0.42, 0.42},
		{"negative saturates to zero", -0.3, 0},
		{"above one saturates", 1.7, 1},
		{"exact bounds", 1.0, 1.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ClampScore(tt.score); got != tt.want {
				t.Errorf("ClampScore(%v) = %v, want %v", tt.score, got, tt.want)
			}
		})
	}
}

func TestSortChunksDescendingStable(t *testing.T) {
	chunks := []Chunk{
		{Id: "a", Score: 0.2},
		{Id: "b", Score: 0.9},
		{Id: "c", Score: 0.9},
		{Id: "d", Score: 0.5},
	}

	SortChunks(chunks)

	wantOrder := []string{"b", "c", "d", "a"}
	for i, id := range wantOrder {
		if chunks[i].Id != id {
			t.Fatalf("position %d = %q, want %q", i, chunks[i].Id, id)
		}
	}
}

func TestTruncateHistory(t *testing.T) {
	history := []Message{
		{Role: RoleUser, Content: "one"},
		{Role: RoleAssistant, Content: "two"},
		{Role: RoleUser, Content: "three"},
	}

	t.Run("keeps most recent", func(t *testing.T) {
		got := TruncateHistory(history, 2)
		if len(got) != 2 {
			t.Fatalf("len = %d, want 2", len(got))
		}
		if got[0].Content != "two" || got[1].Content != "three" {
			t.Errorf("kept wrong messages: %v", got)
		}
	})

	t.Run("short history untouched", func(t *testing.T) {
		got := TruncateHistory(history, 10)
		if len(got) != 3 {
			t.Errorf("len = %d, want 3", len(got))
		}
	})

	t.Run("non-positive max is unlimited", func(t *testing.T) {
		got := TruncateHistory(history, 0)
		if len(got) != 3 {
			t.Errorf("len = %d, want 3", len(got))
		}
	})
}

func TestCapabilitiesSupports(t *testing.T) {
	caps := Capabilities{Methods: []RetrievalMethod{MethodSemantic, MethodHybrid}}

	if !caps.Supports(MethodSemantic) {
		t.Error("expected semantic to be supported")
	}
	if caps.Supports(MethodFullText) {
		t.Error("expected full_text to be unsupported")
	}
}
