package domain

import "testing"

func TestTranscriptFromMap(t *testing.T) {
	data := map[string]any{
		"metadata": map[string]any{
			"document_id":    "104-10004-10143",
			"classification": "SECRET",
			"people":         []any{"Allen Dulles"},
			"financial_references": map[string]any{
				"amounts":               []any{"$5,000"},
				"financial_entities":    []any{},
				"has_financial_content": true,
			},
		},
		"original_text": "MEMORANDUM FOR THE RECORD",
		"reviewed_text": "Memorandum for the record",
		"confidence": map[string]any{
			"overall":  0.92,
			"concerns": []any{"faded stamp"},
		},
	}

	tr := TranscriptFromMap(data)

	if tr.Metadata.DocumentID != "104-10004-10143" {
		t.Errorf("DocumentID = %q, want 104-10004-10143", tr.Metadata.DocumentID)
	}
	if !tr.Metadata.FinancialReferences.HasFinancialContent {
		t.Error("HasFinancialContent = false, want true")
	}
	if tr.Confidence.Overall != 0.92 {
		t.Errorf("Confidence.Overall = %v, want 0.92", tr.Confidence.Overall)
	}
	if got := tr.WordCount(); got != 4 {
		t.Errorf("WordCount() = %d, want 4", got)
	}
}

func TestTranscriptFromMap_BadTypes(t *testing.T) {
	data := map[string]any{
		"metadata":      "not an object",
		"original_text": "raw",
		"reviewed_text": "clean",
		"confidence":    map[string]any{"overall": 0.4},
	}

	tr := TranscriptFromMap(data)

	if tr.ReviewedText != "clean" {
		t.Errorf("ReviewedText = %q, want clean", tr.ReviewedText)
	}
	if tr.Confidence.Overall != 0.4 {
		t.Errorf("Confidence.Overall = %v, want 0.4", tr.Confidence.Overall)
	}
}

func TestConfidenceScore(t *testing.T) {
	tests := []struct {
		name   string
		data   map[string]any
		want   float64
		wantOK bool
	}{
		{"float", map[string]any{"confidence": map[string]any{"overall": 0.8}}, 0.8, true},
		{"int", map[string]any{"confidence": map[string]any{"overall": 1}}, 1, true},
		{"missing confidence", map[string]any{}, 0, false},
		{"string score", map[string]any{"confidence": map[string]any{"overall": "high"}}, 0, false},
		{"confidence not object", map[string]any{"confidence": 0.9}, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ConfidenceScore(tt.data)
			if ok != tt.wantOK || got != tt.want {
				t.Errorf("ConfidenceScore() = (%v, %v), want (%v, %v)", got, ok, tt.want, tt.wantOK)
			}
		})
	}
}
