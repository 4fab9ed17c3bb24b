package repair

import (
	"reflect"
	"testing"
)

func defaultBlock(lists []string, flag string) map[string]any {
	b := map[string]any{flag: false}
	for _, l := range lists {
		b[l] = []any{}
	}
	return b
}

func TestAutoRepair_NestsFlatMetadata(t *testing.T) {
	raw := map[string]any{
		"document_id":    "104-10004-10143",
		"classification": "SECRET",
		"people":         []any{"Allen Dulles"},
		"original_text":  "text",
		"reviewed_text":  "text",
	}

	got := AutoRepair(raw)

	meta, ok := got["metadata"].(map[string]any)
	if !ok {
		t.Fatalf("metadata missing or not an object: %#v", got["metadata"])
	}
	if meta["document_id"] != "104-10004-10143" || meta["classification"] != "SECRET" {
		t.Errorf("metadata = %#v, want flat fields nested", meta)
	}
	for _, key := range []string{"document_id", "classification", "people"} {
		if _, ok := got[key]; ok {
			t.Errorf("flat key %q still present at top level", key)
		}
	}
	if _, ok := raw["metadata"]; ok {
		t.Error("AutoRepair modified its input")
	}
}

func TestAutoRepair_KeepsTopLevelFieldsWhenMetadataPresent(t *testing.T) {
	raw := map[string]any{
		"metadata": map[string]any{"document_id": "1"},
		"title":    "stray",
	}

	got := AutoRepair(raw)

	if got["title"] != "stray" {
		t.Errorf("title = %v, want stray left in place", got["title"])
	}
	if got["metadata"].(map[string]any)["document_id"] != "1" {
		t.Error("existing metadata was replaced")
	}
}

func TestAutoRepair_SensitiveBlockDefaults(t *testing.T) {
	tests := []struct {
		name string
		raw  map[string]any
	}{
		{"no metadata at all", map[string]any{}},
		{"metadata without blocks", map[string]any{"metadata": map[string]any{"document_id": "x"}}},
		{"blocks with wrong type", map[string]any{"metadata": map[string]any{
			"financial_references": "none",
			"violence_references":  []any{},
			"torture_references":   nil,
		}}},
		{"metadata not an object", map[string]any{"metadata": "oops"}},
	}

	want := map[string]map[string]any{
		"financial_references": defaultBlock([]string{"amounts", "financial_entities"}, "has_financial_content"),
		"violence_references":  defaultBlock([]string{"incidents", "victims"}, "has_violence_content"),
		"torture_references":   defaultBlock([]string{"mentions", "techniques"}, "has_torture_content"),
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := AutoRepair(tt.raw)
			meta := got["metadata"].(map[string]any)
			for key, block := range want {
				if !reflect.DeepEqual(meta[key], block) {
					t.Errorf("%s = %#v, want %#v", key, meta[key], block)
				}
			}
		})
	}
}

func TestAutoRepair_FillsOnlyMissingSubFields(t *testing.T) {
	raw := map[string]any{
		"metadata": map[string]any{
			"violence_references": map[string]any{
				"incidents":            []any{"bombing"},
				"has_violence_content": true,
			},
		},
	}

	got := AutoRepair(raw)
	block := got["metadata"].(map[string]any)["violence_references"].(map[string]any)

	if !reflect.DeepEqual(block["incidents"], []any{"bombing"}) {
		t.Errorf("incidents = %#v, want preserved", block["incidents"])
	}
	if block["has_violence_content"] != true {
		t.Errorf("has_violence_content = %v, want true", block["has_violence_content"])
	}
	if !reflect.DeepEqual(block["victims"], []any{}) {
		t.Errorf("victims = %#v, want []", block["victims"])
	}
}

func TestAutoRepair_Confidence(t *testing.T) {
	tests := []struct {
		name string
		raw  map[string]any
		want map[string]any
	}{
		{
			name: "missing",
			raw:  map[string]any{},
			want: map[string]any{"overall": DefaultConfidence, "concerns": []any{MissingConfidenceConcern}},
		},
		{
			name: "not an object",
			raw:  map[string]any{"confidence": 0.9},
			want: map[string]any{"overall": DefaultConfidence, "concerns": []any{MissingConfidenceConcern}},
		},
		{
			name: "partial",
			raw:  map[string]any{"confidence": map[string]any{"overall": 0.9}},
			want: map[string]any{"overall": 0.9, "concerns": []any{MissingConfidenceConcern}},
		},
		{
			name: "complete",
			raw:  map[string]any{"confidence": map[string]any{"overall": 0.7, "concerns": []any{}}},
			want: map[string]any{"overall": 0.7, "concerns": []any{}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := AutoRepair(tt.raw)
			if !reflect.DeepEqual(got["confidence"], tt.want) {
				t.Errorf("confidence = %#v, want %#v", got["confidence"], tt.want)
			}
		})
	}
}

func TestAutoRepair_TextFields(t *testing.T) {
	raw := map[string]any{
		"original_text": nil,
		"reviewed_text": []any{"line one", "line two"},
	}

	got := AutoRepair(raw)

	if got["original_text"] != "" {
		t.Errorf("original_text = %#v, want empty string", got["original_text"])
	}
	if got["reviewed_text"] != `["line one","line two"]` {
		t.Errorf("reviewed_text = %#v, want JSON-encoded string", got["reviewed_text"])
	}
}

func TestAutoRepair_Idempotent(t *testing.T) {
	inputs := []map[string]any{
		nil,
		{},
		{"document_id": "1", "people": []any{"a"}, "confidence": "high"},
		{"metadata": map[string]any{"torture_references": map[string]any{"mentions": []any{"x"}}}},
		{"metadata": 5, "original_text": 12, "reviewed_text": map[string]any{"a": 1}},
		{"confidence": map[string]any{"concerns": []any{"blurry"}}},
	}

	for i, in := range inputs {
		once := AutoRepair(in)
		twice := AutoRepair(once)
		if !reflect.DeepEqual(once, twice) {
			t.Errorf("input %d: AutoRepair not idempotent\nonce:  %#v\ntwice: %#v", i, once, twice)
		}
	}
}
