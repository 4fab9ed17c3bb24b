package domain

import (
	"encoding/json"
	"strings"
)

// FinancialReferences lists money-related mentions in a document
type FinancialReferences struct {
	Amounts             []string `json:"amounts"`
	FinancialEntities   []string `json:"financial_entities"`
	HasFinancialContent bool     `json:"has_financial_content"`
}

// ViolenceReferences lists violent incidents mentioned in a document
type ViolenceReferences struct {
	Incidents          []string `json:"incidents"`
	Victims            []string `json:"victims"`
	HasViolenceContent bool     `json:"has_violence_content"`
}

// TortureReferences lists torture-related mentions in a document
type TortureReferences struct {
	Mentions          []string `json:"mentions"`
	Techniques        []string `json:"techniques"`
	HasTortureContent bool     `json:"has_torture_content"`
}

// Metadata holds the structured fields extracted from a document
type Metadata struct {
	DocumentID          string              `json:"document_id"`
	Title               string              `json:"title,omitempty"`
	Date                string              `json:"date,omitempty"`
	Classification      string              `json:"classification,omitempty"`
	DocumentType        string              `json:"document_type,omitempty"`
	Agency              string              `json:"agency,omitempty"`
	People              []string            `json:"people,omitempty"`
	Places              []string            `json:"places,omitempty"`
	Keywords            []string            `json:"keywords,omitempty"`
	FinancialReferences FinancialReferences `json:"financial_references"`
	ViolenceReferences  ViolenceReferences  `json:"violence_references"`
	TortureReferences   TortureReferences   `json:"torture_references"`
}

// Confidence is the model's self-reported certainty
type Confidence struct {
	Overall  float64  `json:"overall"`
	Concerns []string `json:"concerns"`
}

// Transcript is the per-document output record
type Transcript struct {
	Metadata     Metadata   `json:"metadata"`
	OriginalText string     `json:"original_text"`
	ReviewedText string     `json:"reviewed_text"`
	Confidence   Confidence `json:"confidence"`
}

// TranscriptFromMap converts a repaired response object into a Transcript.
// Fields with unexpected types are left at their zero values.
func TranscriptFromMap(data map[string]any) *Transcript {
	var t Transcript
	raw, err := json.Marshal(data)
	if err != nil {
		return &t
	}
	if err := json.Unmarshal(raw, &t); err != nil {
		// Fall back to the fields we can read directly
		t = Transcript{}
		if s, ok := data["original_text"].(string); ok {
			t.OriginalText = s
		}
		if s, ok := data["reviewed_text"].(string); ok {
			t.ReviewedText = s
		}
		if conf, ok := data["confidence"].(map[string]any); ok {
			if v, ok := conf["overall"].(float64); ok {
				t.Confidence.Overall = v
			}
		}
	}
	return &t
}

// ConfidenceScore extracts confidence.overall from a response object
func ConfidenceScore(data map[string]any) (float64, bool) {
	conf, ok := data["confidence"].(map[string]any)
	if !ok {
		return 0, false
	}
	switch v := conf["overall"].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	}
	return 0, false
}

// WordCount returns the number of words in the reviewed text
func (t *Transcript) WordCount() int {
	return len(strings.Fields(t.ReviewedText))
}
