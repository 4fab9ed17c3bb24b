package repair

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/devbush/docscribe/internal/domain"
	"github.com/xeipuuv/gojsonschema"
)

const (
	// Incomplete transcription heuristic thresholds, in characters
	longOriginalChars  = 100
	shortReviewedChars = 50
)

// IssueIncomplete is reported when the reviewed text is suspiciously short
const IssueIncomplete = "reviewed_text: transcription appears incomplete (original text is long but reviewed text is short)"

// Validator checks records against a compiled Draft-07 JSON Schema.
// A nil *Validator accepts everything.
type Validator struct {
	schema *gojsonschema.Schema
}

// NewValidator compiles a JSON Schema document
func NewValidator(schemaJSON []byte) (*Validator, error) {
	loader := gojsonschema.NewSchemaLoader()
	loader.Draft = gojsonschema.Draft7
	loader.AutoDetect = false

	schema, err := loader.Compile(gojsonschema.NewBytesLoader(schemaJSON))
	if err != nil {
		return nil, fmt.Errorf("failed to compile schema: %w", err)
	}
	return &Validator{schema: schema}, nil
}

// Validate returns whether data matches the schema and the list of "<dotted.path>: <message>" errors
func (v *Validator) Validate(data map[string]any) (bool, []string) {
	if v == nil || v.schema == nil {
		return true, nil
	}

	result, err := v.schema.Validate(gojsonschema.NewGoLoader(data))
	if err != nil {
		return false, []string{fmt.Sprintf("(root): %v", err)}
	}
	if result.Valid() {
		return true, nil
	}

	errs := make([]string, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		errs = append(errs, fmt.Sprintf("%s: %s", e.Field(), e.Description()))
	}
	sort.Strings(errs)
	return false, errs
}

// CheckRequired verifies the fields every output record must carry after repair
func CheckRequired(data map[string]any) []string {
	var issues []string

	if _, ok := data["metadata"].(map[string]any); !ok {
		issues = append(issues, "metadata: must be an object")
	}
	for _, key := range []string{"original_text", "reviewed_text"} {
		if _, ok := data[key].(string); !ok {
			issues = append(issues, key+": must be a string")
		}
	}

	conf, ok := data["confidence"].(map[string]any)
	if !ok {
		return append(issues, "confidence: must be an object")
	}
	score, ok := domain.ConfidenceScore(data)
	switch {
	case !ok:
		issues = append(issues, "confidence.overall: must be a number")
	case score < 0 || score > 1:
		issues = append(issues, fmt.Sprintf("confidence.overall: %v is outside [0, 1]", score))
	}
	if _, ok := conf["concerns"].([]any); !ok {
		issues = append(issues, "confidence.concerns: must be an array")
	}
	return issues
}

// CheckCompleteness flags records whose reviewed text is far shorter than the original.
// This cannot be repaired; callers surface it for manual review.
func CheckCompleteness(data map[string]any) []string {
	original, _ := data["original_text"].(string)
	reviewed, _ := data["reviewed_text"].(string)

	if utf8.RuneCountInString(original) > longOriginalChars && utf8.RuneCountInString(reviewed) < shortReviewedChars {
		return []string{IssueIncomplete}
	}
	return nil
}

// ParseContent decodes a completion into a JSON object, tolerating Markdown code fences
func ParseContent(content string) (map[string]any, error) {
	s := stripFences(strings.TrimSpace(content))
	if s == "" {
		return nil, fmt.Errorf("%w: empty response", domain.ErrResponseParse)
	}

	var data map[string]any
	if err := json.Unmarshal([]byte(s), &data); err != nil {
		// Some models wrap the object in prose
		start, end := strings.Index(s, "{"), strings.LastIndex(s, "}")
		if start < 0 || end <= start {
			return nil, fmt.Errorf("%w: %v", domain.ErrResponseParse, err)
		}
		if err2 := json.Unmarshal([]byte(s[start:end+1]), &data); err2 != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrResponseParse, err)
		}
	}
	if data == nil {
		return nil, fmt.Errorf("%w: response is not an object", domain.ErrResponseParse)
	}
	return data, nil
}

func stripFences(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	// Drop the opening fence line, including any language tag
	if i := strings.Index(s, "\n"); i >= 0 {
		s = s[i+1:]
	} else {
		return ""
	}
	s = strings.TrimSpace(s)
	return strings.TrimSpace(strings.TrimSuffix(s, "```"))
}
