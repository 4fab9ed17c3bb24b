package repair

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/devbush/docscribe/internal/domain"
	"github.com/spf13/afero"
)

func loadTestValidator(t *testing.T) *Validator {
	t.Helper()
	cache, err := NewSchemaCache(afero.NewOsFs(), 4)
	if err != nil {
		t.Fatalf("NewSchemaCache() error = %v", err)
	}
	v, err := cache.Load(filepath.Join("testdata", "transcript.schema.json"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	return v
}

func validRecord() map[string]any {
	return AutoRepair(map[string]any{
		"metadata": map[string]any{
			"document_id": "104-10004-10143",
			"people":      []any{"Allen Dulles"},
		},
		"original_text": "MEMORANDUM",
		"reviewed_text": "Memorandum",
		"confidence":    map[string]any{"overall": 0.9, "concerns": []any{}},
	})
}

func TestValidator_Valid(t *testing.T) {
	v := loadTestValidator(t)

	ok, errs := v.Validate(validRecord())
	if !ok {
		t.Errorf("Validate() = false, errors: %v", errs)
	}
}

func TestValidator_ErrorPaths(t *testing.T) {
	v := loadTestValidator(t)

	rec := validRecord()
	rec["confidence"].(map[string]any)["overall"] = 1.5
	rec["metadata"].(map[string]any)["people"] = []any{42}

	ok, errs := v.Validate(rec)
	if ok {
		t.Fatal("Validate() = true, want false")
	}

	joined := strings.Join(errs, "\n")
	for _, want := range []string{"confidence.overall: ", "metadata.people.0: "} {
		if !strings.Contains(joined, want) {
			t.Errorf("errors %q missing path %q", errs, want)
		}
	}
}

func TestValidator_MissingRequired(t *testing.T) {
	v := loadTestValidator(t)

	ok, errs := v.Validate(map[string]any{"original_text": "x"})
	if ok {
		t.Fatal("Validate() = true, want false")
	}
	if !strings.HasPrefix(errs[0], "(root): ") {
		t.Errorf("errs[0] = %q, want root-level error", errs[0])
	}
}

func TestValidator_NilAcceptsEverything(t *testing.T) {
	var v *Validator
	ok, errs := v.Validate(map[string]any{"anything": true})
	if !ok || len(errs) != 0 {
		t.Errorf("nil Validate() = (%v, %v), want (true, nil)", ok, errs)
	}
}

func TestNewValidator_BadSchema(t *testing.T) {
	if _, err := NewValidator([]byte(`{"type": 12}`)); err == nil {
		t.Error("NewValidator() error = nil, want compile error")
	}
}

func TestSchemaCache_Missing(t *testing.T) {
	cache, _ := NewSchemaCache(afero.NewMemMapFs(), 0)

	_, err := cache.Load("/nope.json")
	if !errors.Is(err, domain.ErrSchemaMissing) {
		t.Errorf("Load() error = %v, want ErrSchemaMissing", err)
	}
}

func TestSchemaCache_ReusesCompiled(t *testing.T) {
	fs := afero.NewMemMapFs()
	_ = afero.WriteFile(fs, "/s.json", []byte(`{"type": "object"}`), 0644)
	cache, _ := NewSchemaCache(fs, 2)

	first, err := cache.Load("/s.json")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	_ = fs.Remove("/s.json")

	second, err := cache.Load("/s.json")
	if err != nil {
		t.Fatalf("cached Load() error = %v", err)
	}
	if first != second {
		t.Error("Load() compiled the schema twice")
	}
}

func TestCheckRequired(t *testing.T) {
	if issues := CheckRequired(validRecord()); len(issues) != 0 {
		t.Errorf("CheckRequired(valid) = %v, want none", issues)
	}

	rec := validRecord()
	rec["confidence"].(map[string]any)["overall"] = "high"
	delete(rec, "reviewed_text")

	issues := CheckRequired(rec)
	if len(issues) != 2 {
		t.Errorf("CheckRequired() = %v, want 2 issues", issues)
	}
}

func TestCheckCompleteness(t *testing.T) {
	long := strings.Repeat("a", 101)

	tests := []struct {
		name     string
		original string
		reviewed string
		want     int
	}{
		{"long original short reviewed", long, "short", 1},
		{"long original long reviewed", long, strings.Repeat("b", 50), 0},
		{"short original", strings.Repeat("a", 100), "", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CheckCompleteness(map[string]any{"original_text": tt.original, "reviewed_text": tt.reviewed})
			if len(got) != tt.want {
				t.Errorf("CheckCompleteness() = %v, want %d issues", got, tt.want)
			}
		})
	}
}

func TestParseContent(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr bool
	}{
		{"plain object", `{"a": 1}`, false},
		{"json fence", "```json\n{\"a\": 1}\n```", false},
		{"bare fence", "```\n{\"a\": 1}\n```", false},
		{"prose around object", "Here you go: {\"a\": 1} Done.", false},
		{"empty", "   ", true},
		{"array", `[1, 2]`, true},
		{"garbage", "not json", true},
		{"null", "null", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := ParseContent(tt.content)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseContent() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, domain.ErrResponseParse) {
				t.Errorf("error = %v, want ErrResponseParse", err)
			}
			if err == nil && data["a"] != float64(1) {
				t.Errorf("data = %#v, want a=1", data)
			}
		})
	}
}
