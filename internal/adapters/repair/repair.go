package repair

import (
	"encoding/json"
)

// MissingConfidenceConcern is recorded when the model omitted its confidence block
const MissingConfidenceConcern = "Auto-generated confidence due to missing field"

// DefaultConfidence is the score assigned when the model omitted one
const DefaultConfidence = 0.5

// metadataFields are the keys that belong under "metadata"
var metadataFields = []string{
	"document_id",
	"title",
	"date",
	"classification",
	"document_type",
	"agency",
	"people",
	"places",
	"keywords",
	"financial_references",
	"violence_references",
	"torture_references",
}

type blockDefaults struct {
	key   string
	lists []string
	flag  string
}

// sensitiveBlocks are the reference substructures every record must carry
var sensitiveBlocks = []blockDefaults{
	{key: "financial_references", lists: []string{"amounts", "financial_entities"}, flag: "has_financial_content"},
	{key: "violence_references", lists: []string{"incidents", "victims"}, flag: "has_violence_content"},
	{key: "torture_references", lists: []string{"mentions", "techniques"}, flag: "has_torture_content"},
}

// AutoRepair returns a structurally complete copy of raw. It never fails and
// AutoRepair(AutoRepair(x)) equals AutoRepair(x).
func AutoRepair(raw map[string]any) map[string]any {
	data := copyMap(raw)
	if data == nil {
		data = map[string]any{}
	}

	nestMetadata(data)
	fillSensitiveBlocks(data)
	fillConfidence(data)
	ensureString(data, "original_text")
	ensureString(data, "reviewed_text")

	return data
}

// nestMetadata handles the flat output shape, where the model ignored the requested nesting.
func nestMetadata(data map[string]any) {
	if meta, ok := data["metadata"].(map[string]any); ok && meta != nil {
		return
	}

	meta := map[string]any{}
	if _, present := data["metadata"]; !present {
		for _, key := range metadataFields {
			if v, ok := data[key]; ok {
				meta[key] = v
				delete(data, key)
			}
		}
	}
	data["metadata"] = meta
}

func fillSensitiveBlocks(data map[string]any) {
	meta := data["metadata"].(map[string]any)

	for _, b := range sensitiveBlocks {
		block, ok := meta[b.key].(map[string]any)
		if !ok || block == nil {
			block = map[string]any{}
			meta[b.key] = block
		}
		for _, list := range b.lists {
			if _, ok := block[list]; !ok {
				block[list] = []any{}
			}
		}
		if _, ok := block[b.flag]; !ok {
			block[b.flag] = false
		}
	}
}

func fillConfidence(data map[string]any) {
	conf, ok := data["confidence"].(map[string]any)
	if !ok || conf == nil {
		conf = map[string]any{}
		data["confidence"] = conf
	}
	if _, ok := conf["overall"]; !ok {
		conf["overall"] = DefaultConfidence
	}
	if _, ok := conf["concerns"]; !ok {
		conf["concerns"] = []any{MissingConfidenceConcern}
	}
}

func ensureString(data map[string]any, key string) {
	switch v := data[key].(type) {
	case string:
		return
	case nil:
		data[key] = ""
	default:
		b, err := json.Marshal(v)
		if err != nil {
			data[key] = ""
			return
		}
		data[key] = string(b)
	}
}

func copyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = copyValue(v)
	}
	return out
}

func copyValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return copyMap(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = copyValue(e)
		}
		return out
	default:
		return v
	}
}
