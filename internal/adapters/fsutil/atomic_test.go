package fsutil

import (
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/spf13/afero"
)

func TestWriteFileAtomic(t *testing.T) {
	fs := afero.NewMemMapFs()

	if err := WriteFileAtomic(fs, "/out/a/state.json", []byte("first"), 0644); err != nil {
		t.Fatalf("WriteFileAtomic() error = %v", err)
	}
	if err := WriteFileAtomic(fs, "/out/a/state.json", []byte("second"), 0644); err != nil {
		t.Fatalf("WriteFileAtomic() overwrite error = %v", err)
	}

	got, _ := afero.ReadFile(fs, "/out/a/state.json")
	if string(got) != "second" {
		t.Errorf("content = %q, want second", got)
	}

	entries, _ := afero.ReadDir(fs, "/out/a")
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".tmp-") {
			t.Errorf("temp file %s left behind", e.Name())
		}
	}
}

func TestWriteAtomic_FailureKeepsOriginal(t *testing.T) {
	fs := afero.NewMemMapFs()
	_ = afero.WriteFile(fs, "/out/batch.jsonl", []byte("old"), 0644)

	boom := errors.New("encoder failed")
	err := WriteAtomic(fs, "/out/batch.jsonl", 0644, func(w io.Writer) error {
		_, _ = io.WriteString(w, "partial")
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("WriteAtomic() error = %v, want %v", err, boom)
	}

	got, _ := afero.ReadFile(fs, "/out/batch.jsonl")
	if string(got) != "old" {
		t.Errorf("content = %q, want old", got)
	}
	entries, _ := afero.ReadDir(fs, "/out")
	if len(entries) != 1 {
		t.Errorf("directory has %d entries, want only the original", len(entries))
	}
}

func TestMarshalJSON(t *testing.T) {
	data, err := MarshalJSON(map[string]any{"text": "Müller <b>&", "n": 1})
	if err != nil {
		t.Fatalf("MarshalJSON() error = %v", err)
	}

	s := string(data)
	if !strings.Contains(s, "Müller <b>&") {
		t.Errorf("MarshalJSON() escaped text: %s", s)
	}
	if !strings.Contains(s, "\n  \"n\": 1") {
		t.Errorf("MarshalJSON() not indented with 2 spaces: %s", s)
	}
}
