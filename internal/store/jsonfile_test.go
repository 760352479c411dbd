// ABOUTME: Tests for atomic JSON file persistence.
// ABOUTME: Covers round-trips, missing files, and corrupt-file handling.

package store

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

type sample struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func TestWriteReadJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "sample.json")

	in := sample{Name: "trivy", Count: 3}
	if err := WriteJSON(path, &in); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}

	var out sample
	if err := ReadJSON(path, &out); err != nil {
		t.Fatalf("ReadJSON: %v", err)
	}
	if out != in {
		t.Errorf("round trip mismatch: got %+v, want %+v", out, in)
	}
}

func TestReadJSONMissing(t *testing.T) {
	var out sample
	err := ReadJSON(filepath.Join(t.TempDir(), "nope.json"), &out)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestReadJSONCorrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}

	var out sample
	err := ReadJSON(path, &out)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("corrupt file should report ErrNotFound, got %v", err)
	}
}

func TestWriteJSONOverwrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sample.json")

	if err := WriteJSON(path, &sample{Name: "a"}); err != nil {
		t.Fatal(err)
	}
	if err := WriteJSON(path, &sample{Name: "b"}); err != nil {
		t.Fatal(err)
	}

	var out sample
	if err := ReadJSON(path, &out); err != nil {
		t.Fatal(err)
	}
	if out.Name != "b" {
		t.Errorf("expected latest write, got %q", out.Name)
	}

	// No temp files left behind.
	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Errorf("expected 1 file in dir, got %d", len(entries))
	}
}
