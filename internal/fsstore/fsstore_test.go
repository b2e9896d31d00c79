package fsstore

import (
	"errors"
	"path/filepath"
	"testing"
)

func TestBuildLockPath(t *testing.T) {
	t.Parallel()

	root := filepath.Join(t.TempDir(), ".fslocks")
	got, err := BuildLockPath(root, "meals")
	if err != nil {
		t.Fatalf("BuildLockPath() error = %v", err)
	}
	want := filepath.Join(root, "meals.lck")
	if got != want {
		t.Fatalf("BuildLockPath() = %q, want %q", got, want)
	}
}

func TestBuildLockPathInvalidKey(t *testing.T) {
	t.Parallel()

	root := filepath.Join(t.TempDir(), ".fslocks")
	invalid := []string{
		"",
		"Meals",
		"meals/today",
		".meals",
		"meals.",
		"meals today",
	}
	for _, key := range invalid {
		key := key
		t.Run(key, func(t *testing.T) {
			t.Parallel()
			_, err := BuildLockPath(root, key)
			if err == nil {
				t.Fatalf("BuildLockPath(%q) expected error", key)
			}
			if !errors.Is(err, ErrInvalidPath) {
				t.Fatalf("BuildLockPath(%q) error = %v, want ErrInvalidPath", key, err)
			}
		})
	}
}

func TestReadWriteJSONAtomic(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "pasta.json")
	type payload struct {
		Name   string `json:"name"`
		Rating int    `json:"rating"`
	}
	in := payload{Name: "pasta", Rating: 4}
	if err := WriteJSONAtomic(path, in, FileOptions{}); err != nil {
		t.Fatalf("WriteJSONAtomic() error = %v", err)
	}
	var out payload
	ok, err := ReadJSON(path, &out)
	if err != nil {
		t.Fatalf("ReadJSON() error = %v", err)
	}
	if !ok {
		t.Fatalf("ReadJSON() exists = false, want true")
	}
	if out != in {
		t.Fatalf("ReadJSON() value = %+v, want %+v", out, in)
	}
}

func TestReadJSONMissingFile(t *testing.T) {
	t.Parallel()

	var out map[string]any
	ok, err := ReadJSON(filepath.Join(t.TempDir(), "absent.json"), &out)
	if err != nil {
		t.Fatalf("ReadJSON() error = %v", err)
	}
	if ok {
		t.Fatalf("ReadJSON() exists = true for missing file")
	}
}
