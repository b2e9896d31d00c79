package fsstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestWithLockRunsCriticalSection(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	lockPath, err := BuildLockPath(filepath.Join(root, ".fslocks"), "state.main")
	if err != nil {
		t.Fatalf("BuildLockPath() error = %v", err)
	}

	called := false
	err = WithLock(context.Background(), lockPath, func() error {
		called = true
		return nil
	})
	if err != nil {
		t.Fatalf("WithLock() error = %v", err)
	}
	if !called {
		t.Fatalf("WithLock() did not run critical section")
	}
}

func TestWithLockRecordsOwner(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	lockPath, err := BuildLockPath(filepath.Join(root, ".fslocks"), "meals")
	if err != nil {
		t.Fatalf("BuildLockPath() error = %v", err)
	}

	var note string
	err = WithLock(context.Background(), lockPath, func() error {
		data, readErr := os.ReadFile(lockPath)
		if readErr != nil {
			return readErr
		}
		note = string(data)
		return nil
	})
	if err != nil {
		t.Fatalf("WithLock() error = %v", err)
	}
	if !strings.HasPrefix(note, "meals.lck ") {
		t.Fatalf("lock note = %q, want prefix %q", note, "meals.lck ")
	}
	if !strings.Contains(note, fmt.Sprintf("pid=%d", os.Getpid())) {
		t.Fatalf("lock note = %q, want pid of this process", note)
	}
}
