//go:build unix

package datapack

import (
	"os"
	"path/filepath"
	"testing"
)

func TestNewCacheSweepsDeadInstances(t *testing.T) {
	root := t.TempDir()
	live := newFixture(t, Config{RootDir: root})

	dead := filepath.Join(root, "dead-instance")
	if err := os.MkdirAll(filepath.Join(dead, "lab1"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(dead+lockSuffix, nil, 0o644); err != nil {
		t.Fatal(err)
	}

	newFixture(t, Config{RootDir: root})
	if _, err := os.Stat(dead); !os.IsNotExist(err) {
		t.Fatalf("dead instance dir should be removed")
	}
	if _, err := os.Stat(dead + lockSuffix); !os.IsNotExist(err) {
		t.Fatalf("dead instance lock should be removed")
	}
	if _, err := os.Stat(live.root); err != nil {
		t.Fatalf("live instance dir removed: %v", err)
	}
}
