package envmanager

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func writeManifest(t *testing.T, deps string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "package.yaml")
	content := "name: calculator\ndependencies:\n" + deps
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write manifest: %v", err)
	}
	return path
}

func TestHashIgnoresNonDependencyFields(t *testing.T) {
	p1 := writeManifest(t, "  python: \">=3.10\"\n")

	path2 := filepath.Join(t.TempDir(), "package.yaml")
	content := "name: renamed-calculator\ndescription: different\ndependencies:\n  python: \">=3.10\"\n"
	if err := os.WriteFile(path2, []byte(content), 0o644); err != nil {
		t.Fatalf("write manifest 2: %v", err)
	}

	h1, err := Hash(p1)
	if err != nil {
		t.Fatalf("hash 1: %v", err)
	}
	h2, err := Hash(path2)
	if err != nil {
		t.Fatalf("hash 2: %v", err)
	}
	if h1 != h2 {
		t.Fatalf("expected identical hash for identical dependency sections, got %s vs %s", h1, h2)
	}
}

func TestHashChangesWithDependencies(t *testing.T) {
	p1 := writeManifest(t, "  python: \">=3.10\"\n")
	p2 := writeManifest(t, "  python: \">=3.11\"\n")

	h1, _ := Hash(p1)
	h2, _ := Hash(p2)
	if h1 == h2 {
		t.Fatalf("expected different hashes for different dependency sections")
	}
}

func TestBuildDevModeReturnsAmbientInterpreter(t *testing.T) {
	path := writeManifest(t, "  python: \">=3.10\"\n")
	env, err := Build(context.Background(), path, true)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if env.PythonExe == "" {
		t.Fatalf("expected a python executable to be set")
	}
	if env.Hash == "" {
		t.Fatalf("expected hash to be populated")
	}
}
