package packages

import (
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestScanFindsPackageYAMLInRoot(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "package.yaml"), "name: billing\ndepends_on:\n  - requests\n")

	manifests, err := Scan(dir)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(manifests) != 1 || manifests[0].Name != "billing" {
		t.Fatalf("unexpected manifests: %+v", manifests)
	}
	if len(manifests[0].DependsOn) != 1 || manifests[0].DependsOn[0] != "requests" {
		t.Fatalf("unexpected depends_on: %+v", manifests[0].DependsOn)
	}
}

func TestScanFallsBackToLegacyRobotYAML(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "robot.yaml"), "name: legacy-pkg\n")

	manifests, err := Scan(dir)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(manifests) != 1 || manifests[0].Name != "legacy-pkg" {
		t.Fatalf("unexpected manifests: %+v", manifests)
	}
}

func TestScanFindsMultipleSubdirectoryPackages(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "billing", "package.yaml"), "name: billing\n")
	writeFile(t, filepath.Join(dir, "notifications", "package.yaml"), "name: notifications\n")

	manifests, err := Scan(dir)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(manifests) != 2 {
		t.Fatalf("expected 2 manifests, got %d", len(manifests))
	}
}

func TestScanDefaultsNameToDirectoryWhenManifestOmitsIt(t *testing.T) {
	dir := t.TempDir()
	pkgDir := filepath.Join(dir, "mypkg")
	writeFile(t, filepath.Join(pkgDir, "package.yaml"), "depends_on: []\n")

	manifests, err := Scan(dir)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(manifests) != 1 || manifests[0].Name != "mypkg" {
		t.Fatalf("unexpected manifests: %+v", manifests)
	}
}
