package packages

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// manifestNames lists the recognized manifest filenames, in preference
// order: package.yaml is current, robot.yaml is the legacy name still
// honored for packages that predate the rename.
var manifestNames = []string{"package.yaml", "robot.yaml"}

// Scan walks root looking for package directories: any directory (root
// itself, or one level of subdirectories) containing a recognized manifest
// file. It does not recurse past the first manifest it finds in a given
// subtree, mirroring one-package-per-directory layout.
func Scan(root string) ([]Manifest, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("packages: read %s: %w", root, err)
	}

	var manifests []Manifest
	if m, ok, err := loadManifestDir(root); err != nil {
		return nil, err
	} else if ok {
		manifests = append(manifests, m)
		return manifests, nil
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		dir := filepath.Join(root, entry.Name())
		m, ok, err := loadManifestDir(dir)
		if err != nil {
			return nil, err
		}
		if ok {
			manifests = append(manifests, m)
		}
	}
	return manifests, nil
}

// loadManifestDir checks dir for a recognized manifest file and, if found,
// parses it into a Manifest.
func loadManifestDir(dir string) (Manifest, bool, error) {
	for _, name := range manifestNames {
		path := filepath.Join(dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return Manifest{}, false, fmt.Errorf("packages: read manifest %s: %w", path, err)
		}

		var m Manifest
		if err := yaml.Unmarshal(data, &m); err != nil {
			return Manifest{}, false, fmt.Errorf("packages: parse manifest %s: %w", path, err)
		}
		if m.Name == "" {
			m.Name = filepath.Base(dir)
		}
		m.Directory = dir
		m.ManifestFile = path
		return m, true, nil
	}
	return Manifest{}, false, nil
}
