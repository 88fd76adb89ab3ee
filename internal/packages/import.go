package packages

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/marcus-qen/actionserver/internal/store"
)

// Options controls one Import call.
type Options struct {
	// SkipLint, when true, imports even if the lint pass surfaced an
	// error-severity warning. Warning-severity findings never block an
	// import regardless of this flag.
	SkipLint bool
}

// Import scans dir for a manifest and its action entry points, then
// persists the result into st: the ActionPackage row is upserted by name,
// every discovered action is upserted, and any previously known action
// absent from this scan is marked enabled=false rather than deleted, so
// Runs that reference it keep a valid foreign key.
func Import(ctx context.Context, st *store.Store, dir string, opts Options) (*Diff, error) {
	manifests, err := Scan(dir)
	if err != nil {
		return nil, err
	}
	if len(manifests) == 0 {
		m, ok, err := loadManifestDir(dir)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrNoManifest, dir)
		}
		manifests = []Manifest{m}
	}
	// Import operates on exactly one package per call; a directory holding
	// more than one manifest (e.g. Scan against a parent of several package
	// directories) is a caller error.
	if len(manifests) > 1 {
		return nil, fmt.Errorf("packages: %s contains %d package manifests, expected one", dir, len(manifests))
	}
	manifest := manifests[0]

	specs, warnings, err := Discover(manifest.Directory)
	if err != nil {
		return nil, err
	}

	if !opts.SkipLint {
		for _, w := range warnings {
			if w.Severity == SeverityError {
				return &Diff{PackageName: manifest.Name, Warnings: warnings}, fmt.Errorf(
					"packages: lint error in action %q: %s", w.Action, w.Message)
			}
		}
	}

	envJSON, err := json.Marshal(manifest.DependsOn)
	if err != nil {
		return nil, fmt.Errorf("packages: encode manifest dependencies: %w", err)
	}

	pkg := &store.ActionPackage{
		Name:            manifest.Name,
		Directory:       manifest.Directory,
		EnvironmentHash: hashDependencies(manifest.DependsOn),
		EnvJSON:         string(envJSON),
	}
	if err := st.UpsertActionPackage(ctx, pkg); err != nil {
		return nil, fmt.Errorf("packages: upsert package %s: %w", manifest.Name, err)
	}

	diff := &Diff{PackageID: pkg.ID, PackageName: pkg.Name, Warnings: warnings}
	names := make([]string, 0, len(specs))
	for _, spec := range specs {
		managedJSON, err := json.Marshal(spec.ManagedParams)
		if err != nil {
			return nil, fmt.Errorf("packages: encode managed params for %s: %w", spec.Name, err)
		}
		action := &store.Action{
			ActionPackageID: pkg.ID,
			Name:            spec.Name,
			Docs:            spec.Docs,
			File:            spec.File,
			Lineno:          spec.Lineno,
			InputSchema:     spec.InputSchema,
			OutputSchema:    spec.OutputSchema,
			Kind:            spec.Kind,
			ManagedParams:   string(managedJSON),
		}
		if spec.IsConsequential != nil {
			action.IsConsequential.Valid = true
			action.IsConsequential.Bool = *spec.IsConsequential
		}
		if err := st.UpsertAction(ctx, action); err != nil {
			return nil, fmt.Errorf("packages: upsert action %s: %w", spec.Name, err)
		}
		names = append(names, spec.Name)
		diff.UpsertedNames = append(diff.UpsertedNames, spec.Name)
	}

	previouslyEnabled, err := st.ListActions(ctx, pkg.ID)
	if err != nil {
		return nil, fmt.Errorf("packages: list existing actions for %s: %w", pkg.Name, err)
	}
	kept := make(map[string]bool, len(names))
	for _, n := range names {
		kept[n] = true
	}
	for _, a := range previouslyEnabled {
		if a.Enabled && !kept[a.Name] {
			diff.DisabledNames = append(diff.DisabledNames, a.Name)
		}
	}
	if err := st.DisableActionsNotIn(ctx, pkg.ID, names); err != nil {
		return nil, fmt.Errorf("packages: disable stale actions for %s: %w", pkg.Name, err)
	}

	return diff, nil
}

// hashDependencies computes a stable content hash of a manifest's
// dependency section, stored as the package's environment_hash. The
// environment manager (C2) computes its own hash from the manifest file
// and does not read this value.
func hashDependencies(deps []string) string {
	h := sha256.New()
	for _, d := range deps {
		h.Write([]byte(d))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}
