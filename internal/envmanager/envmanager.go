// Package envmanager materializes the isolated process environment an
// action package's workers run in (C2). It delegates the heavy lifting to
// the external `rcc` tool, the same way the control-plane delegates to
// `grafana`/`kubeflow` CLIs behind typed Go wrappers: a thin client over
// os/exec, never a re-implementation of the tool's own logic.
package envmanager

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment is the subprocess environment a worker is launched with.
type Environment struct {
	PythonExe string
	Vars      map[string]string
	Hash      string
}

// EnvironmentBuildError wraps a non-zero rcc exit, carrying its stderr so
// callers can surface the real failure instead of a bare exit code.
type EnvironmentBuildError struct {
	ManifestPath string
	ExitCode     int
	Stderr       string
}

func (e *EnvironmentBuildError) Error() string {
	return fmt.Sprintf("envmanager: build failed for %s (exit %d): %s", e.ManifestPath, e.ExitCode, e.Stderr)
}

type manifest struct {
	Name         string         `yaml:"name"`
	Dependencies map[string]any `yaml:"dependencies"`
}

// Hash computes a content hash over the manifest's dependency section
// only, so edits to unrelated manifest fields (name, description) do not
// invalidate a cached environment.
func Hash(manifestPath string) (string, error) {
	raw, err := os.ReadFile(manifestPath)
	if err != nil {
		return "", fmt.Errorf("envmanager: read manifest: %w", err)
	}
	var m manifest
	if err := yaml.Unmarshal(raw, &m); err != nil {
		return "", fmt.Errorf("envmanager: parse manifest: %w", err)
	}
	depsJSON, err := json.Marshal(m.Dependencies)
	if err != nil {
		return "", fmt.Errorf("envmanager: canonicalize dependencies: %w", err)
	}
	sum := sha256.Sum256(depsJSON)
	return hex.EncodeToString(sum[:]), nil
}

// Build materializes the environment for manifestPath. In devMode it
// reuses the ambient Python interpreter and process environment with no
// subprocess — the ACTION_SERVER no-conda path. Otherwise it shells out to
// `rcc holotree variables --json <manifestPath>`, parsing its stdout as a
// flat string-to-string JSON object of environment variables.
func Build(ctx context.Context, manifestPath string, devMode bool) (Environment, error) {
	hash, err := Hash(manifestPath)
	if err != nil {
		return Environment{}, err
	}

	if devMode {
		pythonExe, err := exec.LookPath("python3")
		if err != nil {
			pythonExe = "python3"
		}
		vars := make(map[string]string)
		for _, kv := range os.Environ() {
			for i := 0; i < len(kv); i++ {
				if kv[i] == '=' {
					vars[kv[:i]] = kv[i+1:]
					break
				}
			}
		}
		return Environment{PythonExe: pythonExe, Vars: vars, Hash: hash}, nil
	}

	return buildWithRCC(ctx, manifestPath, hash)
}

func buildWithRCC(ctx context.Context, manifestPath, hash string) (Environment, error) {
	buildCtx, cancel := context.WithTimeout(ctx, 10*time.Minute)
	defer cancel()

	cmd := exec.CommandContext(buildCtx, "rcc", "holotree", "variables", "--json", manifestPath)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		exitCode := -1
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		}
		return Environment{}, &EnvironmentBuildError{
			ManifestPath: manifestPath,
			ExitCode:     exitCode,
			Stderr:       stderr.String(),
		}
	}

	var vars map[string]string
	if err := json.Unmarshal(stdout.Bytes(), &vars); err != nil {
		return Environment{}, fmt.Errorf("envmanager: parse rcc output: %w", err)
	}

	pythonExe := vars["PYTHON_EXE"]
	if pythonExe == "" {
		pythonExe = "python3"
	}
	return Environment{PythonExe: pythonExe, Vars: vars, Hash: hash}, nil
}
