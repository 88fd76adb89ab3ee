// Package packages implements the package loader (C3): it scans a
// directory tree for package manifests, discovers action entry points by
// static analysis of their Go source rather than by importing and running
// user code, generates JSON Schemas for their parameters, and persists the
// result into the store.
package packages

import "errors"

// ErrNoManifest is returned by Import when neither the given directory nor
// any of its immediate subdirectories holds a package.yaml/robot.yaml
// manifest.
var ErrNoManifest = errors.New("packages: no manifest found")

// ManagedParamKind is the closed sum type of parameter kinds injected by the
// server rather than supplied by the caller. A managed parameter is
// recognized by its Go type name and excluded from the generated input
// schema.
type ManagedParamKind string

const (
	ManagedSecret       ManagedParamKind = "secret"
	ManagedOAuth2Secret ManagedParamKind = "oauth2_secret"
	ManagedDataSource   ManagedParamKind = "data_source"
	ManagedRequest      ManagedParamKind = "request"
)

// managedParamTypes maps the Go type name a parameter must have (as written
// in its source annotation) to the managed-param kind it represents. Only
// these four are recognized; anything else is treated as caller-supplied.
var managedParamTypes = map[string]ManagedParamKind{
	"Secret":        ManagedSecret,
	"OAuth2Secret":  ManagedOAuth2Secret,
	"DataSource":    ManagedDataSource,
	"Request":       ManagedRequest,
	"*Secret":       ManagedSecret,
	"*OAuth2Secret": ManagedOAuth2Secret,
	"*DataSource":   ManagedDataSource,
	"*Request":      ManagedRequest,
}

// ManagedParam describes one managed parameter excluded from an action's
// input schema, recorded instead as metadata the runner uses to inject the
// right context field by name.
type ManagedParam struct {
	Name string           `json:"name"`
	Kind ManagedParamKind `json:"kind"`
}

// Manifest describes one discovered package directory before import.
type Manifest struct {
	Name         string   `yaml:"name"`
	DependsOn    []string `yaml:"depends_on,omitempty"`
	Directory    string   `yaml:"-"`
	ManifestFile string   `yaml:"-"`
}

// ActionSpec is one discovered action entry point, extracted by static
// analysis, ready to persist as a store.Action.
type ActionSpec struct {
	Name            string
	Kind            string // action, query, predict, tool, prompt, resource
	Docs            string
	File            string
	Lineno          int
	InputSchema     string // JSON Schema object, marshaled
	OutputSchema    string // JSON Schema object, marshaled
	IsConsequential *bool
	ManagedParams   []ManagedParam
}

// Severity of a LintWarning.
type Severity string

const (
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// LintWarning is one issue surfaced by the lint pass. It never blocks an
// import unless Severity is SeverityError and the caller did not request
// SkipLint.
type LintWarning struct {
	Action   string
	Severity Severity
	Message  string
}

// Diff summarizes one Import call: the package row touched, the actions
// inserted or updated, the actions newly disabled because they vanished
// from the scan, and any lint warnings surfaced along the way.
type Diff struct {
	PackageID     string
	PackageName   string
	UpsertedNames []string
	DisabledNames []string
	Warnings      []LintWarning
}
