package packages

import (
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// markerRe recognizes the action-kind marker comment that takes the place
// of the original's decorator: //actionserver:action, //actionserver:query,
// and so on. Any word after the prefix is captured so that a kind outside
// validKinds can be reported as a lint error.
var markerRe = regexp.MustCompile(`^actionserver:(\w+)\b`)

// consequentialRe recognizes an explicit consequential annotation,
// //actionserver:consequential or //actionserver:consequential=false.
var consequentialRe = regexp.MustCompile(`^actionserver:consequential(?:=(\w+))?`)

var validKinds = map[string]bool{
	"action": true, "query": true, "predict": true,
	"tool": true, "prompt": true, "resource": true,
}

// Discover walks every .go file directly under dir (non-recursive — one
// package directory, one Go package) and extracts every marked action
// entry point via static analysis: no user code is imported or executed.
func Discover(dir string) ([]ActionSpec, []LintWarning, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, nil, fmt.Errorf("packages: read %s: %w", dir, err)
	}

	var specs []ActionSpec
	var warnings []LintWarning
	fset := token.NewFileSet()

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".go") || strings.HasSuffix(entry.Name(), "_test.go") {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		src, err := os.ReadFile(path)
		if err != nil {
			return nil, nil, fmt.Errorf("packages: read %s: %w", path, err)
		}
		file, err := parser.ParseFile(fset, path, src, parser.ParseComments)
		if err != nil {
			return nil, nil, fmt.Errorf("packages: parse %s: %w", path, err)
		}

		structs := collectStructs(file)
		relPath := entry.Name()

		for _, decl := range file.Decls {
			fn, ok := decl.(*ast.FuncDecl)
			if !ok || fn.Recv != nil || fn.Doc == nil {
				continue
			}
			kind, docLines, consequential, found := parseMarker(fn.Doc)
			if !found {
				continue
			}
			if !validKinds[kind] {
				warnings = append(warnings, LintWarning{
					Action: fn.Name.Name, Severity: SeverityError,
					Message: fmt.Sprintf("unrecognized action kind %q", kind),
				})
				continue
			}

			spec := ActionSpec{
				Name:            fn.Name.Name,
				Kind:            kind,
				Docs:            strings.TrimSpace(strings.Join(docLines, "\n")),
				File:            relPath,
				Lineno:          fset.Position(fn.Pos()).Line,
				IsConsequential: consequential,
			}
			if spec.Docs == "" {
				warnings = append(warnings, LintWarning{
					Action: spec.Name, Severity: SeverityWarning,
					Message: "missing docstring",
				})
			}

			input, managed := inputSchema(fn, structs)
			spec.InputSchema = input.marshal()
			spec.ManagedParams = managed
			spec.OutputSchema = outputSchema(fn, structs).marshal()

			specs = append(specs, spec)
		}
	}
	return specs, warnings, nil
}

// collectStructs indexes every top-level struct type declared in file by
// name, so a parameter or return type referencing it locally can be
// expanded into an object schema.
func collectStructs(file *ast.File) map[string]*ast.StructType {
	out := map[string]*ast.StructType{}
	for _, decl := range file.Decls {
		gen, ok := decl.(*ast.GenDecl)
		if !ok || gen.Tok != token.TYPE {
			continue
		}
		for _, spec := range gen.Specs {
			ts, ok := spec.(*ast.TypeSpec)
			if !ok {
				continue
			}
			if st, ok := ts.Type.(*ast.StructType); ok {
				out[ts.Name.Name] = st
			}
		}
	}
	return out
}

// parseMarker scans a doc comment group for the actionserver:<kind> marker
// and an optional consequential annotation, returning the kind, the
// remaining (non-marker) comment lines as the docstring, and whether a
// marker was present at all.
func parseMarker(doc *ast.CommentGroup) (kind string, docLines []string, consequential *bool, found bool) {
	for _, c := range doc.List {
		line := strings.TrimSpace(strings.TrimPrefix(c.Text, "//"))
		if m := consequentialRe.FindStringSubmatch(line); m != nil {
			v := !(m[1] == "false")
			consequential = &v
			continue
		}
		if m := markerRe.FindStringSubmatch(line); m != nil {
			kind = m[1]
			found = true
			continue
		}
		if line != "" {
			docLines = append(docLines, line)
		}
	}
	return kind, docLines, consequential, found
}

// inputSchema builds the object schema for a function's parameter list,
// excluding any parameter whose type matches a managed-param kind; those
// are instead returned as metadata for the subprocess runner to inject by
// name.
func inputSchema(fn *ast.FuncDecl, structs map[string]*ast.StructType) (*Schema, []ManagedParam) {
	s := &Schema{Type: "object", Properties: map[string]*Schema{}}
	var managed []ManagedParam
	if fn.Type.Params == nil {
		return s, managed
	}
	for _, field := range fn.Type.Params.List {
		typeName := exprTypeName(field.Type)
		if kind, ok := managedParamTypes[typeName]; ok {
			for _, name := range field.Names {
				managed = append(managed, ManagedParam{Name: name.Name, Kind: kind})
			}
			continue
		}
		fieldSchema := schemaFromExpr(field.Type, structs)
		for _, name := range field.Names {
			s.Properties[name.Name] = fieldSchema
			s.Required = append(s.Required, name.Name)
		}
	}
	return s, managed
}

// outputSchema derives the schema for a function's first non-error return
// value. A function returning only an error has no meaningful result
// shape and gets a bare schema.
func outputSchema(fn *ast.FuncDecl, structs map[string]*ast.StructType) *Schema {
	if fn.Type.Results == nil {
		return &Schema{}
	}
	for _, field := range fn.Type.Results.List {
		if exprTypeName(field.Type) == "error" {
			continue
		}
		return schemaFromExpr(field.Type, structs)
	}
	return &Schema{}
}

func exprTypeName(expr ast.Expr) string {
	switch t := expr.(type) {
	case *ast.Ident:
		return t.Name
	case *ast.StarExpr:
		return "*" + exprTypeName(t.X)
	case *ast.SelectorExpr:
		return t.Sel.Name
	default:
		return ""
	}
}
