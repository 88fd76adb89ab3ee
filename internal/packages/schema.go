package packages

import (
	"encoding/json"
	"go/ast"
	"strings"
)

// Schema is a minimal JSON Schema object: just enough of the vocabulary to
// describe an action's primitive, array, and object parameters and return
// values. Pydantic-style rules apply: a primitive Go type maps to a
// standard JSON Schema type, a named struct type becomes an object schema
// with its exported fields as properties, and a slice becomes an array
// schema over its element type.
type Schema struct {
	Type        string             `json:"type,omitempty"`
	Description string             `json:"description,omitempty"`
	Properties  map[string]*Schema `json:"properties,omitempty"`
	Items       *Schema            `json:"items,omitempty"`
	Required    []string           `json:"required,omitempty"`
}

func (s *Schema) marshal() string {
	if s == nil {
		return "{}"
	}
	data, err := json.Marshal(s)
	if err != nil {
		return "{}"
	}
	return string(data)
}

// schemaFromExpr derives a Schema from a Go type expression as written in
// an action's parameter or return type annotation. structs resolves a
// locally-defined struct type by name so its fields can be expanded into
// object properties; it is nil when the type can't be resolved locally (an
// imported type, for instance), in which case the schema degrades to a
// bare object.
func schemaFromExpr(expr ast.Expr, structs map[string]*ast.StructType) *Schema {
	switch t := expr.(type) {
	case *ast.Ident:
		return schemaFromIdent(t.Name, structs)
	case *ast.StarExpr:
		return schemaFromExpr(t.X, structs)
	case *ast.ArrayType:
		return &Schema{Type: "array", Items: schemaFromExpr(t.Elt, structs)}
	case *ast.MapType:
		return &Schema{Type: "object"}
	case *ast.SelectorExpr:
		// An imported type (time.Time, json.RawMessage, ...); treated as an
		// opaque value since its shape isn't visible to a single-file scan.
		return &Schema{}
	default:
		return &Schema{}
	}
}

func schemaFromIdent(name string, structs map[string]*ast.StructType) *Schema {
	switch name {
	case "string":
		return &Schema{Type: "string"}
	case "bool":
		return &Schema{Type: "boolean"}
	case "int", "int8", "int16", "int32", "int64",
		"uint", "uint8", "uint16", "uint32", "uint64":
		return &Schema{Type: "integer"}
	case "float32", "float64":
		return &Schema{Type: "number"}
	}
	if st, ok := structs[name]; ok {
		return schemaFromStruct(st, structs)
	}
	return &Schema{Type: "object"}
}

func schemaFromStruct(st *ast.StructType, structs map[string]*ast.StructType) *Schema {
	s := &Schema{Type: "object", Properties: map[string]*Schema{}}
	if st.Fields == nil {
		return s
	}
	for _, field := range st.Fields.List {
		if len(field.Names) == 0 {
			continue // embedded field: skip rather than guess promotion rules
		}
		fieldSchema := schemaFromExpr(field.Type, structs)
		for _, name := range field.Names {
			if !name.IsExported() {
				continue
			}
			jsonName, omitempty := jsonFieldName(field.Tag, name.Name)
			fieldSchema.Description = docText(field.Doc)
			s.Properties[jsonName] = fieldSchema
			if !omitempty {
				s.Required = append(s.Required, jsonName)
			}
		}
	}
	return s
}

// jsonFieldName reads a struct field's json tag, if any, returning the
// serialized name and whether it carries omitempty.
func jsonFieldName(tag *ast.BasicLit, fallback string) (name string, omitempty bool) {
	if tag == nil {
		return fallback, false
	}
	raw := strings.Trim(tag.Value, "`")
	jsonTag := structTagValue(raw, "json")
	if jsonTag == "" {
		return fallback, false
	}
	parts := strings.Split(jsonTag, ",")
	name = parts[0]
	if name == "" || name == "-" {
		name = fallback
	}
	for _, opt := range parts[1:] {
		if opt == "omitempty" {
			omitempty = true
		}
	}
	return name, omitempty
}

// structTagValue extracts the value of key from a raw (backtick-stripped)
// struct tag string, a small hand-rolled parser since reflect.StructTag
// only operates on a live tag, not one still embedded in source text.
func structTagValue(raw, key string) string {
	for raw != "" {
		i := 0
		for i < len(raw) && raw[i] == ' ' {
			i++
		}
		raw = raw[i:]
		if raw == "" {
			break
		}
		i = 0
		for i < len(raw) && raw[i] != ':' && raw[i] != ' ' {
			i++
		}
		name := raw[:i]
		raw = raw[i:]
		if !strings.HasPrefix(raw, ":\"") {
			break
		}
		raw = raw[2:]
		i = strings.IndexByte(raw, '"')
		if i < 0 {
			break
		}
		value := raw[:i]
		raw = raw[i+1:]
		if name == key {
			return value
		}
	}
	return ""
}

func docText(doc *ast.CommentGroup) string {
	if doc == nil {
		return ""
	}
	return strings.TrimSpace(doc.Text())
}
