package jsonschema

import "testing"

func TestValidateJSON_TypeMismatch(t *testing.T) {
	schema := String()
	err := ValidateJSON(schema, []byte("null"))
	if err == nil {
		t.Fatal("expected error")
	}
	ve, ok := err.(*ValidationError)
	if !ok {
		t.Fatalf("expected *ValidationError, got %T", err)
	}
	want := "None is not of type 'string'"
	if ve.Message != want {
		t.Errorf("message = %q, want %q", ve.Message, want)
	}
}

func TestValidateJSON_ObjectRequired(t *testing.T) {
	schema := Object(map[string]*Schema{
		"v1": Number(),
		"v2": Number(),
	}, "v1", "v2")

	if err := ValidateJSON(schema, []byte(`{"v1":1.0,"v2":2.0}`)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := ValidateJSON(schema, []byte(`{"v1":1.0}`)); err == nil {
		t.Fatal("expected missing-required error")
	}
}

func TestValidateJSON_Array(t *testing.T) {
	schema := Array(Integer())
	if err := ValidateJSON(schema, []byte(`[1,2,3]`)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := ValidateJSON(schema, []byte(`[1,"x",3]`)); err == nil {
		t.Fatal("expected element type error")
	}
}

func TestValidateJSON_Enum(t *testing.T) {
	schema := &Schema{Type: "string", Enum: []any{"a", "b"}}
	if err := ValidateJSON(schema, []byte(`"a"`)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := ValidateJSON(schema, []byte(`"c"`)); err == nil {
		t.Fatal("expected enum mismatch error")
	}
}
