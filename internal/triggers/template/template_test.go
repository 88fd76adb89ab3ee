package template

import (
	"encoding/json"
	"testing"
)

func TestResolveWholeStringReferencePreservesType(t *testing.T) {
	ctx := Context{Payload: map[string]any{"amount": 42.5, "nested": map[string]any{"id": "abc"}}}

	out, err := Resolve(`{"amount":"{{payload.amount}}","id":"{{payload.nested.id}}"}`, ctx)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}

	var decoded map[string]any
	if err := json.Unmarshal(out, &decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded["amount"] != 42.5 {
		t.Fatalf("expected numeric 42.5, got %#v", decoded["amount"])
	}
	if decoded["id"] != "abc" {
		t.Fatalf("expected string abc, got %#v", decoded["id"])
	}
}

func TestResolveEmbeddedReferenceInterpolatesAsString(t *testing.T) {
	ctx := Context{
		Payload: map[string]any{"name": "Ada"},
		Meta:    map[string]any{"trigger_name": "greet"},
	}

	out, err := Resolve(`{"message":"hello {{payload.name}} from {{meta.trigger_name}}"}`, ctx)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}

	var decoded map[string]any
	if err := json.Unmarshal(out, &decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded["message"] != "hello Ada from greet" {
		t.Fatalf("unexpected message: %v", decoded["message"])
	}
}

func TestResolveMissingWholeReferenceResolvesToNull(t *testing.T) {
	ctx := Context{Payload: map[string]any{}}

	out, err := Resolve(`{"x":"{{payload.missing}}"}`, ctx)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(out, &decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded["x"] != nil {
		t.Fatalf("expected whole-reference miss to resolve to null, got %#v", decoded["x"])
	}
}

func TestResolveNestedArraysAndObjects(t *testing.T) {
	ctx := Context{Headers: map[string]any{"x-request-id": "r-1"}}

	out, err := Resolve(`{"list":[{"req":"{{headers.x-request-id}}"}]}`, ctx)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(out, &decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	list := decoded["list"].([]any)
	item := list[0].(map[string]any)
	if item["req"] != "r-1" {
		t.Fatalf("unexpected nested value: %#v", item["req"])
	}
}
