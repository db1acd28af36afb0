package toolkit

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
)

func echoTool(name string, required ...Param) NativeFunction {
	return NativeFunction{
		Name:     name,
		Required: required,
		Fn: func(ctx context.Context, args map[string]any) (string, error) {
			return name, nil
		},
	}
}

func TestRegistryRegisterAndCall(t *testing.T) {
	r := NewRegistry()
	if err := r.RegisterNative(echoTool("alpha")); err != nil {
		t.Fatal(err)
	}
	if err := r.RegisterNative(echoTool("beta")); err != nil {
		t.Fatal(err)
	}

	out, err := r.Call(context.Background(), "alpha", nil)
	if err != nil || out != "alpha" {
		t.Errorf("Call = (%q, %v)", out, err)
	}
	if _, err := r.Call(context.Background(), "gamma", nil); err == nil {
		t.Error("expected error for unregistered tool")
	}
}

func TestRegistryRejectsDuplicates(t *testing.T) {
	r := NewRegistry()
	if err := r.RegisterNative(echoTool("alpha")); err != nil {
		t.Fatal(err)
	}
	if err := r.RegisterNative(echoTool("alpha")); err == nil {
		t.Error("expected duplicate registration error")
	}
}

func TestRegistryFreeze(t *testing.T) {
	r := NewRegistry()
	if err := r.RegisterNative(echoTool("alpha")); err != nil {
		t.Fatal(err)
	}
	r.Freeze()
	r.Freeze() // idempotent
	if err := r.RegisterNative(echoTool("beta")); err == nil {
		t.Error("expected frozen registry to reject registration")
	}
	if _, ok := r.Get("alpha"); !ok {
		t.Error("existing tool lost after freeze")
	}
}

func TestRegistryRejectsInvalidDeclarations(t *testing.T) {
	r := NewRegistry()
	if err := r.RegisterNative(NativeFunction{Fn: func(context.Context, map[string]any) (string, error) { return "", nil }}); err == nil {
		t.Error("expected error for missing name")
	}
	if err := r.RegisterNative(NativeFunction{Name: "no_fn"}); err == nil {
		t.Error("expected error for missing callable")
	}
	if err := r.RegisterNative(NativeFunction{
		Name:     "overlap",
		Required: []Param{{Name: "x", Type: TypeString}},
		Optional: []Param{{Name: "x", Type: TypeString}},
		Fn:       func(context.Context, map[string]any) (string, error) { return "", nil },
	}); err == nil {
		t.Error("expected error for required/optional overlap")
	}
}

func TestRegistryNamesAndSchemasSorted(t *testing.T) {
	r := NewRegistry()
	for _, name := range []string{"zeta", "alpha", "mid"} {
		if err := r.RegisterNative(echoTool(name)); err != nil {
			t.Fatal(err)
		}
	}
	names := r.Names()
	if len(names) != 3 || names[0] != "alpha" || names[2] != "zeta" {
		t.Errorf("Names = %v", names)
	}
	schemas := r.Schemas()
	for i, want := range []string{"alpha", "mid", "zeta"} {
		if schemas[i].Name != want {
			t.Errorf("Schemas[%d] = %s, want %s", i, schemas[i].Name, want)
		}
	}
}

func TestBuildObjectSchema(t *testing.T) {
	r := NewRegistry()
	err := r.RegisterNative(NativeFunction{
		Name: "lookup",
		Required: []Param{
			{Name: "query", Type: TypeString, Description: "search terms"},
		},
		Optional: []Param{
			{Name: "limit", Type: TypeInteger},
			{Name: "sort", Type: TypeString, Enum: []string{"hot", "new"}},
			{Name: "tags", Type: TypeArray, Items: TypeString},
		},
		Fn: func(context.Context, map[string]any) (string, error) { return "", nil },
	})
	if err != nil {
		t.Fatal(err)
	}

	schema, _ := r.Get("lookup")
	var doc struct {
		Type       string         `json:"type"`
		Properties map[string]any `json:"properties"`
		Required   []string       `json:"required"`
	}
	if err := json.Unmarshal(schema.Raw, &doc); err != nil {
		t.Fatalf("Raw schema is not valid JSON: %v", err)
	}
	if doc.Type != "object" {
		t.Errorf("type = %s", doc.Type)
	}
	if len(doc.Required) != 1 || doc.Required[0] != "query" {
		t.Errorf("required = %v", doc.Required)
	}
	for _, name := range []string{"query", "limit", "sort", "tags"} {
		if _, ok := doc.Properties[name]; !ok {
			t.Errorf("property %s missing from schema", name)
		}
	}
	tags := doc.Properties["tags"].(map[string]any)
	if items, ok := tags["items"].(map[string]any); !ok || items["type"] != "string" {
		t.Errorf("tags items = %v", tags["items"])
	}
}

func TestReflectedSchemaFromPrototype(t *testing.T) {
	type searchArgs struct {
		Query string `json:"query" jsonschema:"description=search terms"`
		Limit int    `json:"limit,omitempty"`
	}
	r := NewRegistry()
	err := r.RegisterNative(NativeFunction{
		Name:     "search",
		Args:     searchArgs{},
		Required: []Param{{Name: "query", Type: TypeString}},
		Fn:       func(context.Context, map[string]any) (string, error) { return "", nil },
	})
	if err != nil {
		t.Fatal(err)
	}
	schema, _ := r.Get("search")
	if !strings.Contains(string(schema.Raw), `"query"`) {
		t.Errorf("reflected schema missing query: %s", schema.Raw)
	}
	if !json.Valid(schema.Raw) {
		t.Error("reflected schema is not valid JSON")
	}
}

func TestRegisterPrebuilt(t *testing.T) {
	r := NewRegistry()
	err := r.RegisterPrebuilt(PrebuiltSchema{
		Name:     "custom",
		Schema:   json.RawMessage(`{"type":"object","properties":{"x":{"type":"string"}},"required":["x"]}`),
		Required: []Param{{Name: "x", Type: TypeString}},
		Fn:       func(context.Context, map[string]any) (string, error) { return "ok", nil },
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := r.RegisterPrebuilt(PrebuiltSchema{
		Name:   "broken",
		Schema: json.RawMessage(`{not json`),
		Fn:     func(context.Context, map[string]any) (string, error) { return "", nil },
	}); err == nil {
		t.Error("expected invalid schema rejection")
	}
}
