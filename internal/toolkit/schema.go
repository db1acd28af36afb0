// Package toolkit provides the tool registry and argument validation used by
// the orchestrator. Tools are registered once at process start, normalized
// into a uniform schema record, and looked up by name during a turn.
package toolkit

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	invopop "github.com/invopop/jsonschema"
)

// Callable is the synchronous tool entry point. It receives decoded keyword
// arguments and returns a display string. Errors (and panics, which the
// executor captures) are reported to the model as ordinary tool output.
type Callable func(ctx context.Context, args map[string]any) (string, error)

// ParamType is the coarse JSON-schema-like type of a tool parameter.
type ParamType string

const (
	TypeString  ParamType = "string"
	TypeInteger ParamType = "integer"
	TypeNumber  ParamType = "number"
	TypeBoolean ParamType = "boolean"
	TypeArray   ParamType = "array"
	TypeObject  ParamType = "object"
)

// Param declares one tool parameter.
type Param struct {
	Name        string
	Type        ParamType
	Description string

	// Items is the element type for array parameters.
	Items ParamType

	// Enum restricts string parameters to a fixed set of literals.
	Enum []string

	// AllowEmpty permits an empty string for a required parameter. Used by
	// tools where an empty value is legitimate (e.g. typing an empty string).
	AllowEmpty bool

	// NonEmptyItems requires every entry of an array parameter to be a
	// non-empty string.
	NonEmptyItems bool
}

// NativeFunction registers a Go function as a tool. The parameter schema is
// built from the declared Params, or derived from Args (a struct prototype)
// via reflection when set.
type NativeFunction struct {
	Name        string
	Description string
	Required    []Param
	Optional    []Param

	// Args, when non-nil, is a struct prototype whose JSON schema is derived
	// by reflection and used as the wire schema instead of Required/Optional.
	// Required/Optional still drive presence and emptiness checks.
	Args any

	// Check runs tool-specific structural validation beyond presence checks.
	Check func(args map[string]any) error

	Fn Callable
}

// PrebuiltSchema registers a tool with a hand-written JSON schema.
type PrebuiltSchema struct {
	Name        string
	Description string
	Schema      json.RawMessage
	Required    []Param
	Optional    []Param
	Check       func(args map[string]any) error
	Fn          Callable
}

// ToolSchema is the normalized registry record: one per tool, immutable after
// registration. Required and Optional are disjoint.
type ToolSchema struct {
	Name        string
	Description string
	Required    map[string]Param
	Optional    map[string]Param
	Raw         json.RawMessage

	check func(args map[string]any) error
	fn    Callable
}

// RequiredNames returns the required parameter names in sorted order.
func (s *ToolSchema) RequiredNames() []string {
	names := make([]string, 0, len(s.Required))
	for name := range s.Required {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func normalizeNative(t NativeFunction) (*ToolSchema, error) {
	if t.Name == "" {
		return nil, fmt.Errorf("tool name is required")
	}
	if t.Fn == nil {
		return nil, fmt.Errorf("tool %s: callable is required", t.Name)
	}
	schema := &ToolSchema{
		Name:        t.Name,
		Description: t.Description,
		Required:    paramSet(t.Required),
		Optional:    paramSet(t.Optional),
		check:       t.Check,
		fn:          t.Fn,
	}
	if err := checkDisjoint(schema); err != nil {
		return nil, err
	}

	if t.Args != nil {
		raw, err := reflectSchema(t.Args)
		if err != nil {
			return nil, fmt.Errorf("tool %s: %w", t.Name, err)
		}
		schema.Raw = raw
		return schema, nil
	}

	schema.Raw = buildObjectSchema(t.Required, t.Optional)
	return schema, nil
}

func normalizePrebuilt(t PrebuiltSchema) (*ToolSchema, error) {
	if t.Name == "" {
		return nil, fmt.Errorf("tool name is required")
	}
	if t.Fn == nil {
		return nil, fmt.Errorf("tool %s: callable is required", t.Name)
	}
	if len(t.Schema) == 0 || !json.Valid(t.Schema) {
		return nil, fmt.Errorf("tool %s: schema must be valid JSON", t.Name)
	}
	schema := &ToolSchema{
		Name:        t.Name,
		Description: t.Description,
		Required:    paramSet(t.Required),
		Optional:    paramSet(t.Optional),
		Raw:         t.Schema,
		check:       t.Check,
		fn:          t.Fn,
	}
	if err := checkDisjoint(schema); err != nil {
		return nil, err
	}
	return schema, nil
}

func paramSet(params []Param) map[string]Param {
	set := make(map[string]Param, len(params))
	for _, p := range params {
		set[p.Name] = p
	}
	return set
}

func checkDisjoint(s *ToolSchema) error {
	for name := range s.Required {
		if _, ok := s.Optional[name]; ok {
			return fmt.Errorf("tool %s: parameter %q is both required and optional", s.Name, name)
		}
	}
	return nil
}

// reflectSchema derives a JSON schema from a struct prototype.
func reflectSchema(prototype any) (json.RawMessage, error) {
	reflector := &invopop.Reflector{
		DoNotReference: true,
		ExpandedStruct: true,
	}
	schema := reflector.Reflect(prototype)
	raw, err := json.Marshal(schema)
	if err != nil {
		return nil, fmt.Errorf("reflecting schema: %w", err)
	}
	return raw, nil
}

// buildObjectSchema assembles an object schema from declared parameters.
func buildObjectSchema(required, optional []Param) json.RawMessage {
	properties := map[string]any{}
	requiredNames := make([]string, 0, len(required))
	for _, p := range required {
		properties[p.Name] = paramSchema(p)
		requiredNames = append(requiredNames, p.Name)
	}
	for _, p := range optional {
		properties[p.Name] = paramSchema(p)
	}
	sort.Strings(requiredNames)

	doc := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(requiredNames) > 0 {
		doc["required"] = requiredNames
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		// The inputs are plain maps and strings; marshaling cannot fail.
		return json.RawMessage(`{"type":"object","properties":{}}`)
	}
	return raw
}

func paramSchema(p Param) map[string]any {
	doc := map[string]any{}
	if p.Type != "" {
		doc["type"] = string(p.Type)
	}
	if p.Description != "" {
		doc["description"] = p.Description
	}
	if len(p.Enum) > 0 {
		doc["enum"] = p.Enum
	}
	if p.Type == TypeArray && p.Items != "" {
		doc["items"] = map[string]any{"type": string(p.Items)}
	}
	return doc
}
