package toolkit

import (
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ValidationKind categorizes validation failures.
type ValidationKind string

const (
	// KindUnknownTool means the requested tool is not registered.
	KindUnknownTool ValidationKind = "unknown_tool"

	// KindMissingRequired means one or more required parameters are absent.
	KindMissingRequired ValidationKind = "missing_required"

	// KindEmptyRequired means a required parameter is present but null or an
	// empty string without a per-tool exception.
	KindEmptyRequired ValidationKind = "empty_required"

	// KindStructural means a tool-specific structural rule or the tool's
	// JSON schema rejected the arguments.
	KindStructural ValidationKind = "structural"
)

// ValidationError describes why a proposed tool call was rejected. It is a
// pure check result; validation has no side effects.
type ValidationError struct {
	Tool    string
	Kind    ValidationKind
	Missing []string
	Detail  string
}

func (e *ValidationError) Error() string {
	switch e.Kind {
	case KindUnknownTool:
		return fmt.Sprintf("unknown tool: %s", e.Tool)
	case KindMissingRequired:
		return fmt.Sprintf("tool %s: missing required parameters: %s", e.Tool, strings.Join(e.Missing, ", "))
	case KindEmptyRequired:
		return fmt.Sprintf("tool %s: required parameter %s is empty", e.Tool, strings.Join(e.Missing, ", "))
	default:
		return fmt.Sprintf("tool %s: invalid arguments: %s", e.Tool, e.Detail)
	}
}

// Validator checks proposed tool-call arguments against the registry's
// declared schemas. Compiled JSON schemas are cached per tool.
type Validator struct {
	registry *Registry

	mu       sync.Mutex
	compiled map[string]*jsonschema.Schema
}

// NewValidator creates a validator over the given registry.
func NewValidator(registry *Registry) *Validator {
	return &Validator{
		registry: registry,
		compiled: make(map[string]*jsonschema.Schema),
	}
}

// Validate checks args for the named tool. A nil return means the call is
// acceptable for execution.
func (v *Validator) Validate(name string, args map[string]any) *ValidationError {
	schema, ok := v.registry.Get(name)
	if !ok {
		return &ValidationError{Tool: name, Kind: KindUnknownTool}
	}

	if verr := checkPresence(schema, args); verr != nil {
		return verr
	}
	if verr := checkEmptiness(schema, args); verr != nil {
		return verr
	}
	if verr := v.checkSchema(schema, args); verr != nil {
		return verr
	}
	if verr := checkStructural(schema, args); verr != nil {
		return verr
	}
	if schema.check != nil {
		if err := schema.check(args); err != nil {
			return &ValidationError{Tool: name, Kind: KindStructural, Detail: err.Error()}
		}
	}
	return nil
}

// checkPresence collects every required parameter absent from args.
func checkPresence(schema *ToolSchema, args map[string]any) *ValidationError {
	var missing []string
	for _, name := range schema.RequiredNames() {
		if _, ok := args[name]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return &ValidationError{Tool: schema.Name, Kind: KindMissingRequired, Missing: missing}
	}
	return nil
}

// checkEmptiness rejects required parameters that are present but null or an
// empty string, honoring per-parameter AllowEmpty exceptions.
func checkEmptiness(schema *ToolSchema, args map[string]any) *ValidationError {
	for _, name := range schema.RequiredNames() {
		param := schema.Required[name]
		if param.AllowEmpty {
			continue
		}
		value, ok := args[name]
		if !ok {
			continue
		}
		if value == nil {
			return &ValidationError{Tool: schema.Name, Kind: KindEmptyRequired, Missing: []string{name}}
		}
		if s, isString := value.(string); isString && s == "" {
			return &ValidationError{Tool: schema.Name, Kind: KindEmptyRequired, Missing: []string{name}}
		}
	}
	return nil
}

// checkStructural applies declared per-parameter structural rules, currently
// the non-empty-list-of-non-empty-entries constraint.
func checkStructural(schema *ToolSchema, args map[string]any) *ValidationError {
	check := func(param Param) *ValidationError {
		if !param.NonEmptyItems {
			return nil
		}
		value, ok := args[param.Name]
		if !ok {
			return nil
		}
		items, isList := value.([]any)
		if !isList {
			return nil
		}
		if len(items) == 0 {
			return &ValidationError{
				Tool: schema.Name, Kind: KindStructural,
				Detail: fmt.Sprintf("parameter %s must be a non-empty list", param.Name),
			}
		}
		for _, item := range items {
			if s, isString := item.(string); isString && s == "" {
				return &ValidationError{
					Tool: schema.Name, Kind: KindStructural,
					Detail: fmt.Sprintf("parameter %s must not contain empty entries", param.Name),
				}
			}
		}
		return nil
	}
	for _, param := range schema.Required {
		if verr := check(param); verr != nil {
			return verr
		}
	}
	for _, param := range schema.Optional {
		if verr := check(param); verr != nil {
			return verr
		}
	}
	return nil
}

// checkSchema validates args against the tool's compiled JSON schema.
func (v *Validator) checkSchema(schema *ToolSchema, args map[string]any) *ValidationError {
	compiled, err := v.compile(schema)
	if err != nil {
		// A schema that cannot compile is a registration defect; surface it
		// as a structural failure rather than silently passing.
		return &ValidationError{Tool: schema.Name, Kind: KindStructural, Detail: err.Error()}
	}
	normalized := normalizeForSchema(args)
	if err := compiled.Validate(normalized); err != nil {
		return &ValidationError{Tool: schema.Name, Kind: KindStructural, Detail: compactSchemaError(err)}
	}
	return nil
}

func (v *Validator) compile(schema *ToolSchema) (*jsonschema.Schema, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if compiled, ok := v.compiled[schema.Name]; ok {
		return compiled, nil
	}
	compiled, err := jsonschema.CompileString(schema.Name+".json", string(schema.Raw))
	if err != nil {
		return nil, fmt.Errorf("compiling schema for %s: %w", schema.Name, err)
	}
	v.compiled[schema.Name] = compiled
	return compiled, nil
}

// normalizeForSchema rebuilds args as the generic value shapes the schema
// library expects (map[string]any with json-decoded leaves).
func normalizeForSchema(args map[string]any) any {
	out := make(map[string]any, len(args))
	for k, val := range args {
		out[k] = val
	}
	return out
}

// compactSchemaError flattens the library's multi-line validation output to a
// single line for folding back to the model.
func compactSchemaError(err error) string {
	return strings.Join(strings.Fields(err.Error()), " ")
}
