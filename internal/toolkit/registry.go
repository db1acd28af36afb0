package toolkit

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Registry maps tool names to their normalized schema and callable. Tools are
// registered during startup; Freeze makes the registry immutable, after which
// it is safe for concurrent readers without further locking discipline.
type Registry struct {
	mu     sync.RWMutex
	tools  map[string]*ToolSchema
	frozen bool
}

// NewRegistry creates an empty tool registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]*ToolSchema)}
}

// RegisterNative normalizes and registers a native Go function tool.
func (r *Registry) RegisterNative(t NativeFunction) error {
	schema, err := normalizeNative(t)
	if err != nil {
		return err
	}
	return r.add(schema)
}

// RegisterPrebuilt normalizes and registers a tool with a prebuilt schema.
func (r *Registry) RegisterPrebuilt(t PrebuiltSchema) error {
	schema, err := normalizePrebuilt(t)
	if err != nil {
		return err
	}
	return r.add(schema)
}

func (r *Registry) add(schema *ToolSchema) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen {
		return fmt.Errorf("registry is frozen: cannot register tool %s", schema.Name)
	}
	if _, exists := r.tools[schema.Name]; exists {
		return fmt.Errorf("tool %s already registered", schema.Name)
	}
	r.tools[schema.Name] = schema
	return nil
}

// Freeze marks the registry immutable. Registration attempts after Freeze
// fail. Idempotent.
func (r *Registry) Freeze() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frozen = true
}

// Get returns the schema for a tool name.
func (r *Registry) Get(name string) (*ToolSchema, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	schema, ok := r.tools[name]
	return schema, ok
}

// Names returns all registered tool names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Schemas returns the registered tool schemas sorted by name, for passing to
// the completion transport.
func (r *Registry) Schemas() []*ToolSchema {
	r.mu.RLock()
	defer r.mu.RUnlock()
	schemas := make([]*ToolSchema, 0, len(r.tools))
	for _, s := range r.tools {
		schemas = append(schemas, s)
	}
	sort.Slice(schemas, func(i, j int) bool { return schemas[i].Name < schemas[j].Name })
	return schemas
}

// Call invokes the registered callable for name. The caller is responsible
// for validation; Call does not re-check arguments.
func (r *Registry) Call(ctx context.Context, name string, args map[string]any) (string, error) {
	schema, ok := r.Get(name)
	if !ok {
		return "", fmt.Errorf("tool not registered: %s", name)
	}
	return schema.fn(ctx, args)
}
