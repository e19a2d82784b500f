// Package tools implements the registry of invocable tools agents may
// call by name: built-in infrastructure tools (kubectl, ssh, sql, http),
// MCP-bridged tools, and anything else a runtime wires in. Registration
// is idempotent on an exact match and rejected on mismatch. Invocation
// can optionally be mediated by a capability check against the caller's
// granted permissions before the underlying tool runs.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"sync"

	"github.com/toka-systems/toka/internal/provider"
	"github.com/toka-systems/toka/internal/types"
)

// Tool is anything invocable by name with JSON-schema-shaped parameters.
type Tool interface {
	Name() string
	Description() string
	Parameters() map[string]interface{}
	Execute(ctx context.Context, args map[string]interface{}) (string, error)
}

// SideEffect classifies what invoking a tool can do to the world. It
// composes with ClassifiableTool's finer-grained ActionTier: SideEffect
// is the coarse, always-available default; ActionTier is the precise
// per-call classification a tool can opt into reporting.
type SideEffect string

const (
	SideEffectNone       SideEffect = "none"
	SideEffectReadOnly   SideEffect = "read_only"
	SideEffectExternal   SideEffect = "external"
	SideEffectPrivileged SideEffect = "privileged"
)

// CapabilityGatedTool is implemented by tools that declare the
// capability strings a caller must hold before Execute runs. A Tool
// that doesn't implement this interface defaults to requiring
// "tool:<name>", so every registered tool is capability-gated one way
// or another.
type CapabilityGatedTool interface {
	Tool
	RequiredCapabilities() []string
	SideEffects() SideEffect
}

func requiredCapabilitiesFor(tool Tool) map[string]struct{} {
	if gated, ok := tool.(CapabilityGatedTool); ok {
		out := make(map[string]struct{}, len(gated.RequiredCapabilities()))
		for _, c := range gated.RequiredCapabilities() {
			out[c] = struct{}{}
		}
		return out
	}
	return map[string]struct{}{"tool:" + tool.Name(): {}}
}

// Registry holds every tool available to agent runs in a process.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry constructs an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// equivalentTools reports whether two tools registered under the same
// name describe an identical contract: same description and parameter
// schema. Differing Execute closures are fine — only the externally
// visible contract has to match for Register to treat it as a no-op.
func equivalentTools(a, b Tool) bool {
	return a.Description() == b.Description() &&
		reflect.DeepEqual(a.Parameters(), b.Parameters())
}

// Register adds tool under tool.Name(). If a tool is already registered
// under that name, Register succeeds as a no-op when the new
// registration is an exact match, and fails with types.ErrToolMismatch
// otherwise.
func (r *Registry) Register(tool Tool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.tools[tool.Name()]
	if !ok {
		r.tools[tool.Name()] = tool
		return nil
	}
	if equivalentTools(existing, tool) {
		return nil
	}
	return fmt.Errorf("%w: %s", types.ErrToolMismatch, tool.Name())
}

// Get looks up a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// List returns every registered tool name.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	return names
}

// Definitions renders every registered tool as a provider-facing tool
// definition, for inclusion in a completion request.
func (r *Registry) Definitions() []provider.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]provider.ToolDefinition, 0, len(r.tools))
	for _, t := range r.tools {
		defs = append(defs, provider.ToolDefinition{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.Parameters(),
		})
	}
	return defs
}

// Execute invokes a registered tool by name without a capability check.
// This is the unmediated path used by runtimes that perform their own
// authorization upstream of the registry.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]interface{}) (string, error) {
	tool, ok := r.Get(name)
	if !ok {
		return "", fmt.Errorf("%w: %s", types.ErrToolNotFound, name)
	}
	return tool.Execute(ctx, args)
}

// ExecuteWithCapabilities invokes a registered tool after validating
// args against its parameter schema and checking grantedPermissions
// against its required capabilities.
func (r *Registry) ExecuteWithCapabilities(ctx context.Context, name string, args map[string]interface{}, grantedPermissions map[string]struct{}) (string, error) {
	tool, ok := r.Get(name)
	if !ok {
		return "", fmt.Errorf("%w: %s", types.ErrToolNotFound, name)
	}

	if err := validateSchema(tool.Parameters(), args); err != nil {
		return "", fmt.Errorf("%w: %v", types.ErrSchemaViolation, err)
	}

	for required := range requiredCapabilitiesFor(tool) {
		if _, granted := grantedPermissions[required]; !granted {
			return "", fmt.Errorf("%w: missing %q", types.ErrToolCapabilityDenied, required)
		}
	}

	result, err := tool.Execute(ctx, args)
	if err != nil {
		return "", fmt.Errorf("%w: %v", types.ErrInvokerFailure, err)
	}
	return result, nil
}

// validateSchema performs a minimal JSON-Schema-shaped check: every name
// in schema's "required" list must be present in args, and the type of
// each present property (when the schema names one) must match. No full
// JSON-Schema validator is wired in since none appears in the retrieval
// pack; this mirrors the depth of parameter checking the built-in tools
// already do by hand in their own Execute methods.
func validateSchema(schema map[string]interface{}, args map[string]interface{}) error {
	if schema == nil {
		return nil
	}
	if required, ok := schema["required"].([]string); ok {
		for _, field := range required {
			if _, present := args[field]; !present {
				return fmt.Errorf("missing required field %q", field)
			}
		}
	} else if requiredAny, ok := schema["required"].([]interface{}); ok {
		for _, f := range requiredAny {
			field, _ := f.(string)
			if _, present := args[field]; !present {
				return fmt.Errorf("missing required field %q", field)
			}
		}
	}

	properties, _ := schema["properties"].(map[string]interface{})
	for field, rawProp := range properties {
		val, present := args[field]
		if !present {
			continue
		}
		propMap, ok := rawProp.(map[string]interface{})
		if !ok {
			continue
		}
		wantType, _ := propMap["type"].(string)
		if wantType == "" {
			continue
		}
		if !matchesJSONType(val, wantType) {
			return fmt.Errorf("field %q: expected %s", field, wantType)
		}
	}
	return nil
}

// validateOutputSchema checks that result is well-formed JSON when the
// schema declares a structured output shape.
func validateOutputSchema(schema map[string]interface{}, result string) error {
	if schema == nil {
		return nil
	}
	if schema["type"] == "json" {
		var v interface{}
		if err := json.Unmarshal([]byte(result), &v); err != nil {
			return fmt.Errorf("output is not valid JSON: %w", err)
		}
	}
	return nil
}

func matchesJSONType(val interface{}, want string) bool {
	switch want {
	case "string":
		_, ok := val.(string)
		return ok
	case "number", "integer":
		switch val.(type) {
		case float64, int, int32, int64:
			return true
		}
		return false
	case "bool", "boolean":
		_, ok := val.(bool)
		return ok
	case "object":
		_, ok := val.(map[string]interface{})
		return ok
	case "array":
		_, ok := val.([]interface{})
		return ok
	default:
		return true
	}
}

// ExtractTarget builds a best-effort human-readable target string from a
// tool call's arguments, used for audit logging and guardrail
// classification before the registry mediates the call.
func ExtractTarget(toolName string, args map[string]interface{}) string {
	switch {
	case toolName == "kubectl" || len(toolName) > 8 && toolName[:8] == "kubectl.":
		if resource, ok := args["resource"].(string); ok {
			target := resource
			if ns, ok := args["namespace"].(string); ok && ns != "" {
				target += " -n " + ns
			}
			if name, ok := args["name"].(string); ok && name != "" {
				target += " " + name
			}
			return target
		}
	case toolName == "http" || len(toolName) > 5 && toolName[:5] == "http.":
		if url, ok := args["url"].(string); ok {
			return url
		}
	case len(toolName) > 4 && toolName[:4] == "mcp.":
		if target, ok := args["target"].(string); ok {
			return target
		}
	}
	if target, ok := args["target"].(string); ok {
		return target
	}
	return fmt.Sprintf("%v", args)
}
