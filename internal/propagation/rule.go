package propagation

import (
	"fmt"

	"github.com/dop251/goja"

	"github.com/R3E-Network/universal-registry/internal/registry"
)

// TargetFilter restricts which downstream entries a rule's effects apply to.
type TargetFilter struct {
	Category registry.Category
	Facets   map[string][]string
}

// Rule is a declarative, side-effect-free hop transformation. When and
// Transform are small JavaScript snippets evaluated by goja against the
// incoming payload and the hop's entry.
type Rule struct {
	When         string            // JS boolean expression; empty means "always"
	Transform    map[string]string // field -> JS expression producing the new value
	TargetFilter *TargetFilter
}

// evalContext builds an isolated goja runtime with `payload` and `entry`
// bound, mirroring the sandboxing pattern used elsewhere in this tree for
// evaluating small, trusted JS snippets.
func evalContext(payload map[string]interface{}, entry *registry.Entry) (*goja.Runtime, error) {
	vm := goja.New()
	if err := vm.Set("payload", payload); err != nil {
		return nil, fmt.Errorf("propagation: bind payload: %w", err)
	}
	entryView := map[string]interface{}{
		"id":        entry.ID,
		"namespace": entry.Namespace,
		"name":      entry.Name,
		"category":  string(entry.Category),
		"status":    string(entry.Status),
	}
	if err := vm.Set("entry", entryView); err != nil {
		return nil, fmt.Errorf("propagation: bind entry: %w", err)
	}
	return vm, nil
}

// Matches reports whether the rule's predicate accepts (payload, entry).
func (r Rule) Matches(payload map[string]interface{}, entry *registry.Entry) (bool, error) {
	if r.When == "" {
		return true, nil
	}
	vm, err := evalContext(payload, entry)
	if err != nil {
		return false, err
	}
	val, err := vm.RunString(r.When)
	if err != nil {
		return false, fmt.Errorf("propagation: evaluate rule.when: %w", err)
	}
	return val.ToBoolean(), nil
}

// Apply evaluates the rule's transform expressions and returns a new payload
// with the computed fields overlaid onto a copy of the input.
func (r Rule) Apply(payload map[string]interface{}, entry *registry.Entry) (map[string]interface{}, error) {
	out := make(map[string]interface{}, len(payload)+len(r.Transform))
	for k, v := range payload {
		out[k] = v
	}
	if len(r.Transform) == 0 {
		return out, nil
	}
	vm, err := evalContext(payload, entry)
	if err != nil {
		return nil, err
	}
	for field, expr := range r.Transform {
		val, err := vm.RunString(expr)
		if err != nil {
			return nil, fmt.Errorf("propagation: evaluate transform[%s]: %w", field, err)
		}
		out[field] = val.Export()
	}
	return out, nil
}

// matchesTargetFilter reports whether target passes the rule's downstream
// recipient restriction, if any.
func matchesTargetFilter(tf *TargetFilter, target *registry.Entry) bool {
	if tf == nil {
		return true
	}
	if tf.Category != "" && target.Category != tf.Category {
		return false
	}
	if len(tf.Facets) == 0 {
		return true
	}
	facetMap, _ := target.Config["facets"].(map[string]interface{})
	for key, wanted := range tf.Facets {
		raw, ok := facetMap[key]
		if !ok {
			return false
		}
		vals, _ := raw.([]interface{})
		found := false
		for _, v := range vals {
			for _, w := range wanted {
				if v == w {
					found = true
				}
			}
		}
		if !found {
			return false
		}
	}
	return true
}
