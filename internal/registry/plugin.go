package registry

// Plugin is the capability set an entry's runtime binding may implement.
// It replaces the inheritance-based base class from the original engine:
// any value satisfying this interface opts into lifecycle callbacks fired
// by the Registry Core's hooks and the Hot-Swap Manager's verify phase.
type Plugin interface {
	OnLoad(entry *Entry) error
	OnUnload(entry *Entry) error
	OnEnable(entry *Entry) error
	OnDisable(entry *Entry) error
	Execute(entry *Entry, input map[string]interface{}) (map[string]interface{}, error)
}

// PluginRegistry maps entry id to its bound Plugin implementation. Binding
// is process-local: it is not persisted by the storage backend.
type PluginRegistry struct {
	bindings map[string]Plugin
}

// NewPluginRegistry returns an empty binding table.
func NewPluginRegistry() *PluginRegistry {
	return &PluginRegistry{bindings: make(map[string]Plugin)}
}

// Bind associates p with entryID.
func (r *PluginRegistry) Bind(entryID string, p Plugin) {
	r.bindings[entryID] = p
}

// Unbind removes any binding for entryID.
func (r *PluginRegistry) Unbind(entryID string) {
	delete(r.bindings, entryID)
}

// Lookup returns the bound Plugin for entryID, if any.
func (r *PluginRegistry) Lookup(entryID string) (Plugin, bool) {
	p, ok := r.bindings[entryID]
	return p, ok
}
