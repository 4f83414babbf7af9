package registry

// HookPoint names a point in the CRUD lifecycle at which hooks run.
type HookPoint string

const (
	BeforeRegister HookPoint = "before_register"
	AfterRegister  HookPoint = "after_register"
	BeforeUpdate   HookPoint = "before_update"
	AfterUpdate    HookPoint = "after_update"
	BeforeDelete   HookPoint = "before_delete"
	AfterDelete    HookPoint = "after_delete"
)

// Hook is invoked with the entry under mutation. Returning an error from a
// before_* hook aborts the operation; errors from after_* hooks are logged
// and swallowed.
type Hook func(entry *Entry) error

type hookRegistry struct {
	hooks map[HookPoint][]Hook
}

func newHookRegistry() *hookRegistry {
	return &hookRegistry{hooks: make(map[HookPoint][]Hook)}
}

// On registers fn to run at point, in registration order.
func (h *hookRegistry) On(point HookPoint, fn Hook) {
	h.hooks[point] = append(h.hooks[point], fn)
}

func (h *hookRegistry) run(point HookPoint, entry *Entry) error {
	for _, fn := range h.hooks[point] {
		if err := fn(entry); err != nil {
			return err
		}
	}
	return nil
}

// runAfter runs after_* hooks, returning the first error encountered (for
// logging) rather than aborting the remaining hooks.
func (h *hookRegistry) runAfter(point HookPoint, entry *Entry) error {
	var first error
	for _, fn := range h.hooks[point] {
		if err := fn(entry); err != nil && first == nil {
			first = err
		}
	}
	return first
}
