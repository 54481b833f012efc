package alert

import (
	"fmt"
	"os"
	"sync"

	"github.com/dop251/goja"

	"github.com/coachpo/spreadwatch/internal/observability"
	"github.com/coachpo/spreadwatch/internal/schema"
)

// ScriptFilter evaluates a JavaScript predicate against each alert before
// delivery. The script must export a `filter(event)` function returning a
// truthy value to let the event through. Script errors fail open: the event
// is delivered.
type ScriptFilter struct {
	mu   sync.Mutex
	rt   *goja.Runtime
	fn   goja.Callable
	path string
}

// NewScriptFilter compiles the script at path and resolves its filter export.
func NewScriptFilter(path string) (*ScriptFilter, error) {
	source, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("alert filter: read %q: %w", path, err)
	}
	return newScriptFilter(path, string(source))
}

func newScriptFilter(name, source string) (*ScriptFilter, error) {
	prog, err := goja.Compile(name, source, true)
	if err != nil {
		return nil, fmt.Errorf("alert filter: compile %q: %w", name, err)
	}

	rt := goja.New()
	rt.SetFieldNameMapper(goja.TagFieldNameMapper("json", true))
	exports, err := runFilterModule(rt, prog)
	if err != nil {
		return nil, fmt.Errorf("alert filter: %q: %w", name, err)
	}

	value := exports.Get("filter")
	if value == nil || goja.IsUndefined(value) || goja.IsNull(value) {
		return nil, fmt.Errorf("alert filter: %q: filter export missing", name)
	}
	callable, ok := goja.AssertFunction(value)
	if !ok {
		return nil, fmt.Errorf("alert filter: %q: filter export not callable", name)
	}

	return &ScriptFilter{rt: rt, fn: callable, path: name}, nil
}

// Allow reports whether the event passes the script predicate. A nil filter
// allows everything.
func (f *ScriptFilter) Allow(event schema.AlertEvent) bool {
	if f == nil {
		return true
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	res, err := f.fn(goja.Undefined(), f.rt.ToValue(event))
	if err != nil {
		observability.Log().Error("alert filter script error",
			observability.String("script", f.path),
			observability.Err(err))
		return true
	}
	return res.ToBoolean()
}

func runFilterModule(rt *goja.Runtime, prog *goja.Program) (*goja.Object, error) {
	module := rt.NewObject()
	exports := rt.NewObject()
	if err := module.Set("exports", exports); err != nil {
		return nil, fmt.Errorf("module init: %w", err)
	}
	if err := rt.Set("exports", exports); err != nil {
		return nil, fmt.Errorf("module init: %w", err)
	}
	if err := rt.Set("module", module); err != nil {
		return nil, fmt.Errorf("module init: %w", err)
	}
	if _, err := rt.RunProgram(prog); err != nil {
		return nil, fmt.Errorf("module run: %w", err)
	}
	object := module.Get("exports").ToObject(rt)
	if object == nil {
		return nil, fmt.Errorf("module exports must be an object")
	}
	return object, nil
}
