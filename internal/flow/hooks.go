package flow

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
)

// HookFunc executes a side effect when its step is entered. sess is the live
// session state; the owning runtime holds its transition lock for the
// duration of the call. arg carries the parameter portion of tags of the form
// "name:arg", such as the milestone in "persist-patch:assessment".
type HookFunc func(ctx context.Context, sess *Session, arg string) error

// HookRegistry maps side effect tags to their implementations. Steps refer to
// hooks by tag so the graph stays declarative and side effect wiring stays in
// one place.
type HookRegistry struct {
	mu    sync.RWMutex
	hooks map[string]HookFunc
}

// NewHookRegistry returns an empty registry.
func NewHookRegistry() *HookRegistry {
	return &HookRegistry{hooks: make(map[string]HookFunc)}
}

// Register installs a hook under the given name. Registering the same name
// twice replaces the earlier hook.
func (r *HookRegistry) Register(name string, fn HookFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	slog.Debug("HookRegistry.Register: registering hook", "name", name)
	r.hooks[name] = fn
}

// Resolve splits a step's side effect tag into hook name and argument and
// looks the hook up. The tag "persist-patch:final" resolves the hook
// "persist-patch" with argument "final".
func (r *HookRegistry) Resolve(tag string) (HookFunc, string, error) {
	name, arg := tag, ""
	if i := strings.IndexByte(tag, ':'); i >= 0 {
		name, arg = tag[:i], tag[i+1:]
	}
	r.mu.RLock()
	fn, ok := r.hooks[name]
	r.mu.RUnlock()
	if !ok {
		return nil, "", fmt.Errorf("no hook registered for tag %q", tag)
	}
	return fn, arg, nil
}
