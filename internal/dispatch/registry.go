package dispatch

import (
	"context"
	"sort"
	"strings"

	"github.com/pcbdrill/pcb-drill/internal/protocol"
)

// HandlerFunc executes one command. The returned output must be JSON
// representable.
type HandlerFunc func(ctx context.Context, args protocol.Args) (any, error)

// Method is one entry of the command table.
type Method struct {
	Name    string
	Summary string
	Func    HandlerFunc
}

// Registry is the immutable command table built at startup.
type Registry struct {
	methods map[string]Method
}

// NewRegistry builds a registry from methods. Names starting with "_" are
// private and cannot be registered.
func NewRegistry(methods ...Method) (*Registry, error) {
	r := &Registry{methods: make(map[string]Method, len(methods))}
	for _, m := range methods {
		switch {
		case m.Name == "":
			return nil, &MethodError{Name: m.Name, Reason: "empty name"}
		case strings.HasPrefix(m.Name, "_"):
			return nil, &MethodError{Name: m.Name, Reason: "private names cannot be registered"}
		case m.Func == nil:
			return nil, &MethodError{Name: m.Name, Reason: "not invocable"}
		}
		if _, dup := r.methods[m.Name]; dup {
			return nil, &MethodError{Name: m.Name, Reason: "registered twice"}
		}
		r.methods[m.Name] = m
	}
	return r, nil
}

// Lookup returns the method registered under name.
func (r *Registry) Lookup(name string) (Method, error) {
	m, ok := r.methods[name]
	if !ok {
		return Method{}, &UnknownCommandError{Command: name}
	}
	return m, nil
}

// Names returns the registered command names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.methods))
	for name := range r.methods {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Methods returns the registered methods sorted by name.
func (r *Registry) Methods() []Method {
	out := make([]Method, 0, len(r.methods))
	for _, name := range r.Names() {
		out = append(out, r.methods[name])
	}
	return out
}
