package interceptors

import (
	"context"
	"sync"
)

// groupKey keys a group's depth inside a context
type groupKey struct {
	name string
}

var groups sync.Map

// Group coordinates interceptors that observe the same logical resource.
// Depth is tracked per call chain: it lives in the context handed down to nested
// calls, so concurrent goroutines never observe each other's depth.
type Group struct {
	name string
}

// GroupFor returns the process-wide group with the given name
func GroupFor(name string) *Group {
	if g, ok := groups.Load(name); ok {
		return g.(*Group)
	}
	g, _ := groups.LoadOrStore(name, &Group{name: name})
	return g.(*Group)
}

// Name returns the group name
func (g *Group) Name() string {
	return g.name
}

// Depth returns the group's nesting depth in the call chain of ctx
func (g *Group) Depth(ctx context.Context) int {
	if ctx == nil {
		return 0
	}
	depth, _ := ctx.Value(groupKey{name: g.name}).(int)
	return depth
}

// Enter registers an entry into the group under policy. The returned context
// carries the new depth and must be used for the guarded call; the frame
// tells whether the entry and the matching exit fire.
func (g *Group) Enter(ctx context.Context, policy ExecutionPolicy) (context.Context, Frame) {
	if ctx == nil {
		ctx = context.Background()
	}

	depth := g.Depth(ctx)
	switch policy {
	case PolicyAlways:
		return context.WithValue(ctx, groupKey{name: g.name}, depth+1), Frame{group: g, depth: depth, fire: true}
	case PolicyBoundary:
		return context.WithValue(ctx, groupKey{name: g.name}, depth+1), Frame{group: g, depth: depth, fire: depth == 0}
	default:
		return ctx, Frame{depth: depth, fire: true}
	}
}

// Frame records one entry into a group
type Frame struct {
	group *Group
	depth int
	fire  bool
}

// Fires reports whether the hooks of this entry run. An exit fires exactly
// when its entry did: leaving the frame brings the depth back to the value
// observed on entry, which is zero for the outermost boundary call.
func (f Frame) Fires() bool {
	return f.fire
}

// Depth returns the group depth observed on entry
func (f Frame) Depth() int {
	return f.depth
}

// Participates reports whether the entry counted toward the group depth
func (f Frame) Participates() bool {
	return f.group != nil
}
