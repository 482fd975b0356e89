// Package expr implements the small formula language used by user-defined
// columns and filters.
//
// Expressions are parsed into an AST once and memoized by their exact
// source text. The language has arithmetic, comparison, boolean and
// ternary operators, member and index access, and a fixed function library;
// there are no loops, assignments or user-defined functions, so every
// evaluation terminates.
package expr

import (
	"fmt"
	"sync"
)

// Cache memoizes compiled programs by source text. Compile errors are
// memoized as well, so a bad expression is parsed only once.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]compiled
}

type compiled struct {
	prog *Program
	err  error
}

// NewCache creates an empty compile cache.
func NewCache() *Cache {
	return &Cache{entries: make(map[string]compiled)}
}

// Compile returns the program for src, parsing it on first use.
func (c *Cache) Compile(src string) (*Program, error) {
	c.mu.RLock()
	e, ok := c.entries[src]
	c.mu.RUnlock()
	if ok {
		return e.prog, e.err
	}

	prog, err := Parse(src)
	c.mu.Lock()
	if prev, ok := c.entries[src]; ok {
		c.mu.Unlock()
		return prev.prog, prev.err
	}
	c.entries[src] = compiled{prog: prog, err: err}
	c.mu.Unlock()
	return prog, err
}

// Len returns the number of distinct source strings seen.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

var defaultCache = NewCache()

// Compile compiles src using the process-wide cache.
func Compile(src string) (*Program, error) {
	return defaultCache.Compile(src)
}

// Parse compiles src without consulting any cache.
func Parse(src string) (*Program, error) {
	root, err := parse(src)
	if err != nil {
		return nil, fmt.Errorf("compiling %q: %w", src, err)
	}
	return &Program{Source: src, root: root}, nil
}

// ---------------------------------------------------------------------------
// Introspection
// ---------------------------------------------------------------------------

// StringArgs returns the distinct string literals passed as argument argIdx
// to calls of the named function. It lets callers discover, for example,
// which intervals an expression reads through timeseries().
func (p *Program) StringArgs(fn string, argIdx int) []string {
	seen := make(map[string]bool)
	var out []string
	walk(p.root, func(n node) {
		c, ok := n.(call)
		if !ok || argIdx >= len(c.args) {
			return
		}
		if id, ok := c.fn.(ident); !ok || id.name != fn {
			return
		}
		if lit, ok := c.args[argIdx].(literal); ok {
			if s, ok := lit.value.(string); ok && !seen[s] {
				seen[s] = true
				out = append(out, s)
			}
		}
	})
	return out
}

// References returns the distinct member names accessed on the named
// namespace identifier, e.g. References("columns") for "columns.roi > 1"
// yields ["roi"].
func (p *Program) References(namespace string) []string {
	seen := make(map[string]bool)
	var out []string
	add := func(name string) {
		if !seen[name] {
			seen[name] = true
			out = append(out, name)
		}
	}
	walk(p.root, func(n node) {
		switch n := n.(type) {
		case member:
			if id, ok := n.obj.(ident); ok && id.name == namespace {
				add(n.name)
			}
		case index:
			if id, ok := n.obj.(ident); ok && id.name == namespace {
				if lit, ok := n.key.(literal); ok {
					if s, ok := lit.value.(string); ok {
						add(s)
					}
				}
			}
		}
	})
	return out
}

func walk(n node, visit func(node)) {
	visit(n)
	switch n := n.(type) {
	case member:
		walk(n.obj, visit)
	case index:
		walk(n.obj, visit)
		walk(n.key, visit)
	case call:
		walk(n.fn, visit)
		for _, a := range n.args {
			walk(a, visit)
		}
	case unary:
		walk(n.x, visit)
	case binary:
		walk(n.l, visit)
		walk(n.r, visit)
	case conditional:
		walk(n.cond, visit)
		walk(n.then, visit)
		walk(n.els, visit)
	}
}
