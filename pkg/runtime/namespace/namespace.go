package namespace

import (
	"fmt"
	"strings"
	"sync"

	gberrors "github.com/vnykmshr/goboot/pkg/common/errors"
)

// Mode selects how a bound provider produces the leaf value.
type Mode int

const (
	// ModeEager runs the provider once, at bind time.
	ModeEager Mode = iota
	// ModeLazy runs the provider on every resolve.
	ModeLazy
	// ModeSnapshot stores a value as given. See BindValue.
	ModeSnapshot
)

func (m Mode) String() string {
	switch m {
	case ModeEager:
		return "eager"
	case ModeLazy:
		return "lazy"
	case ModeSnapshot:
		return "snapshot"
	default:
		return "unknown"
	}
}

// Kind identifies what a node holds.
type Kind int

const (
	KindBranch Kind = iota
	KindSnapshot
	KindEager
	KindLazy
)

func (k Kind) String() string {
	switch k {
	case KindBranch:
		return "branch"
	case KindSnapshot:
		return "snapshot"
	case KindEager:
		return "eager"
	case KindLazy:
		return "lazy"
	default:
		return "unknown"
	}
}

// Provider computes a leaf value.
type Provider func() (any, error)

// Static returns a provider that always yields v.
func Static(v any) Provider {
	return func() (any, error) { return v, nil }
}

// Node is one element of the tree. Branch nodes have children; the others
// are leaves.
type Node struct {
	kind     Kind
	value    any
	provider Provider

	// guarded by the owning Tree
	tree     *Tree
	children map[string]*Node
	order    []string
}

// Kind returns what the node holds.
func (n *Node) Kind() Kind { return n.kind }

// IsBranch reports whether the node has children rather than a value.
func (n *Node) IsBranch() bool { return n.kind == KindBranch }

// Children returns the child segment names in bind order.
func (n *Node) Children() []string {
	if n.tree != nil {
		n.tree.mu.RLock()
		defer n.tree.mu.RUnlock()
	}
	return append([]string(nil), n.order...)
}

// Child returns the named child of a branch.
func (n *Node) Child(name string) (*Node, bool) {
	if n.tree != nil {
		n.tree.mu.RLock()
		defer n.tree.mu.RUnlock()
	}
	c, ok := n.children[name]
	return c, ok
}

// Value returns the leaf value, running the provider of a lazy node. A
// branch yields itself.
func (n *Node) Value() (any, error) {
	switch n.kind {
	case KindBranch:
		return n, nil
	case KindLazy:
		return n.provider()
	default:
		return n.value, nil
	}
}

// Tree maps dotted paths to values. It is safe for concurrent use; providers
// run without the tree lock held.
type Tree struct {
	mu   sync.RWMutex
	root *Node
}

// New creates an empty tree.
func New() *Tree {
	t := &Tree{}
	t.root = t.newBranch()
	return t
}

func (t *Tree) newBranch() *Node {
	return &Node{kind: KindBranch, tree: t, children: make(map[string]*Node)}
}

// Split breaks a path into segments. ".", "/" and "\" all separate segments
// and empty segments are dropped.
func Split(path string) []string {
	return strings.FieldsFunc(path, func(r rune) bool {
		return r == '.' || r == '/' || r == '\\'
	})
}

// Join is the inverse of Split using ".".
func Join(segments ...string) string {
	return strings.Join(segments, ".")
}

// Bind attaches provider at path, creating intermediate branches. In
// ModeEager the provider runs now and its error is returned without binding
// anything. Binding through an existing leaf fails with ErrPathConflict; an
// existing node at path itself is replaced.
func (t *Tree) Bind(path string, provider Provider, mode Mode) error {
	if provider == nil {
		return gberrors.NewValidationError("namespace", "provider", nil, "cannot be nil")
	}

	var leaf *Node
	switch mode {
	case ModeEager:
		v, err := provider()
		if err != nil {
			return gberrors.NewOperationError("namespace", "Bind", err).WithContext(path)
		}
		leaf = &Node{kind: KindEager, value: v}
	case ModeLazy:
		leaf = &Node{kind: KindLazy, provider: provider}
	case ModeSnapshot:
		v, err := provider()
		if err != nil {
			return gberrors.NewOperationError("namespace", "Bind", err).WithContext(path)
		}
		leaf = &Node{kind: KindSnapshot, value: v}
	default:
		return gberrors.NewValidationError("namespace", "mode", mode, "unknown mode")
	}
	return t.attach(path, leaf)
}

// BindValue stores v at path as a snapshot.
func (t *Tree) BindValue(path string, v any) error {
	return t.attach(path, &Node{kind: KindSnapshot, value: v})
}

func (t *Tree) attach(path string, leaf *Node) error {
	segments := Split(path)
	if len(segments) == 0 {
		return gberrors.NewValidationError("namespace", "path", path, "must have at least one segment")
	}
	leaf.tree = t

	t.mu.Lock()
	defer t.mu.Unlock()

	parent := t.root
	for i, seg := range segments[:len(segments)-1] {
		child, ok := parent.children[seg]
		if !ok {
			child = t.newBranch()
			parent.children[seg] = child
			parent.order = append(parent.order, seg)
		} else if !child.IsBranch() {
			return fmt.Errorf("%w: %q is bound at %q", gberrors.ErrPathConflict, path, Join(segments[:i+1]...))
		}
		parent = child
	}

	name := segments[len(segments)-1]
	if _, exists := parent.children[name]; !exists {
		parent.order = append(parent.order, name)
	}
	parent.children[name] = leaf
	return nil
}

// Lookup returns the node at path. The empty path is the root.
func (t *Tree) Lookup(path string) (*Node, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	n := t.root
	for _, seg := range Split(path) {
		if !n.IsBranch() {
			return nil, false
		}
		child, ok := n.children[seg]
		if !ok {
			return nil, false
		}
		n = child
	}
	return n, true
}

// Resolve returns the value at path. A branch resolves to its *Node. Missing
// paths and failing lazy providers resolve to (nil, false); use Load to see
// the provider error.
func (t *Tree) Resolve(path string) (any, bool) {
	v, err := t.Load(path)
	if err != nil {
		return nil, false
	}
	return v, true
}

// Load is Resolve with errors: ErrNotFound for a missing path, or the
// provider's error.
func (t *Tree) Load(path string) (any, error) {
	n, ok := t.Lookup(path)
	if !ok {
		return nil, fmt.Errorf("%w: %q", gberrors.ErrNotFound, path)
	}
	v, err := n.Value()
	if err != nil {
		return nil, gberrors.NewOperationError("namespace", "Load", err).WithContext(path)
	}
	return v, nil
}

// Has reports whether path exists.
func (t *Tree) Has(path string) bool {
	_, ok := t.Lookup(path)
	return ok
}

// Unbind removes the node at path and reports whether it existed.
func (t *Tree) Unbind(path string) bool {
	segments := Split(path)
	if len(segments) == 0 {
		return false
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	parent := t.root
	for _, seg := range segments[:len(segments)-1] {
		child, ok := parent.children[seg]
		if !ok || !child.IsBranch() {
			return false
		}
		parent = child
	}
	name := segments[len(segments)-1]
	if _, ok := parent.children[name]; !ok {
		return false
	}
	delete(parent.children, name)
	for i, seg := range parent.order {
		if seg == name {
			parent.order = append(parent.order[:i], parent.order[i+1:]...)
			break
		}
	}
	return true
}

// Walk visits every leaf below path in bind order, depth first. Lazy
// providers are not run. Returning an error from fn stops the walk.
func (t *Tree) Walk(path string, fn func(path string, n *Node) error) error {
	start, ok := t.Lookup(path)
	if !ok {
		return fmt.Errorf("%w: %q", gberrors.ErrNotFound, path)
	}
	return t.walk(Split(path), start, fn)
}

func (t *Tree) walk(prefix []string, n *Node, fn func(string, *Node) error) error {
	if !n.IsBranch() {
		return fn(Join(prefix...), n)
	}
	for _, name := range n.Children() {
		child, ok := n.Child(name)
		if !ok {
			continue
		}
		next := append(append([]string(nil), prefix...), name)
		if err := t.walk(next, child, fn); err != nil {
			return err
		}
	}
	return nil
}
