// Package builder turns the ordered trace event stream into the
// provenance graph. It owns the call-stack tracker (scope frames,
// parameter bindings, control edges) and applies the fixed per-event
// policy: data edges on reads, output edges on fresh returns, chained
// value versions on in-place mutations, external-source sentinels for
// objects first seen on a read.
package builder

import (
	"fmt"
	"path/filepath"

	"github.com/ppiankov/flowtrace/internal/event"
	"github.com/ppiankov/flowtrace/internal/graph"
	"github.com/ppiankov/flowtrace/internal/object"
)

// DefaultMaxDepth bounds tracked call nesting when no limit is given.
const DefaultMaxDepth = 64

// Options configures a Builder.
type Options struct {
	// MaxDepth bounds tracked call nesting. Calls beyond the bound are
	// still traced but not expanded into sub-operations; their events
	// attribute to the innermost tracked ancestor. <= 0 means
	// DefaultMaxDepth.
	MaxDepth int
	// Include lists qualified-name patterns to instrument. Empty
	// means everything. Patterns are exact names or "prefix.*".
	Include []string
	// Exclude lists qualified-name patterns not to expand. Exclude
	// wins over Include.
	Exclude []string
}

// binding is one name in a scope frame.
type binding struct {
	version string
	id      object.Identity
}

// frame is one scope on the tracked call stack. A frame for an
// unexpanded call carries its ancestor's operation id and own=false.
type frame struct {
	op       string
	qual     string
	own      bool
	bindings map[string]binding
}

// Builder consumes sequenced trace events and grows the graph.
// It implements event.Sink. The builder exclusively owns the graph
// and shares the registry with the event source for the session.
type Builder struct {
	g     *graph.Graph
	reg   *object.Registry
	opts  Options
	stack []*frame
	names map[string]int  // deterministic node id counters per base
	dedup map[string]bool // (operation, version) data edge dedup
	depth int             // count of expanded frames above root
	last  uint64          // highest sequence number seen
}

// New creates a builder with a root operation representing the script
// itself.
func New(script string, reg *object.Registry, opts Options) *Builder {
	if opts.MaxDepth <= 0 {
		opts.MaxDepth = DefaultMaxDepth
	}
	b := &Builder{
		g:     graph.New(script),
		reg:   reg,
		opts:  opts,
		names: make(map[string]int),
		dedup: make(map[string]bool),
	}
	rootID := b.nodeName("script")
	// The root frame does not correspond to a call event; it holds the
	// script-level scope.
	b.g.AddNode(&graph.Node{
		ID:    rootID,
		Kind:  graph.NodeOperation,
		Label: filepath.Base(script),
		Qual:  "main",
		Loc:   event.Loc{File: script},
	})
	b.g.Root = rootID
	b.stack = []*frame{{op: rootID, qual: "main", own: true, bindings: make(map[string]binding)}}
	return b
}

// Push applies one event to the graph. Implements event.Sink.
func (b *Builder) Push(e event.Event) error {
	b.last = e.Seq
	switch e.Kind {
	case event.KindCall:
		return b.pushCall(e)
	case event.KindReturn:
		return b.pushReturn(e)
	case event.KindRead:
		return b.pushRead(e)
	case event.KindWrite:
		return b.pushWrite(e)
	case event.KindMutate:
		return b.pushMutate(e)
	case event.KindDelete:
		return b.pushDelete(e)
	default:
		return fmt.Errorf("builder: unknown event kind %q at seq %d", e.Kind, e.Seq)
	}
}

// Finish closes any frames left open by an aborted run and returns
// the graph. The graph is valid after Finish even when the traced
// program failed mid-call.
func (b *Builder) Finish() *graph.Graph {
	for len(b.stack) > 0 {
		fr := b.stack[len(b.stack)-1]
		b.stack = b.stack[:len(b.stack)-1]
		if !fr.own {
			continue
		}
		if n, ok := b.g.Node(fr.op); ok && n.EndSeq == 0 {
			n.EndSeq = b.last
		}
	}
	return b.g
}

// Graph returns the graph built so far.
func (b *Builder) Graph() *graph.Graph {
	return b.g
}

func (b *Builder) top() *frame {
	return b.stack[len(b.stack)-1]
}

func (b *Builder) pushCall(e event.Event) error {
	parent := b.top()
	// Atomic calls are single primitive steps (operators, builtins);
	// collapsing one would fold its dataflow into the parent, so they
	// skip the include/exclude policy and the depth bound.
	expand := parent.own && (e.Atomic || (b.depth < b.opts.MaxDepth && b.allowed(e.Qual)))

	if !expand {
		// Attribute the callee's events to the innermost tracked
		// ancestor; argument flow still reaches the ancestor node.
		fr := &frame{op: parent.op, qual: e.Qual, bindings: make(map[string]binding)}
		for _, arg := range e.Args {
			ver, err := b.ensureVersion(arg.Value, e.Seq)
			if err != nil {
				return err
			}
			if err := b.dataEdge(ver, parent.op, arg.Name, e.Seq); err != nil {
				return err
			}
		}
		b.stack = append(b.stack, fr)
		return nil
	}

	opID := b.nodeName(e.Qual)
	if err := b.g.AddNode(&graph.Node{
		ID:       opID,
		Kind:     graph.NodeOperation,
		Label:    e.Qual,
		Qual:     e.Qual,
		Loc:      e.Loc,
		Seq:      e.Seq,
		StartSeq: e.Seq,
	}); err != nil {
		return err
	}
	if err := b.g.AddEdge(graph.Edge{Kind: graph.EdgeControl, From: parent.op, To: opID, Seq: e.Seq}); err != nil {
		return err
	}

	fr := &frame{op: opID, qual: e.Qual, own: true, bindings: make(map[string]binding)}
	for _, arg := range e.Args {
		ver, err := b.ensureVersion(arg.Value, e.Seq)
		if err != nil {
			return err
		}
		if err := b.dataEdge(ver, opID, arg.Name, e.Seq); err != nil {
			return err
		}
		fr.bindings[arg.Name] = binding{version: ver, id: arg.Value.ID}
	}
	b.stack = append(b.stack, fr)
	b.depth++
	return nil
}

func (b *Builder) pushReturn(e event.Event) error {
	if len(b.stack) < 2 {
		return fmt.Errorf("builder: return without matching call at seq %d", e.Seq)
	}
	fr := b.top()
	if fr.qual != e.Qual {
		return fmt.Errorf("builder: mismatched trace events: call %q returned as %q at seq %d",
			fr.qual, e.Qual, e.Seq)
	}
	b.stack = b.stack[:len(b.stack)-1]
	if fr.own {
		b.depth--
		if n, ok := b.g.Node(fr.op); ok {
			n.EndSeq = e.Seq
		}
	}

	if e.Value == nil {
		return nil
	}

	// A value already known to the registry is a pass-through return:
	// its producer stays whoever created it. Only a fresh value
	// becomes this operation's output.
	if _, known := b.reg.Lookup(e.Value.ID); known {
		return nil
	}
	ver, err := b.newValueNode(*e.Value, e.Seq, fr.op)
	if err != nil {
		return err
	}
	return b.g.AddEdge(graph.Edge{
		Kind: graph.EdgeOutput,
		From: fr.op,
		To:   ver,
		Name: "return",
		Seq:  e.Seq,
	})
}

func (b *Builder) pushRead(e event.Event) error {
	if e.Value == nil {
		return fmt.Errorf("builder: read without value at seq %d", e.Seq)
	}
	fr := b.top()
	ver, err := b.ensureVersion(*e.Value, e.Seq)
	if err != nil {
		return err
	}
	return b.dataEdge(ver, fr.op, e.Name, e.Seq)
}

func (b *Builder) pushWrite(e event.Event) error {
	if e.Value == nil {
		return fmt.Errorf("builder: write without value at seq %d", e.Seq)
	}
	fr := b.top()
	ver, err := b.ensureVersion(*e.Value, e.Seq)
	if err != nil {
		return err
	}
	// The producing output edge, if any, was added when the version
	// was created; rebinding a name never adds a second producer.
	fr.bindings[e.Name] = binding{version: ver, id: e.Value.ID}
	return nil
}

func (b *Builder) pushMutate(e event.Event) error {
	if e.Value == nil {
		return fmt.Errorf("builder: mutate without value at seq %d", e.Seq)
	}
	fr := b.top()

	oldVer, err := b.ensureVersion(*e.Value, e.Seq)
	if err != nil {
		return err
	}
	// The mutating operation consumes the old version...
	if err := b.dataEdge(oldVer, fr.op, e.Op, e.Seq); err != nil {
		return err
	}
	// ...and produces the new one.
	newVer, err := b.newValueNode(*e.Value, e.Seq, fr.op)
	if err != nil {
		return err
	}
	if err := b.g.AddEdge(graph.Edge{Kind: graph.EdgeOutput, From: fr.op, To: newVer, Name: e.Op, Seq: e.Seq}); err != nil {
		return err
	}
	if err := b.g.AddEdge(graph.Edge{Kind: graph.EdgeMutates, From: oldVer, To: newVer, Op: fr.op, Seq: e.Seq}); err != nil {
		return err
	}
	return b.reg.Bind(e.Value.ID, newVer)
}

func (b *Builder) pushDelete(e event.Event) error {
	fr := b.top()
	if e.Name != "" {
		delete(fr.bindings, e.Name)
	}
	// An eviction marker prunes the registry. Eviction arrives as an
	// event rather than as a builder-side decision so that replaying a
	// journal reproduces the live lookup table state exactly.
	if e.Value != nil {
		b.reg.Release(e.Value.ID)
	}
	return nil
}

// ensureVersion resolves a value to its current version, creating an
// external-source sentinel version for identities never produced in
// this session (pre-existing state, literals).
func (b *Builder) ensureVersion(v event.Value, seq uint64) (string, error) {
	if ver, ok := b.reg.Lookup(v.ID); ok {
		return ver, nil
	}
	return b.newValueNode(v, seq, "")
}

// newValueNode adds a value version node and binds it as the
// identity's current version. An empty producer marks the
// external-source sentinel.
func (b *Builder) newValueNode(v event.Value, seq uint64, producer string) (string, error) {
	base := v.Type
	if base == "" {
		base = "value"
	}
	id := b.nodeName(base)
	label := v.Type
	if v.Summary != "" {
		label = v.Type + "=" + v.Summary
	}
	n := &graph.Node{
		ID:       id,
		Kind:     graph.NodeValue,
		Label:    label,
		Type:     v.Type,
		Summary:  v.Summary,
		Owner:    v.ID,
		External: producer == "",
		Producer: producer,
		Seq:      seq,
	}
	if err := b.g.AddNode(n); err != nil {
		return "", err
	}
	if err := b.reg.Bind(v.ID, id); err != nil {
		return "", err
	}
	return id, nil
}

// dataEdge adds a data edge deduplicated per (operation, version).
func (b *Builder) dataEdge(ver, op, name string, seq uint64) error {
	key := op + "\x00" + ver
	if b.dedup[key] {
		return nil
	}
	b.dedup[key] = true
	return b.g.AddEdge(graph.Edge{Kind: graph.EdgeData, From: ver, To: op, Name: name, Seq: seq})
}

// nodeName returns a node id unique within the graph. Ids are
// deterministic across runs of the same event stream.
func (b *Builder) nodeName(base string) string {
	count := b.names[base] + 1
	b.names[base] = count
	return fmt.Sprintf("%s:%d", base, count)
}
