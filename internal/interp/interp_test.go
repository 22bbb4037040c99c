package interp

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/ppiankov/flowtrace/internal/event"
	"github.com/ppiankov/flowtrace/internal/inspect"
	"github.com/ppiankov/flowtrace/internal/object"
)

type captureSink struct {
	events []event.Event
}

func (c *captureSink) Push(e event.Event) error {
	c.events = append(c.events, e)
	return nil
}

func writeScript(t *testing.T, src string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "script.go")
	if err := os.WriteFile(path, []byte(src), 0o644); err != nil {
		t.Fatalf("write script: %v", err)
	}
	return path
}

func newInterp(t *testing.T) (*Interp, *captureSink, *object.Registry) {
	t.Helper()
	reg := object.NewRegistry()
	sink := &captureSink{}
	it := New(reg, event.NewTracer(sink), inspect.New())
	it.SetOutput(&bytes.Buffer{})
	return it, sink, reg
}

func run(t *testing.T, src string) (*captureSink, error) {
	t.Helper()
	it, sink, _ := newInterp(t)
	if err := it.Load(writeScript(t, src)); err != nil {
		t.Fatalf("load: %v", err)
	}
	return sink, it.Run()
}

func mustRun(t *testing.T, src string) *captureSink {
	t.Helper()
	sink, err := run(t, src)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	return sink
}

func byKind(events []event.Event, kind event.Kind) []event.Event {
	var out []event.Event
	for _, e := range events {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

func TestAssignmentEvents(t *testing.T) {
	sink := mustRun(t, `package main

func main() {
	x := 1
	y := x
}
`)
	writes := byKind(sink.events, event.KindWrite)
	if len(writes) != 2 {
		t.Fatalf("expected 2 write events, got %d", len(writes))
	}
	if writes[0].Name != "x" || writes[1].Name != "y" {
		t.Errorf("expected writes to x then y, got %q then %q", writes[0].Name, writes[1].Name)
	}
	if !writes[0].Value.Literal {
		t.Error("expected first write to carry a literal")
	}

	reads := byKind(sink.events, event.KindRead)
	if len(reads) != 1 {
		t.Fatalf("expected 1 read event, got %d", len(reads))
	}
	if reads[0].Name != "x" {
		t.Errorf("expected read of x, got %q", reads[0].Name)
	}
	// All three events carry the same identity: y aliases x.
	if writes[0].Value.ID != reads[0].Value.ID || reads[0].Value.ID != writes[1].Value.ID {
		t.Error("expected one identity across write, read, write")
	}
}

func TestSequenceNumbersStrictlyIncrease(t *testing.T) {
	sink := mustRun(t, `package main

func main() {
	x := 1 + 2
	x = x * 3
}
`)
	var last uint64
	for _, e := range sink.events {
		if e.Seq <= last {
			t.Fatalf("sequence not strictly increasing: %d after %d", e.Seq, last)
		}
		last = e.Seq
	}
}

func TestUserCallEvents(t *testing.T) {
	sink := mustRun(t, `package main

func double(a any) any {
	return a + a
}

func main() {
	r := double(3)
}
`)
	calls := byKind(sink.events, event.KindCall)
	var userCall *event.Event
	for i := range calls {
		if calls[i].Qual == "main.double" {
			userCall = &calls[i]
		}
	}
	if userCall == nil {
		t.Fatal("expected a call event for main.double")
	}
	if userCall.Atomic {
		t.Error("expected user call to not be atomic")
	}
	if len(userCall.Args) != 1 || userCall.Args[0].Name != "a" {
		t.Fatalf("expected one argument named a, got %+v", userCall.Args)
	}
	if userCall.Args[0].Value.Summary != "3" {
		t.Errorf("expected argument summary 3, got %q", userCall.Args[0].Value.Summary)
	}

	returns := byKind(sink.events, event.KindReturn)
	var userRet *event.Event
	for i := range returns {
		if returns[i].Qual == "main.double" {
			userRet = &returns[i]
		}
	}
	if userRet == nil {
		t.Fatal("expected a return event for main.double")
	}
	if userRet.Value == nil || userRet.Value.Summary != "6" {
		t.Fatalf("expected return of 6, got %+v", userRet.Value)
	}

	// The returned value flows unchanged into the caller's binding.
	writes := byKind(sink.events, event.KindWrite)
	if len(writes) == 0 || writes[len(writes)-1].Value.ID != userRet.Value.ID {
		t.Error("expected binding of r to carry the returned identity")
	}
}

func TestOperatorsAreAtomicCalls(t *testing.T) {
	sink := mustRun(t, `package main

func main() {
	x := 2 + 3
}
`)
	calls := byKind(sink.events, event.KindCall)
	if len(calls) != 1 {
		t.Fatalf("expected 1 call event, got %d", len(calls))
	}
	if calls[0].Qual != "builtin.add" || !calls[0].Atomic {
		t.Errorf("expected atomic builtin.add, got %q atomic=%t", calls[0].Qual, calls[0].Atomic)
	}
	if len(calls[0].Args) != 2 {
		t.Fatalf("expected 2 arguments, got %d", len(calls[0].Args))
	}
	for _, arg := range calls[0].Args {
		if !arg.Value.Literal {
			t.Errorf("expected argument %s to be a literal", arg.Name)
		}
	}
}

func TestMutationEvents(t *testing.T) {
	sink := mustRun(t, `package main

func main() {
	x := list()
	x.append(1)
}
`)
	mutates := byKind(sink.events, event.KindMutate)
	if len(mutates) != 1 {
		t.Fatalf("expected 1 mutate event, got %d", len(mutates))
	}
	if mutates[0].Op != "append" {
		t.Errorf("expected op append, got %q", mutates[0].Op)
	}

	writes := byKind(sink.events, event.KindWrite)
	if len(writes) != 1 {
		t.Fatalf("expected 1 write event, got %d", len(writes))
	}
	if mutates[0].Value.ID != writes[0].Value.ID {
		t.Error("expected mutate to target the identity bound to x")
	}

	// The mutate lands inside the append call span.
	var callSeq, retSeq uint64
	for _, e := range sink.events {
		if e.Qual == "builtin.append" {
			if e.Kind == event.KindCall {
				callSeq = e.Seq
			} else {
				retSeq = e.Seq
			}
		}
	}
	if !(callSeq < mutates[0].Seq && mutates[0].Seq < retSeq) {
		t.Errorf("expected mutate between call %d and return %d, got %d", callSeq, retSeq, mutates[0].Seq)
	}
}

func TestUnbindEmitsDelete(t *testing.T) {
	sink := mustRun(t, `package main

func main() {
	x := list()
	unbind(x)
}
`)
	deletes := byKind(sink.events, event.KindDelete)
	if len(deletes) < 2 {
		t.Fatalf("expected binding removal plus eviction, got %d delete events", len(deletes))
	}
	if deletes[0].Name != "x" {
		t.Errorf("expected first delete to name x, got %q", deletes[0].Name)
	}
	if deletes[1].Value == nil {
		t.Error("expected eviction delete to carry the identity")
	}
}

func TestUnreachableTemporariesEvicted(t *testing.T) {
	sink := mustRun(t, `package main

func main() {
	str(42)
	x := 1
}
`)
	// The str result is never bound; it must be evicted before the
	// next statement runs.
	var strRet, firstDelete, write uint64
	for _, e := range sink.events {
		switch {
		case e.Kind == event.KindReturn && e.Qual == "builtin.str":
			strRet = e.Seq
		case e.Kind == event.KindDelete && firstDelete == 0:
			firstDelete = e.Seq
		case e.Kind == event.KindWrite:
			write = e.Seq
		}
	}
	if firstDelete == 0 {
		t.Fatal("expected an eviction delete event")
	}
	if !(strRet < firstDelete && firstDelete < write) {
		t.Errorf("expected eviction between return %d and write %d, got %d", strRet, write, firstDelete)
	}
}

func TestValueHeldByContainerSurvives(t *testing.T) {
	sink := mustRun(t, `package main

func main() {
	x := list()
	x.append(str(7))
	y := x[0]
}
`)
	// The str result is retained by the list; reading it back yields
	// the same identity, so no eviction may fire before the read.
	var strID object.Identity
	for _, e := range sink.events {
		if e.Kind == event.KindReturn && e.Qual == "builtin.str" {
			strID = e.Value.ID
		}
	}
	writes := byKind(sink.events, event.KindWrite)
	last := writes[len(writes)-1]
	if last.Name != "y" || last.Value.ID != strID {
		t.Fatalf("expected y bound to the stored identity %v, got %+v", strID, last)
	}
	for _, e := range sink.events {
		if e.Kind == event.KindDelete && e.Value != nil && e.Value.ID == strID && e.Seq < last.Seq {
			t.Fatalf("stored value evicted at seq %d, before its read at %d", e.Seq, last.Seq)
		}
	}
}

func TestDictOperations(t *testing.T) {
	sink := mustRun(t, `package main

func main() {
	d := dict()
	d.set("k", 10)
	v := d.get("k")
	d.del("k")
}
`)
	mutates := byKind(sink.events, event.KindMutate)
	if len(mutates) != 2 {
		t.Fatalf("expected mutates for set and del, got %d", len(mutates))
	}
	if mutates[0].Op != "set" || mutates[1].Op != "del" {
		t.Errorf("expected ops set, del, got %q, %q", mutates[0].Op, mutates[1].Op)
	}

	var stored, fetched object.Identity
	for _, e := range sink.events {
		if e.Kind == event.KindCall && e.Qual == "builtin.set" {
			stored = e.Args[2].Value.ID
		}
		if e.Kind == event.KindReturn && e.Qual == "builtin.get" {
			fetched = e.Value.ID
		}
	}
	if stored != fetched {
		t.Errorf("expected get to yield the stored identity %v, got %v", stored, fetched)
	}
}

func TestControlFlow(t *testing.T) {
	it, _, _ := newInterp(t)
	var out bytes.Buffer
	it.SetOutput(&out)
	path := writeScript(t, `package main

func main() {
	s := 0
	for i := 0; i < 5; i++ {
		if i == 3 {
			continue
		}
		s = s + i
	}
	print(s)
}
`)
	if err := it.Load(path); err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := it.Run(); err != nil {
		t.Fatalf("run: %v", err)
	}
	if got := out.String(); got != "7\n" {
		t.Errorf("expected output 7, got %q", got)
	}
}

func TestPrintOutput(t *testing.T) {
	it, _, _ := newInterp(t)
	var out bytes.Buffer
	it.SetOutput(&out)
	path := writeScript(t, `package main

func main() {
	x := list()
	x.append(1)
	x.append("two")
	print("x is", x)
}
`)
	if err := it.Load(path); err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := it.Run(); err != nil {
		t.Fatalf("run: %v", err)
	}
	if got := out.String(); got != "x is [1, two]\n" {
		t.Errorf("unexpected output %q", got)
	}
}

func TestRecursion(t *testing.T) {
	sink := mustRun(t, `package main

func fact(n any) any {
	if n <= 1 {
		return 1
	}
	return n * fact(n-1)
}

func main() {
	r := fact(4)
}
`)
	writes := byKind(sink.events, event.KindWrite)
	if len(writes) != 1 || writes[0].Value.Summary != "24" {
		t.Fatalf("expected r bound to 24, got %+v", writes)
	}
	var calls int
	for _, e := range sink.events {
		if e.Kind == event.KindCall && e.Qual == "main.fact" {
			calls++
		}
	}
	if calls != 4 {
		t.Errorf("expected 4 calls to main.fact, got %d", calls)
	}
}

func TestUnsupportedConstructRejectedAtLoad(t *testing.T) {
	cases := []struct {
		name string
		src  string
	}{
		{"goroutine", "package main\n\nfunc main() {\n\tgo f()\n}\n\nfunc f() {\n}\n"},
		{"channel", "package main\n\nfunc main() {\n\tc := make(chan int)\n}\n"},
		{"typed parameter", "package main\n\nfunc f(a int) any {\n\treturn a\n}\n\nfunc main() {\n}\n"},
		{"undefined function", "package main\n\nfunc main() {\n\tmissing()\n}\n"},
		{"multiple assignment", "package main\n\nfunc main() {\n\ta, b := 1, 2\n}\n"},
		{"no main", "package main\n\nfunc f() {\n}\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			it, sink, _ := newInterp(t)
			err := it.Load(writeScript(t, tc.src))
			var ue *UnsupportedError
			if !errors.As(err, &ue) {
				t.Fatalf("expected UnsupportedError, got %v", err)
			}
			if len(sink.events) != 0 {
				t.Errorf("expected no events before execution, got %d", len(sink.events))
			}
		})
	}
}

func TestRuntimeErrorKeepsEarlierEvents(t *testing.T) {
	sink, err := run(t, `package main

func main() {
	x := 10
	y := x / 0
}
`)
	var re *RuntimeError
	if !errors.As(err, &re) {
		t.Fatalf("expected RuntimeError, got %v", err)
	}
	if len(byKind(sink.events, event.KindWrite)) != 1 {
		t.Error("expected the write to x to survive the failure")
	}
	if len(byKind(sink.events, event.KindCall)) != 1 {
		t.Error("expected the failing division call to be recorded")
	}
}

func TestUndefinedNameIsRuntimeError(t *testing.T) {
	_, err := run(t, `package main

func main() {
	y := x
}
`)
	var re *RuntimeError
	if !errors.As(err, &re) {
		t.Fatalf("expected RuntimeError, got %v", err)
	}
}
