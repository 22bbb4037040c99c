package event

import "fmt"

// Sink consumes sequenced trace events. Sinks run synchronously on
// the traced program's thread; a sink must not reorder events.
type Sink interface {
	Push(Event) error
}

// Tracer assigns strictly increasing sequence numbers and fans each
// event out to its sinks in registration order. It keeps an implicit
// call-depth counter for diagnostics only; all ordering decisions
// downstream use the sequence number.
type Tracer struct {
	seq   uint64
	depth int
	sinks []Sink
}

// NewTracer creates a tracer feeding the given sinks.
func NewTracer(sinks ...Sink) *Tracer {
	return &Tracer{sinks: sinks}
}

// Emit stamps the event with the next sequence number and forwards it.
// The first sink error aborts the fan-out.
func (t *Tracer) Emit(e Event) error {
	t.seq++
	e.Seq = t.seq

	switch e.Kind {
	case KindCall:
		t.depth++
	case KindReturn:
		if t.depth > 0 {
			t.depth--
		}
	}

	for _, s := range t.sinks {
		if err := s.Push(e); err != nil {
			return fmt.Errorf("event: sink rejected seq %d: %w", e.Seq, err)
		}
	}
	return nil
}

// Seq returns the last assigned sequence number.
func (t *Tracer) Seq() uint64 {
	return t.seq
}

// Depth returns the current call depth. Diagnostic only.
func (t *Tracer) Depth() int {
	return t.depth
}
