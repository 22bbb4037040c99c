package event

import "testing"

type captureSink struct {
	events []Event
}

func (c *captureSink) Push(e Event) error {
	c.events = append(c.events, e)
	return nil
}

func TestTracerAssignsIncreasingSeq(t *testing.T) {
	sink := &captureSink{}
	tr := NewTracer(sink)

	for i := 0; i < 5; i++ {
		if err := tr.Emit(Event{Kind: KindRead, Name: "x"}); err != nil {
			t.Fatalf("emit: %v", err)
		}
	}

	var prev uint64
	for i, e := range sink.events {
		if e.Seq <= prev {
			t.Errorf("event %d: seq %d not greater than %d", i, e.Seq, prev)
		}
		prev = e.Seq
	}
	if tr.Seq() != 5 {
		t.Errorf("expected last seq 5, got %d", tr.Seq())
	}
}

func TestTracerDepthCounter(t *testing.T) {
	tr := NewTracer(&captureSink{})

	tr.Emit(Event{Kind: KindCall, Qual: "main.f"})
	tr.Emit(Event{Kind: KindCall, Qual: "main.g"})
	if tr.Depth() != 2 {
		t.Errorf("expected depth 2, got %d", tr.Depth())
	}
	tr.Emit(Event{Kind: KindReturn, Qual: "main.g"})
	if tr.Depth() != 1 {
		t.Errorf("expected depth 1, got %d", tr.Depth())
	}
	// Depth never goes negative even on unbalanced streams.
	tr.Emit(Event{Kind: KindReturn, Qual: "main.f"})
	tr.Emit(Event{Kind: KindReturn, Qual: "main.f"})
	if tr.Depth() != 0 {
		t.Errorf("expected depth 0, got %d", tr.Depth())
	}
}

func TestTracerFanOut(t *testing.T) {
	a := &captureSink{}
	b := &captureSink{}
	tr := NewTracer(a, b)

	tr.Emit(Event{Kind: KindWrite, Name: "x"})
	if len(a.events) != 1 || len(b.events) != 1 {
		t.Fatalf("expected both sinks to receive the event, got %d and %d", len(a.events), len(b.events))
	}
	if a.events[0].Seq != b.events[0].Seq {
		t.Error("expected identical sequence numbers across sinks")
	}
}
