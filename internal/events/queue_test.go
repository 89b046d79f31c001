package events

import "testing"

func TestQueuePutGetOrder(t *testing.T) {
	q := NewQueue()
	q.Put(Event{Kind: StartSpeaking})
	q.Put(Event{Kind: Text, Text: "hello"})

	first := q.Get()
	if first.Kind != StartSpeaking {
		t.Fatalf("expected StartSpeaking, got %v", first.Kind)
	}
	second := q.Get()
	if second.Kind != Text || second.Text != "hello" {
		t.Fatalf("expected Text(hello), got %+v", second)
	}
}

func TestQueueCloseDrainsThenReturnsEnd(t *testing.T) {
	q := NewQueue()
	q.Put(Event{Kind: StopSpeaking})
	q.Close()

	ev := q.Get()
	if ev.Kind != StopSpeaking {
		t.Fatalf("expected queued event to be delivered before sentinel, got %+v", ev)
	}

	end := q.Get()
	if !end.IsEnd() {
		t.Fatalf("expected end-of-stream sentinel, got %+v", end)
	}
	// Get after drain is stable and keeps returning the sentinel.
	if !q.Get().IsEnd() {
		t.Fatalf("expected sentinel to persist after close")
	}
}

func TestQueueCloseIsIdempotent(t *testing.T) {
	q := NewQueue()
	q.Close()
	q.Close()
	if !q.Get().IsEnd() {
		t.Fatalf("expected sentinel after double close")
	}
}

func TestQueuePutAfterClosePanics(t *testing.T) {
	q := NewQueue()
	q.Close()

	defer func() {
		if r := recover(); r == nil {
			t.Fatalf("expected Put after Close to panic")
		}
	}()
	q.Put(Event{Kind: Text, Text: "too late"})
}
