package events

import "testing"

func TestBufferDrain(t *testing.T) {
	buffer := new(Buffer)
	buffer.Emit(ProviderAdded{ID: 1})
	buffer.Emit(SubscriberAdded{ID: 2})

	drained := buffer.Drain()
	if len(drained) != 2 {
		t.Fatalf("drained %d events, want 2", len(drained))
	}
	if drained[0].EventType() != TypeProviderAdded || drained[1].EventType() != TypeSubscriberAdded {
		t.Fatalf("unexpected event order: %v, %v", drained[0].EventType(), drained[1].EventType())
	}
	if len(buffer.Drain()) != 0 {
		t.Fatalf("second drain must be empty")
	}
}

func TestBufferReset(t *testing.T) {
	buffer := new(Buffer)
	buffer.Emit(ProviderRemoved{ID: 1})
	buffer.Reset()
	if len(buffer.Drain()) != 0 {
		t.Fatalf("reset did not discard buffered events")
	}
}

func TestBufferIgnoresNil(t *testing.T) {
	buffer := new(Buffer)
	buffer.Emit(nil)
	if len(buffer.Drain()) != 0 {
		t.Fatalf("nil event must be ignored")
	}
}
