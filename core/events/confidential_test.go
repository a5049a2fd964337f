package events

import (
	"testing"

	"fhecoproc/core/types"
)

func TestEventRendering(t *testing.T) {
	var provider [20]byte
	provider[19] = 0x42

	for _, tc := range []struct {
		name  string
		event PayloadProvider
		typ   string
		attrs map[string]string
	}{
		{
			name:  "data submitted",
			event: DataSubmitted{Provider: provider, BatchID: 3, Index: 7},
			typ:   TypeDataSubmitted,
			attrs: map[string]string{"batchId": "3", "index": "7"},
		},
		{
			name:  "batch closed",
			event: BatchClosed{BatchID: 3, Submissions: 8, ClosedAt: 1_700_000_000},
			typ:   TypeBatchClosed,
			attrs: map[string]string{"batchId": "3", "submissions": "8", "closedAt": "1700000000"},
		},
		{
			name:  "decryption completed",
			event: DecryptionCompleted{RequestID: "req-1", BatchID: 3, Result: true},
			typ:   TypeDecryptionCompleted,
			attrs: map[string]string{"requestId": "req-1", "result": "true"},
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			rendered := tc.event.Event()
			if rendered.Type != tc.typ {
				t.Fatalf("unexpected type %q", rendered.Type)
			}
			for key, want := range tc.attrs {
				if got := rendered.Attributes[key]; got != want {
					t.Fatalf("attribute %s: got %q, want %q", key, got, want)
				}
			}
		})
	}
}

func TestMultiEmitterFansOut(t *testing.T) {
	var first, second []string
	multi := MultiEmitter{
		emitterFunc(func(evt Event) { first = append(first, evt.EventType()) }),
		emitterFunc(func(evt Event) { second = append(second, evt.EventType()) }),
	}
	multi.Emit(BatchOpened{BatchID: 1})
	if len(first) != 1 || len(second) != 1 {
		t.Fatalf("fan-out failed: %v %v", first, second)
	}
}

type emitterFunc func(Event)

func (f emitterFunc) Emit(evt Event) { f(evt) }

func TestNewEventCopiesAttributes(t *testing.T) {
	attrs := map[string]string{"k": "v"}
	evt := types.NewEvent("test", attrs)
	attrs["k"] = "mutated"
	if evt.Attributes["k"] != "v" {
		t.Fatal("event aliased the caller's map")
	}
}
