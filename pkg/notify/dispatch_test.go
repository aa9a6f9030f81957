package notify

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/willowlend/intake-client/pkg/invalidation"
)

func collectInstruction(t *testing.T, ch <-chan invalidation.Instruction) invalidation.Instruction {
	t.Helper()
	select {
	case in := <-ch:
		return in
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for invalidation instruction")
		return invalidation.Instruction{}
	}
}

func TestApplicationDispatcher_Table(t *testing.T) {
	bus := invalidation.NewBus()
	defer func() { _ = bus.Close() }()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch, err := bus.Subscribe(ctx)
	require.NoError(t, err)

	d := NewApplicationDispatcher(bus, "app-7", "user-3")

	d.OnMessage(PushMessage{Type: TypeAssessmentComplete})
	in := collectInstruction(t, ch)
	require.ElementsMatch(t, []invalidation.Key{
		invalidation.ApplicationDetail("app-7"),
		invalidation.Notifications("user-3"),
	}, in.Keys)

	d.OnMessage(PushMessage{Type: TypeDocumentProcessed, Data: map[string]any{"document_id": "d1"}})
	in = collectInstruction(t, ch)
	require.Equal(t, []invalidation.Key{invalidation.ApplicationDocuments("app-7")}, in.Keys)

	d.OnMessage(PushMessage{Type: TypeDecisionMade})
	in = collectInstruction(t, ch)
	require.Contains(t, in.Keys, invalidation.ApplicationDetail("app-7"))
}

func TestServicerDispatcher_Table(t *testing.T) {
	bus := invalidation.NewBus()
	defer func() { _ = bus.Close() }()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch, err := bus.Subscribe(ctx)
	require.NoError(t, err)

	d := NewServicerDispatcher(bus, "servicer-1")

	d.OnMessage(PushMessage{Type: TypeNewApplication})
	in := collectInstruction(t, ch)
	require.ElementsMatch(t, []invalidation.Key{
		invalidation.ServicerQueue,
		invalidation.Notifications("servicer-1"),
	}, in.Keys)

	d.OnMessage(PushMessage{Type: TypeAssessmentComplete})
	in = collectInstruction(t, ch)
	require.Contains(t, in.Keys, invalidation.ServicerQueue)
}

func TestDispatcher_IgnoresUnknownTypesAndErrors(t *testing.T) {
	bus := invalidation.NewBus()
	defer func() { _ = bus.Close() }()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch, err := bus.Subscribe(ctx)
	require.NoError(t, err)

	d := NewApplicationDispatcher(bus, "app-1", "u1")
	d.OnMessage(PushMessage{Type: "unknown_event"})
	d.OnError(context.DeadlineExceeded) // must not panic or publish

	select {
	case in := <-ch:
		t.Fatalf("unexpected instruction: %+v", in)
	case <-time.After(100 * time.Millisecond):
	}
}
