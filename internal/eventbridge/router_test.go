package eventbridge

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kingrea/lattice-waves/internal/workflow/engine"
)

func completed(id, task string) Event {
	return Event{EventID: id, PlanID: "plan-1", TaskID: task, Type: EventTaskCompleted}
}

func progress(id, task string) Event {
	return Event{EventID: id, PlanID: "plan-1", TaskID: task, Type: EventTaskProgress}
}

func TestRouterBuffersAndFlushes(t *testing.T) {
	router := NewRouter(RouterWithSubscriberCapacity(4))
	first := completed("evt-1", "A")
	second := progress("evt-2", "B")
	require.NoError(t, router.Route(first))
	require.NoError(t, router.Route(second))
	sub := router.Subscribe("PLAN-1")
	defer sub.Close()
	assert.Equal(t, first.EventID, (<-sub.Events).EventID)
	assert.Equal(t, second.EventID, (<-sub.Events).EventID)
}

func TestRouterBacklogDropsProgressFirst(t *testing.T) {
	router := NewRouter(RouterWithBacklogLimit(2))
	require.NoError(t, router.Route(completed("evt-1", "A")))
	require.NoError(t, router.Route(progress("evt-2", "B")))
	require.NoError(t, router.Route(completed("evt-3", "C")))
	sub := router.Subscribe("plan-1")
	defer sub.Close()
	assert.Equal(t, "evt-1", (<-sub.Events).EventID)
	assert.Equal(t, "evt-3", (<-sub.Events).EventID)
}

func TestRouterBacklogRefusesTerminalOverflow(t *testing.T) {
	router := NewRouter(RouterWithBacklogLimit(2))
	require.NoError(t, router.Route(completed("evt-1", "A")))
	require.NoError(t, router.Route(completed("evt-2", "B")))
	assert.ErrorIs(t, router.Route(completed("evt-3", "C")), ErrQueueFull)
	require.NoError(t, router.Route(progress("evt-4", "D")), "progress is dropped, not refused")

	sub := router.Subscribe("plan-1")
	defer sub.Close()
	assert.Equal(t, "evt-1", (<-sub.Events).EventID)
	assert.Equal(t, "evt-2", (<-sub.Events).EventID)
	require.NoError(t, router.Route(completed("evt-3", "C")), "refused id is accepted on retry")
	assert.Equal(t, "evt-3", (<-sub.Events).EventID)
	select {
	case got := <-sub.Events:
		t.Fatalf("unexpected event %s", got.EventID)
	default:
	}
}

func TestRouterReplaysWholeBacklog(t *testing.T) {
	router := NewRouter(RouterWithBacklogLimit(500))
	accepted := 0
	for i := 0; i < 150; i++ {
		err := router.Route(completed(fmt.Sprintf("evt-%d", i), fmt.Sprintf("T%d", i)))
		if err == nil {
			accepted++
			continue
		}
		require.ErrorIs(t, err, ErrQueueFull)
	}
	assert.Equal(t, defaultSubscriberCapacity, accepted)

	sub := router.Subscribe("plan-1")
	defer sub.Close()
	replayed := 0
	for replayed < accepted {
		select {
		case <-sub.Events:
			replayed++
		case <-time.After(time.Second):
			t.Fatalf("replayed %d of %d accepted events", replayed, accepted)
		}
	}
}

func TestRouterDedupeByEventID(t *testing.T) {
	router := NewRouter()
	sub := router.Subscribe("plan-1")
	defer sub.Close()
	event := completed("evt-1", "A")
	require.NoError(t, router.Route(event))
	assert.ErrorIs(t, router.Route(event), ErrDuplicateEvent)
	select {
	case got := <-sub.Events:
		assert.Equal(t, event.EventID, got.EventID)
	default:
		t.Fatal("expected first delivery")
	}
	select {
	case <-sub.Events:
		t.Fatal("duplicate event delivered")
	default:
	}
}

func TestRouterDropsProgressOnOverflow(t *testing.T) {
	router := NewRouter(RouterWithSubscriberCapacity(1))
	sub := router.Subscribe("plan-1")
	defer sub.Close()
	require.NoError(t, router.Route(progress("evt-1", "A")))
	require.NoError(t, router.Route(completed("evt-2", "A")))
	assert.Equal(t, "evt-2", (<-sub.Events).EventID)

	require.NoError(t, router.Route(completed("evt-3", "B")))
	require.NoError(t, router.Route(progress("evt-4", "C")))
	assert.Equal(t, "evt-3", (<-sub.Events).EventID)
	select {
	case <-sub.Events:
		t.Fatal("unexpected extra event")
	default:
	}
}

func TestRouterRejectsTerminalOverflowAndAcceptsRetry(t *testing.T) {
	router := NewRouter(RouterWithSubscriberCapacity(1))
	sub := router.Subscribe("plan-1")
	defer sub.Close()
	require.NoError(t, router.Route(completed("evt-1", "A")))
	err := router.Route(completed("evt-2", "B"))
	assert.ErrorIs(t, err, ErrQueueFull)

	assert.Equal(t, "evt-1", (<-sub.Events).EventID)
	require.NoError(t, router.Route(completed("evt-2", "B")), "retry with the same id is not a duplicate")
	assert.Equal(t, "evt-2", (<-sub.Events).EventID)
}

func TestNotificationsSkipsProgress(t *testing.T) {
	events := make(chan Event, 3)
	events <- progress("evt-1", "A")
	events <- completed("evt-2", "A")
	events <- Event{EventID: "evt-3", PlanID: "plan-1", TaskID: "B", Type: EventTaskFailed}
	close(events)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var got []engine.Notification
	for n := range Notifications(ctx, events, nil) {
		got = append(got, n)
	}
	assert.Equal(t, []engine.Notification{
		{TaskID: "A"},
		{TaskID: "B", Failed: true, Reason: "reported failed"},
	}, got)
}
