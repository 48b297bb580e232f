package events

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

func receive(t *testing.T, ch <-chan Event) (Event, bool) {
	t.Helper()
	select {
	case e, ok := <-ch:
		return e, ok
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
		return Event{}, false
	}
}

func TestFilterMatch(t *testing.T) {
	e := Event{ReporterID: "u1", AssignedTo: "Plumber@Example.com"}
	cases := []struct {
		name   string
		filter Filter
		want   bool
	}{
		{"all", Filter{All: true}, true},
		{"reporter", Filter{ReporterID: "u1"}, true},
		{"other reporter", Filter{ReporterID: "u2"}, false},
		{"assignee case insensitive", Filter{AssignedTo: "plumber@example.com"}, true},
		{"empty", Filter{}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.filter.Match(e); got != tc.want {
				t.Fatalf("expected %v, got %v", tc.want, got)
			}
		})
	}
}

func TestMemoryBusDeliversFilteredEvents(t *testing.T) {
	bus := NewMemoryBus(zerolog.Nop())
	ctx := context.Background()

	mine, cancelMine := bus.Subscribe(ctx, Filter{ReporterID: "u1"})
	defer cancelMine()
	all, cancelAll := bus.Subscribe(ctx, Filter{All: true})
	defer cancelAll()

	issueID := uuid.New()
	_ = bus.Publish(ctx, Event{Type: TypeIssueCreated, IssueID: issueID, ReporterID: "u2"})
	_ = bus.Publish(ctx, Event{Type: TypeIssueCreated, IssueID: issueID, ReporterID: "u1"})

	first, _ := receive(t, all)
	second, _ := receive(t, all)
	if first.ReporterID != "u2" || second.ReporterID != "u1" {
		t.Fatalf("unexpected order: %+v %+v", first, second)
	}
	if first.ID == uuid.Nil || first.At.IsZero() {
		t.Fatalf("expected event to be stamped: %+v", first)
	}

	got, _ := receive(t, mine)
	if got.ReporterID != "u1" {
		t.Fatalf("filter leaked event from %s", got.ReporterID)
	}
	select {
	case e := <-mine:
		t.Fatalf("unexpected extra event %+v", e)
	default:
	}
}

func TestMemoryBusCancelClosesChannel(t *testing.T) {
	bus := NewMemoryBus(zerolog.Nop())
	ch, cancel := bus.Subscribe(context.Background(), Filter{All: true})
	cancel()
	cancel()

	if _, ok := receive(t, ch); ok {
		t.Fatal("expected closed channel")
	}
	if n := bus.Subscribers(); n != 0 {
		t.Fatalf("expected no subscribers, got %d", n)
	}
	if err := bus.Publish(context.Background(), Event{Type: TypeIssueAssigned}); err != nil {
		t.Fatalf("publish after cancel: %v", err)
	}
}

func TestMemoryBusContextCancelUnsubscribes(t *testing.T) {
	bus := NewMemoryBus(zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	ch, _ := bus.Subscribe(ctx, Filter{All: true})
	cancel()

	if _, ok := receive(t, ch); ok {
		t.Fatal("expected closed channel after context cancel")
	}
}

func TestEventCodec(t *testing.T) {
	in := stamp(Event{Type: TypeIssueStatusChanged, IssueID: uuid.New(), Status: "In Progress", AssignedTo: "a@b.c"})
	payload, err := encodeEvent(in)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	out, err := decodeEvent(string(payload))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.ID != in.ID || out.Status != in.Status || !out.At.Equal(in.At) {
		t.Fatalf("mismatch: %+v vs %+v", out, in)
	}
	if _, err := decodeEvent("{"); err == nil {
		t.Fatal("expected decode error")
	}
}
