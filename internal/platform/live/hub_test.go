package live

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/rs/zerolog"
)

type fakeBus struct {
	mu        sync.Mutex
	published []Event
	err       error
}

func (b *fakeBus) Publish(_ context.Context, e Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published = append(b.published, e)
	return b.err
}

func (b *fakeBus) Run(ctx context.Context, _ func(Event)) error {
	<-ctx.Done()
	return nil
}

func newTestHub() *Hub {
	return NewHub(nil, zerolog.Nop())
}

func registered(h *Hub, tenant string, moderator bool, topics ...string) *Client {
	c := NewClient("user-"+tenant, tenant, moderator)
	c.Topics = append(c.Topics, topics...)
	h.Register(c)
	return c
}

// drain returns every event queued for c.
func drain(t *testing.T, c *Client) []Event {
	t.Helper()
	var events []Event
	for {
		select {
		case raw, ok := <-c.Send:
			if !ok {
				return events
			}
			var e Event
			if err := json.Unmarshal(raw, &e); err != nil {
				t.Fatalf("bad event json: %v", err)
			}
			events = append(events, e)
		default:
			return events
		}
	}
}

func TestHub_RegisterAndUnregister(t *testing.T) {
	h := newTestHub()
	c := registered(h, "acme", false, "session-1")

	if h.ClientCount() != 1 || h.TopicCount("acme", "session-1") != 1 {
		t.Fatalf("expected one registered subscriber, got %d/%d", h.ClientCount(), h.TopicCount("acme", "session-1"))
	}

	h.Unregister(c)
	if h.ClientCount() != 0 || h.TopicCount("acme", "session-1") != 0 {
		t.Errorf("expected hub to be empty after unregister")
	}
	if _, ok := <-c.Send; ok {
		t.Error("expected send channel to be closed")
	}
	h.Unregister(c) // second unregister is a no-op
}

func TestHub_SubscribeUnsubscribe(t *testing.T) {
	h := newTestHub()
	c := registered(h, "acme", false)

	h.ProcessMessage(context.Background(), c, ClientMessage{Action: ActionSubscribe, Topics: []string{"a", "b", "a", " "}})
	if len(c.Topics) != 2 {
		t.Fatalf("expected 2 topics, got %v", c.Topics)
	}
	h.ProcessMessage(context.Background(), c, ClientMessage{Action: ActionUnsubscribe, Topics: []string{"a"}})
	if h.TopicCount("acme", "a") != 0 || h.TopicCount("acme", "b") != 1 {
		t.Errorf("unexpected topic counts after unsubscribe")
	}
	if len(c.Topics) != 1 || c.Topics[0] != "b" {
		t.Errorf("expected [b], got %v", c.Topics)
	}
}

func TestHub_BroadcastIsTenantScoped(t *testing.T) {
	h := newTestHub()
	acme := registered(h, "acme", false, "session-1")
	other := registered(h, "globex", false, "session-1")

	if err := h.Publish(context.Background(), Event{Type: "note", Tenant: "acme", Topic: "session-1"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got := drain(t, acme); len(got) != 1 || got[0].Origin != h.Origin() || got[0].Timestamp.IsZero() {
		t.Errorf("expected one stamped event for acme, got %+v", got)
	}
	if got := drain(t, other); len(got) != 0 {
		t.Errorf("expected no events for another tenant, got %+v", got)
	}
}

func TestHub_Chat(t *testing.T) {
	h := newTestHub()
	sender := registered(h, "acme", false, "session-1")
	listener := registered(h, "acme", false, "session-1")

	h.ProcessMessage(context.Background(), sender, ClientMessage{Action: ActionChat, Topic: "session-1", Text: "  hello  "})

	events := drain(t, listener)
	if len(events) != 1 || events[0].Type != EventChatMessage {
		t.Fatalf("expected one chat event, got %+v", events)
	}
	var msg ChatMessage
	_ = json.Unmarshal(events[0].Data, &msg)
	if msg.Text != "hello" || msg.ClientID != sender.ID {
		t.Errorf("unexpected chat payload %+v", msg)
	}
}

func TestHub_ChatRequiresSubscription(t *testing.T) {
	h := newTestHub()
	outsider := registered(h, "acme", false)
	member := registered(h, "acme", false, "session-1")

	h.ProcessMessage(context.Background(), outsider, ClientMessage{Action: ActionChat, Topic: "session-1", Text: "hi"})

	if got := drain(t, member); len(got) != 0 {
		t.Errorf("expected no chat delivered, got %+v", got)
	}
	if got := drain(t, outsider); len(got) != 1 || got[0].Type != EventError {
		t.Errorf("expected error event to sender, got %+v", got)
	}
}

func TestHub_UnknownAction(t *testing.T) {
	h := newTestHub()
	c := registered(h, "acme", false)
	h.ProcessMessage(context.Background(), c, ClientMessage{Action: "dance"})
	if got := drain(t, c); len(got) != 1 || got[0].Type != EventError {
		t.Errorf("expected error event, got %+v", got)
	}
}

func openTestPoll(t *testing.T, h *Hub, moderator *Client) string {
	t.Helper()
	h.ProcessMessage(context.Background(), moderator, ClientMessage{
		Action: ActionPollOpen, Topic: "session-1", Question: "Ready?", Options: []string{"Yes", "No", " "},
	})
	events := drain(t, moderator)
	if len(events) != 1 || events[0].Type != EventPollOpened {
		t.Fatalf("expected poll.opened, got %+v", events)
	}
	var state PollState
	_ = json.Unmarshal(events[0].Data, &state)
	if len(state.Options) != 2 || !state.Open {
		t.Fatalf("unexpected poll state %+v", state)
	}
	return state.ID
}

func TestHub_PollOneVotePerClient(t *testing.T) {
	h := newTestHub()
	mod := registered(h, "acme", true, "session-1")
	voter := registered(h, "acme", false, "session-1")
	id := openTestPoll(t, h, mod)
	drain(t, voter)

	h.ProcessMessage(context.Background(), voter, ClientMessage{Action: ActionPollVote, PollID: id, Option: 1})
	h.ProcessMessage(context.Background(), voter, ClientMessage{Action: ActionPollVote, PollID: id, Option: 0})

	events := drain(t, mod)
	if len(events) != 1 || events[0].Type != EventPollResults {
		t.Fatalf("expected a single poll.results, got %+v", events)
	}
	state, _ := h.PollResults(id)
	if state.Votes != 1 || state.Tallies[1] != 1 || state.Tallies[0] != 0 {
		t.Errorf("unexpected tallies %+v", state)
	}
}

func TestHub_PollIgnoresInvalidVotes(t *testing.T) {
	h := newTestHub()
	mod := registered(h, "acme", true, "session-1")
	voter := registered(h, "acme", false, "session-1")
	foreign := registered(h, "globex", false, "session-1")
	id := openTestPoll(t, h, mod)

	h.ProcessMessage(context.Background(), voter, ClientMessage{Action: ActionPollVote, PollID: id, Option: 5})
	h.ProcessMessage(context.Background(), voter, ClientMessage{Action: ActionPollVote, PollID: "missing", Option: 0})
	h.ProcessMessage(context.Background(), foreign, ClientMessage{Action: ActionPollVote, PollID: id, Option: 0})

	if state, _ := h.PollResults(id); state.Votes != 0 {
		t.Errorf("expected no votes, got %+v", state)
	}
}

func TestHub_PollClose(t *testing.T) {
	h := newTestHub()
	mod := registered(h, "acme", true, "session-1")
	voter := registered(h, "acme", false, "session-1")
	id := openTestPoll(t, h, mod)

	h.ProcessMessage(context.Background(), voter, ClientMessage{Action: ActionPollClose, PollID: id})
	if got := drain(t, voter); len(got) != 2 || got[1].Type != EventError {
		t.Fatalf("expected learner close to be rejected, got %+v", got)
	}

	h.ProcessMessage(context.Background(), mod, ClientMessage{Action: ActionPollClose, PollID: id})
	if got := drain(t, voter); len(got) != 1 || got[0].Type != EventPollClosed {
		t.Fatalf("expected poll.closed, got %+v", got)
	}

	h.ProcessMessage(context.Background(), voter, ClientMessage{Action: ActionPollVote, PollID: id, Option: 0})
	if _, ok := h.PollResults(id); ok {
		t.Error("expected closed poll to be dropped")
	}
	if got := drain(t, voter); len(got) != 0 {
		t.Errorf("expected no results after close, got %+v", got)
	}
}

func TestHub_PollsReleasedAfterCloseAndDisconnect(t *testing.T) {
	h := newTestHub()
	mod := registered(h, "acme", true, "session-1")
	voter := registered(h, "acme", false, "session-1")

	for i := 0; i < 50; i++ {
		id := openTestPoll(t, h, mod)
		h.ProcessMessage(context.Background(), voter, ClientMessage{Action: ActionPollVote, PollID: id, Option: 0})
		h.ProcessMessage(context.Background(), mod, ClientMessage{Action: ActionPollClose, PollID: id})
		drain(t, mod)
		drain(t, voter)
	}
	openTestPoll(t, h, mod)

	h.Unregister(voter)
	if len(h.polls) != 1 {
		t.Fatalf("expected the open poll to survive while the topic has subscribers, got %d", len(h.polls))
	}
	h.Unregister(mod)
	if len(h.polls) != 0 {
		t.Errorf("expected no polls retained, got %d", len(h.polls))
	}
}

func TestHub_PollDroppedOnLastUnsubscribe(t *testing.T) {
	h := newTestHub()
	mod := registered(h, "acme", true, "session-1")
	id := openTestPoll(t, h, mod)

	h.Unsubscribe(mod, []string{"session-1"})
	if _, ok := h.PollResults(id); ok {
		t.Error("expected poll of an empty topic to be dropped")
	}
}

func TestHub_PollVoteRequiresSubscription(t *testing.T) {
	h := newTestHub()
	mod := registered(h, "acme", true, "session-1")
	outsider := registered(h, "acme", false, "session-2")
	id := openTestPoll(t, h, mod)

	h.ProcessMessage(context.Background(), outsider, ClientMessage{Action: ActionPollVote, PollID: id, Option: 1})

	state, _ := h.PollResults(id)
	if state.Votes != 0 || state.Tallies[1] != 0 {
		t.Errorf("expected vote from a non-member to be ignored, got %+v", state)
	}
}

func TestHub_PollOpenRequiresModerator(t *testing.T) {
	h := newTestHub()
	learner := registered(h, "acme", false, "session-1")
	h.ProcessMessage(context.Background(), learner, ClientMessage{
		Action: ActionPollOpen, Topic: "session-1", Question: "Q", Options: []string{"a", "b"},
	})
	if got := drain(t, learner); len(got) != 1 || got[0].Type != EventError {
		t.Errorf("expected error event, got %+v", got)
	}
}

func TestHub_PublishForwardsToBus(t *testing.T) {
	bus := &fakeBus{err: errors.New("redis down")}
	h := NewHub(bus, zerolog.Nop())
	c := registered(h, "acme", false, QuizTopic("q1"))

	err := h.Publish(context.Background(), Event{Type: EventAttemptCompleted, Tenant: "acme", Topic: QuizTopic("q1")})
	if err == nil {
		t.Error("expected bus error to be returned")
	}
	if len(bus.published) != 1 || bus.published[0].Origin != h.Origin() {
		t.Errorf("expected event forwarded with origin, got %+v", bus.published)
	}
	if got := drain(t, c); len(got) != 1 {
		t.Errorf("expected local delivery despite bus error, got %d", len(got))
	}
}

func TestHub_DeliverSkipsOwnOrigin(t *testing.T) {
	h := newTestHub()
	c := registered(h, "acme", false, "session-1")

	h.Deliver(Event{Type: "x", Tenant: "acme", Topic: "session-1", Origin: h.Origin()})
	h.Deliver(Event{Type: "y", Tenant: "acme", Topic: "session-1", Origin: "other-replica"})

	got := drain(t, c)
	if len(got) != 1 || got[0].Type != "y" {
		t.Errorf("expected only the remote event, got %+v", got)
	}
}

func TestHub_ConcurrentRegisterUnregister(t *testing.T) {
	h := newTestHub()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c := registered(h, "acme", false, "session-1")
			h.Broadcast(Event{Type: "tick", Tenant: "acme", Topic: "session-1"})
			h.Unregister(c)
		}()
	}
	wg.Wait()
	if h.ClientCount() != 0 {
		t.Errorf("expected 0 clients, got %d", h.ClientCount())
	}
}

func TestFanout_PublishesToAllAndJoinsErrors(t *testing.T) {
	ok := &fakeBus{}
	failing := &fakeBus{err: errors.New("down")}
	f := Fanout{failing, ok}

	err := f.Publish(context.Background(), Event{Type: EventAttemptCompleted, Topic: "quiz:1"})
	if err == nil || err.Error() != "down" {
		t.Errorf("expected joined error, got %v", err)
	}
	if len(ok.published) != 1 || len(failing.published) != 1 {
		t.Errorf("expected both publishers called, got %d and %d", len(ok.published), len(failing.published))
	}
	if err := (Fanout{ok}).Publish(context.Background(), Event{}); err != nil {
		t.Errorf("expected nil error, got %v", err)
	}
}
