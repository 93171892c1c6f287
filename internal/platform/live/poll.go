package live

import (
	"context"
	"strings"

	"github.com/google/uuid"
)

const (
	minPollOptions = 2
	maxPollOptions = 10
)

// Poll is a question put to the participants of a topic. Each client may
// vote once.
type Poll struct {
	ID       string
	Tenant   string
	Topic    string
	Question string
	Options  []string
	OpenedBy string
	Open     bool
	votes    map[string]int // client id -> option index
}

// PollState is the payload of the poll events.
type PollState struct {
	ID       string   `json:"id"`
	Question string   `json:"question"`
	Options  []string `json:"options"`
	Tallies  []int    `json:"tallies"`
	Votes    int      `json:"votes"`
	Open     bool     `json:"open"`
}

func (p *Poll) state() PollState {
	tallies := make([]int, len(p.Options))
	for _, opt := range p.votes {
		tallies[opt]++
	}
	return PollState{
		ID:       p.ID,
		Question: p.Question,
		Options:  append([]string(nil), p.Options...),
		Tallies:  tallies,
		Votes:    len(p.votes),
		Open:     p.Open,
	}
}

func (h *Hub) openPoll(ctx context.Context, client *Client, msg ClientMessage) {
	if !client.Moderator {
		h.sendError(client, "only instructors can open polls")
		return
	}
	question := strings.TrimSpace(msg.Question)
	if question == "" {
		h.sendError(client, "poll question is required")
		return
	}
	options := make([]string, 0, len(msg.Options))
	for _, o := range msg.Options {
		if o = strings.TrimSpace(o); o != "" {
			options = append(options, o)
		}
	}
	if len(options) < minPollOptions || len(options) > maxPollOptions {
		h.sendError(client, "a poll needs between 2 and 10 options")
		return
	}
	if !h.subscribed(client, msg.Topic) {
		h.sendError(client, "not subscribed to "+msg.Topic)
		return
	}

	p := &Poll{
		ID:       uuid.NewString(),
		Tenant:   client.Tenant,
		Topic:    msg.Topic,
		Question: question,
		Options:  options,
		OpenedBy: client.ID,
		Open:     true,
		votes:    make(map[string]int),
	}
	h.mu.Lock()
	h.polls[p.ID] = p
	state := p.state()
	h.mu.Unlock()

	h.emit(ctx, p.Tenant, p.Topic, EventPollOpened, state)
}

// vote records a client's choice. Votes on unknown polls, on polls of a
// topic the client has not joined, repeat votes and out of range options
// are ignored.
func (h *Hub) vote(ctx context.Context, client *Client, msg ClientMessage) {
	h.mu.Lock()
	p, ok := h.polls[msg.PollID]
	if !ok || !p.Open || p.Tenant != client.Tenant || !containsTopic(client.Topics, p.Topic) ||
		msg.Option < 0 || msg.Option >= len(p.Options) {
		h.mu.Unlock()
		return
	}
	if _, voted := p.votes[client.ID]; voted {
		h.mu.Unlock()
		return
	}
	p.votes[client.ID] = msg.Option
	state := p.state()
	h.mu.Unlock()

	h.emit(ctx, p.Tenant, p.Topic, EventPollResults, state)
}

func (h *Hub) closePoll(ctx context.Context, client *Client, msg ClientMessage) {
	h.mu.Lock()
	p, ok := h.polls[msg.PollID]
	if !ok || p.Tenant != client.Tenant {
		h.mu.Unlock()
		h.sendError(client, "unknown poll")
		return
	}
	if !client.Moderator && p.OpenedBy != client.ID {
		h.mu.Unlock()
		h.sendError(client, "only instructors can close polls")
		return
	}
	p.Open = false
	state := p.state()
	delete(h.polls, p.ID)
	h.mu.Unlock()

	h.emit(ctx, p.Tenant, p.Topic, EventPollClosed, state)
}

// dropTopicPollsLocked removes the polls of a topic nobody is subscribed to.
func (h *Hub) dropTopicPollsLocked(tenant, topic string) {
	for id, p := range h.polls {
		if p.Tenant == tenant && p.Topic == topic {
			delete(h.polls, id)
		}
	}
}

// PollResults returns the current state of an open poll. Closed polls are
// dropped once their final state is broadcast.
func (h *Hub) PollResults(id string) (PollState, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	p, ok := h.polls[id]
	if !ok {
		return PollState{}, false
	}
	return p.state(), true
}
