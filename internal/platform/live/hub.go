// Package live relays chat messages, polls and platform events to the
// participants of a live session over WebSockets. Clients subscribe to
// topics (a session id, or quiz:<id> for quiz activity) and receive every
// event broadcast to those topics within their tenant.
package live

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Actions a client may send.
const (
	ActionSubscribe   = "subscribe"
	ActionUnsubscribe = "unsubscribe"
	ActionChat        = "chat"
	ActionPollOpen    = "poll.open"
	ActionPollVote    = "poll.vote"
	ActionPollClose   = "poll.close"
)

// Event types sent to clients.
const (
	EventChatMessage      = "chat.message"
	EventPollOpened       = "poll.opened"
	EventPollResults      = "poll.results"
	EventPollClosed       = "poll.closed"
	EventAttemptCompleted = "attempt.completed"
	EventError            = "error"
)

const maxChatLength = 2000

// Event is a message delivered to subscribers of a topic.
type Event struct {
	Type      string          `json:"type"`
	Tenant    string          `json:"tenant,omitempty"`
	Topic     string          `json:"topic"`
	Origin    string          `json:"origin,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// ClientMessage is an inbound message from a client. Which fields are used
// depends on Action.
type ClientMessage struct {
	Action   string   `json:"action"`
	Topics   []string `json:"topics,omitempty"`
	Topic    string   `json:"topic,omitempty"`
	Text     string   `json:"text,omitempty"`
	PollID   string   `json:"poll_id,omitempty"`
	Question string   `json:"question,omitempty"`
	Options  []string `json:"options,omitempty"`
	Option   int      `json:"option,omitempty"`
}

// ChatMessage is the payload of a chat.message event.
type ChatMessage struct {
	ClientID string `json:"client_id"`
	UserID   string `json:"user_id"`
	Text     string `json:"text"`
}

// Publisher publishes events to subscribers.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// Fanout publishes each event to every publisher in turn. All publishers
// are tried; their errors are joined.
type Fanout []Publisher

func (f Fanout) Publish(ctx context.Context, event Event) error {
	var errs []error
	for _, p := range f {
		if err := p.Publish(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// QuizTopic is the topic carrying activity of a quiz.
func QuizTopic(quizID string) string {
	return "quiz:" + quizID
}

// Client is a single connected participant.
type Client struct {
	ID     string
	UserID string
	Tenant string
	// Moderator clients may open and close polls.
	Moderator bool
	Topics    []string
	Send      chan []byte
}

// NewClient returns a client with a buffered send channel.
func NewClient(userID, tenant string, moderator bool) *Client {
	return &Client{
		ID:        uuid.NewString(),
		UserID:    userID,
		Tenant:    tenant,
		Moderator: moderator,
		Topics:    []string{},
		Send:      make(chan []byte, 256),
	}
}

// Hub tracks clients, their topic subscriptions and open polls. Topics are
// scoped by tenant so two tenants never share a session.
type Hub struct {
	origin string
	bus    Bus
	logger zerolog.Logger

	mu      sync.RWMutex
	clients map[string]map[*Client]struct{} // tenant/topic -> clients
	all     map[*Client]struct{}
	polls   map[string]*Poll
}

// NewHub creates a hub. A nil bus keeps events on this replica.
func NewHub(bus Bus, logger zerolog.Logger) *Hub {
	return &Hub{
		origin:  uuid.NewString(),
		bus:     bus,
		logger:  logger,
		clients: make(map[string]map[*Client]struct{}),
		all:     make(map[*Client]struct{}),
		polls:   make(map[string]*Poll),
	}
}

// Origin identifies this hub on the bus.
func (h *Hub) Origin() string {
	return h.origin
}

func topicKey(tenant, topic string) string {
	return tenant + "/" + topic
}

// Register adds a client and subscribes it to its initial topics.
func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.all[client] = struct{}{}
	for _, topic := range client.Topics {
		h.addLocked(client, topic)
	}
}

// Unregister removes a client from every topic and closes its Send channel.
func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.all[client]; !ok {
		return
	}
	for _, topic := range client.Topics {
		h.removeLocked(client, topic)
	}
	delete(h.all, client)
	close(client.Send)
}

// Subscribe adds topics to a registered client.
func (h *Hub) Subscribe(client *Client, topics []string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, topic := range topics {
		topic = strings.TrimSpace(topic)
		if topic == "" || containsTopic(client.Topics, topic) {
			continue
		}
		h.addLocked(client, topic)
		client.Topics = append(client.Topics, topic)
	}
}

// Unsubscribe removes topics from a registered client.
func (h *Hub) Unsubscribe(client *Client, topics []string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	remaining := client.Topics[:0]
	for _, t := range client.Topics {
		if containsTopic(topics, t) {
			h.removeLocked(client, t)
			continue
		}
		remaining = append(remaining, t)
	}
	client.Topics = remaining
}

func (h *Hub) addLocked(client *Client, topic string) {
	key := topicKey(client.Tenant, topic)
	if h.clients[key] == nil {
		h.clients[key] = make(map[*Client]struct{})
	}
	h.clients[key][client] = struct{}{}
}

func (h *Hub) removeLocked(client *Client, topic string) {
	key := topicKey(client.Tenant, topic)
	if subscribers, ok := h.clients[key]; ok {
		delete(subscribers, client)
		if len(subscribers) == 0 {
			delete(h.clients, key)
			h.dropTopicPollsLocked(client.Tenant, topic)
		}
	}
}

func containsTopic(topics []string, topic string) bool {
	for _, t := range topics {
		if t == topic {
			return true
		}
	}
	return false
}

func (h *Hub) subscribed(client *Client, topic string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return containsTopic(client.Topics, topic)
}

// ProcessMessage dispatches an inbound client message. Invalid requests are
// answered with an error event to the sender only.
func (h *Hub) ProcessMessage(ctx context.Context, client *Client, msg ClientMessage) {
	switch msg.Action {
	case ActionSubscribe:
		h.Subscribe(client, msg.Topics)
	case ActionUnsubscribe:
		h.Unsubscribe(client, msg.Topics)
	case ActionChat:
		h.chat(ctx, client, msg)
	case ActionPollOpen:
		h.openPoll(ctx, client, msg)
	case ActionPollVote:
		h.vote(ctx, client, msg)
	case ActionPollClose:
		h.closePoll(ctx, client, msg)
	default:
		h.sendError(client, "unknown action: "+msg.Action)
	}
}

func (h *Hub) chat(ctx context.Context, client *Client, msg ClientMessage) {
	text := strings.TrimSpace(msg.Text)
	if text == "" {
		return
	}
	if utf8.RuneCountInString(text) > maxChatLength {
		h.sendError(client, "chat message too long")
		return
	}
	if !h.subscribed(client, msg.Topic) {
		h.sendError(client, "not subscribed to "+msg.Topic)
		return
	}
	h.emit(ctx, client.Tenant, msg.Topic, EventChatMessage, ChatMessage{
		ClientID: client.ID,
		UserID:   client.UserID,
		Text:     text,
	})
}

// Broadcast delivers event to this replica's subscribers of its topic.
func (h *Hub) Broadcast(event Event) {
	data, err := json.Marshal(event)
	if err != nil {
		h.logger.Error().Err(err).Str("type", event.Type).Msg("live: marshal event")
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.clients[topicKey(event.Tenant, event.Topic)] {
		select {
		case client.Send <- data:
		default:
			// slow client; drop rather than block the hub
		}
	}
}

// Publish stamps event with this hub's origin, delivers it locally and
// forwards it to other replicas when a bus is configured.
func (h *Hub) Publish(ctx context.Context, event Event) error {
	event.Origin = h.origin
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	h.Broadcast(event)
	if h.bus == nil {
		return nil
	}
	return h.bus.Publish(ctx, event)
}

// Deliver handles an event received from the bus. Events this hub
// published itself were already delivered and are dropped.
func (h *Hub) Deliver(event Event) {
	if event.Origin == h.origin {
		return
	}
	h.Broadcast(event)
}

func (h *Hub) emit(ctx context.Context, tenant, topic, typ string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		h.logger.Error().Err(err).Str("type", typ).Msg("live: marshal payload")
		return
	}
	err = h.Publish(ctx, Event{Type: typ, Tenant: tenant, Topic: topic, Data: data})
	if err != nil {
		h.logger.Warn().Err(err).Str("type", typ).Str("topic", topic).Msg("live: bus publish failed")
	}
}

func (h *Hub) sendError(client *Client, message string) {
	data, _ := json.Marshal(Event{
		Type:      EventError,
		Timestamp: time.Now().UTC(),
		Data:      json.RawMessage(mustJSON(map[string]string{"message": message})),
	})

	h.mu.RLock()
	defer h.mu.RUnlock()
	if _, ok := h.all[client]; !ok {
		return
	}
	select {
	case client.Send <- data:
	default:
	}
}

func mustJSON(v interface{}) []byte {
	b, _ := json.Marshal(v)
	return b
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.all)
}

// TopicCount returns the number of clients subscribed to a tenant's topic.
func (h *Hub) TopicCount(tenant, topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[topicKey(tenant, topic)])
}
