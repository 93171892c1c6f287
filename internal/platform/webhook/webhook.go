// Package webhook delivers quiz events to external HTTP endpoints, such as
// an LMS gradebook, with HMAC-SHA256 signed payloads.
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/carelearn/carelearn/internal/platform/live"
)

const (
	StatusActive = "active"
	StatusPaused = "paused"

	DeliverySuccess = "success"
	DeliveryFailed  = "failed"

	SignatureHeader = "X-CareLearn-Signature"
	EventTypeTest   = "webhook.test"
)

var (
	ErrNotFound  = errors.New("webhook endpoint not found")
	ErrQueueFull = errors.New("webhook queue is full")
)

// Endpoint is a registered delivery target. Events holds exact event types,
// "attempt.*" style prefixes or "*".
type Endpoint struct {
	ID        string    `json:"id"`
	Tenant    string    `json:"tenant"`
	URL       string    `json:"url"`
	Secret    string    `json:"secret,omitempty"`
	Events    []string  `json:"events"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

// Delivery records the outcome of sending one event to one endpoint.
type Delivery struct {
	ID         string        `json:"id"`
	EndpointID string        `json:"endpoint_id"`
	EventType  string        `json:"event_type"`
	Attempts   int           `json:"attempts"`
	StatusCode int           `json:"status_code"`
	Status     string        `json:"status"`
	Error      string        `json:"error,omitempty"`
	Duration   time.Duration `json:"duration_ns"`
	CreatedAt  time.Time     `json:"created_at"`
}

// Payload is the signed request body.
type Payload struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Tenant    string          `json:"tenant"`
	Topic     string          `json:"topic,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// Store persists endpoints and the delivery log.
type Store interface {
	CreateEndpoint(ctx context.Context, ep *Endpoint) error
	GetEndpoint(ctx context.Context, tenant, id string) (*Endpoint, error)
	ListEndpoints(ctx context.Context, tenant string) ([]*Endpoint, error)
	UpdateEndpoint(ctx context.Context, ep *Endpoint) error
	DeleteEndpoint(ctx context.Context, tenant, id string) error
	RecordDelivery(ctx context.Context, d *Delivery) error
	ListDeliveries(ctx context.Context, endpointID string, limit int) ([]*Delivery, error)
}

// MemoryStore is a Store kept in process memory. Endpoints are listed in
// registration order and deliveries newest first.
type MemoryStore struct {
	mu         sync.RWMutex
	endpoints  map[string]*Endpoint
	order      []string
	deliveries map[string][]*Delivery
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		endpoints:  make(map[string]*Endpoint),
		deliveries: make(map[string][]*Delivery),
	}
}

func (s *MemoryStore) CreateEndpoint(_ context.Context, ep *Endpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.endpoints[ep.ID] = ep
	s.order = append(s.order, ep.ID)
	return nil
}

func (s *MemoryStore) GetEndpoint(_ context.Context, tenant, id string) (*Endpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ep, ok := s.endpoints[id]
	if !ok || ep.Tenant != tenant {
		return nil, ErrNotFound
	}
	cp := *ep
	return &cp, nil
}

func (s *MemoryStore) ListEndpoints(_ context.Context, tenant string) ([]*Endpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []*Endpoint{}
	for _, id := range s.order {
		if ep := s.endpoints[id]; ep.Tenant == tenant {
			cp := *ep
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *MemoryStore) UpdateEndpoint(_ context.Context, ep *Endpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.endpoints[ep.ID]
	if !ok || existing.Tenant != ep.Tenant {
		return ErrNotFound
	}
	cp := *ep
	s.endpoints[ep.ID] = &cp
	return nil
}

func (s *MemoryStore) DeleteEndpoint(_ context.Context, tenant, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ep, ok := s.endpoints[id]
	if !ok || ep.Tenant != tenant {
		return ErrNotFound
	}
	delete(s.endpoints, id)
	delete(s.deliveries, id)
	for i, eid := range s.order {
		if eid == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return nil
}

func (s *MemoryStore) RecordDelivery(_ context.Context, d *Delivery) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deliveries[d.EndpointID] = append(s.deliveries[d.EndpointID], d)
	return nil
}

func (s *MemoryStore) ListDeliveries(_ context.Context, endpointID string, limit int) ([]*Delivery, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	all := s.deliveries[endpointID]
	out := make([]*Delivery, 0, len(all))
	for i := len(all) - 1; i >= 0; i-- {
		if limit > 0 && len(out) >= limit {
			break
		}
		out = append(out, all[i])
	}
	return out, nil
}

// Sign returns the hex HMAC-SHA256 of payload under secret.
func Sign(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify checks a signature header value of the form "sha256=<hex>".
func Verify(payload []byte, secret, header string) bool {
	sig := strings.TrimPrefix(header, "sha256=")
	return hmac.Equal([]byte(Sign(payload, secret)), []byte(sig))
}

func generateSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

func validateURL(raw string) error {
	if raw == "" {
		return fmt.Errorf("url is required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid url: %w", err)
	}
	if s := strings.ToLower(u.Scheme); s != "http" && s != "https" {
		return fmt.Errorf("url scheme must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("url host is required")
	}
	return nil
}

func matches(pattern, eventType string) bool {
	switch {
	case pattern == "*", pattern == eventType:
		return true
	case strings.HasSuffix(pattern, ".*"):
		return strings.HasPrefix(eventType, strings.TrimSuffix(pattern, "*"))
	}
	return false
}

func (ep *Endpoint) subscribes(eventType string) bool {
	for _, p := range ep.Events {
		if matches(p, eventType) {
			return true
		}
	}
	return false
}

// Options tunes a Dispatcher.
type Options struct {
	QueueSize   int
	MaxAttempts int
	Backoff     time.Duration // multiplied by the attempt number
	Client      *http.Client
}

func DefaultOptions() Options {
	return Options{
		QueueSize:   256,
		MaxAttempts: 3,
		Backoff:     time.Second,
		Client:      &http.Client{Timeout: 10 * time.Second},
	}
}

// Dispatcher queues events and delivers them to subscribed endpoints from
// Run. It satisfies live.Publisher so it can sit next to the live hub.
type Dispatcher struct {
	store  Store
	opts   Options
	queue  chan live.Event
	logger zerolog.Logger
}

func NewDispatcher(store Store, opts Options, logger zerolog.Logger) *Dispatcher {
	def := DefaultOptions()
	if opts.QueueSize <= 0 {
		opts.QueueSize = def.QueueSize
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = def.MaxAttempts
	}
	if opts.Client == nil {
		opts.Client = def.Client
	}
	return &Dispatcher{
		store:  store,
		opts:   opts,
		queue:  make(chan live.Event, opts.QueueSize),
		logger: logger.With().Str("component", "webhook").Logger(),
	}
}

// Register validates and stores a new endpoint for tenant. A secret is
// generated when none is given.
func (d *Dispatcher) Register(ctx context.Context, tenant, rawURL, secret string, events []string) (*Endpoint, error) {
	if err := validateURL(rawURL); err != nil {
		return nil, err
	}
	if len(events) == 0 {
		events = []string{live.EventAttemptCompleted}
	}
	if secret == "" {
		s, err := generateSecret()
		if err != nil {
			return nil, fmt.Errorf("generate secret: %w", err)
		}
		secret = s
	}
	ep := &Endpoint{
		ID:        uuid.New().String(),
		Tenant:    tenant,
		URL:       rawURL,
		Secret:    secret,
		Events:    events,
		Status:    StatusActive,
		CreatedAt: time.Now().UTC(),
	}
	if err := d.store.CreateEndpoint(ctx, ep); err != nil {
		return nil, err
	}
	return ep, nil
}

// SetStatus pauses or resumes an endpoint.
func (d *Dispatcher) SetStatus(ctx context.Context, tenant, id, status string) (*Endpoint, error) {
	if status != StatusActive && status != StatusPaused {
		return nil, fmt.Errorf("status must be %q or %q", StatusActive, StatusPaused)
	}
	ep, err := d.store.GetEndpoint(ctx, tenant, id)
	if err != nil {
		return nil, err
	}
	ep.Status = status
	if err := d.store.UpdateEndpoint(ctx, ep); err != nil {
		return nil, err
	}
	return ep, nil
}

// Publish queues event for delivery. It never blocks; a full queue drops
// the event.
func (d *Dispatcher) Publish(_ context.Context, event live.Event) error {
	select {
	case d.queue <- event:
		return nil
	default:
		d.logger.Warn().Str("type", event.Type).Str("tenant", event.Tenant).Msg("webhook queue full, event dropped")
		return ErrQueueFull
	}
}

// Run delivers queued events until ctx is done.
func (d *Dispatcher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case event := <-d.queue:
			d.Dispatch(ctx, event)
		}
	}
}

// Dispatch delivers event to every active endpoint of its tenant that
// subscribes to its type.
func (d *Dispatcher) Dispatch(ctx context.Context, event live.Event) []*Delivery {
	endpoints, err := d.store.ListEndpoints(ctx, event.Tenant)
	if err != nil {
		d.logger.Error().Err(err).Msg("list webhook endpoints")
		return nil
	}
	var out []*Delivery
	for _, ep := range endpoints {
		if ep.Status != StatusActive || !ep.subscribes(event.Type) {
			continue
		}
		out = append(out, d.deliver(ctx, ep, event))
	}
	return out
}

// Test sends a synthetic event to one endpoint, regardless of its status
// and subscriptions.
func (d *Dispatcher) Test(ctx context.Context, tenant, id string) (*Delivery, error) {
	ep, err := d.store.GetEndpoint(ctx, tenant, id)
	if err != nil {
		return nil, err
	}
	return d.deliver(ctx, ep, live.Event{
		Type:      EventTypeTest,
		Tenant:    tenant,
		Timestamp: time.Now().UTC(),
		Data:      json.RawMessage(`{"test":true}`),
	}), nil
}

func (d *Dispatcher) deliver(ctx context.Context, ep *Endpoint, event live.Event) *Delivery {
	ts := event.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	body, _ := json.Marshal(Payload{
		ID:        uuid.New().String(),
		Type:      event.Type,
		Tenant:    event.Tenant,
		Topic:     event.Topic,
		Timestamp: ts,
		Data:      event.Data,
	})
	sig := "sha256=" + Sign(body, ep.Secret)

	delivery := &Delivery{
		ID:         uuid.New().String(),
		EndpointID: ep.ID,
		EventType:  event.Type,
		CreatedAt:  time.Now().UTC(),
	}
	start := time.Now()
	for attempt := 1; attempt <= d.opts.MaxAttempts; attempt++ {
		delivery.Attempts = attempt
		code, err := d.post(ctx, ep.URL, body, sig)
		delivery.StatusCode = code
		if err == nil {
			delivery.Status = DeliverySuccess
			delivery.Error = ""
			break
		}
		delivery.Status = DeliveryFailed
		delivery.Error = err.Error()
		if attempt == d.opts.MaxAttempts || ctx.Err() != nil {
			break
		}
		select {
		case <-ctx.Done():
		case <-time.After(d.opts.Backoff * time.Duration(attempt)):
		}
	}
	delivery.Duration = time.Since(start)

	if delivery.Status == DeliveryFailed {
		d.logger.Warn().
			Str("endpoint_id", ep.ID).
			Str("type", event.Type).
			Int("attempts", delivery.Attempts).
			Str("error", delivery.Error).
			Msg("webhook delivery failed")
	}
	if err := d.store.RecordDelivery(ctx, delivery); err != nil {
		d.logger.Error().Err(err).Msg("record webhook delivery")
	}
	return delivery
}

func (d *Dispatcher) post(ctx context.Context, target string, body []byte, sig string) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(SignatureHeader, sig)

	resp, err := d.opts.Client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1024))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp.StatusCode, fmt.Errorf("endpoint answered %d", resp.StatusCode)
	}
	return resp.StatusCode, nil
}
