package core

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

type recordedOutcome struct {
	id      string
	claimID string
	outcome Outcome
}

// memoryEventStore mirrors the SQL store's claim and lease semantics in memory.
type memoryEventStore struct {
	mu         sync.Mutex
	events     map[string]*BotEvent
	sequence   int
	claims     int
	insertErrs map[string]error
	claimErr   error
	outcomeErr map[string]error
	releaseErr error
	outcomes   []recordedOutcome
	releases   []string
}

func newMemoryEventStore() *memoryEventStore {
	return &memoryEventStore{
		events:     map[string]*BotEvent{},
		insertErrs: map[string]error{},
		outcomeErr: map[string]error{},
	}
}

func (s *memoryEventStore) Insert(_ context.Context, event NewBotEvent) (string, error) {
	if err := event.Validate(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.insertErrs[event.BotID]; err != nil {
		return "", err
	}
	for _, existing := range s.events {
		if existing.SourceEventID == event.SourceEventID && existing.BotID == event.BotID {
			return existing.ID, nil
		}
	}
	s.sequence++
	id := fmt.Sprintf("evt-%03d", s.sequence)
	createdAt := event.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	}
	s.events[id] = &BotEvent{
		ID:             id,
		BotID:          event.BotID,
		ConversationID: event.ConversationID,
		SourceEventID:  event.SourceEventID,
		EventType:      event.EventType,
		Payload:        copyAnyMap(event.Payload),
		Status:         BotEventStatusPending,
		CreatedAt:      createdAt.Add(time.Duration(s.sequence) * time.Microsecond),
		UpdatedAt:      createdAt,
	}
	return id, nil
}

func (s *memoryEventStore) ClaimDue(_ context.Context, req ClaimRequest) ([]BotEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.claimErr != nil {
		return nil, s.claimErr
	}
	candidates := make([]*BotEvent, 0, len(s.events))
	for _, event := range s.events {
		if event.Status != BotEventStatusPending || event.Attempts >= req.MaxAttempts {
			continue
		}
		if event.NextEligibleAt != nil && event.NextEligibleAt.After(req.Now) {
			continue
		}
		if event.ClaimedUntil != nil && event.ClaimedUntil.After(req.Now) {
			continue
		}
		candidates = append(candidates, event)
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].CreatedAt.Equal(candidates[j].CreatedAt) {
			return candidates[i].ID < candidates[j].ID
		}
		return candidates[i].CreatedAt.Before(candidates[j].CreatedAt)
	})
	if len(candidates) > req.Limit {
		candidates = candidates[:req.Limit]
	}
	if len(candidates) == 0 {
		return nil, nil
	}
	s.claims++
	claimID := fmt.Sprintf("claim-%d", s.claims)
	until := req.Now.Add(req.Lease)
	out := make([]BotEvent, 0, len(candidates))
	for _, event := range candidates {
		event.ClaimID = claimID
		event.ClaimedUntil = &until
		out = append(out, *event)
	}
	return out, nil
}

func (s *memoryEventStore) RecordOutcome(_ context.Context, id string, claimID string, outcome Outcome) error {
	if err := outcome.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.outcomeErr[id]; err != nil {
		return err
	}
	s.outcomes = append(s.outcomes, recordedOutcome{id: id, claimID: claimID, outcome: outcome})
	event, ok := s.events[id]
	if !ok || event.Status != BotEventStatusPending || event.ClaimID != claimID {
		return nil
	}
	if outcome.Attempts > event.Attempts {
		attemptedAt := outcome.AttemptedAt
		event.LastAttemptAt = &attemptedAt
	}
	event.Status = outcome.Status()
	event.Attempts = outcome.Attempts
	event.ClaimID = ""
	event.ClaimedUntil = nil
	if outcome.Kind == OutcomeDelivered {
		deliveredAt := outcome.AttemptedAt
		event.DeliveredAt = &deliveredAt
		event.NextEligibleAt = nil
	} else {
		message := outcome.ErrorMessage
		event.ErrorMessage = &message
		event.NextEligibleAt = outcome.NextEligibleAt
	}
	if outcome.StatusCode > 0 {
		code := outcome.StatusCode
		event.LastStatusCode = &code
	}
	return nil
}

func (s *memoryEventStore) ReleaseClaim(_ context.Context, id string, claimID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.releaseErr != nil {
		return s.releaseErr
	}
	s.releases = append(s.releases, id)
	event, ok := s.events[id]
	if !ok || event.Status != BotEventStatusPending || event.ClaimID != claimID {
		return nil
	}
	event.ClaimID = ""
	event.ClaimedUntil = nil
	return nil
}

func (s *memoryEventStore) Get(_ context.Context, id string) (BotEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	event, ok := s.events[id]
	if !ok {
		return BotEvent{}, BotEventNotFound(id)
	}
	return *event, nil
}

func (s *memoryEventStore) List(_ context.Context, filter BotEventFilter) ([]BotEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []BotEvent{}
	for _, event := range s.events {
		if filter.BotID != "" && event.BotID != filter.BotID {
			continue
		}
		if filter.ConversationID != "" && event.ConversationID != filter.ConversationID {
			continue
		}
		if filter.Status != "" && event.Status != filter.Status {
			continue
		}
		if filter.Since != nil && !event.CreatedAt.After(*filter.Since) {
			continue
		}
		out = append(out, *event)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if filter.Offset >= len(out) {
		return []BotEvent{}, nil
	}
	out = out[filter.Offset:]
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (s *memoryEventStore) Requeue(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	event, ok := s.events[id]
	if !ok {
		return BotEventNotFound(id)
	}
	if event.Status != BotEventStatusFailed {
		return ErrNotRequeueable
	}
	event.Status = BotEventStatusPending
	event.Attempts = 0
	event.NextEligibleAt = nil
	return nil
}

func (s *memoryEventStore) event(id string) BotEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	if event, ok := s.events[id]; ok {
		return *event
	}
	return BotEvent{}
}

func (s *memoryEventStore) seed(botID string, count int) []string {
	ids := make([]string, 0, count)
	for i := 0; i < count; i++ {
		id, err := s.Insert(context.Background(), NewBotEvent{
			BotID:          botID,
			ConversationID: "conv-1",
			SourceEventID:  fmt.Sprintf("msg-%s-%d", botID, i),
			EventType:      EventTypeNewMessage,
			Payload:        map[string]any{"content": fmt.Sprintf("hello %d", i)},
		})
		if err != nil {
			panic(err)
		}
		ids = append(ids, id)
	}
	return ids
}

type stubDirectory struct {
	mu      sync.Mutex
	targets map[string]BotTarget
	errs    map[string]error
	calls   int
}

func newStubDirectory(botIDs ...string) *stubDirectory {
	directory := &stubDirectory{targets: map[string]BotTarget{}, errs: map[string]error{}}
	for _, botID := range botIDs {
		directory.targets[botID] = BotTarget{
			BotID:         botID,
			WebhookURL:    "https://bots.example/" + botID,
			WebhookSecret: "secret-" + botID,
		}
	}
	return directory
}

func (d *stubDirectory) Resolve(_ context.Context, botID string) (BotTarget, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	if err := d.errs[botID]; err != nil {
		return BotTarget{}, err
	}
	target, ok := d.targets[botID]
	if !ok {
		return BotTarget{}, BotNotFound(botID, nil)
	}
	return target, nil
}

// scriptedSender answers per bot with a fixed status; 2xx is success.
type scriptedSender struct {
	mu         sync.Mutex
	statuses   map[string]int
	errs       map[string]error
	deliveries []WebhookDelivery
	block      chan struct{}
	entered    chan struct{}
	clock      *fixedClock
	elapse     time.Duration
}

func newScriptedSender() *scriptedSender {
	return &scriptedSender{statuses: map[string]int{}, errs: map[string]error{}}
}

func (s *scriptedSender) Send(ctx context.Context, delivery WebhookDelivery) (WebhookResult, error) {
	s.mu.Lock()
	s.deliveries = append(s.deliveries, delivery)
	status, ok := s.statuses[delivery.Target.BotID]
	err := s.errs[delivery.Target.BotID]
	block := s.block
	entered := s.entered
	clock, elapse := s.clock, s.elapse
	s.mu.Unlock()

	if clock != nil {
		clock.Advance(elapse)
	}

	if entered != nil {
		select {
		case entered <- struct{}{}:
		default:
		}
	}
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return WebhookResult{}, ctx.Err()
		}
	}
	if err != nil {
		return WebhookResult{}, err
	}
	if !ok {
		status = 200
	}
	if status < 200 || status >= 300 {
		return WebhookResult{StatusCode: status}, RemoteRejected(status, fmt.Sprintf("webhook responded %d", status))
	}
	return WebhookResult{StatusCode: status}, nil
}

func (s *scriptedSender) callsFor(botID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, delivery := range s.deliveries {
		if delivery.Target.BotID == botID {
			count++
		}
	}
	return count
}

type stubMembership struct {
	members map[string][]string
	err     error
}

func (m stubMembership) BotMembers(_ context.Context, conversationID string) ([]string, error) {
	if m.err != nil {
		return nil, m.err
	}
	return append([]string(nil), m.members[conversationID]...), nil
}

type fixedClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFixedClock() *fixedClock {
	return &fixedClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fixedClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type stubLoggerProvider struct {
	logger Logger
}

func (s stubLoggerProvider) GetLogger(string) Logger {
	return s.logger
}

func newTestWorker(t interface{ Fatalf(string, ...any) }, store BotEventStore, directory BotDirectory, sender WebhookSender, policy RetryPolicy, clock *fixedClock) *DeliveryWorker {
	config := DefaultConfig().Delivery
	worker, err := NewDeliveryWorker(store, directory, sender, policy, config, nil, nil)
	if err != nil {
		t.Fatalf("new delivery worker: %v", err)
	}
	if clock != nil {
		worker.now = clock.Now
	}
	return worker
}
