package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/kursadbilgin/reminder-engine/internal/domain"
	"github.com/kursadbilgin/reminder-engine/internal/provider"
	"github.com/kursadbilgin/reminder-engine/internal/queue"
	"github.com/kursadbilgin/reminder-engine/internal/repository"
)

type fakeEventStore struct {
	mu     sync.Mutex
	events map[string]*domain.Event

	createFn                   func(ctx context.Context, e *domain.Event) error
	getByIdempotencyKeyFn      func(ctx context.Context, key string) (*domain.Event, error)
	updateConfirmationStatusFn func(ctx context.Context, id string, status domain.ConfirmationStatus) error
	updateRemindersStatusFn    func(ctx context.Context, id string, outcome domain.ScheduleOutcome) error
}

func newFakeEventStore(events ...*domain.Event) *fakeEventStore {
	store := &fakeEventStore{events: map[string]*domain.Event{}}
	for _, e := range events {
		store.events[e.ID] = e
	}
	return store
}

func (f *fakeEventStore) Create(ctx context.Context, e *domain.Event) error {
	if f.createFn != nil {
		if err := f.createFn(ctx, e); err != nil {
			return err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	copied := *e
	f.events[e.ID] = &copied
	return nil
}

func (f *fakeEventStore) GetByID(ctx context.Context, id string) (*domain.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.events[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	copied := *e
	return &copied, nil
}

func (f *fakeEventStore) GetByIdempotencyKey(ctx context.Context, key string) (*domain.Event, error) {
	if f.getByIdempotencyKeyFn != nil {
		return f.getByIdempotencyKeyFn(ctx, key)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, e := range f.events {
		if e.IdempotencyKey != nil && *e.IdempotencyKey == key {
			copied := *e
			return &copied, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (f *fakeEventStore) List(ctx context.Context, params repository.EventListParams) ([]domain.Event, int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Event
	for _, e := range f.events {
		if params.UserID != nil && (e.UserID == nil || *e.UserID != *params.UserID) {
			continue
		}
		out = append(out, *e)
	}
	return out, int64(len(out)), nil
}

func (f *fakeEventStore) UpdateConfirmationStatus(ctx context.Context, id string, status domain.ConfirmationStatus) error {
	if f.updateConfirmationStatusFn != nil {
		return f.updateConfirmationStatusFn(ctx, id, status)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.events[id]
	if !ok {
		return domain.ErrNotFound
	}
	e.NotificationStatus.ConfirmationEmail = status
	return nil
}

func (f *fakeEventStore) UpdateRemindersStatus(ctx context.Context, id string, outcome domain.ScheduleOutcome) error {
	if f.updateRemindersStatusFn != nil {
		return f.updateRemindersStatusFn(ctx, id, outcome)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.events[id]
	if !ok {
		return domain.ErrNotFound
	}
	e.NotificationStatus.Reminders = outcome
	return nil
}

func (f *fakeEventStore) remindersStatus(id string) domain.ScheduleOutcome {
	f.mu.Lock()
	defer f.mu.Unlock()
	if e, ok := f.events[id]; ok {
		return e.NotificationStatus.Reminders
	}
	return ""
}

type fakeUserStore struct {
	mu    sync.Mutex
	users map[string]*domain.User

	getByIDFn func(ctx context.Context, id string) (*domain.User, error)
}

func newFakeUserStore(users ...*domain.User) *fakeUserStore {
	store := &fakeUserStore{users: map[string]*domain.User{}}
	for _, u := range users {
		store.users[u.ID] = u
	}
	return store
}

func (f *fakeUserStore) Upsert(ctx context.Context, u *domain.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.users {
		if existing.Address() != "" && existing.Address() == u.Address() {
			existing.Name = u.Name
			existing.Timezone = u.Timezone
			*u = *existing
			return nil
		}
	}
	copied := *u
	f.users[u.ID] = &copied
	return nil
}

func (f *fakeUserStore) GetByID(ctx context.Context, id string) (*domain.User, error) {
	if f.getByIDFn != nil {
		return f.getByIDFn(ctx, id)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	copied := *u
	return &copied, nil
}

// fakeLedger keeps entries in memory and enforces the one-sent-entry rule.
type fakeLedger struct {
	mu      sync.Mutex
	entries []domain.NotificationLogEntry
}

func ledgerKey(eventID string, kind domain.NotificationKind, offset *int) string {
	o := -1
	if offset != nil {
		o = *offset
	}
	return fmt.Sprintf("%s|%s|%d", eventID, kind, o)
}

func (f *fakeLedger) HasSent(ctx context.Context, eventID string, kind domain.NotificationKind, offset *int) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := ledgerKey(eventID, kind, offset)
	for _, e := range f.entries {
		if e.Status == domain.LogStatusSent && ledgerKey(e.EventID, e.Kind, e.OffsetMinutes) == key {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeLedger) Record(ctx context.Context, entry *domain.NotificationLogEntry) error {
	if err := entry.Validate(); err != nil {
		return err
	}
	if entry.Status == domain.LogStatusSent {
		sent, _ := f.HasSent(ctx, entry.EventID, entry.Kind, entry.OffsetMinutes)
		if sent {
			return domain.ErrAlreadySent
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, *entry)
	return nil
}

func (f *fakeLedger) ListByEvent(ctx context.Context, eventID string) ([]domain.NotificationLogEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.NotificationLogEntry
	for _, e := range f.entries {
		if e.EventID == eventID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *fakeLedger) withStatus(status domain.LogStatus) []domain.NotificationLogEntry {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.NotificationLogEntry
	for _, e := range f.entries {
		if e.Status == status {
			out = append(out, e)
		}
	}
	return out
}

type fakeGateway struct {
	mu    sync.Mutex
	calls []provider.Message

	sendFn func(ctx context.Context, msg provider.Message) (*provider.DeliveryResult, error)
}

func (f *fakeGateway) Send(ctx context.Context, msg provider.Message) (*provider.DeliveryResult, error) {
	f.mu.Lock()
	f.calls = append(f.calls, msg)
	f.mu.Unlock()

	if f.sendFn != nil {
		return f.sendFn(ctx, msg)
	}
	return &provider.DeliveryResult{StatusCode: 200, ProviderMessageID: "msg-" + msg.IdempotencyKey}, nil
}

func (f *fakeGateway) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakeJobQueue struct {
	addFn            func(ctx context.Context, jobID string, payload domain.ReminderPayload, delay time.Duration) (bool, error)
	leaseFn          func(ctx context.Context) (*queue.Job, error)
	completeFn       func(ctx context.Context, job *queue.Job) error
	failFn           func(ctx context.Context, job *queue.Job, cause error) (queue.FailResult, error)
	requeueExpiredFn func(ctx context.Context, limit int) (queue.RequeueResult, error)
	countsFn         func(ctx context.Context) (queue.Counts, error)
}

func (f *fakeJobQueue) Add(ctx context.Context, jobID string, payload domain.ReminderPayload, delay time.Duration) (bool, error) {
	if f.addFn != nil {
		return f.addFn(ctx, jobID, payload, delay)
	}
	return true, nil
}

func (f *fakeJobQueue) Lease(ctx context.Context) (*queue.Job, error) {
	if f.leaseFn != nil {
		return f.leaseFn(ctx)
	}
	return nil, nil
}

func (f *fakeJobQueue) Complete(ctx context.Context, job *queue.Job) error {
	if f.completeFn != nil {
		return f.completeFn(ctx, job)
	}
	return nil
}

func (f *fakeJobQueue) Fail(ctx context.Context, job *queue.Job, cause error) (queue.FailResult, error) {
	if f.failFn != nil {
		return f.failFn(ctx, job, cause)
	}
	return queue.FailResult{}, nil
}

func (f *fakeJobQueue) RequeueExpired(ctx context.Context, limit int) (queue.RequeueResult, error) {
	if f.requeueExpiredFn != nil {
		return f.requeueExpiredFn(ctx, limit)
	}
	return queue.RequeueResult{}, nil
}

func (f *fakeJobQueue) Get(ctx context.Context, jobID string) (*queue.JobInfo, error) {
	return nil, domain.ErrNotFound
}

func (f *fakeJobQueue) Counts(ctx context.Context) (queue.Counts, error) {
	if f.countsFn != nil {
		return f.countsFn(ctx)
	}
	return queue.Counts{}, nil
}

type fakeAudit struct {
	mu      sync.Mutex
	entries []domain.AuditEntry
}

func (f *fakeAudit) Emit(ctx context.Context, entry domain.AuditEntry) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, entry)
}

func (f *fakeAudit) types() []domain.AuditType {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.AuditType, 0, len(f.entries))
	for _, e := range f.entries {
		out = append(out, e.Type)
	}
	return out
}

func (f *fakeAudit) last() domain.AuditEntry {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.entries) == 0 {
		return domain.AuditEntry{}
	}
	return f.entries[len(f.entries)-1]
}

func strPtr(v string) *string { return &v }

func boolPtr(v bool) *bool { return &v }

func newTestEvent(id string, start time.Time, offsets ...int) *domain.Event {
	userID := "user-" + id
	return &domain.Event{
		ID:           id,
		UserID:       &userID,
		Title:        "Design review",
		AttendeeName: "Ada",
		Start:        start,
		End:          start.Add(30 * time.Minute),
		Timezone:     "UTC",
		ReminderConfig: domain.ReminderConfig{
			Enabled:        true,
			OffsetsMinutes: offsets,
		},
		NotificationStatus: domain.NotificationStatus{
			ConfirmationEmail: domain.ConfirmationPending,
			Reminders:         domain.SchedulePending,
		},
	}
}

func newTestUser(eventID string, email string) *domain.User {
	u := &domain.User{ID: "user-" + eventID, Name: "Ada", Timezone: "UTC"}
	if email != "" {
		u.Email = &email
	}
	return u
}
