package reconcile

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Venomous0511/JeepEZ/shared/models"
)

type memTasks struct {
	mu    sync.Mutex
	byID  map[string]*Task
	byKey map[string]string
}

func newMemTasks() *memTasks {
	return &memTasks{byID: make(map[string]*Task), byKey: make(map[string]string)}
}

func (m *memTasks) CreateOrGet(_ context.Context, t *Task) (*Task, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := seenKey(t.Action, t.DeliveryID)
	if id, ok := m.byKey[key]; ok {
		cp := *m.byID[id]
		return &cp, false, nil
	}
	cp := *t
	m.byID[t.ID] = &cp
	m.byKey[key] = t.ID
	out := cp
	return &out, true, nil
}

func (m *memTasks) Get(_ context.Context, id string) (*Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.byID[id]
	if !ok {
		return nil, fmt.Errorf("task %w", ErrNotFound)
	}
	cp := *t
	return &cp, nil
}

func (m *memTasks) Transition(_ context.Context, cur, next *Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.byID[cur.ID]
	if !ok {
		return fmt.Errorf("task %w", ErrNotFound)
	}
	if t.State != cur.State || t.Attempts != cur.Attempts {
		return ErrStaleTask
	}
	cp := *next
	m.byID[cur.ID] = &cp
	return nil
}

func (m *memTasks) ListByState(_ context.Context, states []State, limit int) ([]Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Task
	for _, t := range m.byID {
		for _, s := range states {
			if t.State == s {
				out = append(out, *t)
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memTasks) ListByIdentity(_ context.Context, identity string) ([]Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Task
	for _, t := range m.byID {
		if t.Identity == identity {
			out = append(out, *t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *memTasks) put(t Task) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byID[t.ID] = &t
	m.byKey[seenKey(t.Action, t.DeliveryID)] = t.ID
}

func (m *memTasks) byDelivery(action Action, deliveryID string) (Task, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.byKey[seenKey(action, deliveryID)]
	if !ok {
		return Task{}, false
	}
	return *m.byID[id], true
}

type memAudit struct {
	mu      sync.Mutex
	records []AuditRecord
	err     error
}

func (m *memAudit) Record(_ context.Context, rec AuditRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	rec.ID = int64(len(m.records) + 1)
	m.records = append(m.records, rec)
	return nil
}

func (m *memAudit) ListByIdentity(_ context.Context, identity string) ([]AuditRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []AuditRecord
	for _, r := range m.records {
		if r.Identity == identity {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *memAudit) outcomes(identity string) []Outcome {
	recs, _ := m.ListByIdentity(context.Background(), identity)
	out := make([]Outcome, 0, len(recs))
	for _, r := range recs {
		out = append(out, r.Outcome)
	}
	return out
}

// mockCredentials holds a set of identities; DeleteFunc and IssueFunc, when
// set, run before the default behaviour and may short-circuit it with an error.
type mockCredentials struct {
	mu         sync.Mutex
	ids        map[string]bool
	calls      int
	issues     int
	DeleteFunc func(call int, identity string) error
	IssueFunc  func(ctx context.Context, call int, identity string) error
}

func newMockCredentials(ids ...string) *mockCredentials {
	m := &mockCredentials{ids: make(map[string]bool)}
	for _, id := range ids {
		m.ids[id] = true
	}
	return m
}

func (m *mockCredentials) DeleteByID(_ context.Context, identity string) (DeleteResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.DeleteFunc != nil {
		if err := m.DeleteFunc(m.calls, identity); err != nil {
			return 0, err
		}
	}
	if !m.ids[identity] {
		return NotFound, nil
	}
	delete(m.ids, identity)
	return Deleted, nil
}

func (m *mockCredentials) Issue(ctx context.Context, identity, _ string) error {
	m.mu.Lock()
	m.issues++
	call := m.issues
	hook := m.IssueFunc
	m.mu.Unlock()
	if hook != nil {
		if err := hook(ctx, call, identity); err != nil {
			return err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.ids[identity] = true
	return nil
}

func (m *mockCredentials) issueCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.issues
}

func (m *mockCredentials) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func (m *mockCredentials) has(identity string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ids[identity]
}

type memProfiles struct {
	mu     sync.Mutex
	users  map[string]*models.User
	writes int
	// BeforeUpdate runs under no lock before each conditional update.
	BeforeUpdate func(call int, id string) error
}

func newMemProfiles(users ...models.User) *memProfiles {
	m := &memProfiles{users: make(map[string]*models.User)}
	for i := range users {
		u := users[i]
		if u.PasswordVersion == 0 {
			u.PasswordVersion = 1
		}
		m.users[u.ID] = &u
	}
	return m
}

func (m *memProfiles) GetByID(_ context.Context, id string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, fmt.Errorf("user %w", ErrNotFound)
	}
	cp := *u
	return &cp, nil
}

func (m *memProfiles) GetByEmail(_ context.Context, email string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if strings.EqualFold(u.Email, email) {
			cp := *u
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("user %w", ErrNotFound)
}

func (m *memProfiles) UpdatePasswordHash(_ context.Context, id, hash string, expectedVersion int64) error {
	m.mu.Lock()
	m.writes++
	call := m.writes
	hook := m.BeforeUpdate
	m.mu.Unlock()
	if hook != nil {
		if err := hook(call, id); err != nil {
			return err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return fmt.Errorf("user %w", ErrNotFound)
	}
	if u.PasswordVersion != expectedVersion {
		return ErrVersionConflict
	}
	u.PasswordHash = hash
	u.PasswordVersion++
	return nil
}

func (m *memProfiles) user(id string) models.User {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.users[id]
}

func (m *memProfiles) add(u models.User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u.PasswordVersion == 0 {
		u.PasswordVersion = 1
	}
	m.users[u.ID] = &u
}

func (m *memProfiles) remove(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.users, id)
}

func (m *memProfiles) bumpVersion(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[id].PasswordVersion++
}

type publishedEvent struct {
	stream    string
	eventType string
	data      any
}

type mockPublisher struct {
	mu        sync.Mutex
	published []publishedEvent
	err       error
}

func (m *mockPublisher) Publish(_ context.Context, stream, eventType string, data any) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return "", m.err
	}
	m.published = append(m.published, publishedEvent{stream, eventType, data})
	return fmt.Sprintf("evt-%d", len(m.published)), nil
}

var errUnavailable = errors.New("credential store unavailable")

type fixture struct {
	svc         *Service
	tasks       *memTasks
	audit       *memAudit
	credentials *mockCredentials
	profiles    *memProfiles
	publisher   *mockPublisher
}

func testPolicy() Policy {
	return Policy{
		MaxAttempts: 5,
		BaseDelay:   time.Millisecond,
		MaxDelay:    5 * time.Millisecond,
		Workers:     2,
		QueueSize:   8,
		BcryptCost:  4,
	}
}

func newFixture(t *testing.T, creds *mockCredentials, profiles *memProfiles) *fixture {
	t.Helper()
	if creds == nil {
		creds = newMockCredentials()
	}
	if profiles == nil {
		profiles = newMemProfiles()
	}
	f := &fixture{
		tasks:       newMemTasks(),
		audit:       &memAudit{},
		credentials: creds,
		profiles:    profiles,
		publisher:   &mockPublisher{},
	}
	svc, err := New(Dependencies{
		Tasks:       f.tasks,
		Audit:       f.audit,
		Credentials: f.credentials,
		Profiles:    f.profiles,
		Publisher:   f.publisher,
		Logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
	}, testPolicy())
	require.NoError(t, err)
	f.svc = svc
	return f
}

func (f *fixture) start(t *testing.T) {
	t.Helper()
	require.NoError(t, f.svc.Start(context.Background()))
	t.Cleanup(f.svc.Stop)
}
