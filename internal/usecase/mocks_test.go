package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/quietloop/shieldd/internal/domain"
)

// memState is an in-memory domain.SharedState. It stores the same
// serialized forms as the real store so tests can compare full state
// maps and inject corrupt blobs.
type memState struct {
	values map[string]string
	setErr error // when set, all writes fail (store unavailable)
	getErr error // when set, all reads fail
}

func newMemState() *memState {
	return &memState{values: make(map[string]string)}
}

func (m *memState) snapshot() map[string]string {
	out := make(map[string]string, len(m.values))
	for k, v := range m.values {
		out[k] = v
	}
	return out
}

func (m *memState) get(key string) (string, bool, error) {
	if m.getErr != nil {
		return "", false, m.getErr
	}
	v, ok := m.values[key]
	return v, ok, nil
}

func (m *memState) set(key, value string) error {
	if m.setErr != nil {
		return m.setErr
	}
	m.values[key] = value
	return nil
}

func (m *memState) GetString(key string) (string, bool, error) { return m.get(key) }
func (m *memState) SetString(key, value string) error          { return m.set(key, value) }

func (m *memState) GetInt(key string) (int, bool, error) {
	raw, ok, err := m.get(key)
	if err != nil || !ok {
		return 0, ok, err
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false, err
	}
	return v, true, nil
}

func (m *memState) SetInt(key string, value int) error {
	return m.set(key, strconv.Itoa(value))
}

func (m *memState) GetBool(key string) (bool, bool, error) {
	raw, ok, err := m.get(key)
	if err != nil || !ok {
		return false, ok, err
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, false, err
	}
	return v, true, nil
}

func (m *memState) SetBool(key string, value bool) error {
	return m.set(key, strconv.FormatBool(value))
}

func (m *memState) GetTime(key string) (time.Time, bool, error) {
	raw, ok, err := m.get(key)
	if err != nil || !ok {
		return time.Time{}, ok, err
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, false, err
	}
	return t, true, nil
}

func (m *memState) SetTime(key string, value time.Time) error {
	return m.set(key, value.Format(time.RFC3339Nano))
}

func (m *memState) GetTokenSet(key string) (domain.TokenSet, bool, error) {
	raw, ok, err := m.get(key)
	if err != nil || !ok {
		return nil, ok, err
	}
	var ts domain.TokenSet
	if err := json.Unmarshal([]byte(raw), &ts); err != nil {
		return nil, false, fmt.Errorf("key %s: %w: %v", key, domain.ErrBadTokenSet, err)
	}
	return ts, true, nil
}

func (m *memState) SetTokenSet(key string, value domain.TokenSet) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return m.set(key, string(data))
}

func (m *memState) Delete(key string) error {
	if m.setErr != nil {
		return m.setErr
	}
	delete(m.values, key)
	return nil
}

var _ domain.SharedState = (*memState)(nil)

// fakeShieldAPI records the last shielded sets.
type fakeShieldAPI struct {
	apps  domain.TokenSet
	cats  domain.TokenSet
	calls int
	err   error
}

func (f *fakeShieldAPI) SetShielded(appTokens, categoryTokens domain.TokenSet) error {
	if f.err != nil {
		return f.err
	}
	f.apps = appTokens
	f.cats = categoryTokens
	f.calls++
	return nil
}

var _ domain.ShieldAPI = (*fakeShieldAPI)(nil)

// fakeScheduler records registrations and can fail with the
// over-registration error until ClearAll is called.
type fakeScheduler struct {
	regs           map[string][]domain.ThresholdEvent
	failUntilClear bool
	registerErr    error
	clearCalls     int
	onRegister     func(activity string)
}

func newFakeScheduler() *fakeScheduler {
	return &fakeScheduler{regs: make(map[string][]domain.ThresholdEvent)}
}

func (f *fakeScheduler) Register(activity string, events []domain.ThresholdEvent) error {
	if f.onRegister != nil {
		f.onRegister(activity)
	}
	if f.failUntilClear {
		return fmt.Errorf("%w: cap reached", domain.ErrTooManyActivities)
	}
	if f.registerErr != nil {
		return f.registerErr
	}
	f.regs[activity] = events
	return nil
}

func (f *fakeScheduler) Unregister(activity string) error {
	delete(f.regs, activity)
	return nil
}

func (f *fakeScheduler) ClearAll() error {
	f.clearCalls++
	f.failUntilClear = false
	f.regs = make(map[string][]domain.ThresholdEvent)
	return nil
}

func (f *fakeScheduler) List() ([]domain.Registration, error) {
	var out []domain.Registration
	for activity, events := range f.regs {
		out = append(out, domain.Registration{Activity: activity, Events: events})
	}
	return out, nil
}

var _ domain.MonitorScheduler = (*fakeScheduler)(nil)

// fakeNotifier records emitted wake events.
type fakeNotifier struct {
	events []string
}

func (f *fakeNotifier) Notify(event string) {
	f.events = append(f.events, event)
}

var _ domain.Notifier = (*fakeNotifier)(nil)

// fakeLimitRepo serves a fixed limit list.
type fakeLimitRepo struct {
	limits  []domain.TimeLimit
	listErr error
}

func (f *fakeLimitRepo) Create(ctx context.Context, limit *domain.TimeLimit) error { return nil }
func (f *fakeLimitRepo) Update(ctx context.Context, limit *domain.TimeLimit) error { return nil }
func (f *fakeLimitRepo) Delete(ctx context.Context, id string) error               { return nil }

func (f *fakeLimitRepo) GetByID(ctx context.Context, id string) (*domain.TimeLimit, error) {
	for i := range f.limits {
		if f.limits[i].ID == id {
			return &f.limits[i], nil
		}
	}
	return nil, domain.ErrLimitNotFound
}

func (f *fakeLimitRepo) ListAll(ctx context.Context) ([]domain.TimeLimit, error) {
	return f.limits, f.listErr
}

func (f *fakeLimitRepo) ListActive(ctx context.Context) ([]domain.TimeLimit, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	var out []domain.TimeLimit
	for _, l := range f.limits {
		if l.IsActive {
			out = append(out, l)
		}
	}
	return out, nil
}

var _ domain.LimitRepository = (*fakeLimitRepo)(nil)
